// Package currency converts monetary amounts between currency codes
// using a rate table pinned to a historical date. A failed rate lookup
// degrades to an identity rate with a logged warning; conversion never
// aborts a reconciliation run.
package currency

import (
	"context"
	"strings"
	"sync"
	"time"

	"freight-reconciliation-service/pkg/logger"

	"github.com/shopspring/decimal"
)

// RateTable holds the conversion multipliers for one historical date.
// Rates map a currency code to the number of units of that currency per
// one unit of the base currency.
type RateTable struct {
	BaseCurrency string                     `json:"baseCurrency"`
	Rates        map[string]decimal.Decimal `json:"rates"`
	Timestamp    time.Time                  `json:"timestamp"`
	Provider     string                     `json:"provider"`
}

// Rate returns the multiplier for a currency code. The base currency is
// always 1.
func (rt *RateTable) Rate(code string) (decimal.Decimal, bool) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == rt.BaseCurrency {
		return decimal.NewFromInt(1), true
	}
	rate, ok := rt.Rates[code]
	return rate, ok
}

// IdentityTable returns a rate table that converts every currency 1:1.
// Used as the degraded mode when the rate service is unavailable.
func IdentityTable() *RateTable {
	return &RateTable{
		BaseCurrency: "CAD",
		Rates:        map[string]decimal.Decimal{},
		Timestamp:    time.Now().UTC(),
		Provider:     "identity-fallback",
	}
}

func (rt *RateTable) isIdentity() bool {
	return rt.Provider == "identity-fallback"
}

// RateProvider supplies rate tables for historical dates.
type RateProvider interface {
	GetRatesForDate(ctx context.Context, date time.Time) (*RateTable, error)
}

// Converter converts amounts between currencies using date-pinned rate
// tables. Tables are cached per converter instance; a converter is
// scoped to one reconciliation batch and passed by the caller, never
// held as a process-wide singleton.
type Converter struct {
	provider RateProvider
	log      logger.Logger

	mu    sync.Mutex
	cache map[string]*RateTable // keyed by date (YYYY-MM-DD)
}

// NewConverter creates a batch-scoped converter over a rate provider.
func NewConverter(provider RateProvider) *Converter {
	return &Converter{
		provider: provider,
		log:      logger.WithComponent("currency_converter"),
		cache:    make(map[string]*RateTable),
	}
}

// Convert converts amount from one currency code to another using the
// rate table for the given date. When the two codes are equal the
// amount passes through untouched. A missing table or unknown code
// degrades to an identity conversion with a logged warning.
func (c *Converter) Convert(ctx context.Context, amount decimal.Decimal, from, to string, date time.Time) decimal.Decimal {
	from = strings.ToUpper(strings.TrimSpace(from))
	to = strings.ToUpper(strings.TrimSpace(to))
	if from == "" {
		from = to
	}
	if from == to || to == "" {
		return amount
	}

	table := c.tableForDate(ctx, date)

	fromRate, okFrom := table.Rate(from)
	toRate, okTo := table.Rate(to)
	if !okFrom || !okTo || fromRate.IsZero() {
		if !table.isIdentity() {
			c.log.WithFields(logger.Fields{
				"from": from,
				"to":   to,
				"date": date.Format("2006-01-02"),
			}).Warn("currency code missing from rate table, using identity rate")
		}
		return amount
	}

	// amount / fromRate = base units; base units * toRate = target.
	return amount.Div(fromRate).Mul(toRate)
}

// ToCAD converts an amount into CAD, the currency every classification
// comparison is made in.
func (c *Converter) ToCAD(ctx context.Context, amount decimal.Decimal, from string, date time.Time) decimal.Decimal {
	return c.Convert(ctx, amount, from, "CAD", date)
}

func (c *Converter) tableForDate(ctx context.Context, date time.Time) *RateTable {
	key := date.Format("2006-01-02")

	c.mu.Lock()
	if table, ok := c.cache[key]; ok {
		c.mu.Unlock()
		return table
	}
	c.mu.Unlock()

	table, err := c.provider.GetRatesForDate(ctx, date)
	if err != nil || table == nil {
		c.log.WithError(err).WithField("date", key).
			Warn("rate lookup failed, degrading to identity conversion")
		table = IdentityTable()
	}

	c.mu.Lock()
	c.cache[key] = table
	c.mu.Unlock()

	return table
}

// StaticProvider is a RateProvider backed by a fixed table, used in
// tests and for offline CLI runs.
type StaticProvider struct {
	Table *RateTable
}

// GetRatesForDate returns the fixed table regardless of date.
func (sp *StaticProvider) GetRatesForDate(ctx context.Context, date time.Time) (*RateTable, error) {
	return sp.Table, nil
}
