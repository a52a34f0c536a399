package currency

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	apperrors "freight-reconciliation-service/pkg/errors"

	"github.com/shopspring/decimal"
)

// HTTPProviderConfig configures the HTTP rate provider.
type HTTPProviderConfig struct {
	// BaseURL of the rate service; GET {BaseURL}/rates?date=YYYY-MM-DD.
	BaseURL string `json:"base_url"`

	// Timeout bounds each rate lookup. Lookups past the deadline degrade
	// to the identity rate at the converter level.
	Timeout time.Duration `json:"timeout"`
}

// DefaultHTTPProviderConfig returns sensible defaults for the provider.
func DefaultHTTPProviderConfig() *HTTPProviderConfig {
	return &HTTPProviderConfig{
		Timeout: 5 * time.Second,
	}
}

// Validate checks the provider configuration.
func (c *HTTPProviderConfig) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("rate service base URL is required")
	}
	if _, err := url.Parse(c.BaseURL); err != nil {
		return fmt.Errorf("invalid rate service URL '%s': %w", c.BaseURL, err)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive: %s", c.Timeout)
	}
	return nil
}

// HTTPProvider fetches date-pinned rate tables from the rate service.
type HTTPProvider struct {
	config *HTTPProviderConfig
	client *http.Client
}

// NewHTTPProvider creates a provider from config.
func NewHTTPProvider(config *HTTPProviderConfig) (*HTTPProvider, error) {
	if config == nil {
		config = DefaultHTTPProviderConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, apperrors.ConfigurationError("rate_provider", config.BaseURL, err)
	}

	return &HTTPProvider{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
	}, nil
}

// rateResponse mirrors the rate service's wire format. Rates arrive as
// strings so decimal precision survives the trip.
type rateResponse struct {
	BaseCurrency string            `json:"baseCurrency"`
	Rates        map[string]string `json:"rates"`
	Timestamp    int64             `json:"timestamp"`
	Provider     string            `json:"provider"`
}

// GetRatesForDate fetches the rate table for a historical date. The
// request is cancellable through ctx and bounded by the configured
// timeout.
func (p *HTTPProvider) GetRatesForDate(ctx context.Context, date time.Time) (*RateTable, error) {
	endpoint := fmt.Sprintf("%s/rates?date=%s", p.config.BaseURL, date.Format("2006-01-02"))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, apperrors.NetworkError(apperrors.CodeConnectionFailed, endpoint, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, apperrors.NetworkError(apperrors.CodeTimeout, endpoint, err)
		}
		return nil, apperrors.NetworkError(apperrors.CodeConnectionFailed, endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apperrors.CurrencyError(apperrors.CodeRateLookupFailed,
			date.Format("2006-01-02"),
			fmt.Errorf("rate service returned status %d", resp.StatusCode))
	}

	var body rateResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, apperrors.CurrencyError(apperrors.CodeRateLookupFailed,
			date.Format("2006-01-02"), err)
	}

	// Lookups key on uppercase codes, so normalize whatever casing the
	// service emits.
	table := &RateTable{
		BaseCurrency: strings.ToUpper(strings.TrimSpace(body.BaseCurrency)),
		Rates:        make(map[string]decimal.Decimal, len(body.Rates)),
		Timestamp:    time.Unix(body.Timestamp, 0).UTC(),
		Provider:     body.Provider,
	}
	for code, raw := range body.Rates {
		rate, err := decimal.NewFromString(raw)
		if err != nil {
			continue // skip malformed entries rather than failing the table
		}
		table.Rates[strings.ToUpper(strings.TrimSpace(code))] = rate
	}

	return table, nil
}
