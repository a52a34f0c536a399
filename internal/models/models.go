package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ProcessingStatus represents the charge-application state of a shipment.
// The first three states are derived purely from ledger contents; the
// exception states are entered only through an explicit human override.
type ProcessingStatus string

const (
	StatusReadyToProcess         ProcessingStatus = "ready_to_process"
	StatusPartiallyProcessed     ProcessingStatus = "partially_processed"
	StatusProcessed              ProcessingStatus = "processed"
	StatusException              ProcessingStatus = "exception"
	StatusProcessedWithException ProcessingStatus = "processed_with_exception"
)

// String returns the string representation of ProcessingStatus
func (s ProcessingStatus) String() string {
	return string(s)
}

// IsValid checks if the processing status is a known value
func (s ProcessingStatus) IsValid() bool {
	switch s {
	case StatusReadyToProcess, StatusPartiallyProcessed, StatusProcessed,
		StatusException, StatusProcessedWithException:
		return true
	}
	return false
}

// Recommendation is the auto-approval tier assigned to a comparison row.
type Recommendation string

const (
	RecommendApprove Recommendation = "approve"
	RecommendReview  Recommendation = "review"
	RecommendReject  Recommendation = "reject"
)

// Address is a postal address attached to either side of a shipment.
type Address struct {
	Street     string `json:"street"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
}

// Party is a company plus its address on one end of a shipment.
type Party struct {
	Company string  `json:"company"`
	Address Address `json:"address"`
}

// InvoiceCharge is a single line item extracted from a carrier invoice.
type InvoiceCharge struct {
	Code     string          `json:"code"`
	Name     string          `json:"name"`
	Currency string          `json:"currency"`
	Amount   decimal.Decimal `json:"amount"`
}

// InvoiceShipment is one shipment-level record extracted from a carrier
// invoice. Instances are created once per extraction and are treated as
// immutable inputs by every downstream component.
type InvoiceShipment struct {
	ShipmentID   string          `json:"shipmentId"`
	Carrier      string          `json:"carrier"`
	Origin       Party           `json:"origin"`
	Destination  Party           `json:"destination"`
	Weight       float64         `json:"weight"`
	PackageCount int             `json:"packageCount"`
	TotalAmount  decimal.Decimal `json:"totalAmount"`
	Currency     string          `json:"currency"`
	InvoiceDate  time.Time       `json:"invoiceDate"`
	Charges      []InvoiceCharge `json:"charges"`

	// Reference strings lifted verbatim from the invoice document.
	CustomerRef string   `json:"customerRef"`
	InvoiceRef  string   `json:"invoiceRef"`
	ManifestRef string   `json:"manifestRef"`
	PORef       string   `json:"poRef"`
	BOLRef      string   `json:"bolRef"`
	TrackingRef string   `json:"trackingRef"`
	ExtraRefs   []string `json:"extraRefs"`

	// Dates used for the effective-date fallback chain.
	ShipDate      time.Time `json:"shipDate"`
	DeliveryDate  time.Time `json:"deliveryDate"`
	ExtractedDate time.Time `json:"extractedDate"`
}

// Validate performs basic validation on the InvoiceShipment
func (is *InvoiceShipment) Validate() error {
	if strings.TrimSpace(is.Carrier) == "" && strings.TrimSpace(is.ShipmentID) == "" {
		return fmt.Errorf("invoice shipment needs at least a carrier or a shipment id")
	}
	if is.TotalAmount.IsNegative() {
		return fmt.Errorf("invoice total cannot be negative: %s", is.TotalAmount.String())
	}
	return nil
}

// EffectiveDate returns the date currency conversions are pinned to,
// falling back through ship, delivery, invoice and extraction dates
// before finally settling on now.
func (is *InvoiceShipment) EffectiveDate(now time.Time) time.Time {
	for _, d := range []time.Time{is.ShipDate, is.DeliveryDate, is.InvoiceDate, is.ExtractedDate} {
		if !d.IsZero() {
			return d
		}
	}
	return now
}

// SystemCharge is the company's own cost/charge breakdown for one
// charge on a shipment. Cost is what is owed to the carrier, charge is
// what is billed to the customer.
type SystemCharge struct {
	Code         string          `json:"code"`
	Name         string          `json:"name"`
	Currency     string          `json:"currency"`
	QuotedCost   decimal.Decimal `json:"quotedCost"`
	QuotedCharge decimal.Decimal `json:"quotedCharge"`
	ActualCost   decimal.Decimal `json:"actualCost"`
	ActualCharge decimal.Decimal `json:"actualCharge"`
}

// RateEntry is one nested rate or manual-rate record on a system
// shipment. Its reference fields participate in identity matching.
type RateEntry struct {
	Carrier     string `json:"carrier"`
	QuoteNumber string `json:"quoteNumber"`
	ProNumber   string `json:"proNumber"`
	ServiceRef  string `json:"serviceRef"`
}

// SystemShipment is the company's authoritative record of a shipment.
type SystemShipment struct {
	ID           string          `json:"id"`
	Carrier      string          `json:"carrier"`
	CarrierDBAs  []string        `json:"carrierDbas"`
	Origin       Party           `json:"origin"`
	Destination  Party           `json:"destination"`
	Weight       float64         `json:"weight"`
	PackageCount int             `json:"packageCount"`
	CreatedAt    time.Time       `json:"createdAt"`
	ShipDate     time.Time       `json:"shipDate"`
	DeliveryDate time.Time       `json:"deliveryDate"`
	Currency     string          `json:"currency"`
	TotalAmount  decimal.Decimal `json:"totalAmount"`
	Charges      []SystemCharge  `json:"charges"`
	Status       string          `json:"status"`

	// Heterogeneous reference bag. Many of these are optional and empty
	// on most records.
	PONumber        string      `json:"poNumber"`
	BOLNumber       string      `json:"bolNumber"`
	EDINumber       string      `json:"ediNumber"`
	OrderNumber     string      `json:"orderNumber"`
	WorkOrderNumber string      `json:"workOrderNumber"`
	QuoteNumber     string      `json:"quoteNumber"`
	ProNumber       string      `json:"proNumber"`
	SealNumber      string      `json:"sealNumber"`
	CustomerRef     string      `json:"customerRef"`
	ExtraRefs       []string    `json:"extraRefs"`
	Rates           []RateEntry `json:"rates"`
	ManualRates     []RateEntry `json:"manualRates"`

	// Version is bumped by every ledger mutation and backs the
	// optimistic conflict check for concurrent writers.
	Version int64 `json:"version"`
}

// Validate performs basic validation on the SystemShipment
func (ss *SystemShipment) Validate() error {
	if strings.TrimSpace(ss.ID) == "" {
		return fmt.Errorf("system shipment id cannot be empty")
	}
	return nil
}

// MatchResult is the outcome of matching one invoice shipment against
// the candidate pool. Confidence is always within [0,100]; an empty
// MatchedShipmentID with Matched=false means no qualifying candidate.
type MatchResult struct {
	MatchedShipmentID string  `json:"matchedShipmentId"`
	Confidence        float64 `json:"confidence"`
	Method            string  `json:"method"`
	Matched           bool    `json:"matched"`
}

// ManualMatch builds the result of a human override. Manual selection
// always takes precedence over an engine result and is pinned at full
// confidence.
func ManualMatch(shipmentID string) MatchResult {
	return MatchResult{
		MatchedShipmentID: shipmentID,
		Confidence:        100,
		Method:            "Manual Match",
		Matched:           true,
	}
}

// NoMatch builds the result returned when no candidate qualifies.
func NoMatch() MatchResult {
	return MatchResult{Method: "No Match Found"}
}

// ComparisonRow is one aligned invoice/system charge pair produced by
// reconciliation. Rows are recomputed on demand; only the ledger records
// derived from them persist.
type ComparisonRow struct {
	Code               string          `json:"code"`
	Name               string          `json:"name"`
	Currency           string          `json:"currency"`
	InvoiceAmount      decimal.Decimal `json:"invoiceAmount"`
	SystemQuotedCost   decimal.Decimal `json:"systemQuotedCost"`
	SystemQuotedCharge decimal.Decimal `json:"systemQuotedCharge"`
	SystemActualCost   decimal.Decimal `json:"systemActualCost"`
	SystemActualCharge decimal.Decimal `json:"systemActualCharge"`
	VarianceCost       decimal.Decimal `json:"varianceCost"`
	Profit             decimal.Decimal `json:"profit"`
	Matched            bool            `json:"matched"`

	Recommendation           Recommendation `json:"autoApprovalRecommendation,omitempty"`
	RecommendationConfidence float64        `json:"autoApprovalConfidence"`
	RecommendationReason     string         `json:"autoApprovalReason,omitempty"`
}

// ChargeApplicationStatus is the lifecycle state of a ledger record.
type ChargeApplicationStatus string

const (
	ChargeApplied   ChargeApplicationStatus = "applied"
	ChargeUnapplied ChargeApplicationStatus = "unapplied"
)

// ChargeApplicationRecord is the persisted fact that a comparison row
// was applied to a shipment's bill. ChargeIndex is a stable index into
// the deterministic comparison row ordering for the shipment.
type ChargeApplicationRecord struct {
	ChargeIndex  int                     `json:"chargeIndex"`
	ChargeCode   string                  `json:"chargeCode"`
	ChargeName   string                  `json:"chargeName"`
	ActualCost   decimal.Decimal         `json:"actualCost"`
	ActualCharge decimal.Decimal         `json:"actualCharge"`
	Status       ChargeApplicationStatus `json:"status"`
	AppliedAt    time.Time               `json:"appliedAt"`
}

// Money is the wire representation of a monetary value at the system
// boundary.
type Money struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

// NewMoney builds a Money value, defaulting a blank currency to CAD.
func NewMoney(amount decimal.Decimal, currency string) Money {
	if strings.TrimSpace(currency) == "" {
		currency = "CAD"
	}
	return Money{Amount: amount, Currency: strings.ToUpper(strings.TrimSpace(currency))}
}

// ClampConfidence bounds a confidence value to [0,100].
func ClampConfidence(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// ParseMoney parses a decimal amount from a string, tolerating currency
// symbols and thousand separators.
func ParseMoney(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, fmt.Errorf("amount string cannot be empty")
	}

	s = strings.ReplaceAll(s, "$", "")
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSpace(s)

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid decimal format '%s': %w", s, err)
	}

	return d, nil
}

// PercentDifference returns |a-b| / |b| * 100. When the denominator is
// zero it returns 100, the convention used throughout classification.
func PercentDifference(a, b decimal.Decimal) float64 {
	if b.IsZero() {
		// Two zero amounts agree exactly; only a one-sided zero is a
		// full variance.
		if a.IsZero() {
			return 0
		}
		return 100
	}
	diff := a.Sub(b).Abs()
	pct, _ := diff.Div(b.Abs()).Mul(decimal.NewFromInt(100)).Float64()
	return pct
}
