// Package parsers decodes raw extraction payloads and system shipment
// exports into canonical models. All field-name aliasing and type
// coercion happens here, in one pass; downstream packages only ever see
// the canonical shapes.
package parsers

import (
	"encoding/json"
	"io"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"freight-reconciliation-service/internal/models"
	apperrors "freight-reconciliation-service/pkg/errors"
	"freight-reconciliation-service/pkg/logger"
)

// rawCharge is one charge line as extracted from an invoice document.
// OCR output is ragged, so amounts arrive as strings, numbers, or
// nothing at all.
type rawCharge struct {
	Code        string          `json:"code"`
	Type        string          `json:"type"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Currency    string          `json:"currency"`
	Amount      json.RawMessage `json:"amount"`
	Total       json.RawMessage `json:"total"`
}

// rawParty is an address block as extracted.
type rawParty struct {
	Name       string `json:"name"`
	Company    string `json:"company"`
	Street     string `json:"street"`
	Address1   string `json:"address1"`
	City       string `json:"city"`
	State      string `json:"state"`
	Province   string `json:"province"`
	PostalCode string `json:"postalCode"`
	Zip        string `json:"zip"`
	Country    string `json:"country"`
}

// rawInvoiceShipment is one shipment block from an extraction payload.
// The alias fields exist because different extraction templates emit
// different names for the same value.
type rawInvoiceShipment struct {
	ShipmentID     string          `json:"shipmentId"`
	OrderID        string          `json:"orderId"`
	Carrier        string          `json:"carrier"`
	CarrierName    string          `json:"carrierName"`
	Origin         rawParty        `json:"origin"`
	Shipper        rawParty        `json:"shipper"`
	Destination    rawParty        `json:"destination"`
	Consignee      rawParty        `json:"consignee"`
	Weight         json.RawMessage `json:"weight"`
	PackageCount   int             `json:"packageCount"`
	Pieces         int             `json:"pieces"`
	TotalAmount    json.RawMessage `json:"totalAmount"`
	InvoiceTotal   json.RawMessage `json:"invoiceTotal"`
	Currency       string          `json:"currency"`
	InvoiceDate    string          `json:"invoiceDate"`
	ShipDate       string          `json:"shipDate"`
	DeliveryDate   string          `json:"deliveryDate"`
	Charges        []rawCharge     `json:"charges"`
	CustomerRef    string          `json:"customerRef"`
	InvoiceRef     string          `json:"invoiceNumber"`
	ManifestRef    string          `json:"manifestNumber"`
	PORef          string          `json:"poNumber"`
	BOLRef         string          `json:"bolNumber"`
	TrackingRef    string          `json:"trackingNumber"`
	ProNumber      string          `json:"proNumber"`
	ReferenceNotes []string        `json:"references"`
}

// rawExtraction is the top-level extraction payload for one invoice
// document.
type rawExtraction struct {
	InvoiceNumber string               `json:"invoiceNumber"`
	Carrier       string               `json:"carrier"`
	Currency      string               `json:"currency"`
	ExtractedAt   string               `json:"extractedAt"`
	Shipments     []rawInvoiceShipment `json:"shipments"`
}

// ExtractionParser normalizes raw extraction payloads.
type ExtractionParser struct {
	log logger.Logger
	now func() time.Time
}

// NewExtractionParser creates a parser.
func NewExtractionParser() *ExtractionParser {
	return &ExtractionParser{
		log: logger.WithComponent("extraction_parser"),
		now: time.Now,
	}
}

// ParseFile reads and normalizes an extraction payload from disk.
func (p *ExtractionParser) ParseFile(path string) ([]*models.InvoiceShipment, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, apperrors.ExtractionError(apperrors.CodeInvalidPayload, path, err)
	}
	defer f.Close()
	return p.Parse(f)
}

// Parse normalizes an extraction payload. Shipments that fail
// normalization entirely are dropped with a warning; a payload with no
// usable shipments is an error.
func (p *ExtractionParser) Parse(r io.Reader) ([]*models.InvoiceShipment, error) {
	var raw rawExtraction
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, apperrors.ExtractionError(apperrors.CodeInvalidPayload, "decoding extraction payload", err)
	}

	extractedAt := p.parseDate(raw.ExtractedAt, "extractedAt")

	out := make([]*models.InvoiceShipment, 0, len(raw.Shipments))
	for i, rs := range raw.Shipments {
		inv := p.normalizeShipment(raw, rs, extractedAt)
		if err := inv.Validate(); err != nil {
			p.log.WithFields(logger.Fields{
				"shipment_index": i,
				"shipment_id":    inv.ShipmentID,
			}).WithError(err).Warn("dropping shipment that failed normalization")
			continue
		}
		out = append(out, inv)
	}

	if len(out) == 0 {
		return nil, apperrors.ExtractionError(apperrors.CodeExtractionMissing, "no usable shipments in payload", nil)
	}
	return out, nil
}

func (p *ExtractionParser) normalizeShipment(doc rawExtraction, rs rawInvoiceShipment, extractedAt time.Time) *models.InvoiceShipment {
	inv := &models.InvoiceShipment{
		ShipmentID:    firstNonEmpty(rs.ShipmentID, rs.OrderID),
		Carrier:       firstNonEmpty(rs.Carrier, rs.CarrierName, doc.Carrier),
		Origin:        normalizeParty(rs.Origin, rs.Shipper),
		Destination:   normalizeParty(rs.Destination, rs.Consignee),
		Weight:        p.parseFloat(rs.Weight),
		PackageCount:  maxInt(rs.PackageCount, rs.Pieces),
		Currency:      strings.ToUpper(firstNonEmpty(rs.Currency, doc.Currency, "CAD")),
		CustomerRef:   strings.TrimSpace(rs.CustomerRef),
		InvoiceRef:    firstNonEmpty(rs.InvoiceRef, doc.InvoiceNumber),
		ManifestRef:   strings.TrimSpace(rs.ManifestRef),
		PORef:         strings.TrimSpace(rs.PORef),
		BOLRef:        strings.TrimSpace(rs.BOLRef),
		TrackingRef:   firstNonEmpty(rs.TrackingRef, rs.ProNumber),
		ExtractedDate: extractedAt,
	}

	// Loose reference strings the templates could not place land in the
	// catch-all bag so matching still sees them.
	for _, ref := range rs.ReferenceNotes {
		if ref = strings.TrimSpace(ref); ref != "" {
			inv.ExtraRefs = append(inv.ExtraRefs, ref)
		}
	}
	if rs.ProNumber != "" && rs.TrackingRef != "" {
		inv.ExtraRefs = append(inv.ExtraRefs, strings.TrimSpace(rs.ProNumber))
	}

	inv.InvoiceDate = p.parseDate(rs.InvoiceDate, "invoiceDate")
	inv.ShipDate = p.parseDate(rs.ShipDate, "shipDate")
	inv.DeliveryDate = p.parseDate(rs.DeliveryDate, "deliveryDate")

	inv.TotalAmount = p.parseAmount(rs.TotalAmount)
	if inv.TotalAmount.IsZero() {
		inv.TotalAmount = p.parseAmount(rs.InvoiceTotal)
	}

	for _, rc := range rs.Charges {
		charge := models.InvoiceCharge{
			Code:     strings.TrimSpace(firstNonEmpty(rc.Code, rc.Type)),
			Name:     strings.TrimSpace(firstNonEmpty(rc.Name, rc.Description)),
			Currency: strings.ToUpper(firstNonEmpty(rc.Currency, inv.Currency)),
			Amount:   p.parseAmount(rc.Amount),
		}
		if charge.Name == "" && charge.Code == "" && charge.Amount.IsZero() {
			continue
		}
		if charge.Amount.IsZero() {
			charge.Amount = p.parseAmount(rc.Total)
		}
		inv.Charges = append(inv.Charges, charge)
	}

	// Shipments with a grand total but no line items still get one
	// synthetic freight line so reconciliation has something to align.
	if len(inv.Charges) == 0 && !inv.TotalAmount.IsZero() {
		inv.Charges = append(inv.Charges, models.InvoiceCharge{
			Code:     "FRT",
			Name:     "Freight",
			Currency: inv.Currency,
			Amount:   inv.TotalAmount,
		})
	}

	return inv
}

// parseDate parses a date string in any accepted shape. An unparseable
// non-empty value falls back to zero time with a warning; callers rely
// on the effective-date fallback chain instead of guessing here.
func (p *ExtractionParser) parseDate(s, field string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	if t, ok := models.ParseFlexibleTime(s); ok {
		return t
	}
	p.log.WithFields(logger.Fields{"field": field, "value": s}).Warn("unparseable date in extraction payload")
	return time.Time{}
}

// parseAmount coerces a JSON number or formatted money string.
func (p *ExtractionParser) parseAmount(raw json.RawMessage) decimal.Decimal {
	if len(raw) == 0 {
		return decimal.Zero
	}

	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		amount, err := models.ParseMoney(asString)
		if err != nil {
			p.log.WithField("value", asString).Warn("unparseable amount in extraction payload")
			return decimal.Zero
		}
		return amount
	}

	var asNumber float64
	if err := json.Unmarshal(raw, &asNumber); err == nil {
		return decimal.NewFromFloat(asNumber)
	}

	p.log.WithField("value", string(raw)).Warn("unparseable amount in extraction payload")
	return decimal.Zero
}

func (p *ExtractionParser) parseFloat(raw json.RawMessage) float64 {
	if len(raw) == 0 {
		return 0
	}
	var asNumber float64
	if err := json.Unmarshal(raw, &asNumber); err == nil {
		return asNumber
	}
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		if amount, err := models.ParseMoney(asString); err == nil {
			f, _ := amount.Float64()
			return f
		}
	}
	return 0
}

func normalizeParty(primary, fallback rawParty) models.Party {
	pick := primary
	if pick.Name == "" && pick.Company == "" && pick.City == "" {
		pick = fallback
	}
	return models.Party{
		Company: firstNonEmpty(pick.Company, pick.Name),
		Address: models.Address{
			Street:     firstNonEmpty(pick.Street, pick.Address1),
			City:       strings.TrimSpace(pick.City),
			State:      firstNonEmpty(pick.State, pick.Province),
			PostalCode: firstNonEmpty(pick.PostalCode, pick.Zip),
			Country:    strings.TrimSpace(pick.Country),
		},
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
