package parsers

import (
	"encoding/json"
	"io"
	"os"
	"strings"
	"time"

	"freight-reconciliation-service/internal/models"
	apperrors "freight-reconciliation-service/pkg/errors"
	"freight-reconciliation-service/pkg/logger"
)

// rawSystemCharge mirrors one cost line from a system export.
type rawSystemCharge struct {
	Code         string          `json:"code"`
	Name         string          `json:"name"`
	Currency     string          `json:"currency"`
	QuotedCost   json.RawMessage `json:"quotedCost"`
	QuotedCharge json.RawMessage `json:"quotedCharge"`
	ActualCost   json.RawMessage `json:"actualCost"`
	ActualCharge json.RawMessage `json:"actualCharge"`
}

// rawSystemShipment mirrors one shipment from a system export. Dates
// arrive as strings in whatever shape the exporting system produced.
type rawSystemShipment struct {
	ID              string            `json:"id"`
	Carrier         string            `json:"carrier"`
	CarrierDBAs     []string          `json:"carrierDbas"`
	Origin          rawParty          `json:"origin"`
	Destination     rawParty          `json:"destination"`
	Weight          json.RawMessage   `json:"weight"`
	PackageCount    int               `json:"packageCount"`
	CreatedAt       string            `json:"createdAt"`
	ShipDate        string            `json:"shipDate"`
	DeliveryDate    string            `json:"deliveryDate"`
	Currency        string            `json:"currency"`
	TotalAmount     json.RawMessage   `json:"totalAmount"`
	Charges         []rawSystemCharge `json:"charges"`
	Status          string            `json:"status"`
	PONumber        string            `json:"poNumber"`
	BOLNumber       string            `json:"bolNumber"`
	EDINumber       string            `json:"ediNumber"`
	OrderNumber     string            `json:"orderNumber"`
	WorkOrderNumber string            `json:"workOrderNumber"`
	QuoteNumber     string            `json:"quoteNumber"`
	ProNumber       string            `json:"proNumber"`
	SealNumber      string            `json:"sealNumber"`
	CustomerRef     string            `json:"customerRef"`
	ExtraRefs       []string          `json:"extraRefs"`
	Rates           []models.RateEntry `json:"rates"`
	ManualRates     []models.RateEntry `json:"manualRates"`
}

// ShipmentParser normalizes system shipment exports.
type ShipmentParser struct {
	log logger.Logger
	now func() time.Time
}

// NewShipmentParser creates a parser.
func NewShipmentParser() *ShipmentParser {
	return &ShipmentParser{
		log: logger.WithComponent("shipment_parser"),
		now: time.Now,
	}
}

// ParseFile reads and normalizes a shipment export from disk.
func (p *ShipmentParser) ParseFile(path string) ([]*models.SystemShipment, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, apperrors.RepositoryError(apperrors.CodeInvalidData, path, err)
	}
	defer f.Close()
	return p.Parse(f)
}

// Parse decodes a JSON array of system shipments. Records without an id
// are dropped with a warning.
func (p *ShipmentParser) Parse(r io.Reader) ([]*models.SystemShipment, error) {
	var raw []rawSystemShipment
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, apperrors.RepositoryError(apperrors.CodeInvalidData, "decoding shipment export", err)
	}

	amounts := NewExtractionParser()

	out := make([]*models.SystemShipment, 0, len(raw))
	for i, rs := range raw {
		if strings.TrimSpace(rs.ID) == "" {
			p.log.WithField("record_index", i).Warn("dropping shipment export record without an id")
			continue
		}

		s := &models.SystemShipment{
			ID:              strings.TrimSpace(rs.ID),
			Carrier:         strings.TrimSpace(rs.Carrier),
			CarrierDBAs:     rs.CarrierDBAs,
			Origin:          normalizeParty(rs.Origin, rawParty{}),
			Destination:     normalizeParty(rs.Destination, rawParty{}),
			Weight:          amounts.parseFloat(rs.Weight),
			PackageCount:    rs.PackageCount,
			CreatedAt:       models.ParseFlexibleTimeOr(rs.CreatedAt, p.now()),
			ShipDate:        models.ParseFlexibleTimeOr(rs.ShipDate, time.Time{}),
			DeliveryDate:    models.ParseFlexibleTimeOr(rs.DeliveryDate, time.Time{}),
			Currency:        strings.ToUpper(firstNonEmpty(rs.Currency, "CAD")),
			TotalAmount:     amounts.parseAmount(rs.TotalAmount),
			Status:          strings.ToLower(strings.TrimSpace(rs.Status)),
			PONumber:        strings.TrimSpace(rs.PONumber),
			BOLNumber:       strings.TrimSpace(rs.BOLNumber),
			EDINumber:       strings.TrimSpace(rs.EDINumber),
			OrderNumber:     strings.TrimSpace(rs.OrderNumber),
			WorkOrderNumber: strings.TrimSpace(rs.WorkOrderNumber),
			QuoteNumber:     strings.TrimSpace(rs.QuoteNumber),
			ProNumber:       strings.TrimSpace(rs.ProNumber),
			SealNumber:      strings.TrimSpace(rs.SealNumber),
			CustomerRef:     strings.TrimSpace(rs.CustomerRef),
			ExtraRefs:       rs.ExtraRefs,
			Rates:           rs.Rates,
			ManualRates:     rs.ManualRates,
		}

		for _, rc := range rs.Charges {
			s.Charges = append(s.Charges, models.SystemCharge{
				Code:         strings.TrimSpace(rc.Code),
				Name:         strings.TrimSpace(rc.Name),
				Currency:     strings.ToUpper(firstNonEmpty(rc.Currency, s.Currency)),
				QuotedCost:   amounts.parseAmount(rc.QuotedCost),
				QuotedCharge: amounts.parseAmount(rc.QuotedCharge),
				ActualCost:   amounts.parseAmount(rc.ActualCost),
				ActualCharge: amounts.parseAmount(rc.ActualCharge),
			})
		}

		out = append(out, s)
	}
	return out, nil
}
