package parsers

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

const samplePayload = `{
	"invoiceNumber": "INV-9001",
	"carrier": "Day & Ross",
	"currency": "CAD",
	"extractedAt": "2023-06-25T08:00:00Z",
	"shipments": [
		{
			"shipmentId": "ICAL-2306PC",
			"weight": "1,200",
			"pieces": 4,
			"invoiceTotal": "$482.50",
			"shipDate": "06/12/2023",
			"bolNumber": "BOL-55120",
			"references": ["WO165986 / PO 62042", "  "],
			"charges": [
				{"code": "FRT", "name": "Freight", "amount": "427.50"},
				{"description": "Fuel Surcharge", "amount": 55.00}
			]
		}
	]
}`

func TestParseExtraction(t *testing.T) {
	p := NewExtractionParser()

	shipments, err := p.Parse(strings.NewReader(samplePayload))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(shipments) != 1 {
		t.Fatalf("Expected 1 shipment, got %d", len(shipments))
	}

	inv := shipments[0]
	if inv.ShipmentID != "ICAL-2306PC" {
		t.Errorf("Expected shipment id, got %q", inv.ShipmentID)
	}
	if inv.Carrier != "Day & Ross" {
		t.Errorf("Expected document-level carrier fallback, got %q", inv.Carrier)
	}
	if inv.Currency != "CAD" {
		t.Errorf("Expected CAD, got %s", inv.Currency)
	}
	if inv.Weight != 1200 {
		t.Errorf("Expected weight 1200, got %f", inv.Weight)
	}
	if inv.PackageCount != 4 {
		t.Errorf("Expected 4 packages, got %d", inv.PackageCount)
	}
	if !inv.TotalAmount.Equal(decimal.NewFromFloat(482.50)) {
		t.Errorf("Expected total from invoiceTotal alias, got %s", inv.TotalAmount)
	}
	if inv.InvoiceRef != "INV-9001" {
		t.Errorf("Expected document invoice number, got %q", inv.InvoiceRef)
	}
	if inv.BOLRef != "BOL-55120" {
		t.Errorf("Expected BOL reference, got %q", inv.BOLRef)
	}

	wantShip := time.Date(2023, 6, 12, 0, 0, 0, 0, time.UTC)
	if !inv.ShipDate.Equal(wantShip) {
		t.Errorf("Expected slash-format ship date parsed, got %v", inv.ShipDate)
	}
	if inv.ExtractedDate.IsZero() {
		t.Error("Expected extraction timestamp")
	}

	if len(inv.ExtraRefs) != 1 {
		t.Fatalf("Expected one loose reference kept, got %v", inv.ExtraRefs)
	}

	if len(inv.Charges) != 2 {
		t.Fatalf("Expected 2 charges, got %d", len(inv.Charges))
	}
	if inv.Charges[0].Code != "FRT" || !inv.Charges[0].Amount.Equal(decimal.NewFromFloat(427.50)) {
		t.Errorf("Unexpected first charge: %+v", inv.Charges[0])
	}
	// Numeric amounts and description aliases both normalize.
	if inv.Charges[1].Name != "Fuel Surcharge" || !inv.Charges[1].Amount.Equal(decimal.NewFromFloat(55.00)) {
		t.Errorf("Unexpected second charge: %+v", inv.Charges[1])
	}
}

func TestParseExtractionSyntheticFreightLine(t *testing.T) {
	payload := `{
		"carrier": "Midland Transport",
		"currency": "CAD",
		"shipments": [
			{"shipmentId": "S-1", "totalAmount": "150.00"}
		]
	}`

	p := NewExtractionParser()
	shipments, err := p.Parse(strings.NewReader(payload))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	inv := shipments[0]
	if len(inv.Charges) != 1 {
		t.Fatalf("Expected a synthetic freight line, got %d charges", len(inv.Charges))
	}
	if inv.Charges[0].Code != "FRT" || !inv.Charges[0].Amount.Equal(decimal.NewFromFloat(150.00)) {
		t.Errorf("Unexpected synthetic charge: %+v", inv.Charges[0])
	}
}

func TestParseExtractionUnparseableDates(t *testing.T) {
	payload := `{
		"carrier": "Day & Ross",
		"shipments": [
			{"shipmentId": "S-1", "invoiceDate": "soonish", "charges": [{"code": "FRT", "amount": "10"}]}
		]
	}`

	p := NewExtractionParser()
	shipments, err := p.Parse(strings.NewReader(payload))
	if err != nil {
		t.Fatalf("Bad dates must not fail the shipment: %v", err)
	}
	if !shipments[0].InvoiceDate.IsZero() {
		t.Errorf("Unparseable date should stay zero, got %v", shipments[0].InvoiceDate)
	}
}

func TestParseExtractionDropsUnusableShipments(t *testing.T) {
	payload := `{
		"shipments": [
			{"weight": 100},
			{"shipmentId": "GOOD-1", "carrier": "Day & Ross", "charges": [{"code": "FRT", "amount": "10"}]}
		]
	}`

	p := NewExtractionParser()
	shipments, err := p.Parse(strings.NewReader(payload))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(shipments) != 1 || shipments[0].ShipmentID != "GOOD-1" {
		t.Errorf("Expected only the usable shipment, got %+v", shipments)
	}
}

func TestParseExtractionEmptyPayload(t *testing.T) {
	p := NewExtractionParser()

	if _, err := p.Parse(strings.NewReader(`{"shipments": []}`)); err == nil {
		t.Error("Expected an error for a payload without shipments")
	}
	if _, err := p.Parse(strings.NewReader(`not json`)); err == nil {
		t.Error("Expected an error for malformed JSON")
	}
}

func TestParseShipmentExport(t *testing.T) {
	export := `[
		{
			"id": "ICAL-2306PC",
			"carrier": "Day & Ross",
			"status": "Booked",
			"createdAt": "2023-06-10",
			"totalAmount": "482.50",
			"weight": 1200,
			"charges": [
				{"code": "FRT", "name": "Freight", "actualCost": "175.00", "actualCharge": "210.00"}
			],
			"rates": [{"proNumber": "PRO-884211"}]
		},
		{"carrier": "No ID Carrier"}
	]`

	p := NewShipmentParser()
	shipments, err := p.Parse(strings.NewReader(export))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(shipments) != 1 {
		t.Fatalf("Expected the record without an id dropped, got %d", len(shipments))
	}

	s := shipments[0]
	if s.Status != "booked" {
		t.Errorf("Expected lowercased status, got %q", s.Status)
	}
	if s.Currency != "CAD" {
		t.Errorf("Expected CAD default, got %s", s.Currency)
	}
	if len(s.Charges) != 1 || !s.Charges[0].ActualCost.Equal(decimal.NewFromFloat(175.00)) {
		t.Errorf("Unexpected charges: %+v", s.Charges)
	}
	if len(s.Rates) != 1 || s.Rates[0].ProNumber != "PRO-884211" {
		t.Errorf("Expected nested rate entries preserved, got %+v", s.Rates)
	}
	if !s.CreatedAt.Equal(time.Date(2023, 6, 10, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("Expected created date parsed, got %v", s.CreatedAt)
	}
}
