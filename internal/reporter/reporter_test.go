package reporter

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"freight-reconciliation-service/internal/models"
	"freight-reconciliation-service/internal/reconciler"
)

func sampleRunResult() *reconciler.RunResult {
	return &reconciler.RunResult{
		RunID:     "run-123",
		StartedAt: time.Date(2023, 6, 25, 8, 0, 0, 0, time.UTC),
		Duration:  3 * time.Second,
		Matched:   1,
		Unmatched: 0,
		Outcomes: []reconciler.ShipmentOutcome{
			{
				Invoice: &models.InvoiceShipment{ShipmentID: "ICAL-2306PC", Carrier: "Day & Ross"},
				Match: models.MatchResult{
					MatchedShipmentID: "ICAL-2306PC",
					Confidence:        100,
					Method:            "Exact Shipment ID Match",
					Matched:           true,
				},
				Rows: []models.ComparisonRow{
					{
						Code:                     "FRT",
						Name:                     "Freight",
						Currency:                 "CAD",
						InvoiceAmount:            decimal.NewFromFloat(175.00),
						SystemActualCost:         decimal.NewFromFloat(175.00),
						Matched:                  true,
						Recommendation:           models.RecommendApprove,
						RecommendationConfidence: 100,
					},
				},
			},
		},
	}
}

func TestGenerateConsoleReport(t *testing.T) {
	generator, err := NewReportGenerator(nil)
	if err != nil {
		t.Fatalf("NewReportGenerator failed: %v", err)
	}

	var buf bytes.Buffer
	if err := generator.GenerateReport(sampleRunResult(), &buf); err != nil {
		t.Fatalf("GenerateReport failed: %v", err)
	}

	out := buf.String()
	for _, want := range []string{"run-123", "ICAL-2306PC", "Exact Shipment ID Match", "FRT", "approve"} {
		if !strings.Contains(out, want) {
			t.Errorf("Console report missing %q:\n%s", want, out)
		}
	}
}

func TestGenerateJSONReport(t *testing.T) {
	config := DefaultReportConfig()
	config.Format = FormatJSON
	generator, err := NewReportGenerator(config)
	if err != nil {
		t.Fatalf("NewReportGenerator failed: %v", err)
	}

	var buf bytes.Buffer
	if err := generator.GenerateReport(sampleRunResult(), &buf); err != nil {
		t.Fatalf("GenerateReport failed: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("JSON output does not parse: %v", err)
	}
	if decoded["runId"] != "run-123" {
		t.Errorf("Expected runId in JSON output, got %v", decoded["runId"])
	}
}

func TestGenerateCSVReport(t *testing.T) {
	config := DefaultReportConfig()
	config.Format = FormatCSV
	generator, err := NewReportGenerator(config)
	if err != nil {
		t.Fatalf("NewReportGenerator failed: %v", err)
	}

	var buf bytes.Buffer
	if err := generator.GenerateReport(sampleRunResult(), &buf); err != nil {
		t.Fatalf("GenerateReport failed: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("Expected header plus one row, got %d lines", len(lines))
	}
	if !strings.HasPrefix(lines[0], "invoice_shipment,") {
		t.Errorf("Unexpected header: %s", lines[0])
	}
	if !strings.Contains(lines[1], "ICAL-2306PC") {
		t.Errorf("Row missing shipment id: %s", lines[1])
	}
}

func TestInvalidFormatRejected(t *testing.T) {
	config := DefaultReportConfig()
	config.Format = OutputFormat("xml")
	if _, err := NewReportGenerator(config); err == nil {
		t.Error("Expected invalid format to be rejected")
	}
}

func TestNilResultRejected(t *testing.T) {
	generator, _ := NewReportGenerator(nil)
	if err := generator.GenerateReport(nil, &bytes.Buffer{}); err == nil {
		t.Error("Expected nil result to be rejected")
	}
}
