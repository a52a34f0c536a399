package reconciler

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"freight-reconciliation-service/internal/models"
)

func classifyOne(t *testing.T, row models.ComparisonRow, invoice []models.InvoiceCharge) models.ComparisonRow {
	t.Helper()
	c := NewApprovalClassifier(newTestConverter())
	rows := []models.ComparisonRow{row}
	c.Classify(context.Background(), rows, invoice, "CAD", testDate())
	return rows[0]
}

func TestClassifyFreightExactMatch(t *testing.T) {
	row := models.ComparisonRow{
		Code:             "FRT",
		Name:             "Freight",
		Currency:         "CAD",
		InvoiceAmount:    decimal.NewFromFloat(175.00),
		SystemActualCost: decimal.NewFromFloat(175.00),
		Matched:          true,
	}
	invoice := []models.InvoiceCharge{
		{Code: "FRT", Name: "Freight", Currency: "CAD", Amount: decimal.NewFromFloat(175.00)},
	}

	got := classifyOne(t, row, invoice)
	if got.Recommendation != models.RecommendApprove {
		t.Errorf("Expected approve, got %s (%s)", got.Recommendation, got.RecommendationReason)
	}
	if got.RecommendationConfidence != 100 {
		t.Errorf("Expected confidence 100, got %f", got.RecommendationConfidence)
	}
}

func TestClassifyFreightUsesCombinedFamilyTotal(t *testing.T) {
	// The carrier split base freight and fuel differently than the
	// quote did; individually the lines diverge, combined they agree.
	row := models.ComparisonRow{
		Code:             "FRT",
		Name:             "Freight",
		Currency:         "CAD",
		InvoiceAmount:    decimal.NewFromFloat(140.00),
		SystemActualCost: decimal.NewFromFloat(210.00),
		Matched:          true,
	}
	invoice := []models.InvoiceCharge{
		{Code: "FRT", Name: "Freight", Currency: "CAD", Amount: decimal.NewFromFloat(140.00)},
		{Code: "FSC", Name: "Fuel Surcharge", Currency: "CAD", Amount: decimal.NewFromFloat(70.00)},
		{Code: "", Name: "Liftgate", Currency: "CAD", Amount: decimal.NewFromFloat(45.00)},
	}

	got := classifyOne(t, row, invoice)
	if got.Recommendation != models.RecommendApprove {
		t.Errorf("Expected approve from combined freight total, got %s (%s)",
			got.Recommendation, got.RecommendationReason)
	}
}

func TestClassifyFreightTiers(t *testing.T) {
	tests := []struct {
		name       string
		systemCost float64
		want       models.Recommendation
	}{
		{"within approval band", 200.00, models.RecommendApprove}, // 10% under billed 220
		{"within review band", 180.00, models.RecommendReview},    // ~22%
		{"beyond review band", 150.00, models.RecommendReject},    // ~47%
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			row := models.ComparisonRow{
				Code:             "FRT",
				Name:             "Freight",
				Currency:         "CAD",
				InvoiceAmount:    decimal.NewFromFloat(220.00),
				SystemActualCost: decimal.NewFromFloat(tt.systemCost),
				Matched:          true,
			}
			invoice := []models.InvoiceCharge{
				{Code: "FRT", Name: "Freight", Currency: "CAD", Amount: decimal.NewFromFloat(220.00)},
			}

			got := classifyOne(t, row, invoice)
			if got.Recommendation != tt.want {
				t.Errorf("Expected %s, got %s (%s)", tt.want, got.Recommendation, got.RecommendationReason)
			}
			if got.RecommendationConfidence < 0 || got.RecommendationConfidence > 100 {
				t.Errorf("Confidence out of range: %f", got.RecommendationConfidence)
			}
		})
	}
}

func TestClassifyNonFreightTiers(t *testing.T) {
	tests := []struct {
		name          string
		invoiceAmount float64
		want          models.Recommendation
	}{
		{"exact", 50.00, models.RecommendApprove},
		{"small variance", 52.50, models.RecommendReview},  // 5%
		{"large variance", 75.00, models.RecommendReject},  // 50%
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			row := models.ComparisonRow{
				Code:             "DET",
				Name:             "Detention",
				Currency:         "CAD",
				InvoiceAmount:    decimal.NewFromFloat(tt.invoiceAmount),
				SystemActualCost: decimal.NewFromFloat(50.00),
				Matched:          true,
			}
			got := classifyOne(t, row, nil)
			if got.Recommendation != tt.want {
				t.Errorf("Expected %s, got %s (%s)", tt.want, got.Recommendation, got.RecommendationReason)
			}
		})
	}
}

func TestClassifyUnmatchedRow(t *testing.T) {
	row := models.ComparisonRow{
		Code:          "ACC",
		Name:          "Liftgate",
		Currency:      "CAD",
		InvoiceAmount: decimal.NewFromFloat(45.00),
		Matched:       false,
	}

	got := classifyOne(t, row, nil)
	if got.Recommendation != models.RecommendReview {
		t.Errorf("Unmatched rows always need review, got %s", got.Recommendation)
	}
	if got.RecommendationConfidence != 0 {
		t.Errorf("Unmatched rows carry zero confidence, got %f", got.RecommendationConfidence)
	}
}

func TestClassifyZeroSystemCost(t *testing.T) {
	row := models.ComparisonRow{
		Code:             "DET",
		Name:             "Detention",
		Currency:         "CAD",
		InvoiceAmount:    decimal.NewFromFloat(25.00),
		SystemActualCost: decimal.Zero,
		Matched:          true,
	}

	got := classifyOne(t, row, nil)
	if got.Recommendation != models.RecommendReject {
		t.Errorf("A billed charge with no system cost should reject, got %s", got.Recommendation)
	}
	if got.RecommendationConfidence != 0 {
		t.Errorf("Expected floor confidence, got %f", got.RecommendationConfidence)
	}
}
