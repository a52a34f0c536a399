package reconciler

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"freight-reconciliation-service/internal/currency"
	"freight-reconciliation-service/internal/models"
)

func newTestConverter() *currency.Converter {
	return currency.NewConverter(&currency.StaticProvider{Table: currency.IdentityTable()})
}

func testDate() time.Time {
	return time.Date(2023, 6, 15, 0, 0, 0, 0, time.UTC)
}

func TestClassifyChargeCode(t *testing.T) {
	tests := []struct {
		code string
		name string
		want string
	}{
		{"", "Fuel Surcharge", CodeFuel},
		{"FSC", "", CodeFuel},
		{"", "HST 15%", CodeTax},
		{"", "Linehaul", CodeFreight},
		{"", "Liftgate Service", CodeAccessorial},
		{"", "Customs Brokerage", CodeCustoms},
		{"", "Declared Value Insurance", CodeInsurance},
		{"", "Reweigh Adjustment", CodeWeight},
		{"", "Detention - 2 hours", CodeDetention},
		{"XYZ", "Mystery Line", "XYZ"},
		{"", "", CodeFreight},
		{"", "Something Unrecognizable", CodeFreight},
	}

	for _, tt := range tests {
		if got := ClassifyChargeCode(tt.code, tt.name); got != tt.want {
			t.Errorf("ClassifyChargeCode(%q, %q) = %q, want %q", tt.code, tt.name, got, tt.want)
		}
	}
}

func TestIsTaxCharge(t *testing.T) {
	if !IsTaxCharge("", "GST") {
		t.Error("Expected GST to be a tax charge")
	}
	if !IsTaxCharge("TAX", "") {
		t.Error("Expected TAX code to be a tax charge")
	}
	if IsTaxCharge("FRT", "Freight") {
		t.Error("Freight is not a tax charge")
	}
}

func TestReconcilePairsByCode(t *testing.T) {
	r := NewChargeReconciler(newTestConverter())

	system := []models.SystemCharge{
		{Code: "FRT", Name: "Freight", Currency: "CAD", ActualCost: decimal.NewFromFloat(175.00), ActualCharge: decimal.NewFromFloat(210.00)},
		{Code: "FSC", Name: "Fuel Surcharge", Currency: "CAD", ActualCost: decimal.NewFromFloat(35.00), ActualCharge: decimal.NewFromFloat(42.00)},
	}
	invoice := []models.InvoiceCharge{
		{Code: "FSC", Name: "Fuel", Currency: "CAD", Amount: decimal.NewFromFloat(36.10)},
		{Code: "FRT", Name: "Freight Charges", Currency: "CAD", Amount: decimal.NewFromFloat(175.00)},
	}

	rows := r.Reconcile(context.Background(), system, invoice, "CAD", testDate())
	if len(rows) != 2 {
		t.Fatalf("Expected 2 rows, got %d", len(rows))
	}

	// Rows follow system charge order regardless of invoice order.
	if rows[0].Code != "FRT" || rows[1].Code != "FSC" {
		t.Errorf("Expected system-driven ordering FRT, FSC; got %s, %s", rows[0].Code, rows[1].Code)
	}
	for i, row := range rows {
		if !row.Matched {
			t.Errorf("Row %d should be matched", i)
		}
	}

	if !rows[0].VarianceCost.Equal(decimal.NewFromFloat(0)) {
		t.Errorf("Expected zero freight variance, got %s", rows[0].VarianceCost)
	}
	wantVariance := decimal.NewFromFloat(1.10)
	if !rows[1].VarianceCost.Equal(wantVariance) {
		t.Errorf("Expected fuel variance %s, got %s", wantVariance, rows[1].VarianceCost)
	}

	// Profit is system actual charge minus billed amount.
	wantProfit := decimal.NewFromFloat(35.00)
	if !rows[0].Profit.Equal(wantProfit) {
		t.Errorf("Expected freight profit %s, got %s", wantProfit, rows[0].Profit)
	}
}

func TestReconcilePairsByFamily(t *testing.T) {
	r := NewChargeReconciler(newTestConverter())

	system := []models.SystemCharge{
		{Code: "400", Name: "Fuel Surcharge", Currency: "CAD", ActualCost: decimal.NewFromFloat(30.00)},
	}
	invoice := []models.InvoiceCharge{
		{Code: "", Name: "Carburant", Currency: "CAD", Amount: decimal.NewFromFloat(31.00)},
	}

	rows := r.Reconcile(context.Background(), system, invoice, "CAD", testDate())
	if len(rows) != 1 {
		t.Fatalf("Expected 1 row, got %d", len(rows))
	}
	if !rows[0].Matched {
		t.Error("Expected family keywords to pair the charges")
	}
}

func TestReconcileUnmatchedRows(t *testing.T) {
	r := NewChargeReconciler(newTestConverter())

	system := []models.SystemCharge{
		{Code: "FRT", Name: "Freight", Currency: "CAD", ActualCost: decimal.NewFromFloat(100.00)},
	}
	invoice := []models.InvoiceCharge{
		{Code: "FRT", Name: "Freight", Currency: "CAD", Amount: decimal.NewFromFloat(100.00)},
		{Code: "", Name: "Address Correction", Currency: "CAD", Amount: decimal.NewFromFloat(15.00)},
	}

	rows := r.Reconcile(context.Background(), system, invoice, "CAD", testDate())
	if len(rows) != 2 {
		t.Fatalf("Expected 2 rows, got %d", len(rows))
	}

	// Invoice-only rows come after all system-driven rows.
	extra := rows[1]
	if extra.Matched {
		t.Error("Invoice-only row must not be matched")
	}
	if !extra.VarianceCost.Equal(decimal.NewFromFloat(15.00)) {
		t.Errorf("Invoice-only variance should equal the billed amount, got %s", extra.VarianceCost)
	}

	// A system charge with no invoice counterpart is also surfaced.
	system = append(system, models.SystemCharge{Code: "DET", Name: "Detention", Currency: "CAD", ActualCost: decimal.NewFromFloat(50.00)})
	rows = r.Reconcile(context.Background(), system, invoice[:1], "CAD", testDate())
	if len(rows) != 2 {
		t.Fatalf("Expected 2 rows, got %d", len(rows))
	}
	if rows[1].Matched {
		t.Error("System-only row must not be matched")
	}
	if !rows[1].VarianceCost.Equal(decimal.NewFromFloat(-50.00)) {
		t.Errorf("System-only variance should be the negated cost, got %s", rows[1].VarianceCost)
	}
}

func TestReconcileRemovesTaxesSymmetrically(t *testing.T) {
	r := NewChargeReconciler(newTestConverter())

	system := []models.SystemCharge{
		{Code: "FRT", Name: "Freight", Currency: "CAD", ActualCost: decimal.NewFromFloat(100.00)},
		{Code: "TAX", Name: "HST", Currency: "CAD", ActualCost: decimal.NewFromFloat(15.00)},
	}
	invoice := []models.InvoiceCharge{
		{Code: "FRT", Name: "Freight", Currency: "CAD", Amount: decimal.NewFromFloat(100.00)},
		{Code: "", Name: "GST/HST", Currency: "CAD", Amount: decimal.NewFromFloat(15.00)},
	}

	rows := r.Reconcile(context.Background(), system, invoice, "CAD", testDate())
	if len(rows) != 1 {
		t.Fatalf("Expected tax lines removed from both sides, got %d rows", len(rows))
	}
	if rows[0].Code != "FRT" {
		t.Errorf("Expected the surviving row to be freight, got %s", rows[0].Code)
	}
}

func TestReconcileEmptyInputs(t *testing.T) {
	r := NewChargeReconciler(newTestConverter())

	rows := r.Reconcile(context.Background(), nil, nil, "CAD", testDate())
	if len(rows) != 0 {
		t.Errorf("Expected no rows for empty inputs, got %d", len(rows))
	}
}

func TestAlignmentScoreThreshold(t *testing.T) {
	sc := models.SystemCharge{Code: "A1", Name: "Completely Different"}
	ic := models.InvoiceCharge{Code: "B2", Name: "Unrelated Thing"}

	if score := alignmentScore(sc, ic); score > alignThreshold {
		t.Errorf("Dissimilar charges should not clear the threshold, got %d", score)
	}

	same := models.InvoiceCharge{Code: "A1", Name: "Completely Different"}
	if score := alignmentScore(sc, same); score != 90 {
		t.Errorf("Exact code and name should score 90, got %d", score)
	}
}
