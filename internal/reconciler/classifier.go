package reconciler

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"freight-reconciliation-service/internal/currency"
	"freight-reconciliation-service/internal/models"
	"freight-reconciliation-service/pkg/logger"
)

// Variance thresholds, in percent, below which a row auto-approves or
// stays reviewable. Freight rows get wide bands because carriers split
// base freight and fuel differently from shipment to shipment;
// everything else is expected to bill close to the quoted figure.
const (
	freightApproveThreshold = 15.0
	freightReviewThreshold  = 25.0

	standardApproveThreshold = 2.0
	standardReviewThreshold  = 10.0
)

// ApprovalClassifier stamps each comparison row with an auto-approval
// recommendation, a confidence figure a human can sort by, and a
// one-line reason.
type ApprovalClassifier struct {
	converter *currency.Converter
	log       logger.Logger
}

// NewApprovalClassifier creates a classifier converting through the
// given converter.
func NewApprovalClassifier(converter *currency.Converter) *ApprovalClassifier {
	return &ApprovalClassifier{
		converter: converter,
		log:       logger.WithComponent("approval_classifier"),
	}
}

// Classify recommends a disposition for every row in place. The full
// invoice charge list is required because freight rows are judged
// against the invoice's combined freight-and-fuel total, not their own
// line amount.
func (c *ApprovalClassifier) Classify(ctx context.Context, rows []models.ComparisonRow, invoiceCharges []models.InvoiceCharge, invoiceCurrency string, effectiveDate time.Time) {
	freightTotal := c.freightFamilyTotal(ctx, invoiceCharges, invoiceCurrency, effectiveDate)

	for i := range rows {
		c.classifyRow(ctx, &rows[i], freightTotal, invoiceCurrency, effectiveDate)
	}
}

// freightFamilyTotal sums the invoice's freight and fuel lines in CAD.
func (c *ApprovalClassifier) freightFamilyTotal(ctx context.Context, charges []models.InvoiceCharge, invoiceCurrency string, effectiveDate time.Time) decimal.Decimal {
	total := decimal.Zero
	for _, ch := range charges {
		if !IsFreightFamily(ch.Code, ch.Name) {
			continue
		}
		cur := ch.Currency
		if cur == "" {
			cur = invoiceCurrency
		}
		total = total.Add(c.converter.ToCAD(ctx, ch.Amount, cur, effectiveDate))
	}
	return total
}

func (c *ApprovalClassifier) classifyRow(ctx context.Context, row *models.ComparisonRow, invoiceFreightTotal decimal.Decimal, invoiceCurrency string, effectiveDate time.Time) {
	if !row.Matched {
		row.Recommendation = models.RecommendReview
		row.RecommendationConfidence = 0
		row.RecommendationReason = "charge present on only one side, manual review required"
		return
	}

	systemCostCAD := c.converter.ToCAD(ctx, row.SystemActualCost, row.Currency, effectiveDate)

	freight := IsFreightFamily(row.Code, row.Name)

	// Invoice amounts are billed in the invoice's currency, not the
	// system charge's.
	invoiceSide := invoiceFreightTotal
	if !freight {
		invoiceSide = c.converter.ToCAD(ctx, row.InvoiceAmount, invoiceCurrency, effectiveDate)
	}

	variance := models.PercentDifference(invoiceSide, systemCostCAD)

	if freight {
		switch {
		case variance <= freightApproveThreshold:
			row.Recommendation = models.RecommendApprove
			row.RecommendationConfidence = models.ClampConfidence(100 - variance*4)
			row.RecommendationReason = fmt.Sprintf("combined freight within %.1f%% of system cost", variance)
		case variance <= freightReviewThreshold:
			row.Recommendation = models.RecommendReview
			row.RecommendationConfidence = models.ClampConfidence(100 - variance*2)
			row.RecommendationReason = fmt.Sprintf("combined freight differs from system cost by %.1f%%", variance)
		default:
			row.Recommendation = models.RecommendReject
			row.RecommendationConfidence = models.ClampConfidence(50 - variance)
			row.RecommendationReason = fmt.Sprintf("combined freight differs from system cost by %.1f%%", variance)
		}
		return
	}

	switch {
	case variance <= standardApproveThreshold:
		row.Recommendation = models.RecommendApprove
		row.RecommendationConfidence = models.ClampConfidence(100 - variance*8)
		row.RecommendationReason = fmt.Sprintf("billed amount within %.1f%% of system cost", variance)
	case variance <= standardReviewThreshold:
		row.Recommendation = models.RecommendReview
		row.RecommendationConfidence = models.ClampConfidence(100 - variance*4)
		row.RecommendationReason = fmt.Sprintf("billed amount differs from system cost by %.1f%%", variance)
	default:
		row.Recommendation = models.RecommendReject
		row.RecommendationConfidence = models.ClampConfidence(50 - variance)
		row.RecommendationReason = fmt.Sprintf("billed amount differs from system cost by %.1f%%", variance)
	}
}
