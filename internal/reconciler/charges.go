// Package reconciler aligns extracted invoice charges against the
// system's record of the same shipment, classifies each aligned row for
// auto-approval, and drives the end-to-end processing pipeline.
package reconciler

import (
	"context"
	"math"
	"strings"
	"time"

	"freight-reconciliation-service/internal/currency"
	"freight-reconciliation-service/internal/models"
	"freight-reconciliation-service/internal/normalize"
	"freight-reconciliation-service/pkg/logger"
)

// Canonical charge codes assigned when an extracted charge arrives with
// no usable code of its own.
const (
	CodeFreight     = "FRT"
	CodeFuel        = "FSC"
	CodeTax         = "TAX"
	CodeAccessorial = "ACC"
	CodeCustoms     = "CUS"
	CodeInsurance   = "INS"
	CodeWeight      = "WGT"
	CodeDetention   = "DET"
)

// chargeFamily groups codes and descriptions that describe the same
// kind of charge even when carriers label them differently.
type chargeFamily struct {
	code     string
	keywords []string
	// alignWeight is the score contributed when two charges fall into
	// this family without sharing an exact code or name.
	alignWeight int
}

// Family order matters: the first family whose keyword appears wins, so
// more specific vocabularies sit above generic ones.
var chargeFamilies = []chargeFamily{
	{code: CodeTax, keywords: []string{"tax", "hst", "gst", "pst", "qst"}, alignWeight: 35},
	{code: CodeFuel, keywords: []string{"fuel", "fsc", "carburant"}, alignWeight: 32},
	{code: CodeCustoms, keywords: []string{"customs", "duty", "brokerage", "border"}, alignWeight: 30},
	{code: CodeInsurance, keywords: []string{"insurance", "declared value"}, alignWeight: 28},
	{code: CodeDetention, keywords: []string{"detention", "wait", "storage", "demurrage"}, alignWeight: 26},
	{code: CodeWeight, keywords: []string{"weight", "dimensional", "reweigh", "cubic"}, alignWeight: 25},
	{code: CodeAccessorial, keywords: []string{"accessorial", "liftgate", "residential", "appointment", "inside", "tailgate"}, alignWeight: 22},
	{code: CodeFreight, keywords: []string{"freight", "linehaul", "base", "transport"}, alignWeight: 30},
}

// ClassifyChargeCode resolves a canonical charge code from whatever the
// extraction produced. A recognizable existing code is kept; otherwise
// the description keywords decide, and anything unrecognized defaults
// to base freight.
func ClassifyChargeCode(code, name string) string {
	if canonical := familyForCharge(code, name); canonical != "" {
		return canonical
	}
	if trimmed := strings.ToUpper(strings.TrimSpace(code)); trimmed != "" {
		return trimmed
	}
	return CodeFreight
}

// familyForCharge returns the family code matched by either the code or
// the description, or "" when neither matches a known vocabulary.
func familyForCharge(code, name string) string {
	haystack := strings.ToLower(strings.TrimSpace(code) + " " + strings.TrimSpace(name))
	if strings.TrimSpace(haystack) == "" {
		return ""
	}
	for _, fam := range chargeFamilies {
		if strings.EqualFold(strings.TrimSpace(code), fam.code) {
			return fam.code
		}
		for _, kw := range fam.keywords {
			if strings.Contains(haystack, kw) {
				return fam.code
			}
		}
	}
	return ""
}

// IsTaxCharge reports whether a charge is a sales-tax line. Taxes are
// excluded from comparison symmetrically on both sides.
func IsTaxCharge(code, name string) bool {
	return familyForCharge(code, name) == CodeTax
}

// IsFreightFamily reports whether a charge belongs to the base-freight
// or fuel family, the pair that carriers routinely split differently
// than the quoting system does.
func IsFreightFamily(code, name string) bool {
	fam := familyForCharge(code, name)
	return fam == CodeFreight || fam == CodeFuel
}

// ChargeReconciler pairs invoice charges with system charges and
// produces the comparison rows everything downstream operates on.
type ChargeReconciler struct {
	converter *currency.Converter
	log       logger.Logger
}

// NewChargeReconciler creates a reconciler that converts amounts
// through the given converter when computing profit.
func NewChargeReconciler(converter *currency.Converter) *ChargeReconciler {
	return &ChargeReconciler{
		converter: converter,
		log:       logger.WithComponent("charge_reconciler"),
	}
}

// alignThreshold is the minimum pairing score for two charges to be
// considered the same line.
const alignThreshold = 10

// Reconcile aligns the shipment's system charges with the invoice's
// extracted charges. Row order is deterministic: system charges in
// their original order first (matched or not), then invoice-only
// charges in extraction order. Sales-tax lines are removed from both
// sides before pairing.
func (r *ChargeReconciler) Reconcile(ctx context.Context, system []models.SystemCharge, invoice []models.InvoiceCharge, invoiceCurrency string, effectiveDate time.Time) []models.ComparisonRow {
	sys := make([]models.SystemCharge, 0, len(system))
	for _, sc := range system {
		if IsTaxCharge(sc.Code, sc.Name) {
			continue
		}
		sys = append(sys, sc)
	}

	inv := make([]models.InvoiceCharge, 0, len(invoice))
	for _, ic := range invoice {
		if IsTaxCharge(ic.Code, ic.Name) {
			continue
		}
		inv = append(inv, ic)
	}

	used := make([]bool, len(inv))
	rows := make([]models.ComparisonRow, 0, len(sys)+len(inv))

	for _, sc := range sys {
		best, bestScore := -1, alignThreshold
		for j, ic := range inv {
			if used[j] {
				continue
			}
			if score := alignmentScore(sc, ic); score > bestScore {
				best, bestScore = j, score
			}
		}

		if best < 0 {
			rows = append(rows, r.systemOnlyRow(sc))
			continue
		}

		used[best] = true
		rows = append(rows, r.matchedRow(ctx, sc, inv[best], invoiceCurrency, effectiveDate))
	}

	for j, ic := range inv {
		if used[j] {
			continue
		}
		rows = append(rows, r.invoiceOnlyRow(ic, invoiceCurrency))
	}

	return rows
}

// alignmentScore rates how likely a system charge and an invoice charge
// describe the same billed line.
func alignmentScore(sc models.SystemCharge, ic models.InvoiceCharge) int {
	score := 0

	scCode := strings.ToUpper(strings.TrimSpace(sc.Code))
	icCode := strings.ToUpper(strings.TrimSpace(ic.Code))
	if scCode != "" && scCode == icCode {
		score += 50
	}

	scName := strings.TrimSpace(sc.Name)
	icName := strings.TrimSpace(ic.Name)
	if scName != "" && strings.EqualFold(scName, icName) {
		score += 40
	}

	if score > 0 {
		return score
	}

	sf := familyForCharge(sc.Code, sc.Name)
	if sf != "" && sf == familyForCharge(ic.Code, ic.Name) {
		for _, fam := range chargeFamilies {
			if fam.code == sf {
				return fam.alignWeight
			}
		}
	}

	if sim := normalize.Similarity(scName, icName); sim > 0.6 {
		return int(math.Floor(sim * 20))
	}
	return 0
}

func (r *ChargeReconciler) matchedRow(ctx context.Context, sc models.SystemCharge, ic models.InvoiceCharge, invoiceCurrency string, effectiveDate time.Time) models.ComparisonRow {
	icCurrency := ic.Currency
	if icCurrency == "" {
		icCurrency = invoiceCurrency
	}

	chargeCAD := r.converter.ToCAD(ctx, sc.ActualCharge, sc.Currency, effectiveDate)
	invoiceCAD := r.converter.ToCAD(ctx, ic.Amount, icCurrency, effectiveDate)

	return models.ComparisonRow{
		Code:               ClassifyChargeCode(sc.Code, sc.Name),
		Name:               sc.Name,
		Currency:           sc.Currency,
		InvoiceAmount:      ic.Amount,
		SystemQuotedCost:   sc.QuotedCost,
		SystemQuotedCharge: sc.QuotedCharge,
		SystemActualCost:   sc.ActualCost,
		SystemActualCharge: sc.ActualCharge,
		VarianceCost:       ic.Amount.Sub(sc.ActualCost),
		Profit:             chargeCAD.Sub(invoiceCAD),
		Matched:            true,
	}
}

func (r *ChargeReconciler) systemOnlyRow(sc models.SystemCharge) models.ComparisonRow {
	return models.ComparisonRow{
		Code:               ClassifyChargeCode(sc.Code, sc.Name),
		Name:               sc.Name,
		Currency:           sc.Currency,
		SystemQuotedCost:   sc.QuotedCost,
		SystemQuotedCharge: sc.QuotedCharge,
		SystemActualCost:   sc.ActualCost,
		SystemActualCharge: sc.ActualCharge,
		VarianceCost:       sc.ActualCost.Neg(),
		Matched:            false,
	}
}

func (r *ChargeReconciler) invoiceOnlyRow(ic models.InvoiceCharge, invoiceCurrency string) models.ComparisonRow {
	icCurrency := ic.Currency
	if icCurrency == "" {
		icCurrency = invoiceCurrency
	}
	return models.ComparisonRow{
		Code:          ClassifyChargeCode(ic.Code, ic.Name),
		Name:          ic.Name,
		Currency:      icCurrency,
		InvoiceAmount: ic.Amount,
		VarianceCost:  ic.Amount,
		Matched:       false,
	}
}
