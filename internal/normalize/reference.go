// Package normalize extracts and normalizes the identity tokens used to
// match carrier invoices against system shipments. Both record shapes
// carry references under many optional fields, some buried in nested
// rate entries or packed into composite strings like
// "WO165986 / PO 62042"; this package flattens all of them into one
// ordered token list per record.
package normalize

import (
	"strings"

	"freight-reconciliation-service/internal/models"
)

// minTokenLength is the shortest reference worth matching on. Anything
// shorter is too ambiguous to identify a shipment.
const minTokenLength = 3

var compositeSeparators = func(r rune) bool {
	return r == '/' || r == ',' || r == ' ' || r == '\t' || r == '\n'
}

// Token trims and uppercases a raw reference string. It does not apply
// the length/placeholder filter; use qualifies for that.
func Token(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}

func qualifies(token string) bool {
	if len(token) < minTokenLength {
		return false
	}
	return token != "N/A"
}

// collectTokens splits each raw value on composite separators, filters
// out placeholders and short fragments, and appends the survivors to
// dst preserving first-seen order.
func collectTokens(dst []string, seen map[string]bool, raws ...string) []string {
	for _, raw := range raws {
		for _, part := range strings.FieldsFunc(raw, compositeSeparators) {
			token := Token(part)
			if !qualifies(token) || seen[token] {
				continue
			}
			seen[token] = true
			dst = append(dst, token)
		}
	}
	return dst
}

// InvoiceReferences returns every candidate identity token on an
// extracted invoice shipment, ordered and de-duplicated.
func InvoiceReferences(inv *models.InvoiceShipment) []string {
	seen := make(map[string]bool)
	tokens := make([]string, 0, 8)

	tokens = collectTokens(tokens, seen,
		inv.ShipmentID,
		inv.CustomerRef,
		inv.InvoiceRef,
		inv.ManifestRef,
		inv.PORef,
		inv.BOLRef,
		inv.TrackingRef,
	)
	tokens = collectTokens(tokens, seen, inv.ExtraRefs...)

	return tokens
}

// ShipmentReferences returns every candidate identity token on a system
// shipment, including those nested inside rate and manual-rate entries.
func ShipmentReferences(s *models.SystemShipment) []string {
	seen := make(map[string]bool)
	tokens := make([]string, 0, 16)

	tokens = collectTokens(tokens, seen,
		s.ID,
		s.PONumber,
		s.BOLNumber,
		s.EDINumber,
		s.OrderNumber,
		s.WorkOrderNumber,
		s.QuoteNumber,
		s.ProNumber,
		s.SealNumber,
		s.CustomerRef,
	)
	tokens = collectTokens(tokens, seen, s.ExtraRefs...)

	for _, rate := range s.Rates {
		tokens = collectTokens(tokens, seen, rate.QuoteNumber, rate.ProNumber, rate.ServiceRef)
	}
	for _, rate := range s.ManualRates {
		tokens = collectTokens(tokens, seen, rate.QuoteNumber, rate.ProNumber, rate.ServiceRef)
	}

	return tokens
}

// StripSeparators removes every non-alphanumeric rune from a token so
// that "PO-62042" and "PO 62042" compare equal as patterns.
func StripSeparators(token string) string {
	var b strings.Builder
	b.Grow(len(token))
	for _, r := range token {
		if (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return strings.ToUpper(b.String())
}
