package matcher

import (
	"freight-reconciliation-service/internal/models"
	"freight-reconciliation-service/internal/normalize"
)

// IdentifierIndex maps the identifier fields of a candidate pool to the
// earliest candidate carrying each token, so phase 1 lookups stay O(1)
// per invoice identifier regardless of pool size.
//
// Only true identifier fields participate: the shipment id and the
// carrier-assigned document numbers. Loose reference tokens belong to
// the composite scoring phase.
type IdentifierIndex struct {
	byToken map[string]*models.SystemShipment
	size    int
}

// NewIdentifierIndex builds an index over the pool. When two candidates
// share a token the earlier pool position wins, which keeps phase 1
// deterministic for the same snapshot.
func NewIdentifierIndex(pool []*models.SystemShipment) *IdentifierIndex {
	index := &IdentifierIndex{
		byToken: make(map[string]*models.SystemShipment, len(pool)*4),
		size:    len(pool),
	}

	for _, candidate := range pool {
		for _, field := range candidateIdentifiers(candidate) {
			if _, exists := index.byToken[field]; !exists {
				index.byToken[field] = candidate
			}
		}
	}

	return index
}

// Lookup returns the first candidate whose identifier fields contain
// any of the given tokens, in token order.
func (ix *IdentifierIndex) Lookup(tokens []string) (*models.SystemShipment, bool) {
	for _, token := range tokens {
		if candidate, ok := ix.byToken[token]; ok {
			return candidate, true
		}
	}
	return nil, false
}

// Size returns the number of candidates the index was built over.
func (ix *IdentifierIndex) Size() int {
	return ix.size
}

func candidateIdentifiers(s *models.SystemShipment) []string {
	fields := []string{s.ID, s.ProNumber, s.BOLNumber, s.QuoteNumber, s.EDINumber}
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		token := normalize.Token(f)
		if token != "" && token != "N/A" {
			out = append(out, token)
		}
	}
	return out
}
