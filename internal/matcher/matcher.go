package matcher

import (
	"fmt"
	"math"
	"strings"

	"freight-reconciliation-service/internal/models"
	"freight-reconciliation-service/internal/normalize"
	"freight-reconciliation-service/pkg/logger"
)

// MethodExactID is the match method reported by a phase 1 identifier
// hit.
const MethodExactID = "Exact Shipment ID Match"

// MethodComposite is the match method reported by phase 2 weighted
// scoring.
const MethodComposite = "Weighted Composite Match"

// Engine matches invoice shipments against a candidate pool of system
// shipments.
type Engine struct {
	config *Config
	log    logger.Logger
}

// NewEngine creates a matching engine with the given configuration,
// falling back to defaults when nil.
func NewEngine(config *Config) *Engine {
	if config == nil {
		config = DefaultConfig()
	}
	return &Engine{
		config: config,
		log:    logger.WithComponent("shipment_matcher"),
	}
}

// Config returns a copy of the engine configuration.
func (e *Engine) Config() *Config {
	return e.config.Clone()
}

// CandidateScore is the composite score of one candidate, with its
// per-dimension breakdown for review surfaces.
type CandidateScore struct {
	ShipmentID string   `json:"shipmentId"`
	Position   int      `json:"position"`
	Total      float64  `json:"total"`
	References float64  `json:"references"`
	Carrier    float64  `json:"carrier"`
	Company    float64  `json:"company"`
	Address    float64  `json:"address"`
	Package    float64  `json:"package"`
	Financial  float64  `json:"financial"`
	Temporal   float64  `json:"temporal"`
	Reasons    []string `json:"reasons,omitempty"`
}

// Match finds the best system shipment for an invoice shipment.
//
// Phase 1 compares identifier fields verbatim (case-insensitive,
// trimmed) and short-circuits with confidence 100 on any hit. Phase 2
// scores every candidate across seven dimensions; the highest total
// above the qualifying minimum wins, with ties broken by earliest
// position in the pool's iteration order. The pool must therefore be
// iterated deterministically by the caller; repository queries order by
// creation time for exactly this reason.
func (e *Engine) Match(inv *models.InvoiceShipment, pool []*models.SystemShipment) models.MatchResult {
	if inv == nil || len(pool) == 0 {
		return models.NoMatch()
	}

	// Phase 1: exact identifier equality.
	index := NewIdentifierIndex(pool)
	if candidate, ok := index.Lookup(invoiceIdentifiers(inv)); ok {
		e.log.WithFields(logger.Fields{
			"invoice_shipment": inv.ShipmentID,
			"matched":          candidate.ID,
		}).Debug("exact identifier match")
		return models.MatchResult{
			MatchedShipmentID: candidate.ID,
			Confidence:        100,
			Method:            MethodExactID,
			Matched:           true,
		}
	}

	// Phase 2: weighted composite scoring.
	invTokens := normalize.InvoiceReferences(inv)

	var best *CandidateScore
	for position, candidate := range pool {
		score := e.scoreCandidate(inv, invTokens, candidate, position)
		// Strict greater-than keeps the earliest qualifying candidate on
		// ties.
		if score.Total >= e.config.MinQualifyingScore && (best == nil || score.Total > best.Total) {
			best = score
		}
	}

	if best == nil {
		return models.NoMatch()
	}

	confidence := models.ClampConfidence(math.Round(best.Total / e.config.Caps.Total() * 100))
	accepted := confidence >= e.config.AutoAcceptConfidence

	e.log.WithFields(logger.Fields{
		"invoice_shipment": inv.ShipmentID,
		"matched":          best.ShipmentID,
		"score":            best.Total,
		"confidence":       confidence,
		"accepted":         accepted,
	}).Debug("composite match scored")

	return models.MatchResult{
		MatchedShipmentID: best.ShipmentID,
		Confidence:        confidence,
		Method:            MethodComposite,
		Matched:           accepted,
	}
}

// Score exposes the full candidate breakdown for review interfaces.
// Results are ordered by pool position; callers sort by Total if they
// want a ranking.
func (e *Engine) Score(inv *models.InvoiceShipment, pool []*models.SystemShipment) []*CandidateScore {
	invTokens := normalize.InvoiceReferences(inv)
	scores := make([]*CandidateScore, 0, len(pool))
	for position, candidate := range pool {
		scores = append(scores, e.scoreCandidate(inv, invTokens, candidate, position))
	}
	return scores
}

func (e *Engine) scoreCandidate(inv *models.InvoiceShipment, invTokens []string, candidate *models.SystemShipment, position int) *CandidateScore {
	caps := e.config.Caps
	score := &CandidateScore{
		ShipmentID: candidate.ID,
		Position:   position,
	}

	sysTokens := normalize.ShipmentReferences(candidate)

	score.References = scoreReferences(invTokens, sysTokens, caps.References)
	if score.References > 0 {
		score.Reasons = append(score.Reasons, fmt.Sprintf("reference overlap (%.0f pts)", score.References))
	}

	score.Carrier = scoreCarrier(inv.Carrier, candidate, caps.Carrier)
	if score.Carrier > 0 {
		score.Reasons = append(score.Reasons, fmt.Sprintf("carrier similarity (%.0f pts)", score.Carrier))
	}

	perSide := caps.Company / 2
	score.Company = scoreCompany(inv.Origin.Company, candidate.Origin.Company, perSide) +
		scoreCompany(inv.Destination.Company, candidate.Destination.Company, perSide)
	if score.Company > 0 {
		score.Reasons = append(score.Reasons, fmt.Sprintf("company names (%.1f pts)", score.Company))
	}

	perSide = caps.Address / 2
	score.Address = scoreAddress(inv.Origin.Address, candidate.Origin.Address, perSide) +
		scoreAddress(inv.Destination.Address, candidate.Destination.Address, perSide)
	if score.Address > 0 {
		score.Reasons = append(score.Reasons, fmt.Sprintf("addresses (%.1f pts)", score.Address))
	}

	score.Package = scorePackageWeight(inv, candidate)
	if score.Package > 0 {
		score.Reasons = append(score.Reasons, fmt.Sprintf("package/weight (%.0f pts)", score.Package))
	}

	score.Financial = scoreFinancial(inv, candidate)
	if score.Financial > 0 {
		score.Reasons = append(score.Reasons, fmt.Sprintf("totals (%.0f pts)", score.Financial))
	}

	score.Temporal = scoreTemporal(inv, candidate)
	if score.Temporal > 0 {
		score.Reasons = append(score.Reasons, fmt.Sprintf("dates (%.0f pts)", score.Temporal))
	}

	score.Total = score.References + score.Carrier + score.Company +
		score.Address + score.Package + score.Financial + score.Temporal

	return score
}

// scoreReferences awards the first qualifying tier found across every
// (invoice token, system token) pair: exact match, separator-stripped
// pattern match, high Levenshtein similarity, then substring
// containment. Tiers are evaluated in order so a weaker pair can never
// outrank a stronger one.
func scoreReferences(invTokens, sysTokens []string, maxPts float64) float64 {
	if len(invTokens) == 0 || len(sysTokens) == 0 {
		return 0
	}

	type tier struct {
		points  float64
		matches func(a, b string) bool
	}

	tiers := []tier{
		{maxPts, func(a, b string) bool {
			return a == b
		}},
		{maxPts - 10, func(a, b string) bool {
			sa, sb := normalize.StripSeparators(a), normalize.StripSeparators(b)
			return len(sa) >= 5 && len(sb) >= 5 && sa == sb
		}},
		{maxPts - 20, func(a, b string) bool {
			return len(a) >= 4 && len(b) >= 4 && normalize.Similarity(a, b) >= 0.90
		}},
		{maxPts - 30, func(a, b string) bool {
			if len(a) < 5 || len(b) < 5 {
				return false
			}
			return strings.Contains(a, b) || strings.Contains(b, a)
		}},
	}

	for _, t := range tiers {
		for _, a := range invTokens {
			for _, b := range sysTokens {
				if t.matches(a, b) {
					return t.points
				}
			}
		}
	}

	return 0
}

// scoreCarrier compares carrier names: exact, business-normalized, DBA
// cross-reference, then scaled similarity with a floor of 25 points.
func scoreCarrier(invCarrier string, candidate *models.SystemShipment, maxPts float64) float64 {
	a := strings.ToUpper(strings.TrimSpace(invCarrier))
	b := strings.ToUpper(strings.TrimSpace(candidate.Carrier))
	if a == "" || b == "" {
		return 0
	}

	if a == b {
		return maxPts
	}

	na, nb := normalize.BusinessName(a), normalize.BusinessName(b)
	if len(na) >= 5 && na == nb {
		return maxPts - 5
	}

	for _, dba := range candidate.CarrierDBAs {
		nd := normalize.BusinessName(dba)
		if nd != "" && (nd == na || normalize.Similarity(nd, na) >= 0.90) {
			return maxPts - 10
		}
	}

	if sim := normalize.Similarity(na, nb); sim*maxPts >= 25 {
		return sim * maxPts
	}

	return 0
}

// scoreCompany scores one side's company name into a per-side budget.
func scoreCompany(invCompany, sysCompany string, budget float64) float64 {
	a := strings.ToUpper(strings.TrimSpace(invCompany))
	b := strings.ToUpper(strings.TrimSpace(sysCompany))
	if a == "" || b == "" {
		return 0
	}

	var factor float64
	switch {
	case a == b:
		factor = 1.0
	case len(normalize.BusinessName(a)) >= 3 && normalize.BusinessName(a) == normalize.BusinessName(b):
		factor = 0.95
	default:
		if sim := normalize.Similarity(a, b); sim >= 0.8 {
			factor = sim
		}
	}

	return factor * budget
}

// scoreAddress blends city, state, postal code and street agreement
// into a per-side budget.
func scoreAddress(inv, sys models.Address, budget float64) float64 {
	blend := normalize.Similarity(inv.City, sys.City) * 0.4

	if equalFold(inv.State, sys.State) && inv.State != "" {
		blend += 0.3
	}

	if stripSpace(inv.PostalCode) != "" && stripSpace(inv.PostalCode) == stripSpace(sys.PostalCode) {
		blend += 0.2
	}

	blend += normalize.Similarity(inv.Street, sys.Street) * 0.1

	return blend * budget
}

func equalFold(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

func stripSpace(s string) string {
	return strings.ToUpper(strings.Join(strings.Fields(s), ""))
}

// scorePackageWeight awards up to 10 points for weight proximity and 10
// for package count agreement.
func scorePackageWeight(inv *models.InvoiceShipment, sys *models.SystemShipment) float64 {
	var points float64

	if inv.Weight > 0 && sys.Weight > 0 {
		diff := math.Abs(inv.Weight-sys.Weight) / sys.Weight * 100
		switch {
		case diff <= 5:
			points += 10
		case diff <= 15:
			points += 7
		case diff <= 30:
			points += 4
		}
	}

	if inv.PackageCount > 0 && sys.PackageCount > 0 {
		diff := inv.PackageCount - sys.PackageCount
		if diff < 0 {
			diff = -diff
		}
		switch {
		case diff == 0:
			points += 10
		case diff <= 2:
			points += 5
		}
	}

	return points
}

// scoreFinancial compares invoice and system totals by percent
// difference.
func scoreFinancial(inv *models.InvoiceShipment, sys *models.SystemShipment) float64 {
	if inv.TotalAmount.IsZero() || sys.TotalAmount.IsZero() {
		return 0
	}

	diff := models.PercentDifference(inv.TotalAmount, sys.TotalAmount)
	switch {
	case diff <= 2:
		return 15
	case diff <= 5:
		return 12
	case diff <= 10:
		return 8
	case diff <= 20:
		return 5
	case diff <= 50:
		return 2
	}
	return 0
}

// scoreTemporal compares the invoice date against the shipment's ship
// date (created-at when no ship date is recorded).
func scoreTemporal(inv *models.InvoiceShipment, sys *models.SystemShipment) float64 {
	invDate := inv.InvoiceDate
	sysDate := sys.ShipDate
	if sysDate.IsZero() {
		sysDate = sys.CreatedAt
	}
	if invDate.IsZero() || sysDate.IsZero() {
		return 0
	}

	gap := models.DaysBetween(invDate, sysDate)
	switch {
	case gap <= 1:
		return 5
	case gap <= 7:
		return 3
	case gap <= 30:
		return 1
	}
	return 0
}

// invoiceIdentifiers returns the identifier fields used for phase 1
// exact matching. Unlike the full reference list these exclude loose
// tokens from composite fields; an identifier hit asserts identity, not
// similarity.
func invoiceIdentifiers(inv *models.InvoiceShipment) []string {
	fields := []string{inv.ShipmentID, inv.InvoiceRef, inv.ManifestRef, inv.TrackingRef}
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		token := normalize.Token(f)
		if token != "" && token != "N/A" {
			out = append(out, token)
		}
	}
	return out
}
