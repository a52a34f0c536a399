package reconciler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"freight-reconciliation-service/internal/ledger"
	"freight-reconciliation-service/internal/matcher"
	"freight-reconciliation-service/internal/models"
	apperrors "freight-reconciliation-service/pkg/errors"
	"freight-reconciliation-service/pkg/logger"
)

// PoolFilter bounds the candidate pool a repository returns for one
// extraction run.
type PoolFilter struct {
	// ExcludeStatuses lists shipment statuses that never participate in
	// matching, typically drafts.
	ExcludeStatuses []string

	// Limit caps the pool at the most recently created N shipments.
	Limit int
}

// ShipmentRepository supplies the candidate pool and individual
// shipments from the authoritative store.
type ShipmentRepository interface {
	QueryCandidates(ctx context.Context, filter PoolFilter) ([]*models.SystemShipment, error)
	GetShipment(ctx context.Context, id string) (*models.SystemShipment, error)
}

// Config controls one processing run.
type Config struct {
	// PoolLimit caps the candidate pool snapshot.
	PoolLimit int

	// ExcludeStatuses lists shipment statuses to omit from the pool.
	ExcludeStatuses []string

	// MaxConcurrentShipments bounds how many invoice shipments are
	// processed in parallel.
	MaxConcurrentShipments int

	// AutoApply applies approve-recommended rows to the ledger after
	// classification.
	AutoApply bool
}

// DefaultConfig returns the standard run configuration.
func DefaultConfig() *Config {
	return &Config{
		PoolLimit:              500,
		ExcludeStatuses:        []string{"draft"},
		MaxConcurrentShipments: 4,
		AutoApply:              false,
	}
}

// Validate checks the configuration for usable values.
func (c *Config) Validate() error {
	if c.PoolLimit <= 0 {
		return apperrors.ConfigurationError("pool_limit", c.PoolLimit, nil)
	}
	if c.MaxConcurrentShipments <= 0 {
		return apperrors.ConfigurationError("max_concurrent_shipments", c.MaxConcurrentShipments, nil)
	}
	return nil
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	clone.ExcludeStatuses = append([]string(nil), c.ExcludeStatuses...)
	return &clone
}

// ShipmentOutcome is the full result for one invoice shipment: its
// match decision, the aligned comparison rows, and, when auto-apply ran,
// the ledger's batch report.
type ShipmentOutcome struct {
	Invoice     *models.InvoiceShipment `json:"invoice"`
	Match       models.MatchResult      `json:"match"`
	Rows        []models.ComparisonRow  `json:"rows,omitempty"`
	AutoApplied *ledger.BatchReport     `json:"autoApplied,omitempty"`
	Status      models.ProcessingStatus `json:"status,omitempty"`
}

// RunResult aggregates the outcomes of one extraction run.
type RunResult struct {
	RunID     string            `json:"runId"`
	StartedAt time.Time         `json:"startedAt"`
	Duration  time.Duration     `json:"duration"`
	Outcomes  []ShipmentOutcome `json:"outcomes"`
	Matched   int               `json:"matched"`
	Unmatched int               `json:"unmatched"`
}

// Service wires the pipeline together: pool snapshot, matching, charge
// reconciliation, approval classification, and optional ledger apply.
type Service struct {
	repo       ShipmentRepository
	engine     *matcher.Engine
	reconciler *ChargeReconciler
	classifier *ApprovalClassifier
	ledger     *ledger.Ledger
	config     *Config
	log        logger.Logger
	now        func() time.Time
}

// NewService assembles a pipeline service. The ledger may be nil when
// auto-apply is disabled.
func NewService(repo ShipmentRepository, engine *matcher.Engine, rec *ChargeReconciler, classifier *ApprovalClassifier, ldg *ledger.Ledger, config *Config) (*Service, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.AutoApply && ldg == nil {
		return nil, apperrors.ConfigurationError("auto_apply", "requires a ledger", nil)
	}

	return &Service{
		repo:       repo,
		engine:     engine,
		reconciler: rec,
		classifier: classifier,
		ledger:     ldg,
		config:     config,
		log:        logger.WithComponent("reconciliation_service"),
		now:        time.Now,
	}, nil
}

// ProcessExtraction runs the full pipeline for every shipment in one
// extracted invoice. The candidate pool is snapshotted once so every
// shipment in the batch matches against the same view of the system.
// Shipments with no extractable charge rows still produce an outcome.
func (s *Service) ProcessExtraction(ctx context.Context, shipments []*models.InvoiceShipment) (*RunResult, error) {
	start := s.now()
	result := &RunResult{
		RunID:     uuid.NewString(),
		StartedAt: start.UTC(),
		Outcomes:  make([]ShipmentOutcome, len(shipments)),
	}

	runLog := s.log.WithFields(logger.Fields{
		"run_id":    result.RunID,
		"shipments": len(shipments),
	})
	runLog.Info("processing extraction")

	pool, err := s.repo.QueryCandidates(ctx, PoolFilter{
		ExcludeStatuses: s.config.ExcludeStatuses,
		Limit:           s.config.PoolLimit,
	})
	if err != nil {
		// A pool failure degrades to no-match outcomes rather than
		// failing the run; the invoice data is still worth surfacing.
		runLog.WithError(err).Warn("candidate pool query failed, reporting all shipments unmatched")
		pool = nil
	}

	byID := make(map[string]*models.SystemShipment, len(pool))
	for _, shipment := range pool {
		byID[shipment.ID] = shipment
	}

	var mu sync.Mutex
	grp, grpCtx := errgroup.WithContext(ctx)
	grp.SetLimit(s.config.MaxConcurrentShipments)

	for i, inv := range shipments {
		i, inv := i, inv
		grp.Go(func() error {
			outcome, err := s.processOne(grpCtx, inv, pool, byID)
			if err != nil {
				return err
			}

			mu.Lock()
			result.Outcomes[i] = outcome
			if outcome.Match.Matched {
				result.Matched++
			} else {
				result.Unmatched++
			}
			mu.Unlock()
			return nil
		})
	}

	if err := grp.Wait(); err != nil {
		return nil, err
	}

	result.Duration = s.now().Sub(start)
	runLog.WithFields(logger.Fields{
		"matched":   result.Matched,
		"unmatched": result.Unmatched,
		"duration":  result.Duration.String(),
	}).Info("extraction processed")

	return result, nil
}

func (s *Service) processOne(ctx context.Context, inv *models.InvoiceShipment, pool []*models.SystemShipment, byID map[string]*models.SystemShipment) (ShipmentOutcome, error) {
	outcome := ShipmentOutcome{Invoice: inv}

	if len(inv.Charges) == 0 {
		s.log.WithField("invoice_shipment", inv.ShipmentID).Warn("extraction produced no charges, nothing to reconcile")
		outcome.Match = models.NoMatch()
		return outcome, nil
	}

	outcome.Match = s.engine.Match(inv, pool)
	if !outcome.Match.Matched {
		return outcome, nil
	}

	system, ok := byID[outcome.Match.MatchedShipmentID]
	if !ok {
		var err error
		system, err = s.repo.GetShipment(ctx, outcome.Match.MatchedShipmentID)
		if err != nil {
			return outcome, err
		}
	}

	effectiveDate := inv.EffectiveDate(s.now())

	rows := s.reconciler.Reconcile(ctx, system.Charges, inv.Charges, inv.Currency, effectiveDate)
	s.classifier.Classify(ctx, rows, inv.Charges, inv.Currency, effectiveDate)
	outcome.Rows = rows

	if s.config.AutoApply {
		report, err := s.ledger.AutoApply(ctx, system.ID, rows)
		if err != nil {
			return outcome, err
		}
		outcome.AutoApplied = report
		outcome.Status = report.Status
	}

	return outcome, nil
}

// ReconcileShipment runs matching and reconciliation for a single
// invoice shipment against a previously selected system shipment,
// bypassing the matcher. Used for manual match overrides.
func (s *Service) ReconcileShipment(ctx context.Context, inv *models.InvoiceShipment, systemShipmentID string) (ShipmentOutcome, error) {
	outcome := ShipmentOutcome{Invoice: inv, Match: models.ManualMatch(systemShipmentID)}

	system, err := s.repo.GetShipment(ctx, systemShipmentID)
	if err != nil {
		return outcome, err
	}

	effectiveDate := inv.EffectiveDate(s.now())

	rows := s.reconciler.Reconcile(ctx, system.Charges, inv.Charges, inv.Currency, effectiveDate)
	s.classifier.Classify(ctx, rows, inv.Charges, inv.Currency, effectiveDate)
	outcome.Rows = rows
	return outcome, nil
}
