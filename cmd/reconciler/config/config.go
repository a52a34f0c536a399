// Package config assembles pipeline components from CLI options.
package config

import (
	"context"
	"fmt"
	"time"

	"freight-reconciliation-service/internal/currency"
	"freight-reconciliation-service/internal/ledger"
	"freight-reconciliation-service/internal/matcher"
	"freight-reconciliation-service/internal/models"
	"freight-reconciliation-service/internal/reconciler"
	apperrors "freight-reconciliation-service/pkg/errors"
)

// MatcherConfig resolves a named matching profile.
func MatcherConfig(profile string) (*matcher.Config, error) {
	switch profile {
	case "", "default":
		return matcher.DefaultConfig(), nil
	case "strict":
		return matcher.StrictConfig(), nil
	case "relaxed":
		return matcher.RelaxedConfig(), nil
	default:
		return nil, fmt.Errorf("unknown match profile %q (use default, strict, or relaxed)", profile)
	}
}

// ServiceOptions carries everything needed to assemble a pipeline
// service.
type ServiceOptions struct {
	Repository   reconciler.ShipmentRepository
	LedgerStore  ledger.Store
	RatesURL     string
	MatchProfile string
	PoolLimit    int
	AutoApply    bool
}

// BuildService wires the matcher, currency converter, reconciler,
// classifier, and ledger into a Service.
func BuildService(opts ServiceOptions) (*reconciler.Service, error) {
	matcherConfig, err := MatcherConfig(opts.MatchProfile)
	if err != nil {
		return nil, err
	}

	provider, err := rateProvider(opts.RatesURL)
	if err != nil {
		return nil, err
	}
	converter := currency.NewConverter(provider)

	serviceConfig := reconciler.DefaultConfig()
	if opts.PoolLimit > 0 {
		serviceConfig.PoolLimit = opts.PoolLimit
	}
	serviceConfig.AutoApply = opts.AutoApply

	var ldg *ledger.Ledger
	if opts.LedgerStore != nil {
		ldg = ledger.New(opts.LedgerStore)
	}

	return reconciler.NewService(
		opts.Repository,
		matcher.NewEngine(matcherConfig),
		reconciler.NewChargeReconciler(converter),
		reconciler.NewApprovalClassifier(converter),
		ldg,
		serviceConfig,
	)
}

// rateProvider returns the HTTP provider when a rate service is
// configured, and identity rates otherwise.
func rateProvider(ratesURL string) (currency.RateProvider, error) {
	if ratesURL == "" {
		return identityProvider{}, nil
	}

	providerConfig := currency.DefaultHTTPProviderConfig()
	providerConfig.BaseURL = ratesURL
	return currency.NewHTTPProvider(providerConfig)
}

// identityProvider serves identity rate tables, for deployments that
// bill in a single currency.
type identityProvider struct{}

func (identityProvider) GetRatesForDate(ctx context.Context, date time.Time) (*currency.RateTable, error) {
	return currency.IdentityTable(), nil
}

// StaticRepository is an in-memory ShipmentRepository backed by a
// parsed shipment export.
type StaticRepository struct {
	shipments []*models.SystemShipment
	byID      map[string]*models.SystemShipment
}

// NewStaticRepository indexes a shipment export for matching.
func NewStaticRepository(shipments []*models.SystemShipment) *StaticRepository {
	byID := make(map[string]*models.SystemShipment, len(shipments))
	for _, s := range shipments {
		byID[s.ID] = s
	}
	return &StaticRepository{shipments: shipments, byID: byID}
}

// QueryCandidates filters and bounds the export the same way the
// database-backed repository does.
func (r *StaticRepository) QueryCandidates(ctx context.Context, filter reconciler.PoolFilter) ([]*models.SystemShipment, error) {
	excluded := make(map[string]bool, len(filter.ExcludeStatuses))
	for _, status := range filter.ExcludeStatuses {
		excluded[status] = true
	}

	out := make([]*models.SystemShipment, 0, len(r.shipments))
	for _, s := range r.shipments {
		if excluded[s.Status] {
			continue
		}
		out = append(out, s)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

// GetShipment returns a shipment by id.
func (r *StaticRepository) GetShipment(ctx context.Context, id string) (*models.SystemShipment, error) {
	s, ok := r.byID[id]
	if !ok {
		return nil, apperrors.RepositoryError(apperrors.CodeShipmentNotFound, id, nil)
	}
	return s, nil
}
