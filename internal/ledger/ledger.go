// Package ledger applies and unapplies approved charges to a
// shipment's authoritative billing record. The ledger is the single
// source of truth for a shipment's processing status; any stored status
// field elsewhere is a cache this package overwrites.
//
// Apply and unapply on one shipment are serialized through a per-key
// lock and guarded by an optimistic version check, so a human applying
// selected charges and an unattended auto-approve pass can race safely.
package ledger

import (
	"context"
	"fmt"
	"time"

	"freight-reconciliation-service/internal/models"
	apperrors "freight-reconciliation-service/pkg/errors"
	"freight-reconciliation-service/pkg/logger"
)

// Store persists charge application records and the derived status
// cache. Implementations must be safe for concurrent use; the Ledger
// additionally serializes writers per shipment.
type Store interface {
	// Records returns the application records for a shipment, ordered by
	// charge index.
	Records(ctx context.Context, shipmentID string) ([]models.ChargeApplicationRecord, error)

	// SaveRecord inserts or replaces the record for its charge index.
	SaveRecord(ctx context.Context, shipmentID string, rec models.ChargeApplicationRecord) error

	// DeleteRecord removes the record for a charge index. Deleting a
	// missing record is not an error.
	DeleteRecord(ctx context.Context, shipmentID string, chargeIndex int) error

	// Version returns the shipment's mutation counter.
	Version(ctx context.Context, shipmentID string) (int64, error)

	// CompareAndBump atomically increments the counter when it still
	// equals expected, returning ErrVersionConflict otherwise.
	CompareAndBump(ctx context.Context, shipmentID string, expected int64) error

	// SetStatus mirrors the recomputed processing status. The stored
	// value is a cache, never read back authoritatively.
	SetStatus(ctx context.Context, shipmentID string, status models.ProcessingStatus) error

	// Exception reports whether a human override marked the shipment.
	Exception(ctx context.Context, shipmentID string) (bool, error)

	// SetException records or clears a human override.
	SetException(ctx context.Context, shipmentID string, flagged bool) error
}

// ErrVersionConflict is returned by CompareAndBump when another writer
// mutated the shipment first.
var ErrVersionConflict = fmt.Errorf("ledger version conflict")

// BatchReport describes the per-index outcome of one apply or unapply
// call. One bad index never aborts the batch. Apply fills Applied,
// unapply fills Removed; Skipped and Rejected are shared.
type BatchReport struct {
	Applied  []int                   `json:"applied"`
	Removed  []int                   `json:"removed,omitempty"`
	Skipped  []int                   `json:"skipped"`
	Rejected map[int]string          `json:"rejected,omitempty"`
	Status   models.ProcessingStatus `json:"status"`
}

func newBatchReport() *BatchReport {
	return &BatchReport{Rejected: make(map[int]string)}
}

// Ledger coordinates charge application for all shipments over a Store.
type Ledger struct {
	store Store
	locks *keyedMutex
	log   logger.Logger
	now   func() time.Time
}

// New creates a Ledger over the given store.
func New(store Store) *Ledger {
	return &Ledger{
		store: store,
		locks: newKeyedMutex(),
		log:   logger.WithComponent("charge_ledger"),
		now:   time.Now,
	}
}

// ComputeStatus derives the processing status from ledger contents.
// This is the only status computation in the system; the exception flag
// is sticky and set solely by MarkException.
func ComputeStatus(applied, total int, exception bool) models.ProcessingStatus {
	if exception {
		if total > 0 && applied == total {
			return models.StatusProcessedWithException
		}
		return models.StatusException
	}
	switch {
	case applied == 0:
		return models.StatusReadyToProcess
	case applied < total:
		return models.StatusPartiallyProcessed
	default:
		return models.StatusProcessed
	}
}

// Apply writes an actual-cost/actual-charge ledger entry for each
// requested row index that is not already applied. Re-applying an
// applied index is reported as skipped, never an error; out-of-range
// indices are rejected per-index. The batch either fully commits or the
// caller receives a precise per-index report.
func (l *Ledger) Apply(ctx context.Context, shipmentID string, indices []int, rows []models.ComparisonRow) (*BatchReport, error) {
	return l.mutate(ctx, shipmentID, rows, func(applied map[int]bool, report *BatchReport) error {
		for _, idx := range indices {
			if idx < 0 || idx >= len(rows) {
				report.Reject(idx, "index out of range")
				continue
			}
			if applied[idx] {
				report.Skipped = append(report.Skipped, idx)
				continue
			}

			row := rows[idx]
			rec := models.ChargeApplicationRecord{
				ChargeIndex:  idx,
				ChargeCode:   row.Code,
				ChargeName:   row.Name,
				ActualCost:   row.SystemActualCost,
				ActualCharge: row.SystemActualCharge,
				Status:       models.ChargeApplied,
				AppliedAt:    l.now().UTC(),
			}
			if err := l.store.SaveRecord(ctx, shipmentID, rec); err != nil {
				return apperrors.LedgerError(apperrors.CodeLedgerWriteFailed, shipmentID, err)
			}
			applied[idx] = true
			report.Applied = append(report.Applied, idx)
		}
		return nil
	})
}

// Unapply removes ledger entries for indices previously applied by this
// mechanism. Unapplying a non-applied index is reported as skipped.
func (l *Ledger) Unapply(ctx context.Context, shipmentID string, indices []int, rows []models.ComparisonRow) (*BatchReport, error) {
	return l.mutate(ctx, shipmentID, rows, func(applied map[int]bool, report *BatchReport) error {
		for _, idx := range indices {
			if idx < 0 || idx >= len(rows) {
				report.Reject(idx, "index out of range")
				continue
			}
			if !applied[idx] {
				report.Skipped = append(report.Skipped, idx)
				continue
			}

			if err := l.store.DeleteRecord(ctx, shipmentID, idx); err != nil {
				return apperrors.LedgerError(apperrors.CodeLedgerWriteFailed, shipmentID, err)
			}
			delete(applied, idx)
			report.Removed = append(report.Removed, idx)
		}
		return nil
	})
}

// AutoApply applies exactly the rows the classifier recommended for
// approval. Unmatched rows are never eligible regardless of their
// recommendation.
func (l *Ledger) AutoApply(ctx context.Context, shipmentID string, rows []models.ComparisonRow) (*BatchReport, error) {
	var indices []int
	for i, row := range rows {
		if row.Matched && row.Recommendation == models.RecommendApprove {
			indices = append(indices, i)
		}
	}

	if len(indices) == 0 {
		l.log.WithField("shipment_id", shipmentID).Debug("auto-apply found no approvable rows")
	}

	return l.Apply(ctx, shipmentID, indices, rows)
}

// MarkException records a human override. The shipment's status becomes
// exception, or processed_with_exception when every row is applied.
func (l *Ledger) MarkException(ctx context.Context, shipmentID string, totalRows int) (models.ProcessingStatus, error) {
	unlock := l.locks.lock(shipmentID)
	defer unlock()

	if err := l.store.SetException(ctx, shipmentID, true); err != nil {
		return "", apperrors.LedgerError(apperrors.CodeLedgerWriteFailed, shipmentID, err)
	}

	records, err := l.store.Records(ctx, shipmentID)
	if err != nil {
		return "", apperrors.LedgerError(apperrors.CodeLedgerWriteFailed, shipmentID, err)
	}

	status := ComputeStatus(countApplied(records), totalRows, true)
	if err := l.store.SetStatus(ctx, shipmentID, status); err != nil {
		return "", apperrors.LedgerError(apperrors.CodeLedgerWriteFailed, shipmentID, err)
	}
	return status, nil
}

// Status recomputes the processing status from current ledger contents.
func (l *Ledger) Status(ctx context.Context, shipmentID string, totalRows int) (models.ProcessingStatus, error) {
	records, err := l.store.Records(ctx, shipmentID)
	if err != nil {
		return "", apperrors.LedgerError(apperrors.CodeLedgerWriteFailed, shipmentID, err)
	}
	exception, err := l.store.Exception(ctx, shipmentID)
	if err != nil {
		return "", apperrors.LedgerError(apperrors.CodeLedgerWriteFailed, shipmentID, err)
	}
	return ComputeStatus(countApplied(records), totalRows, exception), nil
}

// Records returns the current application records for a shipment.
func (l *Ledger) Records(ctx context.Context, shipmentID string) ([]models.ChargeApplicationRecord, error) {
	return l.store.Records(ctx, shipmentID)
}

// mutate runs one serialized, version-checked mutation. A version
// conflict is retried once against fresh state before surfacing as
// CodeLedgerConflict.
func (l *Ledger) mutate(ctx context.Context, shipmentID string, rows []models.ComparisonRow, fn func(applied map[int]bool, report *BatchReport) error) (*BatchReport, error) {
	unlock := l.locks.lock(shipmentID)
	defer unlock()

	var report *BatchReport
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		report, err = l.mutateOnce(ctx, shipmentID, rows, fn)
		if err == nil {
			return report, nil
		}
		if !apperrors.HasCode(err, apperrors.CodeLedgerConflict) {
			return nil, err
		}
		l.log.WithField("shipment_id", shipmentID).Warn("ledger version conflict, retrying with fresh state")
	}
	return nil, err
}

func (l *Ledger) mutateOnce(ctx context.Context, shipmentID string, rows []models.ComparisonRow, fn func(applied map[int]bool, report *BatchReport) error) (*BatchReport, error) {
	version, err := l.store.Version(ctx, shipmentID)
	if err != nil {
		return nil, apperrors.LedgerError(apperrors.CodeLedgerWriteFailed, shipmentID, err)
	}

	records, err := l.store.Records(ctx, shipmentID)
	if err != nil {
		return nil, apperrors.LedgerError(apperrors.CodeLedgerWriteFailed, shipmentID, err)
	}

	applied := make(map[int]bool, len(records))
	for _, rec := range records {
		if rec.Status == models.ChargeApplied {
			applied[rec.ChargeIndex] = true
		}
	}

	// Claim the version before writing anything. A conflicted attempt
	// must leave the records exactly as it found them, otherwise the
	// caller is told to retry an operation that half-happened.
	if err := l.store.CompareAndBump(ctx, shipmentID, version); err != nil {
		if err == ErrVersionConflict {
			return nil, apperrors.LedgerError(apperrors.CodeLedgerConflict, shipmentID, err)
		}
		return nil, apperrors.LedgerError(apperrors.CodeLedgerWriteFailed, shipmentID, err)
	}

	report := newBatchReport()
	if err := fn(applied, report); err != nil {
		return nil, err
	}

	exception, err := l.store.Exception(ctx, shipmentID)
	if err != nil {
		return nil, apperrors.LedgerError(apperrors.CodeLedgerWriteFailed, shipmentID, err)
	}

	report.Status = ComputeStatus(len(applied), len(rows), exception)
	if err := l.store.SetStatus(ctx, shipmentID, report.Status); err != nil {
		return nil, apperrors.LedgerError(apperrors.CodeLedgerWriteFailed, shipmentID, err)
	}

	l.log.WithFields(logger.Fields{
		"shipment_id": shipmentID,
		"applied":     len(report.Applied),
		"removed":     len(report.Removed),
		"skipped":     len(report.Skipped),
		"rejected":    len(report.Rejected),
		"status":      report.Status,
	}).Info("ledger mutation committed")

	return report, nil
}

// Reject records a per-index rejection with its reason.
func (br *BatchReport) Reject(index int, reason string) {
	br.Rejected[index] = reason
}

func countApplied(records []models.ChargeApplicationRecord) int {
	n := 0
	for _, rec := range records {
		if rec.Status == models.ChargeApplied {
			n++
		}
	}
	return n
}
