// Package store provides the SQLite-backed shipment repository and
// charge-application store used when runs need durable state.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"freight-reconciliation-service/internal/ledger"
	"freight-reconciliation-service/internal/models"
	"freight-reconciliation-service/internal/reconciler"
	apperrors "freight-reconciliation-service/pkg/errors"
	"freight-reconciliation-service/pkg/logger"
)

const schema = `
CREATE TABLE IF NOT EXISTS shipments (
	id         TEXT PRIMARY KEY,
	status     TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL,
	payload    TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_shipments_created ON shipments (created_at DESC, id);

CREATE TABLE IF NOT EXISTS charge_applications (
	shipment_id   TEXT NOT NULL,
	charge_index  INTEGER NOT NULL,
	charge_code   TEXT NOT NULL,
	charge_name   TEXT NOT NULL,
	actual_cost   TEXT NOT NULL,
	actual_charge TEXT NOT NULL,
	status        TEXT NOT NULL,
	applied_at    TIMESTAMP NOT NULL,
	PRIMARY KEY (shipment_id, charge_index)
);

CREATE TABLE IF NOT EXISTS shipment_ledger (
	shipment_id TEXT PRIMARY KEY,
	version     INTEGER NOT NULL DEFAULT 0,
	status      TEXT NOT NULL DEFAULT 'ready_to_process',
	exception   INTEGER NOT NULL DEFAULT 0
);
`

// DB wraps the SQLite handle shared by the repository and ledger store.
type DB struct {
	conn *sql.DB
	log  logger.Logger
}

// Open opens (and if necessary creates) the database at path and
// applies the schema. Use ":memory:" for an ephemeral database.
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, apperrors.RepositoryError(apperrors.CodeConnectionFailed, path, err)
	}

	// SQLite serializes writers; a single connection avoids busy errors
	// under concurrent shipment processing.
	conn.SetMaxOpenConns(1)

	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, apperrors.RepositoryError(apperrors.CodeQueryFailed, "applying schema", err)
	}

	return &DB{conn: conn, log: logger.WithComponent("sqlite_store")}, nil
}

// Close releases the underlying connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// ShipmentRepository returns the candidate-pool view over this database.
func (db *DB) ShipmentRepository() *ShipmentRepository {
	return &ShipmentRepository{db: db}
}

// LedgerStore returns the charge-application store over this database.
func (db *DB) LedgerStore() *LedgerStore {
	return &LedgerStore{db: db}
}

// ShipmentRepository reads system shipments for matching and
// reconciliation. Shipments are stored as JSON payloads with the
// filterable columns lifted out.
type ShipmentRepository struct {
	db *DB
}

var _ reconciler.ShipmentRepository = (*ShipmentRepository)(nil)

// SaveShipment inserts or replaces a system shipment.
func (r *ShipmentRepository) SaveShipment(ctx context.Context, s *models.SystemShipment) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return apperrors.RepositoryError(apperrors.CodeInvalidData, s.ID, err)
	}

	createdAt := s.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err = r.db.conn.ExecContext(ctx,
		`INSERT OR REPLACE INTO shipments (id, status, created_at, payload) VALUES (?, ?, ?, ?)`,
		s.ID, strings.ToLower(s.Status), createdAt, string(payload))
	if err != nil {
		return apperrors.RepositoryError(apperrors.CodeQueryFailed, s.ID, err)
	}
	return nil
}

// QueryCandidates returns the bounded candidate pool: non-excluded
// shipments, most recent first, capped at the filter's limit. The
// ordering is deterministic so repeated runs see identical pools.
func (r *ShipmentRepository) QueryCandidates(ctx context.Context, filter reconciler.PoolFilter) ([]*models.SystemShipment, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT payload FROM shipments`)

	args := make([]interface{}, 0, len(filter.ExcludeStatuses)+1)
	if len(filter.ExcludeStatuses) > 0 {
		sb.WriteString(` WHERE status NOT IN (`)
		for i, status := range filter.ExcludeStatuses {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString("?")
			args = append(args, strings.ToLower(status))
		}
		sb.WriteString(`)`)
	}

	sb.WriteString(` ORDER BY created_at DESC, id ASC`)
	if filter.Limit > 0 {
		sb.WriteString(` LIMIT ?`)
		args = append(args, filter.Limit)
	}

	rows, err := r.db.conn.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, apperrors.RepositoryError(apperrors.CodeQueryFailed, "candidate pool", err)
	}
	defer rows.Close()

	var out []*models.SystemShipment
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, apperrors.RepositoryError(apperrors.CodeQueryFailed, "candidate pool", err)
		}
		var s models.SystemShipment
		if err := json.Unmarshal([]byte(payload), &s); err != nil {
			r.db.log.WithError(err).Warn("skipping undecodable shipment payload")
			continue
		}
		out = append(out, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.RepositoryError(apperrors.CodeQueryFailed, "candidate pool", err)
	}
	return out, nil
}

// GetShipment loads a single shipment by id.
func (r *ShipmentRepository) GetShipment(ctx context.Context, id string) (*models.SystemShipment, error) {
	var payload string
	err := r.db.conn.QueryRowContext(ctx, `SELECT payload FROM shipments WHERE id = ?`, id).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, apperrors.RepositoryError(apperrors.CodeShipmentNotFound, id, err)
	}
	if err != nil {
		return nil, apperrors.RepositoryError(apperrors.CodeQueryFailed, id, err)
	}

	var s models.SystemShipment
	if err := json.Unmarshal([]byte(payload), &s); err != nil {
		return nil, apperrors.RepositoryError(apperrors.CodeInvalidData, id, err)
	}
	return &s, nil
}

// LedgerStore persists charge-application records, the optimistic
// version counter, and the mirrored status per shipment.
type LedgerStore struct {
	db *DB
}

var _ ledger.Store = (*LedgerStore)(nil)

func (s *LedgerStore) Records(ctx context.Context, shipmentID string) ([]models.ChargeApplicationRecord, error) {
	rows, err := s.db.conn.QueryContext(ctx,
		`SELECT charge_index, charge_code, charge_name, actual_cost, actual_charge, status, applied_at
		 FROM charge_applications WHERE shipment_id = ? ORDER BY charge_index`, shipmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ChargeApplicationRecord
	for rows.Next() {
		var rec models.ChargeApplicationRecord
		var cost, charge, status string
		if err := rows.Scan(&rec.ChargeIndex, &rec.ChargeCode, &rec.ChargeName, &cost, &charge, &status, &rec.AppliedAt); err != nil {
			return nil, err
		}
		if rec.ActualCost, err = decimal.NewFromString(cost); err != nil {
			return nil, err
		}
		if rec.ActualCharge, err = decimal.NewFromString(charge); err != nil {
			return nil, err
		}
		rec.Status = models.ChargeApplicationStatus(status)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *LedgerStore) SaveRecord(ctx context.Context, shipmentID string, rec models.ChargeApplicationRecord) error {
	_, err := s.db.conn.ExecContext(ctx,
		`INSERT OR REPLACE INTO charge_applications
		 (shipment_id, charge_index, charge_code, charge_name, actual_cost, actual_charge, status, applied_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		shipmentID, rec.ChargeIndex, rec.ChargeCode, rec.ChargeName,
		rec.ActualCost.String(), rec.ActualCharge.String(), string(rec.Status), rec.AppliedAt)
	return err
}

func (s *LedgerStore) DeleteRecord(ctx context.Context, shipmentID string, chargeIndex int) error {
	_, err := s.db.conn.ExecContext(ctx,
		`DELETE FROM charge_applications WHERE shipment_id = ? AND charge_index = ?`,
		shipmentID, chargeIndex)
	return err
}

func (s *LedgerStore) Version(ctx context.Context, shipmentID string) (int64, error) {
	var version int64
	err := s.db.conn.QueryRowContext(ctx,
		`SELECT version FROM shipment_ledger WHERE shipment_id = ?`, shipmentID).Scan(&version)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return version, err
}

func (s *LedgerStore) CompareAndBump(ctx context.Context, shipmentID string, expected int64) error {
	res, err := s.db.conn.ExecContext(ctx,
		`INSERT INTO shipment_ledger (shipment_id, version) VALUES (?, 1)
		 ON CONFLICT(shipment_id) DO UPDATE SET version = version + 1 WHERE version = ?`,
		shipmentID, expected)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ledger.ErrVersionConflict
	}
	// A fresh insert only counts when the caller expected version zero.
	if expected != 0 {
		var version int64
		if err := s.db.conn.QueryRowContext(ctx,
			`SELECT version FROM shipment_ledger WHERE shipment_id = ?`, shipmentID).Scan(&version); err != nil {
			return err
		}
		if version != expected+1 {
			return ledger.ErrVersionConflict
		}
	}
	return nil
}

func (s *LedgerStore) SetStatus(ctx context.Context, shipmentID string, status models.ProcessingStatus) error {
	_, err := s.db.conn.ExecContext(ctx,
		`INSERT INTO shipment_ledger (shipment_id, status) VALUES (?, ?)
		 ON CONFLICT(shipment_id) DO UPDATE SET status = excluded.status`,
		shipmentID, string(status))
	return err
}

func (s *LedgerStore) Exception(ctx context.Context, shipmentID string) (bool, error) {
	var flagged int
	err := s.db.conn.QueryRowContext(ctx,
		`SELECT exception FROM shipment_ledger WHERE shipment_id = ?`, shipmentID).Scan(&flagged)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return flagged != 0, err
}

func (s *LedgerStore) SetException(ctx context.Context, shipmentID string, flagged bool) error {
	val := 0
	if flagged {
		val = 1
	}
	_, err := s.db.conn.ExecContext(ctx,
		`INSERT INTO shipment_ledger (shipment_id, exception) VALUES (?, ?)
		 ON CONFLICT(shipment_id) DO UPDATE SET exception = excluded.exception`,
		shipmentID, val)
	return err
}
