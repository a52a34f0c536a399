package store

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"freight-reconciliation-service/internal/ledger"
	"freight-reconciliation-service/internal/models"
	"freight-reconciliation-service/internal/reconciler"
	apperrors "freight-reconciliation-service/pkg/errors"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func seedShipment(t *testing.T, repo *ShipmentRepository, id, status string, createdAt time.Time) {
	t.Helper()
	err := repo.SaveShipment(context.Background(), &models.SystemShipment{
		ID:        id,
		Status:    status,
		Carrier:   "Day & Ross",
		Currency:  "CAD",
		CreatedAt: createdAt,
		Charges: []models.SystemCharge{
			{Code: "FRT", Name: "Freight", Currency: "CAD", ActualCost: decimal.NewFromFloat(175.00)},
		},
	})
	if err != nil {
		t.Fatalf("SaveShipment %s failed: %v", id, err)
	}
}

func TestQueryCandidatesOrderingAndExclusion(t *testing.T) {
	db := openTestDB(t)
	repo := db.ShipmentRepository()

	base := time.Date(2023, 6, 10, 0, 0, 0, 0, time.UTC)
	seedShipment(t, repo, "SHIP-OLD", "booked", base)
	seedShipment(t, repo, "SHIP-NEW", "delivered", base.Add(48*time.Hour))
	seedShipment(t, repo, "SHIP-DRAFT", "Draft", base.Add(24*time.Hour))

	pool, err := repo.QueryCandidates(context.Background(), reconciler.PoolFilter{
		ExcludeStatuses: []string{"draft"},
		Limit:           10,
	})
	if err != nil {
		t.Fatalf("QueryCandidates failed: %v", err)
	}

	if len(pool) != 2 {
		t.Fatalf("Expected 2 candidates, got %d", len(pool))
	}
	if pool[0].ID != "SHIP-NEW" || pool[1].ID != "SHIP-OLD" {
		t.Errorf("Expected newest first, got %s then %s", pool[0].ID, pool[1].ID)
	}
}

func TestQueryCandidatesLimit(t *testing.T) {
	db := openTestDB(t)
	repo := db.ShipmentRepository()

	base := time.Date(2023, 6, 10, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"SHIP-A", "SHIP-B", "SHIP-C"} {
		seedShipment(t, repo, id, "booked", base.Add(time.Duration(i)*time.Hour))
	}

	pool, err := repo.QueryCandidates(context.Background(), reconciler.PoolFilter{Limit: 2})
	if err != nil {
		t.Fatalf("QueryCandidates failed: %v", err)
	}
	if len(pool) != 2 {
		t.Errorf("Expected limit of 2, got %d", len(pool))
	}
}

func TestGetShipment(t *testing.T) {
	db := openTestDB(t)
	repo := db.ShipmentRepository()

	seedShipment(t, repo, "SHIP-1", "booked", time.Date(2023, 6, 10, 0, 0, 0, 0, time.UTC))

	s, err := repo.GetShipment(context.Background(), "SHIP-1")
	if err != nil {
		t.Fatalf("GetShipment failed: %v", err)
	}
	if s.Carrier != "Day & Ross" || len(s.Charges) != 1 {
		t.Errorf("Shipment payload did not round-trip: %+v", s)
	}
	if !s.Charges[0].ActualCost.Equal(decimal.NewFromFloat(175.00)) {
		t.Errorf("Charge amount did not round-trip: %s", s.Charges[0].ActualCost)
	}
}

func TestGetShipmentNotFound(t *testing.T) {
	db := openTestDB(t)

	_, err := db.ShipmentRepository().GetShipment(context.Background(), "SHIP-MISSING")
	if err == nil {
		t.Fatal("Expected an error for a missing shipment")
	}
	if !apperrors.HasCode(err, apperrors.CodeShipmentNotFound) {
		t.Errorf("Expected shipment-not-found code, got %v", err)
	}
}

func TestSaveShipmentReplaces(t *testing.T) {
	db := openTestDB(t)
	repo := db.ShipmentRepository()

	created := time.Date(2023, 6, 10, 0, 0, 0, 0, time.UTC)
	seedShipment(t, repo, "SHIP-1", "booked", created)
	seedShipment(t, repo, "SHIP-1", "delivered", created)

	pool, err := repo.QueryCandidates(context.Background(), reconciler.PoolFilter{})
	if err != nil {
		t.Fatalf("QueryCandidates failed: %v", err)
	}
	if len(pool) != 1 {
		t.Fatalf("Expected replace, not duplicate rows; got %d", len(pool))
	}
	if pool[0].Status != "delivered" {
		t.Errorf("Expected updated status, got %s", pool[0].Status)
	}
}

func TestLedgerStoreRecordRoundTrip(t *testing.T) {
	db := openTestDB(t)
	store := db.LedgerStore()
	ctx := context.Background()

	rec := models.ChargeApplicationRecord{
		ChargeIndex:  1,
		ChargeCode:   "FRT",
		ChargeName:   "Freight",
		ActualCost:   decimal.NewFromFloat(175.50),
		ActualCharge: decimal.NewFromFloat(210.25),
		Status:       models.ChargeApplied,
		AppliedAt:    time.Date(2023, 6, 25, 8, 0, 0, 0, time.UTC),
	}
	if err := store.SaveRecord(ctx, "SHIP-1", rec); err != nil {
		t.Fatalf("SaveRecord failed: %v", err)
	}
	if err := store.SaveRecord(ctx, "SHIP-1", models.ChargeApplicationRecord{
		ChargeIndex: 0, ChargeCode: "FSC", ChargeName: "Fuel",
		ActualCost: decimal.NewFromFloat(20), ActualCharge: decimal.NewFromFloat(25),
		Status: models.ChargeApplied, AppliedAt: rec.AppliedAt,
	}); err != nil {
		t.Fatalf("SaveRecord failed: %v", err)
	}

	records, err := store.Records(ctx, "SHIP-1")
	if err != nil {
		t.Fatalf("Records failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(records))
	}
	if records[0].ChargeIndex != 0 || records[1].ChargeIndex != 1 {
		t.Errorf("Expected records ordered by charge index, got %d then %d",
			records[0].ChargeIndex, records[1].ChargeIndex)
	}
	if !records[1].ActualCost.Equal(decimal.NewFromFloat(175.50)) {
		t.Errorf("ActualCost did not round-trip: %s", records[1].ActualCost)
	}
	if !records[1].ActualCharge.Equal(decimal.NewFromFloat(210.25)) {
		t.Errorf("ActualCharge did not round-trip: %s", records[1].ActualCharge)
	}

	if err := store.DeleteRecord(ctx, "SHIP-1", 1); err != nil {
		t.Fatalf("DeleteRecord failed: %v", err)
	}
	records, err = store.Records(ctx, "SHIP-1")
	if err != nil {
		t.Fatalf("Records failed: %v", err)
	}
	if len(records) != 1 || records[0].ChargeIndex != 0 {
		t.Errorf("Expected only record 0 after delete, got %+v", records)
	}
}

func TestLedgerStoreVersioning(t *testing.T) {
	db := openTestDB(t)
	store := db.LedgerStore()
	ctx := context.Background()

	version, err := store.Version(ctx, "SHIP-1")
	if err != nil {
		t.Fatalf("Version failed: %v", err)
	}
	if version != 0 {
		t.Errorf("Expected version 0 for an unseen shipment, got %d", version)
	}

	if err := store.CompareAndBump(ctx, "SHIP-1", 0); err != nil {
		t.Fatalf("CompareAndBump from 0 failed: %v", err)
	}
	if err := store.CompareAndBump(ctx, "SHIP-1", 1); err != nil {
		t.Fatalf("CompareAndBump from 1 failed: %v", err)
	}

	version, err = store.Version(ctx, "SHIP-1")
	if err != nil {
		t.Fatalf("Version failed: %v", err)
	}
	if version != 2 {
		t.Errorf("Expected version 2, got %d", version)
	}
}

func TestLedgerStoreVersionConflict(t *testing.T) {
	db := openTestDB(t)
	store := db.LedgerStore()
	ctx := context.Background()

	if err := store.CompareAndBump(ctx, "SHIP-1", 0); err != nil {
		t.Fatalf("CompareAndBump failed: %v", err)
	}

	if err := store.CompareAndBump(ctx, "SHIP-1", 0); err != ledger.ErrVersionConflict {
		t.Errorf("Expected version conflict on stale expected version, got %v", err)
	}
	if err := store.CompareAndBump(ctx, "SHIP-1", 5); err != ledger.ErrVersionConflict {
		t.Errorf("Expected version conflict on future expected version, got %v", err)
	}
}

func TestLedgerStoreStatusAndException(t *testing.T) {
	db := openTestDB(t)
	store := db.LedgerStore()
	ctx := context.Background()

	if err := store.SetStatus(ctx, "SHIP-1", models.StatusPartiallyProcessed); err != nil {
		t.Fatalf("SetStatus failed: %v", err)
	}

	flagged, err := store.Exception(ctx, "SHIP-1")
	if err != nil {
		t.Fatalf("Exception failed: %v", err)
	}
	if flagged {
		t.Error("Exception should default to false")
	}

	if err := store.SetException(ctx, "SHIP-1", true); err != nil {
		t.Fatalf("SetException failed: %v", err)
	}
	flagged, err = store.Exception(ctx, "SHIP-1")
	if err != nil {
		t.Fatalf("Exception failed: %v", err)
	}
	if !flagged {
		t.Error("Exception flag did not persist")
	}
}

func TestLedgerEndToEndOverSQLite(t *testing.T) {
	db := openTestDB(t)
	ldg := ledger.New(db.LedgerStore())
	ctx := context.Background()

	rows := []models.ComparisonRow{
		{Code: "FRT", Name: "Freight", Currency: "CAD",
			SystemActualCost: decimal.NewFromFloat(175.00), Matched: true,
			Recommendation: models.RecommendApprove},
		{Code: "ACC", Name: "Liftgate", Currency: "CAD",
			InvoiceAmount:  decimal.NewFromFloat(45.00),
			Recommendation: models.RecommendReview},
	}

	report, err := ldg.Apply(ctx, "SHIP-1", []int{0}, rows)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if report.Status != models.StatusPartiallyProcessed {
		t.Errorf("Expected partially_processed, got %s", report.Status)
	}

	report, err = ldg.Apply(ctx, "SHIP-1", []int{1}, rows)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if report.Status != models.StatusProcessed {
		t.Errorf("Expected processed, got %s", report.Status)
	}

	status, err := ldg.Status(ctx, "SHIP-1", len(rows))
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if status != models.StatusProcessed {
		t.Errorf("Expected processed from durable store, got %s", status)
	}
}
