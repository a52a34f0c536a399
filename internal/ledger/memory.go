package ledger

import (
	"context"
	"sort"
	"sync"

	"freight-reconciliation-service/internal/models"
)

// MemoryStore is an in-process Store used by tests and by single-run
// CLI invocations that do not need durable state.
type MemoryStore struct {
	mu         sync.RWMutex
	records    map[string]map[int]models.ChargeApplicationRecord
	versions   map[string]int64
	statuses   map[string]models.ProcessingStatus
	exceptions map[string]bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:    make(map[string]map[int]models.ChargeApplicationRecord),
		versions:   make(map[string]int64),
		statuses:   make(map[string]models.ProcessingStatus),
		exceptions: make(map[string]bool),
	}
}

func (m *MemoryStore) Records(ctx context.Context, shipmentID string) ([]models.ChargeApplicationRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	byIndex := m.records[shipmentID]
	out := make([]models.ChargeApplicationRecord, 0, len(byIndex))
	for _, rec := range byIndex {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChargeIndex < out[j].ChargeIndex })
	return out, nil
}

func (m *MemoryStore) SaveRecord(ctx context.Context, shipmentID string, rec models.ChargeApplicationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	byIndex, ok := m.records[shipmentID]
	if !ok {
		byIndex = make(map[int]models.ChargeApplicationRecord)
		m.records[shipmentID] = byIndex
	}
	byIndex[rec.ChargeIndex] = rec
	return nil
}

func (m *MemoryStore) DeleteRecord(ctx context.Context, shipmentID string, chargeIndex int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.records[shipmentID], chargeIndex)
	return nil
}

func (m *MemoryStore) Version(ctx context.Context, shipmentID string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.versions[shipmentID], nil
}

func (m *MemoryStore) CompareAndBump(ctx context.Context, shipmentID string, expected int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.versions[shipmentID] != expected {
		return ErrVersionConflict
	}
	m.versions[shipmentID] = expected + 1
	return nil
}

func (m *MemoryStore) SetStatus(ctx context.Context, shipmentID string, status models.ProcessingStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.statuses[shipmentID] = status
	return nil
}

// StatusCache returns the last mirrored status, primarily for tests.
func (m *MemoryStore) StatusCache(shipmentID string) (models.ProcessingStatus, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status, ok := m.statuses[shipmentID]
	return status, ok
}

func (m *MemoryStore) Exception(ctx context.Context, shipmentID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.exceptions[shipmentID], nil
}

func (m *MemoryStore) SetException(ctx context.Context, shipmentID string, flagged bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.exceptions[shipmentID] = flagged
	return nil
}
