package approval

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps approval records in process memory. It is the default
// for single-process deployments and for tests.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
	now     func() time.Time
}

// NewMemoryStore creates an empty in-memory ledger.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record), now: time.Now}
}

// Create implements Store.
func (m *MemoryStore) Create(_ context.Context, payload Payload) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now().Unix()
	record := &Record{
		ID:        uuid.NewString(),
		Status:    StatusPending,
		Payload:   payload,
		CreatedAt: now,
	}
	if payload.Requirement.MaxTimeoutSeconds > 0 {
		record.ExpiresAt = now + payload.Requirement.MaxTimeoutSeconds
	}
	m.records[record.ID] = record
	return cloneRecord(record), nil
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context, id string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	record, ok := m.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneRecord(record), nil
}

// Approve implements Store. The check and the write happen under one lock,
// so concurrent resolutions of the same id serialise and the first wins.
func (m *MemoryStore) Approve(_ context.Context, id string) (*Record, error) {
	return m.resolve(id, StatusApproved)
}

// Deny implements Store.
func (m *MemoryStore) Deny(_ context.Context, id string) (*Record, error) {
	return m.resolve(id, StatusDenied)
}

func (m *MemoryStore) resolve(id string, target Status) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok := m.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	if record.Status.Terminal() {
		return cloneRecord(record), nil
	}

	now := m.now().Unix()
	record.Status = target
	switch target {
	case StatusApproved:
		record.ApprovedAt = now
	case StatusDenied:
		record.DeniedAt = now
	}
	return cloneRecord(record), nil
}

// ListPending implements Store.
func (m *MemoryStore) ListPending(_ context.Context, limit int) ([]*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}
	pending := make([]*Record, 0, len(m.records))
	for _, record := range m.records {
		if record.Status == StatusPending {
			pending = append(pending, cloneRecord(record))
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		if pending[i].CreatedAt == pending[j].CreatedAt {
			return pending[i].ID < pending[j].ID
		}
		return pending[i].CreatedAt > pending[j].CreatedAt
	})
	if len(pending) > limit {
		pending = pending[:limit]
	}
	return pending, nil
}

// Close implements Store; nothing to release.
func (m *MemoryStore) Close() error {
	return nil
}

func cloneRecord(record *Record) *Record {
	clone := *record
	return &clone
}

var _ Store = (*MemoryStore)(nil)
