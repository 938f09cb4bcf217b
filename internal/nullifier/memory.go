package nullifier

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps records in a mutex-guarded map for the process lifetime,
// or for TTL when one is set.
type MemoryStore struct {
	mu      sync.Mutex
	now     func() time.Time
	ttl     time.Duration
	records map[string]Record
	lastGC  time.Time
}

type MemoryStoreConfig struct {
	// TTL of zero keeps records forever.
	TTL time.Duration
	Now func() time.Time
}

func NewMemoryStore(cfg MemoryStoreConfig) *MemoryStore {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &MemoryStore{
		now:     cfg.Now,
		ttl:     cfg.TTL,
		records: make(map[string]Record),
	}
}

func (m *MemoryStore) TryConsume(_ context.Context, nullifier string) (bool, error) {
	if nullifier == "" {
		return false, ErrEmptyNullifier
	}
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.maybeGC(now)
	if rec, ok := m.records[nullifier]; ok && !m.expired(rec, now) {
		return false, nil
	}
	m.records[nullifier] = Record{Nullifier: nullifier, ConsumedAt: now}
	return true, nil
}

func (m *MemoryStore) Has(_ context.Context, nullifier string) (bool, error) {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[nullifier]
	return ok && !m.expired(rec, now), nil
}

// Len returns the number of records currently held, expired ones included.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

func (m *MemoryStore) expired(rec Record, now time.Time) bool {
	return m.ttl > 0 && now.Sub(rec.ConsumedAt) >= m.ttl
}

// maybeGC sweeps expired records at most once per TTL. Caller holds mu.
func (m *MemoryStore) maybeGC(now time.Time) {
	if m.ttl <= 0 || now.Sub(m.lastGC) < m.ttl {
		return
	}
	for key, rec := range m.records {
		if m.expired(rec, now) {
			delete(m.records, key)
		}
	}
	m.lastGC = now
}
