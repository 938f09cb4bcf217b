// Package nullifier tracks consumed single-use redemption tokens.
//
// Every backend exposes one authoritative operation, TryConsume, which is
// atomic: under concurrent callers presenting the same nullifier exactly one
// observes true. Has is a read-only probe and must never be used to decide
// acceptance.
//
// Retention: a backend configured with a TTL forgets a nullifier once the TTL
// elapses, after which the same nullifier is accepted again. Operators must
// only set a TTL longer than the period in which a secret/nullifier pair can
// still be presented.
package nullifier

import (
	"context"
	"errors"
	"time"
)

var ErrEmptyNullifier = errors.New("empty nullifier")

// Store is satisfied by MemoryStore, RedisStore and PostgresStore.
type Store interface {
	TryConsume(ctx context.Context, nullifier string) (bool, error)
	Has(ctx context.Context, nullifier string) (bool, error)
}

// Record marks a consumed nullifier.
type Record struct {
	Nullifier  string
	ConsumedAt time.Time
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*RedisStore)(nil)
	_ Store = (*PostgresStore)(nil)
)
