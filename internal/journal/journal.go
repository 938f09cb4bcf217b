// Package journal records requests whose payment was taken (settled on-chain
// or nullifier consumed) but whose content could not be delivered. Entries
// are kept for manual follow-up; the gate never rolls a payment back.
package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// UnfulfilledKey is the Redis list holding journal entries, oldest first.
const UnfulfilledKey = "x402:unfulfilled"

// Entry describes one paid but undelivered request. Secrets are never
// stored; nullifiers only as a short prefix.
type Entry struct {
	ID            string    `json:"id"`
	Resource      string    `json:"resource"`
	Scheme        string    `json:"scheme"`
	Network       string    `json:"network,omitempty"`
	SettlementRef string    `json:"settlementRef,omitempty"`
	Payer         string    `json:"payer,omitempty"`
	Nullifier     string    `json:"nullifier,omitempty"`
	Error         string    `json:"error"`
	At            time.Time `json:"at"`
}

type Journal interface {
	Record(ctx context.Context, e Entry) error
}

// Redis appends entries to UnfulfilledKey.
type Redis struct {
	rdb *redis.Client
	now func() time.Time
}

func NewRedis(rdb *redis.Client) *Redis {
	return &Redis{rdb: rdb, now: time.Now}
}

// Record assigns ID and At when unset and appends e.
func (j *Redis) Record(ctx context.Context, e Entry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.At.IsZero() {
		e.At = j.now().UTC()
	}
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal journal entry: %w", err)
	}
	if err := j.rdb.RPush(ctx, UnfulfilledKey, raw).Err(); err != nil {
		return fmt.Errorf("journal rpush: %w", err)
	}
	return nil
}

func (j *Redis) Len(ctx context.Context) (int64, error) {
	return j.rdb.LLen(ctx, UnfulfilledKey).Result()
}

// List returns up to n entries, oldest first. Malformed items are skipped.
func (j *Redis) List(ctx context.Context, n int64) ([]Entry, error) {
	if n <= 0 {
		return nil, nil
	}
	raws, err := j.rdb.LRange(ctx, UnfulfilledKey, 0, n-1).Result()
	if err != nil {
		return nil, fmt.Errorf("journal lrange: %w", err)
	}
	out := make([]Entry, 0, len(raws))
	for _, raw := range raws {
		var e Entry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// reportLimit caps how many pending entries ReportPending logs one by one.
const reportLimit = 10

// ReportPending logs how many entries await follow-up, and the oldest of
// them. Called at startup.
func ReportPending(ctx context.Context, j *Redis, log *zap.Logger) {
	n, err := j.Len(ctx)
	if err != nil {
		log.Warn("journal: could not read pending entries", zap.Error(err))
		return
	}
	if n == 0 {
		log.Info("journal: no pending entries")
		return
	}
	log.Warn("journal: paid requests awaiting fulfilment", zap.Int64("count", n), zap.String("key", UnfulfilledKey))

	entries, err := j.List(ctx, reportLimit)
	if err != nil {
		log.Warn("journal: could not list pending entries", zap.Error(err))
		return
	}
	for _, e := range entries {
		log.Warn("journal: pending entry",
			zap.String("id", e.ID),
			zap.String("resource", e.Resource),
			zap.String("scheme", e.Scheme),
			zap.String("settlement_ref", e.SettlementRef),
			zap.Time("at", e.At),
		)
	}
}

// Log writes entries to the logger only. Used when no Redis is configured.
type Log struct {
	log *zap.Logger
}

func NewLog(log *zap.Logger) *Log { return &Log{log: log} }

func (j *Log) Record(_ context.Context, e Entry) error {
	j.log.Error("paid request not fulfilled",
		zap.String("resource", e.Resource),
		zap.String("scheme", e.Scheme),
		zap.String("settlement_ref", e.SettlementRef),
		zap.String("nullifier", e.Nullifier),
		zap.String("error", e.Error),
	)
	return nil
}

var (
	_ Journal = (*Redis)(nil)
	_ Journal = (*Log)(nil)
)
