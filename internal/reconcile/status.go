package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	pkgredis "github.com/shopraq/shopraq-backend/pkg/redis"
)

// SnapshotKey is where the engine publishes its loop status in Redis.
const SnapshotKey = "reconcile:status"

// snapshotTTL outlives a few idle intervals so a stalled engine reads as
// stale rather than lingering forever.
const snapshotTTL = 5 * time.Minute

// Snapshot is the published state of the reconciliation loop, read by the
// polling-status endpoint.
type Snapshot struct {
	Mode            string    `json:"mode"`
	IntervalSeconds int       `json:"interval_seconds"`
	PendingPayments int64     `json:"pending_payments"`
	UpdatedAt       time.Time `json:"updated_at"`
}

type snapshotReader interface {
	Get(ctx context.Context, key string) (string, error)
}

func (e *Engine) publishSnapshot(ctx context.Context, interval time.Duration, pending int64) {
	if e.snapshot == nil {
		return
	}
	snap := Snapshot{
		Mode:            modeFor(pending),
		IntervalSeconds: int(interval / time.Second),
		PendingPayments: pending,
		UpdatedAt:       e.now().UTC(),
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		e.logg.Error(ctx, "encoding reconcile snapshot", err)
		return
	}
	if err := e.snapshot.Set(ctx, SnapshotKey, string(raw), snapshotTTL); err != nil {
		e.logg.Error(ctx, "publishing reconcile snapshot", err)
	}
}

// ReadSnapshot loads the last published loop status. Returns nil when the
// engine has not published recently (missing key).
func ReadSnapshot(ctx context.Context, store snapshotReader) (*Snapshot, error) {
	raw, err := store.Get(ctx, SnapshotKey)
	if err != nil {
		if errors.Is(err, pkgredis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var snap Snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}
