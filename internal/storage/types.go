package storage

import (
	"context"
	"errors"
	"time"
)

var ErrClosed = errors.New("storage closed")

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (jsonl journal + snapshot)
//   - "sqlite": SQLite database file
//   - "redis": shared Redis instance
//   - "memory": process-local, lost on restart
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
}

// ControlChannel is where a tenant's operator UI lives.
type ControlChannel struct {
	ChatID   int64     `json:"chat_id"`
	ThreadID int       `json:"thread_id,omitempty"`
	SetBy    int64     `json:"set_by,omitempty"`
	SetAt    time.Time `json:"set_at"`
}

// JobRecord is the journaled terminal state of a dispatch job.
// Keep it compact and schema-stable.
type JobRecord struct {
	ID          string    `json:"id"`
	Tenant      int64     `json:"tenant"`
	Mode        string    `json:"mode"`
	State       string    `json:"state"`
	PayloadKind string    `json:"payload_kind"`
	Total       int       `json:"total"`
	Processed   int       `json:"processed"`
	Sent        int       `json:"sent"`
	Failed      int       `json:"failed"`
	Rejected    int       `json:"rejected"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	ElapsedMS   int64     `json:"elapsed_ms"`
}

// Store is the persistence API used by the bot and the app.
type Store interface {
	PutControlChannel(ctx context.Context, tenant int64, ch ControlChannel) error
	ControlChannel(ctx context.Context, tenant int64) (ControlChannel, bool, error)

	// AddAudience is idempotent.
	AddAudience(ctx context.Context, tenant, userID int64) error
	// Audience returns user IDs in first-seen order.
	Audience(ctx context.Context, tenant int64) ([]int64, error)

	AppendJob(ctx context.Context, r JobRecord) error
	// RecentJobs returns up to limit records, newest first.
	RecentJobs(ctx context.Context, tenant int64, limit int) ([]JobRecord, error)
	// PruneJobs deletes records that finished before the cutoff.
	PruneJobs(ctx context.Context, before time.Time) (int, error)

	Close() error
}
