package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	logx "massdm/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger

	// seq orders audience rows by first sight.
	seq atomic.Int64
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := st.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}

	var maxSeq sql.NullInt64
	if err := db.QueryRowContext(ctx, `SELECT MAX(seq) FROM audience`).Scan(&maxSeq); err != nil {
		_ = db.Close()
		return nil, err
	}
	st.seq.Store(maxSeq.Int64)
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) PutControlChannel(ctx context.Context, tenant int64, ch ControlChannel) error {
	if ch.SetAt.IsZero() {
		ch.SetAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO control_channels(tenant, chat_id, thread_id, set_by, set_at) VALUES(?,?,?,?,?)
		 ON CONFLICT(tenant) DO UPDATE SET chat_id=excluded.chat_id, thread_id=excluded.thread_id,
		   set_by=excluded.set_by, set_at=excluded.set_at`,
		tenant, ch.ChatID, ch.ThreadID, ch.SetBy, ch.SetAt.UnixMilli(),
	)
	return err
}

func (s *sqliteStore) ControlChannel(ctx context.Context, tenant int64) (ControlChannel, bool, error) {
	var ch ControlChannel
	var at int64
	err := s.db.QueryRowContext(ctx,
		`SELECT chat_id, thread_id, set_by, set_at FROM control_channels WHERE tenant = ?`, tenant,
	).Scan(&ch.ChatID, &ch.ThreadID, &ch.SetBy, &at)
	if errors.Is(err, sql.ErrNoRows) {
		return ControlChannel{}, false, nil
	}
	if err != nil {
		return ControlChannel{}, false, err
	}
	ch.SetAt = time.UnixMilli(at)
	return ch, true, nil
}

func (s *sqliteStore) AddAudience(ctx context.Context, tenant, userID int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audience(tenant, user_id, first_seen, seq) VALUES(?,?,?,?)
		 ON CONFLICT(tenant, user_id) DO NOTHING`,
		tenant, userID, time.Now().UnixMilli(), s.seq.Add(1),
	)
	return err
}

func (s *sqliteStore) Audience(ctx context.Context, tenant int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id FROM audience WHERE tenant = ? ORDER BY seq`, tenant)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *sqliteStore) AppendJob(ctx context.Context, r JobRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO jobs(id, tenant, mode, state, payload_kind, total, processed, sent, failed, rejected, started_at, finished_at, elapsed_ms)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		r.ID, r.Tenant, r.Mode, r.State, r.PayloadKind, r.Total, r.Processed, r.Sent, r.Failed, r.Rejected,
		r.StartedAt.UnixMilli(), r.FinishedAt.UnixMilli(), r.ElapsedMS,
	)
	return err
}

func (s *sqliteStore) RecentJobs(ctx context.Context, tenant int64, limit int) ([]JobRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tenant, mode, state, payload_kind, total, processed, sent, failed, rejected, started_at, finished_at, elapsed_ms
		 FROM jobs WHERE tenant = ? ORDER BY finished_at DESC, rowid DESC LIMIT ?`, tenant, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []JobRecord
	for rows.Next() {
		var r JobRecord
		var started, finished int64
		if err := rows.Scan(&r.ID, &r.Tenant, &r.Mode, &r.State, &r.PayloadKind, &r.Total, &r.Processed,
			&r.Sent, &r.Failed, &r.Rejected, &started, &finished, &r.ElapsedMS); err != nil {
			return nil, err
		}
		r.StartedAt = time.UnixMilli(started)
		r.FinishedAt = time.UnixMilli(finished)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) PruneJobs(ctx context.Context, before time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE finished_at < ?`, before.UnixMilli())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
