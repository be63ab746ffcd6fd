package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	logx "massdm/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.state.snapshot.json (control channels + audience)
//   - <prefix>.state.journal.jsonl (append-only state changes since the snapshot)
//   - <prefix>.jobs.jsonl          (append-only job journal)
//
// The state journal is periodically compacted into the snapshot.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	snapshotPath string
	journal      *os.File
	journalOps   int

	jobsPath string
	jobsFile *os.File
	jobs     []JobRecord

	state memState
}

const compactEvery = 500

type stateOp struct {
	Op      string          `json:"op"` // "channel" | "audience"
	Tenant  int64           `json:"tenant"`
	User    int64           `json:"user,omitempty"`
	Channel *ControlChannel `json:"channel,omitempty"`
}

type stateSnapshot struct {
	Channels map[int64]ControlChannel `json:"channels"`
	Audience map[int64][]int64        `json:"audience"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{
		log:          log,
		snapshotPath: prefix + ".state.snapshot.json",
		jobsPath:     prefix + ".jobs.jsonl",
		state:        newMemState(),
	}

	if err := s.loadSnapshot(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("state snapshot unreadable; starting empty", logx.Err(err))
	}
	journalPath := prefix + ".state.journal.jsonl"
	if err := s.replayJournal(journalPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("state journal replay failed", logx.Err(err))
	}
	if err := s.loadJobs(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("job journal replay failed", logx.Err(err))
	}

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	s.journal = jf

	bf, err := os.OpenFile(s.jobsPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		_ = jf.Close()
		return nil, err
	}
	s.jobsFile = bf
	return s, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	if s.journal != nil {
		errs = append(errs, s.journal.Close())
		s.journal = nil
	}
	if s.jobsFile != nil {
		errs = append(errs, s.jobsFile.Close())
		s.jobsFile = nil
	}
	return errors.Join(errs...)
}

func (s *fileStore) appendOpLocked(op stateOp) error {
	if s.journal == nil {
		return ErrClosed
	}
	if err := json.NewEncoder(s.journal).Encode(op); err != nil {
		return err
	}
	s.journalOps++
	if s.journalOps%compactEvery == 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Debug("state compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) PutControlChannel(_ context.Context, tenant int64, ch ControlChannel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.channels[tenant] = ch
	return s.appendOpLocked(stateOp{Op: "channel", Tenant: tenant, Channel: &ch})
}

func (s *fileStore) ControlChannel(_ context.Context, tenant int64) (ControlChannel, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.state.channels[tenant]
	return ch, ok, nil
}

func (s *fileStore) AddAudience(_ context.Context, tenant, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.addAudience(tenant, userID) {
		return nil
	}
	return s.appendOpLocked(stateOp{Op: "audience", Tenant: tenant, User: userID})
}

func (s *fileStore) Audience(_ context.Context, tenant int64) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.state.audience[tenant]), nil
}

func (s *fileStore) AppendJob(_ context.Context, r JobRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.jobsFile == nil {
		return ErrClosed
	}
	if err := json.NewEncoder(s.jobsFile).Encode(r); err != nil {
		return err
	}
	s.jobs = append(s.jobs, r)
	return nil
}

func (s *fileStore) RecentJobs(_ context.Context, tenant int64, limit int) ([]JobRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return recentFrom(s.jobs, tenant, limit), nil
}

// PruneJobs rewrites the job journal without the pruned records.
func (s *fileStore) PruneJobs(_ context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.jobsFile == nil {
		return 0, ErrClosed
	}
	kept, n := pruneRecords(slices.Clone(s.jobs), before)
	if n == 0 {
		return 0, nil
	}

	tmp := s.jobsPath + ".tmp"
	if err := writeJSONLines(tmp, kept); err != nil {
		return 0, err
	}
	_ = s.jobsFile.Close()
	if err := os.Rename(tmp, s.jobsPath); err != nil {
		return 0, err
	}
	f, err := os.OpenFile(s.jobsPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		s.jobsFile = nil
		return 0, err
	}
	s.jobsFile = f
	s.jobs = kept
	return n, nil
}

func writeJSONLines(path string, recs []JobRecord) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, r := range recs {
		if err := enc.Encode(r); err != nil {
			_ = f.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func (s *fileStore) compactLocked() error {
	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	snap := stateSnapshot{Channels: s.state.channels, Audience: s.state.audience}
	if err := json.NewEncoder(f).Encode(snap); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	if err := s.journal.Truncate(0); err != nil {
		return err
	}
	_, err = s.journal.Seek(0, 2)
	return err
}

func (s *fileStore) loadSnapshot() error {
	f, err := os.Open(s.snapshotPath)
	if err != nil {
		return err
	}
	defer f.Close()
	var snap stateSnapshot
	if err := json.NewDecoder(f).Decode(&snap); err != nil {
		return err
	}
	for k, v := range snap.Channels {
		s.state.channels[k] = v
	}
	for tenant, users := range snap.Audience {
		for _, u := range users {
			s.state.addAudience(tenant, u)
		}
	}
	return nil
}

func (s *fileStore) replayJournal(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var op stateOp
		if err := json.Unmarshal(sc.Bytes(), &op); err != nil {
			continue
		}
		switch op.Op {
		case "channel":
			if op.Channel != nil {
				s.state.channels[op.Tenant] = *op.Channel
			}
		case "audience":
			s.state.addAudience(op.Tenant, op.User)
		}
	}
	return sc.Err()
}

func (s *fileStore) loadJobs() error {
	f, err := os.Open(s.jobsPath)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r JobRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil || r.ID == "" {
			continue
		}
		s.jobs = append(s.jobs, r)
	}
	return sc.Err()
}
