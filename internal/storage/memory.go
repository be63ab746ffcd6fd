package storage

import (
	"context"
	"slices"
	"sync"
	"time"
)

type memState struct {
	channels map[int64]ControlChannel
	audience map[int64][]int64
	seen     map[int64]map[int64]struct{}
}

func newMemState() memState {
	return memState{
		channels: map[int64]ControlChannel{},
		audience: map[int64][]int64{},
		seen:     map[int64]map[int64]struct{}{},
	}
}

// addAudience reports whether userID was new.
func (m *memState) addAudience(tenant, userID int64) bool {
	set := m.seen[tenant]
	if set == nil {
		set = map[int64]struct{}{}
		m.seen[tenant] = set
	}
	if _, ok := set[userID]; ok {
		return false
	}
	set[userID] = struct{}{}
	m.audience[tenant] = append(m.audience[tenant], userID)
	return true
}

type memoryStore struct {
	mu    sync.Mutex
	state memState
	jobs  []JobRecord
}

// NewMemory returns a process-local Store.
func NewMemory() Store {
	return &memoryStore{state: newMemState()}
}

func (s *memoryStore) PutControlChannel(_ context.Context, tenant int64, ch ControlChannel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.channels[tenant] = ch
	return nil
}

func (s *memoryStore) ControlChannel(_ context.Context, tenant int64) (ControlChannel, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.state.channels[tenant]
	return ch, ok, nil
}

func (s *memoryStore) AddAudience(_ context.Context, tenant, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.addAudience(tenant, userID)
	return nil
}

func (s *memoryStore) Audience(_ context.Context, tenant int64) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.state.audience[tenant]), nil
}

func (s *memoryStore) AppendJob(_ context.Context, r JobRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, r)
	return nil
}

func (s *memoryStore) RecentJobs(_ context.Context, tenant int64, limit int) ([]JobRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return recentFrom(s.jobs, tenant, limit), nil
}

func (s *memoryStore) PruneJobs(_ context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int
	s.jobs, n = pruneRecords(s.jobs, before)
	return n, nil
}

func (s *memoryStore) Close() error { return nil }

// recentFrom scans an append-ordered slice newest first.
func recentFrom(all []JobRecord, tenant int64, limit int) []JobRecord {
	if limit <= 0 {
		limit = 10
	}
	out := make([]JobRecord, 0, min(limit, len(all)))
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		if all[i].Tenant == tenant {
			out = append(out, all[i])
		}
	}
	return out
}

func pruneRecords(all []JobRecord, before time.Time) ([]JobRecord, int) {
	kept := all[:0]
	for _, r := range all {
		if !r.FinishedAt.Before(before) {
			kept = append(kept, r)
		}
	}
	return kept, len(all) - len(kept)
}
