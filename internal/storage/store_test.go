package storage

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	logx "massdm/pkg/logx"
)

func openForTest(t *testing.T, driver string) Store {
	t.Helper()
	cfg := Config{Driver: driver}
	switch driver {
	case "file":
		cfg.Path = filepath.Join(t.TempDir(), "state.json")
	case "sqlite":
		cfg.Path = filepath.Join(t.TempDir(), "massdm.db")
	case "redis":
		addr := os.Getenv("MASSDM_TEST_REDIS_ADDR")
		if addr == "" {
			t.Skip("MASSDM_TEST_REDIS_ADDR not set")
		}
		cfg.RedisAddr = addr
		cfg.RedisPrefix = "massdm-test-" + time.Now().Format("150405.000000000")
	}
	st, err := Open(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("Open(%s): %v", driver, err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestStoreContract(t *testing.T) {
	for _, driver := range []string{"memory", "file", "sqlite", "redis"} {
		t.Run(driver, func(t *testing.T) {
			ctx := context.Background()
			st := openForTest(t, driver)

			if _, ok, err := st.ControlChannel(ctx, 1); err != nil || ok {
				t.Fatalf("empty control channel: ok=%v err=%v", ok, err)
			}
			want := ControlChannel{ChatID: -100, ThreadID: 7, SetBy: 42, SetAt: time.UnixMilli(1_700_000_000_000)}
			if err := st.PutControlChannel(ctx, 1, want); err != nil {
				t.Fatalf("PutControlChannel: %v", err)
			}
			got, ok, err := st.ControlChannel(ctx, 1)
			if err != nil || !ok {
				t.Fatalf("ControlChannel: ok=%v err=%v", ok, err)
			}
			if got.ChatID != want.ChatID || got.ThreadID != want.ThreadID || got.SetBy != want.SetBy || !got.SetAt.Equal(want.SetAt) {
				t.Fatalf("control channel mismatch: got %+v want %+v", got, want)
			}

			for _, u := range []int64{5, 3, 5, 9, 3} {
				if err := st.AddAudience(ctx, 1, u); err != nil {
					t.Fatalf("AddAudience: %v", err)
				}
			}
			_ = st.AddAudience(ctx, 2, 77)
			aud, err := st.Audience(ctx, 1)
			if err != nil {
				t.Fatalf("Audience: %v", err)
			}
			if !slices.Equal(aud, []int64{5, 3, 9}) {
				t.Fatalf("audience=%v want [5 3 9]", aud)
			}

			base := time.UnixMilli(1_700_000_000_000)
			for i, id := range []string{"a", "b", "c"} {
				rec := JobRecord{
					ID: id, Tenant: 1, Mode: "safe", State: "completed", PayloadKind: "text",
					Total: 3, Processed: 3, Sent: 3,
					StartedAt:  base.Add(time.Duration(i) * time.Hour),
					FinishedAt: base.Add(time.Duration(i)*time.Hour + time.Minute),
					ElapsedMS:  60_000,
				}
				if err := st.AppendJob(ctx, rec); err != nil {
					t.Fatalf("AppendJob: %v", err)
				}
			}
			_ = st.AppendJob(ctx, JobRecord{ID: "other", Tenant: 2, FinishedAt: base})

			recent, err := st.RecentJobs(ctx, 1, 2)
			if err != nil {
				t.Fatalf("RecentJobs: %v", err)
			}
			if len(recent) != 2 || recent[0].ID != "c" || recent[1].ID != "b" {
				t.Fatalf("recent=%+v want [c b]", recent)
			}
			if recent[0].Sent != 3 || recent[0].ElapsedMS != 60_000 {
				t.Fatalf("record fields lost: %+v", recent[0])
			}

			n, err := st.PruneJobs(ctx, base.Add(90*time.Minute))
			if err != nil {
				t.Fatalf("PruneJobs: %v", err)
			}
			if n != 3 {
				t.Fatalf("pruned=%d want 3 (a, b, other)", n)
			}
			recent, _ = st.RecentJobs(ctx, 1, 0)
			if len(recent) != 1 || recent[0].ID != "c" {
				t.Fatalf("after prune recent=%+v", recent)
			}
		})
	}
}

func TestOpenDisabledAndUnknown(t *testing.T) {
	for _, d := range []string{"", "none", " NONE "} {
		st, err := Open(Config{Driver: d}, logx.Nop())
		if err != nil || st != nil {
			t.Fatalf("Open(%q) = %v, %v; want nil, nil", d, st, err)
		}
	}
	if _, err := Open(Config{Driver: "etcd"}, logx.Nop()); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
	if _, err := Open(Config{Driver: "file"}, logx.Nop()); err == nil {
		t.Fatalf("expected error for file driver without path")
	}
	if _, err := Open(Config{Driver: "redis"}, logx.Nop()); err == nil {
		t.Fatalf("expected error for redis driver without addr")
	}
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.json")

	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	_ = st.PutControlChannel(ctx, 1, ControlChannel{ChatID: -5, SetAt: time.Now()})
	for u := int64(1); u <= compactEvery+10; u++ {
		if err := st.AddAudience(ctx, 1, u); err != nil {
			t.Fatalf("AddAudience: %v", err)
		}
	}
	_ = st.AppendJob(ctx, JobRecord{ID: "j1", Tenant: 1, FinishedAt: time.Now()})
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := st.AddAudience(ctx, 1, 99999); err != ErrClosed {
		t.Fatalf("write after close: %v want ErrClosed", err)
	}

	st, err = Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st.Close()

	aud, _ := st.Audience(ctx, 1)
	if len(aud) != compactEvery+10 || aud[0] != 1 || aud[len(aud)-1] != compactEvery+10 {
		t.Fatalf("audience after reopen: len=%d", len(aud))
	}
	ch, ok, _ := st.ControlChannel(ctx, 1)
	if !ok || ch.ChatID != -5 {
		t.Fatalf("control channel after reopen: %+v ok=%v", ch, ok)
	}
	jobs, _ := st.RecentJobs(ctx, 1, 5)
	if len(jobs) != 1 || jobs[0].ID != "j1" {
		t.Fatalf("jobs after reopen: %+v", jobs)
	}
}

func TestSQLiteAudienceOrderSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "massdm.db")
	st, err := Open(Config{Driver: "sqlite", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	_ = st.AddAudience(ctx, 1, 30)
	_ = st.AddAudience(ctx, 1, 10)
	_ = st.Close()

	st, err = Open(Config{Driver: "sqlite", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st.Close()
	_ = st.AddAudience(ctx, 1, 20)
	aud, _ := st.Audience(ctx, 1)
	if !slices.Equal(aud, []int64{30, 10, 20}) {
		t.Fatalf("audience=%v want [30 10 20]", aud)
	}
}
