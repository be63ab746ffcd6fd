package app

import (
	"context"

	"massdm/internal/dispatch"
	"massdm/internal/storage"
)

// storeJournal persists terminal job snapshots.
type storeJournal struct{ store storage.Store }

func (j storeJournal) RecordJob(ctx context.Context, s dispatch.Snapshot, kind dispatch.PayloadKind) error {
	return j.store.AppendJob(ctx, jobRecord(s, kind))
}

func jobRecord(s dispatch.Snapshot, kind dispatch.PayloadKind) storage.JobRecord {
	return storage.JobRecord{
		ID:          s.JobID,
		Tenant:      s.Tenant,
		Mode:        string(s.Policy.Mode),
		State:       string(s.State),
		PayloadKind: string(kind),
		Total:       s.Total,
		Processed:   s.Processed,
		Sent:        s.Sent,
		Failed:      s.Failed,
		Rejected:    s.Rejected,
		StartedAt:   s.StartedAt,
		FinishedAt:  s.StartedAt.Add(s.Elapsed),
		ElapsedMS:   s.Elapsed.Milliseconds(),
	}
}
