package bot

import (
	"context"

	"massdm/internal/dispatch"
	kit "massdm/internal/transport"
)

// progressReporter edits one status message in place.
type progressReporter struct {
	adapter kit.Adapter
	ref     kit.MessageRef
	summary string
}

func (r *progressReporter) Report(ctx context.Context, s dispatch.Snapshot) error {
	summary := ""
	if s.State == dispatch.StateCompleted {
		summary = r.summary
	}
	return renderSnapshot(s, summary).Edit(ctx, r.adapter, r.ref)
}
