package bot

import (
	"context"
	"sync"

	"massdm/internal/dispatch"
	"massdm/internal/storage"
)

// Audience records the non-bot users seen in each tenant chat. A seen-set
// in front of the store keeps repeat posters from hitting storage.
type Audience struct {
	store storage.Store

	mu   sync.Mutex
	seen map[int64]map[int64]struct{}
}

func NewAudience(store storage.Store) *Audience {
	if store == nil {
		store = storage.NewMemory()
	}
	return &Audience{store: store, seen: map[int64]map[int64]struct{}{}}
}

// Add reports whether userID was new for tenant.
func (a *Audience) Add(ctx context.Context, tenant, userID int64) (bool, error) {
	a.mu.Lock()
	set := a.seen[tenant]
	if set == nil {
		set = map[int64]struct{}{}
		a.seen[tenant] = set
	}
	if _, ok := set[userID]; ok {
		a.mu.Unlock()
		return false, nil
	}
	set[userID] = struct{}{}
	a.mu.Unlock()

	if err := a.store.AddAudience(ctx, tenant, userID); err != nil {
		a.mu.Lock()
		delete(set, userID)
		a.mu.Unlock()
		return false, err
	}
	return true, nil
}

// Recipients snapshots the tenant's audience in first-seen order.
func (a *Audience) Recipients(ctx context.Context, tenant int64) ([]dispatch.RecipientID, error) {
	ids, err := a.store.Audience(ctx, tenant)
	if err != nil {
		return nil, err
	}
	out := make([]dispatch.RecipientID, len(ids))
	for i, id := range ids {
		out[i] = dispatch.RecipientID(id)
	}
	return out, nil
}

func (a *Audience) Count(ctx context.Context, tenant int64) int {
	ids, err := a.store.Audience(ctx, tenant)
	if err != nil {
		return 0
	}
	return len(ids)
}
