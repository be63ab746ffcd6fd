package bot

import (
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"massdm/internal/dispatch"
	kit "massdm/internal/transport"
)

var (
	errConfirmExpired  = errors.New("confirmation expired")
	errConfirmNotYours = errors.New("confirmation belongs to another user")
)

// pendingStart is a /startdm waiting for its requester's answer.
type pendingStart struct {
	token      string
	tenant     int64
	userID     int64
	ref        kit.MessageRef
	recipients []dispatch.RecipientID
	timer      *time.Timer
}

// confirmGate holds pending confirmations keyed by a random token.
type confirmGate struct {
	mu      sync.Mutex
	pending map[string]*pendingStart
}

func newConfirmGate() *confirmGate {
	return &confirmGate{pending: map[string]*pendingStart{}}
}

func newConfirmToken() string {
	// 16 hex chars keep callback data well under the 64-byte limit.
	id := uuid.New()
	return hex.EncodeToString(id[:8])
}

// open registers p and arms its expiry. onExpire runs at most once, and
// never after take succeeded.
func (g *confirmGate) open(p *pendingStart, timeout time.Duration, onExpire func(*pendingStart)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pending[p.token] = p
	p.timer = time.AfterFunc(timeout, func() {
		g.mu.Lock()
		cur, ok := g.pending[p.token]
		if ok && cur == p {
			delete(g.pending, p.token)
		}
		g.mu.Unlock()
		if ok && cur == p && onExpire != nil {
			onExpire(p)
		}
	})
}

// take resolves token for userID. Only the requester can resolve it.
func (g *confirmGate) take(token string, userID int64) (*pendingStart, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.pending[token]
	if !ok {
		return nil, errConfirmExpired
	}
	if p.userID != userID {
		return nil, errConfirmNotYours
	}
	delete(g.pending, token)
	if p.timer != nil {
		p.timer.Stop()
	}
	return p, nil
}

func (g *confirmGate) len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.pending)
}
