package bot

import (
	"context"
	"slices"
	"strconv"
	"sync"
	"time"

	"massdm/internal/dispatch"
	"massdm/internal/runtime/supervisor"
	"massdm/internal/storage"
	kit "massdm/internal/transport"
	logx "massdm/pkg/logx"
	"massdm/pkg/tgui"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessOwnerOnly
)

const (
	callbackNS      = "dm"
	defaultTimeout  = 15 * time.Second
	defaultConfirm  = 30 * time.Second
	updateQueueSize = 256
)

type Command struct {
	Name        string
	Aliases     []string
	Description string
	Access      Access
	Timeout     time.Duration // optional per-command override
	Handle      HandlerFunc
}

type Request struct {
	Update  kit.Update
	Chat    kit.ChatTarget
	Tenant  int64
	FromID  int64
	Command string
	// Text is everything after the command word, line breaks preserved.
	Text   string
	ReqID  string
	Logger logx.Logger

	// Set for callback requests.
	CallbackID string
	Action     string
	Payload    string
	MessageID  int
}

// Settings are the hot-reloadable parts of the bot.
type Settings struct {
	Owners         []int64
	ConfirmTimeout time.Duration
}

type Deps struct {
	Adapter    kit.Adapter
	Controller *dispatch.Controller
	// Store may be nil; the bot then keeps state in memory.
	Store    storage.Store
	Log      logx.Logger
	Settings Settings
	Workers  int
}

type Bot struct {
	log      logx.Logger
	adapter  kit.Adapter
	ctrl     *dispatch.Controller
	store    storage.Store
	audience *Audience
	confirms *confirmGate
	workers  int

	cmds      map[string]*Command
	order     []*Command
	callbacks map[string]HandlerFunc

	mu             sync.RWMutex
	owners         []int64
	confirmTimeout time.Duration
	base           context.Context
}

func New(d Deps) *Bot {
	log := d.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	store := d.Store
	if store == nil {
		store = storage.NewMemory()
	}
	b := &Bot{
		log:      log.With(logx.String("comp", "bot")),
		adapter:  d.Adapter,
		ctrl:     d.Controller,
		store:    store,
		audience: NewAudience(store),
		confirms: newConfirmGate(),
		workers:  d.Workers,
		base:     context.Background(),
	}
	if b.workers <= 0 {
		b.workers = 4
	}
	b.Apply(d.Settings)
	b.register(b.commands())
	b.callbacks = map[string]HandlerFunc{
		"ok": b.handleConfirm,
		"no": b.handleDecline,
	}
	return b
}

// Apply swaps the reloadable settings.
func (b *Bot) Apply(s Settings) {
	ct := s.ConfirmTimeout
	if ct <= 0 {
		ct = defaultConfirm
	}
	b.mu.Lock()
	b.owners = slices.Clone(s.Owners)
	b.confirmTimeout = ct
	b.mu.Unlock()
	if len(s.Owners) == 0 {
		b.log.Warn("no owner_user_ids configured; owner commands are disabled")
	}
}

func (b *Bot) isOwner(id int64) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return slices.Contains(b.owners, id)
}

func (b *Bot) confirmWindow() time.Duration {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.confirmTimeout
}

func (b *Bot) baseContext() context.Context {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.base
}

func (b *Bot) register(cmds []Command) {
	b.cmds = map[string]*Command{}
	for i := range cmds {
		c := &cmds[i]
		b.order = append(b.order, c)
		b.cmds[c.Name] = c
		for _, a := range c.Aliases {
			if _, exists := b.cmds[a]; !exists {
				b.cmds[a] = c
			}
		}
	}
}

// MenuCommands lists the commands for the client's command menu.
func (b *Bot) MenuCommands() []kit.BotCommand {
	out := make([]kit.BotCommand, 0, len(b.order))
	for _, c := range b.order {
		desc := c.Description
		if c.Access == AccessOwnerOnly {
			desc = "🔒 " + desc
		}
		out = append(out, kit.BotCommand{Command: c.Name, Description: desc})
	}
	return out
}

// Run consumes updates on a bounded worker pool until ctx is done or
// updates is closed.
func (b *Bot) Run(ctx context.Context, updates <-chan kit.Update) error {
	sup := supervisor.New(ctx,
		supervisor.WithLogger(b.log.With(logx.String("comp", "bot.router"))),
		supervisor.WithCancelOnError(false),
	)
	b.mu.Lock()
	b.base = sup.Context()
	b.mu.Unlock()

	jobs := make(chan kit.Update, updateQueueSize)
	for i := range b.workers {
		sup.GoRestart("bot.worker."+strconv.Itoa(i), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case up, ok := <-jobs:
					if !ok {
						return nil
					}
					b.HandleUpdate(c, up)
				}
			}
		}, supervisor.WithRestartBackoff(200*time.Millisecond, 5*time.Second))
	}
	b.log.Info("update dispatcher started", logx.Int("workers", b.workers), logx.Int("queue_cap", cap(jobs)))

	defer func() {
		close(jobs)
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		sup.Cancel()
		b.log.Info("update dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			select {
			case jobs <- up:
			default:
				b.log.Warn("update dropped (workers busy)", logx.String("kind", string(up.Kind)))
				if up.Kind == kit.UpdateCallback && up.Callback != nil {
					_ = b.adapter.AnswerCallback(ctx, up.Callback.ID, "busy, try again")
				}
			}
		}
	}
}

// HandleUpdate processes one update synchronously.
func (b *Bot) HandleUpdate(ctx context.Context, up kit.Update) {
	switch up.Kind {
	case kit.UpdateMessage:
		b.routeMessage(ctx, up)
	case kit.UpdateCallback:
		b.routeCallback(ctx, up)
	}
}

func (b *Bot) routeMessage(ctx context.Context, up kit.Update) {
	msg := up.Message
	if msg == nil {
		return
	}
	if msg.IsGroup && !msg.FromIsBot && msg.FromID != 0 {
		if added, err := b.audience.Add(ctx, msg.ChatID, msg.FromID); err != nil {
			b.log.Warn("audience record failed", logx.Int64("tenant", msg.ChatID), logx.Err(err))
		} else if added {
			b.log.Debug("audience member added", logx.Int64("tenant", msg.ChatID), logx.Int64("user_id", msg.FromID))
		}
	}

	name, _, rest, ok := parseCommand(msg.Text)
	if !ok || msg.FromIsBot {
		return
	}
	cmd := b.cmds[name]
	if cmd == nil {
		return
	}
	chat := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}
	if cmd.Access == AccessOwnerOnly && !b.isOwner(msg.FromID) {
		_, _ = errorReply("Owner only command.").Send(ctx, b.adapter, chat)
		return
	}

	rid := newReqID()
	req := &Request{
		Update:  up,
		Chat:    chat,
		Tenant:  msg.ChatID,
		FromID:  msg.FromID,
		Command: cmd.Name,
		Text:    rest,
		ReqID:   rid,
		Logger: b.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", msg.ChatID),
			logx.Int64("from_id", msg.FromID),
			logx.String("cmd", cmd.Name),
		),
	}
	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	b.serve(ctx, req, cmd.Handle, timeout)
}

func (b *Bot) routeCallback(ctx context.Context, up kit.Update) {
	cb := up.Callback
	if cb == nil {
		return
	}
	ns, action, payload, ok := tgui.ParseData(cb.Data)
	if !ok || ns != callbackNS {
		return
	}
	h := b.callbacks[action]
	if h == nil {
		_ = b.adapter.AnswerCallback(ctx, cb.ID, "")
		return
	}
	if !b.isOwner(cb.FromID) {
		_ = b.adapter.AnswerCallback(ctx, cb.ID, "forbidden")
		return
	}
	rid := newReqID()
	req := &Request{
		Update:     up,
		Chat:       kit.ChatTarget{ChatID: cb.ChatID, ThreadID: cb.ThreadID},
		Tenant:     cb.ChatID,
		FromID:     cb.FromID,
		Command:    "cb:" + ns + ":" + action,
		ReqID:      rid,
		CallbackID: cb.ID,
		Action:     action,
		Payload:    payload,
		MessageID:  cb.MessageID,
		Logger: b.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", cb.ChatID),
			logx.Int64("from_id", cb.FromID),
			logx.String("cmd", "cb:"+action),
		),
	}
	b.serve(ctx, req, h, defaultTimeout)
}

func (b *Bot) reply(ctx context.Context, req *Request, m tgui.Message) error {
	_, err := m.Send(ctx, b.adapter, req.Chat)
	return err
}
