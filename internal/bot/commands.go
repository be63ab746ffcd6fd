package bot

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"massdm/internal/dispatch"
	"massdm/internal/storage"
	kit "massdm/internal/transport"
	logx "massdm/pkg/logx"
	"massdm/pkg/tgui"
)

func (b *Bot) commands() []Command {
	return []Command{
		{Name: "setup", Description: "use this chat as the control panel", Access: AccessOwnerOnly, Handle: b.handleSetup},
		{Name: "mode", Description: "choose safe or ultrafast sending", Access: AccessOwnerOnly, Handle: b.handleMode},
		{Name: "setdm", Description: "set a text message", Access: AccessOwnerOnly, Handle: b.handleSetDM},
		{Name: "setembed", Description: "set an embed message from JSON", Access: AccessOwnerOnly, Handle: b.handleSetEmbed},
		{Name: "preview", Description: "preview the current message", Access: AccessOwnerOnly, Handle: b.handlePreview},
		{Name: "startdm", Description: "start sending", Access: AccessOwnerOnly, Handle: b.handleStart},
		{Name: "stopdm", Description: "stop sending", Access: AccessOwnerOnly, Handle: b.handleStop},
		{Name: "dmstatus", Description: "show progress", Access: AccessOwnerOnly, Handle: b.handleStatus},
		{Name: "dmstats", Description: "mode comparison and history", Access: AccessOwnerOnly, Timeout: 30 * time.Second, Handle: b.handleStats},
		{Name: "dmhelp", Aliases: []string{"help", "start"}, Description: "help", Access: AccessEveryone, Handle: b.handleHelp},
	}
}

func (b *Bot) handleSetup(ctx context.Context, req *Request) error {
	ch := storage.ControlChannel{
		ChatID:   req.Chat.ChatID,
		ThreadID: req.Chat.ThreadID,
		SetBy:    req.FromID,
		SetAt:    time.Now(),
	}
	if err := b.store.PutControlChannel(ctx, req.Tenant, ch); err != nil {
		_ = b.reply(ctx, req, errorReply("Could not save the control panel."))
		return err
	}
	req.Logger.Info("control channel set", logx.Int("thread_id", ch.ThreadID))
	return b.reply(ctx, req, renderAdminPanel(b.ctrl.Presets(), b.ctrl.Policy(req.Tenant)))
}

func (b *Bot) handleMode(ctx context.Context, req *Request) error {
	name := strings.TrimSpace(req.Text)
	if name == "" {
		cur := b.ctrl.Policy(req.Tenant)
		e, n := modeTitle(cur.Mode)
		return b.reply(ctx, req, tgui.New().
			Line("Current mode: "+e+" "+n).
			Line("Usage: /mode safe | /mode ultrafast").
			Build())
	}
	pol, err := b.ctrl.SetMode(req.Tenant, name)
	if err != nil {
		return b.reply(ctx, req, errorReply("Invalid mode! Use /mode safe or /mode ultrafast."))
	}
	return b.reply(ctx, req, renderModeSet(pol, b.audience.Count(ctx, req.Tenant)))
}

func (b *Bot) handleSetDM(ctx context.Context, req *Request) error {
	if strings.TrimSpace(req.Text) == "" {
		return b.reply(ctx, req, errorReply("Usage: /setdm <message>"))
	}
	p := dispatch.TextPayload(req.Text)
	if msg, ok := checkPayloadSize(p); !ok {
		return b.reply(ctx, req, errorReply(msg))
	}
	b.ctrl.SetPayload(req.Tenant, p)
	return b.reply(ctx, req, renderMessageSet(p, b.ctrl.Policy(req.Tenant), b.audience.Count(ctx, req.Tenant)))
}

func (b *Bot) handleSetEmbed(ctx context.Context, req *Request) error {
	p, err := dispatch.ParseEmbed(req.Text)
	if err != nil {
		req.Logger.Debug("embed rejected", logx.Err(err))
		return b.reply(ctx, req, errorReply("Invalid JSON format! Example: /setembed {\"title\":\"Hello\",\"description\":\"Message\"}"))
	}
	if msg, ok := checkPayloadSize(p); !ok {
		return b.reply(ctx, req, errorReply(msg))
	}
	b.ctrl.SetPayload(req.Tenant, p)
	return b.reply(ctx, req, renderMessageSet(p, b.ctrl.Policy(req.Tenant), b.audience.Count(ctx, req.Tenant)))
}

func (b *Bot) handlePreview(ctx context.Context, req *Request) error {
	p := b.ctrl.Payload(req.Tenant)
	if p.Empty() {
		return b.reply(ctx, req, errorReply("No message set! Use /setdm first."))
	}
	if err := b.reply(ctx, req, tgui.New().
		Title("📋", "MESSAGE PREVIEW").
		Line("Type: "+payloadKindLabel(p.Kind())+", length: "+strconv.Itoa(p.Len())+" characters").
		Build()); err != nil {
		return err
	}
	return b.reply(ctx, req, RenderPayload(p))
}

func (b *Bot) handleStart(ctx context.Context, req *Request) error {
	recipients, err := b.audience.Recipients(ctx, req.Tenant)
	if err != nil {
		_ = b.reply(ctx, req, errorReply("Could not load the member list."))
		return err
	}
	st := b.ctrl.Status(req.Tenant, len(recipients))
	switch {
	case st.Running:
		return b.reply(ctx, req, errorReply(startErrorText(dispatch.ErrAlreadyRunning)))
	case st.PayloadKind == dispatch.KindNone:
		return b.reply(ctx, req, errorReply(startErrorText(dispatch.ErrNoPayload)))
	case len(recipients) == 0:
		return b.reply(ctx, req, errorReply(startErrorText(dispatch.ErrEmptyRecipientSet)))
	}

	token := newConfirmToken()
	yes, _ := tgui.Data(callbackNS, "ok", token)
	no, _ := tgui.Data(callbackNS, "no", token)
	timeout := b.confirmWindow()

	ref, err := renderConfirm(st.Policy, len(recipients), timeout, yes, no).Send(ctx, b.adapter, req.Chat)
	if err != nil {
		return err
	}
	b.confirms.open(&pendingStart{
		token:      token,
		tenant:     req.Tenant,
		userID:     req.FromID,
		ref:        ref,
		recipients: recipients,
	}, timeout, b.expireConfirm)
	req.Logger.Info("dispatch confirmation requested", logx.Int("recipients", len(recipients)), logx.Duration("timeout", timeout))
	return nil
}

func (b *Bot) expireConfirm(p *pendingStart) {
	ctx, cancel := context.WithTimeout(b.baseContext(), defaultTimeout)
	defer cancel()
	if err := errorReply("Confirmation timeout. Operation cancelled.").Edit(ctx, b.adapter, p.ref); err != nil {
		b.log.Debug("confirmation timeout edit failed", logx.Err(err))
	}
	b.log.Info("dispatch confirmation expired", logx.Int64("tenant", p.tenant), logx.Int64("from_id", p.userID))
}

func (b *Bot) takeConfirm(ctx context.Context, req *Request) *pendingStart {
	p, err := b.confirms.take(req.Payload, req.FromID)
	switch {
	case errors.Is(err, errConfirmNotYours):
		_ = b.adapter.AnswerCallback(ctx, req.CallbackID, "Only the requester can answer this.")
		return nil
	case err != nil:
		_ = b.adapter.AnswerCallback(ctx, req.CallbackID, "This confirmation has expired.")
		return nil
	}
	_ = b.adapter.AnswerCallback(ctx, req.CallbackID, "")
	return p
}

func (b *Bot) handleDecline(ctx context.Context, req *Request) error {
	p := b.takeConfirm(ctx, req)
	if p == nil {
		return nil
	}
	req.Logger.Info("dispatch confirmation declined")
	return errorReply("Mass DM cancelled.").Edit(ctx, b.adapter, p.ref)
}

func (b *Bot) handleConfirm(ctx context.Context, req *Request) error {
	p := b.takeConfirm(ctx, req)
	if p == nil {
		return nil
	}
	if err := tgui.New().Line("✅ Confirmed.").Build().Edit(ctx, b.adapter, p.ref); err != nil {
		req.Logger.Debug("confirmation edit failed", logx.Err(err))
	}

	target := kit.ChatTarget{ChatID: p.ref.ChatID, ThreadID: p.ref.ThreadID}
	if ch, ok, err := b.store.ControlChannel(ctx, p.tenant); err != nil {
		req.Logger.Warn("control channel lookup failed", logx.Err(err))
	} else if ok {
		target = kit.ChatTarget{ChatID: ch.ChatID, ThreadID: ch.ThreadID}
	}

	progress, err := tgui.New().Title("🔄", "Starting Mass DM...").Build().Send(ctx, b.adapter, target)
	if err != nil {
		return err
	}
	rep := &progressReporter{
		adapter: b.adapter,
		ref:     progress,
		summary: payloadSummary(b.ctrl.Payload(p.tenant)),
	}
	h, err := b.ctrl.StartJob(p.tenant, p.recipients, rep)
	if err != nil {
		return errorReply(startErrorText(err)).Edit(ctx, b.adapter, progress)
	}
	req.Logger.Info("dispatch started from confirmation", logx.String("job", h.ID()), logx.Int("recipients", len(p.recipients)))
	return nil
}

// maxPayloadRunes keeps every payload inside one Telegram message, so a
// recipient either gets the whole message or nothing.
const maxPayloadRunes = 4000

func checkPayloadSize(p dispatch.Payload) (string, bool) {
	n := utf8.RuneCountInString(RenderPayload(p).Text)
	if n <= maxPayloadRunes {
		return "", true
	}
	return "Message too long! " + strconv.Itoa(n) + " characters, the limit is " + strconv.Itoa(maxPayloadRunes) + ".", false
}

func startErrorText(err error) string {
	switch {
	case errors.Is(err, dispatch.ErrAlreadyRunning):
		return "DM process is already running!"
	case errors.Is(err, dispatch.ErrNoPayload):
		return "No message set! Use /setdm first."
	case errors.Is(err, dispatch.ErrEmptyRecipientSet):
		return "No members found to DM! Members are recorded when they post in this chat."
	case errors.Is(err, dispatch.ErrControllerShutdown):
		return "The bot is shutting down."
	default:
		return "Could not start: " + err.Error()
	}
}

func (b *Bot) handleStop(ctx context.Context, req *Request) error {
	snap, err := b.ctrl.StopJob(req.Tenant)
	if errors.Is(err, dispatch.ErrNotRunning) {
		return b.reply(ctx, req, errorReply("No DM process is running!"))
	}
	if err != nil {
		return err
	}
	return b.reply(ctx, req, renderStopped(snap))
}

func (b *Bot) handleStatus(ctx context.Context, req *Request) error {
	st := b.ctrl.Status(req.Tenant, b.audience.Count(ctx, req.Tenant))
	return b.reply(ctx, req, renderStatus(st))
}

func (b *Bot) handleStats(ctx context.Context, req *Request) error {
	st := b.ctrl.Status(req.Tenant, b.audience.Count(ctx, req.Tenant))
	recent, err := b.store.RecentJobs(ctx, req.Tenant, 5)
	if err != nil {
		req.Logger.Warn("recent jobs lookup failed", logx.Err(err))
		recent = nil
	}
	return b.reply(ctx, req, renderStats(b.ctrl.Presets(), st, recent))
}

func (b *Bot) handleHelp(ctx context.Context, req *Request) error {
	return b.reply(ctx, req, renderHelp())
}
