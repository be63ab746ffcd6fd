package bot

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"massdm/internal/dispatch"
	"massdm/internal/storage"
	kit "massdm/internal/transport"
	"massdm/pkg/tgui"
)

const previewRunes = 300

// humanDuration formats estimates the way operators read them:
// "1.5 seconds", "2.5 minutes", "1.2 hours".
func humanDuration(d time.Duration) string {
	s := d.Seconds()
	switch {
	case s < 60:
		return strconv.FormatFloat(s, 'f', 1, 64) + " seconds"
	case s < 3600:
		return strconv.FormatFloat(s/60, 'f', 1, 64) + " minutes"
	default:
		return strconv.FormatFloat(s/3600, 'f', 1, 64) + " hours"
	}
}

// speed is the nominal sends per second of a policy.
func speed(p dispatch.Policy) string {
	if p.Delay <= 0 {
		return "unthrottled"
	}
	return fmt.Sprintf("%.2f DMs/sec", float64(max(p.BatchSize, 1))/p.Delay.Seconds())
}

func riskLabel(r dispatch.Risk) string { return strings.ToUpper(string(r)) }

func modeTitle(m dispatch.Mode) (emoji, name string) {
	if m == dispatch.ModeUltraFast {
		return "⚡", "ULTRA FAST"
	}
	return "🛡️", "SAFE"
}

func percent(v float64) string { return strconv.FormatFloat(v, 'f', 1, 64) + "%" }

func payloadKindLabel(k dispatch.PayloadKind) string {
	switch k {
	case dispatch.KindEmbed:
		return "Embed"
	case dispatch.KindText:
		return "Text"
	default:
		return "None"
	}
}

// payloadSummary is a short plain-text description used in reports.
func payloadSummary(p dispatch.Payload) string {
	if p.Kind() == dispatch.KindEmbed {
		t := p.Embed.Title
		if t == "" {
			t = p.Embed.Description
		}
		return "[embed] " + tgui.TruncRunes(t, 200)
	}
	return tgui.TruncRunes(p.Text, 200)
}

// RenderPayload builds the message recipients receive. Text payloads are
// delivered verbatim without parse mode; embeds are rendered as HTML.
func RenderPayload(p dispatch.Payload) tgui.Message {
	if p.Kind() != dispatch.KindEmbed {
		return tgui.Message{Text: p.Text, Opt: &kit.SendOptions{}}
	}
	e := p.Embed
	var parts []tgui.H
	if e.Title != "" {
		if e.URL != "" {
			parts = append(parts, tgui.Wrap("b", tgui.Link(e.Title, e.URL)))
		} else {
			parts = append(parts, tgui.B(e.Title))
		}
	}
	if e.Description != "" {
		parts = append(parts, tgui.Esc(e.Description))
	}
	for _, f := range e.Fields {
		parts = append(parts, tgui.JoinH("\n", tgui.B(f.Name), tgui.Esc(f.Value)))
	}
	preview := true
	if e.Image != nil && e.Image.URL != "" {
		parts = append(parts, tgui.Link("🖼", e.Image.URL))
		preview = false
	} else if e.Thumbnail != nil && e.Thumbnail.URL != "" {
		parts = append(parts, tgui.Link("🖼", e.Thumbnail.URL))
		preview = false
	}
	if e.Footer != nil && e.Footer.Text != "" {
		parts = append(parts, tgui.I(e.Footer.Text))
	}
	return tgui.Message{
		Text: tgui.JoinH("\n\n", parts...).String(),
		Opt:  &kit.SendOptions{ParseMode: "HTML", DisablePreview: preview},
	}
}

func renderAdminPanel(ps dispatch.Presets, cur dispatch.Policy) tgui.Message {
	b := tgui.New().
		Title("⚙️", "MASS DM BOT - ADMIN PANEL").
		Line("Setup successful! This chat is now your Mass DM control panel.")
	for _, p := range []dispatch.Policy{ps.UltraFast, ps.Safe} {
		e, n := modeTitle(p.Mode)
		b.Section(e, n+" MODE").
			KV("Batch", strconv.Itoa(p.BatchSize)).
			KV("Delay", p.Delay.String()).
			KV("Speed", speed(p)).
			KV("Risk", riskLabel(p.Risk))
	}
	e, n := modeTitle(cur.Mode)
	return b.Section("📋", "COMMANDS").
		Bullets(commandLines()...).
		Blank().
		Line("Current mode: " + e + " " + n).
		Build()
}

func commandLines() []string {
	return []string{
		"/mode safe|ultrafast - choose the sending mode",
		"/setdm <message> - set a text message",
		"/setembed <json> - set an embed message",
		"/preview - preview the current message",
		"/startdm - start sending",
		"/stopdm - stop sending",
		"/dmstatus - check progress",
		"/dmstats - statistics",
		"/dmhelp - help",
	}
}

func renderModeSet(p dispatch.Policy, audience int) tgui.Message {
	e, n := modeTitle(p.Mode)
	b := tgui.New().
		Title(e, n+" MODE ACTIVATED").
		Section("", "SETTINGS").
		KV("Delay", p.Delay.String()).
		KV("Batch Size", strconv.Itoa(p.BatchSize)).
		KV("Estimated Speed", speed(p)).
		KV("Risk Level", riskLabel(p.Risk))
	if audience > 0 {
		b.KV("Estimated Time", humanDuration(dispatch.EstimatedDuration(audience, p))+" for "+strconv.Itoa(audience)+" members")
	}
	if p.Risk == dispatch.RiskHigh {
		b.Section("⚠️", "WARNING").
			Line("This mode sends at maximum speed. It may trip rate limits or get the bot restricted.")
	}
	return b.Build()
}

func renderMessageSet(p dispatch.Payload, pol dispatch.Policy, audience int) tgui.Message {
	b := tgui.New().Title("✅", "MESSAGE SET")
	if p.Kind() == dispatch.KindText {
		b.Line("Preview:").Pre(tgui.TruncRunes(p.Text, previewRunes))
	} else {
		b.Line("Embed message set.")
	}
	return b.Section("📊", "STATS").
		KV("Type", payloadKindLabel(p.Kind())).
		KV("Characters", strconv.Itoa(p.Len())).
		Section("⏱️", "TIME ESTIMATE").
		KV("Members", strconv.Itoa(audience)).
		KV("Mode", string(pol.Mode)).
		KV("Estimated Time", humanDuration(dispatch.EstimatedDuration(audience, pol))).
		Blank().
		Line("Use /preview to see the full message.").
		Build()
}

func renderConfirm(pol dispatch.Policy, audience int, timeout time.Duration, yes, no string) tgui.Message {
	e, n := modeTitle(pol.Mode)
	b := tgui.New().
		Title("⚠️", n+" MASS DM - CONFIRM").
		Line("This will send a DM to ALL recorded members of this chat.").
		Section(e, n+" MODE").
		KV("Members", strconv.Itoa(audience)).
		KV("Bots Excluded", "✅").
		KV("Speed", speed(pol)).
		KV("Estimated Time", humanDuration(dispatch.EstimatedDuration(audience, pol))).
		KV("Risk", riskLabel(pol.Risk)).
		Section("🚨", "WARNING").
		Line("This action cannot be undone.")
	if pol.Risk == dispatch.RiskHigh {
		b.Line("HIGH RISK OF RATE LIMITS! Not recommended for large audiences.")
	}
	return b.Blank().
		Line(fmt.Sprintf("Press ✅ to confirm or ❌ to cancel (%s).", timeout.Round(time.Second))).
		Row(kit.Button{Text: "✅ Confirm", Data: yes}, kit.Button{Text: "❌ Cancel", Data: no}).
		Build()
}

// renderSnapshot renders a running, completed or cancelled job report.
func renderSnapshot(s dispatch.Snapshot, summary string) tgui.Message {
	e, n := modeTitle(s.Policy.Mode)
	switch s.State {
	case dispatch.StateCompleted:
		b := tgui.New().
			Title("✅", n+" MASS DM COMPLETE").
			Section("📊", "FINAL STATISTICS").
			KV("Total Members", strconv.Itoa(s.Total)).
			KV("✅ Successful", strconv.Itoa(s.Sent)).
			KV("❌ Failed", strconv.Itoa(s.Failed)).
			KV("🚫 Rejected", strconv.Itoa(s.Rejected)).
			KV("🎯 Success Rate", percent(s.SuccessRate())).
			Section(e, n+" MODE PERFORMANCE").
			KV("Total Time", humanDuration(s.Elapsed)).
			KV("Average Speed", fmt.Sprintf("%.2f DMs/sec", s.Throughput()))
		if summary != "" {
			b.Section("📝", "MESSAGE SENT").Pre(summary)
		}
		return b.Build()
	case dispatch.StateCancelled:
		return tgui.New().
			Title("⏹️", n+" MASS DM STOPPED").
			Section("📊", "PARTIAL STATS").
			KV("✅ Sent", strconv.Itoa(s.Sent)).
			KV("❌ Failed", strconv.Itoa(s.Failed)).
			KV("📊 Progress", percent(s.Percent())).
			KV("⏱️ Elapsed", humanDuration(s.Elapsed)).
			Build()
	default:
		return tgui.New().
			Title("📤", n+" DM - IN PROGRESS").
			Section("📊", "PROGRESS").
			Pre(fmt.Sprintf("%d/%d members\n%s complete", s.Processed, s.Total, percent(s.Percent()))).
			Section("⚡", "SPEED").
			KV("DMs/sec", fmt.Sprintf("%.2f", s.Throughput())).
			KV("ETA", humanDuration(s.Remaining())).
			KV("Elapsed", humanDuration(s.Elapsed)).
			Section("📈", "STATS").
			KV("✅ Sent", strconv.Itoa(s.Sent)).
			KV("❌ Failed", strconv.Itoa(s.Failed)).
			KV("⏱️ Remaining", strconv.Itoa(s.Total-s.Processed)).
			Build()
	}
}

func renderStopped(s dispatch.Snapshot) tgui.Message {
	_, n := modeTitle(s.Policy.Mode)
	return tgui.New().
		Title("⏹️", n+" MASS DM STOPPED").
		Line("The sending process is stopping at the next step.").
		Section("📊", "PARTIAL STATS").
		KV("✅ Sent", strconv.Itoa(s.Sent)).
		KV("❌ Failed", strconv.Itoa(s.Failed)).
		KV("📊 Progress", percent(s.Percent())).
		Build()
}

func renderStatus(st dispatch.Status) tgui.Message {
	b := tgui.New().Title("📊", "DM STATUS DASHBOARD")
	if st.Running {
		s := st.Progress
		e, n := modeTitle(s.Policy.Mode)
		return b.Line("🔄 Mass DM in progress").
			Section("📈", "PROGRESS").
			Pre(fmt.Sprintf("%d/%d\n%s complete", s.Processed, s.Total, percent(s.Percent()))).
			Section(e, n+" MODE").
			KV("Delay", s.Policy.Delay.String()).
			KV("Batch", strconv.Itoa(s.Policy.BatchSize)).
			KV("ETA", humanDuration(s.Remaining())).
			KV("Risk", riskLabel(s.Policy.Risk)).
			Build()
	}
	b.Line("✅ No DM process running")
	if st.PayloadKind == dispatch.KindNone {
		b.Section("⚠️", "NO MESSAGE SET").Line("Use /setdm to set a message.")
	} else {
		e, n := modeTitle(st.Policy.Mode)
		b.Section("📝", "CURRENT SETUP").
			KV("Mode", e+" "+n).
			KV("Type", payloadKindLabel(st.PayloadKind)).
			KV("Length", strconv.Itoa(st.PayloadLen)+" chars").
			KV("Members", strconv.Itoa(st.Recipients)).
			KV("Estimated Time", humanDuration(st.Estimated))
	}
	if st.Last != nil {
		b.Section("🕘", "LAST JOB").Line(lastJobLine(st.Last.State, st.Last.Sent, st.Last.Failed, st.Last.Total))
	}
	return b.Blank().Line("Use /startdm to begin sending.").Build()
}

func lastJobLine(state dispatch.State, sent, failed, total int) string {
	return fmt.Sprintf("%s: %d sent, %d failed of %d", state, sent, failed, total)
}

func renderStats(ps dispatch.Presets, st dispatch.Status, recent []storage.JobRecord) tgui.Message {
	b := tgui.New().Title("📈", "ADVANCED DM STATISTICS")
	for _, p := range []dispatch.Policy{ps.UltraFast, ps.Safe} {
		e, n := modeTitle(p.Mode)
		label := n + " MODE"
		if p.Mode == st.Policy.Mode {
			label += " (current)"
		}
		b.Section(e, label).
			KV("Est. Time", humanDuration(dispatch.EstimatedDuration(st.Recipients, p))).
			KV("Speed", speed(p)).
			KV("Risk", riskLabel(p.Risk))
	}
	b.Section("🤖", "BOT PERFORMANCE")
	if done := st.Totals.Sent + st.Totals.Failed; done > 0 {
		b.KV("Jobs", strconv.Itoa(st.Totals.Jobs)).
			KV("Total Sent", strconv.Itoa(st.Totals.Sent)).
			KV("Total Failed", strconv.Itoa(st.Totals.Failed)).
			KV("Overall Rate", percent(float64(st.Totals.Sent)*100/float64(done)))
	} else {
		b.Line("No data yet")
	}
	b.Section("👥", "AUDIENCE").KV("Members", strconv.Itoa(st.Recipients))
	if len(recent) > 0 {
		b.Section("🕘", "RECENT JOBS")
		for _, r := range recent {
			b.Line(fmt.Sprintf("• %s %s: %d sent, %d failed of %d (%s)",
				r.FinishedAt.UTC().Format("2006-01-02 15:04"), r.Mode, r.Sent, r.Failed, r.Total,
				humanDuration(time.Duration(r.ElapsedMS)*time.Millisecond)))
		}
	}
	return b.Build()
}

func renderHelp() tgui.Message {
	return tgui.New().
		Title("🤖", "DUAL MODE MASS DM BOT - HELP").
		Section("🚀", "QUICK START").
		Bullets(
			"1. /setup - set up the control panel",
			"2. /mode safe or /mode ultrafast - choose speed",
			"3. /setdm <message> - set the message",
			"4. /preview - check the message",
			"5. /startdm - start sending",
			"6. /stopdm - stop sending",
		).
		Section("📝", "MESSAGE TYPES").
		Bullets(
			"Text: /setdm Hello members!",
			`Embed: /setembed {"title":"Hello","description":"Message"}`,
		).
		Section("📋", "ALL COMMANDS").
		Bullets(commandLines()...).
		Section("⚠️", "IMPORTANT NOTES").
		Bullets(
			"Members are recorded when they post in this chat",
			"Bots are excluded automatically",
			"Members who blocked the bot are skipped",
			"Always preview before sending!",
		).
		Build()
}

func errorReply(text string) tgui.Message {
	return tgui.New().Line("❌ " + text).Build()
}
