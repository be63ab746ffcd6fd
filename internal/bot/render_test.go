package bot

import (
	"strings"
	"testing"
	"time"

	"massdm/internal/dispatch"
)

func TestHumanDuration(t *testing.T) {
	t.Parallel()

	cases := map[time.Duration]string{
		1500 * time.Millisecond: "1.5 seconds",
		150 * time.Second:       "2.5 minutes",
		90 * time.Minute:        "1.5 hours",
		0:                       "0.0 seconds",
	}
	for d, want := range cases {
		if got := humanDuration(d); got != want {
			t.Fatalf("humanDuration(%s)=%q want %q", d, got, want)
		}
	}
}

func TestRenderPayloadEmbedEscapes(t *testing.T) {
	t.Parallel()

	p, err := dispatch.ParseEmbed(`{"title":"<Sale>","url":"https://x.test/a?b=1&c=2","description":"a & b","fields":[{"name":"When","value":"now"}],"footer":{"text":"bye"}}`)
	if err != nil {
		t.Fatalf("ParseEmbed: %v", err)
	}
	m := RenderPayload(p)
	if m.Opt == nil || m.Opt.ParseMode != "HTML" {
		t.Fatalf("embed must render as HTML: %+v", m.Opt)
	}
	for _, want := range []string{"&lt;Sale&gt;", "a &amp; b", "<b>When</b>\nnow", "<i>bye</i>", `href="https://x.test/a?b=1&amp;c=2"`} {
		if !strings.Contains(m.Text, want) {
			t.Fatalf("rendered embed missing %q:\n%s", want, m.Text)
		}
	}
}

func TestRenderSnapshotStates(t *testing.T) {
	t.Parallel()

	s := dispatch.Snapshot{
		Policy:    dispatch.DefaultPresets().Safe,
		Total:     10,
		Processed: 4,
		Sent:      3,
		Failed:    1,
		Elapsed:   2 * time.Second,
	}
	cases := []struct {
		state dispatch.State
		want  string
	}{
		{dispatch.StateRunning, "IN PROGRESS"},
		{dispatch.StateCompleted, "COMPLETE"},
		{dispatch.StateCancelled, "STOPPED"},
	}
	for _, tc := range cases {
		s.State = tc.state
		if got := renderSnapshot(s, "hello").Text; !strings.Contains(got, tc.want) {
			t.Fatalf("%s: %q missing %q", tc.state, got, tc.want)
		}
	}
	s.State = dispatch.StateCompleted
	if got := renderSnapshot(s, "hello").Text; !strings.Contains(got, "MESSAGE SENT") {
		t.Fatalf("completion report lacks the summary: %q", got)
	}
}

func TestRenderConfirmButtons(t *testing.T) {
	t.Parallel()

	m := renderConfirm(dispatch.DefaultPresets().UltraFast, 120, 30*time.Second, "dm:ok:t", "dm:no:t")
	if !strings.Contains(m.Text, "HIGH RISK") || !strings.Contains(m.Text, "(30s)") {
		t.Fatalf("confirm text=%q", m.Text)
	}
	if m.Opt == nil || len(m.Opt.Buttons) != 1 || m.Opt.Buttons[0][0].Data != "dm:ok:t" || m.Opt.Buttons[0][1].Data != "dm:no:t" {
		t.Fatalf("confirm buttons=%+v", m.Opt)
	}
}
