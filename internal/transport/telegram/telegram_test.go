package telegram

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	tele "gopkg.in/telebot.v4"

	kit "massdm/internal/transport"
)

func TestSplitText(t *testing.T) {
	t.Parallel()

	if got := splitText("hello", 10, ""); len(got) != 1 || got[0] != "hello" {
		t.Fatalf("short text: %q", got)
	}
	if got := splitText("", 10, ""); len(got) != 1 || got[0] != "" {
		t.Fatalf("empty text must yield one chunk: %q", got)
	}

	long := strings.Repeat("a", 25)
	got := splitText(long, 10, "")
	if len(got) != 3 || strings.Join(got, "") != long {
		t.Fatalf("hard split: %q", got)
	}

	lines := "aaaa\nbbbb\ncccc\ndddd"
	got = splitText(lines, 10, "")
	for _, c := range got {
		if utf8.RuneCountInString(c) > 10 {
			t.Fatalf("chunk over limit: %q", c)
		}
		if strings.HasPrefix(c, "\n") || strings.HasSuffix(c, "\n") {
			t.Fatalf("chunk has edge newline: %q", c)
		}
	}
	if got[0] != "aaaa\nbbbb" {
		t.Fatalf("expected newline boundary, got %q", got)
	}

	// Multibyte runes are counted, not bytes.
	emoji := strings.Repeat("✅", 12)
	if got := splitText(emoji, 12, ""); len(got) != 1 {
		t.Fatalf("rune counting: %d chunks", len(got))
	}
}

func TestSplitTextAvoidsCuttingTags(t *testing.T) {
	t.Parallel()

	s := "xxxxxxxx<b>bold</b>"
	got := splitText(s, 10, "HTML")
	if got[0] != "xxxxxxxx" {
		t.Fatalf("tag was cut: %q", got)
	}
	if strings.Join(got, "") != s {
		t.Fatalf("content lost: %q", got)
	}
}

func TestClassifySendError(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name        string
		err         error
		unreachable bool
	}{
		{"blocked", tele.ErrBlockedByUser, true},
		{"deactivated", tele.ErrUserIsDeactivated, true},
		{"not started", tele.ErrNotStartedByUser, true},
		{"chat not found", tele.ErrChatNotFound, true},
		{"wrapped blocked", fmt.Errorf("send: %w", tele.ErrBlockedByUser), true},
		{"generic 403", tele.NewError(403, "Forbidden: something new"), true},
		{"unmapped string", errors.New("telegram: Forbidden: bot was kicked (403)"), true},
		{"flood", tele.NewError(429, "Too Many Requests: retry after 5"), false},
		{"network", errors.New("dial tcp: i/o timeout"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := classifySendError(tc.err)
			if got := errors.Is(err, kit.ErrRecipientUnreachable); got != tc.unreachable {
				t.Fatalf("unreachable=%v want %v (err=%v)", got, tc.unreachable, err)
			}
			if !errors.Is(err, tc.err) {
				t.Fatalf("original error lost: %v", err)
			}
		})
	}
	if classifySendError(nil) != nil {
		t.Fatalf("nil must stay nil")
	}
}

func TestMenuPayloadLimits(t *testing.T) {
	t.Parallel()

	cmds := make([]kit.BotCommand, 0, 120)
	cmds = append(cmds, kit.BotCommand{Command: ""}, kit.BotCommand{Command: "x", Description: strings.Repeat("d", 300)})
	for i := range 118 {
		cmds = append(cmds, kit.BotCommand{Command: fmt.Sprintf("c%d", i)})
	}
	p := menuPayload(cmds)["commands"]
	if len(p) != 100 {
		t.Fatalf("len=%d want 100", len(p))
	}
	if p[0].Command != "x" || len(p[0].Description) != 256 {
		t.Fatalf("first entry not trimmed: %+v", p[0])
	}
	if p[1].Description != p[1].Command {
		t.Fatalf("empty description should default to command: %+v", p[1])
	}
	if menuHash(cmds) == menuHash(cmds[:10]) {
		t.Fatalf("hash must change with list")
	}
}
