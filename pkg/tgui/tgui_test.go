package tgui

import (
	"strings"
	"testing"

	kit "massdm/internal/transport"
)

func TestBuilderEscapesAndFormats(t *testing.T) {
	t.Parallel()

	m := New().
		Title("📊", "DM <STATUS>").
		Section("", "Stats").
		KV("Sent", "10 & more").
		Bullets("a", " ", "b").
		Row(kit.Button{Text: "✅", Data: "dm:ok:x"}).
		Build()

	want := strings.Join([]string{
		"📊 <b>DM &lt;STATUS&gt;</b>",
		"",
		"<b>Stats</b>",
		"• Sent: <code>10 &amp; more</code>",
		"• a",
		"• b",
	}, "\n")
	if m.Text != want {
		t.Fatalf("text:\n%s\nwant:\n%s", m.Text, want)
	}
	if m.Opt.ParseMode != "HTML" || !m.Opt.DisablePreview {
		t.Fatalf("opts: %+v", m.Opt)
	}
	if len(m.Opt.Buttons) != 1 || m.Opt.Buttons[0][0].Data != "dm:ok:x" {
		t.Fatalf("buttons: %+v", m.Opt.Buttons)
	}
}

func TestTruncRunes(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		n    int
		want string
	}{
		{"hello", 10, "hello"},
		{"hello", 5, "hello"},
		{"hello", 3, "hel…"},
		{"héllo", 2, "hé…"},
		{"x", 0, ""},
	}
	for _, tc := range cases {
		if got := TruncRunes(tc.in, tc.n); got != tc.want {
			t.Fatalf("TruncRunes(%q,%d)=%q want %q", tc.in, tc.n, got, tc.want)
		}
	}
}

func TestCallbackData(t *testing.T) {
	t.Parallel()

	s, err := Data("dm", "ok", "abc:def")
	if err != nil || s != "dm:ok:abc:def" {
		t.Fatalf("Data=%q err=%v", s, err)
	}
	ns, act, payload, ok := ParseData(s)
	if !ok || ns != "dm" || act != "ok" || payload != "abc:def" {
		t.Fatalf("ParseData=%q %q %q %v", ns, act, payload, ok)
	}
	if _, _, _, ok := ParseData("nocolon"); ok {
		t.Fatalf("expected parse failure")
	}
	if _, err := Data("dm", "ok", strings.Repeat("x", 64)); err != ErrCallbackDataTooLong {
		t.Fatalf("expected too long, got %v", err)
	}
}

func TestHTMLHelpers(t *testing.T) {
	t.Parallel()

	cases := []struct {
		got  H
		want string
	}{
		{Pre("a<b"), "<pre><code>a&lt;b</code></pre>"},
		{Wrap("b", Link("x&y", "https://e.x/?a=1&b=2")), `<b><a href="https://e.x/?a=1&amp;b=2">x&amp;y</a></b>`},
		{JoinH("\n", B("t"), "", " ", I("f")), "<b>t</b>\n<i>f</i>"},
	}
	for _, tc := range cases {
		if tc.got.String() != tc.want {
			t.Fatalf("got %q want %q", tc.got, tc.want)
		}
	}
}
