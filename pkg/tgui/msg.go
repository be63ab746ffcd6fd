package tgui

import (
	"context"
	"strings"

	kit "massdm/internal/transport"
)

// Message is a rendered UI payload: text + send options.
type Message struct {
	Text string
	Opt  *kit.SendOptions
}

// Send sends the Message via the provided adapter.
func (m Message) Send(ctx context.Context, ad kit.Adapter, to kit.ChatTarget) (kit.MessageRef, error) {
	if m.Opt == nil {
		m.Opt = &kit.SendOptions{}
	}
	return ad.SendText(ctx, to, m.Text, m.Opt)
}

// Edit replaces the text (and keyboard) of the message referred by ref.
func (m Message) Edit(ctx context.Context, ad kit.Adapter, ref kit.MessageRef) error {
	if m.Opt == nil {
		m.Opt = &kit.SendOptions{}
	}
	return ad.EditText(ctx, ref, m.Text, m.Opt)
}

// Builder is the main ergonomic UI builder.
// Default: ParseMode=HTML, DisablePreview=true. All text is escaped.
type Builder struct {
	disablePreview bool
	buttons        [][]kit.Button
	lines          []string
}

// New creates a new builder with sensible defaults for Telegram.
func New() *Builder {
	return &Builder{disablePreview: true}
}

// DisablePreview sets DisableWebPagePreview.
func (b *Builder) DisablePreview(v bool) *Builder {
	b.disablePreview = v
	return b
}

// Row appends a row of inline buttons.
func (b *Builder) Row(btn ...kit.Button) *Builder {
	if len(btn) > 0 {
		b.buttons = append(b.buttons, btn)
	}
	return b
}

// Title adds a bold title line. Emoji is optional.
func (b *Builder) Title(emoji, title string) *Builder {
	e := strings.TrimSpace(emoji)
	t := strings.TrimSpace(title)
	if t == "" {
		return b
	}
	if e != "" {
		b.lines = append(b.lines, Esc(e).String()+" "+B(t).String())
	} else {
		b.lines = append(b.lines, B(t).String())
	}
	return b
}

// Section adds a section header, preceded by a blank line.
func (b *Builder) Section(emoji, title string) *Builder {
	if len(b.lines) > 0 {
		b.Blank()
	}
	return b.Title(emoji, title)
}

// Line adds a single escaped line.
func (b *Builder) Line(s string) *Builder {
	if strings.TrimSpace(s) == "" {
		b.lines = append(b.lines, "")
		return b
	}
	b.lines = append(b.lines, Esc(s).String())
	return b
}

// RawLine appends a line without escaping.
func (b *Builder) RawLine(s H) *Builder {
	b.lines = append(b.lines, s.String())
	return b
}

// Blank inserts an empty line.
func (b *Builder) Blank() *Builder { return b.Line("") }

// Bullets adds bullet lines.
func (b *Builder) Bullets(items ...string) *Builder {
	for _, it := range items {
		it = strings.TrimSpace(it)
		if it == "" {
			continue
		}
		b.Line("• " + it)
	}
	return b
}

// KV adds a "key: value" row with the value in <code>.
func (b *Builder) KV(key, value string) *Builder {
	key = strings.TrimSpace(key)
	if key == "" {
		return b
	}
	b.lines = append(b.lines, "• "+Esc(key).String()+": "+Code(strings.TrimSpace(value)).String())
	return b
}

// Pre adds a preformatted block.
func (b *Builder) Pre(code string) *Builder {
	code = strings.TrimRight(code, "\n")
	if code == "" {
		return b
	}
	b.lines = append(b.lines, Pre(code).String())
	return b
}

// Build produces a ready-to-send Message.
func (b *Builder) Build() Message {
	text := strings.Trim(strings.Join(b.lines, "\n"), "\n")
	opt := &kit.SendOptions{ParseMode: "HTML", DisablePreview: b.disablePreview, Buttons: b.buttons}
	return Message{Text: text, Opt: opt}
}

// String renders the text only.
func (b *Builder) String() string { return b.Build().Text }
