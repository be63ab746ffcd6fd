package tgui

import (
	"html"
	"strings"
)

// H is Telegram HTML that is already escaped.
type H string

func (h H) String() string { return string(h) }

// Esc escapes plain text for ParseMode "HTML".
func Esc(s string) H { return H(html.EscapeString(s)) }

// Wrap encloses already-escaped inner in <tag>...</tag>.
func Wrap(tag string, inner H) H {
	return H("<" + tag + ">" + string(inner) + "</" + tag + ">")
}

func B(s string) H    { return Wrap("b", Esc(s)) }
func I(s string) H    { return Wrap("i", Esc(s)) }
func Code(s string) H { return Wrap("code", Esc(s)) }
func Pre(s string) H  { return Wrap("pre", Code(s)) }

func Link(text, url string) H {
	return H(`<a href="` + html.EscapeString(url) + `">` + html.EscapeString(text) + `</a>`)
}

// JoinH joins parts with sep and drops blank ones.
func JoinH(sep string, parts ...H) H {
	var b strings.Builder
	for _, p := range parts {
		if strings.TrimSpace(string(p)) == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString(sep)
		}
		b.WriteString(string(p))
	}
	return H(b.String())
}
