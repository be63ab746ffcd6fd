package dispatch

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Payload is passed verbatim to the DeliveryClient. Exactly one of Text or
// Embed is normally set; Embed wins when both are.
type Payload struct {
	Text  string `json:"text,omitempty"`
	Embed *Embed `json:"embed,omitempty"`
}

type Embed struct {
	Title       string       `json:"title,omitempty"`
	Description string       `json:"description,omitempty"`
	URL         string       `json:"url,omitempty"`
	Color       int          `json:"color,omitempty"`
	Fields      []EmbedField `json:"fields,omitempty"`
	Footer      *EmbedFooter `json:"footer,omitempty"`
	Image       *EmbedMedia  `json:"image,omitempty"`
	Thumbnail   *EmbedMedia  `json:"thumbnail,omitempty"`
}

type EmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

type EmbedFooter struct {
	Text string `json:"text"`
}

type EmbedMedia struct {
	URL string `json:"url"`
}

type PayloadKind string

const (
	KindNone  PayloadKind = "none"
	KindText  PayloadKind = "text"
	KindEmbed PayloadKind = "embed"
)

func TextPayload(s string) Payload { return Payload{Text: s} }

// ParseEmbed decodes an embed document. Unknown keys are ignored so that
// documents written for other platforms still load.
func ParseEmbed(raw string) (Payload, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Payload{}, errors.New("embed json is empty")
	}
	var e Embed
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return Payload{}, fmt.Errorf("invalid embed json: %w", err)
	}
	if e.empty() {
		return Payload{}, errors.New("embed has no title, description or fields")
	}
	return Payload{Embed: &e}, nil
}

func (e *Embed) empty() bool {
	if e == nil {
		return true
	}
	return strings.TrimSpace(e.Title) == "" && strings.TrimSpace(e.Description) == "" && len(e.Fields) == 0
}

func (p Payload) Kind() PayloadKind {
	switch {
	case !p.Embed.empty():
		return KindEmbed
	case strings.TrimSpace(p.Text) != "":
		return KindText
	default:
		return KindNone
	}
}

func (p Payload) Empty() bool { return p.Kind() == KindNone }

// Len is the character count of the text, or the embed's JSON size.
func (p Payload) Len() int {
	switch p.Kind() {
	case KindEmbed:
		b, _ := json.Marshal(p.Embed)
		return len(b)
	case KindText:
		return utf8.RuneCountInString(p.Text)
	default:
		return 0
	}
}
