package bot

import (
	"math/rand/v2"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
	"unicode"
)

var ridSeq atomic.Uint64

// newReqID is short and log-friendly: base36 time, sequence and two random chars.
func newReqID() string {
	const alpha = "abcdefghijklmnopqrstuvwxyz0123456789"
	n := ridSeq.Add(1)
	return strconv.FormatInt(time.Now().UnixNano(), 36) + "-" +
		strconv.FormatUint(n, 36) +
		string(alpha[rand.IntN(len(alpha))]) + string(alpha[rand.IntN(len(alpha))])
}

// parseCommand splits "/name@bot rest of text". The remainder keeps its
// line breaks so message bodies survive intact.
func parseCommand(text string) (name, botName, rest string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") || len(text) < 2 {
		return "", "", "", false
	}
	head := text
	if i := strings.IndexFunc(text, unicode.IsSpace); i >= 0 {
		head = text[:i]
		rest = strings.TrimSpace(text[i:])
	}
	head = strings.TrimPrefix(head, "/")
	if i := strings.IndexByte(head, '@'); i >= 0 {
		head, botName = head[:i], head[i+1:]
	}
	if head == "" {
		return "", "", "", false
	}
	return strings.ToLower(head), botName, rest, true
}
