package telegram

import (
	"errors"
	"fmt"
	"strings"

	tele "gopkg.in/telebot.v4"

	kit "massdm/internal/transport"
)

var unreachable = []error{
	tele.ErrBlockedByUser,
	tele.ErrUserIsDeactivated,
	tele.ErrNotStartedByUser,
	tele.ErrChatNotFound,
	tele.ErrKickedFromGroup,
}

// classifySendError wraps permanent per-recipient failures with
// kit.ErrRecipientUnreachable. Flood waits and network errors pass through.
func classifySendError(err error) error {
	if err == nil {
		return nil
	}
	for _, target := range unreachable {
		if errors.Is(err, target) {
			return fmt.Errorf("%w: %w", kit.ErrRecipientUnreachable, err)
		}
	}
	var te *tele.Error
	if errors.As(err, &te) && te.Code == 403 {
		return fmt.Errorf("%w: %w", kit.ErrRecipientUnreachable, err)
	}
	// Unmapped API errors are plain strings carrying the code.
	msg := err.Error()
	if strings.Contains(msg, "Forbidden:") || strings.Contains(msg, "(403)") {
		return fmt.Errorf("%w: %w", kit.ErrRecipientUnreachable, err)
	}
	return err
}

func isNotModified(err error) bool {
	return err != nil && strings.Contains(err.Error(), "message is not modified")
}
