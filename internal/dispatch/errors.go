package dispatch

import "errors"

// Error classes. Every controller error unwraps to one of these, or is
// ErrNotRunning.
var (
	ErrConfiguration       = errors.New("dispatch: configuration error")
	ErrConcurrencyConflict = errors.New("dispatch: concurrency conflict")
)

var (
	ErrInvalidMode        = classified(ErrConfiguration, "invalid mode")
	ErrNoPayload          = classified(ErrConfiguration, "no payload configured")
	ErrEmptyRecipientSet  = classified(ErrConfiguration, "recipient set is empty")
	ErrAlreadyRunning     = classified(ErrConcurrencyConflict, "a job is already running")
	ErrNotRunning         = errors.New("no job is running")
	ErrControllerShutdown = errors.New("dispatch controller is shut down")
)

// ErrRecipientRejected marks a permanent per-recipient refusal (blocked,
// unreachable, privacy settings). DeliveryClient implementations wrap it;
// any other error counts as a transient failure.
var ErrRecipientRejected = errors.New("recipient rejected the message")

type classifiedError struct {
	class error
	msg   string
}

func classified(class error, msg string) error { return &classifiedError{class: class, msg: msg} }

func (e *classifiedError) Error() string { return e.msg }
func (e *classifiedError) Unwrap() error { return e.class }
