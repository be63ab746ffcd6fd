package dispatch

import (
	"context"
	"errors"
)

// RecipientID is an opaque platform identifier for a direct-message target.
type RecipientID int64

// DeliveryClient sends one payload to one recipient. A nil error means the
// platform accepted the message. Errors wrapping ErrRecipientRejected are
// permanent; everything else is transient. Implementations must be safe for
// concurrent use.
type DeliveryClient interface {
	Send(ctx context.Context, to RecipientID, p Payload) error
}

type DeliveryFunc func(ctx context.Context, to RecipientID, p Payload) error

func (f DeliveryFunc) Send(ctx context.Context, to RecipientID, p Payload) error { return f(ctx, to, p) }

type Outcome int

const (
	Delivered Outcome = iota
	Rejected
	TransientFailure
)

func (o Outcome) String() string {
	switch o {
	case Delivered:
		return "delivered"
	case Rejected:
		return "rejected"
	default:
		return "transient"
	}
}

func (o Outcome) Failed() bool { return o != Delivered }

// Classify maps a DeliveryClient error to an Outcome.
func Classify(err error) Outcome {
	switch {
	case err == nil:
		return Delivered
	case errors.Is(err, ErrRecipientRejected):
		return Rejected
	default:
		return TransientFailure
	}
}
