package bot

import (
	"context"
	"errors"
	"fmt"

	"massdm/internal/dispatch"
	kit "massdm/internal/transport"
)

// DeliveryClient sends payloads as Telegram direct messages.
type DeliveryClient struct {
	adapter kit.Adapter
}

func NewDeliveryClient(ad kit.Adapter) *DeliveryClient {
	return &DeliveryClient{adapter: ad}
}

// Send delivers p to the private chat of to. Recipients the transport
// reports as unreachable are rejected; everything else is transient.
func (d *DeliveryClient) Send(ctx context.Context, to dispatch.RecipientID, p dispatch.Payload) error {
	_, err := RenderPayload(p).Send(ctx, d.adapter, kit.ChatTarget{ChatID: int64(to)})
	if err == nil {
		return nil
	}
	if errors.Is(err, kit.ErrRecipientUnreachable) {
		return fmt.Errorf("%w: %w", dispatch.ErrRecipientRejected, err)
	}
	return err
}
