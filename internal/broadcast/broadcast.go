package broadcast

import (
	"context"
	"errors"
)

// #region event

// Event types sent to live subscribers.
const (
	TypeChatUpdate   = "chat_update"
	TypeFeedback     = "constraint_feedback"
	TypeSessionReset = "session_reset"
)

// Event is the envelope delivered to every subscriber.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// #endregion event

// #region publisher

// Publisher delivers events to subscribers. Delivery is best effort.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Fanout publishes every event to each of its publishers in order.
type Fanout []Publisher

// Publish delivers ev to every publisher and joins their errors.
func (f Fanout) Publish(ctx context.Context, ev Event) error {
	var errs []error
	for _, p := range f {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop discards every event.
type Nop struct{}

// Publish does nothing.
func (Nop) Publish(context.Context, Event) error { return nil }

// #endregion publisher
