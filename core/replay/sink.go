package replay

import (
	"context"

	"github.com/dmitrymomot/tailbus/core/message"
)

// Delivery is one entry addressed to a subscriber, tagged with the pattern that matched it.
type Delivery struct {
	Pattern string
	Entry   message.Entry
}

// Sink receives a feed's deliveries in order. Deliver may block; it must return
// when ctx is done. A returned error tears the feed down.
type Sink interface {
	Deliver(ctx context.Context, d Delivery) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, d Delivery) error

// Deliver calls f.
func (f SinkFunc) Deliver(ctx context.Context, d Delivery) error { return f(ctx, d) }
