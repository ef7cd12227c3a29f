// Package stream implements the fact distribution layer: durable, kind-scoped
// streams fanned out to named consumer groups with at-least-once delivery.
//
// Publish writes to the fact log first and enqueues only after the append is
// durably committed, so a delivered fact is always readable from the log.
// Within one consumer group each fact is delivered to exactly one consumer
// instance (competing consumers); across groups every group independently
// receives every fact. Delivery within one (stream, group) is FIFO; there is
// no cross-stream ordering guarantee.
//
// RedisRouter maps streams onto Redis Streams with XREADGROUP/XACK
// checkpointing; MemoryRouter is the in-process reference implementation with
// identical delivery semantics.
package stream

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tinycrops/agentWeb/pkg/fact"
)

// Handler processes one delivered fact. Returning a non-nil error leaves the
// fact unacknowledged, so it will be redelivered; handlers must therefore be
// idempotent or tolerate duplicates.
type Handler func(ctx context.Context, f *fact.Fact) error

// SubscribeOptions names the consumer group and instance a subscription
// belongs to and bounds its consumption loop.
type SubscribeOptions struct {
	// Group is the consumer-group name. Required.
	Group string

	// Consumer is this instance's name within the group. Required.
	Consumer string

	// BatchSize bounds how many facts one poll iteration may deliver.
	// Defaults to 16.
	BatchSize int

	// BlockTimeout bounds how long one poll waits for new facts before
	// yielding back to the loop. Defaults to 2 seconds.
	BlockTimeout time.Duration

	// RetryDelay is the pause before pending (failed) deliveries are
	// re-attempted. Defaults to 100 milliseconds.
	RetryDelay time.Duration
}

func (o *SubscribeOptions) validate() error {
	if o.Group == "" {
		return fmt.Errorf("subscribe options: group name is required")
	}
	if o.Consumer == "" {
		return fmt.Errorf("subscribe options: consumer name is required")
	}
	return nil
}

func (o *SubscribeOptions) applyDefaults() {
	if o.BatchSize <= 0 {
		o.BatchSize = 16
	}
	if o.BlockTimeout <= 0 {
		o.BlockTimeout = 2 * time.Second
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = 100 * time.Millisecond
	}
}

// Subscription is the handle returned by Subscribe. Unsubscribing stops the
// consumption loop at its next poll boundary.
type Subscription struct {
	ID       string
	Kind     fact.Kind
	Group    string
	Consumer string

	cancel context.CancelFunc
	done   chan struct{}
}

func newSubscription(kind fact.Kind, opts SubscribeOptions, cancel context.CancelFunc) *Subscription {
	return &Subscription{
		ID:       uuid.NewString(),
		Kind:     kind,
		Group:    opts.Group,
		Consumer: opts.Consumer,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

// Done is closed once the subscription's consumption loop has exited.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Router distributes facts from the log to consumer groups.
type Router interface {
	// Publish appends f to the fact log and, once the append is durable,
	// enqueues it onto its kind's stream. The paired EnvelopeWritten audit
	// fact is enqueued onto its own kind stream in the same call. If the log
	// write fails nothing is enqueued. A fact the log already holds reports
	// success without re-enqueueing.
	Publish(ctx context.Context, f *fact.Fact) error

	// Subscribe starts one consumption loop for (kind, group, consumer) and
	// invokes handler for every delivered fact. The loop runs until the
	// subscription is cancelled, tolerating transient read errors by
	// retrying with backoff.
	Subscribe(ctx context.Context, kind fact.Kind, handler Handler, opts SubscribeOptions) (*Subscription, error)

	// Unsubscribe stops delivery for the subscription. History and group
	// checkpoints are not deleted.
	Unsubscribe(sub *Subscription) error

	// Close cancels all subscriptions and releases resources.
	Close() error
}

// invoke runs a handler with panic recovery so a misbehaving consumer cannot
// crash its consumption loop.
func invoke(ctx context.Context, handler Handler, f *fact.Fact) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic on fact %s: %v", f.ID, r)
		}
	}()
	return handler(ctx, f)
}
