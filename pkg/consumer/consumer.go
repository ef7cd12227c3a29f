// Package consumer provides the base lifecycle for stateful stream consumers:
// subscription management, idempotent dispatch, and periodic state snapshots.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"

	"github.com/tinycrops/agentWeb/pkg/fact"
	"github.com/tinycrops/agentWeb/pkg/stream"
)

// State tracks the consumer lifecycle. Transitions are strictly forward:
// Created -> Initialized -> Running -> Stopped.
type State int

const (
	StateCreated State = iota
	StateInitialized
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateInitialized:
		return "initialized"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

const (
	defaultSnapshotEvery = 100
	defaultSeenLimit     = 10000
)

// Options configures a Consumer.
type Options struct {
	// ID identifies this consumer instance. Also used as the fact source
	// for anything the consumer publishes. Generated when empty.
	ID string

	// Group is the consumer group name shared by replicas of this
	// consumer. Required.
	Group string

	// SnapshotEvery triggers a snapshot after this many processed facts.
	// Defaults to 100. Ignored when no Snapshotter is attached.
	SnapshotEvery int

	// SeenLimit bounds the duplicate-suppression set. The oldest entries
	// are evicted first, so redeliveries arriving more than SeenLimit facts
	// after the original are handled again. Defaults to 10000.
	SeenLimit int

	// Snapshotter captures and restores the consumer's derived state.
	// Optional; without it the consumer rebuilds state from the stream.
	Snapshotter Snapshotter

	// Store persists snapshot blobs. Optional; requires a Snapshotter.
	Store Store
}

// Consumer is the base for stateful stream consumers. Concrete consumers
// register one handler per fact kind before Init; the base takes care of
// subscriptions, duplicate suppression, and snapshot scheduling.
type Consumer struct {
	id            string
	group         string
	snapshotEvery int
	snapshotter   Snapshotter
	store         Store

	mu        sync.Mutex
	state     State
	router    stream.Router
	handlers  map[fact.Kind]stream.Handler
	subs      []*stream.Subscription
	seen      map[string]bool
	seenOrder []string // eviction queue, oldest first
	seenLimit int
	processed int
}

// New creates a consumer in the Created state.
func New(opts Options) (*Consumer, error) {
	if opts.Group == "" {
		return nil, fmt.Errorf("consumer group cannot be empty")
	}
	if opts.Store != nil && opts.Snapshotter == nil {
		return nil, fmt.Errorf("snapshot store requires a snapshotter")
	}
	if opts.ID == "" {
		opts.ID = fmt.Sprintf("%s-%s", opts.Group, uuid.NewString()[:8])
	}
	if opts.SnapshotEvery <= 0 {
		opts.SnapshotEvery = defaultSnapshotEvery
	}
	if opts.SeenLimit <= 0 {
		opts.SeenLimit = defaultSeenLimit
	}
	return &Consumer{
		id:            opts.ID,
		group:         opts.Group,
		snapshotEvery: opts.SnapshotEvery,
		snapshotter:   opts.Snapshotter,
		store:         opts.Store,
		state:         StateCreated,
		handlers:      make(map[fact.Kind]stream.Handler),
		seen:          make(map[string]bool),
		seenLimit:     opts.SeenLimit,
	}, nil
}

// ID returns the consumer instance identifier.
func (c *Consumer) ID() string {
	return c.id
}

// Group returns the consumer group name.
func (c *Consumer) Group() string {
	return c.group
}

// State returns the current lifecycle state.
func (c *Consumer) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Handle registers a handler for one fact kind. Must be called before Init;
// registering the same kind twice is a programming error.
func (c *Consumer) Handle(kind fact.Kind, handler stream.Handler) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateCreated {
		return fmt.Errorf("cannot register handler in state %s", c.state)
	}
	if _, exists := c.handlers[kind]; exists {
		return fmt.Errorf("handler already registered for kind %s", kind)
	}
	c.handlers[kind] = handler
	return nil
}

// Init attaches the router and restores the latest snapshot if one exists.
// Transitions Created -> Initialized.
func (c *Consumer) Init(ctx context.Context, router stream.Router) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateCreated {
		return fmt.Errorf("cannot initialize in state %s", c.state)
	}
	if router == nil {
		return fmt.Errorf("router cannot be nil")
	}
	if len(c.handlers) == 0 {
		return fmt.Errorf("no handlers registered")
	}
	c.router = router

	if c.store != nil {
		data, err := c.store.Load(c.group)
		switch {
		case errors.Is(err, ErrNoSnapshot):
			log.Printf("[INFO] consumer %s: no snapshot found, starting cold", c.id)
		case err != nil:
			return fmt.Errorf("failed to load snapshot for %s: %w", c.group, err)
		default:
			if rerr := c.snapshotter.Restore(data); rerr != nil {
				return fmt.Errorf("failed to restore snapshot for %s: %w", c.group, rerr)
			}
			log.Printf("[INFO] consumer %s: restored snapshot (%d bytes)", c.id, len(data))
		}
	}

	c.state = StateInitialized
	return nil
}

// Start subscribes to every registered kind and begins dispatch.
// Transitions Initialized -> Running.
func (c *Consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateInitialized {
		return fmt.Errorf("cannot start in state %s", c.state)
	}

	for kind := range c.handlers {
		sub, err := c.router.Subscribe(ctx, kind, c.dispatch, stream.SubscribeOptions{
			Group:    c.group,
			Consumer: c.id,
		})
		if err != nil {
			for _, s := range c.subs {
				c.router.Unsubscribe(s)
			}
			c.subs = nil
			return fmt.Errorf("failed to subscribe to %s: %w", kind, err)
		}
		c.subs = append(c.subs, sub)
	}

	c.state = StateRunning
	log.Printf("[INFO] consumer %s: running (%d subscriptions, group %s)", c.id, len(c.subs), c.group)
	return nil
}

// Stop cancels all subscriptions and flushes a final snapshot.
// Transitions Running -> Stopped.
func (c *Consumer) Stop() error {
	c.mu.Lock()
	if c.state != StateRunning {
		c.mu.Unlock()
		return fmt.Errorf("cannot stop in state %s", c.state)
	}
	subs := c.subs
	c.subs = nil
	c.state = StateStopped
	c.mu.Unlock()

	for _, s := range subs {
		if err := c.router.Unsubscribe(s); err != nil {
			log.Printf("[WARN] consumer %s: unsubscribe failed: %v", c.id, err)
		}
	}

	if err := c.saveSnapshot(); err != nil {
		log.Printf("[WARN] consumer %s: final snapshot failed: %v", c.id, err)
	}
	log.Printf("[INFO] consumer %s: stopped", c.id)
	return nil
}

// dispatch is the shared handler behind every subscription. It filters out
// facts this consumer produced itself and facts already processed, then
// delegates to the kind's registered handler. A fact is marked as seen only
// after its handler succeeds, so a failed delivery is retried in full.
//
// Duplicate suppression is best-effort within a bounded window: the seen set
// holds the most recent SeenLimit fact IDs and is not persisted, so a
// redelivery that straddles a restart or outlives the window reaches the
// handler again. Handlers must tolerate that, as at-least-once delivery
// already requires.
func (c *Consumer) dispatch(ctx context.Context, f *fact.Fact) error {
	c.mu.Lock()
	handler, subscribed := c.handlers[f.Kind]
	skip := !subscribed || f.Source == c.id || c.seen[f.ID]
	c.mu.Unlock()

	if skip {
		return nil
	}

	if err := handler(ctx, f); err != nil {
		return err
	}

	c.mu.Lock()
	c.markSeenLocked(f.ID)
	c.processed++
	due := c.snapshotter != nil && c.processed%c.snapshotEvery == 0
	c.mu.Unlock()

	if due {
		if err := c.saveSnapshot(); err != nil {
			log.Printf("[WARN] consumer %s: periodic snapshot failed: %v", c.id, err)
		}
	}
	return nil
}

// markSeenLocked records a processed fact ID, evicting the oldest entries
// once the set exceeds seenLimit. Caller holds c.mu.
func (c *Consumer) markSeenLocked(id string) {
	if c.seen[id] {
		return
	}
	c.seen[id] = true
	c.seenOrder = append(c.seenOrder, id)
	for len(c.seenOrder) > c.seenLimit {
		delete(c.seen, c.seenOrder[0])
		c.seenOrder[0] = ""
		c.seenOrder = c.seenOrder[1:]
	}
}

// Publish emits a fact through the router, stamping this consumer as its
// source. This is the only way consumers produce facts.
func (c *Consumer) Publish(ctx context.Context, f *fact.Fact) error {
	c.mu.Lock()
	router := c.router
	c.mu.Unlock()
	if router == nil {
		return fmt.Errorf("consumer %s is not initialized", c.id)
	}
	return router.Publish(ctx, f)
}

// Processed reports how many facts this consumer has handled successfully.
func (c *Consumer) Processed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.processed
}

func (c *Consumer) saveSnapshot() error {
	if c.snapshotter == nil || c.store == nil {
		return nil
	}
	data, err := c.snapshotter.Snapshot()
	if err != nil {
		return fmt.Errorf("failed to capture snapshot: %w", err)
	}
	if err := c.store.Save(c.group, data); err != nil {
		return fmt.Errorf("failed to persist snapshot: %w", err)
	}
	log.Printf("[DEBUG] consumer %s: snapshot saved (%d bytes)", c.id, len(data))
	return nil
}
