package stream

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/tinycrops/agentWeb/pkg/fact"
	"github.com/tinycrops/agentWeb/pkg/factlog"
)

// MemoryRouter is the in-process reference implementation of Router. Each
// (kind, group) pair owns one FIFO queue; subscriptions within a group compete
// for entries, while every group receives its own copy of each fact.
type MemoryRouter struct {
	log factlog.Log

	mu     sync.Mutex
	groups map[fact.Kind]map[string]*groupQueue
	subs   map[string]*Subscription
	closed bool
	wg     sync.WaitGroup
}

// NewMemoryRouter creates a router delivering from the given fact log.
func NewMemoryRouter(l factlog.Log) *MemoryRouter {
	return &MemoryRouter{
		log:    l,
		groups: make(map[fact.Kind]map[string]*groupQueue),
		subs:   make(map[string]*Subscription),
	}
}

// Publish implements Router.
func (r *MemoryRouter) Publish(ctx context.Context, f *fact.Fact) error {
	res, err := r.log.Append(ctx, f)
	if err != nil {
		return err
	}
	if !res.Inserted {
		// Already durable; delivery happened (or will happen) for the
		// original append.
		return nil
	}

	r.enqueue(f)
	if res.Envelope != nil {
		r.enqueue(res.Envelope)
	}
	return nil
}

func (r *MemoryRouter) enqueue(f *fact.Fact) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, q := range r.groups[f.Kind] {
		q.push(f)
	}
}

// Subscribe implements Router.
func (r *MemoryRouter) Subscribe(ctx context.Context, kind fact.Kind, handler Handler, opts SubscribeOptions) (*Subscription, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	opts.applyDefaults()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, fmt.Errorf("router is closed")
	}
	if r.groups[kind] == nil {
		r.groups[kind] = make(map[string]*groupQueue)
	}
	q := r.groups[kind][opts.Group]
	if q == nil {
		q = newGroupQueue()
		r.groups[kind][opts.Group] = q
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := newSubscription(kind, opts, cancel)
	r.subs[sub.ID] = sub
	r.wg.Add(1)
	r.mu.Unlock()

	go r.consume(subCtx, sub, q, handler, opts)

	return sub, nil
}

// consume is the per-subscription delivery loop: pop, invoke, and on failure
// requeue at the front so FIFO order within the group is preserved.
func (r *MemoryRouter) consume(ctx context.Context, sub *Subscription, q *groupQueue, handler Handler, opts SubscribeOptions) {
	defer r.wg.Done()
	defer close(sub.done)

	for {
		f, ok := q.pop(ctx, opts.BlockTimeout)
		if !ok {
			if ctx.Err() != nil {
				return
			}
			continue
		}

		if err := invoke(ctx, handler, f); err != nil {
			log.Printf("[WARN] handler failed for fact %s on %s/%s, will redeliver: %v",
				f.ID, sub.Kind, sub.Group, err)
			q.pushFront(f)
			select {
			case <-ctx.Done():
				return
			case <-time.After(opts.RetryDelay):
			}
		}
	}
}

// Unsubscribe implements Router.
func (r *MemoryRouter) Unsubscribe(sub *Subscription) error {
	r.mu.Lock()
	_, known := r.subs[sub.ID]
	delete(r.subs, sub.ID)
	r.mu.Unlock()

	if !known {
		return fmt.Errorf("unknown subscription %s", sub.ID)
	}
	sub.cancel()
	<-sub.done
	return nil
}

// Close implements Router.
func (r *MemoryRouter) Close() error {
	r.mu.Lock()
	r.closed = true
	subs := make([]*Subscription, 0, len(r.subs))
	for _, s := range r.subs {
		subs = append(subs, s)
	}
	r.subs = make(map[string]*Subscription)
	r.mu.Unlock()

	for _, s := range subs {
		s.cancel()
	}
	r.wg.Wait()
	return nil
}

// groupQueue is an unbounded FIFO queue with blocking pop. One queue serves
// all competing consumers of a (kind, group) pair.
type groupQueue struct {
	mu     sync.Mutex
	items  []*fact.Fact
	notify chan struct{}
}

func newGroupQueue() *groupQueue {
	return &groupQueue{notify: make(chan struct{}, 1)}
}

func (q *groupQueue) push(f *fact.Fact) {
	q.mu.Lock()
	q.items = append(q.items, f)
	q.mu.Unlock()
	q.signal()
}

func (q *groupQueue) pushFront(f *fact.Fact) {
	q.mu.Lock()
	q.items = append([]*fact.Fact{f}, q.items...)
	q.mu.Unlock()
	q.signal()
}

func (q *groupQueue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// pop returns the queue head, blocking up to wait for an entry to arrive.
// Returns ok=false on timeout or context cancellation.
func (q *groupQueue) pop(ctx context.Context, wait time.Duration) (*fact.Fact, bool) {
	deadline := time.NewTimer(wait)
	defer deadline.Stop()

	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			f := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()
			return f, true
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, false
		case <-deadline.C:
			return nil, false
		case <-q.notify:
		}
	}
}
