package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"

	"github.com/tinycrops/agentWeb/pkg/fact"
	"github.com/tinycrops/agentWeb/pkg/factlog"
)

// StreamKey returns the Redis Stream key for one fact kind.
// Pattern: agentweb:{instance}:stream:{kind}
func StreamKey(instance string, kind fact.Kind) string {
	return fmt.Sprintf("agentweb:%s:stream:%s", instance, kind)
}

// RedisRouter is the durable Router implementation on Redis Streams. Each
// fact kind maps to one stream; consumer groups give independent at-least-once
// delivery with XACK-based checkpointing, so a group resumes from its last
// acknowledged entry across process restarts.
type RedisRouter struct {
	rdb      *redis.Client
	log      factlog.Log
	instance string

	mu     sync.Mutex
	subs   map[string]*Subscription
	closed bool
	wg     sync.WaitGroup
}

// NewRedisRouter creates a router for the given instance namespace, delivering
// facts appended through the provided log.
func NewRedisRouter(redisOpts *redis.Options, l factlog.Log, instance string) (*RedisRouter, error) {
	if instance == "" {
		return nil, fmt.Errorf("instance name cannot be empty")
	}
	return &RedisRouter{
		rdb:      redis.NewClient(redisOpts),
		log:      l,
		instance: instance,
		subs:     make(map[string]*Subscription),
	}, nil
}

// Ping verifies Redis connectivity. Useful for health checks.
func (r *RedisRouter) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

// Publish implements Router. Durability precedes visibility: the fact is
// enqueued only after the log reports a committed append.
func (r *RedisRouter) Publish(ctx context.Context, f *fact.Fact) error {
	res, err := r.log.Append(ctx, f)
	if err != nil {
		return err
	}
	if !res.Inserted {
		return nil
	}

	if err := r.enqueue(ctx, f); err != nil {
		return err
	}
	if res.Envelope != nil {
		if err := r.enqueue(ctx, res.Envelope); err != nil {
			return err
		}
	}
	return nil
}

func (r *RedisRouter) enqueue(ctx context.Context, f *fact.Fact) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("failed to marshal fact %s for stream: %w", f.ID, err)
	}
	err = r.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamKey(r.instance, f.Kind),
		Values: map[string]interface{}{"fact": string(data)},
	}).Err()
	if err != nil {
		return &factlog.StorageError{Op: "publish", Err: err}
	}
	return nil
}

// Subscribe implements Router. The consumer group is created at the stream
// tail if it does not exist yet; an existing group keeps its checkpoint.
func (r *RedisRouter) Subscribe(ctx context.Context, kind fact.Kind, handler Handler, opts SubscribeOptions) (*Subscription, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	opts.applyDefaults()

	streamKey := StreamKey(r.instance, kind)
	err := r.rdb.XGroupCreateMkStream(ctx, streamKey, opts.Group, "$").Err()
	if err != nil && !isBusyGroup(err) {
		return nil, &factlog.StorageError{Op: "subscribe", Err: err}
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, fmt.Errorf("router is closed")
	}
	subCtx, cancel := context.WithCancel(ctx)
	sub := newSubscription(kind, opts, cancel)
	r.subs[sub.ID] = sub
	r.wg.Add(1)
	r.mu.Unlock()

	go r.consume(subCtx, sub, streamKey, handler, opts)

	return sub, nil
}

// consume runs one consumption loop for a (stream, group, consumer) triple.
// Each iteration reads either this consumer's pending entries (after a
// failure or a restart) or new entries, invokes the handler, and acknowledges
// on success. Failed deliveries stay in the pending entries list and are
// re-read on a later iteration.
func (r *RedisRouter) consume(ctx context.Context, sub *Subscription, streamKey string, handler Handler, opts SubscribeOptions) {
	defer r.wg.Done()
	defer close(sub.done)

	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = 100 * time.Millisecond
	retry.MaxInterval = 5 * time.Second
	retry.MaxElapsedTime = 0 // retry forever; only unsubscribe stops the loop

	// Start with the pending entries list so deliveries left unacknowledged
	// by a previous run of this consumer are re-processed first.
	readPending := true

	for {
		if ctx.Err() != nil {
			return
		}

		readID := ">"
		if readPending {
			readID = "0"
		}

		streams, err := r.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    sub.Group,
			Consumer: sub.Consumer,
			Streams:  []string{streamKey, readID},
			Count:    int64(opts.BatchSize),
			Block:    opts.BlockTimeout,
		}).Result()

		if err != nil {
			if errors.Is(err, redis.Nil) {
				// Bounded poll elapsed with nothing new.
				retry.Reset()
				continue
			}
			if ctx.Err() != nil {
				return
			}
			wait := retry.NextBackOff()
			log.Printf("[WARN] stream read failed on %s (%s/%s), retrying in %s: %v",
				streamKey, sub.Group, sub.Consumer, wait, err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			continue
		}
		retry.Reset()

		delivered := 0
		failed := 0
		for _, s := range streams {
			for _, msg := range s.Messages {
				delivered++
				f, derr := decodeMessage(msg)
				if derr != nil {
					// A message that cannot be decoded will never succeed;
					// acknowledge it so it does not wedge the stream.
					log.Printf("[ERROR] dropping undecodable stream entry %s on %s: %v", msg.ID, streamKey, derr)
					r.rdb.XAck(ctx, streamKey, sub.Group, msg.ID)
					continue
				}

				if herr := invoke(ctx, handler, f); herr != nil {
					log.Printf("[WARN] handler failed for fact %s on %s/%s, will redeliver: %v",
						f.ID, sub.Kind, sub.Group, herr)
					failed++
					continue // unacknowledged: stays pending
				}
				r.rdb.XAck(ctx, streamKey, sub.Group, msg.ID)
			}
		}

		switch {
		case failed > 0:
			// Revisit the pending entries list after a short pause so a
			// transiently failing handler gets its redelivery.
			readPending = true
			select {
			case <-ctx.Done():
				return
			case <-time.After(opts.RetryDelay):
			}
		case readPending && delivered == 0:
			// Pending backlog drained; switch to new entries.
			readPending = false
		case readPending:
			// Backlog processed cleanly this iteration; check for more.
		default:
		}
	}
}

func decodeMessage(msg redis.XMessage) (*fact.Fact, error) {
	raw, ok := msg.Values["fact"].(string)
	if !ok {
		return nil, fmt.Errorf("stream entry missing fact field")
	}
	var f fact.Fact
	if err := json.Unmarshal([]byte(raw), &f); err != nil {
		return nil, fmt.Errorf("failed to unmarshal fact: %w", err)
	}
	return &f, nil
}

// Unsubscribe implements Router. Blocks until the consumption loop has
// reached its next poll boundary and exited.
func (r *RedisRouter) Unsubscribe(sub *Subscription) error {
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
func (r *RedisRouter) Close() error {
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
	return r.rdb.Close()
}

func isBusyGroup(err error) bool {
	return err != nil && strings.Contains(err.Error(), "BUSYGROUP")
}
