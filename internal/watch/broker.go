// Package watch implements the push-based change feed the tracking engine
// consumes: a per-job fan-out broker plus the sources that feed it.
package watch

import (
	"errors"
	"sync"
)

// subscriberBufferSize is the channel buffer for each subscriber. A feed that
// outruns a subscriber by this much drops deliveries rather than blocking the
// publisher; terminal snapshots are re-read from the store, never lost.
const subscriberBufferSize = 16

// ErrFeedClosed is delivered to subscribers when the backing feed dies.
var ErrFeedClosed = errors.New("change feed closed")

// Broker fans deliveries for a topic (one topic per job id) out to
// subscribers. It is safe for concurrent use.
//
// Closed topics are retained as markers so that late subscribers (those
// subscribing after a job finishes) receive a closed channel instead of
// blocking forever.
type Broker[T any] struct {
	mu     sync.Mutex
	topics map[string]*topic[T]
}

type topic[T any] struct {
	subs   map[int]*Subscription[T]
	nextID int
	closed bool
	failed error
}

// Subscription is one subscriber's view of a topic. C carries deliveries and
// is closed when the topic closes or fails; after C closes, Err returns the
// failure, if any, exactly once.
type Subscription[T any] struct {
	C <-chan T

	ch     chan T
	errCh  chan error
	cancel func()
	once   sync.Once
}

// Err returns the channel-level error that killed the subscription, or nil
// for a normal close. Valid once C has been closed.
func (s *Subscription[T]) Err() error {
	select {
	case err := <-s.errCh:
		return err
	default:
		return nil
	}
}

// Unsubscribe detaches the subscription. It is idempotent and safe to call
// after the topic has closed or failed.
func (s *Subscription[T]) Unsubscribe() {
	s.once.Do(s.cancel)
}

// NewBroker creates an empty broker.
func NewBroker[T any]() *Broker[T] {
	return &Broker[T]{
		topics: make(map[string]*topic[T]),
	}
}

// Subscribe returns a subscription for the given topic. If the topic has
// already closed, the returned subscription's channel is closed immediately
// (carrying the failure error, if the topic died rather than finished).
func (b *Broker[T]) Subscribe(id string) *Subscription[T] {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[id]
	if !ok {
		t = &topic[T]{subs: make(map[int]*Subscription[T])}
		b.topics[id] = t
	}

	sub := &Subscription[T]{
		ch:    make(chan T, subscriberBufferSize),
		errCh: make(chan error, 1),
	}
	sub.C = sub.ch

	if t.closed {
		if t.failed != nil {
			sub.errCh <- t.failed
		}
		close(sub.ch)
		sub.cancel = func() {}
		return sub
	}

	subID := t.nextID
	t.nextID++
	t.subs[subID] = sub
	sub.cancel = func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(t.subs, subID)
	}

	return sub
}

// Publish delivers v to all subscribers of the topic. Deliveries are dropped
// for subscribers whose buffers are full.
func (b *Broker[T]) Publish(id string, v T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[id]
	if !ok || t.closed {
		return
	}

	for _, sub := range t.subs {
		select {
		case sub.ch <- v:
		default:
		}
	}
}

// Close marks the topic finished. Subscriber channels are closed and future
// Subscribe calls return an already-closed subscription.
func (b *Broker[T]) Close(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closeTopic(id, nil)
}

// Fail kills the topic with a channel-level error. Each current subscriber
// observes the error exactly once via Err after its channel closes.
func (b *Broker[T]) Fail(id string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closeTopic(id, err)
}

// FailAll kills every open topic, including topics future subscribers may
// ask for. Used when the backing feed itself dies.
func (b *Broker[T]) FailAll(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id := range b.topics {
		b.closeTopic(id, err)
	}
}

func (b *Broker[T]) closeTopic(id string, err error) {
	t, ok := b.topics[id]
	if !ok {
		b.topics[id] = &topic[T]{subs: make(map[int]*Subscription[T]), closed: true, failed: err}
		return
	}
	if t.closed {
		return
	}

	t.closed = true
	t.failed = err
	for subID, sub := range t.subs {
		if err != nil {
			sub.errCh <- err
		}
		close(sub.ch)
		delete(t.subs, subID)
	}
}
