package inmemory

import (
	"context"
	"fmt"
	"sync"

	cbus "github.com/next-trace/scg-parking-bus/contract/bus"
	berr "github.com/next-trace/scg-parking-bus/contract/errors"
)

const defaultQueueSize = 256

// Transport is a thread-safe in-process implementation of cbus.Transport.
// Each destination is point-to-point: a message goes to exactly one subscription,
// chosen round-robin when several are registered. Every subscription drains its own
// queue on a dedicated goroutine, so delivery within a destination is in order.
// Published messages are recorded for tests and examples.
type Transport struct {
	mu        sync.Mutex
	subs      map[string][]*subscription
	next      map[string]int
	published []cbus.Message
	closed    bool
	queueSize int
}

// Ensure Transport implements the contract.
var _ cbus.Transport = (*Transport)(nil)

// New creates a new in-memory transport instance.
func New() *Transport {
	return &Transport{
		subs:      make(map[string][]*subscription),
		next:      make(map[string]int),
		queueSize: defaultQueueSize,
	}
}

type subscription struct {
	t    *Transport
	dest string
	h    cbus.Handler
	q    chan cbus.Message
	done chan struct{}
	once sync.Once
}

func (t *Transport) Publish(ctx context.Context, msg cbus.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if msg.Destination == "" {
		return fmt.Errorf("inmemory publish: %w: empty destination", berr.ErrTransport)
	}

	m := copyMessage(msg)

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return fmt.Errorf("inmemory publish %s: %w", msg.Destination, berr.ErrClosed)
	}

	t.published = append(t.published, m)

	var target *subscription
	if subs := t.subs[m.Destination]; len(subs) > 0 {
		i := t.next[m.Destination] % len(subs)
		t.next[m.Destination] = i + 1
		target = subs[i]
	}
	t.mu.Unlock()

	if target == nil {
		// nobody listening: point-to-point semantics drop the message
		return nil
	}

	select {
	case target.q <- m:
		return nil
	case <-target.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Transport) Subscribe(ctx context.Context, destination string, h cbus.Handler) (cbus.Subscription, error) {
	if h == nil || destination == "" {
		return nil, fmt.Errorf("inmemory subscribe %q: %w", destination, berr.ErrSubscribeFailed)
	}

	s := &subscription{
		t:    t,
		dest: destination,
		h:    h,
		q:    make(chan cbus.Message, t.queueSize),
		done: make(chan struct{}),
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, fmt.Errorf("inmemory subscribe %s: %w", destination, berr.ErrClosed)
	}

	t.subs[destination] = append(t.subs[destination], s)
	t.mu.Unlock()

	go s.run(ctx)

	return s, nil
}

// Close stops every subscription. Further publishes fail with ErrClosed.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}

	t.closed = true

	var all []*subscription
	for _, subs := range t.subs {
		all = append(all, subs...)
	}

	t.subs = make(map[string][]*subscription)
	t.mu.Unlock()

	for _, s := range all {
		s.stop()
	}

	return nil
}

// Published returns a snapshot of every message accepted by Publish.
func (t *Transport) Published() []cbus.Message {
	t.mu.Lock()
	defer t.mu.Unlock()

	return append([]cbus.Message(nil), t.published...)
}

func (s *subscription) run(ctx context.Context) {
	for {
		select {
		case m := <-s.q:
			s.h(ctx, m)
		case <-s.done:
			return
		case <-ctx.Done():
			_ = s.Unsubscribe()
			return
		}
	}
}

func (s *subscription) Unsubscribe() error {
	s.t.mu.Lock()
	subs := s.t.subs[s.dest]
	for i, cur := range subs {
		if cur == s {
			s.t.subs[s.dest] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	s.t.mu.Unlock()

	s.stop()

	return nil
}

func (s *subscription) stop() {
	s.once.Do(func() { close(s.done) })
}

func copyMessage(m cbus.Message) cbus.Message {
	out := cbus.Message{
		Destination: m.Destination,
		Key:         m.Key,
		Payload:     append([]byte(nil), m.Payload...),
		Headers:     m.CloneHeaders(),
	}

	return out
}
