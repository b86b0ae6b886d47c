// Package memory provides an in-process driven.Bus.
//
// It broadcasts between components of one process: the hot-swap publisher
// and the serving caches of an all-in-one deployment, and service tests.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/custodia-labs/sercha-indexer/internal/core/domain"
	"github.com/custodia-labs/sercha-indexer/internal/core/ports/driven"
)

// DefaultBuffer is the per-subscription delivery buffer.
const DefaultBuffer = 16

// Ensure Bus implements the interface.
var _ driven.Bus = (*Bus)(nil)

// Bus fans published messages out to every subscriber of a topic.
// A subscriber whose buffer is full misses the message.
type Bus struct {
	mu     sync.Mutex
	subs   map[string]map[*subscription]struct{}
	buffer int
	closed bool
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{
		subs:   make(map[string]map[*subscription]struct{}),
		buffer: DefaultBuffer,
	}
}

// Publish delivers payload to the current subscribers of topic without blocking.
func (b *Bus) Publish(_ context.Context, topic string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("%w: bus closed", domain.ErrBusUnavailable)
	}
	for sub := range b.subs[topic] {
		select {
		case sub.ch <- append([]byte(nil), payload...):
		default:
		}
	}
	return nil
}

// Subscribe registers for messages on topic until ctx ends or the subscription closes.
func (b *Bus) Subscribe(ctx context.Context, topic string) (driven.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, fmt.Errorf("%w: bus closed", domain.ErrBusUnavailable)
	}

	sub := &subscription{bus: b, topic: topic, ch: make(chan []byte, b.buffer), done: make(chan struct{})}
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[*subscription]struct{})
	}
	b.subs[topic][sub] = struct{}{}

	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-sub.done:
		}
	}()
	return sub, nil
}

// Close ends every subscription.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	var all []*subscription
	for _, set := range b.subs {
		for sub := range set {
			all = append(all, sub)
		}
	}
	b.mu.Unlock()

	for _, sub := range all {
		sub.Close()
	}
	return nil
}

// Subscribers returns the number of live subscriptions on topic.
func (b *Bus) Subscribers(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[topic])
}

func (b *Bus) remove(sub *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs[sub.topic], sub)
	if len(b.subs[sub.topic]) == 0 {
		delete(b.subs, sub.topic)
	}
	close(sub.ch)
}

type subscription struct {
	bus   *Bus
	topic string
	ch    chan []byte
	done  chan struct{}
	once  sync.Once
}

func (s *subscription) Messages() <-chan []byte { return s.ch }

func (s *subscription) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.bus.remove(s)
	})
	return nil
}
