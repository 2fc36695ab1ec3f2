package bus

import (
	"context"
	"sync"
)

const chanBusBuffer = 64

// ChanBus is an in-process MessageBus backed by Go channels. It backs tests
// and single-binary demos where no broker is available. Delivery is
// at-most-once: a subscriber whose buffer is full loses the message rather
// than blocking the publisher.
type ChanBus struct {
	mu          sync.RWMutex
	subscribers map[string]map[int]chan Message
	patterns    map[int]patternSub
	retained    map[string][]byte
	nextSubId   int
	closed      bool
}

type patternSub struct {
	pattern string
	ch      chan Message
}

// NewChanBus creates an empty in-process bus.
func NewChanBus() *ChanBus {
	return &ChanBus{
		subscribers: make(map[string]map[int]chan Message),
		patterns:    make(map[int]patternSub),
		retained:    make(map[string][]byte),
	}
}

// matchPattern supports the trailing-wildcard patterns the control plane
// uses ("control/status/*").
func matchPattern(pattern string, topic string) bool {
	if len(pattern) > 0 && pattern[len(pattern)-1] == '*' {
		prefix := pattern[:len(pattern)-1]
		return len(topic) >= len(prefix) && topic[:len(prefix)] == prefix
	}

	return pattern == topic
}

func (b *ChanBus) Publish(ctx context.Context, msg Message, opts PublishOptions) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBusClosed
	}

	if opts.Retain {
		p := make([]byte, len(msg.Payload))
		copy(p, msg.Payload)
		b.retained[msg.Topic] = p
	}

	for _, ch := range b.subscribers[msg.Topic] {
		select {
		case ch <- msg:
		default:
			// Subscriber buffer full: drop, never queue.
		}
	}

	for _, ps := range b.patterns {
		if !matchPattern(ps.pattern, msg.Topic) {
			continue
		}
		select {
		case ps.ch <- msg:
		default:
		}
	}

	return nil
}

type chanSubscription struct {
	bus       *ChanBus
	topic     string
	id        int
	isPattern bool
	stop      chan struct{}
	done      chan struct{}
}

func (s *chanSubscription) Unsubscribe() error {
	s.bus.mu.Lock()
	if s.isPattern {
		delete(s.bus.patterns, s.id)
	} else if subs, ok := s.bus.subscribers[s.topic]; ok {
		delete(subs, s.id)
	}
	s.bus.mu.Unlock()

	close(s.stop)
	<-s.done
	return nil
}

func (b *ChanBus) Subscribe(ctx context.Context, topic string, h Handler) (Subscription, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrBusClosed
	}

	ch := make(chan Message, chanBusBuffer)
	id := b.nextSubId
	b.nextSubId++
	if b.subscribers[topic] == nil {
		b.subscribers[topic] = make(map[int]chan Message)
	}
	b.subscribers[topic][id] = ch

	var retained []byte
	if p, ok := b.retained[topic]; ok {
		retained = p
	}
	b.mu.Unlock()

	if retained != nil {
		h(Message{Topic: topic, Payload: retained})
	}

	sub := &chanSubscription{bus: b, topic: topic, id: id, stop: make(chan struct{}), done: make(chan struct{})}
	go func() {
		defer close(sub.done)
		for {
			select {
			case m := <-ch:
				h(m)
			case <-sub.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return sub, nil
}

func (b *ChanBus) SubscribePattern(ctx context.Context, pattern string, h Handler) (Subscription, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrBusClosed
	}

	ch := make(chan Message, chanBusBuffer)
	id := b.nextSubId
	b.nextSubId++
	b.patterns[id] = patternSub{pattern: pattern, ch: ch}
	b.mu.Unlock()

	sub := &chanSubscription{bus: b, id: id, isPattern: true, stop: make(chan struct{}), done: make(chan struct{})}
	go func() {
		defer close(sub.done)
		for {
			select {
			case m := <-ch:
				h(m)
			case <-sub.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return sub, nil
}

func (b *ChanBus) Connected() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return !b.closed
}

func (b *ChanBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}
