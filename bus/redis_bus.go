package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Redis key prefixes. Retained messages live in plain keys so late
// subscribers can fetch them with a GET; at-least-once messages go through a
// stream per topic.
const (
	redisRetainedPrefix = "retained/"
	redisStreamPrefix   = "stream/"
	redisStreamMaxLen   = 10000
)

// RedisBus implements MessageBus on top of Redis PUBLISH/SUBSCRIBE, with
// plain keys for retained messages and streams for at-least-once delivery.
type RedisBus struct {
	client *redis.Client
	log    *zap.SugaredLogger

	mu     sync.Mutex
	closed bool
}

// NewRedisBus connects to Redis at redis_ip:redis_port.
func NewRedisBus(redisIp string, redisPort string, log *zap.SugaredLogger) *RedisBus {
	client := redis.NewClient(&redis.Options{
		Addr:     redisIp + ":" + redisPort,
		Password: "",
		DB:       0,
	})

	return &RedisBus{client: client, log: log}
}

// NewRedisBusFromClient wraps an existing client (tests, shared pools).
func NewRedisBusFromClient(client *redis.Client, log *zap.SugaredLogger) *RedisBus {
	return &RedisBus{client: client, log: log}
}

func (b *RedisBus) Publish(ctx context.Context, msg Message, opts PublishOptions) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return ErrBusClosed
	}

	if opts.Retain {
		if err := b.client.Set(ctx, redisRetainedPrefix+msg.Topic, msg.Payload, 0).Err(); err != nil {
			return fmt.Errorf("set retained message on %s: %w", msg.Topic, err)
		}
	}

	if opts.Level == AtLeastOnce {
		err := b.client.XAdd(ctx, &redis.XAddArgs{
			Stream: redisStreamPrefix + msg.Topic,
			MaxLen: redisStreamMaxLen,
			Approx: true,
			Values: map[string]interface{}{"payload": msg.Payload},
		}).Err()
		if err != nil {
			return fmt.Errorf("append to stream %s: %w", msg.Topic, err)
		}
	}

	if err := b.client.Publish(ctx, msg.Topic, msg.Payload).Err(); err != nil {
		return fmt.Errorf("publish on %s: %w", msg.Topic, err)
	}

	return nil
}

type redisSubscription struct {
	pubsub *redis.PubSub
	cancel context.CancelFunc
	done   chan struct{}
}

func (s *redisSubscription) Unsubscribe() error {
	s.cancel()
	err := s.pubsub.Close()
	<-s.done
	return err
}

func (b *RedisBus) Subscribe(ctx context.Context, topic string, h Handler) (Subscription, error) {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return nil, ErrBusClosed
	}

	pubsub := b.client.Subscribe(ctx, topic)

	// Force the SUBSCRIBE onto the wire before delivering the retained
	// message, so no live message published in between is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("subscribe to %s: %w", topic, err)
	}

	if retained, err := b.client.Get(ctx, redisRetainedPrefix+topic).Result(); err == nil {
		h(Message{Topic: topic, Payload: []byte(retained)})
	} else if err != redis.Nil {
		b.log.Warnw("Failed to fetch retained message", "topic", topic, "error", err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &redisSubscription{pubsub: pubsub, cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(sub.done)
		ch := pubsub.Channel()
		for {
			select {
			case m, ok := <-ch:
				if !ok {
					return
				}
				h(Message{Topic: m.Channel, Payload: []byte(m.Payload)})
			case <-subCtx.Done():
				return
			}
		}
	}()

	return sub, nil
}

// SubscribePattern subscribes with Redis PSUBSCRIBE semantics. Retained
// messages are not replayed: a pattern has no single retained key.
func (b *RedisBus) SubscribePattern(ctx context.Context, pattern string, h Handler) (Subscription, error) {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return nil, ErrBusClosed
	}

	pubsub := b.client.PSubscribe(ctx, pattern)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("psubscribe to %s: %w", pattern, err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &redisSubscription{pubsub: pubsub, cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(sub.done)
		ch := pubsub.Channel()
		for {
			select {
			case m, ok := <-ch:
				if !ok {
					return
				}
				h(Message{Topic: m.Channel, Payload: []byte(m.Payload)})
			case <-subCtx.Done():
				return
			}
		}
	}()

	return sub, nil
}

// SubscribeDurable consumes a topic's stream with at-least-once semantics.
// Messages are re-delivered until the handler returns without panicking and
// the entry is acknowledged. group/consumer follow Redis consumer-group
// naming.
func (b *RedisBus) SubscribeDurable(ctx context.Context, topic string, group string, consumer string, h Handler) error {
	stream := redisStreamPrefix + topic
	err := b.client.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && !isBusyGroupErr(err) {
		return fmt.Errorf("create consumer group %s on %s: %w", group, topic, err)
	}

	go func() {
		for {
			if ctx.Err() != nil {
				return
			}

			res, err := b.client.XReadGroup(ctx, &redis.XReadGroupArgs{
				Group:    group,
				Consumer: consumer,
				Streams:  []string{stream, ">"},
				Count:    16,
				Block:    2 * time.Second,
			}).Result()
			if err != nil {
				if err == redis.Nil || ctx.Err() != nil {
					continue
				}
				b.log.Warnw("Durable read failed", "topic", topic, "error", err)
				time.Sleep(time.Second)
				continue
			}

			for _, str := range res {
				for _, entry := range str.Messages {
					payload, _ := entry.Values["payload"].(string)
					h(Message{Topic: topic, Payload: []byte(payload)})
					if err := b.client.XAck(ctx, stream, group, entry.ID).Err(); err != nil {
						b.log.Warnw("Failed to ACK stream entry", "topic", topic, "id", entry.ID, "error", err)
					}
				}
			}
		}
	}()

	return nil
}

func isBusyGroupErr(err error) bool {
	return err != nil && len(err.Error()) >= 9 && err.Error()[:9] == "BUSYGROUP"
}

func (b *RedisBus) Connected() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return b.client.Ping(ctx).Err() == nil
}

func (b *RedisBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}

	b.closed = true
	return b.client.Close()
}
