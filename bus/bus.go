// Package bus wraps the publish/subscribe transport used by the control
// plane. Topics are hierarchical, "/"-separated. Two delivery levels are
// supported: at-most-once (live detection events, loss acceptable) and
// at-least-once (durable export paths). A message published with Retain set
// is replayed to late subscribers so they see the current state immediately.
package bus

import (
	"context"
	"errors"
	"strconv"
)

// Delivery levels.
type DeliveryLevel int

const (
	// AtMostOnce delivers to currently-connected subscribers only.
	AtMostOnce DeliveryLevel = iota

	// AtLeastOnce persists the message until a durable consumer acknowledges it.
	AtLeastOnce
)

// Topic conventions shared by workers and the orchestrator.
const (
	// TopicCommands is the single shared command channel. Every worker
	// subscribes to it; addressing happens in the payload.
	TopicCommands = "control/commands"

	topicStatusPrefix = "control/status/"
	topicAckPrefix    = "control/status/ack/"
	topicEventsPrefix = "events/"
)

// TopicStatus returns the per-worker status channel. The last status message
// is retained so late subscribers see the worker's current state.
func TopicStatus(instanceId string) string {
	return topicStatusPrefix + instanceId
}

// TopicAck returns the per-worker command ACK channel.
func TopicAck(instanceId string) string {
	return topicAckPrefix + instanceId
}

// TopicEvents returns the per-source detection event channel. Events are not
// retained and are delivered at most once.
func TopicEvents(sourceId int) string {
	return topicEventsPrefix + strconv.Itoa(sourceId)
}

// TopicStatusPattern matches every per-worker status channel (and their ack
// subtopics; subscribers filter those with IsAckTopic).
const TopicStatusPattern = topicStatusPrefix + "*"

// TopicEventsPattern matches every per-source event channel.
const TopicEventsPattern = topicEventsPrefix + "*"

// TopicEventsArchive is the aggregated durable copy of detection events.
// Workers publish here at least once when archival is enabled; consumers
// drain it through a stream consumer group, not the live pattern.
const TopicEventsArchive = "archive/events"

// IsAckTopic reports whether a topic matched by TopicStatusPattern is a
// command-ACK channel rather than a status channel.
func IsAckTopic(topic string) bool {
	return len(topic) >= len(topicAckPrefix) && topic[:len(topicAckPrefix)] == topicAckPrefix
}

var ErrBusClosed = errors.New("bus is closed")

// Message is one payload on one topic.
type Message struct {
	Topic   string
	Payload []byte
}

// PublishOptions select retention and delivery level for one publish.
type PublishOptions struct {
	Retain bool
	Level  DeliveryLevel
}

// Handler consumes messages delivered to a subscription. Handlers must not
// block: slow handlers should hand off to their own goroutine or channel.
type Handler func(msg Message)

// Subscription is one active topic subscription.
type Subscription interface {
	Unsubscribe() error
}

// MessageBus is the transport seen by workers and the orchestrator.
type MessageBus interface {
	// Publish sends one message. With Retain set the payload also becomes
	// the topic's retained message.
	Publish(ctx context.Context, msg Message, opts PublishOptions) error

	// Subscribe registers a handler for a topic. If the topic has a retained
	// message it is delivered to the handler before any live message.
	Subscribe(ctx context.Context, topic string, h Handler) (Subscription, error)

	// SubscribePattern registers a handler for every topic matching a
	// trailing-wildcard pattern such as "control/status/*". Retained
	// messages are not replayed for pattern subscriptions.
	SubscribePattern(ctx context.Context, pattern string, h Handler) (Subscription, error)

	// Connected reports whether the underlying transport is reachable.
	Connected() bool

	Close() error
}
