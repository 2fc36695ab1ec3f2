package bus

import (
	"context"
	"sync"
	"testing"
	"time"
)

func collect(t *testing.T) (Handler, func() []Message) {
	t.Helper()

	var mu sync.Mutex
	var got []Message

	h := func(m Message) {
		mu.Lock()
		got = append(got, m)
		mu.Unlock()
	}

	return h, func() []Message {
		mu.Lock()
		defer mu.Unlock()
		out := make([]Message, len(got))
		copy(out, got)
		return out
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("Timeout waiting for condition")
}

func TestPublishSubscribe(t *testing.T) {
	b := NewChanBus()
	defer b.Close()

	ctx := context.Background()
	h, got := collect(t)

	sub, err := b.Subscribe(ctx, TopicCommands, h)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Unsubscribe()

	if err := b.Publish(ctx, Message{Topic: TopicCommands, Payload: []byte("hello")}, PublishOptions{}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	waitFor(t, func() bool { return len(got()) == 1 })
	if string(got()[0].Payload) != "hello" {
		t.Errorf("Wrong payload: %q", got()[0].Payload)
	}
}

// TestRetainedDeliveredToLateJoiner verifies a subscriber arriving after a
// retained publish still sees the current state.
func TestRetainedDeliveredToLateJoiner(t *testing.T) {
	b := NewChanBus()
	defer b.Close()

	ctx := context.Background()
	topic := TopicStatus("proc-a")

	err := b.Publish(ctx, Message{Topic: topic, Payload: []byte("running")}, PublishOptions{Retain: true})
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	h, got := collect(t)
	sub, err := b.Subscribe(ctx, topic, h)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Unsubscribe()

	msgs := got()
	if len(msgs) != 1 || string(msgs[0].Payload) != "running" {
		t.Fatalf("Expected retained message on subscribe, got %v", msgs)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := NewChanBus()
	defer b.Close()

	ctx := context.Background()
	h, got := collect(t)

	sub, err := b.Subscribe(ctx, "events/1", h)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	b.Publish(ctx, Message{Topic: "events/1", Payload: []byte("a")}, PublishOptions{})
	waitFor(t, func() bool { return len(got()) == 1 })

	sub.Unsubscribe()
	b.Publish(ctx, Message{Topic: "events/1", Payload: []byte("b")}, PublishOptions{})

	time.Sleep(20 * time.Millisecond)
	if len(got()) != 1 {
		t.Errorf("Expected no delivery after Unsubscribe, got %d messages", len(got()))
	}
}

func TestPatternSubscribe(t *testing.T) {
	b := NewChanBus()
	defer b.Close()

	ctx := context.Background()
	h, got := collect(t)

	sub, err := b.SubscribePattern(ctx, TopicStatusPattern, h)
	if err != nil {
		t.Fatalf("SubscribePattern failed: %v", err)
	}
	defer sub.Unsubscribe()

	b.Publish(ctx, Message{Topic: TopicStatus("proc-a"), Payload: []byte("x")}, PublishOptions{})
	b.Publish(ctx, Message{Topic: TopicStatus("proc-b"), Payload: []byte("y")}, PublishOptions{})
	b.Publish(ctx, Message{Topic: "events/4", Payload: []byte("z")}, PublishOptions{})

	waitFor(t, func() bool { return len(got()) == 2 })
	time.Sleep(20 * time.Millisecond)
	if len(got()) != 2 {
		t.Errorf("Pattern matched wrong topics: %v", got())
	}
}

func TestTopicHelpers(t *testing.T) {
	if TopicStatus("proc-a") != "control/status/proc-a" {
		t.Errorf("TopicStatus wrong: %s", TopicStatus("proc-a"))
	}
	if TopicAck("proc-a") != "control/status/ack/proc-a" {
		t.Errorf("TopicAck wrong: %s", TopicAck("proc-a"))
	}
	if TopicEvents(12) != "events/12" {
		t.Errorf("TopicEvents wrong: %s", TopicEvents(12))
	}

	if !IsAckTopic(TopicAck("proc-a")) {
		t.Error("Ack topic not recognized")
	}
	if IsAckTopic(TopicStatus("proc-a")) {
		t.Error("Status topic misclassified as ack")
	}
}

func TestClosedBusRejectsOperations(t *testing.T) {
	b := NewChanBus()
	b.Close()

	ctx := context.Background()
	if err := b.Publish(ctx, Message{Topic: "t"}, PublishOptions{}); err != ErrBusClosed {
		t.Errorf("Expected ErrBusClosed on Publish, got %v", err)
	}
	if _, err := b.Subscribe(ctx, "t", func(Message) {}); err != ErrBusClosed {
		t.Errorf("Expected ErrBusClosed on Subscribe, got %v", err)
	}
}
