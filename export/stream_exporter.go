package export

import (
	"context"
	"fmt"

	"ezliveAnalytics/bus"
	"ezliveAnalytics/event"
	"ezliveAnalytics/models"
)

// StreamExporter publishes detection events on the aggregated archive topic
// with at-least-once delivery. On the Redis bus that lands each event in a
// stream, where archive consumers drain it through a consumer group; a
// consumer that falls behind or restarts still sees every event.
type StreamExporter struct {
	bus bus.MessageBus
}

func NewStreamExporter(b bus.MessageBus) *StreamExporter {
	return &StreamExporter{bus: b}
}

// Export sends one event to the archive topic.
func (e *StreamExporter) Export(ctx context.Context, ev models.DetectionEvent) error {
	b, err := event.Encode(ev)
	if err != nil {
		return err
	}

	err = e.bus.Publish(ctx, bus.Message{Topic: bus.TopicEventsArchive, Payload: b},
		bus.PublishOptions{Level: bus.AtLeastOnce})
	if err != nil {
		return fmt.Errorf("publish archive event: %w", err)
	}

	return nil
}
