package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"ezliveAnalytics/bus"
	"ezliveAnalytics/models"
)

// pingPollInterval is how often Ping re-checks lastSeen for an answer.
const pingPollInterval = 50 * time.Millisecond

// Orchestrator addresses commands at the fleet and keeps the registry fed
// from the status channels. It does not own the workers: the registry is a
// view, rebuilt at any time from PONGs.
type Orchestrator struct {
	bus      bus.MessageBus
	registry *Registry
	store    *RedisStore // optional persistence
	log      *zap.SugaredLogger

	sub bus.Subscription
}

// NewOrchestrator wires a client. store may be nil to run without
// persistence.
func NewOrchestrator(b bus.MessageBus, reg *Registry, store *RedisStore, log *zap.SugaredLogger) *Orchestrator {
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	return &Orchestrator{bus: b, registry: reg, store: store, log: log}
}

// Start seeds the registry from persistence and begins consuming every
// worker's status channel.
func (o *Orchestrator) Start(ctx context.Context) error {
	if o.store != nil {
		records, err := o.store.LoadWorkers(ctx)
		if err != nil {
			o.log.Warnw("Failed to load persisted worker records", "error", err)
		} else {
			o.registry.Seed(records)
		}
	}

	sub, err := o.bus.SubscribePattern(ctx, bus.TopicStatusPattern, func(m bus.Message) {
		if bus.IsAckTopic(m.Topic) {
			return
		}

		var sm models.StatusMessage
		if err := json.Unmarshal(m.Payload, &sm); err != nil {
			o.log.Warnw("Dropping malformed status message", "topic", m.Topic, "error", err)
			return
		}

		o.registry.Observe(sm)

		if o.store != nil {
			if rec, ok := o.registry.Get(sm.InstanceId); ok {
				if err := o.store.SaveWorker(ctx, rec); err != nil {
					o.log.Warnw("Failed to persist worker record", "instanceId", sm.InstanceId, "error", err)
				}
			}
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe to status channels: %w", err)
	}

	o.sub = sub
	return nil
}

func (o *Orchestrator) Stop() {
	if o.sub != nil {
		o.sub.Unsubscribe()
		o.sub = nil
	}
}

// Registry exposes the liveness table.
func (o *Orchestrator) Registry() *Registry {
	return o.registry
}

// SendCommand publishes one control message on the shared command channel.
// Broadcast, targeted, and multi-target addressing all go through here; the
// workers filter on TargetInstances.
func (o *Orchestrator) SendCommand(ctx context.Context, cm models.ControlMessage) error {
	b, err := json.Marshal(cm)
	if err != nil {
		return fmt.Errorf("marshal control message: %w", err)
	}

	err = o.bus.Publish(ctx, bus.Message{Topic: bus.TopicCommands, Payload: b},
		bus.PublishOptions{Level: bus.AtMostOnce})
	if err != nil {
		return fmt.Errorf("publish command %q: %w", cm.Command, err)
	}

	return nil
}

// Broadcast sends a command to every worker.
func (o *Orchestrator) Broadcast(ctx context.Context, command string, params map[string]interface{}) error {
	return o.SendCommand(ctx, models.ControlMessage{
		Command:         command,
		Params:          params,
		TargetInstances: []string{models.BroadcastTarget},
	})
}

// DiscoverAll broadcasts a ping, waits out the response window, and returns
// the registry contents. Workers that answered inside the window show as
// alive.
func (o *Orchestrator) DiscoverAll(ctx context.Context, window time.Duration) ([]models.WorkerRecord, error) {
	if err := o.Broadcast(ctx, models.CMD_PING, nil); err != nil {
		return nil, err
	}

	select {
	case <-time.After(window):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	return o.registry.Workers(), nil
}

// Ping sends a targeted ping and reports whether the worker answered within
// the timeout. A timeout means "unknown", not "dead": the worker may simply
// be mid-restart. The error return is reserved for transport failures.
func (o *Orchestrator) Ping(ctx context.Context, instanceId string, timeout time.Duration) (bool, error) {
	baseline, _ := o.registry.LastSeen(instanceId)

	err := o.SendCommand(ctx, models.ControlMessage{
		Command:         models.CMD_PING,
		TargetInstances: []string{instanceId},
	})
	if err != nil {
		return false, err
	}

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if seen, ok := o.registry.LastSeen(instanceId); ok && seen.After(baseline) {
			return true, nil
		}

		select {
		case <-time.After(pingPollInterval):
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}

	return false, nil
}
