package worker

import (
	"context"
	"encoding/json"
	"time"

	"ezliveAnalytics/bus"
	"ezliveAnalytics/models"
)

// statusMessage builds the full state snapshot published on the worker's
// status topic: status, uptime, config, and the health block. The same shape
// serves status transitions, PONGs, and heartbeats.
func (w *Worker) statusMessage(status string, heartbeat bool) models.StatusMessage {
	snap := w.cfg.Snapshot()
	st := w.state.Snapshot()

	return models.StatusMessage{
		InstanceId:    w.InstanceId(),
		Status:        status,
		UptimeSeconds: w.state.Uptime().Seconds(),
		Config:        &snap,
		Health: &models.Health{
			IsPaused:        st.Paused,
			PipelineRunning: st.Running,
			BusConnected:    w.bus.Connected(),
			CpuUtil:         w.cpu.Sample(),
		},
		Heartbeat: heartbeat,
		Timestamp: time.Now(),
	}
}

// publishStatus publishes the worker's state under its current id. The
// message is retained so late subscribers see the current state at once.
func (w *Worker) publishStatus(ctx context.Context, status string) {
	w.publishStatusAs(ctx, w.InstanceId(), status, false)
}

func (w *Worker) publishStatusAs(ctx context.Context, instanceId string, status string, heartbeat bool) {
	sm := w.statusMessage(status, heartbeat)
	sm.InstanceId = instanceId

	b, err := json.Marshal(sm)
	if err != nil {
		w.log.Errorw("Failed to marshal status message", "error", err)
		return
	}

	err = w.bus.Publish(ctx, bus.Message{Topic: bus.TopicStatus(instanceId), Payload: b},
		bus.PublishOptions{Retain: true, Level: bus.AtMostOnce})
	if err != nil {
		// The worker does not crash merely because it cannot announce
		// itself; execution continues against local state.
		w.log.Warnw("Failed to publish status", "status", status, "error", err)
	}
}

// publishPong answers a ping with a full snapshot under the current status.
// One command serves both "is X alive" and "what is X's config": the
// orchestrator rebuilds its registry from these after a restart or
// partition, with no separate discovery protocol.
func (w *Worker) publishPong(ctx context.Context) {
	w.publishStatusAs(ctx, w.InstanceId(), w.state.Status(), false)
}

// heartbeatLoop republishes status unsolicited at the configured interval,
// tagged so consumers can tell heartbeats from command-triggered changes.
func (w *Worker) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(w.heartbeatInterval)
	for {
		select {
		case <-ticker.C:
			w.publishStatusAs(ctx, w.InstanceId(), w.state.Status(), true)
		case <-w.stop:
			ticker.Stop()
			return
		case <-ctx.Done():
			ticker.Stop()
			return
		}
	}
}
