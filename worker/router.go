package worker

import (
	"context"
	"errors"
	"fmt"

	"ezliveAnalytics/models"
)

// ShouldProcess decides whether a worker with selfId must act on a control
// message. An empty target list or the broadcast marker addresses every
// worker; otherwise the worker acts iff its id is listed. Pure function,
// O(1) on the short target lists the orchestrator sends.
func ShouldProcess(targetInstances []string, selfId string) bool {
	if len(targetInstances) == 0 {
		return true
	}

	for _, t := range targetInstances {
		if t == models.BroadcastTarget || t == selfId {
			return true
		}
	}

	return false
}

// dispatch handles one control message. It runs on the worker's single
// command goroutine: handlers are never invoked concurrently with each
// other, which is what makes the engine's reject-if-busy rule sufficient.
func (w *Worker) dispatch(ctx context.Context, msg models.ControlMessage) {
	if !ShouldProcess(msg.TargetInstances, w.InstanceId()) {
		// The expected common case across N workers; not an error.
		w.log.Debugw("Dropping command not addressed to this worker",
			"command", msg.Command, "targets", msg.TargetInstances)
		return
	}

	w.publishAck(ctx, msg.Command, models.ACK_RECEIVED, "")

	kind := parseCommand(msg.Command)
	if kind == cmdUnknown {
		w.log.Warnw("Unknown command", "command", msg.Command)
		w.publishAck(ctx, msg.Command, models.ACK_ERROR, ErrUnknownCommand.Error())
		return
	}

	if kind.isConfigChange() {
		terminal := func(err error) {
			if err != nil {
				w.publishAck(ctx, msg.Command, models.ACK_ERROR, err.Error())
				return
			}
			w.publishAck(ctx, msg.Command, models.ACK_COMPLETED, "")
		}

		// Accepted changes ACK from the engine goroutine; rejections ACK here.
		if err := w.engine.Execute(ctx, kind, msg.Params, terminal); err != nil {
			w.publishAck(ctx, msg.Command, models.ACK_ERROR, err.Error())
		}
		return
	}

	if err := w.runCommand(ctx, kind, msg.Params); err != nil {
		// State conflicts are no-ops, ACKed as completed with a note.
		if errors.Is(err, ErrStateConflict) {
			w.publishAck(ctx, msg.Command, models.ACK_COMPLETED, err.Error())
			return
		}
		w.publishAck(ctx, msg.Command, models.ACK_ERROR, err.Error())
		return
	}

	w.publishAck(ctx, msg.Command, models.ACK_COMPLETED, "")
}

// runCommand executes the non-config-change commands synchronously.
func (w *Worker) runCommand(ctx context.Context, kind commandKind, params map[string]interface{}) error {
	switch kind {
	case cmdPing:
		w.publishPong(ctx)
		return nil

	case cmdPause:
		if err := w.producer.Pause(); err != nil {
			return err
		}
		w.publishStatus(ctx, models.STATUS_PAUSED)
		return nil

	case cmdResume:
		if err := w.producer.Resume(); err != nil {
			return err
		}
		w.publishStatus(ctx, models.STATUS_RUNNING)
		return nil

	case cmdRenameInstance:
		newId, err := paramString(params, "instance_id")
		if err != nil {
			return err
		}
		return w.rename(ctx, newId)

	case cmdShutdown:
		w.shutdown(ctx)
		return nil
	}

	return fmt.Errorf("%w: unhandled command kind %d", ErrUnknownCommand, kind)
}
