package worker

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"ezliveAnalytics/models"
)

// ConfigChangeEngine executes the commands that mutate WorkerConfig and need
// a pipeline restart to take effect. All four (set_model, set_fps,
// add_stream, remove_stream) share one protocol:
//
//	reject-if-busy -> validate -> backup -> publish "reconfiguring" ->
//	apply -> restart -> publish "running" (commit)
//	                 \-> restore backup, publish "error" (rollback)
//
// A change arriving while another is in flight is rejected, never queued:
// queued changes would apply stale parameters against a config that moved
// underneath them. After a failed restart the worker is left in error state
// with the old config; it is not silently retried.
type ConfigChangeEngine struct {
	cfg   *WorkerConfig
	state *RuntimeState
	log   *zap.SugaredLogger

	// restart is the worker's terminate+recreate+start sequence.
	restart func(ctx context.Context) error

	publishStatus func(status string)

	inFlight atomic.Bool
}

func NewConfigChangeEngine(cfg *WorkerConfig, state *RuntimeState, restart func(ctx context.Context) error, publishStatus func(status string), log *zap.SugaredLogger) *ConfigChangeEngine {
	return &ConfigChangeEngine{
		cfg:           cfg,
		state:         state,
		log:           log,
		restart:       restart,
		publishStatus: publishStatus,
	}
}

// InFlight reports whether a change is currently executing.
func (e *ConfigChangeEngine) InFlight() bool {
	return e.inFlight.Load()
}

// Execute runs one config-change command. Rejections (busy, bad params)
// return synchronously without touching state and without calling ack. Once
// accepted, the backup/apply/restart sequence runs on its own goroutine so
// the command listener stays responsive, and ack is called exactly once with
// the terminal outcome.
func (e *ConfigChangeEngine) Execute(ctx context.Context, kind commandKind, params map[string]interface{}, ack func(err error)) error {
	if !e.inFlight.CompareAndSwap(false, true) {
		return ErrAlreadyInProgress
	}

	apply, err := e.buildApply(kind, params)
	if err != nil {
		e.inFlight.Store(false)
		return err
	}

	backup, err := e.cfg.Backup()
	if err != nil {
		e.inFlight.Store(false)
		return err
	}

	// Consumers must never observe "running" while the config is
	// inconsistent, so the intermediate status goes out before any mutation.
	e.publishStatus(models.STATUS_RECONFIGURING)

	go func() {
		defer e.inFlight.Store(false)

		if err := apply(); err != nil {
			e.rollback(backup, err)
			ack(err)
			return
		}

		e.state.SetRestarting(true)
		restartErr := e.restart(ctx)
		e.state.SetRestarting(false)

		if restartErr != nil {
			err := fmt.Errorf("%w: %v", ErrRestartFailure, restartErr)
			e.rollback(backup, err)
			ack(err)
			return
		}

		e.publishStatus(models.STATUS_RUNNING)
		ack(nil)
	}()

	return nil
}

func (e *ConfigChangeEngine) rollback(backup ConfigBackup, cause error) {
	e.log.Errorw("Config change failed, rolling back", "error", cause)

	if err := e.cfg.Restore(backup); err != nil {
		e.log.Errorw("Rollback failed to restore config", "error", err)
	}

	e.publishStatus(models.STATUS_ERROR)
}

// buildApply validates parameters and returns the mutation closure. Nothing
// is mutated here; apply itself re-checks membership constraints (duplicate
// add, missing remove) and fails without side effects.
func (e *ConfigChangeEngine) buildApply(kind commandKind, params map[string]interface{}) (func() error, error) {
	switch kind {
	case cmdSetModel:
		modelId, err := paramString(params, "model_id")
		if err != nil {
			return nil, err
		}
		return func() error { return e.cfg.SetModel(modelId) }, nil

	case cmdSetFps:
		fps, err := paramFloat(params, "max_fps")
		if err != nil {
			return nil, err
		}
		if fps <= 0 {
			return nil, fmt.Errorf("%w: max_fps must be positive, got %v", ErrValidation, fps)
		}
		return func() error { return e.cfg.SetMaxFps(fps) }, nil

	case cmdAddStream:
		stream, err := paramString(params, "stream")
		if err != nil {
			return nil, err
		}
		sourceId, err := paramInt(params, "source_id")
		if err != nil {
			return nil, err
		}
		return func() error { return e.cfg.AddStream(stream, sourceId) }, nil

	case cmdRemoveStream:
		sourceId, err := paramInt(params, "source_id")
		if err != nil {
			return nil, err
		}
		return func() error { return e.cfg.RemoveStream(sourceId) }, nil
	}

	return nil, fmt.Errorf("%w: not a config-change command", ErrValidation)
}
