package worker

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"ezliveAnalytics/models"
)

type statusRecorder struct {
	mu       sync.Mutex
	statuses []string
}

func (r *statusRecorder) publish(status string) {
	r.mu.Lock()
	r.statuses = append(r.statuses, status)
	r.mu.Unlock()
}

func (r *statusRecorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.statuses))
	copy(out, r.statuses)
	return out
}

type engineHarness struct {
	cfg      *WorkerConfig
	engine   *ConfigChangeEngine
	statuses *statusRecorder

	mu         sync.Mutex
	restartErr error
	restarts   int
	restarting chan struct{} // closed-gate control for slow restarts
}

func newEngineHarness(t *testing.T) *engineHarness {
	t.Helper()

	h := &engineHarness{
		cfg:      testConfig(t),
		statuses: &statusRecorder{},
	}

	restart := func(ctx context.Context) error {
		h.mu.Lock()
		h.restarts++
		err := h.restartErr
		gate := h.restarting
		h.mu.Unlock()

		if gate != nil {
			<-gate
		}
		return err
	}

	h.engine = NewConfigChangeEngine(h.cfg, NewRuntimeState(), restart, h.statuses.publish, zap.NewNop().Sugar())
	return h
}

// execute runs one command to completion and returns the terminal error.
func (h *engineHarness) execute(t *testing.T, kind commandKind, params map[string]interface{}) error {
	t.Helper()

	done := make(chan error, 1)
	if err := h.engine.Execute(context.Background(), kind, params, func(err error) { done <- err }); err != nil {
		return err
	}

	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("Timeout waiting for config change to finish")
		return nil
	}
}

func TestAddStreamCommand(t *testing.T) {
	h := newEngineHarness(t)

	err := h.execute(t, cmdAddStream, map[string]interface{}{"stream": "rtsp://cam8", "source_id": float64(8)})
	if err != nil {
		t.Fatalf("add_stream failed: %v", err)
	}

	snap := h.cfg.Snapshot()
	if !reflect.DeepEqual(snap.SourceIds, []int{0, 1, 8}) {
		t.Errorf("Expected [0 1 8], got %v", snap.SourceIds)
	}

	statuses := h.statuses.all()
	if !reflect.DeepEqual(statuses, []string{models.STATUS_RECONFIGURING, models.STATUS_RUNNING}) {
		t.Errorf("Expected reconfiguring->running, got %v", statuses)
	}
}

// TestDuplicateAddRejected: add source 8 to [0,1], then add 8 again. The
// second is a validation error and the list stays [0,1,8].
func TestDuplicateAddRejected(t *testing.T) {
	h := newEngineHarness(t)

	params := map[string]interface{}{"stream": "rtsp://cam8", "source_id": float64(8)}
	if err := h.execute(t, cmdAddStream, params); err != nil {
		t.Fatal(err)
	}

	params2 := map[string]interface{}{"stream": "rtsp://cam8-dup", "source_id": float64(8)}
	err := h.execute(t, cmdAddStream, params2)
	if !errors.Is(err, ErrValidation) {
		t.Errorf("Expected ErrValidation, got %v", err)
	}

	snap := h.cfg.Snapshot()
	if !reflect.DeepEqual(snap.SourceIds, []int{0, 1, 8}) {
		t.Errorf("Duplicate add corrupted the list: %v", snap.SourceIds)
	}
}

// TestRollbackOnRestartFailure: when the restart fails, the config is
// restored byte-for-byte and the worker reports error status.
func TestRollbackOnRestartFailure(t *testing.T) {
	for _, tc := range []struct {
		name   string
		kind   commandKind
		params map[string]interface{}
	}{
		{"set_model", cmdSetModel, map[string]interface{}{"model_id": "m-1280"}},
		{"set_fps", cmdSetFps, map[string]interface{}{"max_fps": 0.05}},
		{"add_stream", cmdAddStream, map[string]interface{}{"stream": "rtsp://cam9", "source_id": float64(9)}},
		{"remove_stream", cmdRemoveStream, map[string]interface{}{"source_id": float64(1)}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			h := newEngineHarness(t)
			h.restartErr = errors.New("input unreachable")

			before := h.cfg.Snapshot()

			err := h.execute(t, tc.kind, tc.params)
			if !errors.Is(err, ErrRestartFailure) {
				t.Fatalf("Expected ErrRestartFailure, got %v", err)
			}

			after := h.cfg.Snapshot()
			if !reflect.DeepEqual(before, after) {
				t.Errorf("Rollback did not restore config:\n  before: %+v\n  after:  %+v", before, after)
			}

			statuses := h.statuses.all()
			if len(statuses) == 0 || statuses[len(statuses)-1] != models.STATUS_ERROR {
				t.Errorf("Expected terminal error status, got %v", statuses)
			}
		})
	}
}

// TestValidationFailureTouchesNothing: bad params are rejected before any
// state change, with no intermediate status published.
func TestValidationFailureTouchesNothing(t *testing.T) {
	h := newEngineHarness(t)
	before := h.cfg.Snapshot()

	err := h.engine.Execute(context.Background(), cmdSetFps,
		map[string]interface{}{"max_fps": "fast"}, func(error) { t.Error("ack must not fire on rejection") })
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("Expected ErrValidation, got %v", err)
	}

	if h.restarts != 0 {
		t.Error("Validation failure must not restart the pipeline")
	}
	if !reflect.DeepEqual(before, h.cfg.Snapshot()) {
		t.Error("Validation failure mutated the config")
	}
	if len(h.statuses.all()) != 0 {
		t.Errorf("Validation failure published status: %v", h.statuses.all())
	}
}

// TestRejectWhileInFlight: two back-to-back changes produce exactly one
// AlreadyInProgress rejection and one clean execution.
func TestRejectWhileInFlight(t *testing.T) {
	h := newEngineHarness(t)
	h.restarting = make(chan struct{})

	done := make(chan error, 1)
	err := h.engine.Execute(context.Background(), cmdSetModel,
		map[string]interface{}{"model_id": "m-1280"}, func(err error) { done <- err })
	if err != nil {
		t.Fatalf("First change rejected: %v", err)
	}

	// Second change arrives while the first is restarting.
	err = h.engine.Execute(context.Background(), cmdSetFps,
		map[string]interface{}{"max_fps": 0.5}, func(error) { t.Error("rejected change must not ack") })
	if !errors.Is(err, ErrAlreadyInProgress) {
		t.Fatalf("Expected ErrAlreadyInProgress, got %v", err)
	}

	close(h.restarting)
	if err := <-done; err != nil {
		t.Fatalf("First change failed: %v", err)
	}

	snap := h.cfg.Snapshot()
	if snap.ModelId != "m-1280" {
		t.Errorf("First change not applied: %+v", snap)
	}
	if snap.MaxFps != 0.1 {
		t.Errorf("Rejected change leaked into config: %+v", snap)
	}
}
