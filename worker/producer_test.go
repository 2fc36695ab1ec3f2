package worker

import (
	"context"
	"errors"
	"sync"
	"testing"

	"go.uber.org/zap"
)

// fakePipeline records pause/resume calls into a shared trace so ordering
// can be asserted.
type fakePipeline struct {
	mu         sync.Mutex
	started    bool
	terminated bool
	startErr   error
	startGate  chan struct{} // when set, Start blocks until closed
	trace      *gateRecorder
}

func (p *fakePipeline) Start(ctx context.Context) error {
	if p.startGate != nil {
		select {
		case <-p.startGate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if p.startErr != nil {
		return p.startErr
	}

	p.mu.Lock()
	p.started = true
	p.mu.Unlock()
	return nil
}

func (p *fakePipeline) Terminate() error {
	p.mu.Lock()
	p.terminated = true
	p.mu.Unlock()
	return nil
}

func (p *fakePipeline) PauseProducing() error {
	if p.trace != nil {
		p.trace.record("pipeline_pause")
	}
	return nil
}

func (p *fakePipeline) ResumeProducing() error {
	if p.trace != nil {
		p.trace.record("pipeline_resume")
	}
	return nil
}

type gateRecorder struct {
	mu     sync.Mutex
	events []string
}

func (r *gateRecorder) record(event string) {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
}

func (r *gateRecorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	copy(out, r.events)
	return out
}

func (r *gateRecorder) indexOf(event string) int {
	for i, e := range r.all() {
		if e == event {
			return i
		}
	}
	return -1
}

func newTestController(p Pipeline) (*ProducerController, *RuntimeState) {
	state := NewRuntimeState()
	c := NewProducerController(func() Pipeline { return p }, state, zap.NewNop().Sugar())
	return c, state
}

// TestPauseOrdering: the publish gate must close before the producer gate on
// pause, so no event escapes while the pipeline is still reacting.
func TestPauseOrdering(t *testing.T) {
	rec := &gateRecorder{}
	p := &fakePipeline{trace: rec}
	c, _ := newTestController(p)
	c.gateTrace = rec.record

	if err := c.Pause(); err != nil {
		t.Fatalf("Pause failed: %v", err)
	}

	closeIdx := rec.indexOf("publish_gate_closed")
	pipeIdx := rec.indexOf("pipeline_pause")
	if closeIdx < 0 || pipeIdx < 0 || closeIdx > pipeIdx {
		t.Errorf("Publish gate must close before producer gate: %v", rec.all())
	}

	if c.PublishAllowed() {
		t.Error("Publish gate should be closed after Pause")
	}
}

// TestResumeOrdering: the producer gate must open before the publish gate on
// resume, so there is buffered output before publication reopens.
func TestResumeOrdering(t *testing.T) {
	rec := &gateRecorder{}
	p := &fakePipeline{trace: rec}
	c, _ := newTestController(p)
	c.gateTrace = rec.record

	if err := c.Pause(); err != nil {
		t.Fatal(err)
	}
	if err := c.Resume(); err != nil {
		t.Fatalf("Resume failed: %v", err)
	}

	resumeIdx := rec.indexOf("pipeline_resume")
	openIdx := rec.indexOf("publish_gate_opened")
	if resumeIdx < 0 || openIdx < 0 || resumeIdx > openIdx {
		t.Errorf("Producer gate must open before publish gate: %v", rec.all())
	}

	if !c.PublishAllowed() {
		t.Error("Publish gate should be open after Resume")
	}
}

// TestConcurrentPauseResumeOrdering runs interleaved pause/resume pairs and
// checks the per-call ordering invariant on the recorded trace.
func TestConcurrentPauseResumeOrdering(t *testing.T) {
	rec := &gateRecorder{}
	p := &fakePipeline{trace: rec}
	c, _ := newTestController(p)
	c.gateTrace = rec.record

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			c.Pause()
		}()
		go func() {
			defer wg.Done()
			c.Resume()
		}()
	}
	wg.Wait()

	// Whatever interleaving happened, a closed publish gate is never
	// observed between pipeline_resume and publish_gate_opened, and the
	// publish gate always closes before the matching pipeline_pause.
	events := rec.all()
	for i, e := range events {
		switch e {
		case "pipeline_pause":
			// Every producer-gate close is preceded by its call's
			// publish-gate close.
			if rec.countBefore(i, "publish_gate_closed") <= rec.countBefore(i, "pipeline_pause") {
				t.Fatalf("pipeline_pause at %d without preceding publish_gate_closed: %v", i, events)
			}
		case "publish_gate_opened":
			// Every publish-gate open is preceded by its call's
			// producer-gate open.
			if rec.countBefore(i, "pipeline_resume") <= rec.countBefore(i, "publish_gate_opened") {
				t.Fatalf("publish_gate_opened at %d without preceding pipeline_resume: %v", i, events)
			}
		}
	}
}

func (r *gateRecorder) countBefore(idx int, event string) int {
	n := 0
	for i, e := range r.all() {
		if i >= idx {
			break
		}
		if e == event {
			n++
		}
	}
	return n
}

// TestPauseWithoutPipeline: pausing before the pipeline object exists is a
// state conflict, not a crash.
func TestPauseWithoutPipeline(t *testing.T) {
	c, _ := newTestController(nil)

	err := c.Pause()
	if !errors.Is(err, ErrStateConflict) {
		t.Errorf("Expected ErrStateConflict, got %v", err)
	}
	if !c.PublishAllowed() {
		t.Error("No-op pause must not close the publish gate")
	}
}

func TestDoublePauseIsNoOp(t *testing.T) {
	p := &fakePipeline{}
	c, _ := newTestController(p)

	if err := c.Pause(); err != nil {
		t.Fatal(err)
	}
	if err := c.Pause(); !errors.Is(err, ErrStateConflict) {
		t.Errorf("Second pause should be a state conflict, got %v", err)
	}
}

func TestResumeWhileNotPaused(t *testing.T) {
	p := &fakePipeline{}
	c, _ := newTestController(p)

	if err := c.Resume(); !errors.Is(err, ErrStateConflict) {
		t.Errorf("Resume while running should be a state conflict, got %v", err)
	}
}
