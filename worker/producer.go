package worker

import (
	"sync/atomic"

	"go.uber.org/zap"
)

// ProducerController coordinates the two independent halt mechanisms:
//
//   - The publish gate, an atomic flag checked at the top of every event
//     publish. Closing it stops outbound events immediately. The flag is
//     written by the command goroutine and read by the pipeline callback
//     goroutines, so it must carry a memory barrier: a plain bool can stay
//     stale in a reader for seconds, which is exactly the "pause does
//     nothing" defect this replaces.
//
//   - The producer gate, delegated to the pipeline's own PauseProducing /
//     ResumeProducing. It stops future buffering but drains in-flight
//     buffers on its own schedule.
//
// Ordering is asymmetric. Pause closes the publish gate first so no event
// escapes before the pipeline reacts. Resume opens the producer gate first
// so there is something buffered before publication reopens.
type ProducerController struct {
	publishOpen atomic.Bool

	pipeline func() Pipeline
	state    *RuntimeState
	log      *zap.SugaredLogger

	// gateTrace, when set, records gate transitions for ordering tests.
	gateTrace func(event string)
}

// NewProducerController builds a controller whose publish gate starts open.
// pipeline is an accessor, not a snapshot: the guard conditions check object
// existence at call time, because during startup the pipeline exists and is
// connecting well before the running flag is set.
func NewProducerController(pipeline func() Pipeline, state *RuntimeState, log *zap.SugaredLogger) *ProducerController {
	c := &ProducerController{pipeline: pipeline, state: state, log: log}
	c.publishOpen.Store(true)
	return c
}

// PublishAllowed is the per-event gate check: one atomic read, never blocks.
func (c *ProducerController) PublishAllowed() bool {
	return c.publishOpen.Load()
}

// Pause closes the publish gate, then the producer gate. Pausing a worker
// with no pipeline, or one already paused, is a logged no-op.
func (c *ProducerController) Pause() error {
	p := c.pipeline()
	if p == nil {
		c.log.Warnw("Pause ignored: no pipeline constructed")
		return ErrStateConflict
	}

	if c.state.Snapshot().Paused {
		c.log.Warnw("Pause ignored: already paused")
		return ErrStateConflict
	}

	c.publishOpen.Store(false)
	c.trace("publish_gate_closed")

	if err := p.PauseProducing(); err != nil {
		// Outbound publication is already stopped; report the producer-side
		// failure but keep the paused state consistent.
		c.log.Errorw("Producer-side pause failed", "error", err)
	}
	c.trace("producer_gate_closed")

	c.state.SetPaused(true)
	return nil
}

// Resume opens the producer gate, then the publish gate. Resuming a worker
// that is not paused is a logged no-op.
func (c *ProducerController) Resume() error {
	p := c.pipeline()
	if p == nil {
		c.log.Warnw("Resume ignored: no pipeline constructed")
		return ErrStateConflict
	}

	if !c.state.Snapshot().Paused {
		c.log.Warnw("Resume ignored: not paused")
		return ErrStateConflict
	}

	if err := p.ResumeProducing(); err != nil {
		c.log.Errorw("Producer-side resume failed", "error", err)
	}
	c.trace("producer_gate_opened")

	c.publishOpen.Store(true)
	c.trace("publish_gate_opened")

	c.state.SetPaused(false)
	return nil
}

func (c *ProducerController) trace(event string) {
	if c.gateTrace != nil {
		c.gateTrace(event)
	}
}
