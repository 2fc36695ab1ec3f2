package worker

import (
	"context"

	"ezliveAnalytics/models"
)

// EmitFunc is called by the pipeline for every frame's detections. The
// worker's publish gate sits behind it; the pipeline never talks to the bus
// directly.
type EmitFunc func(ev models.DetectionEvent)

// Pipeline is the external video-decode/inference engine. The control plane
// treats it as a black box: it is created from a config snapshot, started,
// and terminated; producing can be paused and resumed on the pipeline's own
// schedule (internal buffers drain gradually).
type Pipeline interface {
	// Start connects to the configured inputs and begins producing. It may
	// block for many seconds; callers must not invoke it from the command
	// listener goroutine.
	Start(ctx context.Context) error

	// Terminate stops the pipeline and releases its resources.
	Terminate() error

	// PauseProducing stops buffering new frames. Frames already buffered
	// keep flowing until drained.
	PauseProducing() error

	// ResumeProducing restarts frame buffering.
	ResumeProducing() error
}

// PipelineFactory builds a pipeline for a config snapshot. The worker calls
// it on startup and again on every config change (terminate + recreate +
// start).
type PipelineFactory func(cfg models.ConfigSnapshot, emit EmitFunc) (Pipeline, error)
