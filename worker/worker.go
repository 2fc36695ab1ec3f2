// Package worker implements the control plane of one stream-processing
// worker: command routing over the shared bus, transactional config changes
// with rollback, two-level pause/resume, and discovery/liveness.
//
// The inference pipeline itself is an external collaborator behind the
// Pipeline interface.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ezliveAnalytics/bus"
	"ezliveAnalytics/event"
	"ezliveAnalytics/models"
)

const commandInboxSize = 64

// EventExporter is an optional at-least-once sink for detection events
// (e.g., an SQS queue) in addition to the live bus topic.
type EventExporter interface {
	Export(ctx context.Context, ev models.DetectionEvent) error
}

// Options configure one worker.
type Options struct {
	// InstanceId is the stable worker handle. Empty selects a generated id.
	InstanceId string

	Config  *WorkerConfig
	Bus     bus.MessageBus
	Factory PipelineFactory

	// Exporter, when set, additionally exports every emitted event.
	Exporter EventExporter

	// HeartbeatInterval enables unsolicited periodic status when positive.
	HeartbeatInterval time.Duration

	Logger *zap.SugaredLogger
}

// Worker ties the control-plane components together. Command handling runs
// on a single goroutine (Run's loop); the pipeline's callback goroutines
// only touch the publish gate and the emit path.
type Worker struct {
	mu         sync.Mutex
	instanceId string
	pipeline   Pipeline

	cfg      *WorkerConfig
	state    *RuntimeState
	producer *ProducerController
	engine   *ConfigChangeEngine
	bus      bus.MessageBus
	factory  PipelineFactory
	exporter EventExporter
	cpu      *cpuSampler

	// baseLog carries no instanceId field; log is baseLog annotated with
	// the current id and is rebuilt on rename.
	baseLog *zap.SugaredLogger
	log     *zap.SugaredLogger

	heartbeatInterval time.Duration

	inbox    chan models.ControlMessage
	stop     chan struct{}
	stopOnce sync.Once
}

// New builds a worker. The pipeline is not constructed until Run.
func New(opts Options) (*Worker, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("%w: nil worker config", ErrValidation)
	}
	if opts.Bus == nil {
		return nil, fmt.Errorf("%w: nil message bus", ErrValidation)
	}
	if opts.Factory == nil {
		return nil, fmt.Errorf("%w: nil pipeline factory", ErrValidation)
	}

	log := opts.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	instanceId := opts.InstanceId
	if instanceId == "" {
		instanceId = "proc-" + uuid.New().String()
	}

	w := &Worker{
		instanceId:        instanceId,
		cfg:               opts.Config,
		state:             NewRuntimeState(),
		bus:               opts.Bus,
		factory:           opts.Factory,
		exporter:          opts.Exporter,
		cpu:               newCpuSampler(),
		baseLog:           log,
		log:               log.With("instanceId", instanceId),
		heartbeatInterval: opts.HeartbeatInterval,
		inbox:             make(chan models.ControlMessage, commandInboxSize),
		stop:              make(chan struct{}),
	}

	w.producer = NewProducerController(w.currentPipeline, w.state, w.log)
	w.engine = NewConfigChangeEngine(w.cfg, w.state, w.restartPipeline,
		func(status string) { w.publishStatus(context.Background(), status) }, w.log)

	return w, nil
}

// InstanceId returns the current worker handle. It changes only through the
// rename_instance command.
func (w *Worker) InstanceId() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.instanceId
}

// State exposes the runtime state for read-only callers.
func (w *Worker) State() StateSnapshot {
	return w.state.Snapshot()
}

// Config exposes a consistent config snapshot.
func (w *Worker) Config() models.ConfigSnapshot {
	return w.cfg.Snapshot()
}

func (w *Worker) currentPipeline() Pipeline {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pipeline
}

func (w *Worker) setPipeline(p Pipeline) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pipeline = p
}

// Run executes the worker until ctx is cancelled or a shutdown command
// arrives. The command listener starts and the starting status goes out
// before the (possibly slow) pipeline start, so the worker is commandable
// during its most failure-prone phase.
func (w *Worker) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sub, err := w.bus.Subscribe(ctx, bus.TopicCommands, func(m bus.Message) {
		var cm models.ControlMessage
		if err := json.Unmarshal(m.Payload, &cm); err != nil {
			w.log.Warnw("Dropping malformed control message", "error", err)
			return
		}

		select {
		case w.inbox <- cm:
		default:
			w.log.Warnw("Command inbox full, dropping message", "command", cm.Command)
		}
	})
	if err != nil {
		return fmt.Errorf("%w: subscribe to %s: %v", ErrBusUnavailable, bus.TopicCommands, err)
	}
	defer sub.Unsubscribe()

	w.publishStatus(ctx, models.STATUS_STARTING)

	// Initial pipeline start happens off the command goroutine: connecting
	// to inputs can block for many seconds.
	go func() {
		if err := w.restartPipeline(ctx); err != nil {
			w.log.Errorw("Initial pipeline start failed", "error", err)
			w.publishStatus(ctx, models.STATUS_ERROR)
			return
		}
		w.publishStatus(ctx, models.STATUS_RUNNING)
	}()

	if w.heartbeatInterval > 0 {
		go w.heartbeatLoop(ctx)
	}

	w.log.Infow("Worker control plane started")

	for {
		select {
		case msg := <-w.inbox:
			w.dispatch(ctx, msg)
		case <-w.stop:
			return nil
		case <-ctx.Done():
			w.terminatePipeline()
			return ctx.Err()
		}
	}
}

// restartPipeline is the terminate+recreate+start sequence, driven by the
// config-change engine and by the initial start. It always builds the
// pipeline from a fresh config snapshot.
func (w *Worker) restartPipeline(ctx context.Context) error {
	w.terminatePipeline()

	snap := w.cfg.Snapshot()
	p, err := w.factory(snap, w.EmitDetection)
	if err != nil {
		return fmt.Errorf("create pipeline: %w", err)
	}

	// The pipeline object is visible to commands while Start connects:
	// pause/resume guards check object existence, not the running flag.
	w.setPipeline(p)

	if err := p.Start(ctx); err != nil {
		w.setPipeline(nil)
		w.state.SetRunning(false)
		return fmt.Errorf("start pipeline: %w", err)
	}

	w.state.SetRunning(true)
	return nil
}

func (w *Worker) terminatePipeline() {
	p := w.currentPipeline()
	if p == nil {
		return
	}

	if err := p.Terminate(); err != nil {
		w.log.Warnw("Pipeline terminate failed", "error", err)
	}

	w.setPipeline(nil)
	w.state.SetRunning(false)
}

// EmitDetection is the pipeline's emit callback. The gate check is one
// atomic read; a closed publish gate stops outbound events immediately even
// while the pipeline's own buffers are still draining.
func (w *Worker) EmitDetection(ev models.DetectionEvent) {
	if !w.producer.PublishAllowed() {
		return
	}

	ev.ProducerInstanceId = w.InstanceId()
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	b, err := event.Encode(ev)
	if err != nil {
		w.log.Errorw("Failed to encode detection event", "error", err)
		return
	}

	ctx := context.Background()
	err = w.bus.Publish(ctx, bus.Message{Topic: bus.TopicEvents(ev.SourceId), Payload: b},
		bus.PublishOptions{Level: bus.AtMostOnce})
	if err != nil {
		w.log.Warnw("Failed to publish detection event", "sourceId", ev.SourceId, "error", err)
	}

	if w.exporter != nil {
		if err := w.exporter.Export(ctx, ev); err != nil {
			w.log.Warnw("Event export failed", "sourceId", ev.SourceId, "error", err)
		}
	}
}

// rename changes the worker's instance id. The old status topic gets a final
// retained "stopped" so stale subscribers do not keep seeing a live worker
// under the old handle.
func (w *Worker) rename(ctx context.Context, newId string) error {
	if newId == models.BroadcastTarget {
		return fmt.Errorf("%w: %q is reserved", ErrValidation, newId)
	}

	old := w.InstanceId()
	if newId == old {
		return fmt.Errorf("%w: already named %q", ErrValidation, newId)
	}

	w.publishStatusAs(ctx, old, models.STATUS_STOPPED, false)

	w.mu.Lock()
	w.instanceId = newId
	w.log = w.baseLog.With("instanceId", newId)
	w.mu.Unlock()

	w.log.Infow("Instance renamed", "previousId", old)
	w.publishStatus(ctx, w.state.Status())
	return nil
}

// shutdown handles the shutdown command: stop producing, announce, stop the
// run loop.
func (w *Worker) shutdown(ctx context.Context) {
	w.log.Infow("Shutdown command received")
	w.terminatePipeline()
	w.publishStatus(ctx, models.STATUS_STOPPED)
	w.stopOnce.Do(func() { close(w.stop) })
}

func (w *Worker) publishAck(ctx context.Context, command string, ackStatus string, msg string) {
	ack := models.AckMessage{
		Command:   command,
		AckStatus: ackStatus,
		Message:   msg,
		Timestamp: time.Now(),
	}

	b, err := json.Marshal(ack)
	if err != nil {
		w.log.Errorw("Failed to marshal ACK", "error", err)
		return
	}

	err = w.bus.Publish(ctx, bus.Message{Topic: bus.TopicAck(w.InstanceId()), Payload: b},
		bus.PublishOptions{Level: bus.AtMostOnce})
	if err != nil {
		// Command execution proceeds against local state even when the
		// worker cannot announce the outcome.
		w.log.Warnw("Failed to publish ACK", "command", command, "error", err)
	}
}
