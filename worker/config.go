package worker

import (
	"fmt"
	"time"

	"ezliveAnalytics/models"
)

// configLockTimeout bounds how long a config mutation may wait for the lock.
// Exceeding it surfaces as an error status instead of hanging the worker.
const configLockTimeout = 3 * time.Second

// WorkerConfig is the authoritative configuration of the producing pipeline.
// The config-change engine is its only writer; everyone else reads immutable
// snapshots. Streams and SourceIds are always the same length and
// index-aligned.
type WorkerConfig struct {
	sem chan struct{}

	streams   []string
	sourceIds []int
	modelId   string
	maxFps    float64
}

// ConfigBackup is a full defensive copy of the mutable config fields, taken
// before a change is applied and restored verbatim on failure.
type ConfigBackup struct {
	streams   []string
	sourceIds []int
	modelId   string
	maxFps    float64
}

// NewWorkerConfig builds the initial config. streams and sourceIds must be
// index-aligned.
func NewWorkerConfig(streams []string, sourceIds []int, modelId string, maxFps float64) (*WorkerConfig, error) {
	if len(streams) != len(sourceIds) {
		return nil, fmt.Errorf("%w: %d streams but %d source ids", ErrValidation, len(streams), len(sourceIds))
	}

	c := &WorkerConfig{
		sem:       make(chan struct{}, 1),
		streams:   append([]string(nil), streams...),
		sourceIds: append([]int(nil), sourceIds...),
		modelId:   modelId,
		maxFps:    maxFps,
	}

	return c, nil
}

func (c *WorkerConfig) acquire(timeout time.Duration) error {
	select {
	case c.sem <- struct{}{}:
		return nil
	case <-time.After(timeout):
		return ErrLockTimeout
	}
}

func (c *WorkerConfig) release() {
	<-c.sem
}

// Snapshot returns a consistent immutable copy. Readers never see a
// half-mutated config mid-restart.
func (c *WorkerConfig) Snapshot() models.ConfigSnapshot {
	if err := c.acquire(configLockTimeout); err != nil {
		// A reader that cannot get the lock returns an empty snapshot
		// rather than blocking status reporting forever.
		return models.ConfigSnapshot{}
	}
	defer c.release()

	return models.ConfigSnapshot{
		Streams:   append([]string(nil), c.streams...),
		SourceIds: append([]int(nil), c.sourceIds...),
		ModelId:   c.modelId,
		MaxFps:    c.maxFps,
	}
}

// Backup copies the mutable fields for the rollback protocol.
func (c *WorkerConfig) Backup() (ConfigBackup, error) {
	if err := c.acquire(configLockTimeout); err != nil {
		return ConfigBackup{}, err
	}
	defer c.release()

	return ConfigBackup{
		streams:   append([]string(nil), c.streams...),
		sourceIds: append([]int(nil), c.sourceIds...),
		modelId:   c.modelId,
		maxFps:    c.maxFps,
	}, nil
}

// Restore overwrites the config with a backup, verbatim.
func (c *WorkerConfig) Restore(b ConfigBackup) error {
	if err := c.acquire(configLockTimeout); err != nil {
		return err
	}
	defer c.release()

	c.streams = append([]string(nil), b.streams...)
	c.sourceIds = append([]int(nil), b.sourceIds...)
	c.modelId = b.modelId
	c.maxFps = b.maxFps
	return nil
}

// SetModel overwrites the model identifier.
func (c *WorkerConfig) SetModel(modelId string) error {
	if modelId == "" {
		return fmt.Errorf("%w: empty model id", ErrValidation)
	}

	if err := c.acquire(configLockTimeout); err != nil {
		return err
	}
	defer c.release()

	c.modelId = modelId
	return nil
}

// SetMaxFps overwrites the maximum processing rate.
func (c *WorkerConfig) SetMaxFps(fps float64) error {
	if fps <= 0 {
		return fmt.Errorf("%w: max_fps must be positive, got %v", ErrValidation, fps)
	}

	if err := c.acquire(configLockTimeout); err != nil {
		return err
	}
	defer c.release()

	c.maxFps = fps
	return nil
}

// AddStream appends a new input. Adding a source id that is already present
// is a validation failure, not a no-op: silent no-ops hide operator
// mistakes.
func (c *WorkerConfig) AddStream(stream string, sourceId int) error {
	if stream == "" {
		return fmt.Errorf("%w: empty stream identifier", ErrValidation)
	}

	if err := c.acquire(configLockTimeout); err != nil {
		return err
	}
	defer c.release()

	for i, id := range c.sourceIds {
		if id == sourceId {
			return fmt.Errorf("%w: source id %d already present", ErrValidation, sourceId)
		}
		if c.streams[i] == stream {
			return fmt.Errorf("%w: stream %q already present", ErrValidation, stream)
		}
	}

	c.streams = append(c.streams, stream)
	c.sourceIds = append(c.sourceIds, sourceId)
	return nil
}

// RemoveStream removes the input mapped to sourceId. Removing a source that
// is not present is a validation failure.
func (c *WorkerConfig) RemoveStream(sourceId int) error {
	if err := c.acquire(configLockTimeout); err != nil {
		return err
	}
	defer c.release()

	for i, id := range c.sourceIds {
		if id == sourceId {
			c.streams = append(c.streams[:i], c.streams[i+1:]...)
			c.sourceIds = append(c.sourceIds[:i], c.sourceIds[i+1:]...)
			return nil
		}
	}

	return fmt.Errorf("%w: source id %d not present", ErrValidation, sourceId)
}
