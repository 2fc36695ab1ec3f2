package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"go.uber.org/zap"

	"ezliveAnalytics/models"
	"ezliveAnalytics/worker"
)

// execPipeline runs the inference engine as a child process
// (inference_runner -param=<config json>). Terminate sends SIGTERM; pause
// and resume map to SIGSTOP/SIGCONT, which stops the producer side while
// the worker's publish gate handles the immediate half.
type execPipeline struct {
	cfg models.ConfigSnapshot
	cmd *exec.Cmd
	log *zap.SugaredLogger
}

func newExecPipeline(runnerPath string, log *zap.SugaredLogger) worker.PipelineFactory {
	return func(cfg models.ConfigSnapshot, emit worker.EmitFunc) (worker.Pipeline, error) {
		b, err := json.Marshal(cfg)
		if err != nil {
			return nil, err
		}

		cmd := exec.Command(runnerPath, "-param="+string(b))
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		return &execPipeline{cfg: cfg, cmd: cmd, log: log}, nil
	}
}

func (p *execPipeline) Start(ctx context.Context) error {
	if err := p.cmd.Start(); err != nil {
		return fmt.Errorf("launch inference runner: %w", err)
	}

	p.log.Infow("Inference runner started", "pid", p.cmd.Process.Pid, "modelId", p.cfg.ModelId)

	go func() {
		// Reap the child so it cannot linger as a zombie.
		err := p.cmd.Wait()
		p.log.Infow("Inference runner exited", "pid", p.cmd.Process.Pid, "error", err)
	}()

	return nil
}

func (p *execPipeline) signal(sig syscall.Signal) error {
	if p.cmd.Process == nil {
		return fmt.Errorf("inference runner not started")
	}

	process, err := os.FindProcess(p.cmd.Process.Pid)
	if err != nil {
		return fmt.Errorf("pid %d not found: %w", p.cmd.Process.Pid, err)
	}

	return process.Signal(sig)
}

func (p *execPipeline) Terminate() error {
	return p.signal(syscall.SIGTERM)
}

func (p *execPipeline) PauseProducing() error {
	return p.signal(syscall.SIGSTOP)
}

func (p *execPipeline) ResumeProducing() error {
	return p.signal(syscall.SIGCONT)
}
