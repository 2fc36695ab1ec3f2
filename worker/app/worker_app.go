package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"ezliveAnalytics/bus"
	"ezliveAnalytics/export"
	"ezliveAnalytics/worker"
)

type WorkerAppConfig struct {
	InstanceId           string
	RedisIp              string
	RedisPort            string
	Streams              []string
	SourceIds            []int
	ModelId              string
	MaxFps               float64
	HeartbeatIntervalSec int
	InferenceRunnerPath  string

	// Optional at-least-once export of detection events: an SQS queue, the
	// durable archive stream on the bus, or neither.
	SqsRegion     string
	SqsQueueName  string
	ArchiveEvents bool
}

var worker_app_config_file_path = "worker_app_config.json"

func readConfig(path string) (WorkerAppConfig, error) {
	var conf WorkerAppConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return conf, err
	}

	err = json.Unmarshal(b, &conf)
	return conf, err
}

func main() {
	configPtr := flag.String("config", "", "config file path")
	idPtr := flag.String("id", "", "instance id (overrides config; empty = generated)")
	flag.Parse()

	if *configPtr != "" {
		worker_app_config_file_path = *configPtr
	}

	zl, err := zap.NewProduction()
	if err != nil {
		fmt.Println("Failed to create logger:", err)
		os.Exit(1)
	}
	defer zl.Sync()
	log := zl.Sugar()

	conf, err := readConfig(worker_app_config_file_path)
	if err != nil {
		log.Fatalw("Failed to read config", "path", worker_app_config_file_path, "error", err)
	}

	if *idPtr != "" {
		conf.InstanceId = *idPtr
	}

	cfg, err := worker.NewWorkerConfig(conf.Streams, conf.SourceIds, conf.ModelId, conf.MaxFps)
	if err != nil {
		log.Fatalw("Invalid pipeline config", "error", err)
	}

	b := bus.NewRedisBus(conf.RedisIp, conf.RedisPort, log)
	defer b.Close()

	runnerPath := conf.InferenceRunnerPath
	if runnerPath == "" {
		runnerPath = "inference_runner"
	}

	var exporter worker.EventExporter
	if conf.SqsQueueName != "" {
		sqsExporter, err := export.NewSqsExporter(conf.SqsRegion, conf.SqsQueueName)
		if err != nil {
			log.Fatalw("Failed to create SQS exporter", "error", err)
		}
		exporter = sqsExporter
	} else if conf.ArchiveEvents {
		exporter = export.NewStreamExporter(b)
	}

	w, err := worker.New(worker.Options{
		InstanceId:        conf.InstanceId,
		Config:            cfg,
		Bus:               b,
		Factory:           newExecPipeline(runnerPath, log),
		Exporter:          exporter,
		HeartbeatInterval: time.Duration(conf.HeartbeatIntervalSec) * time.Second,
		Logger:            log,
	})
	if err != nil {
		log.Fatalw("Failed to create worker", "error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-shutdown
		log.Infow("Shutting down!")
		cancel()
	}()

	if err := w.Run(ctx); err != nil && err != context.Canceled {
		log.Errorw("Worker stopped", "error", err)
		os.Exit(1)
	}
}
