// Orchestrator: tracks worker liveness, addresses commands at the fleet,
// and aggregates the freshest detection event per source.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ezliveAnalytics/bus"
	"ezliveAnalytics/cache"
	"ezliveAnalytics/event"
	"ezliveAnalytics/export"
	"ezliveAnalytics/models"
	"ezliveAnalytics/registry"
)

type OrchestratorConfig struct {
	RedisIp            string
	RedisPort          string
	ServerIp           string
	ServerPort         string
	CacheTtlSec        int
	CacheMaxEntries    int
	LivenessTimeoutSec int
	DiscoveryWindowSec int

	// Optional S3 archival of exported detection events. When S3Bucket is
	// set, the orchestrator drains the durable archive stream (and the SQS
	// queue, when configured) into JSON-lines batches on S3.
	S3Region         string
	S3Bucket         string
	ArchiveBatchSize int
	ArchiveFlushSec  int
	SqsRegion        string
	SqsQueueName     string
}

var orchestrator_config_file_path = "orchestrator_config.json"

func readConfig(path string) (OrchestratorConfig, error) {
	var conf OrchestratorConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return conf, err
	}

	err = json.Unmarshal(b, &conf)
	return conf, err
}

type server struct {
	orch            *registry.Orchestrator
	detections      *cache.DetectionCache
	discoveryWindow time.Duration
	log             *zap.SugaredLogger
}

// GET /workers: full registry with per-worker liveness.
func (s *server) handleWorkers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "405 method not allowed", http.StatusMethodNotAllowed)
		return
	}

	type workerView struct {
		models.WorkerRecord
		Alive bool `json:"alive"`
	}

	records := s.orch.Registry().Workers()
	views := make([]workerView, 0, len(records))
	for _, rec := range records {
		views = append(views, workerView{WorkerRecord: rec, Alive: s.orch.Registry().Alive(rec.InstanceId)})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(views)
}

// POST /commands: body is a ControlMessage; broadcast/targeted/multi-target
// is decided by its targetInstances field.
func (s *server) handleCommands(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "405 method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var cm models.ControlMessage
	if err := json.NewDecoder(r.Body).Decode(&cm); err != nil {
		http.Error(w, "400 bad request\n  Error: failed to decode control message", http.StatusBadRequest)
		return
	}

	if cm.Command == "" {
		http.Error(w, "400 bad request\n  Error: missing command", http.StatusBadRequest)
		return
	}

	if err := s.orch.SendCommand(r.Context(), cm); err != nil {
		s.log.Errorw("Failed to send command", "command", cm.Command, "error", err)
		http.Error(w, "500 internal server error", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

// POST /discover: broadcast ping, wait the window, return the registry.
func (s *server) handleDiscover(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "405 method not allowed", http.StatusMethodNotAllowed)
		return
	}

	records, err := s.orch.DiscoverAll(r.Context(), s.discoveryWindow)
	if err != nil {
		s.log.Errorw("Discovery failed", "error", err)
		http.Error(w, "500 internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(records)
}

// GET /detections/{sourceId}: freshest cached event for one source.
func (s *server) handleDetections(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "405 method not allowed", http.StatusMethodNotAllowed)
		return
	}

	idPart := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
	sourceId, err := strconv.Atoi(idPart)
	if err != nil {
		http.Error(w, "400 bad request\n  Error: bad source id: "+idPart, http.StatusBadRequest)
		return
	}

	ev, ok := s.detections.Get(sourceId)
	if !ok {
		http.Error(w, "404 no fresh detection for source "+idPart, http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(ev)
}

// startArchival drains exported detection events into S3 batches. Two
// durable sources feed the same archiver: the Redis archive stream (consumer
// group, entries acknowledged after handling) and, when configured, the SQS
// queue filled by workers running the SQS exporter.
func startArchival(ctx context.Context, conf OrchestratorConfig, b *bus.RedisBus, log *zap.SugaredLogger) error {
	archiver, err := export.NewS3Archiver(conf.S3Region, conf.S3Bucket, conf.ArchiveBatchSize)
	if err != nil {
		return err
	}

	flushDue := func(due bool) {
		if !due {
			return
		}
		if err := archiver.Flush(ctx); err != nil {
			log.Errorw("Archive flush failed", "error", err)
		}
	}

	consumer := "orchestrator-" + uuid.New().String()
	err = b.SubscribeDurable(ctx, bus.TopicEventsArchive, "archivers", consumer, func(m bus.Message) {
		ev, _, err := event.Decode(m.Payload)
		if err != nil {
			log.Warnw("Dropping malformed archive event", "error", err)
			return
		}

		due, err := archiver.Add(ev)
		if err != nil {
			log.Warnw("Failed to batch archive event", "error", err)
			return
		}
		flushDue(due)
	})
	if err != nil {
		return err
	}

	if conf.SqsQueueName != "" {
		receiver, err := export.NewSqsEventReceiver(conf.SqsRegion, conf.SqsQueueName)
		if err != nil {
			return err
		}

		go func() {
			for ctx.Err() == nil {
				events, err := receiver.ReceiveEvents(ctx, 10)
				if err != nil {
					log.Warnw("SQS receive failed", "queue", conf.SqsQueueName, "error", err)
					time.Sleep(5 * time.Second)
					continue
				}

				for _, ev := range events {
					due, err := archiver.Add(ev)
					if err != nil {
						log.Warnw("Failed to batch archive event", "error", err)
						continue
					}
					flushDue(due)
				}

				if len(events) == 0 {
					time.Sleep(time.Second)
				}
			}
		}()
	}

	flushInterval := time.Duration(conf.ArchiveFlushSec) * time.Second
	if flushInterval <= 0 {
		flushInterval = 60 * time.Second
	}

	// Time-based flush so a trickle of events still reaches S3.
	go func() {
		ticker := time.NewTicker(flushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := archiver.Flush(ctx); err != nil {
					log.Errorw("Archive flush failed", "error", err)
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	log.Infow("Event archival started", "bucket", conf.S3Bucket)
	return nil
}

func main() {
	configPtr := flag.String("config", "", "config file path")
	flag.Parse()

	if *configPtr != "" {
		orchestrator_config_file_path = *configPtr
	}

	zl, err := zap.NewProduction()
	if err != nil {
		fmt.Println("Failed to create logger:", err)
		os.Exit(1)
	}
	defer zl.Sync()
	log := zl.Sugar()

	conf, err := readConfig(orchestrator_config_file_path)
	if err != nil {
		log.Fatalw("Failed to read config", "path", orchestrator_config_file_path, "error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := bus.NewRedisBus(conf.RedisIp, conf.RedisPort, log)
	defer b.Close()

	store := registry.NewRedisStore(conf.RedisIp, conf.RedisPort)
	defer store.Close()

	reg := registry.NewRegistry(time.Duration(conf.LivenessTimeoutSec) * time.Second)
	orch := registry.NewOrchestrator(b, reg, store, log)
	if err := orch.Start(ctx); err != nil {
		log.Fatalw("Failed to start orchestrator", "error", err)
	}
	defer orch.Stop()

	ttl := time.Duration(conf.CacheTtlSec) * time.Second
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	detections := cache.NewDetectionCache(ttl, conf.CacheMaxEntries)

	// Feed the cache from every per-source event channel.
	_, err = b.SubscribePattern(ctx, bus.TopicEventsPattern, func(m bus.Message) {
		ev, skipped, err := event.Decode(m.Payload)
		if err != nil {
			log.Warnw("Dropping malformed detection event", "topic", m.Topic, "error", err)
			return
		}
		if skipped > 0 {
			log.Debugw("Skipped unknown detection variants", "topic", m.Topic, "skipped", skipped)
		}
		detections.Update(ev)
	})
	if err != nil {
		log.Fatalw("Failed to subscribe to event channels", "error", err)
	}

	if conf.S3Bucket != "" {
		if err := startArchival(ctx, conf, b, log); err != nil {
			log.Fatalw("Failed to start event archival", "error", err)
		}
	}

	window := time.Duration(conf.DiscoveryWindowSec) * time.Second
	if window <= 0 {
		window = 2 * time.Second
	}

	s := &server{orch: orch, detections: detections, discoveryWindow: window, log: log}
	http.HandleFunc("/workers", s.handleWorkers)
	http.HandleFunc("/commands", s.handleCommands)
	http.HandleFunc("/discover", s.handleDiscover)
	http.HandleFunc("/detections/", s.handleDetections)

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-shutdown
		log.Infow("Shutting down!")
		cancel()
		os.Exit(0)
	}()

	server_addr := conf.ServerIp + ":" + conf.ServerPort
	log.Infow("Orchestrator API listening", "addr", server_addr)
	if err := http.ListenAndServe(server_addr, nil); err != nil {
		log.Fatalw("Server failed to start", "error", err)
	}
}
