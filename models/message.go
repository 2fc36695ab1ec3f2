package models

import (
	"time"
)

// Well-known control-plane command names. The wire accepts any string;
// unknown names are rejected by the worker with an UnknownCommand ACK.
const (
	CMD_PING            = "ping"
	CMD_PAUSE           = "pause"
	CMD_RESUME          = "resume"
	CMD_SET_MODEL       = "set_model"
	CMD_SET_FPS         = "set_fps"
	CMD_ADD_STREAM      = "add_stream"
	CMD_REMOVE_STREAM   = "remove_stream"
	CMD_RENAME_INSTANCE = "rename_instance"
	CMD_SHUTDOWN        = "shutdown"
)

// BroadcastTarget addresses every worker subscribed to the command channel.
const BroadcastTarget = "*"

// ControlMessage is published by the orchestrator on the shared command
// channel. Every worker receives every message and filters on TargetInstances.
type ControlMessage struct {
	Command         string                 `json:"command"`
	Params          map[string]interface{} `json:"params,omitempty"`
	TargetInstances []string               `json:"targetInstances,omitempty"`
}

// Worker status values as published on control/status/{instanceId}.
const (
	STATUS_STARTING      = "starting"
	STATUS_RUNNING       = "running"
	STATUS_PAUSED        = "paused"
	STATUS_RECONFIGURING = "reconfiguring"
	STATUS_RESTARTING    = "restarting"
	STATUS_STOPPED       = "stopped"
	STATUS_ERROR         = "error"
)

// ConfigSnapshot is the immutable copy of a worker's pipeline configuration
// included in status messages. Streams and SourceIds are index-aligned.
type ConfigSnapshot struct {
	Streams   []string `json:"streams"`
	SourceIds []int    `json:"sourceIds"`
	ModelId   string   `json:"modelId"`
	MaxFps    float64  `json:"maxFps"`
}

// Health is the liveness block attached to PONGs and heartbeats.
type Health struct {
	IsPaused        bool    `json:"isPaused"`
	PipelineRunning bool    `json:"pipelineRunning"`
	BusConnected    bool    `json:"busConnected"`
	CpuUtil         float64 `json:"cpuUtil,omitempty"`
}

// StatusMessage is published whenever a worker's runtime state changes, in
// response to a ping, or as an unsolicited heartbeat (Heartbeat=true).
type StatusMessage struct {
	InstanceId    string          `json:"instanceId"`
	Status        string          `json:"status"`
	UptimeSeconds float64         `json:"uptimeSeconds"`
	Config        *ConfigSnapshot `json:"config,omitempty"`
	Health        *Health         `json:"health,omitempty"`
	Heartbeat     bool            `json:"heartbeat,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
}

// ACK states. Every accepted command produces exactly one "received" ACK and
// exactly one terminal ("completed" or "error") ACK.
const (
	ACK_RECEIVED  = "received"
	ACK_COMPLETED = "completed"
	ACK_ERROR     = "error"
)

// AckMessage is published on control/status/ack/{instanceId}.
type AckMessage struct {
	Command   string    `json:"command"`
	AckStatus string    `json:"ackStatus"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// WorkerRecord is the registry entry the orchestrator maintains per worker,
// rebuilt from PONGs and heartbeats.
type WorkerRecord struct {
	InstanceId   string        `json:"instanceId"`
	RegisteredAt time.Time     `json:"registeredAt"`
	LastSeen     time.Time     `json:"lastSeen"`
	LastStatus   StatusMessage `json:"lastStatus"`
}
