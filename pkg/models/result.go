package models

import (
	"encoding/json"
	"time"
)

// ExampleResult describes a single failed or pending example reported by a worker
type ExampleResult struct {
	Description string `json:"description"`
	Message     string `json:"message,omitempty"`
	Location    string `json:"location,omitempty"`
}

// ResultPayload is the optional structured payload a worker may write to
// GRIDRUNNER_RESULT_PATH. Anything else is kept as opaque bytes.
type ResultPayload struct {
	Examples int             `json:"examples"`
	Failures []ExampleResult `json:"failures,omitempty"`
	Pending  []ExampleResult `json:"pending,omitempty"`
}

// DecodeResultPayload parses a structured payload. ok is false for empty or
// unstructured payloads.
func DecodeResultPayload(data []byte) (payload ResultPayload, ok bool) {
	if len(data) == 0 {
		return ResultPayload{}, false
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return ResultPayload{}, false
	}
	return payload, true
}

// RunEventType names the stages published on the live event stream
type RunEventType string

const (
	EventRunStarted     RunEventType = "run.started"
	EventTunnelOpen     RunEventType = "tunnel.open"
	EventWorkerAdmitted RunEventType = "worker.admitted"
	EventWorkerFinished RunEventType = "worker.finished"
	EventRunFinished    RunEventType = "run.finished"
)

// RunEvent is a single progress notification
type RunEvent struct {
	Type     RunEventType `json:"type"`
	RunID    string       `json:"runId"`
	Index    int          `json:"index,omitempty"`
	Browser  string       `json:"browser,omitempty"`
	ExitCode int          `json:"exitCode,omitempty"`
	Message  string       `json:"message,omitempty"`
	Time     time.Time    `json:"time"`
}
