package models

import "time"

// TunnelHandle is a snapshot of the tunnel process owned by the runner
type TunnelHandle struct {
	PID        int    `json:"pid"`
	LocalPorts []int  `json:"localPorts"`
	Open       bool   `json:"open"`
	RemoteURL  string `json:"-"`
}

// WorkItem is one planned parallel worker
type WorkItem struct {
	Index        int           `json:"index"`
	Browser      BrowserConfig `json:"browser"`
	AssignedPort int           `json:"assignedPort"`
}

// WorkerOutcome is what a single worker produced
type WorkerOutcome struct {
	Index      int       `json:"index"`
	Browser    string    `json:"browser"`
	ExitCode   int       `json:"exitCode"`
	Payload    []byte    `json:"-"`
	Err        string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
}

// Passed reports whether the worker exited cleanly
func (o WorkerOutcome) Passed() bool {
	return o.ExitCode == 0
}

// Duration is the wall time the worker took, admission included
func (o WorkerOutcome) Duration() time.Duration {
	if o.StartedAt.IsZero() || o.FinishedAt.IsZero() {
		return 0
	}
	return o.FinishedAt.Sub(o.StartedAt)
}

// AccountCapacity is a point-in-time view of the remote account's sessions.
// It must be fetched fresh for every admission check.
type AccountCapacity struct {
	SessionsRunning int `json:"sessionsRunning"`
	SessionsAllowed int `json:"sessionsAllowed"`
}

// HasFreeSlot reports whether another session can start right now
func (c AccountCapacity) HasFreeSlot() bool {
	return c.SessionsRunning < c.SessionsAllowed
}

// RunSummary aggregates every worker outcome of a run.
// OverallExitCode is 0 iff every outcome's exit code is 0.
type RunSummary struct {
	RunID           string          `json:"runId"`
	StartTime       time.Time       `json:"startTime"`
	EndTime         time.Time       `json:"endTime"`
	Outcomes        []WorkerOutcome `json:"outcomes"`
	OverallExitCode int             `json:"overallExitCode"`
}

// Failed returns the outcomes with a non-zero exit code
func (s *RunSummary) Failed() []WorkerOutcome {
	var failed []WorkerOutcome
	for _, o := range s.Outcomes {
		if !o.Passed() {
			failed = append(failed, o)
		}
	}
	return failed
}

// WorkerStatus is the live view of one worker
type WorkerStatus struct {
	Index    int    `json:"index"`
	Browser  string `json:"browser"`
	State    string `json:"state"`
	ExitCode int    `json:"exitCode"`
	Message  string `json:"message,omitempty"`
}

// RunStatus is the live view of the current run
type RunStatus struct {
	RunID     string         `json:"runId"`
	State     string         `json:"state"`
	StartedAt time.Time      `json:"startedAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
	ExitCode  *int           `json:"exitCode,omitempty"`
	Workers   []WorkerStatus `json:"workers"`
}
