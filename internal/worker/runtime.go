package worker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/shehryarbajwa/gridrunner/pkg/models"
)

// Result is what a worker runtime observed for one worker
type Result struct {
	ExitCode int
	Payload  []byte
}

// Runtime runs one worker in an isolated process image and releases
// whatever it held afterwards
type Runtime interface {
	Run(ctx context.Context, cfg models.WorkerConfig) (Result, error)
	Release(ctx context.Context, cfg models.WorkerConfig) error
}

// Executor binds a runtime to a run: it derives each worker's config,
// runs it and always releases it
type Executor struct {
	runtime   Runtime
	runID     string
	remoteURL string
	log       *slog.Logger
}

// NewExecutor creates an executor for a single run
func NewExecutor(runtime Runtime, runID, remoteURL string, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		runtime:   runtime,
		runID:     runID,
		remoteURL: remoteURL,
		log:       logger.With("component", "worker"),
	}
}

// Run executes the work item. Release runs even when Run fails or panics.
func (e *Executor) Run(ctx context.Context, item models.WorkItem) (models.WorkerOutcome, error) {
	cfg := models.NewWorkerConfig(e.runID, item, e.remoteURL)

	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := e.runtime.Release(releaseCtx, cfg); err != nil {
			e.log.Warn("Failed to release worker", "worker", item.Index, "browser", item.Browser.Name, "err", err)
		}
	}()

	e.log.Info("Starting worker", "worker", item.Index, "browser", item.Browser.Name, "port", item.AssignedPort)
	res, err := e.runtime.Run(ctx, cfg)
	if err != nil {
		return models.WorkerOutcome{ExitCode: 1, Payload: res.Payload}, err
	}

	return models.WorkerOutcome{ExitCode: res.ExitCode, Payload: res.Payload}, nil
}

func resultFileName(index int) string {
	return fmt.Sprintf("worker-%d.json", index)
}

// readPayload returns the worker's result file, or nil if it wrote none
func readPayload(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read worker result %s: %w", filepath.Base(path), err)
	}
	return data, nil
}

func removePayload(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove worker result: %w", err)
	}
	return nil
}
