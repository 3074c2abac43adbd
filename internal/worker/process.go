package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/shehryarbajwa/gridrunner/pkg/models"
)

// waitDelay bounds how long Run waits for the output pipes after the
// worker's process group was killed
const waitDelay = 5 * time.Second

// ProcessRuntime runs each worker's test command as a child process. The
// worker configuration only ever reaches that child's environment.
type ProcessRuntime struct {
	command   []string
	dir       string
	resultDir string
	log       *slog.Logger
}

// NewProcessRuntime creates a runtime that runs command for every worker.
// Result files are written under resultDir.
func NewProcessRuntime(command []string, dir, resultDir string, logger *slog.Logger) (*ProcessRuntime, error) {
	if len(command) == 0 {
		return nil, fmt.Errorf("worker command is required")
	}
	if err := os.MkdirAll(resultDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create result directory: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ProcessRuntime{
		command:   command,
		dir:       dir,
		resultDir: resultDir,
		log:       logger.With("component", "process-runtime"),
	}, nil
}

func (r *ProcessRuntime) resultPath(cfg models.WorkerConfig) string {
	return filepath.Join(r.resultDir, resultFileName(cfg.Index))
}

// Run starts the command and waits for it. A non-zero exit is reported in
// the Result, not as an error.
func (r *ProcessRuntime) Run(ctx context.Context, cfg models.WorkerConfig) (Result, error) {
	cfg.ResultPath = r.resultPath(cfg)

	cmd := exec.CommandContext(ctx, r.command[0], r.command[1:]...)
	cmd.Dir = r.dir
	cmd.Env = append(os.Environ(), cfg.Env()...)
	cmd.WaitDelay = waitDelay
	killWorkerGroup(cmd)

	logger := r.log.With("worker", cfg.Index, "browser", cfg.DriverName)
	stdout := newLineWriter(logger, "stdout")
	stderr := newLineWriter(logger, "stderr")
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	err := cmd.Run()
	stdout.Flush()
	stderr.Flush()

	exitCode, err := exitCodeOf(err)
	if err != nil {
		return Result{ExitCode: 1}, fmt.Errorf("failed to run worker command: %w", err)
	}

	payload, err := readPayload(cfg.ResultPath)
	if err != nil {
		return Result{ExitCode: exitCode}, err
	}

	logger.Debug("Worker process exited", "exitCode", exitCode, "payloadBytes", len(payload))
	return Result{ExitCode: exitCode, Payload: payload}, nil
}

// Release removes the worker's result file
func (r *ProcessRuntime) Release(ctx context.Context, cfg models.WorkerConfig) error {
	return removePayload(r.resultPath(cfg))
}

// exitCodeOf maps a wait error to an exit code. A process terminated by a
// signal is a hard failure reported as 128+signal. A command that exited
// cleanly but left a helper holding its output is still a success.
func exitCodeOf(err error) (int, error) {
	if err == nil || errors.Is(err, exec.ErrWaitDelay) {
		return 0, nil
	}

	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return 1, err
	}
	if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
		return 128 + int(status.Signal()), nil
	}
	return exitErr.ExitCode(), nil
}
