package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/sourcegraph/conc/panics"
	"golang.org/x/sync/errgroup"

	"github.com/shehryarbajwa/gridrunner/internal/metrics"
	"github.com/shehryarbajwa/gridrunner/pkg/models"
)

// RunFunc executes one work item and reports its outcome. A returned error
// or panic is recorded as a failing outcome.
type RunFunc func(ctx context.Context, item models.WorkItem) (models.WorkerOutcome, error)

// Gate blocks until a worker may start
type Gate interface {
	WaitForSlot(ctx context.Context) error
}

// Publisher receives progress events
type Publisher interface {
	Publish(event models.RunEvent)
}

// WorkerExecutionError wraps a failure raised while running a worker
type WorkerExecutionError struct {
	Index int
	Err   error
}

func (e *WorkerExecutionError) Error() string {
	return fmt.Sprintf("worker %d failed: %v", e.Index, e.Err)
}

func (e *WorkerExecutionError) Unwrap() error {
	return e.Err
}

// IsWorkerExecutionError checks if the error is or wraps a WorkerExecutionError
func IsWorkerExecutionError(err error) bool {
	var target *WorkerExecutionError
	return err != nil && errors.As(err, &target)
}

type workerIndexKey struct{}

// WithWorkerIndex tags ctx with the index of the worker it belongs to
func WithWorkerIndex(ctx context.Context, index int) context.Context {
	return context.WithValue(ctx, workerIndexKey{}, index)
}

// WorkerIndex returns the worker index ctx was tagged with
func WorkerIndex(ctx context.Context) (int, bool) {
	index, ok := ctx.Value(workerIndexKey{}).(int)
	return index, ok
}

// Dispatcher fans work items out to a bounded pool of workers
type Dispatcher struct {
	gate   Gate
	events Publisher
	runID  string
	log    *slog.Logger
}

// NewDispatcher creates a dispatcher. gate and events may be nil.
func NewDispatcher(runID string, gate Gate, events Publisher, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		gate:   gate,
		events: events,
		runID:  runID,
		log:    logger.With("component", "dispatcher"),
	}
}

// DispatchAll runs every item with at most concurrency workers in flight and
// returns the outcomes in item index order. One worker failing never cancels
// its siblings.
func (d *Dispatcher) DispatchAll(ctx context.Context, items []models.WorkItem, concurrency int, run RunFunc) []models.WorkerOutcome {
	if len(items) == 0 {
		d.log.Debug("No work items to dispatch")
		return nil
	}
	if concurrency < 1 || concurrency > len(items) {
		concurrency = len(items)
	}

	d.log.Info("Dispatching workers", "workers", len(items), "concurrency", concurrency)

	outcomes := make([]models.WorkerOutcome, len(items))

	var g errgroup.Group
	g.SetLimit(concurrency)
	for i, item := range items {
		g.Go(func() error {
			outcomes[i] = d.runItem(ctx, item, run)
			return nil
		})
	}
	g.Wait()

	sort.SliceStable(outcomes, func(a, b int) bool {
		return outcomes[a].Index < outcomes[b].Index
	})
	return outcomes
}

// runItem admits, runs and records a single work item
func (d *Dispatcher) runItem(ctx context.Context, item models.WorkItem, run RunFunc) models.WorkerOutcome {
	ctx = WithWorkerIndex(ctx, item.Index)
	logger := d.log.With("worker", item.Index, "browser", item.Browser.Name)

	outcome := models.WorkerOutcome{
		Index:     item.Index,
		Browser:   item.Browser.Name,
		StartedAt: time.Now(),
	}
	metrics.WorkerStarted()
	defer func() {
		metrics.RecordWorkerOutcome(outcome.Browser, outcome.ExitCode, outcome.Duration())
		d.publish(models.RunEvent{
			Type:     models.EventWorkerFinished,
			Index:    outcome.Index,
			Browser:  outcome.Browser,
			ExitCode: outcome.ExitCode,
			Message:  outcome.Err,
		})
	}()

	if d.gate != nil {
		if err := d.gate.WaitForSlot(ctx); err != nil {
			logger.Error("Worker not admitted", "err", err)
			outcome.ExitCode = 1
			outcome.Err = err.Error()
			outcome.FinishedAt = time.Now()
			return outcome
		}
	}
	d.publish(models.RunEvent{Type: models.EventWorkerAdmitted, Index: item.Index, Browser: item.Browser.Name})

	var (
		result models.WorkerOutcome
		err    error
		pc     panics.Catcher
	)
	pc.Try(func() {
		result, err = run(ctx, item)
	})
	if recovered := pc.Recovered(); recovered != nil {
		err = recovered.AsError()
	}

	outcome.ExitCode = result.ExitCode
	outcome.Payload = result.Payload
	outcome.FinishedAt = time.Now()

	if err != nil {
		execErr := &WorkerExecutionError{Index: item.Index, Err: err}
		logger.Error("Worker failed", "err", execErr)
		outcome.Err = execErr.Error()
		if outcome.ExitCode == 0 {
			outcome.ExitCode = 1
		}
		return outcome
	}

	logger.Info("Worker finished", "exitCode", outcome.ExitCode, "duration", outcome.Duration().Round(time.Millisecond))
	return outcome
}

func (d *Dispatcher) publish(event models.RunEvent) {
	if d.events == nil {
		return
	}
	event.RunID = d.runID
	event.Time = time.Now()
	d.events.Publish(event)
}
