package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/shehryarbajwa/gridrunner/internal/admission"
	"github.com/shehryarbajwa/gridrunner/internal/artifacts"
	"github.com/shehryarbajwa/gridrunner/internal/config"
	"github.com/shehryarbajwa/gridrunner/internal/dispatch"
	"github.com/shehryarbajwa/gridrunner/internal/metrics"
	"github.com/shehryarbajwa/gridrunner/internal/ports"
	"github.com/shehryarbajwa/gridrunner/internal/region"
	"github.com/shehryarbajwa/gridrunner/internal/summary"
	"github.com/shehryarbajwa/gridrunner/internal/tunnel"
	"github.com/shehryarbajwa/gridrunner/internal/worker"
	"github.com/shehryarbajwa/gridrunner/pkg/models"
)

// ErrNoBrowsers is returned when there is nothing to dispatch
var ErrNoBrowsers = errors.New("no browsers to run")

// FatalError aborts a run before any worker is dispatched
type FatalError struct {
	Stage string
	Err   error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// IsFatal checks if the error aborted the run before dispatch
func IsFatal(err error) bool {
	var target *FatalError
	return err != nil && errors.As(err, &target)
}

// Runner composes one run: allocate ports, open the tunnel, dispatch
// workers, aggregate and always close the tunnel
type Runner struct {
	cfg      *config.Config
	runtime  worker.Runtime
	probe    admission.CapacityProbe
	events   dispatch.Publisher
	reporter *summary.Reporter
	store    *artifacts.Store
	regions  *region.Manager
	newTimer func() backoff.Timer
	log      *slog.Logger

	mu     sync.Mutex
	tunnel *tunnel.Tunnel
}

// Option configures a Runner
type Option func(*Runner)

// WithEvents publishes run progress
func WithEvents(p dispatch.Publisher) Option {
	return func(r *Runner) { r.events = p }
}

// WithReport writes the human readable summary to out
func WithReport(out io.Writer, color bool) Option {
	return func(r *Runner) { r.reporter = summary.NewReporter(out, color) }
}

// WithArtifacts archives every finished run
func WithArtifacts(store *artifacts.Store) Option {
	return func(r *Runner) { r.store = store }
}

// WithRegions replaces the hub routing table
func WithRegions(m *region.Manager) Option {
	return func(r *Runner) { r.regions = m }
}

// WithAdmissionTimer replaces the timer used between capacity probes
func WithAdmissionTimer(newTimer func() backoff.Timer) Option {
	return func(r *Runner) { r.newTimer = newTimer }
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) { r.log = l }
}

// New creates a runner. runtime executes workers and probe reports the
// remote account's capacity.
func New(cfg *config.Config, runtime worker.Runtime, probe admission.CapacityProbe, opts ...Option) *Runner {
	r := &Runner{
		cfg:     cfg,
		runtime: runtime,
		probe:   probe,
		regions: region.NewManager(),
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = r.log.With("component", "runner")
	return r
}

// Tunnel returns the tunnel of the current or last run
func (r *Runner) Tunnel() *tunnel.Tunnel {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tunnel
}

// PortCount is how many local ports a run forwards: one per browser, at
// least one
func PortCount(browsers int) int {
	if browsers < 1 {
		return 1
	}
	return browsers
}

// PlanWork pairs each browser with its local port
func PlanWork(browsers []models.BrowserConfig, localPorts []int) []models.WorkItem {
	items := make([]models.WorkItem, 0, len(browsers))
	for i, b := range browsers {
		items = append(items, models.WorkItem{
			Index:        i,
			Browser:      b,
			AssignedPort: localPorts[i],
		})
	}
	return items
}

// Run executes a full run. A *FatalError means nothing was dispatched;
// otherwise the summary carries the per-worker outcomes.
func (r *Runner) Run(ctx context.Context) (result *models.RunSummary, err error) {
	runID := uuid.New().String()
	start := time.Now()
	logger := r.log.With("run", runID)

	r.publish(models.RunEvent{Type: models.EventRunStarted, RunID: runID})
	defer func() {
		event := models.RunEvent{Type: models.EventRunFinished, RunID: runID, ExitCode: 1}
		if err != nil {
			event.Message = err.Error()
		} else {
			event.ExitCode = result.OverallExitCode
		}
		r.publish(event)
		metrics.RecordRun(event.ExitCode)
	}()

	browsers := r.cfg.Browsers
	if len(browsers) == 0 {
		return nil, &FatalError{Stage: "plan", Err: ErrNoBrowsers}
	}

	localPorts, err := ports.Allocate(PortCount(len(browsers)))
	if err != nil {
		logger.Error("Failed to allocate local ports", "err", err)
		return nil, &FatalError{Stage: "allocate ports", Err: err}
	}

	opts := r.cfg.Tunnel
	opts.Hub = r.regions.Route(r.cfg.HubRegion).Host

	tun := tunnel.New(r.cfg.Credentials, localPorts, opts, logger)
	r.mu.Lock()
	r.tunnel = tun
	r.mu.Unlock()

	defer func() {
		if closeErr := tun.Close(); closeErr != nil {
			logger.Warn("Failed to close tunnel", "err", closeErr)
		}
	}()

	if err := tun.Start(ctx); err != nil {
		return nil, &FatalError{Stage: "open tunnel", Err: err}
	}
	r.publish(models.RunEvent{Type: models.EventTunnelOpen, RunID: runID})

	items := PlanWork(browsers, localPorts)

	concurrency, err := r.resolveConcurrency(ctx, len(items))
	if err != nil {
		return nil, &FatalError{Stage: "resolve concurrency", Err: err}
	}

	admissionOpts := []admission.Option{admission.WithLogger(logger)}
	if r.newTimer != nil {
		admissionOpts = append(admissionOpts, admission.WithTimer(r.newTimer))
	}
	gate := admission.NewController(r.probe, r.cfg.Admission, admissionOpts...)
	executor := worker.NewExecutor(r.runtime, runID, tun.RemoteURL(), logger)

	outcomes := dispatch.NewDispatcher(runID, gate, r.events, logger).DispatchAll(ctx, items, concurrency, executor.Run)

	s := summary.Summarize(runID, outcomes, start, time.Now())
	logger.Info("Run finished", "workers", len(s.Outcomes), "failed", len(s.Failed()), "exitCode", s.OverallExitCode)

	if r.reporter != nil {
		if err := r.reporter.Report(s); err != nil {
			logger.Warn("Failed to write report", "err", err)
		}
	}
	if r.store != nil {
		if _, err := r.store.Save(s); err != nil {
			logger.Warn("Failed to archive run", "err", err)
		}
	}

	return s, nil
}

// resolveConcurrency uses --max-workers when set, otherwise the number of
// sessions the account allows. It never exceeds the number of workers.
func (r *Runner) resolveConcurrency(ctx context.Context, workers int) (int, error) {
	concurrency := r.cfg.MaxWorkers
	if concurrency <= 0 {
		capacity, err := r.probe.Capacity(ctx)
		if err != nil {
			return 0, fmt.Errorf("failed to fetch account capacity: %w", err)
		}
		concurrency = capacity.SessionsAllowed
		r.log.Debug("Using account session limit", "sessionsAllowed", capacity.SessionsAllowed)
	}
	if concurrency < 1 {
		concurrency = 1
	}
	if concurrency > workers {
		concurrency = workers
	}
	return concurrency, nil
}

func (r *Runner) publish(event models.RunEvent) {
	if r.events == nil {
		return
	}
	event.Time = time.Now()
	r.events.Publish(event)
}
