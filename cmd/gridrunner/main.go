package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"github.com/shehryarbajwa/gridrunner/internal/account"
	"github.com/shehryarbajwa/gridrunner/internal/api"
	"github.com/shehryarbajwa/gridrunner/internal/artifacts"
	"github.com/shehryarbajwa/gridrunner/internal/config"
	"github.com/shehryarbajwa/gridrunner/internal/exitcodes"
	"github.com/shehryarbajwa/gridrunner/internal/flags"
	"github.com/shehryarbajwa/gridrunner/internal/ratelimit"
	"github.com/shehryarbajwa/gridrunner/internal/runner"
	"github.com/shehryarbajwa/gridrunner/internal/stream"
	"github.com/shehryarbajwa/gridrunner/internal/worker"
)

var (
	Version   = "v0.1.0"
	GitCommit = ""
	GitDate   = ""
)

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file found, using system environment variables")
	}

	app := newApp()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.RunContext(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(exitcodes.RuntimeErr)
	}
}

func newApp() *cli.App {
	app := cli.NewApp()
	app.Version = fmt.Sprintf("%s-%s-%s", Version, GitCommit, GitDate)
	app.Name = "gridrunner"
	app.Usage = "Run a test suite across a remote browser farm in parallel"
	app.ArgsUsage = "-- <test command> [args...]"
	app.Description = "gridrunner opens a tunnel to the browser farm, runs the test command once per configured browser and aggregates the results"
	app.Flags = flags.Flags
	app.Action = run
	app.Commands = []*cli.Command{reportCommand}
	app.ExitErrHandler = func(c *cli.Context, err error) {
		var exitErr cli.ExitCoder
		if errors.As(err, &exitErr) {
			cli.HandleExitCoder(exitErr)
		} else if err != nil {
			cli.HandleExitCoder(cli.Exit(err.Error(), exitcodes.RuntimeErr))
		}
	}
	return app
}

func run(c *cli.Context) error {
	cfg, err := config.NewConfig(c)
	if err != nil {
		return cli.Exit(fmt.Sprintf("failed to create config: %v", err), exitcodes.RuntimeErr)
	}

	logger := config.NewLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	logger.Debug("Config", "browsers", len(cfg.Browsers), "runtime", cfg.Runtime, "maxWorkers", cfg.MaxWorkers)

	rt, cleanup, err := newRuntime(c.Context, cfg, logger)
	if err != nil {
		cleanup()
		return cli.Exit(fmt.Sprintf("failed to create worker runtime: %v", err), exitcodes.RuntimeErr)
	}
	defer cleanup()

	limiter := ratelimit.NewLimiter(cfg.AccountRequestsPerMinute, max(1, len(cfg.Browsers)))
	client := account.NewClient(cfg.Credentials.Username, cfg.Credentials.AccessKey,
		account.WithBaseURL(cfg.AccountAPIURL),
		account.WithLimiter(limiter),
		account.WithLogger(logger),
	)

	hub := stream.NewHub(stream.DefaultHistory, logger)
	defer hub.Close()

	opts := []runner.Option{
		runner.WithEvents(hub),
		runner.WithReport(os.Stdout, cfg.Color),
		runner.WithLogger(logger),
	}

	if cfg.ArtifactsDir != "" {
		store, err := artifacts.NewStore(cfg.ArtifactsDir, logger)
		if err != nil {
			return cli.Exit(err.Error(), exitcodes.RuntimeErr)
		}
		opts = append(opts, runner.WithArtifacts(store))
	}

	if cfg.StatusAddr != "" {
		router := api.NewHandler(hub).SetupRoutes(hub, ratelimit.NewLimiter(api.DefaultRequestsPerMinute, 20))
		srv := api.NewServer(cfg.StatusAddr, router, logger)
		if _, err := srv.Start(); err != nil {
			return cli.Exit(fmt.Sprintf("failed to start status server: %v", err), exitcodes.RuntimeErr)
		}
		defer func() {
			hub.Close()
			ctx, cancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(ctx); err != nil {
				logger.Warn("Status server forced to shutdown", "err", err)
			}
		}()
	}

	summary, err := runner.New(cfg, rt, client, opts...).Run(c.Context)
	if err != nil {
		if runner.IsFatal(err) {
			logger.Error("Run aborted before dispatch", "err", err)
		}
		return cli.Exit(err.Error(), exitcodes.RuntimeErr)
	}

	if summary.OverallExitCode != exitcodes.Success {
		return cli.Exit("", exitcodes.TestFailure)
	}
	return nil
}

// newRuntime builds the configured worker runtime and a cleanup func that
// releases whatever it created
func newRuntime(ctx context.Context, cfg *config.Config, logger *slog.Logger) (worker.Runtime, func(), error) {
	cleanups := []func(){}
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	resultsDir := cfg.ResultsDir
	if resultsDir == "" {
		dir, err := os.MkdirTemp("", "gridrunner-results-")
		if err != nil {
			return nil, cleanup, fmt.Errorf("failed to create results directory: %w", err)
		}
		resultsDir = dir
		cleanups = append(cleanups, func() { os.RemoveAll(dir) })
	}
	resultsDir, err := filepath.Abs(resultsDir)
	if err != nil {
		return nil, cleanup, err
	}

	switch cfg.Runtime {
	case flags.RuntimeDocker:
		rt, err := worker.NewContainerRuntime(cfg.Image, cfg.Command, resultsDir, logger)
		if err != nil {
			return nil, cleanup, err
		}
		cleanups = append(cleanups, func() { rt.Close() })

		if err := rt.EnsureImage(ctx); err != nil {
			return nil, cleanup, fmt.Errorf("failed to ensure image %s: %w", cfg.Image, err)
		}
		return rt, cleanup, nil
	default:
		rt, err := worker.NewProcessRuntime(cfg.Command, cfg.WorkDir, resultsDir, logger)
		if err != nil {
			return nil, cleanup, err
		}
		return rt, cleanup, nil
	}
}
