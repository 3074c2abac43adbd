package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/shehryarbajwa/gridrunner/internal/admission"
	"github.com/shehryarbajwa/gridrunner/internal/flags"
	"github.com/shehryarbajwa/gridrunner/internal/tunnel"
	"github.com/shehryarbajwa/gridrunner/pkg/models"
)

// ShutdownTimeout bounds how long cleanup may take after the run context ends
const ShutdownTimeout = 30 * time.Second

// BrowsersFile is the on-disk layout of the browsers file
type BrowsersFile struct {
	Browsers map[string]map[string]any `yaml:"browsers"`
}

// Config holds the application configuration
type Config struct {
	Credentials   tunnel.Credentials
	ConfigFile    string
	BrowserFilter string
	Browsers      []models.BrowserConfig // Sorted by name, filter applied
	MaxWorkers    int                    // 0 = use the account's allowed sessions
	Command       []string               // Test command each worker runs

	Runtime    flags.RuntimeType
	Image      string // Container image for the docker runtime
	WorkDir    string
	ResultsDir string // Empty = temporary directory per run

	Tunnel    tunnel.Options
	HubRegion string

	AccountAPIURL            string
	AccountRequestsPerMinute int
	Admission                admission.Policy

	StatusAddr   string
	ArtifactsDir string
	Color        bool

	LogLevel  slog.Level
	LogFormat flags.LogFormat
}

// NewConfig creates a new Config from cli context. The trailing arguments
// are the worker test command.
func NewConfig(ctx *cli.Context) (*Config, error) {
	if err := flags.CheckRequired(ctx); err != nil {
		return nil, fmt.Errorf("missing required flags: %w", err)
	}

	level, err := ParseLogLevel(ctx.String(flags.LogLevel.Name))
	if err != nil {
		return nil, err
	}

	configFile := ctx.String(flags.ConfigFile.Name)
	filter := ctx.String(flags.Browser.Name)
	browsers, err := LoadBrowsers(configFile, filter)
	if err != nil {
		return nil, err
	}

	workDir := ctx.String(flags.WorkDir.Name)
	if workDir != "" {
		if workDir, err = filepath.Abs(workDir); err != nil {
			return nil, fmt.Errorf("failed to resolve absolute path for workdir '%s': %w", ctx.String(flags.WorkDir.Name), err)
		}
	}

	tunnelOpts := tunnel.DefaultOptions()
	tunnelOpts.Binary = ctx.String(flags.TunnelBinary.Name)
	tunnelOpts.Identifier = ctx.String(flags.TunnelIdentifier.Name)
	tunnelOpts.OnlyAutomate = ctx.Bool(flags.TunnelOnlyAutomate.Name)
	tunnelOpts.OpenTimeout = ctx.Duration(flags.TunnelTimeout.Name)

	policy := admission.DefaultPolicy()
	policy.MaxAttempts = ctx.Int(flags.AdmissionMaxAttempts.Name)
	policy.InitialInterval = ctx.Duration(flags.AdmissionInitialInterval.Name)
	policy.MaxInterval = ctx.Duration(flags.AdmissionMaxInterval.Name)

	cfg := &Config{
		Credentials: tunnel.Credentials{
			Username:  ctx.String(flags.Username.Name),
			AccessKey: ctx.String(flags.AccessKey.Name),
		},
		ConfigFile:               configFile,
		BrowserFilter:            filter,
		Browsers:                 browsers,
		MaxWorkers:               ctx.Int(flags.MaxWorkers.Name),
		Command:                  ctx.Args().Slice(),
		Runtime:                  flags.RuntimeType(ctx.String(flags.Runtime.Name)),
		Image:                    ctx.String(flags.Image.Name),
		WorkDir:                  workDir,
		ResultsDir:               ctx.String(flags.ResultsDir.Name),
		Tunnel:                   tunnelOpts,
		HubRegion:                ctx.String(flags.HubRegion.Name),
		AccountAPIURL:            ctx.String(flags.AccountAPIURL.Name),
		AccountRequestsPerMinute: ctx.Int(flags.AccountRequestsPerMinute.Name),
		Admission:                policy,
		StatusAddr:               ctx.String(flags.StatusAddr.Name),
		ArtifactsDir:             ctx.String(flags.ArtifactsDir.Name),
		Color:                    ctx.Bool(flags.Color.Name),
		LogLevel:                 level,
		LogFormat:                flags.LogFormat(ctx.String(flags.LogFormatFlag.Name)),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration is runnable
func (c *Config) Validate() error {
	var errs []error

	if c.Credentials.Username == "" || c.Credentials.AccessKey == "" {
		errs = append(errs, errors.New("username and access key are required"))
	}
	if len(c.Browsers) == 0 {
		if c.BrowserFilter != "" {
			errs = append(errs, fmt.Errorf("browser %q not found in %s", c.BrowserFilter, c.ConfigFile))
		} else {
			errs = append(errs, fmt.Errorf("no browsers configured in %s", c.ConfigFile))
		}
	}
	if !c.Runtime.IsValid() {
		errs = append(errs, fmt.Errorf("invalid runtime: %s. Must be one of: %s, %s", c.Runtime, flags.RuntimeProcess, flags.RuntimeDocker))
	}
	if c.Runtime == flags.RuntimeProcess && len(c.Command) == 0 {
		errs = append(errs, errors.New("a test command is required, eg. 'gridrunner -- bundle exec rspec'"))
	}
	if c.Runtime == flags.RuntimeDocker && c.Image == "" {
		errs = append(errs, errors.New("--image is required with the docker runtime"))
	}
	if c.MaxWorkers < 0 {
		errs = append(errs, fmt.Errorf("max workers must not be negative, got %d", c.MaxWorkers))
	}
	if c.Tunnel.OpenTimeout <= 0 {
		errs = append(errs, fmt.Errorf("tunnel timeout must be positive, got %s", c.Tunnel.OpenTimeout))
	}
	if c.Admission.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("admission attempts must be at least 1, got %d", c.Admission.MaxAttempts))
	}
	if c.LogFormat != flags.LogFormatText && c.LogFormat != flags.LogFormatJSON {
		errs = append(errs, fmt.Errorf("invalid log format: %s", c.LogFormat))
	}

	return errors.Join(errs...)
}

// LoadBrowsers reads the browsers file and returns its entries sorted by
// name. A non-empty filter keeps only the browser with that name.
func LoadBrowsers(path, filter string) ([]models.BrowserConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read browsers file: %w", err)
	}

	var file BrowsersFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse browsers file %s: %w", path, err)
	}

	browsers := models.SortedBrowsers(file.Browsers)
	if filter == "" {
		return browsers, nil
	}

	var filtered []models.BrowserConfig
	for _, b := range browsers {
		if b.Name == filter {
			filtered = append(filtered, b)
		}
	}
	return filtered, nil
}

// ParseLogLevel maps a level name to a slog level
func ParseLogLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return level, nil
}

// NewLogger builds the process logger
func NewLogger(out io.Writer, level slog.Level, format flags.LogFormat) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if format == flags.LogFormatJSON {
		return slog.New(slog.NewJSONHandler(out, opts))
	}
	return slog.New(slog.NewTextHandler(out, opts))
}
