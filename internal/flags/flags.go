package flags

import (
	"fmt"
	"strings"
	"time"

	"github.com/urfave/cli/v2"
)

const EnvVarPrefix = "GRIDRUNNER"

// RuntimeType selects how workers are executed
type RuntimeType string

const (
	RuntimeProcess RuntimeType = "process"
	RuntimeDocker  RuntimeType = "docker"
)

// IsValid reports whether the runtime is supported
func (r RuntimeType) IsValid() bool {
	return r == RuntimeProcess || r == RuntimeDocker
}

// LogFormat selects the log handler
type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

func prefixEnvVar(name string) []string {
	return []string{EnvVarPrefix + "_" + name}
}

var (
	Username = &cli.StringFlag{
		Name:    "username",
		EnvVars: append(prefixEnvVar("USERNAME"), "BROWSERSTACK_USERNAME"),
		Usage:   "Remote browser farm account username",
	}
	AccessKey = &cli.StringFlag{
		Name:    "access-key",
		EnvVars: append(prefixEnvVar("ACCESS_KEY"), "BROWSERSTACK_ACCESS_KEY"),
		Usage:   "Remote browser farm access key",
	}
	ConfigFile = &cli.StringFlag{
		Name:    "config",
		Value:   "gridrunner.yml",
		EnvVars: prefixEnvVar("CONFIG"),
		Usage:   "Path to the browsers file (eg. 'gridrunner.yml')",
	}
	Browser = &cli.StringFlag{
		Name:    "browser",
		EnvVars: prefixEnvVar("BROWSER"),
		Usage:   "Only run the browser with this name from the browsers file",
	}
	MaxWorkers = &cli.IntFlag{
		Name:    "max-workers",
		Value:   0,
		EnvVars: prefixEnvVar("MAX_WORKERS"),
		Usage:   "Maximum parallel workers. 0 uses the account's allowed sessions",
	}
	Runtime = &cli.StringFlag{
		Name:    "runtime",
		Value:   string(RuntimeProcess),
		EnvVars: prefixEnvVar("RUNTIME"),
		Usage:   fmt.Sprintf("Worker runtime: %s or %s", RuntimeProcess, RuntimeDocker),
	}
	Image = &cli.StringFlag{
		Name:    "image",
		EnvVars: prefixEnvVar("IMAGE"),
		Usage:   "Container image for the docker runtime",
	}
	WorkDir = &cli.StringFlag{
		Name:    "workdir",
		EnvVars: prefixEnvVar("WORKDIR"),
		Usage:   "Working directory for process workers (defaults to the current directory)",
	}
	ResultsDir = &cli.StringFlag{
		Name:    "results-dir",
		EnvVars: prefixEnvVar("RESULTS_DIR"),
		Usage:   "Directory for worker result files (defaults to a temporary directory)",
	}
	TunnelBinary = &cli.StringFlag{
		Name:    "tunnel-binary",
		Value:   "BrowserStackLocal",
		EnvVars: prefixEnvVar("TUNNEL_BINARY"),
		Usage:   "Path or name of the tunnel binary",
	}
	TunnelIdentifier = &cli.StringFlag{
		Name:    "tunnel-identifier",
		EnvVars: prefixEnvVar("TUNNEL_IDENTIFIER"),
		Usage:   "Local identifier passed to the tunnel binary",
	}
	TunnelOnlyAutomate = &cli.BoolFlag{
		Name:    "tunnel-only-automate",
		Value:   false,
		EnvVars: prefixEnvVar("TUNNEL_ONLY_AUTOMATE"),
		Usage:   "Restrict the tunnel to automate sessions",
	}
	TunnelTimeout = &cli.DurationFlag{
		Name:    "tunnel-timeout",
		Value:   60 * time.Second,
		EnvVars: prefixEnvVar("TUNNEL_TIMEOUT"),
		Usage:   "How long to wait for the tunnel to connect",
	}
	HubRegion = &cli.StringFlag{
		Name:    "hub-region",
		Value:   "global",
		EnvVars: prefixEnvVar("HUB_REGION"),
		Usage:   "Selenium hub region: global, us, eu or ap",
	}
	AccountAPIURL = &cli.StringFlag{
		Name:    "account-api-url",
		Value:   "https://api.browserstack.com",
		EnvVars: prefixEnvVar("ACCOUNT_API_URL"),
		Usage:   "Base URL of the account capacity API",
	}
	AccountRequestsPerMinute = &cli.IntFlag{
		Name:    "account-rpm",
		Value:   60,
		EnvVars: prefixEnvVar("ACCOUNT_RPM"),
		Usage:   "Capacity API requests per minute across all workers. 0 disables throttling",
	}
	AdmissionMaxAttempts = &cli.IntFlag{
		Name:    "admission-max-attempts",
		Value:   10,
		EnvVars: prefixEnvVar("ADMISSION_MAX_ATTEMPTS"),
		Usage:   "Capacity probes per worker before giving up",
	}
	AdmissionInitialInterval = &cli.DurationFlag{
		Name:    "admission-initial-interval",
		Value:   500 * time.Millisecond,
		EnvVars: prefixEnvVar("ADMISSION_INITIAL_INTERVAL"),
		Usage:   "First wait between capacity probes",
	}
	AdmissionMaxInterval = &cli.DurationFlag{
		Name:    "admission-max-interval",
		Value:   15 * time.Second,
		EnvVars: prefixEnvVar("ADMISSION_MAX_INTERVAL"),
		Usage:   "Longest wait between capacity probes",
	}
	StatusAddr = &cli.StringFlag{
		Name:    "status-addr",
		EnvVars: prefixEnvVar("STATUS_ADDR"),
		Usage:   "Serve the status API on this address (eg. '127.0.0.1:7070'). Empty disables it",
	}
	ArtifactsDir = &cli.StringFlag{
		Name:    "artifacts-dir",
		EnvVars: prefixEnvVar("ARTIFACTS_DIR"),
		Usage:   "Write run-<id>.tar.gz to this directory. Empty disables archiving",
	}
	Color = &cli.BoolFlag{
		Name:    "color",
		Value:   false,
		EnvVars: prefixEnvVar("COLOR"),
		Usage:   "Colorize the summary table",
	}
	LogLevel = &cli.StringFlag{
		Name:    "log.level",
		Value:   "info",
		EnvVars: prefixEnvVar("LOG_LEVEL"),
		Usage:   "Log level: debug, info, warn or error",
	}
	LogFormatFlag = &cli.StringFlag{
		Name:    "log.format",
		Value:   string(LogFormatText),
		EnvVars: prefixEnvVar("LOG_FORMAT"),
		Usage:   "Log format: text or json",
	}
)

var requiredFlags = []cli.Flag{
	Username,
	AccessKey,
}

var optionalFlags = []cli.Flag{
	ConfigFile,
	Browser,
	MaxWorkers,
	Runtime,
	Image,
	WorkDir,
	ResultsDir,
	TunnelBinary,
	TunnelIdentifier,
	TunnelOnlyAutomate,
	TunnelTimeout,
	HubRegion,
	AccountAPIURL,
	AccountRequestsPerMinute,
	AdmissionMaxAttempts,
	AdmissionInitialInterval,
	AdmissionMaxInterval,
	StatusAddr,
	ArtifactsDir,
	Color,
	LogLevel,
	LogFormatFlag,
}

var Flags []cli.Flag

func init() {
	Flags = append(requiredFlags, optionalFlags...)
}

// CheckRequired returns an error naming the first required flag that is unset
func CheckRequired(ctx *cli.Context) error {
	for _, f := range requiredFlags {
		name := f.Names()[0]
		if strings.TrimSpace(ctx.String(name)) == "" {
			return fmt.Errorf("flag %s is required", name)
		}
	}
	return nil
}
