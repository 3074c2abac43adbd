package tunnel

import (
	"fmt"
	"strings"
	"time"
)

const (
	// DefaultBinary is looked up on PATH when no binary is configured
	DefaultBinary = "BrowserStackLocal"

	// ConnectedLine is printed by the tunnel binary once it is ready
	ConnectedLine = "Connected."

	DefaultOpenTimeout  = 60 * time.Second
	DefaultCloseTimeout = 10 * time.Second
	DefaultHub          = "hub.browserstack.com"
)

// Credentials authenticate both the tunnel and the Selenium hub
type Credentials struct {
	Username  string
	AccessKey string
}

// Options controls how the tunnel binary is launched
type Options struct {
	Binary       string
	Identifier   string
	SkipCheck    bool
	OnlyAutomate bool
	Force        bool
	Verbose      bool

	// Hub is the Selenium hub host embedded in the remote URL
	Hub          string
	OpenTimeout  time.Duration
	CloseTimeout time.Duration
}

// DefaultOptions returns the options used when none are overridden
func DefaultOptions() Options {
	return Options{
		Binary:       DefaultBinary,
		SkipCheck:    true,
		OnlyAutomate: false,
		Force:        true,
		Verbose:      true,
		Hub:          DefaultHub,
		OpenTimeout:  DefaultOpenTimeout,
		CloseTimeout: DefaultCloseTimeout,
	}
}

func (o Options) withDefaults() Options {
	if o.Binary == "" {
		o.Binary = DefaultBinary
	}
	if o.Hub == "" {
		o.Hub = DefaultHub
	}
	if o.OpenTimeout <= 0 {
		o.OpenTimeout = DefaultOpenTimeout
	}
	if o.CloseTimeout <= 0 {
		o.CloseTimeout = DefaultCloseTimeout
	}
	return o
}

// Args builds the tunnel command line arguments, excluding the binary.
// Flags are only included when set.
func Args(accessKey string, ports []int, opts Options) []string {
	var args []string
	if opts.Identifier != "" {
		args = append(args, "-localIdentifier", opts.Identifier)
	}
	if opts.SkipCheck {
		args = append(args, "-skipCheck")
	}
	if opts.OnlyAutomate {
		args = append(args, "-onlyAutomate")
	}
	if opts.Force {
		args = append(args, "-force")
	}
	if opts.Verbose {
		args = append(args, "-v")
	}
	return append(args, accessKey, PortSpec(ports))
}

// PortSpec formats ports as comma-joined localhost,<port>,0 triples, in order
func PortSpec(ports []int) string {
	specs := make([]string, len(ports))
	for i, port := range ports {
		specs[i] = fmt.Sprintf("localhost,%d,0", port)
	}
	return strings.Join(specs, ",")
}
