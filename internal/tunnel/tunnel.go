package tunnel

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/acarl005/stripansi"

	"github.com/shehryarbajwa/gridrunner/internal/metrics"
	"github.com/shehryarbajwa/gridrunner/pkg/models"
)

// State is a step of the tunnel lifecycle
type State string

const (
	StateCreated      State = "CREATED"
	StateStarting     State = "STARTING"
	StateOpen         State = "OPEN"
	StateClosing      State = "CLOSING"
	StateClosed       State = "CLOSED"
	StateFailedToOpen State = "FAILED_TO_OPEN"
)

// Tunnel supervises the external tunnel process that forwards local ports
// to the remote browser farm
type Tunnel struct {
	creds Credentials
	ports []int
	opts  Options
	log   *slog.Logger

	mu          sync.Mutex
	state       State
	transitions []State
	pid         int
	startedAt   time.Time
	exited      chan struct{}
	exitErr     error
}

// New creates a tunnel in the Created state. Nothing is launched until Start.
func New(creds Credentials, ports []int, opts Options, logger *slog.Logger) *Tunnel {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tunnel{
		creds:       creds,
		ports:       append([]int(nil), ports...),
		opts:        opts.withDefaults(),
		log:         logger.With("component", "tunnel"),
		state:       StateCreated,
		transitions: []State{StateCreated},
	}
}

// Start launches the tunnel binary and blocks until it prints the connected
// line, the process exits, the open timeout expires or ctx is cancelled.
func (t *Tunnel) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.state != StateCreated {
		state := t.state
		t.mu.Unlock()
		return fmt.Errorf("tunnel cannot start from state %s", state)
	}
	t.setStateLocked(StateStarting)
	t.mu.Unlock()

	path, err := exec.LookPath(t.opts.Binary)
	if err != nil {
		t.setState(StateFailedToOpen)
		t.log.Error("Tunnel binary not found or not executable", "binary", t.opts.Binary)
		return &BinaryNotFoundError{Binary: t.opts.Binary, Err: err}
	}

	cmd := exec.Command(path, Args(t.creds.AccessKey, t.ports, t.opts)...)
	setProcessGroup(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		t.setState(StateFailedToOpen)
		return fmt.Errorf("stdout pipe failed: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		t.setState(StateFailedToOpen)
		return fmt.Errorf("stderr pipe failed: %w", err)
	}

	if err := cmd.Start(); err != nil {
		t.setState(StateFailedToOpen)
		return fmt.Errorf("failed to start tunnel: %w", err)
	}

	pid := cmd.Process.Pid
	exited := make(chan struct{})
	ready := make(chan struct{})

	t.mu.Lock()
	t.pid = pid
	t.exited = exited
	t.startedAt = time.Now()
	t.mu.Unlock()

	t.log.Info("Opening tunnel", "pid", pid, "ports", PortSpec(t.ports))

	var readers sync.WaitGroup
	readers.Add(2)
	go func() {
		defer readers.Done()
		t.readStdout(pid, stdout, ready)
	}()
	go func() {
		defer readers.Done()
		t.logStderr(pid, stderr)
	}()

	// Wait must only run once the pipes are drained
	go func() {
		readers.Wait()
		err := cmd.Wait()
		t.mu.Lock()
		t.exitErr = err
		t.mu.Unlock()
		close(exited)
		t.log.Debug("Tunnel process exited", "pid", pid, "err", err)
	}()

	timer := time.NewTimer(t.opts.OpenTimeout)
	defer timer.Stop()

	t.log.Debug("Waiting for tunnel to open", "timeout", t.opts.OpenTimeout)

	select {
	case <-ready:
		t.setState(StateOpen)
		metrics.RecordTunnelOpen(time.Since(t.startedAt), true)
		t.log.Info("Tunnel open", "pid", pid)
		return nil
	case <-exited:
		t.setState(StateFailedToOpen)
		metrics.RecordTunnelOpen(time.Since(t.startedAt), false)
		t.mu.Lock()
		exitErr := t.exitErr
		t.mu.Unlock()
		return &ExitedError{Err: exitErr}
	case <-timer.C:
		t.setState(StateFailedToOpen)
		metrics.RecordTunnelOpen(time.Since(t.startedAt), false)
		t.log.Error("Tunnel failed to open", "pid", pid, "timeout", t.opts.OpenTimeout)
		return &OpenTimeoutError{Timeout: t.opts.OpenTimeout}
	case <-ctx.Done():
		t.setState(StateFailedToOpen)
		metrics.RecordTunnelOpen(time.Since(t.startedAt), false)
		return fmt.Errorf("tunnel open interrupted: %w", ctx.Err())
	}
}

// readStdout scans tunnel output for the connected line and keeps draining
// the pipe afterwards so the tunnel never blocks on a full buffer
func (t *Tunnel) readStdout(pid int, stdout io.Reader, ready chan<- struct{}) {
	scanner := bufio.NewScanner(stdout)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	connected := false
	for scanner.Scan() {
		line := strings.TrimRight(stripansi.Strip(scanner.Text()), "\r")
		t.log.Debug("TUNNEL OUT", "pid", pid, "line", line)
		if !connected && line == ConnectedLine {
			connected = true
			close(ready)
		}
	}

	if err := scanner.Err(); err != nil {
		t.log.Warn("Tunnel output scanner error", "pid", pid, "err", err)
		io.Copy(io.Discard, stdout)
	}
}

func (t *Tunnel) logStderr(pid int, stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		t.log.Debug("TUNNEL ERR", "pid", pid, "line", stripansi.Strip(scanner.Text()))
	}

	if err := scanner.Err(); err != nil {
		t.log.Warn("Tunnel error output scanner error", "pid", pid, "err", err)
		io.Copy(io.Discard, stderr)
	}
}

// Close terminates the tunnel process if it is still alive. It is safe to
// call any number of times and on tunnels that never started.
func (t *Tunnel) Close() error {
	t.mu.Lock()
	if t.state == StateClosed || t.state == StateClosing {
		t.mu.Unlock()
		return nil
	}
	wasOpen := t.state == StateOpen
	t.setStateLocked(StateClosing)
	pid, exited := t.pid, t.exited
	t.mu.Unlock()

	var closeErr error
	if pid != 0 && t.running(pid, exited) {
		t.log.Debug("Closing tunnel", "pid", pid)
		if err := terminate(pid); err != nil {
			closeErr = fmt.Errorf("failed to signal tunnel (pid %d): %w", pid, err)
		} else {
			select {
			case <-exited:
			case <-time.After(t.opts.CloseTimeout):
				t.log.Warn("Tunnel ignored SIGTERM, killing", "pid", pid)
				if err := kill(pid); err != nil {
					closeErr = fmt.Errorf("failed to kill tunnel (pid %d): %w", pid, err)
				}
				<-exited
			}
		}
	}

	if wasOpen {
		metrics.RecordTunnelClosed()
	}
	t.setState(StateClosed)
	t.log.Info("Tunnel closed", "pid", pid)
	return closeErr
}

// running reports whether the tunnel process has not been reaped yet and
// its process group still exists
func (t *Tunnel) running(pid int, exited <-chan struct{}) bool {
	if exited != nil {
		select {
		case <-exited:
			return false
		default:
		}
	}
	return processAlive(pid)
}

// RemoteURL is the Selenium hub URL with the tunnel credentials embedded
func (t *Tunnel) RemoteURL() string {
	u := url.URL{
		Scheme: "http",
		User:   url.UserPassword(t.creds.Username, t.creds.AccessKey),
		Host:   t.opts.Hub,
		Path:   "/wd/hub",
	}
	return u.String()
}

// State returns the current lifecycle state
func (t *Tunnel) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// IsOpen reports whether the tunnel is connected
func (t *Tunnel) IsOpen() bool {
	return t.State() == StateOpen
}

// Transitions returns every state the tunnel has been in, in order
func (t *Tunnel) Transitions() []State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]State(nil), t.transitions...)
}

// Handle returns a snapshot of the tunnel for the runner and status API
func (t *Tunnel) Handle() models.TunnelHandle {
	t.mu.Lock()
	defer t.mu.Unlock()
	return models.TunnelHandle{
		PID:        t.pid,
		LocalPorts: append([]int(nil), t.ports...),
		Open:       t.state == StateOpen,
		RemoteURL:  t.RemoteURL(),
	}
}

func (t *Tunnel) setState(s State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.setStateLocked(s)
}

func (t *Tunnel) setStateLocked(s State) {
	t.state = s
	t.transitions = append(t.transitions, s)
}
