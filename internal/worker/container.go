package worker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"

	"github.com/shehryarbajwa/gridrunner/pkg/models"
)

const containerResultDir = "/results"

// ContainerRuntime runs each worker's test command in its own container.
// The worker's app server port is published on the host loopback so the
// tunnel can forward it.
type ContainerRuntime struct {
	client     *client.Client
	image      string
	command    []string
	resultDir  string
	containers sync.Map // worker index -> container ID
	log        *slog.Logger
}

// NewContainerRuntime creates a docker-backed runtime
func NewContainerRuntime(imageRef string, command []string, resultDir string, logger *slog.Logger) (*ContainerRuntime, error) {
	if imageRef == "" {
		return nil, fmt.Errorf("worker image is required for the docker runtime")
	}
	if err := os.MkdirAll(resultDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create result directory: %w", err)
	}

	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}
	return &ContainerRuntime{
		client:    cli,
		image:     imageRef,
		command:   command,
		resultDir: resultDir,
		log:       logger.With("component", "container-runtime"),
	}, nil
}

// containerSpec builds the container and host configuration for one worker
func containerSpec(imageRef string, command []string, resultDir string, cfg models.WorkerConfig) (*container.Config, *container.HostConfig, error) {
	cfg.ResultPath = containerResultDir + "/" + resultFileName(cfg.Index)

	appPort, err := nat.NewPort("tcp", strconv.Itoa(cfg.AppServerPort))
	if err != nil {
		return nil, nil, fmt.Errorf("invalid app server port %d: %w", cfg.AppServerPort, err)
	}

	containerConfig := &container.Config{
		Image: imageRef,
		Cmd:   command,
		Env:   cfg.Env(),
		Labels: map[string]string{
			"run-id":       cfg.RunID,
			"worker-index": strconv.Itoa(cfg.Index),
			"browser":      cfg.DriverName,
			"managed-by":   "gridrunner",
		},
		ExposedPorts: nat.PortSet{
			appPort: struct{}{},
		},
	}

	hostConfig := &container.HostConfig{
		PortBindings: nat.PortMap{
			appPort: []nat.PortBinding{
				{
					HostIP:   "127.0.0.1",
					HostPort: strconv.Itoa(cfg.AppServerPort),
				},
			},
		},
		AutoRemove: false,
		Mounts: []mount.Mount{
			{
				Type:   mount.TypeBind,
				Source: resultDir,
				Target: containerResultDir,
			},
		},
	}

	return containerConfig, hostConfig, nil
}

func containerName(cfg models.WorkerConfig) string {
	runID := cfg.RunID
	if len(runID) > 8 {
		runID = runID[:8]
	}
	return fmt.Sprintf("gridrunner-%s-%d", runID, cfg.Index)
}

// Run creates and starts the worker container and waits for it to exit
func (r *ContainerRuntime) Run(ctx context.Context, cfg models.WorkerConfig) (Result, error) {
	containerConfig, hostConfig, err := containerSpec(r.image, r.command, r.resultDir, cfg)
	if err != nil {
		return Result{ExitCode: 1}, err
	}

	resp, err := r.client.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, containerName(cfg))
	if err != nil {
		return Result{ExitCode: 1}, fmt.Errorf("failed to create container: %w", err)
	}
	r.containers.Store(cfg.Index, resp.ID)

	logger := r.log.With("worker", cfg.Index, "browser", cfg.DriverName, "container", resp.ID[:12])

	if err := r.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return Result{ExitCode: 1}, fmt.Errorf("failed to start container: %w", err)
	}
	logger.Debug("Worker container started")

	statusCh, errCh := r.client.ContainerWait(ctx, resp.ID, container.WaitConditionNotRunning)

	var exitCode int
	select {
	case err := <-errCh:
		return Result{ExitCode: 1}, fmt.Errorf("failed to wait for container: %w", err)
	case status := <-statusCh:
		if status.Error != nil {
			return Result{ExitCode: 1}, fmt.Errorf("container wait error: %s", status.Error.Message)
		}
		exitCode = int(status.StatusCode)
	}

	if err := r.copyLogs(ctx, resp.ID, logger); err != nil {
		logger.Warn("Failed to read container logs", "err", err)
	}

	payload, err := readPayload(filepath.Join(r.resultDir, resultFileName(cfg.Index)))
	if err != nil {
		return Result{ExitCode: exitCode}, err
	}
	return Result{ExitCode: exitCode, Payload: payload}, nil
}

func (r *ContainerRuntime) copyLogs(ctx context.Context, containerID string, logger *slog.Logger) error {
	reader, err := r.client.ContainerLogs(ctx, containerID, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return err
	}
	defer reader.Close()

	stdout := newLineWriter(logger, "stdout")
	stderr := newLineWriter(logger, "stderr")
	defer stdout.Flush()
	defer stderr.Flush()

	_, err = stdcopy.StdCopy(stdout, stderr, reader)
	return err
}

// Release stops and removes the worker's container and its result file
func (r *ContainerRuntime) Release(ctx context.Context, cfg models.WorkerConfig) error {
	resultErr := removePayload(filepath.Join(r.resultDir, resultFileName(cfg.Index)))

	value, ok := r.containers.LoadAndDelete(cfg.Index)
	if !ok {
		return resultErr
	}
	containerID := value.(string)

	timeout := 10
	if err := r.client.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &timeout}); err != nil {
		return fmt.Errorf("failed to stop container: %w", err)
	}
	if err := r.client.ContainerRemove(ctx, containerID, container.RemoveOptions{}); err != nil {
		return fmt.Errorf("failed to remove container: %w", err)
	}
	return resultErr
}

// EnsureImage pulls the worker image if it is not present locally
func (r *ContainerRuntime) EnsureImage(ctx context.Context) error {
	images, err := r.client.ImageList(ctx, image.ListOptions{})
	if err != nil {
		return err
	}

	want := r.image
	if !strings.Contains(want[strings.LastIndex(want, "/")+1:], ":") {
		want += ":latest"
	}
	for _, img := range images {
		for _, tag := range img.RepoTags {
			if tag == want {
				return nil
			}
		}
	}

	r.log.Info("Pulling worker image", "image", r.image)
	reader, err := r.client.ImagePull(ctx, r.image, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image: %w", err)
	}
	defer reader.Close()

	_, err = io.Copy(io.Discard, reader)
	return err
}

// Close releases the docker client
func (r *ContainerRuntime) Close() error {
	return r.client.Close()
}
