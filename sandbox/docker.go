// Copyright 2026 The Previewd Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// DefaultImage is the pinned runtime image. Exactly one value; previews
// do not choose their own runtime.
const DefaultImage = "node:22.14.0-bookworm-slim"

// gracePeriod is how long a graceful stop may take before the sandbox is
// killed outright.
const gracePeriod = 5 * time.Second

// stageTimeout bounds the copy of the read-only workspace into the
// sandbox's writable working directory at launch.
const stageTimeout = 60 * time.Second

const (
	workspaceMount = "/workspace"
	workDir        = "/app"
)

// dockerAPI is the slice of the Docker Engine client the executor uses.
// Narrow by design so tests can substitute a fake without a daemon.
type dockerAPI interface {
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerInspect(ctx context.Context, containerID string) (container.InspectResponse, error)
	ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerExecCreate(ctx context.Context, containerID string, options container.ExecOptions) (container.ExecCreateResponse, error)
	ContainerExecAttach(ctx context.Context, execID string, options container.ExecAttachOptions) (types.HijackedResponse, error)
	ContainerExecStart(ctx context.Context, execID string, options container.ExecStartOptions) error
	ContainerExecInspect(ctx context.Context, execID string) (container.ExecInspect, error)
	ImageInspect(ctx context.Context, imageID string, opts ...client.ImageInspectOption) (image.InspectResponse, error)
	ImagePull(ctx context.Context, refStr string, options image.PullOptions) (io.ReadCloser, error)
}

// DockerConfig holds resource and image settings for the Docker backend.
type DockerConfig struct {
	// Image is the pinned runtime image. Defaults to DefaultImage.
	Image string

	// CPUs caps compute for one sandbox. Defaults to 1.
	CPUs float64

	// MemoryBytes caps memory with no swap headroom. Defaults to 512 MiB.
	MemoryBytes int64

	// PidsLimit caps process count. Defaults to 100.
	PidsLimit int64

	// User is the non-root user commands run as. Defaults to "node".
	User string
}

func (c *DockerConfig) applyDefaults() {
	if c.Image == "" {
		c.Image = DefaultImage
	}
	if c.CPUs == 0 {
		c.CPUs = 1
	}
	if c.MemoryBytes == 0 {
		c.MemoryBytes = 512 << 20
	}
	if c.PidsLimit == 0 {
		c.PidsLimit = 100
	}
	if c.User == "" {
		c.User = "node"
	}
}

// DockerExecutor runs sandboxes as hardened containers on a local Docker
// Engine.
type DockerExecutor struct {
	api    dockerAPI
	config DockerConfig
	logger *slog.Logger

	imageOnce sync.Once
	imageErr  error
}

// NewDockerExecutor connects to the local Docker Engine.
func NewDockerExecutor(config DockerConfig, logger *slog.Logger) (*DockerExecutor, error) {
	api, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker client init: %w", err)
	}
	return newDockerExecutor(api, config, logger), nil
}

func newDockerExecutor(api dockerAPI, config DockerConfig, logger *slog.Logger) *DockerExecutor {
	config.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &DockerExecutor{
		api:    api,
		config: config,
		logger: logger.With("component", "sandbox"),
	}
}

// ensureImage verifies the pinned image is available locally, pulling it
// once if missing. Runs at most once per executor.
func (d *DockerExecutor) ensureImage(ctx context.Context) error {
	d.imageOnce.Do(func() {
		if _, err := d.api.ImageInspect(ctx, d.config.Image); err == nil {
			return
		}
		d.logger.Info("pulling runtime image", "image", d.config.Image)
		reader, err := d.api.ImagePull(ctx, d.config.Image, image.PullOptions{})
		if err != nil {
			d.imageErr = fmt.Errorf("pulling image %s: %w", d.config.Image, err)
			return
		}
		defer reader.Close()
		if _, err := io.Copy(io.Discard, reader); err != nil {
			d.imageErr = fmt.Errorf("pulling image %s: %w", d.config.Image, err)
		}
	})
	return d.imageErr
}

// Launch creates and starts a sandbox per the LaunchSpec, then stages the
// read-only workspace into the writable working directory.
func (d *DockerExecutor) Launch(ctx context.Context, spec LaunchSpec) (Handle, error) {
	if _, err := os.Stat(spec.WorkspacePath); err != nil {
		return "", fmt.Errorf("workspace path %s: %w", spec.WorkspacePath, err)
	}
	if err := d.ensureImage(ctx); err != nil {
		return "", err
	}

	servicePort, err := nat.NewPort("tcp", strconv.Itoa(spec.ServicePort))
	if err != nil {
		return "", fmt.Errorf("invalid service port %d: %w", spec.ServicePort, err)
	}

	containerConfig := &container.Config{
		Image:      d.config.Image,
		User:       d.config.User,
		WorkingDir: workDir,
		// A no-op foreground process keeps the sandbox alive so phase
		// commands can be executed into it out-of-band.
		Entrypoint:   []string{"sleep", "infinity"},
		Env:          []string{"LANG=C.UTF-8", "HOME=/tmp", "PORT=" + strconv.Itoa(spec.ServicePort)},
		ExposedPorts: nat.PortSet{servicePort: struct{}{}},
		Labels: map[string]string{
			"dev.previewd.session": spec.SessionID,
		},
	}

	hostConfig := &container.HostConfig{
		// The input workspace is structurally immutable from inside.
		Binds: []string{spec.WorkspacePath + ":" + workspaceMount + ":ro"},
		PortBindings: nat.PortMap{
			servicePort: []nat.PortBinding{{
				HostIP:   "127.0.0.1",
				HostPort: strconv.Itoa(spec.HostPort),
			}},
		},
		// Resources released by the engine when the sandbox exits; no
		// separate cleanup pass needed for that case.
		AutoRemove: true,
		CapDrop:    []string{"ALL"},
		// The minimal set the staging copy needs to hand the tree to the
		// non-root user.
		CapAdd: []string{"CHOWN", "DAC_OVERRIDE", "FOWNER", "SETGID", "SETUID"},
		// An unroutable resolver: no outward DNS resolution from inside.
		DNS:   []string{"0.0.0.0"},
		Tmpfs: map[string]string{"/tmp": "rw,exec,nosuid"},
		Resources: container.Resources{
			NanoCPUs:   int64(d.config.CPUs * 1e9),
			Memory:     d.config.MemoryBytes,
			MemorySwap: d.config.MemoryBytes, // equal to Memory: no swap
			PidsLimit:  &d.config.PidsLimit,
		},
	}

	created, err := d.api.ContainerCreate(ctx, containerConfig, hostConfig, &network.NetworkingConfig{}, nil, "previewd-"+spec.SessionID)
	if err != nil {
		return "", fmt.Errorf("creating sandbox: %w", err)
	}
	if err := d.api.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return "", fmt.Errorf("starting sandbox: %w", err)
	}

	if err := d.stageWorkspace(ctx, created.ID); err != nil {
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), gracePeriod*2)
		defer cancel()
		d.ForceTerminate(stopCtx, Handle(created.ID))
		return "", err
	}

	d.logger.Info("sandbox launched",
		"session_id", spec.SessionID,
		"container_id", created.ID,
		"host_port", spec.HostPort,
	)
	return Handle(created.ID), nil
}

// stageWorkspace copies the read-only workspace into the writable working
// directory and hands it to the sandbox user. Runs as root inside the
// sandbox; every later command runs as the configured non-root user.
func (d *DockerExecutor) stageWorkspace(ctx context.Context, containerID string) error {
	stageCtx, cancel := context.WithTimeout(ctx, stageTimeout)
	defer cancel()

	command := fmt.Sprintf("cp -a %s/. %s && chown -R %s %s", workspaceMount, workDir, d.config.User, workDir)
	result, err := d.exec(stageCtx, containerID, command, "root")
	if err != nil {
		return fmt.Errorf("staging workspace: %w", err)
	}
	if result.ExitCode != 0 {
		return fmt.Errorf("staging workspace: exit code %d: %s", result.ExitCode, result.Stderr)
	}
	return nil
}

// Exec runs one command in the sandbox as the configured user and waits
// for it.
func (d *DockerExecutor) Exec(ctx context.Context, handle Handle, command string) (ExecResult, error) {
	return d.exec(ctx, string(handle), command, d.config.User)
}

func (d *DockerExecutor) exec(ctx context.Context, containerID, command, user string) (ExecResult, error) {
	created, err := d.api.ContainerExecCreate(ctx, containerID, container.ExecOptions{
		Cmd:          []string{"/bin/sh", "-lc", command},
		User:         user,
		WorkingDir:   workDir,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return ExecResult{}, fmt.Errorf("creating exec: %w", err)
	}

	attach, err := d.api.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{})
	if err != nil {
		return ExecResult{}, fmt.Errorf("attaching exec: %w", err)
	}
	defer attach.Close()

	// Force the demultiplexer loose when the deadline passes; otherwise
	// StdCopy blocks for as long as the command keeps a stream open.
	stop := context.AfterFunc(ctx, func() { attach.Close() })
	defer stop()

	var stdout, stderr bytes.Buffer
	_, copyErr := stdcopy.StdCopy(&stdout, &stderr, attach.Reader)
	result := ExecResult{Stdout: stdout.String(), Stderr: stderr.String()}
	if ctx.Err() != nil {
		return result, ctx.Err()
	}
	if copyErr != nil && copyErr != io.EOF {
		return result, fmt.Errorf("reading exec output: %w", copyErr)
	}

	exitCode, err := d.waitExec(ctx, created.ID)
	if err != nil {
		return result, err
	}
	result.ExitCode = exitCode
	return result, nil
}

// waitExec polls until the exec finishes and returns its exit code.
func (d *DockerExecutor) waitExec(ctx context.Context, execID string) (int, error) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		inspect, err := d.api.ContainerExecInspect(ctx, execID)
		if err != nil {
			return 0, fmt.Errorf("inspecting exec: %w", err)
		}
		if !inspect.Running {
			return inspect.ExitCode, nil
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-ticker.C:
		}
	}
}

// ExecDetached starts a command without awaiting its exit. Used for the
// long-lived service process; service liveness is observed through the
// readiness probe, never through this command's completion.
func (d *DockerExecutor) ExecDetached(ctx context.Context, handle Handle, command string) error {
	created, err := d.api.ContainerExecCreate(ctx, string(handle), container.ExecOptions{
		Cmd:        []string{"/bin/sh", "-lc", command},
		User:       d.config.User,
		WorkingDir: workDir,
		Detach:     true,
	})
	if err != nil {
		return fmt.Errorf("creating detached exec: %w", err)
	}
	if err := d.api.ContainerExecStart(ctx, created.ID, container.ExecStartOptions{Detach: true}); err != nil {
		return fmt.Errorf("starting detached exec: %w", err)
	}
	return nil
}

// IsRunning reports whether the sandbox is alive. Stale handles report
// false.
func (d *DockerExecutor) IsRunning(ctx context.Context, handle Handle) bool {
	inspect, err := d.api.ContainerInspect(ctx, string(handle))
	if err != nil || inspect.State == nil {
		return false
	}
	return inspect.State.Running
}

// Status returns a best-effort view of the sandbox's state. Stale
// handles report StateUnknown.
func (d *DockerExecutor) Status(ctx context.Context, handle Handle) State {
	inspect, err := d.api.ContainerInspect(ctx, string(handle))
	if err != nil || inspect.State == nil {
		return StateUnknown
	}
	state := inspect.State
	switch {
	case state.Running:
		return StateRunning
	case state.OOMKilled || state.ExitCode == 137:
		return StateKilled
	case state.Status == "exited" || state.Status == "dead":
		return StateExited
	default:
		return StateUnknown
	}
}

// ForceTerminate gracefully stops the sandbox, escalating to a kill
// after the grace period. Terminating an already-gone sandbox is a
// no-op.
func (d *DockerExecutor) ForceTerminate(ctx context.Context, handle Handle) error {
	grace := int(gracePeriod.Seconds())
	err := d.api.ContainerStop(ctx, string(handle), container.StopOptions{Timeout: &grace})
	if err != nil && !client.IsErrNotFound(err) {
		return fmt.Errorf("stopping sandbox: %w", err)
	}
	return nil
}
