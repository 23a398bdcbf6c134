// Package container is the narrow adapter between the gateway and the local
// container runtime. Backends run as pre-created containers; the gateway only
// ever starts, stops, and inspects them by handle.
package container

import (
	"context"
	"fmt"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	log "github.com/sirupsen/logrus"
)

// Lifecycle is the container-level state the gateway cares about.
type Lifecycle string

const (
	// Absent means no container with the handle exists.
	Absent Lifecycle = "absent"
	// Starting means the container exists but is not yet running.
	Starting Lifecycle = "starting"
	// Running means the container process is up.
	Running Lifecycle = "running"
	// Exited means the container stopped cleanly.
	Exited Lifecycle = "exited"
	// Failed means the container stopped with a non-zero exit or died.
	Failed Lifecycle = "failed"
)

// Inspection is the result of a container inspect call.
type Inspection struct {
	State      Lifecycle
	ExitReason string
	StartedAt  time.Time
}

// Runtime starts, stops, and inspects backend containers.
// Start is fire-and-forget: success means the process is launching, not that
// the backend is ready. Stop is synchronous and returns once the container
// has exited.
type Runtime interface {
	Start(ctx context.Context, handle string) error
	Stop(ctx context.Context, handle string) error
	Inspect(ctx context.Context, handle string) (Inspection, error)
}

// DockerRuntime implements Runtime against the local Docker daemon.
type DockerRuntime struct {
	cli *client.Client
}

// NewDockerRuntime connects to the Docker daemon using environment defaults.
func NewDockerRuntime() (*DockerRuntime, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &DockerRuntime{cli: cli}, nil
}

// Start launches the named container.
func (d *DockerRuntime) Start(ctx context.Context, handle string) error {
	log.Infof("starting container %s", handle)
	if err := d.cli.ContainerStart(ctx, handle, container.StartOptions{}); err != nil {
		return fmt.Errorf("failed to start container %s: %w", handle, err)
	}
	return nil
}

// Stop stops the named container and waits for it to exit.
func (d *DockerRuntime) Stop(ctx context.Context, handle string) error {
	log.Infof("stopping container %s", handle)
	stopTimeout := 30
	if err := d.cli.ContainerStop(ctx, handle, container.StopOptions{Timeout: &stopTimeout}); err != nil {
		return fmt.Errorf("failed to stop container %s: %w", handle, err)
	}
	return nil
}

// Inspect reports the lifecycle state of the named container.
func (d *DockerRuntime) Inspect(ctx context.Context, handle string) (Inspection, error) {
	info, err := d.cli.ContainerInspect(ctx, handle)
	if err != nil {
		if client.IsErrNotFound(err) {
			return Inspection{State: Absent}, nil
		}
		return Inspection{}, fmt.Errorf("failed to inspect container %s: %w", handle, err)
	}
	if info.State == nil {
		return Inspection{State: Absent}, nil
	}
	return classifyState(info.State), nil
}

// classifyState maps Docker's container state onto the gateway's lifecycle.
// A non-zero exit means failed; "created" and "restarting" count as starting.
func classifyState(state *types.ContainerState) Inspection {
	inspection := Inspection{}
	if startedAt, errParse := time.Parse(time.RFC3339Nano, state.StartedAt); errParse == nil {
		inspection.StartedAt = startedAt
	}

	switch state.Status {
	case "running":
		inspection.State = Running
	case "created", "restarting":
		inspection.State = Starting
	case "exited":
		if state.ExitCode == 0 {
			inspection.State = Exited
		} else {
			inspection.State = Failed
			inspection.ExitReason = fmt.Sprintf("exit code %d", state.ExitCode)
			if state.Error != "" {
				inspection.ExitReason = fmt.Sprintf("exit code %d: %s", state.ExitCode, state.Error)
			}
		}
	case "dead", "removing":
		inspection.State = Failed
		inspection.ExitReason = state.Error
	default:
		inspection.State = Starting
	}

	return inspection
}
