package reclaim

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"

	"cifleet/internal/store"
)

// containerRemover is the part of the Docker client used here.
type containerRemover interface {
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
}

// DockerTeardown removes the containers behind docker nodes. The container
// name is the node name without its IP suffix.
type DockerTeardown struct {
	client containerRemover
}

// NewDockerTeardown connects using the standard environment variables
// (DOCKER_HOST and friends).
func NewDockerTeardown() (*DockerTeardown, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &DockerTeardown{client: cli}, nil
}

func (d *DockerTeardown) Teardown(ctx context.Context, node store.Node) error {
	name, _ := SplitNodeName(node.Name)

	err := d.client.ContainerRemove(ctx, name, container.RemoveOptions{Force: true, RemoveVolumes: true})
	if client.IsErrNotFound(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to remove container %s: %w", name, err)
	}
	slog.InfoContext(ctx, "removed container", "container", name)
	return nil
}
