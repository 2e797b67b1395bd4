package docker

import (
	"context"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
)

// Client wraps the official Docker client for the small amount of container
// management the restore path needs: stopping the manager and reverse-proxy
// containers before their data directories are swapped, and starting them
// again afterwards.
type Client struct {
	cli *client.Client
}

// New creates a new Docker client wrapper.
func New() (*Client, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, err
	}
	return &Client{cli: cli}, nil
}

// findByName resolves a container name to its ID. Docker reports names with a
// leading slash.
func (c *Client) findByName(ctx context.Context, name string) (string, error) {
	containers, err := c.cli.ContainerList(ctx, container.ListOptions{All: true})
	if err != nil {
		return "", err
	}
	for _, ctr := range containers {
		for _, n := range ctr.Names {
			if strings.TrimPrefix(n, "/") == name {
				return ctr.ID, nil
			}
		}
	}
	return "", nil
}

// StopByName stops a container by name with a graceful timeout. A name that
// resolves to nothing is not an error; the container may simply not be
// deployed on this host.
func (c *Client) StopByName(ctx context.Context, name string) error {
	id, err := c.findByName(ctx, name)
	if err != nil || id == "" {
		return err
	}
	timeout := 30
	return c.cli.ContainerStop(ctx, id, container.StopOptions{Timeout: &timeout})
}

// StartByName starts a container by name if it exists.
func (c *Client) StartByName(ctx context.Context, name string) error {
	id, err := c.findByName(ctx, name)
	if err != nil || id == "" {
		return err
	}
	return c.cli.ContainerStart(ctx, id, container.StartOptions{})
}
