package compose

import (
	"context"
)

// DockerAPI enumerates and removes raw runtime objects by name. It backs the
// resource reaper; lifecycle operations on live runs go through Runner.
type DockerAPI interface {
	ListContainers(ctx context.Context, namePrefix string) ([]string, error)
	StopContainer(ctx context.Context, name string) error
	RemoveContainer(ctx context.Context, name string) error
	ListNetworks(ctx context.Context, namePrefix string) ([]string, error)
	RemoveNetwork(ctx context.Context, name string) error
}

// DockerCLI implements DockerAPI via the docker binary.
type DockerCLI struct {
	CLIRunner
}

func (d *DockerCLI) ListContainers(ctx context.Context, namePrefix string) ([]string, error) {
	out, err := d.run(ctx, "ps", "ps", "-a", "--filter", "name="+namePrefix, "--format", "{{.Names}}")
	if err != nil {
		return nil, err
	}
	return splitLines(out), nil
}

func (d *DockerCLI) StopContainer(ctx context.Context, name string) error {
	_, err := d.run(ctx, "stop", "stop", name)
	return err
}

func (d *DockerCLI) RemoveContainer(ctx context.Context, name string) error {
	_, err := d.run(ctx, "rm", "rm", name)
	return err
}

func (d *DockerCLI) ListNetworks(ctx context.Context, namePrefix string) ([]string, error) {
	out, err := d.run(ctx, "network ls", "network", "ls", "--filter", "name="+namePrefix, "--format", "{{.Name}}")
	if err != nil {
		return nil, err
	}
	return splitLines(out), nil
}

func (d *DockerCLI) RemoveNetwork(ctx context.Context, name string) error {
	_, err := d.run(ctx, "network rm", "network", "rm", name)
	return err
}
