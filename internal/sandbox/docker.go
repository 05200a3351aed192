package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"codelens-ci/internal/logging"
)

// DockerRuntime executes sandbox commands through the Docker Engine API. Each
// Run creates one container, waits for it, collects demuxed logs, and removes
// it.
type DockerRuntime struct {
	cli *client.Client
}

// NewDockerRuntime connects to the engine using the standard environment
// configuration (DOCKER_HOST etc.).
func NewDockerRuntime() (*DockerRuntime, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	return &DockerRuntime{cli: cli}, nil
}

// Ping verifies the engine is reachable; called once at startup so a broken
// sandbox transport fails fast instead of on the first job.
func (d *DockerRuntime) Ping(ctx context.Context) error {
	_, err := d.cli.Ping(ctx)
	return err
}

func (d *DockerRuntime) RunContainer(ctx context.Context, spec ContainerSpec) (Result, error) {
	if err := d.ensureImage(ctx, spec.Image); err != nil {
		return Result{}, err
	}

	created, err := d.cli.ContainerCreate(ctx,
		&container.Config{
			Image:      spec.Image,
			Cmd:        []string{"sh", "-c", spec.Command},
			WorkingDir: spec.WorkingDir,
		},
		&container.HostConfig{
			Binds: spec.Binds,
		},
		nil, nil, "")
	if err != nil {
		return Result{}, fmt.Errorf("create container: %w", err)
	}
	// Removal runs on a fresh context so a command timeout still cleans up.
	defer func() {
		rmCtx := context.Background()
		if err := d.cli.ContainerRemove(rmCtx, created.ID, types.ContainerRemoveOptions{Force: true}); err != nil {
			logging.L().WithField("container", created.ID).WithError(err).Warn("container remove failed")
		}
	}()

	if err := d.cli.ContainerStart(ctx, created.ID, types.ContainerStartOptions{}); err != nil {
		return Result{}, fmt.Errorf("start container: %w", err)
	}

	var exitCode int64
	statusCh, errCh := d.cli.ContainerWait(ctx, created.ID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		if err != nil {
			return Result{}, fmt.Errorf("wait container: %w", err)
		}
	case status := <-statusCh:
		exitCode = status.StatusCode
	}

	logs, err := d.cli.ContainerLogs(context.Background(), created.ID, types.ContainerLogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		return Result{ExitCode: exitCode}, fmt.Errorf("container logs: %w", err)
	}
	defer logs.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, logs); err != nil {
		return Result{ExitCode: exitCode}, fmt.Errorf("demux logs: %w", err)
	}

	return Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: exitCode,
	}, nil
}

// ensureImage pulls the image if the engine does not have it yet.
func (d *DockerRuntime) ensureImage(ctx context.Context, image string) error {
	if _, _, err := d.cli.ImageInspectWithRaw(ctx, image); err == nil {
		return nil
	}
	reader, err := d.cli.ImagePull(ctx, image, types.ImagePullOptions{})
	if err != nil {
		return fmt.Errorf("pull image %s: %w", image, err)
	}
	defer reader.Close()
	_, err = io.Copy(io.Discard, reader)
	return err
}
