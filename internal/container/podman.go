package container

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/containers/podman/v4/pkg/bindings"
	"github.com/containers/podman/v4/pkg/bindings/containers"
	"github.com/containers/podman/v4/pkg/bindings/images"
	"github.com/containers/podman/v4/pkg/specgen"
	spec "github.com/opencontainers/runtime-spec/specs-go"

	rerrors "github.com/asgardahost/rpmbuilder/internal/errors"
	"github.com/asgardahost/rpmbuilder/internal/logfields"
	"github.com/asgardahost/rpmbuilder/internal/models"
)

// PodmanRunner runs build containers through the Podman REST API
type PodmanRunner struct {
	ctx context.Context
}

// NewPodmanRunner connects to the Podman socket at socketPath.
func NewPodmanRunner(socketPath string) (*PodmanRunner, error) {
	connText := fmt.Sprintf("unix://%s", socketPath)
	ctx, err := bindings.NewConnection(context.Background(), connText)
	if err != nil {
		return nil, rerrors.Wrap(err, rerrors.KindBuildInvocation, "failed to connect to Podman at %s", socketPath)
	}

	return &PodmanRunner{ctx: ctx}, nil
}

// buildSpec converts RunOptions into a Podman container spec.
func buildSpec(opts RunOptions) *specgen.SpecGenerator {
	s := specgen.NewSpecGenerator(opts.Image, false)
	s.Name = opts.Name
	s.Command = opts.Args
	s.Stdin = opts.Interactive
	s.User = opts.User
	s.Remove = opts.Remove

	for _, m := range append(append([]Mount{}, opts.Mounts...), opts.Volumes...) {
		mount := spec.Mount{
			Source:      m.Source,
			Destination: m.Target,
			Type:        "bind",
			Options:     []string{"rbind"},
		}
		if m.ReadOnly {
			mount.Options = append(mount.Options, "ro")
		}
		s.Mounts = append(s.Mounts, mount)
	}

	return s
}

// Run creates the container, follows its logs until it exits and returns its
// exit code. Stdout becomes the message on success, stderr on failure.
func (r *PodmanRunner) Run(_ context.Context, opts RunOptions) (models.BuildOutcome, error) {
	failed := models.BuildOutcome{ExitCode: -1, Message: GenericErrorMessage}

	if err := r.ensureImage(opts.Image); err != nil {
		return failed, err
	}

	createResponse, err := containers.CreateWithSpec(r.ctx, buildSpec(opts), nil)
	if err != nil {
		return failed, rerrors.Wrap(err, rerrors.KindBuildInvocation, "failed to create container %s", opts.Name)
	}
	containerID := createResponse.ID

	if err := containers.Start(r.ctx, containerID, nil); err != nil {
		return failed, rerrors.Wrap(err, rerrors.KindBuildInvocation, "failed to start container %s", opts.Name)
	}
	slog.Info("Container started", slog.String("container", opts.Name), slog.String("id", containerID))

	stdout, stderr, err := r.collectLogs(containerID)
	if err != nil {
		slog.Warn("Failed to follow container logs", logfields.Error(err))
	}

	exitCode, err := containers.Wait(r.ctx, containerID, nil)
	if err != nil {
		return failed, rerrors.Wrap(err, rerrors.KindBuildInvocation, "failed waiting for container %s", opts.Name)
	}

	if exitCode != 0 {
		return models.BuildOutcome{ExitCode: int(exitCode), Message: strings.TrimSpace(stderr)}, nil
	}
	return models.BuildOutcome{ExitCode: 0, Message: strings.TrimSpace(stdout)}, nil
}

// collectLogs follows the container logs until it exits.
func (r *PodmanRunner) collectLogs(containerID string) (string, string, error) {
	stdoutCh := make(chan string)
	stderrCh := make(chan string)
	done := make(chan error, 1)

	logOptions := new(containers.LogOptions).WithStdout(true).WithStderr(true).WithFollow(true)
	go func() {
		done <- containers.Logs(r.ctx, containerID, logOptions, stdoutCh, stderrCh)
	}()

	var stdout, stderr strings.Builder
	for {
		select {
		case line := <-stdoutCh:
			stdout.WriteString(line)
		case line := <-stderrCh:
			stderr.WriteString(line)
		case err := <-done:
			return stdout.String(), stderr.String(), err
		}
	}
}

func (r *PodmanRunner) ensureImage(image string) error {
	exists, err := images.Exists(r.ctx, image, nil)
	if err != nil {
		return rerrors.Wrap(err, rerrors.KindBuildInvocation, "failed to check image %s", image)
	}
	if exists {
		return nil
	}

	slog.Info("Pulling build image", slog.String("image", image))
	if _, err := images.Pull(r.ctx, image, nil); err != nil {
		return rerrors.Wrap(err, rerrors.KindBuildInvocation, "failed to pull image %s", image)
	}
	return nil
}
