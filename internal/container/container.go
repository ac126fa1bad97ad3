package container

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	rerrors "github.com/asgardahost/rpmbuilder/internal/errors"
	"github.com/asgardahost/rpmbuilder/internal/logfields"
	"github.com/asgardahost/rpmbuilder/internal/models"
)

// GenericErrorMessage is reported when the container could not be run at all.
const GenericErrorMessage = "Generic error."

// runtimeErrorExitCode is what docker and podman return when `run` itself
// fails (unknown image, daemon unreachable) before the container starts.
const runtimeErrorExitCode = 125

// Runner launches a build container and waits for it to finish.
type Runner interface {
	Run(ctx context.Context, opts RunOptions) (models.BuildOutcome, error)
}

// RunOptions holds options for running a build container
type RunOptions struct {
	Image       string
	Name        string
	User        string
	Interactive bool
	Remove      bool     // Remove container after exit
	Mounts      []Mount  // bind mounts of single files
	Volumes     []Mount  // directory volumes
	Args        []string // positional arguments for the image entrypoint
}

// Mount represents a bind mount or volume
type Mount struct {
	Source   string
	Target   string
	ReadOnly bool
}

// CLIRunner runs containers through the docker or podman command line.
type CLIRunner struct {
	runtime string // "docker" or "podman", or a path to either
}

// NewCLIRunner creates a runner that shells out to runtime.
func NewCLIRunner(runtime string) *CLIRunner {
	return &CLIRunner{
		runtime: runtime,
	}
}

// Command returns the full command line Run would execute.
func (r *CLIRunner) Command(opts RunOptions) []string {
	return append([]string{r.runtime}, r.args(opts)...)
}

func (r *CLIRunner) args(opts RunOptions) []string {
	args := []string{"run"}

	if opts.Interactive {
		args = append(args, "-i")
	}

	if opts.Remove {
		args = append(args, "--rm")
	}

	if opts.Name != "" {
		args = append(args, "--name", opts.Name)
	}

	if opts.User != "" {
		args = append(args, "--user", opts.User)
	}

	// Add bind mounts
	for _, m := range opts.Mounts {
		mountStr := fmt.Sprintf("type=bind,source=%s,target=%s", m.Source, m.Target)
		if m.ReadOnly {
			mountStr += ",readonly"
		}
		args = append(args, "--mount", mountStr)
	}

	// Add volumes
	for _, v := range opts.Volumes {
		volStr := fmt.Sprintf("%s:%s", v.Source, v.Target)
		if v.ReadOnly {
			volStr += ":ro"
		}
		args = append(args, "-v", volStr)
	}

	args = append(args, opts.Image)
	return append(args, opts.Args...)
}

// Run executes the container and blocks until it exits. A non-zero container
// exit is returned as an outcome, not an error; the error is reserved for a
// container that could not be run at all.
func (r *CLIRunner) Run(ctx context.Context, opts RunOptions) (models.BuildOutcome, error) {
	args := r.args(opts)
	slog.Info("Executing command", slog.String("command", strings.Join(append([]string{r.runtime}, args...), " ")))

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, r.runtime, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return models.BuildOutcome{ExitCode: 0, Message: strings.TrimSpace(stdout.String())}, nil
	}

	var exitErr *exec.ExitError
	if stderrors.As(err, &exitErr) && exitErr.ExitCode() >= 0 {
		code := exitErr.ExitCode()
		msg := strings.TrimSpace(stderr.String())
		if code == runtimeErrorExitCode {
			slog.Error("Container runtime refused to start the build", logfields.ExitCode(code), logfields.Error(err))
			return models.BuildOutcome{ExitCode: -1, Message: GenericErrorMessage},
				rerrors.Wrap(err, rerrors.KindBuildInvocation, "%s run failed: %s", r.runtime, msg)
		}
		return models.BuildOutcome{ExitCode: code, Message: msg}, nil
	}

	return models.BuildOutcome{ExitCode: -1, Message: GenericErrorMessage},
		rerrors.Wrap(err, rerrors.KindBuildInvocation, "failed to start %s", r.runtime)
}
