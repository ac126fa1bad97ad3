package builder

import (
	"fmt"

	"github.com/asgardahost/rpmbuilder/internal/config"
	"github.com/asgardahost/rpmbuilder/internal/container"
)

// Container runtimes selectable in the settings file.
const (
	RuntimeDocker    = "docker"
	RuntimePodman    = "podman"
	RuntimePodmanAPI = "podman-api"
)

// NewRunner returns the container runner for the configured runtime: the
// docker or podman CLI, or the Podman REST API behind the configured socket.
func NewRunner(cfg config.BuilderConfig) (container.Runner, error) {
	switch cfg.ContainerRuntime {
	case "", RuntimeDocker, RuntimePodman:
		runtime := cfg.ContainerRuntime
		if runtime == "" {
			runtime = RuntimeDocker
		}
		return container.NewCLIRunner(runtime), nil
	case RuntimePodmanAPI:
		runner, err := container.NewPodmanRunner(cfg.ContainerSocketPath)
		if err != nil {
			return nil, err
		}
		return runner, nil
	default:
		return nil, fmt.Errorf("unsupported container runtime %q", cfg.ContainerRuntime)
	}
}
