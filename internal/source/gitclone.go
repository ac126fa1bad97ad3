package source

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"

	gitssh "github.com/go-git/go-git/v5/plumbing/transport/ssh"

	"github.com/asgardahost/rpmbuilder/internal/container"
	rerrors "github.com/asgardahost/rpmbuilder/internal/errors"
	"github.com/asgardahost/rpmbuilder/internal/logfields"
	"github.com/asgardahost/rpmbuilder/internal/models"
	"github.com/asgardahost/rpmbuilder/internal/workspace"
)

// GitClone leaves cloning to the build container. It performs no network
// calls; it only checks the local inputs and bind-mounts them.
type GitClone struct{}

// NewGitClone creates the git_clone strategy.
func NewGitClone() *GitClone {
	return &GitClone{}
}

func (g *GitClone) Method() models.SourceMethod { return models.SourceGitClone }

// Resolve checks that the ssh key, spec file and deps repo file exist.
func (g *GitClone) Resolve(_ context.Context, req *models.BuildRequest) (*Target, error) {
	inputs := []struct{ flag, path string }{
		{"--git_ssh_key", req.SSHKeyPath},
		{"--spec_file", req.SpecFilePath},
		{"--build_deps_repo", req.BuildDepsRepoPath},
	}
	for _, in := range inputs {
		info, err := os.Stat(in.path)
		if err != nil {
			return nil, rerrors.Wrap(err, rerrors.KindConfiguration, "%s %s is not readable", in.flag, in.path).
				WithExitCode(rerrors.ExitMissingCloneInputs)
		}
		if info.IsDir() {
			return nil, rerrors.Configuration("%s %s is a directory", in.flag, in.path).
				WithExitCode(rerrors.ExitMissingCloneInputs)
		}
	}

	target := &Target{SourceArg: req.GitlabURL}

	// The key may carry a passphrase only the container knows, so a key
	// that does not parse here is a warning, not a failure.
	if _, err := gitssh.NewPublicKeysFromFile("git", req.SSHKeyPath, ""); err != nil {
		slog.Warn("SSH key could not be loaded without a passphrase", logfields.Path(req.SSHKeyPath), logfields.Error(err))
		target.Warnings = append(target.Warnings, fmt.Sprintf("ssh key %s could not be loaded without a passphrase: %v", req.SSHKeyPath, err))
	}

	return target, nil
}

// Acquire bind-mounts the key, spec and deps repo into the container.
func (g *GitClone) Acquire(_ context.Context, req *models.BuildRequest, target *Target, _ *workspace.Workspace) (*Inputs, error) {
	return &Inputs{
		SourceArg: target.SourceArg,
		Mounts: []container.Mount{
			{Source: req.SSHKeyPath, Target: SSHKeyTarget},
			{Source: req.SpecFilePath, Target: path.Join(ContainerHome, req.SpecFileName())},
			{Source: req.BuildDepsRepoPath, Target: BuildDepsRepoTarget},
		},
	}, nil
}
