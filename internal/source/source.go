// Package source implements the two ways build inputs reach the build
// container: cloning inside the container (git_clone) or staging them
// through the GitLab API beforehand (gitlab_api).
package source

import (
	"context"
	"fmt"

	"github.com/asgardahost/rpmbuilder/internal/container"
	"github.com/asgardahost/rpmbuilder/internal/models"
	"github.com/asgardahost/rpmbuilder/internal/workspace"
)

// Fixed paths inside the build container.
const (
	ContainerHome       = "/home/rpmbuilder"
	ContainerWorkDir    = ContainerHome + "/work"
	SSHKeyTarget        = ContainerHome + "/rpmbuilder.rsa"
	TokenFileTarget     = ContainerHome + "/gitlab_config.txt"
	BuildDepsRepoTarget = "/etc/yum.repos.d/build-deps.repo"
)

// Target is the outcome of Resolve: where the sources come from.
type Target struct {
	// SourceArg is the first positional argument of the build container:
	// the clone URL or the GitLab repository API endpoint.
	SourceArg string
	// ProjectID is the GitLab project, zero for git_clone.
	ProjectID int
	// Warnings are non-fatal findings about the inputs.
	Warnings []string

	client GitLab
}

// Inputs is what Acquire staged for the build container.
type Inputs struct {
	SourceArg string
	ProjectID int
	Mounts    []container.Mount
}

// Strategy acquires build inputs for one source method.
type Strategy interface {
	Method() models.SourceMethod
	// Resolve performs the lookups that must succeed before anything is
	// written to disk.
	Resolve(ctx context.Context, req *models.BuildRequest) (*Target, error)
	// Acquire populates a scaffolded workspace.
	Acquire(ctx context.Context, req *models.BuildRequest, target *Target, ws *workspace.Workspace) (*Inputs, error)
}

// Set maps each source method to its strategy.
type Set map[models.SourceMethod]Strategy

// NewSet registers the given strategies by method.
func NewSet(strategies ...Strategy) Set {
	set := make(Set, len(strategies))
	for _, s := range strategies {
		set[s.Method()] = s
	}
	return set
}

// For returns the strategy of method.
func (s Set) For(method models.SourceMethod) (Strategy, error) {
	strategy, ok := s[method]
	if !ok {
		return nil, fmt.Errorf("no source strategy registered for %q", method)
	}
	return strategy, nil
}
