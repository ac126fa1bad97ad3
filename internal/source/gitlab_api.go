package source

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/asgardahost/rpmbuilder/internal/archive"
	"github.com/asgardahost/rpmbuilder/internal/config"
	"github.com/asgardahost/rpmbuilder/internal/container"
	rerrors "github.com/asgardahost/rpmbuilder/internal/errors"
	"github.com/asgardahost/rpmbuilder/internal/gitlab"
	"github.com/asgardahost/rpmbuilder/internal/logfields"
	"github.com/asgardahost/rpmbuilder/internal/models"
	"github.com/asgardahost/rpmbuilder/internal/workspace"
)

// Repository paths of the staged artifacts.
const (
	SpecDir           = "SPEC"
	BuildDepsRepoPath = "BUILD_DEPS_REPO/build-deps.repo"
)

// GitLab is the part of the GitLab client the gitlab_api strategy uses.
type GitLab interface {
	ResolveProject(ctx context.Context, name string) (*gitlab.Project, error)
	FetchRawFile(ctx context.Context, projectID int, pathInRepo, ref, dest string, kind rerrors.ArtifactKind) error
	FetchArchive(ctx context.Context, projectID int, ref, dest string) error
	RepositoryEndpoint(projectID int) string
}

// ClientFactory creates a GitLab client for an instance URL and token.
type ClientFactory func(baseURL, token string) GitLab

// HTTPClientFactory returns a factory for real GitLab clients.
func HTTPClientFactory(timeout time.Duration) ClientFactory {
	return func(baseURL, token string) GitLab {
		return gitlab.NewClient(baseURL, token, timeout)
	}
}

// GitlabAPI stages spec file, deps repo file and extracted sources in the
// workspace so the container needs no repository access of its own.
type GitlabAPI struct {
	settings  config.Provider
	newClient ClientFactory
}

// NewGitlabAPI creates the gitlab_api strategy. The API token is read from
// settings on each Resolve.
func NewGitlabAPI(settings config.Provider, newClient ClientFactory) *GitlabAPI {
	return &GitlabAPI{settings: settings, newClient: newClient}
}

func (g *GitlabAPI) Method() models.SourceMethod { return models.SourceGitlabAPI }

// Resolve reads the API token and looks up the project id by name.
func (g *GitlabAPI) Resolve(ctx context.Context, req *models.BuildRequest) (*Target, error) {
	token, err := g.settings.Token()
	if err != nil {
		return nil, err
	}

	client := g.newClient(req.GitlabURL, token)
	project, err := client.ResolveProject(ctx, req.RepositoryName)
	if err != nil {
		return nil, err
	}
	slog.Info("Repo information retrieved", logfields.Repository(req.RepositoryName), logfields.ProjectID(project.ID))

	return &Target{
		SourceArg: client.RepositoryEndpoint(project.ID),
		ProjectID: project.ID,
		client:    client,
	}, nil
}

// Acquire downloads spec, deps repo and archive, then unpacks the archive as
// {workspace}/{repository}.
func (g *GitlabAPI) Acquire(ctx context.Context, req *models.BuildRequest, target *Target, ws *workspace.Workspace) (*Inputs, error) {
	client := target.client
	if client == nil {
		return nil, rerrors.New(rerrors.KindConfiguration, "gitlab_api target was not resolved")
	}
	repo := req.RepositoryName

	specPath := SpecDir + "/" + req.SpecFileName()
	if err := client.FetchRawFile(ctx, target.ProjectID, specPath, req.Branch, ws.SpecPath(repo), rerrors.ArtifactSpec); err != nil {
		return nil, err
	}
	slog.Info("Downloaded SPEC file", logfields.Path(ws.SpecPath(repo)))

	if err := client.FetchRawFile(ctx, target.ProjectID, BuildDepsRepoPath, req.Branch, ws.BuildDepsRepoPath(), rerrors.ArtifactBuildDepsRepo); err != nil {
		return nil, err
	}
	slog.Info("Downloaded repo file for building deps", logfields.Path(ws.BuildDepsRepoPath()))

	if err := client.FetchArchive(ctx, target.ProjectID, req.Branch, ws.ArchivePath()); err != nil {
		return nil, err
	}
	slog.Info("Downloaded source archive", logfields.Path(ws.ArchivePath()))

	if err := archive.ExtractAs(ws.ArchivePath(), ws.SourceTreePath(repo)); err != nil {
		return nil, rerrors.ArchiveExtractionFailed(err, "failed to extract downloaded archive %s", ws.ArchivePath())
	}
	if err := os.Remove(ws.ArchivePath()); err != nil {
		slog.Warn("Failed to remove source archive", logfields.Path(ws.ArchivePath()), logfields.Error(err))
	}

	return &Inputs{
		SourceArg: target.SourceArg,
		ProjectID: target.ProjectID,
		Mounts: []container.Mount{
			{Source: req.TokenFilePath, Target: TokenFileTarget},
			{Source: ws.BuildDepsRepoPath(), Target: BuildDepsRepoTarget},
		},
	}, nil
}
