// Package gitlab is a minimal GitLab REST client for staging build inputs:
// project lookup by name, raw repository files and source archives.
package gitlab

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	rerrors "github.com/asgardahost/rpmbuilder/internal/errors"
	"github.com/asgardahost/rpmbuilder/internal/logfields"
)

// Project is the subset of a GitLab project the builder uses.
type Project struct {
	ID                int    `json:"id"`
	Name              string `json:"name"`
	Path              string `json:"path"`
	PathWithNamespace string `json:"path_with_namespace"`
	DefaultBranch     string `json:"default_branch"`
}

// Client performs authenticated reads against one GitLab instance.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
}

// NewClient creates a client for the GitLab instance at baseURL. A zero
// timeout leaves requests unbounded.
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
	}
}

// RepositoryEndpoint is the repository API root handed to the build
// container for a project.
func (c *Client) RepositoryEndpoint(projectID int) string {
	return fmt.Sprintf("%s/api/v4/projects/%d/repository", c.baseURL, projectID)
}

// ResolveProject searches projects by name and returns the first match.
func (c *Client) ResolveProject(ctx context.Context, name string) (*Project, error) {
	endpoint := c.baseURL + "/api/v4/projects/?search=" + url.QueryEscape(name)

	resp, err := c.get(ctx, endpoint)
	if err != nil {
		return nil, rerrors.GitLabUnreachable(err, "", "problem accessing %s/api/v4/projects", c.baseURL)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, rerrors.ProjectNotFound("project search for %q answered %s: %s", name, resp.Status, limitedBody(resp.Body)).
			WithContext("status", resp.StatusCode)
	}

	var projects []Project
	if err := json.NewDecoder(resp.Body).Decode(&projects); err != nil {
		return nil, rerrors.GitLabUnreachable(err, "", "failed to decode project search response")
	}
	if len(projects) == 0 {
		return nil, rerrors.ProjectNotFound("no project matches %q on %s", name, c.baseURL)
	}

	slog.Debug("Repo information retrieved", logfields.Repository(name), logfields.ProjectID(projects[0].ID))
	return &projects[0], nil
}

// FetchRawFile streams the file at pathInRepo on ref to dest.
func (c *Client) FetchRawFile(ctx context.Context, projectID int, pathInRepo, ref, dest string, kind rerrors.ArtifactKind) error {
	endpoint := fmt.Sprintf("%s/api/v4/projects/%d/repository/files/%s/raw?ref=%s",
		c.baseURL, projectID, url.PathEscape(pathInRepo), url.QueryEscape(ref))
	return c.download(ctx, endpoint, dest, kind)
}

// FetchArchive streams the zip source archive of ref to dest.
func (c *Client) FetchArchive(ctx context.Context, projectID int, ref, dest string) error {
	endpoint := fmt.Sprintf("%s/api/v4/projects/%d/repository/archive.zip?sha=%s",
		c.baseURL, projectID, url.QueryEscape(ref))
	return c.download(ctx, endpoint, dest, rerrors.ArtifactArchive)
}

func (c *Client) download(ctx context.Context, endpoint, dest string, kind rerrors.ArtifactKind) error {
	resp, err := c.get(ctx, endpoint)
	if err != nil {
		return rerrors.GitLabUnreachable(err, kind, "problem accessing %s", redact(endpoint))
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return rerrors.ArtifactFetchFailed(kind, "could not download %s: %s", redact(endpoint), resp.Status).
			WithContext("status", resp.StatusCode)
	}

	out, err := os.Create(dest)
	if err != nil {
		return rerrors.Wrap(err, rerrors.KindWorkspace, "failed to create %s", dest)
	}

	n, err := io.Copy(out, resp.Body)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return rerrors.GitLabUnreachable(err, kind, "download of %s interrupted after %d bytes", dest, n)
	}

	slog.Debug("Downloaded artifact", slog.String("artifact", string(kind)), logfields.Path(dest), slog.Int64("bytes", n))
	return nil
}

func (c *Client) get(ctx context.Context, endpoint string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Private-Token", c.token)
	req.Header.Set("User-Agent", "rpmbuilder/1.0")

	return c.httpClient.Do(req)
}

// limitedBody reads a short diagnostic excerpt of an error response.
func limitedBody(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 512))
	return strings.TrimSpace(strings.ReplaceAll(string(b), "\n", " "))
}

// redact drops the query string so refs do not clutter error messages.
func redact(endpoint string) string {
	if i := strings.IndexByte(endpoint, '?'); i >= 0 {
		return endpoint[:i]
	}
	return endpoint
}
