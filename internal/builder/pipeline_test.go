package builder

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/asgardahost/rpmbuilder/internal/config"
	"github.com/asgardahost/rpmbuilder/internal/container"
	rerrors "github.com/asgardahost/rpmbuilder/internal/errors"
	"github.com/asgardahost/rpmbuilder/internal/metrics"
	"github.com/asgardahost/rpmbuilder/internal/models"
	"github.com/asgardahost/rpmbuilder/internal/source"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

type fakeSettings struct {
	root      string
	token     string
	rootErr   error
	rootCalls int
}

func (f *fakeSettings) RootDir() (string, error) {
	f.rootCalls++
	if f.rootErr != nil {
		return "", f.rootErr
	}
	return f.root, nil
}

func (f *fakeSettings) Token() (string, error) {
	if f.token == "" {
		return "", rerrors.ConfigUnavailable(nil, "credentials.token is not set")
	}
	return f.token, nil
}

func (f *fakeSettings) Passphrase() (string, error) { return "", nil }

type fakeRunner struct {
	outcome models.BuildOutcome
	err     error
	calls   []container.RunOptions
}

func (f *fakeRunner) Run(_ context.Context, opts container.RunOptions) (models.BuildOutcome, error) {
	f.calls = append(f.calls, opts)
	return f.outcome, f.err
}

type fakeHistory struct {
	created  []*models.BuildRecord
	finished []models.BuildRecord
}

func (f *fakeHistory) CreateBuildRecord(rec *models.BuildRecord) error {
	for _, c := range f.created {
		if c.Workspace == rec.Workspace {
			return errors.New("UNIQUE constraint failed: build_records.workspace")
		}
	}
	rec.ID = int64(len(f.created) + 1)
	f.created = append(f.created, rec)
	return nil
}

func (f *fakeHistory) FinishBuildRecord(rec *models.BuildRecord) error {
	f.finished = append(f.finished, *rec)
	return nil
}

type fakeRecorder struct {
	metrics.NoopRecorder
	outcomes []string
	failed   []string
}

func (f *fakeRecorder) IncBuildOutcome(method, outcome string) {
	f.outcomes = append(f.outcomes, method+"/"+outcome)
}

func (f *fakeRecorder) IncStageResult(stage string, result metrics.ResultLabel) {
	if result == metrics.ResultFatal {
		f.failed = append(f.failed, stage)
	}
}

func sourceZip(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range []string{"demo-main-abc123/", "demo-main-abc123/demo.c"} {
		w, err := zw.Create(name)
		require.NoError(t, err)
		if name == "demo-main-abc123/demo.c" {
			_, err = w.Write([]byte("int main(void) { return 0; }\n"))
			require.NoError(t, err)
		}
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

// newGitLab fakes a GitLab instance serving project 42 named demo.
func newGitLab(t *testing.T, projects string) *httptest.Server {
	t.Helper()
	archive := sourceZip(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.EscapedPath() {
		case "/api/v4/projects/":
			_, _ = w.Write([]byte(projects))
		case "/api/v4/projects/42/repository/files/SPEC%2Fdemo.spec/raw":
			_, _ = w.Write([]byte("Name: demo\n"))
		case "/api/v4/projects/42/repository/files/BUILD_DEPS_REPO%2Fbuild-deps.repo/raw":
			_, _ = w.Write([]byte("[build-deps]\n"))
		case "/api/v4/projects/42/repository/archive.zip":
			_, _ = w.Write(archive)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func gitlabRequest(url string) *models.BuildRequest {
	return &models.BuildRequest{
		SourceMethod:        models.SourceGitlabAPI,
		GitlabURL:           url,
		RepositoryName:      "demo",
		Branch:              "main",
		ReleaseVersion:      "1",
		PackageVersion:      "1700000000",
		BuildContainerImage: "registry.example.com/rpmbuild:el9",
		CurrentTime:         "1700000000",
		TokenFilePath:       "/etc/rpmbuilder/gitlab_token.txt",
	}
}

func newPipeline(settings *fakeSettings, runner container.Runner, opts ...Option) *Pipeline {
	sources := source.NewSet(
		source.NewGitClone(),
		source.NewGitlabAPI(settings, source.HTTPClientFactory(5*time.Second)),
	)
	return NewPipeline(settings, sources, runner, opts...)
}

func TestPipelineGitlabAPI(t *testing.T) {
	srv := newGitLab(t, `[{"id":42,"name":"demo"}]`)
	settings := &fakeSettings{root: t.TempDir(), token: "glpat"}
	runner := &fakeRunner{outcome: models.BuildOutcome{ExitCode: 0, Message: "Wrote: demo-1700000000-1.el9.x86_64.rpm"}}
	history := &fakeHistory{}
	recorder := &fakeRecorder{}

	report, err := newPipeline(settings, runner, WithHistory(history), WithRecorder(recorder)).
		Run(context.Background(), gitlabRequest(srv.URL))
	require.NoError(t, err)

	wsPath := filepath.Join(settings.root, "demo-main-1700000000")
	assert.Equal(t, "demo-main-1700000000", report.Workspace)
	assert.Equal(t, wsPath, report.WorkspacePath)
	assert.Equal(t, 42, report.ProjectID)
	assert.Equal(t, StageReport, report.Stage)
	assert.Zero(t, report.ExitCode)

	for _, p := range []string{"demo.spec", "build-deps.repo", "demo/demo.c", "rpmbuild/SOURCES"} {
		assert.FileExists(t, filepath.Join(wsPath, p))
	}
	assert.NoFileExists(t, filepath.Join(settings.root, "demo-main-1700000000.zip"))
	assert.Empty(t, report.Warnings)

	require.Len(t, runner.calls, 1)
	opts := runner.calls[0]
	assert.Equal(t, "demo-main-1700000000", opts.Name)
	assert.Equal(t, DefaultContainerUser, opts.User)
	assert.True(t, opts.Interactive)
	assert.Equal(t, []container.Mount{{Source: wsPath, Target: "/home/rpmbuilder/work"}}, opts.Volumes)
	assert.Equal(t, []string{
		srv.URL + "/api/v4/projects/42/repository", "main", "1700000000", "gitlab_api", "demo.spec", "1",
	}, opts.Args)
	assert.Equal(t, opts.Args, report.ContainerArgs)

	require.Len(t, history.finished, 1)
	assert.Equal(t, models.BuildStatusSucceeded, history.finished[0].Status)
	assert.Equal(t, 42, history.finished[0].ProjectID)
	assert.Equal(t, []string{"gitlab_api/succeeded"}, recorder.outcomes)
}

func gitCloneRequest(t *testing.T) *models.BuildRequest {
	t.Helper()
	dir := t.TempDir()
	write := func(name string) string {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte(name), 0o600))
		return p
	}
	return &models.BuildRequest{
		SourceMethod:        models.SourceGitClone,
		GitlabURL:           "git@gitlab.example.com:rpm/demo.git",
		RepositoryName:      "demo",
		Branch:              "main",
		ReleaseVersion:      "1",
		PackageVersion:      "1700000000",
		BuildContainerImage: "img",
		CurrentTime:         "1700000000",
		SSHKeyPath:          write("id_rsa"),
		SpecFilePath:        write("demo.spec"),
		BuildDepsRepoPath:   write("build-deps.repo"),
	}
}

func TestPipelineContainerFailure(t *testing.T) {
	settings := &fakeSettings{root: t.TempDir()}
	runner := &fakeRunner{outcome: models.BuildOutcome{ExitCode: 137, Message: "error: Failed build dependencies"}}
	history := &fakeHistory{}
	recorder := &fakeRecorder{}

	report, err := newPipeline(settings, runner, WithHistory(history), WithRecorder(recorder)).
		Run(context.Background(), gitCloneRequest(t))
	require.Error(t, err)
	assert.True(t, rerrors.IsKind(err, rerrors.KindBuildFailed))
	assert.Equal(t, rerrors.ExitBuildFailed, rerrors.ExitCode(err))

	require.NotNil(t, report.Outcome)
	assert.Equal(t, 137, report.Outcome.ExitCode)
	assert.Equal(t, "error: Failed build dependencies", report.Outcome.Message)
	assert.Equal(t, rerrors.ExitBuildFailed, report.ExitCode)
	require.Len(t, report.Warnings, 1, "the placeholder ssh key does not parse")
	assert.Contains(t, report.Warnings[0], "could not be loaded without a passphrase")
	assert.DirExists(t, filepath.Join(settings.root, "demo-main-1700000000", "rpmbuild", "SOURCES"), "workspace is retained")

	require.Len(t, runner.calls, 1)
	assert.Equal(t, "git@gitlab.example.com:rpm/demo.git", runner.calls[0].Args[0])
	assert.Len(t, runner.calls[0].Mounts, 3)

	require.Len(t, history.finished, 1)
	assert.Equal(t, models.BuildStatusFailed, history.finished[0].Status)
	require.NotNil(t, history.finished[0].ExitCode)
	assert.Equal(t, 137, *history.finished[0].ExitCode)
	assert.Equal(t, []string{"git_clone/failed"}, recorder.outcomes)
}

func TestPipelineProjectNotFoundWritesNothing(t *testing.T) {
	srv := newGitLab(t, `[]`)
	settings := &fakeSettings{root: t.TempDir(), token: "glpat"}
	runner := &fakeRunner{}
	history := &fakeHistory{}
	recorder := &fakeRecorder{}

	report, err := newPipeline(settings, runner, WithHistory(history), WithRecorder(recorder)).
		Run(context.Background(), gitlabRequest(srv.URL))
	require.Error(t, err)
	assert.Equal(t, rerrors.ExitProjectNotFound, rerrors.ExitCode(err))
	assert.Equal(t, StageResolveSource, report.Stage)
	assert.Empty(t, runner.calls)
	assert.Equal(t, []string{string(StageResolveSource)}, recorder.failed)
	assert.Empty(t, history.created, "no history row without a workspace")

	entries, err := os.ReadDir(settings.root)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestPipelineRetryAfterProjectNotFoundIsRecorded(t *testing.T) {
	settings := &fakeSettings{root: t.TempDir(), token: "glpat"}
	history := &fakeHistory{}

	missing := newGitLab(t, `[]`)
	_, err := newPipeline(settings, &fakeRunner{}, WithHistory(history)).
		Run(context.Background(), gitlabRequest(missing.URL))
	require.Error(t, err)

	found := newGitLab(t, `[{"id":42,"name":"demo"}]`)
	_, err = newPipeline(settings, &fakeRunner{}, WithHistory(history)).
		Run(context.Background(), gitlabRequest(found.URL))
	require.NoError(t, err)

	require.Len(t, history.created, 1)
	assert.Equal(t, "demo-main-1700000000", history.created[0].Workspace)
	require.Len(t, history.finished, 1)
	assert.Equal(t, models.BuildStatusSucceeded, history.finished[0].Status)
}

func TestPipelineExistingWorkspace(t *testing.T) {
	settings := &fakeSettings{root: t.TempDir()}
	require.NoError(t, os.Mkdir(filepath.Join(settings.root, "demo-main-1700000000"), 0o755))
	runner := &fakeRunner{}
	history := &fakeHistory{}

	report, err := newPipeline(settings, runner, WithHistory(history)).Run(context.Background(), gitCloneRequest(t))
	require.Error(t, err)
	assert.Equal(t, rerrors.ExitWorkspace, rerrors.ExitCode(err))
	assert.Equal(t, StageScaffold, report.Stage)
	assert.Empty(t, runner.calls)
	assert.Empty(t, history.created, "the run that owns the workspace keeps its record")
}

func TestPipelineValidationBeforeIO(t *testing.T) {
	settings := &fakeSettings{root: t.TempDir()}
	req := gitlabRequest("https://gitlab.example.com")
	req.TokenFilePath = ""

	_, err := newPipeline(settings, &fakeRunner{}).Run(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, rerrors.ExitMissingTokenFile, rerrors.ExitCode(err))
	assert.Zero(t, settings.rootCalls, "settings are not read for an invalid request")
}

func TestPipelineRootDirUnavailable(t *testing.T) {
	settings := &fakeSettings{rootErr: rerrors.ConfigUnavailable(nil, "general.rootdir is not set")}

	report, err := newPipeline(settings, &fakeRunner{}).Run(context.Background(), gitCloneRequest(t))
	require.Error(t, err)
	assert.Equal(t, rerrors.ExitConfigUnavailable, rerrors.ExitCode(err))
	assert.Empty(t, report.Workspace)
}

func TestPipelineInvocationFailure(t *testing.T) {
	settings := &fakeSettings{root: t.TempDir()}
	runner := &fakeRunner{
		outcome: models.BuildOutcome{ExitCode: -1, Message: container.GenericErrorMessage},
		err:     rerrors.Wrap(errors.New("exec: \"docker\": executable file not found in $PATH"), rerrors.KindBuildInvocation, "failed to start docker"),
	}

	report, err := newPipeline(settings, runner, WithContainerUser("1000:1000")).Run(context.Background(), gitCloneRequest(t))
	require.Error(t, err)
	assert.Equal(t, rerrors.ExitBuildInvocation, rerrors.ExitCode(err))
	require.NotNil(t, report.Outcome)
	assert.Equal(t, -1, report.Outcome.ExitCode)
	assert.Equal(t, "Generic error.", report.Outcome.Message)
	assert.Equal(t, "1000:1000", runner.calls[0].User)
}

func TestReportWriteYAML(t *testing.T) {
	settings := &fakeSettings{root: t.TempDir()}
	runner := &fakeRunner{outcome: models.BuildOutcome{ExitCode: 137, Message: "boom"}}
	clock := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	report, _ := newPipeline(settings, runner, WithClock(func() time.Time { return clock })).
		Run(context.Background(), gitCloneRequest(t))

	path := filepath.Join(t.TempDir(), "reports", "build.yaml")
	require.NoError(t, report.WriteYAML(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, yaml.Unmarshal(data, &decoded))
	assert.Equal(t, "demo-main-1700000000", decoded["workspace"])
	assert.Equal(t, rerrors.ExitBuildFailed, decoded["exit_code"])
	assert.Equal(t, "0s", decoded["duration"])
	outcome, ok := decoded["outcome"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 137, outcome["exit_code"])
	warnings, ok := decoded["warnings"].([]any)
	require.True(t, ok)
	assert.Len(t, warnings, 1)
}

func TestNewRunner(t *testing.T) {
	r, err := NewRunner(config.BuilderConfig{ContainerRuntime: "podman"})
	require.NoError(t, err)
	cli, ok := r.(*container.CLIRunner)
	require.True(t, ok)
	assert.Equal(t, "podman", cli.Command(container.RunOptions{Image: "img"})[0])

	_, err = NewRunner(config.BuilderConfig{ContainerRuntime: "lxc"})
	assert.Error(t, err)
}
