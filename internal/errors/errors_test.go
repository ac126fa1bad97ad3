package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitSuccess},
		{"plain error", stderrors.New("boom"), ExitInternal},
		{"configuration", Configuration("missing flag"), ExitUsage},
		{"missing token file", Configuration("missing token").WithExitCode(ExitMissingTokenFile), ExitMissingTokenFile},
		{"unknown method", New(KindUnknownSourceMethod, "svn"), ExitUnknownSourceMethod},
		{"config unavailable", ConfigUnavailable(nil, "no rootdir"), ExitConfigUnavailable},
		{"search unreachable", GitLabUnreachable(stderrors.New("dial"), "", "search"), ExitGitLabSearch},
		{"download unreachable", GitLabUnreachable(stderrors.New("dial"), ArtifactArchive, "archive"), ExitGitLabDownload},
		{"project not found", ProjectNotFound("demo"), ExitProjectNotFound},
		{"artifact", ArtifactFetchFailed(ArtifactSpec, "404"), ExitArtifactFetch},
		{"archive", ArchiveExtractionFailed(nil, "corrupt"), ExitArchiveExtraction},
		{"workspace", New(KindWorkspace, "exists"), ExitWorkspace},
		{"invocation", New(KindBuildInvocation, "no docker"), ExitBuildInvocation},
		{"build failed", New(KindBuildFailed, "137"), ExitBuildFailed},
		{"wrapped", fmt.Errorf("stage: %w", ProjectNotFound("demo")), ExitProjectNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCode(tt.err))
		})
	}
}

func TestArchiveAndMissingFlagCodesDiffer(t *testing.T) {
	assert.NotEqual(t, ExitCode(ArchiveExtractionFailed(nil, "x")), ExitMissingTokenFile)
	assert.NotEqual(t, ExitCode(ArchiveExtractionFailed(nil, "x")), ExitMissingCloneInputs)
}

func TestKindOfThroughWrapping(t *testing.T) {
	cause := stderrors.New("unexpected EOF")
	err := fmt.Errorf("acquire: %w", ArchiveExtractionFailed(cause, "demo.zip"))

	assert.Equal(t, KindArchiveExtraction, KindOf(err))
	assert.True(t, IsKind(err, KindArchiveExtraction))
	assert.False(t, IsKind(nil, KindArchiveExtraction))
	assert.ErrorIs(t, err, cause)
}

func TestErrorString(t *testing.T) {
	err := ArtifactFetchFailed(ArtifactBuildDepsRepo, "status %d", 404)
	assert.Equal(t, "artifact_fetch_failed{build_deps_repo}: status 404", err.Error())
	assert.Equal(t, ArtifactBuildDepsRepo, ArtifactOf(err))

	wrapped := ConfigUnavailable(stderrors.New("open /etc/rpmbuilder.ini"), "settings")
	assert.Equal(t, "config_unavailable: settings: open /etc/rpmbuilder.ini", wrapped.Error())
}

func TestWithContext(t *testing.T) {
	err := ProjectNotFound("demo").WithContext("repository", "demo")
	require.NotNil(t, err.Context)
	assert.Equal(t, "demo", err.Context["repository"])
}
