// Package errors provides the typed failure taxonomy of a build run and its
// mapping to process exit codes.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Kind classifies a build failure.
type Kind string

const (
	KindConfiguration       Kind = "configuration"
	KindUnknownSourceMethod Kind = "unknown_source_method"
	KindConfigUnavailable   Kind = "config_unavailable"
	KindGitLabUnreachable   Kind = "gitlab_unreachable"
	KindProjectNotFound     Kind = "project_not_found"
	KindArtifactFetchFailed Kind = "artifact_fetch_failed"
	KindArchiveExtraction   Kind = "archive_extraction_failed"
	KindWorkspace           Kind = "workspace"
	KindBuildInvocation     Kind = "build_invocation_failed"
	KindBuildFailed         Kind = "build_failed"
)

// ArtifactKind names the GitLab artifact a download failure refers to.
type ArtifactKind string

const (
	ArtifactSpec          ArtifactKind = "spec"
	ArtifactBuildDepsRepo ArtifactKind = "build_deps_repo"
	ArtifactArchive       ArtifactKind = "archive"
)

// ContextFields carries structured context for a BuildError.
type ContextFields map[string]any

// BuildError is the error type returned by every stage of a build run.
type BuildError struct {
	Kind     Kind
	Message  string
	Cause    error
	Artifact ArtifactKind
	Context  ContextFields

	// Code overrides the exit code derived from Kind when non-zero.
	Code int
}

// Error implements the error interface
func (e *BuildError) Error() string {
	kind := string(e.Kind)
	if e.Artifact != "" {
		kind = fmt.Sprintf("%s{%s}", e.Kind, e.Artifact)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", kind, e.Message)
}

// Unwrap returns the underlying cause.
func (e *BuildError) Unwrap() error {
	return e.Cause
}

// WithContext adds a context field and returns the error for chaining.
func (e *BuildError) WithContext(key string, value any) *BuildError {
	if e.Context == nil {
		e.Context = make(ContextFields)
	}
	e.Context[key] = value
	return e
}

// WithExitCode pins the process exit code for this error.
func (e *BuildError) WithExitCode(code int) *BuildError {
	e.Code = code
	return e
}

// New creates a BuildError of the given kind.
func New(kind Kind, format string, args ...any) *BuildError {
	return &BuildError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a BuildError of the given kind around cause.
func Wrap(cause error, kind Kind, format string, args ...any) *BuildError {
	return &BuildError{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// Configuration reports invalid or missing command-line input.
func Configuration(format string, args ...any) *BuildError {
	return New(KindConfiguration, format, args...)
}

// ConfigUnavailable reports an unreadable settings store or missing key.
func ConfigUnavailable(cause error, format string, args ...any) *BuildError {
	return Wrap(cause, KindConfigUnavailable, format, args...)
}

// GitLabUnreachable reports a transport-level failure talking to GitLab.
// A non-empty artifact marks failures during artifact downloads.
func GitLabUnreachable(cause error, artifact ArtifactKind, format string, args ...any) *BuildError {
	e := Wrap(cause, KindGitLabUnreachable, format, args...)
	e.Artifact = artifact
	return e
}

// ProjectNotFound reports a failed or empty project search.
func ProjectNotFound(format string, args ...any) *BuildError {
	return New(KindProjectNotFound, format, args...)
}

// ArtifactFetchFailed reports a non-200 answer for a repository artifact.
func ArtifactFetchFailed(artifact ArtifactKind, format string, args ...any) *BuildError {
	e := New(KindArtifactFetchFailed, format, args...)
	e.Artifact = artifact
	return e
}

// ArchiveExtractionFailed reports a corrupt or unexpected source archive.
func ArchiveExtractionFailed(cause error, format string, args ...any) *BuildError {
	return Wrap(cause, KindArchiveExtraction, format, args...)
}

// KindOf returns the kind of the first BuildError in err's chain, or "".
func KindOf(err error) Kind {
	var be *BuildError
	if stderrors.As(err, &be) {
		return be.Kind
	}
	return ""
}

// IsKind reports whether err carries a BuildError of the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// ArtifactOf returns the artifact of an artifact_fetch_failed error, or "".
func ArtifactOf(err error) ArtifactKind {
	var be *BuildError
	if stderrors.As(err, &be) {
		return be.Artifact
	}
	return ""
}
