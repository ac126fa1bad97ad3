package errors

import (
	stderrors "errors"
)

// Process exit codes of the rpmbuilder CLI.
const (
	ExitSuccess             = 0
	ExitUsage               = 2
	ExitConfigUnavailable   = 3
	ExitGitLabSearch        = 4
	ExitGitLabDownload      = 5
	ExitProjectNotFound     = 6
	ExitArtifactFetch       = 7
	ExitUnknownSourceMethod = 9
	ExitMissingTokenFile    = 10
	ExitMissingCloneInputs  = 11
	ExitArchiveExtraction   = 12
	ExitWorkspace           = 13
	ExitBuildInvocation     = 14
	ExitBuildFailed         = 20
	ExitInternal            = 1
)

// ExitCode maps an error returned by a build run to the process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var be *BuildError
	if !stderrors.As(err, &be) {
		return ExitInternal
	}
	if be.Code != 0 {
		return be.Code
	}

	switch be.Kind {
	case KindConfiguration:
		return ExitUsage
	case KindUnknownSourceMethod:
		return ExitUnknownSourceMethod
	case KindConfigUnavailable:
		return ExitConfigUnavailable
	case KindGitLabUnreachable:
		if be.Artifact != "" {
			return ExitGitLabDownload
		}
		return ExitGitLabSearch
	case KindProjectNotFound:
		return ExitProjectNotFound
	case KindArtifactFetchFailed:
		return ExitArtifactFetch
	case KindArchiveExtraction:
		return ExitArchiveExtraction
	case KindWorkspace:
		return ExitWorkspace
	case KindBuildInvocation:
		return ExitBuildInvocation
	case KindBuildFailed:
		return ExitBuildFailed
	default:
		return ExitInternal
	}
}
