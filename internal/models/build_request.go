package models

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	rerrors "github.com/asgardahost/rpmbuilder/internal/errors"
)

// SourceMethod selects how build inputs reach the build container.
type SourceMethod string

const (
	// SourceGitClone lets the container clone the repository over ssh.
	SourceGitClone SourceMethod = "git_clone"
	// SourceGitlabAPI stages spec, deps repo and sources through the GitLab API.
	SourceGitlabAPI SourceMethod = "gitlab_api"
)

// ParseSourceMethod converts a CLI token to a SourceMethod.
func ParseSourceMethod(s string) (SourceMethod, error) {
	switch m := SourceMethod(s); m {
	case SourceGitClone, SourceGitlabAPI:
		return m, nil
	default:
		return "", rerrors.New(rerrors.KindUnknownSourceMethod,
			"unsupported source method %q, expected %q or %q", s, SourceGitClone, SourceGitlabAPI)
	}
}

// BuildRequest describes one package build
type BuildRequest struct {
	SourceMethod        SourceMethod `json:"source_method" yaml:"source_method"`
	GitlabURL           string       `json:"gitlab_url" yaml:"gitlab_url"`
	RepositoryName      string       `json:"repository_name" yaml:"repository_name"`
	Branch              string       `json:"branch" yaml:"branch"`
	ReleaseVersion      string       `json:"release_version" yaml:"release_version"`
	PackageVersion      string       `json:"package_version" yaml:"package_version"`
	BuildContainerImage string       `json:"build_container_image" yaml:"build_container_image"`
	CurrentTime         string       `json:"current_time" yaml:"current_time"`

	// git_clone inputs
	SSHKeyPath        string `json:"ssh_key_path,omitempty" yaml:"ssh_key_path,omitempty"`
	BuildDepsRepoPath string `json:"build_deps_repo_path,omitempty" yaml:"build_deps_repo_path,omitempty"`
	SpecFilePath      string `json:"spec_file_path,omitempty" yaml:"spec_file_path,omitempty"`

	// gitlab_api inputs
	TokenFilePath string `json:"token_file_path,omitempty" yaml:"token_file_path,omitempty"`
}

// Validate checks that the request carries exactly what its source method
// needs. It performs no I/O.
func (r *BuildRequest) Validate() error {
	if _, err := ParseSourceMethod(string(r.SourceMethod)); err != nil {
		return err
	}

	required := []struct{ flag, value string }{
		{"--gitlab_url", r.GitlabURL},
		{"--repository_name", r.RepositoryName},
		{"--pkg_branch", r.Branch},
		{"--release_ver", r.ReleaseVersion},
		{"--build_container_image", r.BuildContainerImage},
		{"--current_time", r.CurrentTime},
		{"--pkg_version", r.PackageVersion},
	}
	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			return rerrors.Configuration("missing required value for %s", f.flag)
		}
	}

	switch r.SourceMethod {
	case SourceGitlabAPI:
		if r.TokenFilePath == "" {
			return rerrors.Configuration("missing --curl_token_file, it is required for the %s method", SourceGitlabAPI).
				WithExitCode(rerrors.ExitMissingTokenFile)
		}
	case SourceGitClone:
		var missing []string
		if r.SSHKeyPath == "" {
			missing = append(missing, "--git_ssh_key")
		}
		if r.BuildDepsRepoPath == "" {
			missing = append(missing, "--build_deps_repo")
		}
		if r.SpecFilePath == "" {
			missing = append(missing, "--spec_file")
		}
		if len(missing) > 0 {
			return rerrors.Configuration("missing %s, required for the %s method", strings.Join(missing, ", "), SourceGitClone).
				WithExitCode(rerrors.ExitMissingCloneInputs)
		}
	}

	return nil
}

// Normalize resolves every non-empty path field to an absolute path,
// whatever the source method.
func (r *BuildRequest) Normalize() error {
	fields := []*string{&r.TokenFilePath, &r.SSHKeyPath, &r.BuildDepsRepoPath, &r.SpecFilePath}
	for _, f := range fields {
		abs, err := expandPath(*f)
		if err != nil {
			return rerrors.Wrap(err, rerrors.KindConfiguration, "failed to resolve path %q", *f)
		}
		*f = abs
	}
	return nil
}

// SpecFileName is the spec file name the build container expects.
func (r *BuildRequest) SpecFileName() string {
	return r.RepositoryName + ".spec"
}

// String renders the request the way the start banner prints it.
func (r *BuildRequest) String() string {
	return fmt.Sprintf("%s | %s | %s | %s | %s | %s",
		r.SourceMethod, r.GitlabURL, r.RepositoryName, r.BuildContainerImage, r.Branch, r.PackageVersion)
}

func expandPath(path string) (string, error) {
	if path == "" {
		return "", nil
	}

	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, path[2:])
	}

	return filepath.Abs(path)
}
