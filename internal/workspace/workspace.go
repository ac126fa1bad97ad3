// Package workspace lays out the per-build working directory shared by both
// source acquisition strategies.
package workspace

import (
	stderrors "errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	rerrors "github.com/asgardahost/rpmbuilder/internal/errors"
)

// File and directory names inside a workspace.
const (
	SourcesDir        = "rpmbuild/SOURCES"
	BuildDepsRepoFile = "build-deps.repo"
)

// Workspace is the directory {RootDir}/{repo}-{branch}-{token}.
type Workspace struct {
	RootDir string
	Name    string
}

// New returns the workspace for a repository, branch and build token. It
// touches nothing on disk.
func New(rootDir, repository, branch, token string) *Workspace {
	return &Workspace{
		RootDir: rootDir,
		Name:    Name(repository, branch, token),
	}
}

// Name builds the workspace directory name. Path separators in the branch
// are replaced so the name stays a single directory and a valid container
// name.
func Name(repository, branch, token string) string {
	branch = strings.ReplaceAll(branch, "/", "-")
	return repository + "-" + branch + "-" + token
}

// Path is the absolute workspace directory.
func (w *Workspace) Path() string {
	return filepath.Join(w.RootDir, w.Name)
}

// SourcesPath is rpmbuild/SOURCES inside the workspace.
func (w *Workspace) SourcesPath() string {
	return filepath.Join(w.Path(), SourcesDir)
}

// SpecPath is where a staged spec file for repository lives.
func (w *Workspace) SpecPath(repository string) string {
	return filepath.Join(w.Path(), repository+".spec")
}

// BuildDepsRepoPath is where a staged build-deps.repo lives.
func (w *Workspace) BuildDepsRepoPath() string {
	return filepath.Join(w.Path(), BuildDepsRepoFile)
}

// SourceTreePath is the extracted source tree of repository.
func (w *Workspace) SourceTreePath(repository string) string {
	return filepath.Join(w.Path(), repository)
}

// ArchivePath is the downloaded source archive. It sits next to the
// workspace, not inside it, and is removed after extraction.
func (w *Workspace) ArchivePath() string {
	return filepath.Join(w.RootDir, w.Name+".zip")
}

// Scaffold creates the workspace and its rpmbuild/SOURCES directory. An
// existing workspace is an error: runs never merge into each other.
func (w *Workspace) Scaffold() error {
	info, err := os.Stat(w.RootDir)
	if err != nil {
		return rerrors.Wrap(err, rerrors.KindWorkspace, "root directory %s is not accessible", w.RootDir)
	}
	if !info.IsDir() {
		return rerrors.New(rerrors.KindWorkspace, "root directory %s is not a directory", w.RootDir)
	}

	if err := os.Mkdir(w.Path(), 0o755); err != nil {
		if stderrors.Is(err, fs.ErrExist) {
			return rerrors.Wrap(err, rerrors.KindWorkspace, "workspace %s already exists", w.Path()).
				WithContext("workspace", w.Name)
		}
		return rerrors.Wrap(err, rerrors.KindWorkspace, "failed to create workspace %s", w.Path())
	}

	if err := os.MkdirAll(w.SourcesPath(), 0o755); err != nil {
		return rerrors.Wrap(err, rerrors.KindWorkspace, "failed to create %s", w.SourcesPath())
	}

	return nil
}
