package builder

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/asgardahost/rpmbuilder/internal/models"
)

// Report summarizes one pipeline run.
type Report struct {
	Request       *models.BuildRequest `yaml:"request"`
	Workspace     string               `yaml:"workspace,omitempty"`
	WorkspacePath string               `yaml:"workspace_path,omitempty"`
	ProjectID     int                  `yaml:"project_id,omitempty"`
	ContainerArgs []string             `yaml:"container_args,omitempty"`
	Outcome       *models.BuildOutcome `yaml:"outcome,omitempty"`
	Warnings      []string             `yaml:"warnings,omitempty"`
	// Stage is the last stage entered; on failure, the one that failed.
	Stage      Stage     `yaml:"stage"`
	ExitCode   int       `yaml:"exit_code"`
	Error      string    `yaml:"error,omitempty"`
	StartedAt  time.Time `yaml:"started_at"`
	FinishedAt time.Time `yaml:"finished_at"`
	Duration   string    `yaml:"duration"`
}

// WriteYAML writes the report to path, replacing any previous file.
func (r *Report) WriteYAML(path string) error {
	data, err := yaml.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create report directory: %w", err)
		}
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to move report into place: %w", err)
	}
	return nil
}
