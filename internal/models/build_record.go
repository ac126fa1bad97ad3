package models

import "time"

// BuildStatus represents the state of a recorded build run
type BuildStatus string

const (
	BuildStatusRunning   BuildStatus = "running"
	BuildStatusSucceeded BuildStatus = "succeeded"
	BuildStatusFailed    BuildStatus = "failed"
)

// BuildRecord is one build run as kept in the history store
type BuildRecord struct {
	ID             int64        `json:"id" db:"id"`
	Workspace      string       `json:"workspace" db:"workspace"`
	WorkspacePath  string       `json:"workspace_path" db:"workspace_path"`
	RepositoryName string       `json:"repository_name" db:"repository_name"`
	Branch         string       `json:"branch" db:"branch"`
	SourceMethod   SourceMethod `json:"source_method" db:"source_method"`
	PackageVersion string       `json:"package_version" db:"package_version"`
	ReleaseVersion string       `json:"release_version" db:"release_version"`
	Image          string       `json:"image" db:"image"`
	ProjectID      int          `json:"project_id,omitempty" db:"project_id"`
	Status         BuildStatus  `json:"status" db:"status"`
	Stage          string       `json:"stage,omitempty" db:"stage"`
	ExitCode       *int         `json:"exit_code,omitempty" db:"exit_code"`
	Message        string       `json:"message,omitempty" db:"message"`
	ErrorMessage   string       `json:"error_message,omitempty" db:"error_message"`
	StartedAt      time.Time    `json:"started_at" db:"started_at"`
	FinishedAt     *time.Time   `json:"finished_at,omitempty" db:"finished_at"`
}
