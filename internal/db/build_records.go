package db

import (
	"database/sql"
	"fmt"

	"github.com/asgardahost/rpmbuilder/internal/models"
)

const recordColumns = `id, workspace, workspace_path, repository_name, branch, source_method,
	package_version, release_version, image, project_id, status, stage,
	exit_code, message, error_message, started_at, finished_at`

// CreateBuildRecord inserts a running build and sets rec.ID
func (db *DB) CreateBuildRecord(rec *models.BuildRecord) error {
	query := `
		INSERT INTO build_records (
			workspace, workspace_path, repository_name, branch, source_method,
			package_version, release_version, image, project_id, status, stage, started_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := db.Exec(query,
		rec.Workspace,
		rec.WorkspacePath,
		rec.RepositoryName,
		rec.Branch,
		rec.SourceMethod,
		rec.PackageVersion,
		rec.ReleaseVersion,
		rec.Image,
		rec.ProjectID,
		rec.Status,
		rec.Stage,
		rec.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert build record: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert ID: %w", err)
	}
	rec.ID = id

	return nil
}

// FinishBuildRecord stores the final state of a build
func (db *DB) FinishBuildRecord(rec *models.BuildRecord) error {
	query := `
		UPDATE build_records
		SET status = ?, stage = ?, project_id = ?, exit_code = ?, message = ?,
			error_message = ?, finished_at = ?
		WHERE id = ?
	`

	var exitCode sql.NullInt64
	if rec.ExitCode != nil {
		exitCode = sql.NullInt64{Int64: int64(*rec.ExitCode), Valid: true}
	}

	result, err := db.Exec(query,
		rec.Status,
		rec.Stage,
		rec.ProjectID,
		exitCode,
		rec.Message,
		rec.ErrorMessage,
		rec.FinishedAt,
		rec.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update build record: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check updated rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("build record %d not found", rec.ID)
	}

	return nil
}

// GetBuildRecordByWorkspace retrieves a build by its workspace name.
// It returns nil, nil when there is none.
func (db *DB) GetBuildRecordByWorkspace(workspace string) (*models.BuildRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM build_records WHERE workspace = ?`

	rec, err := scanRecord(db.QueryRow(query, workspace))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query build record: %w", err)
	}

	return rec, nil
}

// ListBuildRecords returns the most recent builds, newest first. An empty
// repository matches every repository.
func (db *DB) ListBuildRecords(repository string, limit int) ([]*models.BuildRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `SELECT ` + recordColumns + ` FROM build_records
		WHERE (? = '' OR repository_name = ?)
		ORDER BY started_at DESC, id DESC
		LIMIT ?`

	rows, err := db.Query(query, repository, repository, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query build records: %w", err)
	}
	defer rows.Close()

	records := []*models.BuildRecord{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan build record: %w", err)
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*models.BuildRecord, error) {
	var rec models.BuildRecord
	var exitCode sql.NullInt64
	var finishedAt sql.NullTime

	err := row.Scan(
		&rec.ID,
		&rec.Workspace,
		&rec.WorkspacePath,
		&rec.RepositoryName,
		&rec.Branch,
		&rec.SourceMethod,
		&rec.PackageVersion,
		&rec.ReleaseVersion,
		&rec.Image,
		&rec.ProjectID,
		&rec.Status,
		&rec.Stage,
		&exitCode,
		&rec.Message,
		&rec.ErrorMessage,
		&rec.StartedAt,
		&finishedAt,
	)
	if err != nil {
		return nil, err
	}

	if exitCode.Valid {
		code := int(exitCode.Int64)
		rec.ExitCode = &code
	}
	if finishedAt.Valid {
		rec.FinishedAt = &finishedAt.Time
	}

	return &rec, nil
}
