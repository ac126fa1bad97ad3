package db

import (
	"database/sql"
	"fmt"
)

// CountBuildsByStatus returns the number of recorded builds per status
func (db *DB) CountBuildsByStatus() (map[string]int, error) {
	rows, err := db.Query(`SELECT status, COUNT(*) FROM build_records GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count build records: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan status row: %w", err)
		}
		counts[status] = count
	}

	return counts, rows.Err()
}

// GetBuildStatsPerDay returns build counts grouped by UTC day and status for
// today and the days-1 days before it. Days are keyed as YYYY-MM-DD.
func (db *DB) GetBuildStatsPerDay(days int) (map[string]map[string]int, error) {
	if days < 1 {
		days = 1
	}

	// started_at always begins with the UTC date, whichever layout wrote it
	query := `
		SELECT substr(started_at, 1, 10) as day, status, COUNT(*) as count
		FROM build_records
		WHERE substr(started_at, 1, 10) >= date('now', ?)
		GROUP BY day, status
		ORDER BY day DESC
	`

	rows, err := db.Query(query, fmt.Sprintf("-%d days", days-1))
	if err != nil {
		return nil, fmt.Errorf("failed to query build stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[string]map[string]int)
	for rows.Next() {
		var day sql.NullString
		var status string
		var count int

		if err := rows.Scan(&day, &status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan stat row: %w", err)
		}
		if !day.Valid {
			continue
		}

		if stats[day.String] == nil {
			stats[day.String] = make(map[string]int)
		}
		stats[day.String][status] = count
	}

	return stats, rows.Err()
}
