// Package report provides PostgreSQL-backed storage for abuse reports filed
// against marketplace users. Reports feed the flag-for-review threshold:
// repeated reports against the same user within a window are surfaced to
// moderators.
package report

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// validReasons is the set of allowed reason values, matching the CHECK
// constraint on the reports table.
var validReasons = map[string]bool{
	"harassment":     true,
	"spam":           true,
	"fraud":          true,
	"unprofessional": true,
	"other":          true,
}

// ReviewWindow is the lookback used by the flag-for-review threshold.
const ReviewWindow = 24 * time.Hour

// ReviewThreshold is the number of reports within ReviewWindow that flags a
// user for moderator review.
const ReviewThreshold = 3

// Report represents a single abuse report to be persisted.
type Report struct {
	ReporterID string
	ReportedID string
	Reason     string
	Details    string
}

// Store manages abuse reports in PostgreSQL.
type Store struct {
	db *sql.DB
}

// NewStore creates a new report store backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Create inserts an abuse report. The reason is validated against the
// allowed set before insertion.
func (s *Store) Create(ctx context.Context, report *Report) error {
	if report.ReporterID == "" || report.ReportedID == "" {
		return fmt.Errorf("report: missing participant id")
	}
	if !validReasons[report.Reason] {
		return fmt.Errorf("report: invalid reason %q", report.Reason)
	}

	const query = `
		INSERT INTO reports (reporter_id, reported_id, reason, details)
		VALUES ($1, $2, $3, $4)`

	_, err := s.db.ExecContext(ctx, query,
		report.ReporterID,
		report.ReportedID,
		report.Reason,
		report.Details,
	)
	if err != nil {
		return fmt.Errorf("report: insert: %w", err)
	}
	return nil
}

// CountRecent returns the number of reports filed against a user within the
// given time window.
func (s *Store) CountRecent(ctx context.Context, reportedID string, window time.Duration) (int, error) {
	const query = `
		SELECT COUNT(*)
		FROM reports
		WHERE reported_id = $1
		  AND created_at >= NOW() - $2::interval`

	var count int
	err := s.db.QueryRowContext(ctx, query, reportedID, window.String()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("report: count recent: %w", err)
	}
	return count, nil
}

// ValidReason reports whether reason is in the allowed set, so the HTTP
// controller can reject bad input before hitting the database.
func ValidReason(reason string) bool {
	return validReasons[reason]
}
