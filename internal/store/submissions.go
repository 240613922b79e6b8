// ABOUTME: Submission audit log for decisions the relay sent or gave up on
// ABOUTME: Append-only; queried by the status endpoint and the CLI

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RecordSubmission appends a submission row.
// Generates ID and CreatedAt if not set.
func (s *SQLiteStore) RecordSubmission(ctx context.Context, sub *Submission) error {
	if sub.ID == "" {
		sub.ID = uuid.New().String()
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now().UTC()
	}
	if sub.Attempts == 0 {
		sub.Attempts = 1
	}

	var errText *string
	if sub.Error != "" {
		errText = &sub.Error
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO submissions (submission_id, event_id, family, endpoint, status, http_status, attempts, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		sub.ID,
		sub.EventID,
		sub.Family,
		sub.Endpoint,
		string(sub.Status),
		sub.HTTPStatus,
		sub.Attempts,
		errText,
		sub.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting submission: %w", err)
	}

	s.logger.Debug("recorded submission",
		"id", sub.ID,
		"event_id", sub.EventID,
		"status", sub.Status,
	)
	return nil
}

// normalizeLimit applies default (100) and cap (1000).
func normalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return 100
	case limit > 1000:
		return 1000
	default:
		return limit
	}
}

const submissionsQuery = `
	SELECT submission_id, event_id, family, endpoint, status, http_status, attempts, error, created_at
	FROM submissions
	WHERE (? IS NULL OR status = ?)
	  AND (? IS NULL OR created_at >= ?)
	ORDER BY created_at DESC
	LIMIT ?
`

// ListSubmissions returns submissions matching f, newest first.
func (s *SQLiteStore) ListSubmissions(ctx context.Context, f SubmissionFilter) ([]Submission, error) {
	var statusArg, sinceArg *string
	if f.Status != nil {
		v := string(*f.Status)
		statusArg = &v
	}
	if f.Since != nil {
		v := f.Since.UTC().Format(timeLayout)
		sinceArg = &v
	}

	rows, err := s.db.QueryContext(ctx, submissionsQuery,
		statusArg, statusArg,
		sinceArg, sinceArg,
		normalizeLimit(f.Limit),
	)
	if err != nil {
		return nil, fmt.Errorf("querying submissions: %w", err)
	}
	defer rows.Close()

	var out []Submission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating submissions: %w", err)
	}
	return out, nil
}

// CountSubmissions returns totals keyed by status.
func (s *SQLiteStore) CountSubmissions(ctx context.Context) (map[SubmissionStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM submissions GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("counting submissions: %w", err)
	}
	defer rows.Close()

	counts := make(map[SubmissionStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scanning submission count: %w", err)
		}
		counts[SubmissionStatus(status)] = n
	}
	return counts, rows.Err()
}

func scanSubmission(scanner interface{ Scan(dest ...any) error }) (Submission, error) {
	var sub Submission
	var status, created string
	var errText sql.NullString

	if err := scanner.Scan(
		&sub.ID,
		&sub.EventID,
		&sub.Family,
		&sub.Endpoint,
		&status,
		&sub.HTTPStatus,
		&sub.Attempts,
		&errText,
		&created,
	); err != nil {
		return sub, fmt.Errorf("scanning submission: %w", err)
	}

	sub.Status = SubmissionStatus(status)
	sub.Error = errText.String

	var err error
	sub.CreatedAt, err = time.Parse(timeLayout, created)
	if err != nil {
		return sub, fmt.Errorf("parsing created_at: %w", err)
	}
	return sub, nil
}
