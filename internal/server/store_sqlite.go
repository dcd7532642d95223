package server

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/surveysgeo/fieldagent/internal/fieldwork"
)

const timeLayout = "2006-01-02T15:04:05.000Z07:00"

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) RecordSubmission(ctx context.Context, rec fieldwork.SubmissionRecord) error {
	if rec.SubmittedAt.IsZero() {
		rec.SubmittedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO submission_log (leader_id, survey_id, ubicacion, submitted_at)
		VALUES (?, ?, ?, ?)
	`, rec.LeaderID, rec.SurveyID, rec.Ubicacion, rec.SubmittedAt.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("recording submission %s: %w", rec.SurveyID, err)
	}
	return nil
}

// ListSubmissions returns the most recent submissions first.
func (s *SQLiteStore) ListSubmissions(ctx context.Context, limit int) ([]fieldwork.SubmissionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT leader_id, survey_id, ubicacion, submitted_at
		FROM submission_log
		ORDER BY submitted_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing submissions: %w", err)
	}
	defer rows.Close()

	out := []fieldwork.SubmissionRecord{}
	for rows.Next() {
		var rec fieldwork.SubmissionRecord
		var at string
		if err := rows.Scan(&rec.LeaderID, &rec.SurveyID, &rec.Ubicacion, &at); err != nil {
			return nil, fmt.Errorf("scanning submission: %w", err)
		}
		rec.SubmittedAt, err = time.Parse(timeLayout, at)
		if err != nil {
			return nil, fmt.Errorf("parsing submitted_at %q: %w", at, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
