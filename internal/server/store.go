package server

import (
	"context"
	"errors"

	"github.com/surveysgeo/fieldagent/internal/fieldwork"
)

var ErrNotFound = errors.New("not found")

// HistoryStore is the local log of accepted surveys.
type HistoryStore interface {
	RecordSubmission(ctx context.Context, rec fieldwork.SubmissionRecord) error
	ListSubmissions(ctx context.Context, limit int) ([]fieldwork.SubmissionRecord, error)
}
