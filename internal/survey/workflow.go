package survey

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/surveysgeo/fieldagent/internal/fieldwork"
	"github.com/surveysgeo/fieldagent/internal/metrics"
	"github.com/surveysgeo/fieldagent/internal/proximity"
	"github.com/surveysgeo/fieldagent/internal/session"
)

var (
	// ErrConfirmationRequired means the leader was already surveyed and the
	// agent has not confirmed a new survey.
	ErrConfirmationRequired = errors.New("leader already surveyed: confirmation required")
	ErrCompleted            = errors.New("survey already submitted")
	ErrClosed               = errors.New("survey workflow closed")
)

// Creator sends a survey to the remote API and returns its id.
type Creator interface {
	CreateSurvey(ctx context.Context, token string, p fieldwork.SurveyPayload) (string, error)
}

// Recorder keeps a local log of accepted surveys.
type Recorder interface {
	RecordSubmission(ctx context.Context, rec fieldwork.SubmissionRecord) error
}

type Options struct {
	Recorder        Recorder
	Logger          *slog.Logger
	AutoRefresh     bool
	RefreshInterval time.Duration
}

// Workflow is one open survey screen for a leader. It owns its proximity
// engine; Close releases both.
type Workflow struct {
	leader    fieldwork.Leader
	engine    *proximity.Engine
	creator   Creator
	recorder  Recorder
	logger    *slog.Logger
	refresher *proximity.Refresher
	closeOnce sync.Once

	mu         sync.Mutex
	answers    Answers
	submitting bool
	completed  bool
	surveyID   string
	closed     bool
}

// NewWorkflow opens a survey for leader and evaluates proximity once. With
// AutoRefresh it keeps evaluating every RefreshInterval until Close.
func NewWorkflow(leader fieldwork.Leader, engine *proximity.Engine, creator Creator, opts Options) *Workflow {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	w := &Workflow{
		leader:   leader,
		engine:   engine,
		creator:  creator,
		recorder: opts.Recorder,
		logger:   opts.Logger.With("leader_id", leader.ID),
	}

	var interval time.Duration
	if opts.AutoRefresh {
		interval = opts.RefreshInterval
		if interval <= 0 {
			interval = proximity.DefaultRefreshInterval
		}
	}
	w.refresher = engine.Start(interval)

	metrics.WorkflowsOpen.Inc()
	w.logger.Info("survey opened", "auto_refresh", opts.AutoRefresh)
	return w
}

func (w *Workflow) Leader() fieldwork.Leader { return w.leader }

func (w *Workflow) Engine() *proximity.Engine { return w.engine }

func (w *Workflow) Answers() Answers {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.answers
}

// SurveyID returns the id assigned by the API once the survey is submitted.
// ok is true after a successful submit even if the API sent no id.
func (w *Workflow) SurveyID() (id string, ok bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.surveyID, w.completed
}

func (w *Workflow) Gate() Gate {
	w.mu.Lock()
	defer w.mu.Unlock()
	return NewGate(w.answers, w.engine.State(), w.submitting, w.engine.MinDistance())
}

// SetAnswer records one answer. Inputs are locked until the agent is in range.
func (w *Workflow) SetAnswer(q Question, a Answer) error {
	return w.SetAnswers(func(ans *Answers) error {
		f, err := ans.field(q)
		if err != nil {
			return err
		}
		*f = a
		return nil
	})
}

// SetAnswers applies edit to the answers under the same rules as SetAnswer.
// The answers are unchanged if edit fails.
func (w *Workflow) SetAnswers(edit func(*Answers) error) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.usableLocked(); err != nil {
		return err
	}
	g := NewGate(w.answers, w.engine.State(), w.submitting, w.engine.MinDistance())
	if !g.InputsEnabled {
		return &BlockedError{Block: Block{Reason: g.Reason, MetersNeeded: g.MetersNeeded}}
	}

	next := w.answers
	if err := edit(&next); err != nil {
		return err
	}
	for _, v := range []Answer{next.Pregunta1, next.Pregunta2, next.Pregunta3} {
		if !v.Valid() {
			return fmt.Errorf("invalid answer %q", v)
		}
	}
	w.answers = next
	return nil
}

func (w *Workflow) usableLocked() error {
	if w.closed {
		return ErrClosed
	}
	if w.completed {
		return ErrCompleted
	}
	return nil
}

// Submit sends the survey once. The gate is checked again against the
// current proximity state, and the location sent is the one of that state.
// On failure the answers are kept so the agent can retry.
func (w *Workflow) Submit(ctx context.Context, sess session.Session, confirmVisited bool) (string, error) {
	if !sess.Authenticated() {
		return "", session.ErrNotAuthenticated
	}

	w.mu.Lock()
	if err := w.usableLocked(); err != nil {
		w.mu.Unlock()
		return "", err
	}

	st := w.engine.State()
	if !MayToSubmit(w.answers, st, w.submitting) {
		b := BlockingReason(w.answers, st, w.submitting, w.engine.MinDistance())
		w.mu.Unlock()
		metrics.SurveySubmissions.WithLabelValues("blocked").Inc()
		w.logger.Info("survey submission blocked", "reason", b.Reason, "meters_needed", b.MetersNeeded)
		return "", &BlockedError{Block: b}
	}
	if w.leader.Status == fieldwork.StatusVisited && !confirmVisited {
		w.mu.Unlock()
		return "", ErrConfirmationRequired
	}

	payload, err := BuildPayload(w.leader.ID, w.answers, st, w.engine.MinDistance())
	if err != nil {
		w.mu.Unlock()
		return "", err
	}
	w.submitting = true
	w.mu.Unlock()

	id, err := w.creator.CreateSurvey(ctx, sess.Token, payload)

	w.mu.Lock()
	w.submitting = false
	if err != nil {
		w.mu.Unlock()
		metrics.SurveySubmissions.WithLabelValues(string(fieldwork.KindOf(err))).Inc()
		w.logger.Error("survey submission failed", "kind", fieldwork.KindOf(err), "error", err)
		return "", fmt.Errorf("submitting survey: %w", err)
	}
	w.completed = true
	w.surveyID = id
	w.mu.Unlock()

	metrics.SurveySubmissions.WithLabelValues("success").Inc()
	w.logger.Info("survey submitted",
		"survey_id", id,
		"ubicacion", payload.Ubicacion,
		"distance_m", st.DisplayDistance(),
	)

	if w.recorder != nil {
		rec := fieldwork.SubmissionRecord{
			LeaderID:    w.leader.ID,
			SurveyID:    id,
			Ubicacion:   payload.Ubicacion,
			SubmittedAt: time.Now().UTC(),
		}
		if err := w.recorder.RecordSubmission(ctx, rec); err != nil {
			w.logger.Error("recording submission locally", "survey_id", id, "error", err)
		}
	}
	return id, nil
}

// Close stops auto-refresh and discards any in-flight evaluation.
func (w *Workflow) Close() {
	w.closeOnce.Do(func() {
		w.mu.Lock()
		w.closed = true
		w.mu.Unlock()

		w.refresher.Stop()
		w.engine.Close()
		metrics.WorkflowsOpen.Dec()
		w.logger.Info("survey closed")
	})
}
