package server

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/surveysgeo/fieldagent/internal/fieldwork"
	"github.com/surveysgeo/fieldagent/internal/geo"
	"github.com/surveysgeo/fieldagent/internal/proximity"
	"github.com/surveysgeo/fieldagent/internal/roster"
	"github.com/surveysgeo/fieldagent/internal/survey"
)

const (
	defaultHistoryLimit  = 50
	surveyCreatedMessage = "Encuesta creada exitosamente"
)

type OpenSurveyRequest struct {
	LeaderID int `json:"leader_id"`
}

type SubmitRequest struct {
	ConfirmVisited bool `json:"confirm_visited"`
}

type SubmitResponse struct {
	SurveyID string `json:"survey_id"`
	Message  string `json:"message"`
}

// SurveyView is everything a survey screen renders.
type SurveyView struct {
	ID           string                 `json:"id"`
	Leader       fieldwork.Leader       `json:"leader"`
	MinDistance  float64                `json:"min_distance_m"`
	Proximity    proximity.State        `json:"proximity"`
	Presentation proximity.Presentation `json:"presentation"`
	Gate         survey.Gate            `json:"gate"`
	Answers      survey.Answers         `json:"answers"`
	SurveyID     string                 `json:"survey_id,omitempty"`
}

func viewOf(id string, wf *survey.Workflow) SurveyView {
	st := wf.Engine().State()
	surveyID, _ := wf.SurveyID()
	return SurveyView{
		ID:           id,
		Leader:       wf.Leader(),
		MinDistance:  wf.Engine().MinDistance(),
		Proximity:    st,
		Presentation: proximity.Present(st, wf.Engine().MinDistance()),
		Gate:         wf.Gate(),
		Answers:      wf.Answers(),
		SurveyID:     surveyID,
	}
}

// handleOpenSurvey looks the leader up in the gestor's roster and opens a
// workflow targeting the leader's coordinates.
func handleOpenSurvey(deps Deps, registry *Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req OpenSurveyRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		res, err := deps.API.Leaders(r.Context(), sessionFrom(r).Token)
		if err != nil {
			writeFailure(w, deps.Logger, err)
			return
		}
		leader, ok := roster.Find(res.Lideres, req.LeaderID)
		if !ok {
			writeError(w, http.StatusNotFound, "leader not found")
			return
		}

		engine := proximity.NewEngine(deps.Location, geo.Coordinate(leader.Coordinates), proximity.Options{
			MinDistance: deps.Proximity.MinDistance,
			Timeout:     deps.Proximity.Timeout,
			Logger:      deps.Logger,
		})
		opts := survey.Options{
			Logger:          deps.Logger,
			AutoRefresh:     deps.Proximity.AutoRefresh,
			RefreshInterval: deps.Proximity.RefreshInterval,
		}
		if deps.Store != nil {
			opts.Recorder = deps.Store
		}
		wf := survey.NewWorkflow(leader, engine, deps.API, opts)
		id := registry.Add(wf)

		writeJSON(w, http.StatusCreated, viewOf(id, wf))
	}
}

func handleGetSurvey() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, viewOf(chi.URLParam(r, "id"), workflowFrom(r)))
	}
}

func handleCloseSurvey(registry *Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := registry.Close(chi.URLParam(r, "id")); err != nil {
			writeError(w, http.StatusNotFound, "survey not found")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// handleEvaluate runs a manual proximity re-evaluation and returns the
// resulting view. Listeners receive the state through the broker as well.
func handleEvaluate() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		wf := workflowFrom(r)
		wf.Engine().Evaluate(r.Context())
		writeJSON(w, http.StatusOK, viewOf(chi.URLParam(r, "id"), wf))
	}
}

func handleAnswers(broker *Broker, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req survey.Answers
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		id, wf := chi.URLParam(r, "id"), workflowFrom(r)
		err := wf.SetAnswers(func(a *survey.Answers) error {
			*a = req
			return nil
		})
		if err != nil {
			writeFailure(w, logger, err)
			return
		}

		g := wf.Gate()
		broker.Publish(id, Event{Type: EventGate, Gate: &g})
		writeJSON(w, http.StatusOK, viewOf(id, wf))
	}
}

func handleSubmit(broker *Broker, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SubmitRequest
		if err := readJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		id, wf := chi.URLParam(r, "id"), workflowFrom(r)
		surveyID, err := wf.Submit(r.Context(), sessionFrom(r), req.ConfirmVisited)
		if err != nil {
			writeFailure(w, logger, err)
			return
		}

		g := wf.Gate()
		broker.Publish(id, Event{Type: EventSubmitted, Gate: &g, SurveyID: surveyID})
		writeJSON(w, http.StatusOK, SubmitResponse{SurveyID: surveyID, Message: surveyCreatedMessage})
	}
}

func handleHistory(store HistoryStore, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if store == nil {
			writeJSON(w, http.StatusOK, []fieldwork.SubmissionRecord{})
			return
		}

		limit := defaultHistoryLimit
		if s := r.URL.Query().Get("limit"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n <= 0 {
				writeError(w, http.StatusBadRequest, "limit must be a positive integer")
				return
			}
			limit = n
		}

		recs, err := store.ListSubmissions(r.Context(), limit)
		if err != nil {
			writeFailure(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, recs)
	}
}
