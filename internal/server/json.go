package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/surveysgeo/fieldagent/internal/api"
	"github.com/surveysgeo/fieldagent/internal/fieldwork"
	"github.com/surveysgeo/fieldagent/internal/session"
	"github.com/surveysgeo/fieldagent/internal/survey"
)

const visitedWarning = "Este líder ya fue encuestado. ¿Deseas realizar la encuesta de nuevo?"

// ErrorResponse is returned for all error responses.
type ErrorResponse struct {
	Error        string              `json:"error"`
	Kind         fieldwork.ErrorKind `json:"kind,omitempty"`
	Reason       survey.Reason       `json:"reason,omitempty"`
	MetersNeeded float64             `json:"meters_needed,omitempty"`
	Message      string              `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func readJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// writeFailure maps a domain error to its HTTP response.
func writeFailure(w http.ResponseWriter, logger *slog.Logger, err error) {
	var blocked *survey.BlockedError
	var apiErr *api.Error

	switch {
	case errors.As(err, &blocked):
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error:        "validation_blocked",
			Kind:         fieldwork.KindValidationBlocked,
			Reason:       blocked.Block.Reason,
			MetersNeeded: blocked.Block.MetersNeeded,
			Message:      blocked.Block.Label(),
		})
	case errors.Is(err, survey.ErrConfirmationRequired):
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: "confirmation_required", Message: visitedWarning})
	case errors.Is(err, survey.ErrCompleted):
		writeError(w, http.StatusConflict, "survey already submitted")
	case errors.Is(err, survey.ErrClosed), errors.Is(err, ErrNotFound):
		writeError(w, http.StatusNotFound, "survey not found")
	case errors.Is(err, session.ErrNotAuthenticated):
		writeError(w, http.StatusUnauthorized, "not authenticated")
	case errors.As(err, &apiErr):
		writeJSON(w, http.StatusBadGateway, ErrorResponse{Error: apiErr.Message, Kind: apiErr.Kind()})
	default:
		logger.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
