package server

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/surveysgeo/fieldagent/internal/api"
	"github.com/surveysgeo/fieldagent/internal/fieldwork"
	"github.com/surveysgeo/fieldagent/internal/session"
)

type LoginRequest struct {
	Usuario  string `json:"usuario"`
	Password string `json:"password"`
}

type SessionResponse struct {
	User fieldwork.User `json:"user"`
}

func handleLogin(sessions *session.Manager, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req LoginRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		sess, err := sessions.Login(r.Context(), req.Usuario, req.Password)
		if err != nil {
			var apiErr *api.Error
			switch {
			case errors.Is(err, session.ErrMissingCredentials):
				writeJSON(w, http.StatusBadRequest, ErrorResponse{
					Error: session.MissingCredentialsMessage,
					Kind:  fieldwork.KindValidationBlocked,
				})
			case errors.As(err, &apiErr) && apiErr.Kind() == fieldwork.KindAPIRejected:
				writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: apiErr.Message, Kind: apiErr.Kind()})
			default:
				writeFailure(w, logger, err)
			}
			return
		}

		writeJSON(w, http.StatusOK, SessionResponse{User: sess.User})
	}
}

func handleLogout(sessions *session.Manager, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := sessions.Logout(r.Context()); err != nil {
			writeFailure(w, logger, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleSession() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, SessionResponse{User: sessionFrom(r).User})
	}
}

func handleGestorMe(remote RemoteAPI, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, err := remote.Me(r.Context(), sessionFrom(r).Token)
		if err != nil {
			writeFailure(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, user)
	}
}
