package server

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/surveysgeo/fieldagent/internal/session"
	"github.com/surveysgeo/fieldagent/internal/survey"
)

type ctxKey int

const (
	ctxKeySession ctxKey = iota
	ctxKeyWorkflow
)

func requireSession(sessions *session.Manager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess, err := sessions.Current()
			if err != nil {
				writeError(w, http.StatusUnauthorized, "not authenticated")
				return
			}

			ctx := context.WithValue(r.Context(), ctxKeySession, sess)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func workflowMiddleware(registry *Registry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			wf, err := registry.Get(chi.URLParam(r, "id"))
			if err != nil {
				writeError(w, http.StatusNotFound, "survey not found")
				return
			}

			ctx := context.WithValue(r.Context(), ctxKeyWorkflow, wf)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func sessionFrom(r *http.Request) session.Session {
	return r.Context().Value(ctxKeySession).(session.Session)
}

func workflowFrom(r *http.Request) *survey.Workflow {
	return r.Context().Value(ctxKeyWorkflow).(*survey.Workflow)
}
