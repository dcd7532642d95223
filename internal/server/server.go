package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/surveysgeo/fieldagent/internal/api"
	"github.com/surveysgeo/fieldagent/internal/fieldwork"
	"github.com/surveysgeo/fieldagent/internal/location"
	"github.com/surveysgeo/fieldagent/internal/session"
)

// RemoteAPI is the part of the surveys API the companion calls on behalf of
// the logged-in gestor.
type RemoteAPI interface {
	Leaders(ctx context.Context, token string) (api.Roster, error)
	Me(ctx context.Context, token string) (fieldwork.User, error)
	CreateSurvey(ctx context.Context, token string, p fieldwork.SurveyPayload) (string, error)
}

type ProximityConfig struct {
	MinDistance     float64
	Timeout         time.Duration
	AutoRefresh     bool
	RefreshInterval time.Duration
}

type Deps struct {
	Logger    *slog.Logger
	Sessions  *session.Manager
	API       RemoteAPI
	Location  location.Provider
	Feed      *location.Feed
	Store     HistoryStore
	Proximity ProximityConfig
	WebDir    string
}

type Server struct {
	srv      *http.Server
	logger   *slog.Logger
	registry *Registry
}

// New builds the companion server. mount registers extra routes such as
// health checks owned by the caller.
func New(addr string, deps Deps, mount func(r chi.Router)) *Server {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(newStructuredLogger(deps.Logger))
	r.Use(middleware.Recoverer)

	broker := NewBroker()
	registry := NewRegistry(broker, deps.Logger)

	if mount != nil {
		mount(r)
	}
	addRoutes(r, deps, registry, broker)

	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           r,
			ReadHeaderTimeout: 5 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		logger:   deps.Logger,
		registry: registry,
	}
}

func (s *Server) Handler() http.Handler { return s.srv.Handler }

func (s *Server) Run(_ context.Context) error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.srv.Addr, err)
	}

	err = s.srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting requests and closes every open survey.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	err := s.srv.Shutdown(ctx)
	s.registry.CloseAll()
	return err
}

func newStructuredLogger(logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				logger.Info("http request",
					"method", r.Method,
					"path", r.URL.Path,
					"status", ww.Status(),
					"bytes", ww.BytesWritten(),
					"duration_ms", time.Since(start).Milliseconds(),
					"request_id", middleware.GetReqID(r.Context()),
				)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}
