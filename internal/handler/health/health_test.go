package health_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/surveysgeo/fieldagent/internal/handler/health"
)

type mockChecker struct{ err error }

func (m mockChecker) Check(_ context.Context) error { return m.err }

func TestHandler(t *testing.T) {
	down := errors.New("refused")
	tests := []struct {
		name       string
		store, api error
		wantStatus int
		wantBody   string
		wantChecks map[string]string
	}{
		{"all healthy", nil, nil, http.StatusOK, health.StatusOK, map[string]string{"store": "ok", "api": "ok"}},
		{"api down", nil, down, http.StatusOK, health.StatusDegraded, map[string]string{"store": "ok", "api": "error"}},
		{"store down", down, nil, http.StatusServiceUnavailable, health.StatusError, map[string]string{"store": "error", "api": "ok"}},
		{"both down", down, down, http.StatusServiceUnavailable, health.StatusError, map[string]string{"store": "error", "api": "error"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := health.NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)),
				health.Check{Name: "store", Checker: mockChecker{tt.store}},
				health.Check{Name: "api", Checker: mockChecker{tt.api}, Optional: true},
			)

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			rec := httptest.NewRecorder()
			h.Routes().ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}

			var body health.Response
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("decoding response: %v", err)
			}
			if body.Status != tt.wantBody {
				t.Errorf("overall status = %q, want %q", body.Status, tt.wantBody)
			}
			for name, want := range tt.wantChecks {
				got := body.Checks[name]
				if got.Status != want {
					t.Errorf("%s status = %q, want %q", name, got.Status, want)
				}
				if want == "error" && got.Error != "refused" {
					t.Errorf("%s error = %q, want refused", name, got.Error)
				}
			}
		})
	}
}

func TestCheckFunc(t *testing.T) {
	called := false
	h := health.NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)),
		health.Check{Name: "fn", Checker: health.CheckFunc(func(context.Context) error {
			called = true
			return nil
		})},
	)
	if resp := h.Run(context.Background()); resp.Status != health.StatusOK || !called {
		t.Fatalf("Run() = %+v, called = %v", resp, called)
	}
}
