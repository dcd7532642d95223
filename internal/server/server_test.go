package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/surveysgeo/fieldagent/internal/api"
	"github.com/surveysgeo/fieldagent/internal/database"
	"github.com/surveysgeo/fieldagent/internal/fieldwork"
	"github.com/surveysgeo/fieldagent/internal/geo"
	"github.com/surveysgeo/fieldagent/internal/location"
	"github.com/surveysgeo/fieldagent/internal/migrations"
	"github.com/surveysgeo/fieldagent/internal/session"
)

var (
	discard = slog.New(slog.NewTextHandler(io.Discard, nil))
	target  = geo.Coordinate{Latitude: 10.9639, Longitude: -74.7964}
)

func north(c geo.Coordinate, meters float64) geo.Coordinate {
	return geo.Coordinate{
		Latitude:  c.Latitude + meters/(geo.EarthRadiusMeters*math.Pi/180),
		Longitude: c.Longitude,
	}
}

// upstream fakes the remote surveys API.
type upstream struct {
	mu        sync.Mutex
	payloads  []fieldwork.SurveyPayload
	rejectMsg string
}

func (u *upstream) sent() []fieldwork.SurveyPayload {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]fieldwork.SurveyPayload(nil), u.payloads...)
}

func envelope(w http.ResponseWriter, status int, success bool, msg string, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{"success": success, "message": msg, "data": data})
}

func leaderJSON(id int, status string, c geo.Coordinate) map[string]any {
	return map[string]any{
		"id": id, "nombres": "Líder", "apellidos": "Número", "status": status,
		"coordinates": map[string]float64{"latitude": c.Latitude, "longitude": c.Longitude},
	}
}

func (u *upstream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != api.PathLogin && r.Header.Get("Authorization") != "Bearer tok-1" {
		envelope(w, http.StatusUnauthorized, false, "Token inválido", nil)
		return
	}
	switch r.URL.Path {
	case api.PathLogin:
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["password"] != "secret" {
			envelope(w, http.StatusUnauthorized, false, "Credenciales inválidas", nil)
			return
		}
		envelope(w, http.StatusOK, true, "", map[string]any{
			"token": "tok-1",
			"user":  map[string]any{"id": 7, "nombres": "Ana", "usuario": body["usuario"]},
		})
	case api.PathLeaders:
		envelope(w, http.StatusOK, true, "", map[string]any{
			"lideres": []map[string]any{
				leaderJSON(12, "pendiente", target),
				leaderJSON(13, "visitado", target),
				leaderJSON(14, "pendiente", north(target, 200)),
			},
		})
	case api.PathGestorMe:
		envelope(w, http.StatusOK, true, "", map[string]any{"id": 7, "nombres": "Ana", "usuario": "gestor1"})
	case api.PathSurveys:
		u.mu.Lock()
		defer u.mu.Unlock()
		if u.rejectMsg != "" {
			envelope(w, http.StatusUnprocessableEntity, false, u.rejectMsg, nil)
			return
		}
		var p fieldwork.SurveyPayload
		json.NewDecoder(r.Body).Decode(&p)
		u.payloads = append(u.payloads, p)
		envelope(w, http.StatusCreated, true, "Encuesta creada", map[string]any{"id_encuesta": 100 + len(u.payloads)})
	default:
		http.NotFound(w, r)
	}
}

type harness struct {
	url      string
	upstream *upstream
	feed     *location.Feed
	store    *SQLiteStore
	server   *Server
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	up := &upstream{}
	remote := httptest.NewServer(up)
	t.Cleanup(remote.Close)

	db, err := database.Open(context.Background(), database.Memory)
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := migrations.Run(db); err != nil {
		t.Fatalf("running migrations: %v", err)
	}

	client := api.NewClient(remote.URL, 2*time.Second, discard)
	sessions := session.NewManager(session.NewStore(db, nil), client, discard)

	feed := location.NewFeed(time.Minute)
	feed.SetPermission(true)
	if err := feed.Push(location.Fix{Coordinate: target}); err != nil {
		t.Fatalf("Push() error = %v", err)
	}

	store := NewSQLiteStore(db)
	srv := New("127.0.0.1:0", Deps{
		Logger:    discard,
		Sessions:  sessions,
		API:       client,
		Location:  feed,
		Feed:      feed,
		Store:     store,
		Proximity: ProximityConfig{MinDistance: 80, Timeout: time.Second},
	}, nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.registry.CloseAll()
		ts.Close()
	})

	return &harness{url: ts.URL, upstream: up, feed: feed, store: store, server: srv}
}

func (h *harness) do(t *testing.T, method, path string, body any, out any) int {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		r = bytes.NewReader(b)
	}
	req, _ := http.NewRequest(method, h.url+path, r)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
			t.Fatalf("decoding %s %s: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func (h *harness) login(t *testing.T) {
	t.Helper()
	if code := h.do(t, http.MethodPost, "/api/session/login", LoginRequest{Usuario: "gestor1", Password: "secret"}, nil); code != http.StatusOK {
		t.Fatalf("login status = %d", code)
	}
}

// open opens a survey for leaderID and waits for its first evaluation.
func (h *harness) open(t *testing.T, leaderID int) SurveyView {
	t.Helper()
	var v SurveyView
	if code := h.do(t, http.MethodPost, "/api/surveys", OpenSurveyRequest{LeaderID: leaderID}, &v); code != http.StatusCreated {
		t.Fatalf("open status = %d", code)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		var cur SurveyView
		h.do(t, http.MethodGet, "/api/surveys/"+v.ID, nil, &cur)
		if k := cur.Proximity.Kind.String(); k == "evaluated" || k == "failed" {
			return cur
		}
		if time.Now().After(deadline) {
			t.Fatalf("proximity never settled: %+v", cur.Proximity)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

var allAnswered = map[string]any{"pregunta1": "S", "pregunta2": "N", "pregunta3": "S"}

func TestSessionFlow(t *testing.T) {
	h := newHarness(t)

	if code := h.do(t, http.MethodGet, "/api/session", nil, nil); code != http.StatusUnauthorized {
		t.Fatalf("session before login = %d, want 401", code)
	}

	var e ErrorResponse
	if code := h.do(t, http.MethodPost, "/api/session/login", LoginRequest{Usuario: " "}, &e); code != http.StatusBadRequest {
		t.Fatalf("empty login = %d, want 400", code)
	}
	if e.Error != session.MissingCredentialsMessage {
		t.Errorf("error = %q", e.Error)
	}

	e = ErrorResponse{}
	if code := h.do(t, http.MethodPost, "/api/session/login", LoginRequest{Usuario: "gestor1", Password: "bad"}, &e); code != http.StatusUnauthorized {
		t.Fatalf("bad password = %d, want 401", code)
	}
	if e.Error != "Credenciales inválidas" || e.Kind != fieldwork.KindAPIRejected {
		t.Errorf("error = %+v, want upstream message", e)
	}

	h.login(t)
	var s SessionResponse
	if code := h.do(t, http.MethodGet, "/api/session", nil, &s); code != http.StatusOK || s.User.Usuario != "gestor1" {
		t.Fatalf("session = %d %+v", code, s)
	}
	var me fieldwork.User
	if code := h.do(t, http.MethodGet, "/api/gestor/me", nil, &me); code != http.StatusOK || me.ID != 7 {
		t.Fatalf("gestor/me = %d %+v", code, me)
	}

	if code := h.do(t, http.MethodPost, "/api/session/logout", nil, nil); code != http.StatusNoContent {
		t.Fatalf("logout = %d", code)
	}
	if code := h.do(t, http.MethodGet, "/api/leaders", nil, nil); code != http.StatusUnauthorized {
		t.Fatalf("leaders after logout = %d, want 401", code)
	}
}

func TestLeaders(t *testing.T) {
	h := newHarness(t)
	h.login(t)

	var res LeadersResponse
	if code := h.do(t, http.MethodGet, "/api/leaders?filter=pendientes", nil, &res); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if len(res.Lideres) != 2 || res.Statistics.Total != 3 || res.Statistics.Visitados != 1 {
		t.Fatalf("leaders = %+v", res)
	}

	res = LeadersResponse{}
	h.do(t, http.MethodGet, "/api/leaders?near="+north(target, 210).String(), nil, &res)
	if res.Lideres[0].ID != 14 {
		t.Errorf("nearest = %d, want 14", res.Lideres[0].ID)
	}

	for _, q := range []string{"?filter=hechos", "?near=abc"} {
		if code := h.do(t, http.MethodGet, "/api/leaders"+q, nil, nil); code != http.StatusBadRequest {
			t.Errorf("GET /api/leaders%s = %d, want 400", q, code)
		}
	}
}

func TestSurveyInRange(t *testing.T) {
	h := newHarness(t)
	h.login(t)

	v := h.open(t, 12)
	if !v.Proximity.InRange || v.Presentation.Color != "#27ae60" || !v.Gate.InputsEnabled {
		t.Fatalf("view = %+v", v)
	}
	if v.Gate.Reason != "form_incomplete" || v.Gate.Label != "Responde todas las preguntas" {
		t.Errorf("gate = %+v", v.Gate)
	}

	var after SurveyView
	if code := h.do(t, http.MethodPut, "/api/surveys/"+v.ID+"/answers", allAnswered, &after); code != http.StatusOK {
		t.Fatalf("answers = %d", code)
	}
	if !after.Gate.MayToSubmit || after.Gate.Label != "Enviar encuesta" {
		t.Fatalf("gate after answers = %+v", after.Gate)
	}

	var sub SubmitResponse
	if code := h.do(t, http.MethodPost, "/api/surveys/"+v.ID+"/submit", nil, &sub); code != http.StatusOK {
		t.Fatalf("submit = %d", code)
	}
	if sub.SurveyID != "101" {
		t.Errorf("survey id = %q", sub.SurveyID)
	}

	want := fieldwork.SurveyPayload{IDLider: 12, Pregunta1: "S", Pregunta2: "N", Pregunta3: "S", Ubicacion: target.String()}
	if got := h.upstream.sent(); len(got) != 1 || got[0] != want {
		t.Fatalf("upstream payloads = %+v, want [%+v]", got, want)
	}

	var hist []fieldwork.SubmissionRecord
	h.do(t, http.MethodGet, "/api/surveys/history", nil, &hist)
	if len(hist) != 1 || hist[0].SurveyID != "101" || hist[0].LeaderID != 12 {
		t.Errorf("history = %+v", hist)
	}

	if code := h.do(t, http.MethodPost, "/api/surveys/"+v.ID+"/submit", nil, nil); code != http.StatusConflict {
		t.Errorf("second submit = %d, want 409", code)
	}
}

func TestSurveyOutOfRange(t *testing.T) {
	h := newHarness(t)
	h.login(t)

	v := h.open(t, 14)
	if v.Proximity.InRange || v.Gate.Reason != "out_of_range" || v.Gate.MetersNeeded != 120 {
		t.Fatalf("view = %+v", v)
	}
	if v.Presentation.StatusText != "❌ Muy lejos (200m) - Acércate 120m" {
		t.Errorf("status text = %q", v.Presentation.StatusText)
	}

	var e ErrorResponse
	if code := h.do(t, http.MethodPut, "/api/surveys/"+v.ID+"/answers", allAnswered, &e); code != http.StatusConflict {
		t.Fatalf("answers = %d, want 409", code)
	}
	if e.Reason != "out_of_range" || e.MetersNeeded != 120 || e.Message != "Acércate 120m más" {
		t.Errorf("error = %+v", e)
	}

	if code := h.do(t, http.MethodPost, "/api/surveys/"+v.ID+"/submit", SubmitRequest{ConfirmVisited: true}, nil); code != http.StatusConflict {
		t.Errorf("submit = %d, want 409", code)
	}
	if len(h.upstream.sent()) != 0 {
		t.Fatal("survey sent while out of range")
	}

	// Walking to the leader and refreshing unlocks the form.
	if err := h.feed.Push(location.Fix{Coordinate: north(target, 150)}); err != nil {
		t.Fatal(err)
	}
	var after SurveyView
	h.do(t, http.MethodPost, "/api/surveys/"+v.ID+"/proximity", nil, &after)
	if !after.Proximity.InRange || !after.Gate.InputsEnabled {
		t.Fatalf("after refresh = %+v", after)
	}
}

func TestVisitedLeaderNeedsConfirmation(t *testing.T) {
	h := newHarness(t)
	h.login(t)

	v := h.open(t, 13)
	h.do(t, http.MethodPut, "/api/surveys/"+v.ID+"/answers", allAnswered, nil)

	var e ErrorResponse
	if code := h.do(t, http.MethodPost, "/api/surveys/"+v.ID+"/submit", SubmitRequest{}, &e); code != http.StatusConflict {
		t.Fatalf("submit = %d, want 409", code)
	}
	if e.Error != "confirmation_required" || e.Message == "" {
		t.Errorf("error = %+v", e)
	}
	if code := h.do(t, http.MethodPost, "/api/surveys/"+v.ID+"/submit", SubmitRequest{ConfirmVisited: true}, nil); code != http.StatusOK {
		t.Fatalf("confirmed submit = %d", code)
	}
}

func TestSubmitRejectedKeepsAnswers(t *testing.T) {
	h := newHarness(t)
	h.login(t)
	h.upstream.mu.Lock()
	h.upstream.rejectMsg = "Encuesta duplicada"
	h.upstream.mu.Unlock()

	v := h.open(t, 12)
	h.do(t, http.MethodPut, "/api/surveys/"+v.ID+"/answers", allAnswered, nil)

	var e ErrorResponse
	if code := h.do(t, http.MethodPost, "/api/surveys/"+v.ID+"/submit", nil, &e); code != http.StatusBadGateway {
		t.Fatalf("submit = %d, want 502", code)
	}
	if e.Error != "Encuesta duplicada" || e.Kind != fieldwork.KindAPIRejected {
		t.Errorf("error = %+v", e)
	}

	var after SurveyView
	h.do(t, http.MethodGet, "/api/surveys/"+v.ID, nil, &after)
	if after.Answers.Pregunta1 != "S" || after.SurveyID != "" || !after.Gate.MayToSubmit {
		t.Errorf("view after rejection = %+v", after)
	}
}

func TestPermissionDenied(t *testing.T) {
	h := newHarness(t)
	h.login(t)
	if code := h.do(t, http.MethodPost, "/api/device/permission", PermissionRequest{Granted: false}, nil); code != http.StatusOK {
		t.Fatalf("permission = %d", code)
	}

	v := h.open(t, 12)
	if v.Proximity.Reason != fieldwork.KindPermissionDenied || v.Presentation.ErrorHint == "" {
		t.Fatalf("view = %+v", v)
	}
	if v.Gate.Reason != "awaiting_location" || v.Gate.InputsEnabled {
		t.Errorf("gate = %+v", v.Gate)
	}
}

func TestSurveyNotFound(t *testing.T) {
	h := newHarness(t)
	h.login(t)

	if code := h.do(t, http.MethodPost, "/api/surveys", OpenSurveyRequest{LeaderID: 99}, nil); code != http.StatusNotFound {
		t.Errorf("open unknown leader = %d, want 404", code)
	}
	if code := h.do(t, http.MethodGet, "/api/surveys/nope", nil, nil); code != http.StatusNotFound {
		t.Errorf("get unknown survey = %d, want 404", code)
	}

	v := h.open(t, 12)
	if code := h.do(t, http.MethodDelete, "/api/surveys/"+v.ID, nil, nil); code != http.StatusNoContent {
		t.Fatalf("close = %d", code)
	}
	if code := h.do(t, http.MethodGet, "/api/surveys/"+v.ID, nil, nil); code != http.StatusNotFound {
		t.Errorf("get closed survey = %d, want 404", code)
	}
	if n := h.server.registry.Len(); n != 0 {
		t.Errorf("open surveys = %d, want 0", n)
	}
}

func TestDevicePosition(t *testing.T) {
	h := newHarness(t)
	if code := h.do(t, http.MethodPost, "/api/device/position", PositionRequest{Latitude: 91, Longitude: 0}, nil); code != http.StatusBadRequest {
		t.Errorf("invalid position = %d, want 400", code)
	}
	if code := h.do(t, http.MethodPost, "/api/device/position", PositionRequest{Latitude: 10, Longitude: -74, Accuracy: 5}, nil); code != http.StatusNoContent {
		t.Errorf("valid position = %d, want 204", code)
	}
}
