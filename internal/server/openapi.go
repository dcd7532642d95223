package server

import (
	"encoding/json"
	"net/http"

	openapi "github.com/swaggest/openapi-go"
	"github.com/swaggest/openapi-go/openapi3"

	"github.com/surveysgeo/fieldagent/internal/fieldwork"
	"github.com/surveysgeo/fieldagent/internal/handler/health"
	"github.com/surveysgeo/fieldagent/internal/survey"
)

// SurveyRef declares the {id} path parameter of survey routes.
type SurveyRef struct {
	ID string `path:"id" format:"uuid"`
}

type answersRequest struct {
	SurveyRef
	survey.Answers
}

type submitRequest struct {
	SurveyRef
	SubmitRequest
}

type operation struct {
	method, path, summary, description string
	req                                any
	resp                               map[int]any
}

var operations = []operation{
	{
		method:      http.MethodGet,
		path:        "/healthz",
		summary:     "Health check",
		description: "Local store and remote API reachability. The remote API is optional: when it is down the status is degraded but still 200.",
		resp:        map[int]any{http.StatusOK: health.Response{}, http.StatusServiceUnavailable: health.Response{}},
	},
	{
		method:      http.MethodPost,
		path:        "/api/session/login",
		summary:     "Log in",
		description: "Authenticates against the surveys API and persists the token and profile.",
		req:         LoginRequest{},
		resp: map[int]any{
			http.StatusOK:           SessionResponse{},
			http.StatusBadRequest:   ErrorResponse{},
			http.StatusUnauthorized: ErrorResponse{},
			http.StatusBadGateway:   ErrorResponse{},
		},
	},
	{
		method:  http.MethodPost,
		path:    "/api/session/logout",
		summary: "Log out",
		resp:    map[int]any{http.StatusNoContent: nil},
	},
	{
		method:  http.MethodGet,
		path:    "/api/session",
		summary: "Current session",
		resp:    map[int]any{http.StatusOK: SessionResponse{}, http.StatusUnauthorized: ErrorResponse{}},
	},
	{
		method:  http.MethodGet,
		path:    "/api/gestor/me",
		summary: "Gestor profile",
		resp:    map[int]any{http.StatusOK: fieldwork.User{}, http.StatusBadGateway: ErrorResponse{}},
	},
	{
		method:      http.MethodGet,
		path:        "/api/leaders",
		summary:     "Leader roster",
		description: "Query parameters: filter (todos, pendientes, visitados), q (search text), near (lat,lng for nearest-first order).",
		resp:        map[int]any{http.StatusOK: LeadersResponse{}, http.StatusBadRequest: ErrorResponse{}},
	},
	{
		method:  http.MethodPost,
		path:    "/api/device/permission",
		summary: "Report location permission",
		req:     PermissionRequest{},
		resp:    map[int]any{http.StatusOK: DeviceResponse{}, http.StatusConflict: ErrorResponse{}},
	},
	{
		method:  http.MethodPost,
		path:    "/api/device/position",
		summary: "Report device position",
		req:     PositionRequest{},
		resp:    map[int]any{http.StatusNoContent: nil, http.StatusBadRequest: ErrorResponse{}},
	},
	{
		method:      http.MethodPost,
		path:        "/api/surveys",
		summary:     "Open survey",
		description: "Opens a survey for a leader and starts evaluating proximity.",
		req:         OpenSurveyRequest{},
		resp:        map[int]any{http.StatusCreated: SurveyView{}, http.StatusNotFound: ErrorResponse{}},
	},
	{
		method:  http.MethodGet,
		path:    "/api/surveys/history",
		summary: "Submitted surveys",
		resp:    map[int]any{http.StatusOK: []fieldwork.SubmissionRecord{}},
	},
	{
		method:  http.MethodGet,
		path:    "/api/surveys/{id}",
		summary: "Survey state",
		req:     SurveyRef{},
		resp:    map[int]any{http.StatusOK: SurveyView{}, http.StatusNotFound: ErrorResponse{}},
	},
	{
		method:  http.MethodDelete,
		path:    "/api/surveys/{id}",
		summary: "Close survey",
		req:     SurveyRef{},
		resp:    map[int]any{http.StatusNoContent: nil, http.StatusNotFound: ErrorResponse{}},
	},
	{
		method:  http.MethodPost,
		path:    "/api/surveys/{id}/proximity",
		summary: "Re-evaluate proximity",
		req:     SurveyRef{},
		resp:    map[int]any{http.StatusOK: SurveyView{}, http.StatusNotFound: ErrorResponse{}},
	},
	{
		method:      http.MethodPut,
		path:        "/api/surveys/{id}/answers",
		summary:     "Set answers",
		description: "Each answer is \"S\", \"N\" or null. Rejected while the agent is out of range.",
		req:         answersRequest{},
		resp:        map[int]any{http.StatusOK: SurveyView{}, http.StatusConflict: ErrorResponse{}},
	},
	{
		method:      http.MethodPost,
		path:        "/api/surveys/{id}/submit",
		summary:     "Submit survey",
		description: "Sends the survey once. Already visited leaders need confirm_visited.",
		req:         submitRequest{},
		resp: map[int]any{
			http.StatusOK:         SubmitResponse{},
			http.StatusConflict:   ErrorResponse{},
			http.StatusBadGateway: ErrorResponse{},
		},
	},
}

func newOpenAPISpec() *openapi3.Spec {
	r := openapi3.NewReflector()
	r.Spec.Info.Title = "SurveysGeo companion API"
	r.Spec.Info.Version = "0.1.0"
	r.Spec.Info.WithDescription("Local API of the SurveysGeo field agent: roster, proximity gate and survey submission.")

	for _, op := range operations {
		oc, _ := r.NewOperationContext(op.method, op.path)
		oc.SetSummary(op.summary)
		if op.description != "" {
			oc.SetDescription(op.description)
		}
		if op.req != nil {
			oc.AddReqStructure(op.req)
		}
		for status, body := range op.resp {
			oc.AddRespStructure(body, openapi.WithHTTPStatus(status))
		}
		_ = r.AddOperation(oc)
	}

	for _, path := range []string{"/api/surveys/{id}/events", "/api/surveys/{id}/ws"} {
		oc, _ := r.NewOperationContext(http.MethodGet, path)
		oc.SetSummary("Survey event stream")
		oc.SetDescription("Proximity, gate and submission events for one survey.")
		oc.AddReqStructure(SurveyRef{})
		if path == "/api/surveys/{id}/events" {
			oc.AddRespStructure(nil, openapi.WithHTTPStatus(http.StatusOK), openapi.WithContentType("text/event-stream"))
		} else {
			oc.AddRespStructure(nil, openapi.WithHTTPStatus(http.StatusSwitchingProtocols))
		}
		_ = r.AddOperation(oc)
	}

	return r.Spec
}

func handleOpenAPI() http.HandlerFunc {
	spec := newOpenAPISpec()
	data, _ := json.MarshalIndent(spec, "", "  ")

	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	}
}
