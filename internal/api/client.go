// Package api is the client of the remote surveys API.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/surveysgeo/fieldagent/internal/fieldwork"
	"github.com/surveysgeo/fieldagent/internal/metrics"
)

const (
	DefaultBaseURL = "http://192.168.6.225/surveys-api"

	PathLogin    = "/auth/login"
	PathLeaders  = "/v1/lideres/"
	PathSurveys  = "/v1/encuestas/"
	PathGestorMe = "/v1/gestores/me"
)

const (
	NetworkMessage  = "Error de conexión. Verifica tu internet."
	rejectedMessage = "Error en la solicitud"
)

// Error is a failed API call. A zero Status means the request never got an
// HTTP response.
type Error struct {
	Endpoint string
	Status   int
	Message  string
	Details  json.RawMessage
	Err      error
}

func (e *Error) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("%s: %s: %v", e.Endpoint, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Endpoint, e.Status, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Kind() fieldwork.ErrorKind {
	if e.Status == 0 {
		return fieldwork.KindNetworkFailure
	}
	return fieldwork.KindAPIRejected
}

// envelope is the wrapper around every API response.
type envelope struct {
	Success      bool            `json:"success"`
	Message      string          `json:"message"`
	Data         json.RawMessage `json:"data"`
	ErrorDetails json.RawMessage `json:"error_details"`
	Timestamp    string          `json:"timestamp"`
	Version      string          `json:"version"`
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

type LoginResult struct {
	Token     string         `json:"token"`
	User      fieldwork.User `json:"user"`
	ExpiresIn int            `json:"expires_in"`
	TokenType string         `json:"token_type"`
}

func (c *Client) Login(ctx context.Context, usuario, password string) (LoginResult, error) {
	body := map[string]string{"usuario": usuario, "password": password}
	var res LoginResult
	if err := c.do(ctx, http.MethodPost, PathLogin, "", body, &res); err != nil {
		return LoginResult{}, err
	}
	if res.Token == "" {
		return LoginResult{}, &Error{Endpoint: PathLogin, Status: http.StatusOK, Message: "respuesta de login sin token"}
	}
	return res, nil
}

type Roster struct {
	Lideres    []fieldwork.Leader   `json:"lideres"`
	Statistics fieldwork.Statistics `json:"statistics"`
}

func (c *Client) Leaders(ctx context.Context, token string) (Roster, error) {
	var r Roster
	if err := c.do(ctx, http.MethodGet, PathLeaders, token, nil, &r); err != nil {
		return Roster{}, err
	}
	return r, nil
}

// surveyID accepts either a JSON number or string.
type surveyID string

func (s *surveyID) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = surveyID(v)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*s = surveyID(n.String())
	return nil
}

// CreateSurvey sends a survey and returns the id assigned by the server.
// The id is empty when a successful response carries none.
func (c *Client) CreateSurvey(ctx context.Context, token string, p fieldwork.SurveyPayload) (string, error) {
	var created struct {
		IDEncuesta surveyID `json:"id_encuesta"`
		EncuestaID surveyID `json:"encuesta_id"`
	}
	if err := c.do(ctx, http.MethodPost, PathSurveys, token, p, &created); err != nil {
		return "", err
	}
	if created.IDEncuesta != "" {
		return string(created.IDEncuesta), nil
	}
	return string(created.EncuestaID), nil
}

// Me returns the profile of the logged-in gestor.
func (c *Client) Me(ctx context.Context, token string) (fieldwork.User, error) {
	var u fieldwork.User
	if err := c.do(ctx, http.MethodGet, PathGestorMe, token, nil, &u); err != nil {
		return fieldwork.User{}, err
	}
	return u, nil
}

// Ping reports whether the API answers HTTP at all. Any response counts.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+PathLogin, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("reaching surveys api: %w", err)
	}
	resp.Body.Close()
	return nil
}

func (c *Client) do(ctx context.Context, method, endpoint, token string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding %s request: %w", endpoint, err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, body)
	if err != nil {
		return fmt.Errorf("creating %s request: %w", endpoint, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if token != "" && endpoint != PathLogin {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.APIRequests.WithLabelValues(endpoint, "network_failure").Inc()
		c.logger.Error("surveys api unreachable", "method", method, "endpoint", endpoint, "error", err)
		return &Error{Endpoint: endpoint, Message: NetworkMessage, Err: err}
	}
	defer resp.Body.Close()

	var env envelope
	decodeErr := json.NewDecoder(resp.Body).Decode(&env)

	c.logger.Info("surveys api response",
		"method", method,
		"endpoint", endpoint,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 || decodeErr != nil || !env.Success {
		msg := env.Message
		if msg == "" {
			msg = rejectedMessage
		}
		metrics.APIRequests.WithLabelValues(endpoint, "rejected").Inc()
		c.logger.Warn("surveys api rejected request",
			"endpoint", endpoint,
			"status", resp.StatusCode,
			"message", msg,
		)
		apiErr := &Error{Endpoint: endpoint, Status: resp.StatusCode, Message: msg, Details: env.ErrorDetails}
		if decodeErr != nil && !errors.Is(decodeErr, io.EOF) {
			apiErr.Err = fmt.Errorf("decoding envelope: %w", decodeErr)
		}
		return apiErr
	}

	metrics.APIRequests.WithLabelValues(endpoint, "ok").Inc()
	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return &Error{
			Endpoint: endpoint,
			Status:   resp.StatusCode,
			Message:  "respuesta inválida del servidor",
			Err:      fmt.Errorf("decoding %s data: %w", endpoint, err),
		}
	}
	return nil
}

