// Package session owns the logged-in gestor. A Manager is created once at
// startup, restores the persisted credentials, and replaces the Session
// wholesale on login and logout.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/surveysgeo/fieldagent/internal/api"
	"github.com/surveysgeo/fieldagent/internal/fieldwork"
)

var (
	ErrNotAuthenticated   = errors.New("not authenticated")
	ErrMissingCredentials = errors.New("missing usuario or password")
)

// MissingCredentialsMessage is shown when ErrMissingCredentials is returned.
const MissingCredentialsMessage = "Por favor completa todos los campos"

// Session is the credentials of the logged-in gestor.
type Session struct {
	Token string         `json:"-"`
	User  fieldwork.User `json:"user"`
}

func (s Session) Authenticated() bool { return s.Token != "" }

type Authenticator interface {
	Login(ctx context.Context, usuario, password string) (api.LoginResult, error)
}

type Manager struct {
	store  *Store
	auth   Authenticator
	logger *slog.Logger
	now    func() time.Time

	mu      sync.RWMutex
	current Session
}

func NewManager(store *Store, auth Authenticator, logger *slog.Logger) *Manager {
	return &Manager{
		store:  store,
		auth:   auth,
		logger: logger,
		now:    time.Now,
	}
}

// Init restores the persisted session. Missing, unreadable or expired
// credentials leave the manager logged out.
func (m *Manager) Init(ctx context.Context) error {
	token, ok, err := m.store.Get(ctx, TokenKey)
	if err != nil {
		m.logger.Warn("discarding persisted session", "error", err)
		return m.clear(ctx)
	}
	if !ok {
		return nil
	}

	if expired(token, m.now()) {
		m.logger.Info("persisted session expired")
		return m.clear(ctx)
	}

	var user fieldwork.User
	raw, ok, err := m.store.Get(ctx, UserKey)
	if err != nil || !ok {
		m.logger.Warn("persisted session has no user", "error", err)
		return m.clear(ctx)
	}
	if err := json.Unmarshal([]byte(raw), &user); err != nil {
		m.logger.Warn("persisted user unreadable", "error", err)
		return m.clear(ctx)
	}

	m.set(Session{Token: token, User: user})
	m.logger.Info("session restored", "usuario", user.Usuario)
	return nil
}

// expired reports whether token is a JWT whose exp has passed. Opaque tokens
// never expire locally; the API rejects them instead.
func expired(token string, now time.Time) bool {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return !now.Before(exp.Time)
}

// Login authenticates against the API and persists the new session.
func (m *Manager) Login(ctx context.Context, usuario, password string) (Session, error) {
	usuario = strings.TrimSpace(usuario)
	if usuario == "" || password == "" {
		return Session{}, ErrMissingCredentials
	}

	res, err := m.auth.Login(ctx, usuario, password)
	if err != nil {
		m.logger.Warn("login failed", "usuario", usuario, "error", err)
		return Session{}, fmt.Errorf("logging in: %w", err)
	}

	userJSON, err := json.Marshal(res.User)
	if err != nil {
		return Session{}, fmt.Errorf("encoding user: %w", err)
	}
	if err := m.store.SetAll(ctx, map[string]string{
		TokenKey: res.Token,
		UserKey:  string(userJSON),
	}); err != nil {
		return Session{}, fmt.Errorf("persisting session: %w", err)
	}

	s := Session{Token: res.Token, User: res.User}
	m.set(s)
	m.logger.Info("logged in", "usuario", res.User.Usuario)
	return s, nil
}

// Logout clears the token and user together.
func (m *Manager) Logout(ctx context.Context) error {
	if err := m.clear(ctx); err != nil {
		return err
	}
	m.logger.Info("logged out")
	return nil
}

// Current returns the active session or ErrNotAuthenticated.
func (m *Manager) Current() (Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.current.Authenticated() {
		return Session{}, ErrNotAuthenticated
	}
	return m.current, nil
}

func (m *Manager) set(s Session) {
	m.mu.Lock()
	m.current = s
	m.mu.Unlock()
}

func (m *Manager) clear(ctx context.Context) error {
	m.set(Session{})
	if err := m.store.DeleteAll(ctx, TokenKey, UserKey); err != nil {
		return fmt.Errorf("clearing session: %w", err)
	}
	return nil
}
