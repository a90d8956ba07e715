// Package session owns the single authenticated session with the location
// backend.
//
// States move LoggedOut -> Authenticating -> Authenticated and back to
// LoggedOut on logout or failed authentication. There are no timeout-driven
// transitions; deadlines belong to the Authenticator.
//
// A Manager is not safe for concurrent use. Its owner serializes calls,
// including the completion callback passed to Start.
package session

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/geotrigger-bridge/internal/domain"
	"github.com/couchcryptid/geotrigger-bridge/internal/observability"
)

// State is the lifecycle state of the session.
type State int

const (
	LoggedOut State = iota
	Authenticating
	Authenticated
)

var stateNames = map[State]string{
	LoggedOut:      "logged_out",
	Authenticating: "authenticating",
	Authenticated:  "authenticated",
}

// String returns the snake_case state name, or "unknown".
func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "unknown"
}

// MarshalJSON encodes the state by name.
func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// Authenticator performs the authentication handshake with the location backend.
type Authenticator interface {
	Authenticate(ctx context.Context) error
}

// AuthenticatorFunc adapts a function to the Authenticator interface.
type AuthenticatorFunc func(ctx context.Context) error

func (f AuthenticatorFunc) Authenticate(ctx context.Context) error {
	return f(ctx)
}

// Session describes the current session.
type Session struct {
	State     State     `json:"state"`
	ID        string    `json:"id,omitempty"`
	StartedAt time.Time `json:"started_at,omitzero"`
}

// CompletionFunc receives the outcome of an authentication attempt.
type CompletionFunc func(attempt uint64, err error)

// Manager drives the session state machine.
type Manager struct {
	auth    Authenticator
	clock   clockwork.Clock
	logger  *slog.Logger
	metrics *observability.Metrics

	current Session
	attempt uint64
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the time source used for StartedAt.
func WithClock(c clockwork.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// NewManager creates a logged-out Manager.
func NewManager(auth Authenticator, logger *slog.Logger, metrics *observability.Metrics, opts ...Option) *Manager {
	m := &Manager{
		auth:    auth,
		clock:   domain.Clock(),
		logger:  logger,
		metrics: metrics,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.setState(LoggedOut)
	return m
}

// Current returns the current session.
func (m *Manager) Current() Session {
	return m.current
}

// State returns the current state.
func (m *Manager) State() State {
	return m.current.State
}

// Start begins an authentication attempt from LoggedOut and returns true.
// The Authenticator runs on its own goroutine and reports through done, which
// the caller must route back into Complete under its serialization. Start is a
// no-op returning false while Authenticating or Authenticated.
//
// Cancellation of ctx does not abort the attempt once started.
func (m *Manager) Start(ctx context.Context, done CompletionFunc) bool {
	if m.current.State != LoggedOut {
		m.logger.Debug("authenticate ignored", "state", m.current.State)
		return false
	}

	m.attempt++
	attempt := m.attempt
	m.setState(Authenticating)
	m.logger.Info("authenticating", "attempt", attempt)

	ctx = context.WithoutCancel(ctx)
	go func() {
		done(attempt, m.auth.Authenticate(ctx))
	}()
	return true
}

// Complete applies the outcome of an attempt. It returns true only when the
// session became Authenticated. Outcomes of attempts that are no longer
// current are ignored.
func (m *Manager) Complete(attempt uint64, err error) bool {
	if attempt != m.attempt || m.current.State != Authenticating {
		m.logger.Info("stale authentication result ignored",
			"attempt", attempt,
			"current_attempt", m.attempt,
			"state", m.current.State,
		)
		m.metrics.AuthAttempts.WithLabelValues("stale").Inc()
		return false
	}

	if err != nil {
		m.logger.Warn("authentication failed", "attempt", attempt, "error", err)
		m.metrics.AuthAttempts.WithLabelValues("failure").Inc()
		m.setState(LoggedOut)
		return false
	}

	m.current = Session{
		State:     Authenticated,
		ID:        uuid.NewString(),
		StartedAt: m.clock.Now(),
	}
	m.metrics.SessionState.Set(float64(Authenticated))
	m.metrics.AuthAttempts.WithLabelValues("success").Inc()
	m.logger.Info("authenticated", "attempt", attempt, "session_id", m.current.ID)
	return true
}

// Logout ends an Authenticated session and returns true. It is a no-op
// returning false in any other state.
func (m *Manager) Logout() bool {
	if m.current.State != Authenticated {
		m.logger.Debug("logout ignored", "state", m.current.State)
		return false
	}
	m.logger.Info("logged out", "session_id", m.current.ID)
	m.setState(LoggedOut)
	return true
}

func (m *Manager) setState(s State) {
	m.current = Session{State: s}
	m.metrics.SessionState.Set(float64(s))
}
