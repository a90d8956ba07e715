package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/couchcryptid/geotrigger-bridge/internal/domain"
	"github.com/couchcryptid/geotrigger-bridge/internal/session"
)

// Controller is the application surface of the bridge.
type Controller interface {
	Authenticate(ctx context.Context)
	Logout()
	Session() session.Session
	OpenTriggers() []domain.TriggerInstance
}

// Server exposes health, readiness, metrics, session control and the live
// callback feed.
type Server struct {
	httpServer *http.Server
	ctrl       Controller
	logger     *slog.Logger
}

// NewServer creates an HTTP server. feed may be nil, in which case /ws is not
// routed.
func NewServer(addr string, ready sharedobs.ReadinessChecker, ctrl Controller, feed http.Handler, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		ctrl:   ctrl,
		logger: logger,
	}

	mux.HandleFunc("GET /healthz", sharedobs.LivenessHandler())
	mux.HandleFunc("GET /readyz", sharedobs.ReadinessHandler(ready))
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("POST /session/authenticate", s.handleAuthenticate)
	mux.HandleFunc("POST /session/logout", s.handleLogout)
	mux.HandleFunc("GET /session", s.handleSession)
	mux.HandleFunc("GET /triggers", s.handleTriggers)
	if feed != nil {
		mux.Handle("GET /ws", feed)
	}

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

// handleAuthenticate starts authentication and answers with the session as
// it stands; completion is reported on the feed and via GET /session.
func (s *Server) handleAuthenticate(w http.ResponseWriter, r *http.Request) {
	s.ctrl.Authenticate(r.Context())
	writeJSON(w, http.StatusAccepted, s.ctrl.Session())
}

func (s *Server) handleLogout(w http.ResponseWriter, _ *http.Request) {
	s.ctrl.Logout()
	writeJSON(w, http.StatusOK, s.ctrl.Session())
}

func (s *Server) handleSession(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.Session())
}

type triggersResponse struct {
	Count    int                      `json:"count"`
	Triggers []domain.TriggerInstance `json:"triggers"`
}

func (s *Server) handleTriggers(w http.ResponseWriter, _ *http.Request) {
	open := s.ctrl.OpenTriggers()
	writeJSON(w, http.StatusOK, triggersResponse{Count: len(open), Triggers: open})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best-effort response
}
