package http_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpadapter "github.com/couchcryptid/geotrigger-bridge/internal/adapter/http"
	"github.com/couchcryptid/geotrigger-bridge/internal/domain"
	"github.com/couchcryptid/geotrigger-bridge/internal/session"
)

type mockReadiness struct {
	err error
}

func (m *mockReadiness) CheckReadiness(_ context.Context) error { return m.err }

type mockController struct {
	state         session.State
	authenticated int
	loggedOut     int
	open          []domain.TriggerInstance
}

func (m *mockController) Authenticate(context.Context) {
	m.authenticated++
	m.state = session.Authenticating
}

func (m *mockController) Logout() {
	m.loggedOut++
	m.state = session.LoggedOut
}

func (m *mockController) Session() session.Session { return session.Session{State: m.state} }

func (m *mockController) OpenTriggers() []domain.TriggerInstance { return m.open }

func newTestServer(readyErr error, ctrl *mockController, feed http.Handler) *httpadapter.Server {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return httpadapter.NewServer(":0", &mockReadiness{err: readyErr}, ctrl, feed, logger)
}

func serve(srv *httpadapter.Server, method, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestHealthzReturns200(t *testing.T) {
	rec := serve(newTestServer(nil, &mockController{}, nil), http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReadyzReturns200WhenReady(t *testing.T) {
	rec := serve(newTestServer(nil, &mockController{}, nil), http.MethodGet, "/readyz")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReadyzReturns503WhenNotReady(t *testing.T) {
	rec := serve(newTestServer(fmt.Errorf("session is logged_out"), &mockController{}, nil), http.MethodGet, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	rec := serve(newTestServer(nil, &mockController{}, nil), http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestAuthenticateReturnsAccepted(t *testing.T) {
	ctrl := &mockController{}
	rec := serve(newTestServer(nil, ctrl, nil), http.MethodPost, "/session/authenticate")

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 1, ctrl.authenticated)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "authenticating", body["state"])
}

func TestLogout(t *testing.T) {
	ctrl := &mockController{state: session.Authenticated}
	rec := serve(newTestServer(nil, ctrl, nil), http.MethodPost, "/session/logout")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, ctrl.loggedOut)
	assert.JSONEq(t, `{"state":"logged_out"}`, rec.Body.String())
}

func TestSessionRequiresGet(t *testing.T) {
	rec := serve(newTestServer(nil, &mockController{}, nil), http.MethodPost, "/session")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestTriggersListsOpenInstances(t *testing.T) {
	ctrl := &mockController{open: []domain.TriggerInstance{
		{ID: "inst-1", Key: domain.TriggerKey{Kind: domain.KindFence, SourceID: "F1"}, Tags: []string{"vip"}},
	}}
	rec := serve(newTestServer(nil, ctrl, nil), http.MethodGet, "/triggers")

	assert.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Count    int `json:"count"`
		Triggers []struct {
			ID  string `json:"id"`
			Key struct {
				Kind     string `json:"kind"`
				SourceID string `json:"source_id"`
			} `json:"key"`
		} `json:"triggers"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Count)
	assert.Equal(t, "inst-1", body.Triggers[0].ID)
	assert.Equal(t, "fence", body.Triggers[0].Key.Kind)
}

func TestFeedRoutedOnlyWhenConfigured(t *testing.T) {
	rec := serve(newTestServer(nil, &mockController{}, nil), http.MethodGet, "/ws")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	feed := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusTeapot) })
	rec = serve(newTestServer(nil, &mockController{}, feed), http.MethodGet, "/ws")
	assert.Equal(t, http.StatusTeapot, rec.Code)
}
