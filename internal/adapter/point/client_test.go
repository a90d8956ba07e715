package point

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/geotrigger-bridge/internal/domain"
	"github.com/couchcryptid/geotrigger-bridge/internal/observability"
)

const (
	testAPIKey        = "api-key"
	testToken         = "session-token"
	contentTypeJSON   = "application/json"
	headerContentType = "Content-Type"
)

var testCreds = Credentials{PackageName: "com.example.app", APIKey: testAPIKey, Username: "device-1"}

func testClient(baseURL string) (*Client, *observability.Metrics) {
	metrics := observability.NewMetricsForTesting()
	return NewClient(baseURL, testCreds, 5*time.Second, metrics, slog.New(slog.NewTextHandler(io.Discard, nil))), metrics
}

func backend(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/sessions", func(w http.ResponseWriter, r *http.Request) {
		var req authRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req.APIKey != testAPIKey {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		assert.Equal(t, "com.example.app", req.PackageName)
		assert.Equal(t, "device-1", req.Username)
		w.Header().Set(headerContentType, contentTypeJSON)
		assert.NoError(t, json.NewEncoder(w).Encode(authResponse{Token: testToken}))
	})
	mux.HandleFunc("GET /v1/zones/{id}", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, testAPIKey, r.Header.Get("X-Api-Key"))
		if r.PathValue("id") != "Z1" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		assert.Equal(t, "Bearer "+testToken, r.Header.Get("Authorization"))
		w.Header().Set(headerContentType, contentTypeJSON)
		_, _ = w.Write([]byte(`{
			"zoneId": "Z1",
			"zoneName": "Stadium",
			"customData": {"section": "north"},
			"fences": [{"id": "F1", "name": "Gate A", "geometryType": "Polygon"}],
			"beacons": [{"id": "B1", "name": "Bar", "proximityUUID": "uuid-1", "major": 1, "minor": 2}]
		}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_AuthenticateThenResolveZone(t *testing.T) {
	c, metrics := testClient(backend(t).URL)
	ctx := context.Background()

	require.NoError(t, c.Authenticate(ctx))

	zone, err := c.ResolveZone(ctx, "Z1")
	require.NoError(t, err)

	assert.Equal(t, "Z1", zone.ID)
	assert.Equal(t, "Stadium", zone.Name)
	assert.Equal(t, map[string]string{"section": "north"}, zone.CustomData)
	require.Len(t, zone.Fences, 1)
	assert.Equal(t, domain.GeometryPolygon, zone.Fences[0].Geometry)
	assert.Equal(t, "Z1", zone.Fences[0].ZoneID)
	require.Len(t, zone.Beacons, 1)
	assert.Equal(t, 2, zone.Beacons[0].Minor)

	name, ok := zone.SourceName(domain.KindBeacon, "B1")
	assert.True(t, ok)
	assert.Equal(t, "Bar", name)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ZoneLookups.WithLabelValues("success")))
}

func TestClient_Authenticate_Rejected(t *testing.T) {
	c, _ := testClient(backend(t).URL)
	c.creds.APIKey = "wrong"

	err := c.Authenticate(context.Background())
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestClient_Authenticate_EmptyToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c, _ := testClient(srv.URL)
	err := c.Authenticate(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty session token")
}

func TestClient_ResolveZone_NotFound(t *testing.T) {
	c, metrics := testClient(backend(t).URL)

	_, err := c.ResolveZone(context.Background(), "missing")
	require.ErrorIs(t, err, domain.ErrZoneNotFound)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ZoneLookups.WithLabelValues("error")))
}

func TestClient_ResolveZone_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream down"))
	}))
	defer srv.Close()

	c, _ := testClient(srv.URL)
	_, err := c.ResolveZone(context.Background(), "Z1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 502")
	assert.Contains(t, err.Error(), "upstream down")
}

func TestClient_ResolveZone_MalformedJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{not json`))
	}))
	defer srv.Close()

	c, _ := testClient(srv.URL)
	_, err := c.ResolveZone(context.Background(), "Z1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode response")
}
