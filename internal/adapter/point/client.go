// Package point talks to the location backend: it authenticates the device
// session and looks up zone configuration.
package point

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/couchcryptid/geotrigger-bridge/internal/domain"
	"github.com/couchcryptid/geotrigger-bridge/internal/observability"
)

// Credentials identify the app and user to the location backend.
type Credentials struct {
	PackageName string
	APIKey      string
	Username    string
}

// ErrUnauthorized is returned when the backend rejects the credentials.
var ErrUnauthorized = errors.New("location backend rejected credentials")

// Client implements session.Authenticator and domain.ZoneResolver.
type Client struct {
	creds      Credentials
	httpClient *http.Client
	baseURL    string
	metrics    *observability.Metrics
	logger     *slog.Logger

	mu    sync.RWMutex
	token string
}

// NewClient creates a location backend client.
func NewClient(baseURL string, creds Credentials, timeout time.Duration, metrics *observability.Metrics, logger *slog.Logger) *Client {
	return &Client{
		creds:      creds,
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		metrics:    metrics,
		logger:     logger,
	}
}

// Authenticate exchanges the credentials for a session token used by later
// zone lookups.
func (c *Client) Authenticate(ctx context.Context) error {
	body, err := json.Marshal(authRequest{
		PackageName: c.creds.PackageName,
		APIKey:      c.creds.APIKey,
		Username:    c.creds.Username,
	})
	if err != nil {
		return fmt.Errorf("encode auth request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/sessions", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var resp authResponse
	if err := c.do(req, &resp); err != nil {
		return fmt.Errorf("authenticate: %w", err)
	}
	if resp.Token == "" {
		return errors.New("authenticate: empty session token")
	}

	c.mu.Lock()
	c.token = resp.Token
	c.mu.Unlock()
	return nil
}

// ResolveZone fetches a zone with its member fences and beacons.
func (c *Client) ResolveZone(ctx context.Context, zoneID string) (domain.Zone, error) {
	u := fmt.Sprintf("%s/v1/zones/%s", c.baseURL, url.PathEscape(zoneID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return domain.Zone{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("X-Api-Key", c.creds.APIKey)

	c.mu.RLock()
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	c.mu.RUnlock()

	var z zoneResponse
	if err := c.do(req, &z); err != nil {
		c.metrics.ZoneLookups.WithLabelValues("error").Inc()
		return domain.Zone{}, fmt.Errorf("resolve zone %s: %w", zoneID, err)
	}
	c.metrics.ZoneLookups.WithLabelValues("success").Inc()
	return z.toDomain(), nil
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return ErrUnauthorized
	case resp.StatusCode == http.StatusNotFound:
		return domain.ErrZoneNotFound
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("location API error: status %d: %s", resp.StatusCode, body)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Location API request and response types.

type authRequest struct {
	PackageName string `json:"packageName"`
	APIKey      string `json:"apiKey"`
	Username    string `json:"username"`
}

type authResponse struct {
	Token string `json:"token"`
}

type zoneResponse struct {
	ZoneID     string            `json:"zoneId"`
	ZoneName   string            `json:"zoneName"`
	CustomData map[string]string `json:"customData"`
	Fences     []struct {
		ID       string `json:"id"`
		Name     string `json:"name"`
		Geometry string `json:"geometryType"`
	} `json:"fences"`
	Beacons []struct {
		ID            string `json:"id"`
		Name          string `json:"name"`
		ProximityUUID string `json:"proximityUUID"`
		Major         int    `json:"major"`
		Minor         int    `json:"minor"`
	} `json:"beacons"`
}

func (z zoneResponse) toDomain() domain.Zone {
	zone := domain.Zone{
		ID:         z.ZoneID,
		Name:       z.ZoneName,
		CustomData: z.CustomData,
	}
	for _, f := range z.Fences {
		zone.Fences = append(zone.Fences, domain.Fence{
			ID:       f.ID,
			Name:     f.Name,
			ZoneID:   z.ZoneID,
			Geometry: domain.ParseGeometry(f.Geometry),
		})
	}
	for _, b := range z.Beacons {
		zone.Beacons = append(zone.Beacons, domain.Beacon{
			ID:            b.ID,
			Name:          b.Name,
			ZoneID:        z.ZoneID,
			ProximityUUID: b.ProximityUUID,
			Major:         b.Major,
			Minor:         b.Minor,
		})
	}
	return zone
}
