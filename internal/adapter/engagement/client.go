// Package engagement registers audience tags with the engagement backend's
// HTTP API.
package engagement

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/couchcryptid/geotrigger-bridge/internal/domain"
)

// TagGroup is the tag group every geotrigger tag is registered under.
const TagGroup = "geotrigger"

// Client implements tags.Registrar against the channel tags endpoint.
// Requests are paced by a token bucket shared by all callers.
type Client struct {
	token      string
	httpClient *http.Client
	baseURL    string
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// NewClient creates an engagement API client allowing rps requests per second.
func NewClient(baseURL, token string, rps float64, timeout time.Duration, logger *slog.Logger) *Client {
	burst := max(1, int(rps))
	return &Client{
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		limiter:    rate.NewLimiter(rate.Limit(rps), burst),
		logger:     logger,
	}
}

// UpdateTags sends one add or remove request for the update's channel.
func (c *Client) UpdateTags(ctx context.Context, u domain.TagUpdate) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("wait for rate limiter: %w", err)
	}

	body, err := json.Marshal(newTagRequest(u))
	if err != nil {
		return fmt.Errorf("encode tag request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/channels/tags", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("tag request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("engagement API error: status %d: %s", resp.StatusCode, msg)
	}

	c.logger.Debug("tags registered",
		"channel_id", u.ChannelID,
		"instance_id", u.InstanceID,
		"add", u.Add,
		"remove", u.Remove,
	)
	return nil
}

// Engagement API request types.

type tagRequest struct {
	Audience   audience            `json:"audience"`
	Add        map[string][]string `json:"add,omitempty"`
	Remove     map[string][]string `json:"remove,omitempty"`
	Attributes map[string]string   `json:"attributes,omitempty"`
}

type audience struct {
	Channel string `json:"channel"`
}

func newTagRequest(u domain.TagUpdate) tagRequest {
	req := tagRequest{
		Audience:   audience{Channel: u.ChannelID},
		Attributes: u.CustomData,
	}
	if len(u.Add) > 0 {
		req.Add = map[string][]string{TagGroup: u.Add}
	}
	if len(u.Remove) > 0 {
		req.Remove = map[string][]string{TagGroup: u.Remove}
	}
	return req
}
