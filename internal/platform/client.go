package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"closer/internal/config"
	"closer/internal/domain"
	"closer/internal/models"

	"github.com/rs/zerolog"
)

var ErrNotConfigured = errors.New("platform api is not configured")

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("http %d", e.Code)
	}
	return fmt.Sprintf("http %d: %s", e.Code, e.Body)
}

// Client calls the community platform REST API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *zerolog.Logger

	cache    domain.BlobCache
	cacheTTL time.Duration
}

// NewClient constructs a client from config. An empty base URL yields a
// client whose calls return ErrNotConfigured.
func NewClient(cfg config.PlatformConfig, logger *zerolog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
		cacheTTL:   cfg.ConfigTTL,
	}
}

// UseCache configures caching for GET /config responses.
func (c *Client) UseCache(cache domain.BlobCache, ttl time.Duration) {
	c.cache = cache
	if ttl > 0 {
		c.cacheTTL = ttl
	}
}

// SubmitReferral records that a user's on-chain action should be credited
// to their referrer.
func (c *Client) SubmitReferral(ctx context.Context, attribution models.ReferralAttribution) error {
	return c.doPost(ctx, "/referral/attribution", attribution, nil)
}

// GetConfig returns the platform config document for slug as raw JSON.
func (c *Client) GetConfig(ctx context.Context, slug string) (json.RawMessage, error) {
	if slug == "" {
		return nil, errors.New("config slug is required")
	}
	cacheKey := "platform:config:" + slug
	if raw, ok := c.readCache(ctx, cacheKey); ok {
		return raw, nil
	}

	var raw json.RawMessage
	if err := c.doGet(ctx, "/config/"+url.PathEscape(slug), &raw); err != nil {
		return nil, err
	}
	c.writeCache(ctx, cacheKey, raw)
	return raw, nil
}

// RecordMetric posts a usage metric.
func (c *Client) RecordMetric(ctx context.Context, metric models.PlatformMetric) error {
	if metric.Event == "" {
		return errors.New("metric event is required")
	}
	return c.doPost(ctx, "/metric", metric, nil)
}

func (c *Client) readCache(ctx context.Context, key string) (json.RawMessage, bool) {
	if c.cache == nil || c.cacheTTL <= 0 {
		return nil, false
	}
	val, ok, err := c.cache.GetBlob(ctx, key)
	if err != nil || !ok || !json.Valid(val) {
		return nil, false
	}
	return json.RawMessage(val), true
}

func (c *Client) writeCache(ctx context.Context, key string, val json.RawMessage) {
	if c.cache == nil || c.cacheTTL <= 0 {
		return
	}
	if err := c.cache.SetBlob(ctx, key, val, c.cacheTTL); err != nil {
		c.logger.Debug().Err(err).Str("key", key).Msg("platform cache write")
	}
}

func (c *Client) doGet(ctx context.Context, path string, out any) error {
	if c.baseURL == "" {
		return ErrNotConfigured
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	c.addHeaders(req)
	return c.do(req, out)
}

func (c *Client) doPost(ctx context.Context, path string, body any, out any) error {
	if c.baseURL == "" {
		return ErrNotConfigured
	}
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.addHeaders(req)
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) addHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}
}
