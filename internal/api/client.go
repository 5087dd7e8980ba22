// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// =============================================================================
// ERRORS
// =============================================================================

// maxErrorBody caps how much of an error response body is read when
// extracting the detail message.
const maxErrorBody = 64 * 1024

// RequestError is a non-2xx response from the backend. Detail is taken from
// the JSON body's "detail" field when present, otherwise it is a generic
// message naming the status code.
type RequestError struct {
	Status int
	Detail string
}

// Error implements the error interface.
func (e *RequestError) Error() string {
	if e.Detail != "" {
		return e.Detail
	}
	return fmt.Sprintf("request failed: %d", e.Status)
}

// IsUnauthorized reports whether err is a 401 from the backend.
func IsUnauthorized(err error) bool {
	var reqErr *RequestError
	return errors.As(err, &reqErr) && reqErr.Status == http.StatusUnauthorized
}

// IsNotFound reports whether err is a 404 from the backend.
func IsNotFound(err error) bool {
	var reqErr *RequestError
	return errors.As(err, &reqErr) && reqErr.Status == http.StatusNotFound
}

// IsValidation reports whether err is a non-auth 4xx, the kind surfaced
// inline next to a form field rather than torn down globally.
func IsValidation(err error) bool {
	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		return false
	}
	return reqErr.Status >= 400 && reqErr.Status < 500 &&
		reqErr.Status != http.StatusUnauthorized
}

// IsServerError reports whether err is a 5xx from the backend.
func IsServerError(err error) bool {
	var reqErr *RequestError
	return errors.As(err, &reqErr) && reqErr.Status >= 500
}

// errorDetail is the backend's error body shape.
type errorDetail struct {
	Detail string `json:"detail"`
}

// =============================================================================
// CLIENT CONFIGURATION
// =============================================================================

// ClientConfig holds configuration for the backend client.
type ClientConfig struct {
	// BaseURL is the backend API base, e.g. "http://127.0.0.1:8000/api".
	BaseURL string

	// Timeout bounds non-streaming requests (default: 30s). Streaming
	// requests are bounded by their context instead.
	Timeout time.Duration

	// UserAgent is sent on every request.
	UserAgent string
}

// DefaultClientConfig returns the default client configuration.
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		BaseURL:   "http://127.0.0.1:8000/api",
		Timeout:   30 * time.Second,
		UserAgent: "consulta-tui/0.3.0",
	}
}

// =============================================================================
// CLIENT
// =============================================================================

// Client talks to the Consulta backend. The session cookie issued at login is
// held in an in-memory cookie jar shared by the JSON and streaming paths; the
// client never reads or constructs the cookie itself.
//
// The Client is safe for concurrent use.
type Client struct {
	baseURL      string
	userAgent    string
	httpClient   *http.Client
	streamClient *http.Client
	logger       *zap.Logger

	// onUnauthorized fires once per 401 response, before the error is
	// returned. The auth guard registers its teardown here.
	onUnauthorized func()
}

// NewClient creates a backend client. A nil config uses defaults; a nil
// logger disables logging.
func NewClient(cfg *ClientConfig, logger *zap.Logger) (*Client, error) {
	if cfg == nil {
		cfg = DefaultClientConfig()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultClientConfig().BaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultClientConfig().UserAgent
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	return &Client{
		baseURL:   strings.TrimSuffix(cfg.BaseURL, "/"),
		userAgent: cfg.UserAgent,
		httpClient: &http.Client{
			Jar:     jar,
			Timeout: cfg.Timeout,
		},
		// No timeout for the streaming client: a chat response can
		// legitimately take minutes, cancellation comes via context.
		streamClient: &http.Client{
			Jar: jar,
		},
		logger: logger,
	}, nil
}

// BaseURL returns the configured API base.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// SetUnauthorizedHook registers the callback fired whenever any endpoint
// answers 401. Intended for the auth guard's idempotent teardown.
func (c *Client) SetUnauthorizedHook(fn func()) {
	c.onUnauthorized = fn
}

// =============================================================================
// JSON REQUEST WRAPPER
// =============================================================================

// do performs one JSON exchange. body is marshaled when non-nil; the response
// is decoded into out when non-nil. A 204/205 or empty body leaves out
// untouched and returns nil, matching the "null" result of the wrapper this
// was modeled on.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req, body != nil)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer drainAndClose(resp.Body)

	c.logger.Debug("api response",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.errorFromResponse(resp)
	}

	if resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusResetContent {
		return nil
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if len(data) == 0 || out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// errorFromResponse builds the *RequestError for a non-2xx response and fires
// the unauthorized hook on 401.
func (c *Client) errorFromResponse(resp *http.Response) error {
	reqErr := &RequestError{Status: resp.StatusCode}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err == nil && len(data) > 0 {
		var detail errorDetail
		if json.Unmarshal(data, &detail) == nil && detail.Detail != "" {
			reqErr.Detail = detail.Detail
		}
	}

	if resp.StatusCode == http.StatusUnauthorized && c.onUnauthorized != nil {
		c.onUnauthorized()
	}
	return reqErr
}

// setHeaders sets the headers common to every request.
func (c *Client) setHeaders(req *http.Request, hasBody bool) {
	if hasBody {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("X-Request-ID", uuid.NewString())
}

// =============================================================================
// STREAMING ESCAPE HATCH
// =============================================================================

// OpenStream issues a POST whose response body is an incrementally-delivered
// byte stream. No status normalization happens here: the caller owns the
// response, including closing its body. The generic wrapper assumes a single
// complete JSON payload, which is exactly wrong for this endpoint.
func (c *Client) OpenStream(ctx context.Context, path string, payload any) (*http.Response, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req, true)
	req.Header.Set("Accept", "text/plain")

	resp, err := c.streamClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	return resp, nil
}

// =============================================================================
// HELPERS
// =============================================================================

// drainAndClose discards any unread body so the connection can be reused.
func drainAndClose(r io.ReadCloser) {
	io.Copy(io.Discard, r)
	r.Close()
}
