// Package authapi is the HTTP client for the touch-grass Identity Service.
package authapi

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

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/time/rate"
)

const maxErrorBody = 64 << 10

// Observer receives timing for every Identity Service call.
type Observer interface {
	ObserveIdentityRequest(endpoint string, status int, elapsed time.Duration)
}

// Config holds client configuration.
type Config struct {
	BaseURL   string
	Timeout   time.Duration
	RateLimit float64 // requests per second; <= 0 disables limiting
	Burst     int
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		BaseURL:   "http://localhost:3000/api",
		Timeout:   15 * time.Second,
		RateLimit: 20,
		Burst:     40,
	}
}

// SignupRequest is the registration payload. Optional profile fields are
// forwarded to the service unmodified.
type SignupRequest struct {
	Email       string   `json:"email"`
	Password    string   `json:"password"`
	Role        string   `json:"role"`
	FamilyCode  string   `json:"familyCode,omitempty"`
	Name        string   `json:"name,omitempty"`
	Age         *int     `json:"age,omitempty"`
	Interests   []string `json:"interests,omitempty"`
	AvatarColor string   `json:"avatarColor,omitempty"`
}

// Client talks to the Identity Service.
type Client struct {
	baseURL   string
	http      *http.Client
	limiter   *rate.Limiter
	observer  Observer
	sanitizer *bluemonday.Policy
	logger    *slog.Logger
}

// New creates a Client. A nil logger falls back to slog.Default.
func New(cfg Config, observer Observer, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	return &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		http:      &http.Client{Timeout: cfg.Timeout},
		limiter:   limiter,
		observer:  observer,
		sanitizer: bluemonday.StrictPolicy(),
		logger:    logger,
	}
}

// Login exchanges credentials for an auth payload. The payload shape varies
// between service versions and is returned undecoded.
func (c *Client) Login(ctx context.Context, email, password string) (json.RawMessage, error) {
	body := map[string]string{"email": email, "password": password}
	return c.do(ctx, http.MethodPost, "/auth/login", "", body)
}

// Signup registers an account and returns the undecoded auth payload.
func (c *Client) Signup(ctx context.Context, req SignupRequest) (json.RawMessage, error) {
	return c.do(ctx, http.MethodPost, "/auth/signup", "", req)
}

// CurrentUser returns the undecoded current-user payload for token.
func (c *Client) CurrentUser(ctx context.Context, token string) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, "/auth/me", token, nil)
}

// Logout revokes token on the service side.
func (c *Client) Logout(ctx context.Context, token string) error {
	_, err := c.do(ctx, http.MethodPost, "/auth/logout", token, nil)
	return err
}

func (c *Client) do(ctx context.Context, method, endpoint, token string, payload any) (json.RawMessage, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s body: %w", endpoint, err)
		}
		body = bytes.NewReader(data)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %s %s: %w", ErrRequestFailed, method, endpoint, err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", endpoint, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.observe(endpoint, 0, start)
		c.logger.Error("Identity service request failed", "method", method, "endpoint", endpoint, "error", err)
		return nil, fmt.Errorf("%w: %s %s: %w", ErrRequestFailed, method, endpoint, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Debug("Failed to close response body", "endpoint", endpoint, "error", closeErr)
		}
	}()
	c.observe(endpoint, resp.StatusCode, start)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := readHTTPError(resp)
		c.logger.Warn("Identity service returned error",
			"method", method,
			"endpoint", endpoint,
			"status", resp.StatusCode,
			"message", apiErr.Message)
		return nil, apiErr
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s response: %w", ErrRequestFailed, endpoint, err)
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("%w: %s returned a non-JSON body", ErrRequestFailed, endpoint)
	}
	return json.RawMessage(data), nil
}

func (c *Client) observe(endpoint string, status int, start time.Time) {
	if c.observer != nil {
		c.observer.ObserveIdentityRequest(endpoint, status, time.Since(start))
	}
}

func readHTTPError(resp *http.Response) *HTTPError {
	apiErr := &HTTPError{StatusCode: resp.StatusCode}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return apiErr
	}

	if strings.Contains(resp.Header.Get("Content-Type"), "application/json") {
		var payload struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(raw, &payload) == nil {
			apiErr.Message = payload.Message
		}
		return apiErr
	}

	apiErr.Message = strings.TrimSpace(string(raw))
	return apiErr
}
