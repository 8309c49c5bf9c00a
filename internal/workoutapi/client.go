// Package workoutapi is the HTTP client for the treniren workout API.
package workoutapi

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

	"example.com/treniren/internal/domain"
)

const (
	// SessionCookie carries the session token.
	SessionCookie = "treniren_session"
	// CSRFHeader must echo the session's CSRF token on mutating requests.
	CSRFHeader = "X-CSRF-Token"
)

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("workout api: status %d", e.Status)
	}
	return fmt.Sprintf("workout api: status %d: %s", e.Status, e.Message)
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Status == http.StatusNotFound
}

// Credentials authenticate requests as the current user.
type Credentials struct {
	Session string
	CSRF    string
}

// Client talks to the workout API.
type Client struct {
	baseURL    string
	creds      Credentials
	httpClient *http.Client
}

// Option configures optional behaviour for the Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// New constructs a client for the API rooted at baseURL.
func New(baseURL string, creds Credentials, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		creds:   creds,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Create posts a new workout and returns the server-assigned id.
func (c *Client) Create(ctx context.Context, in domain.WorkoutInput) (string, error) {
	var created domain.RemoteWorkout
	if err := c.do(ctx, http.MethodPost, "/api/workouts", in, &created); err != nil {
		return "", err
	}
	if created.ID == "" {
		return "", errors.New("workout api: create response without id")
	}
	return created.ID, nil
}

// Update replaces the workout identified by id.
func (c *Client) Update(ctx context.Context, id string, in domain.WorkoutInput) error {
	return c.do(ctx, http.MethodPut, "/api/workouts/"+url.PathEscape(id), in, nil)
}

// Delete removes the workout identified by id.
func (c *Client) Delete(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/workouts/"+url.PathEscape(id), nil, nil)
}

// Get fetches a single workout.
func (c *Client) Get(ctx context.Context, id string) (domain.RemoteWorkout, error) {
	var w domain.RemoteWorkout
	err := c.do(ctx, http.MethodGet, "/api/workouts/"+url.PathEscape(id), nil, &w)
	return w, err
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.creds.Session != "" {
		req.AddCookie(&http.Cookie{Name: SessionCookie, Value: c.creds.Session})
	}
	if method != http.MethodGet && c.creds.CSRF != "" {
		req.Header.Set(CSRFHeader, c.creds.CSRF)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeStatusError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeStatusError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var payload struct {
		Error string `json:"error"`
	}
	msg := strings.TrimSpace(string(data))
	if err := json.Unmarshal(data, &payload); err == nil && payload.Error != "" {
		msg = payload.Error
	}
	return &StatusError{Status: resp.StatusCode, Message: msg}
}
