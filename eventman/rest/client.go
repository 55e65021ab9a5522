// Package rest is the EventMan REST API client used around the realtime
// session: login, the current user, event detail and registrations.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"
)

// Client provides REST API access to the EventMan server.
type Client struct {
	baseURL    string
	httpClient *http.Client

	mu    sync.RWMutex
	token string
}

// NewClient creates a new REST API client.
// baseURL should be the base URL of the API, e.g., "http://localhost:5000/api".
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// SetHTTPClient allows setting a custom HTTP client.
func (c *Client) SetHTTPClient(client *http.Client) {
	if client != nil {
		c.httpClient = client
	}
}

// SetToken sets the access token for authenticated requests.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// Token returns the current access token.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// Authentication endpoints

// Login authenticates with email and password. On success the returned
// token is also used for subsequent requests.
func (c *Client) Login(ctx context.Context, req LoginRequest) (*LoginResponse, error) {
	var resp envelope[LoginResponse]
	if err := c.post(ctx, "/auth/login", req, &resp, false); err != nil {
		return nil, err
	}
	if resp.Data.AccessToken == "" {
		return nil, errors.New("login response without access token")
	}
	c.SetToken(resp.Data.AccessToken)
	return &resp.Data, nil
}

// Me returns the authenticated user.
func (c *Client) Me(ctx context.Context) (*User, error) {
	var resp envelope[User]
	if err := c.get(ctx, "/users/me", &resp, true); err != nil {
		return nil, err
	}
	return &resp.Data, nil
}

// Event endpoints

// GetEvent returns the event detail.
func (c *Client) GetEvent(ctx context.Context, eventID string) (*Event, error) {
	var resp envelope[*Event]
	if err := c.get(ctx, "/events/"+url.PathEscape(eventID), &resp, true); err != nil {
		return nil, err
	}
	if resp.Data == nil {
		return nil, &APIError{StatusCode: http.StatusNotFound, Message: "Event not found."}
	}
	return resp.Data, nil
}

// Registration endpoints

// RegistrationStatus reports whether the authenticated user registered for eventID.
func (c *Client) RegistrationStatus(ctx context.Context, eventID string) (*RegistrationStatus, error) {
	var resp envelope[RegistrationStatus]
	if err := c.get(ctx, "/events/"+url.PathEscape(eventID)+"/registration-status", &resp, true); err != nil {
		return nil, err
	}
	return &resp.Data, nil
}

// UserRegistrations returns the authenticated user's registrations.
func (c *Client) UserRegistrations(ctx context.Context) (*RegistrationsResponse, error) {
	var resp envelope[RegistrationsResponse]
	if err := c.get(ctx, "/users/me/registrations", &resp, true); err != nil {
		return nil, err
	}
	return &resp.Data, nil
}

// IsUnauthorized reports a 401 response.
func IsUnauthorized(err error) bool { return statusOf(err) == http.StatusUnauthorized }

// IsNotFound reports a 404 response.
func IsNotFound(err error) bool { return statusOf(err) == http.StatusNotFound }

func statusOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// Helper methods

func (c *Client) post(ctx context.Context, path string, body, dest any, requireAuth bool) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if token := c.Token(); requireAuth && token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	return c.do(req, dest)
}

func (c *Client) get(ctx context.Context, path string, dest any, requireAuth bool) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, http.NoBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	if token := c.Token(); requireAuth && token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	return c.do(req, dest)
}

func (c *Client) do(req *http.Request, dest any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var errResp ErrorResponse
		if err := json.Unmarshal(body, &errResp); err == nil {
			apiErr.Message = errResp.Message
		}
		return apiErr
	}

	if dest != nil {
		if err := json.Unmarshal(body, dest); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}

	return nil
}
