// Package sentinel provides a Go client for the sentinel login API.
//
// A browser starts a login at LoginURL; after the provider round trip,
// sentinel redirects back with ?token=... appended. That token
// authenticates the account calls:
//
//	client := sentinel.New("https://auth.example.com", sentinel.WithToken(token))
//	profile, err := client.Me(ctx)
package sentinel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// Client talks to a sentinel server.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithToken sets the session token sent as a Bearer credential.
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = token
	}
}

// New creates a client. baseURL is the server root (e.g. "https://auth.example.com").
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Health checks that the server and its database are reachable.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	return doRequest[HealthResponse](ctx, c, http.MethodGet, "/healthz", nil, http.StatusOK)
}

// Providers lists the login providers the server offers.
func (c *Client) Providers(ctx context.Context) ([]Provider, error) {
	out, err := doRequest[providersResponse](ctx, c, http.MethodGet, "/api/auth/providers", nil, http.StatusOK)
	if err != nil {
		return nil, err
	}
	return out.Providers, nil
}

// LoginURL is where a browser should be sent to log in with provider.
// redirectURL receives ?token=... on success; if empty the callback
// answers with a JSON LoginResult instead.
func (c *Client) LoginURL(provider, redirectURL string) string {
	u := fmt.Sprintf("%s/api/auth/%s/login", c.baseURL, url.PathEscape(provider))
	if redirectURL != "" {
		u += "?redirect_url=" + url.QueryEscape(redirectURL)
	}
	return u
}

// Link starts linking provider to the signed-in account and returns the
// authorization URL the browser should visit.
func (c *Client) Link(ctx context.Context, provider, redirectURL string) (string, error) {
	path := fmt.Sprintf("/api/auth/link/%s", url.PathEscape(provider))
	out, err := doRequest[linkResponse](ctx, c, http.MethodPost, path, linkRequest{RedirectURL: redirectURL}, http.StatusOK)
	if err != nil {
		return "", err
	}
	return out.AuthorizationURL, nil
}

// Unlink removes provider from the signed-in account. The server refuses
// when it is the last way to log in.
func (c *Client) Unlink(ctx context.Context, provider string) error {
	path := fmt.Sprintf("/api/auth/%s/unlink", url.PathEscape(provider))
	_, err := doRequest[StatusResponse](ctx, c, http.MethodDelete, path, nil, http.StatusOK)
	return err
}

// SetPassword sets a local password on the signed-in account.
func (c *Client) SetPassword(ctx context.Context, password string) error {
	_, err := doRequest[StatusResponse](ctx, c, http.MethodPut, "/api/auth/password", setPasswordRequest{Password: password}, http.StatusOK)
	return err
}

// Me returns the signed-in account and its linked providers.
func (c *Client) Me(ctx context.Context) (*Profile, error) {
	return doRequest[Profile](ctx, c, http.MethodGet, "/api/auth/me", nil, http.StatusOK)
}

// --- internal helpers ---

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("sentinel: marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func doRequest[T any](ctx context.Context, c *Client, method, path string, body any, expectedStatus int) (*T, error) {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != expectedStatus {
		return nil, parseError(resp)
	}

	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("sentinel: decode response: %w", err)
	}
	return &out, nil
}

func parseError(resp *http.Response) *APIError {
	e := &APIError{StatusCode: resp.StatusCode}
	var body struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && body.Error != "" {
		e.Message = body.Error
	} else {
		e.Message = http.StatusText(resp.StatusCode)
	}
	return e
}
