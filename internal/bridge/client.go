// Package bridge lets a resource server delegate identity decisions to
// the authorization server. The inbound Authorization header is
// forwarded verbatim; the authorization server stays the single point
// that validates credentials.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"authgate.org/internal/auth"
)

const defaultTimeout = 5 * time.Second

// Client resolves principals against the authorization server.
type Client struct {
	baseURL string
	http    *http.Client
}

// Option configures Client.
type Option func(*Client)

// WithTimeout bounds each delegated call.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithHTTPClient swaps the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// NewClient constructs a Client for the authorization server at baseURL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("bridge: authorization server URL is required")
	}
	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type userResponse struct {
	User   auth.Principal `json:"user"`
	Scopes []string       `json:"scopes"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

// ResolveIdentity exchanges the raw Authorization header for a resolved
// principal. An absent header resolves locally to the anonymous
// principal; a non-bearer scheme is rejected without a remote call.
// Transport failures surface as Unavailable, never as a raw error.
func (c *Client) ResolveIdentity(ctx context.Context, authorization string) (auth.Principal, []string, error) {
	authorization = strings.TrimSpace(authorization)
	if authorization == "" {
		return auth.AnonymousPrincipal(), nil, nil
	}
	if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
		return auth.Principal{}, nil, auth.Unauthenticated("Not bearer authentication")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/oauth/get_user", nil)
	if err != nil {
		return auth.Principal{}, nil, err
	}
	req.Header.Set("Authorization", authorization)

	resp, err := c.http.Do(req)
	if err != nil {
		return auth.Principal{}, nil, auth.Unavailable()
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		var ur userResponse
		if err := json.NewDecoder(resp.Body).Decode(&ur); err != nil {
			return auth.Principal{}, nil, auth.Unavailable()
		}
		return ur.User, ur.Scopes, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusBadRequest:
		var er errorResponse
		if err := json.NewDecoder(resp.Body).Decode(&er); err != nil || er.Detail == "" {
			return auth.Principal{}, nil, auth.Unauthenticated("Could not validate credentials")
		}
		return auth.Principal{}, nil, auth.Unauthenticated(er.Detail)
	default:
		return auth.Principal{}, nil, auth.Unavailable()
	}
}
