// Package transport provides the authenticated JSON HTTP client that platform
// clients are built on. Every failure leaves this package typed.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/agentstation/taxonsync/pkg/constants"
	"github.com/agentstation/taxonsync/pkg/errors"
)

// DefaultHTTPTimeout is the default timeout for HTTP requests.
var DefaultHTTPTimeout = constants.DefaultHTTPTimeout

// Client provides HTTP client functionality with authentication.
type Client struct {
	http     *http.Client
	auth     Authenticator
	apiKey   string
	baseURL  string
	platform string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithAPIKey sets the credential the authenticator applies.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		c.apiKey = key
	}
}

// New creates a new transport client for the platform served at baseURL.
func New(platform, baseURL string, auth Authenticator, opts ...Option) *Client {
	if auth == nil {
		auth = &NoAuth{}
	}
	c := &Client{
		http:     &http.Client{Timeout: DefaultHTTPTimeout},
		auth:     auth,
		baseURL:  strings.TrimRight(baseURL, "/"),
		platform: platform,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Do sends a JSON request to path, relative to the base URL, and decodes a
// successful response into target when target is non-nil.
func (c *Client) Do(ctx context.Context, method, path string, query url.Values, body, target any) error {
	req, err := c.newRequest(ctx, method, path, query, body)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return classifyTransport(ctx, err)
	}
	return DecodeResponse(resp, target, c.platform, method+" "+path)
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body any) (*http.Request, error) {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, errors.WrapParse("json", "request", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, errors.WrapResource("create", "request", method+" "+endpoint, err)
	}
	if c.apiKey != "" {
		c.auth.Apply(req, c.apiKey)
	}

	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// classifyTransport maps client-side failures onto the error taxonomy.
func classifyTransport(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(ctxErr, context.Canceled) {
		return ctxErr
	}
	if errors.IsRetryable(err) {
		return errors.Join(errors.ErrTransient, err)
	}
	return err
}
