// Package api is a typed client for the KitaabSe backend.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultTimeout = 30 * time.Second
	maxErrorBody   = 64 << 10
	statusPass     = "PASS"
)

// TokenSource supplies the bearer token for authenticated requests.
// An empty token sends no Authorization header.
type TokenSource interface {
	Token() string
}

// AuthObserver is told whenever the backend answers 401
type AuthObserver interface {
	OnAuthRequired(err error)
}

// Client talks to the backend REST API
type Client struct {
	baseURL  string
	http     *http.Client
	stream   *http.Client
	tokens   TokenSource
	observer AuthObserver
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient sets the client used for regular requests
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

// WithStreamClient sets the client used for upload streams. It should not
// carry a Timeout; stream deadlines come from the request context.
func WithStreamClient(c *http.Client) Option {
	return func(cl *Client) { cl.stream = c }
}

// WithTimeout sets the timeout for regular requests
func WithTimeout(d time.Duration) Option {
	return func(cl *Client) { cl.http = &http.Client{Timeout: d} }
}

// WithTokenSource sets where bearer tokens come from
func WithTokenSource(ts TokenSource) Option {
	return func(cl *Client) { cl.tokens = ts }
}

// WithAuthObserver registers the 401 observer
func WithAuthObserver(o AuthObserver) Option {
	return func(cl *Client) { cl.observer = o }
}

// New creates a client for the backend at baseURL
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: defaultTimeout},
		stream:  &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the backend base URL
func (c *Client) BaseURL() string {
	return c.baseURL
}

// envelope is the success wrapper used by the audiobook endpoints
type envelope struct {
	Data     json.RawMessage `json:"data"`
	Status   string          `json:"status"`
	HTTPCode int             `json:"http_code"`
	Message  string          `json:"message"`
}

// call sends a JSON request and decodes the response into out. When
// enveloped is set the payload is unwrapped from the data field.
func (c *Client) call(ctx context.Context, method, path string, query url.Values, body, out any, enveloped bool) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := c.newRequest(ctx, method, path, query, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if err := c.checkResponse(resp); err != nil {
		return err
	}
	if !enveloped {
		if out == nil {
			io.Copy(io.Discard, resp.Body)
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode %s response: %w", path, err)
		}
		return nil
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		if out == nil && err == io.EOF {
			return nil
		}
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	if env.Status != "" && env.Status != statusPass {
		code := env.HTTPCode
		if code == 0 {
			code = resp.StatusCode
		}
		return &Error{StatusCode: code, Message: env.Message}
	}
	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("failed to decode %s data: %w", path, err)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body io.Reader) (*http.Request, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if tok := c.token(ctx); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	return req, nil
}

type bearerKey struct{}

// WithBearer returns a context whose requests authenticate with token
// instead of the client's TokenSource
func WithBearer(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, bearerKey{}, token)
}

func (c *Client) token(ctx context.Context) string {
	if tok, ok := ctx.Value(bearerKey{}).(string); ok && tok != "" {
		return tok
	}
	if c.tokens != nil {
		return c.tokens.Token()
	}
	return ""
}

// checkResponse turns a non-2xx response into *Error and notifies the
// observer on 401
func (c *Client) checkResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	apiErr := parseError(resp.StatusCode, body)
	if resp.StatusCode == http.StatusUnauthorized && c.observer != nil {
		log.Printf("api: %s %s: authentication required", resp.Request.Method, resp.Request.URL.Path)
		c.observer.OnAuthRequired(apiErr)
	}
	return apiErr
}
