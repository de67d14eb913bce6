package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	requestTimeout = 60 * time.Second
	maxErrorBody   = 4 << 10 // keep error bodies small in logs and messages
)

// APIError is a non-2xx response from a remote vendor API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("remote api: status %d: %s", e.StatusCode, e.Body)
}

// IsUnauthorized reports whether err is an authorization-failure response.
func IsUnauthorized(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.StatusCode == http.StatusUnauthorized
}

// IsRateLimited reports whether err is a rate-limit response.
func IsRateLimited(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.StatusCode == http.StatusTooManyRequests
}

// IsNotFound reports whether err is a not-found response.
func IsNotFound(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.StatusCode == http.StatusNotFound
}

// IsConflict reports whether err is an already-exists response.
func IsConflict(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.StatusCode == http.StatusConflict
}

// Client issues bearer-authenticated JSON requests against one vendor API
// base URL. A 401 response invalidates the cached token before the error is
// surfaced, so the next attempt fetches a fresh one.
type Client struct {
	base   string
	httpc  *http.Client
	tokens TokenProvider
	logger *slog.Logger
}

// NewClient creates a client rooted at base.
func NewClient(base string, tokens TokenProvider, logger *slog.Logger) *Client {
	return &Client{
		base:   strings.TrimRight(base, "/"),
		httpc:  &http.Client{Timeout: requestTimeout},
		tokens: tokens,
		logger: logger,
	}
}

// DoJSON sends a request with an optional JSON body and decodes the JSON
// response into out when out is non-nil. An empty or malformed response body
// for a non-nil out is a decode error, never a silent nil.
func (c *Client) DoJSON(ctx context.Context, method, path string, query url.Values, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	resp, err := c.send(ctx, method, path, query, "application/json", reader)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	return nil
}

// DoStream sends a request with a raw body (uploads) and decodes the JSON
// response into out when out is non-nil.
func (c *Client) DoStream(ctx context.Context, method, path string, query url.Values, contentType string, body io.Reader, out any) error {
	resp, err := c.send(ctx, method, path, query, contentType, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	return nil
}

// Fetch sends a GET request and returns the raw response body (downloads).
// The caller owns the returned ReadCloser.
func (c *Client) Fetch(ctx context.Context, path string, query url.Values) (io.ReadCloser, error) {
	resp, err := c.send(ctx, http.MethodGet, path, query, "", nil)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// send performs one authenticated request attempt. Non-2xx responses become
// *APIError; the response body is returned open only on success.
func (c *Client) send(ctx context.Context, method, path string, query url.Values, contentType string, body io.Reader) (*http.Response, error) {
	tok, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	u := c.base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	if contentType != "" && body != nil {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		resp.Body.Close()
		if resp.StatusCode == http.StatusUnauthorized {
			c.tokens.Invalidate(tok)
		}
		return nil, &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	return resp, nil
}
