// Package registry provides the shared HTTP layer for registry clients:
// JSON requests with caching and retry, streaming tarball downloads with
// per-host circuit breaking, and uploads for republishing.
package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/packmule/packmule/pkg/httputil"
	"github.com/packmule/packmule/pkg/observability"
)

// Client provides shared HTTP functionality for registry API clients.
// It handles response caching, retry logic, circuit breaking for
// streaming fetches, and common request headers.
type Client struct {
	api      *http.Client
	stream   *http.Client
	cache    *httputil.Cache
	breakers *breakerGroup
	headers  map[string]string
}

// NewClient creates a Client with the given response cache and default
// headers. Both HTTP clients share one DNS-cached transport. Pass nil
// for headers if no defaults are needed.
func NewClient(cache *httputil.Cache, headers map[string]string) *Client {
	transport := newTransport()
	return &Client{
		api:      &http.Client{Timeout: apiTimeout, Transport: transport},
		stream:   &http.Client{Timeout: streamTimeout, Transport: transport},
		cache:    cache,
		breakers: newBreakerGroup(),
		headers:  headers,
	}
}

// Cached retrieves a value from the response cache or executes fetch and
// caches the result. If refresh is true the cache is bypassed. The fetch
// function should populate v; on success, v is stored in the cache.
func (c *Client) Cached(ctx context.Context, key string, refresh bool, v any, fetch func() error) error {
	if !refresh && c.cache != nil {
		if ok, _ := c.cache.Get(key, v); ok {
			return nil
		}
	}
	if err := httputil.RetryWithBackoff(ctx, fetch); err != nil {
		return err
	}
	if c.cache != nil {
		_ = c.cache.Set(key, v)
	}
	return nil
}

// Get performs an HTTP GET request and JSON-decodes the response into v.
func (c *Client) Get(ctx context.Context, url string, v any) error {
	body, err := c.doRequest(ctx, c.api, url)
	if err != nil {
		return err
	}
	defer body.Close()
	return json.NewDecoder(body).Decode(v)
}

// Stream performs an HTTP GET and returns the raw response body for the
// caller to consume. Requests run through the per-host circuit breaker;
// the caller must close the returned body.
func (c *Client) Stream(ctx context.Context, url string) (io.ReadCloser, error) {
	var body io.ReadCloser
	err := c.breakers.call(url, func() error {
		var reqErr error
		body, reqErr = c.doRequest(ctx, c.stream, url)
		return reqErr
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

// PutJSON performs an HTTP PUT with a JSON payload and returns the
// response status code and body. Request headers are merged over the
// client defaults. Status handling is left to the caller: registries
// overload PUT responses (conflicts, auth challenges) beyond what
// checkStatus models.
func (c *Client) PutJSON(ctx context.Context, url string, payload any, headers map[string]string) (int, []byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(data))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	observability.HTTP().OnRequest(ctx, req.Method, req.URL.Host, req.URL.Path)
	resp, err := c.api.Do(req)
	if err != nil {
		observability.HTTP().OnError(ctx, req.Method, req.URL.Host, req.URL.Path, err)
		return 0, nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()
	observability.HTTP().OnResponse(ctx, req.Method, req.URL.Host, req.URL.Path, resp.StatusCode, time.Since(start))

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, respBody, nil
}

// BreakerStates reports per-host circuit breaker states, for diagnostics.
func (c *Client) BreakerStates() map[string]string {
	return c.breakers.states()
}

func (c *Client) doRequest(ctx context.Context, hc *http.Client, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	observability.HTTP().OnRequest(ctx, req.Method, req.URL.Host, req.URL.Path)
	resp, err := hc.Do(req)
	if err != nil {
		observability.HTTP().OnError(ctx, req.Method, req.URL.Host, req.URL.Path, err)
		return nil, &httputil.RetryableError{Err: fmt.Errorf("%w: %v", ErrNetwork, err)}
	}
	observability.HTTP().OnResponse(ctx, req.Method, req.URL.Host, req.URL.Path, resp.StatusCode, time.Since(start))

	if err := checkStatus(resp.StatusCode); err != nil {
		resp.Body.Close()
		return nil, err
	}
	return resp.Body, nil
}

func checkStatus(code int) error {
	switch {
	case code == http.StatusOK:
		return nil
	case code == http.StatusNotFound:
		return ErrNotFound
	case code == http.StatusTooManyRequests:
		return &httputil.RetryableError{Err: fmt.Errorf("%w: rate limited", ErrNetwork)}
	case code >= 500:
		return &httputil.RetryableError{Err: fmt.Errorf("%w: status %d", ErrNetwork, code)}
	default:
		return fmt.Errorf("%w: status %d", ErrNetwork, code)
	}
}
