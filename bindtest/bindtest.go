// Package bindtest provides typed test helpers for the bind engine.
package bindtest

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

// Client wraps an httptest.Server for convenient controller testing.
type Client struct {
	Server *httptest.Server
}

// NewClient starts a test server around any http.Handler (a single
// controller or a full mux).
func NewClient(t testing.TB, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return &Client{Server: srv}
}

// Response holds a decoded response.
type Response[T any] struct {
	Status  int
	Headers http.Header
	Body    *T
	Raw     *http.Response
}

// Option mutates an outgoing test request.
type Option func(*http.Request)

// WithHeader sets a request header.
func WithHeader(key, value string) Option {
	return func(r *http.Request) { r.Header.Set(key, value) }
}

// WithCookie attaches a cookie.
func WithCookie(name, value string) Option {
	return func(r *http.Request) { r.AddCookie(&http.Cookie{Name: name, Value: value}) }
}

// WithContentType overrides the Content-Type header. An empty value removes
// the header entirely.
func WithContentType(ct string) Option {
	return func(r *http.Request) {
		if ct == "" {
			r.Header.Del("Content-Type")
			return
		}
		r.Header.Set("Content-Type", ct)
	}
}

// Get sends a typed GET request.
func Get[Resp any](t testing.TB, c *Client, path string, opts ...Option) *Response[Resp] {
	t.Helper()
	return do[Resp](t, c, http.MethodGet, path, nil, opts...)
}

// Post sends a typed POST request with a JSON body.
func Post[Req, Resp any](t testing.TB, c *Client, path string, body *Req, opts ...Option) *Response[Resp] {
	t.Helper()
	return do[Resp](t, c, http.MethodPost, path, body, opts...)
}

// Put sends a typed PUT request with a JSON body.
func Put[Req, Resp any](t testing.TB, c *Client, path string, body *Req, opts ...Option) *Response[Resp] {
	t.Helper()
	return do[Resp](t, c, http.MethodPut, path, body, opts...)
}

// Delete sends a typed DELETE request.
func Delete[Resp any](t testing.TB, c *Client, path string, opts ...Option) *Response[Resp] {
	t.Helper()
	return do[Resp](t, c, http.MethodDelete, path, nil, opts...)
}

// PostRaw sends a POST with a literal body and content type.
func PostRaw[Resp any](t testing.TB, c *Client, path, contentType string, body io.Reader, opts ...Option) *Response[Resp] {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, c.Server.URL+path, body)
	if err != nil {
		t.Fatalf("bindtest: create request: %v", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for _, opt := range opts {
		opt(req)
	}
	return send[Resp](t, req)
}

func do[Resp any](t testing.TB, c *Client, method, path string, body any, opts ...Option) *Response[Resp] {
	t.Helper()

	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("bindtest: marshal request body: %v", err)
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(context.Background(), method, c.Server.URL+path, reqBody)
	if err != nil {
		t.Fatalf("bindtest: create request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, opt := range opts {
		opt(req)
	}
	return send[Resp](t, req)
}

func send[Resp any](t testing.TB, req *http.Request) *Response[Resp] {
	t.Helper()

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("bindtest: execute request: %v", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			t.Errorf("bindtest: close body: %v", closeErr)
		}
	}()

	result := &Response[Resp]{
		Status:  resp.StatusCode,
		Headers: resp.Header,
		Raw:     resp,
	}

	if resp.StatusCode != http.StatusNoContent && resp.ContentLength != 0 {
		var decoded Resp
		if decErr := json.NewDecoder(resp.Body).Decode(&decoded); decErr != nil && decErr != io.EOF {
			return result
		}
		result.Body = &decoded
	}

	return result
}
