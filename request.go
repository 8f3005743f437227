package bind

import (
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
)

// Request is the surface the engine needs from the HTTP transport. The
// engine never touches sockets or routing; it consumes already-parsed
// request data through this interface.
type Request interface {
	// PathValue returns the named path-template variable.
	PathValue(name string) (string, bool)
	// Header returns the request headers.
	Header() http.Header
	// Cookies returns the parsed request cookies.
	Cookies() []*http.Cookie
	// Query returns the parsed query parameters.
	Query() url.Values
	// ContentType returns the request's media type split into type and
	// subtype. ok is false when the Content-Type header is absent.
	ContentType() (typ, sub string, ok bool)
	// HasBody reports whether the request carries a body.
	HasBody() bool
	// Body returns the body reader. It may be read only once.
	Body() io.Reader
	// MultipartReader returns a streaming multipart reader for the body.
	MultipartReader() (*multipart.Reader, error)
	// Context returns the request's context; body reads honor its
	// cancellation.
	Context() context.Context
}

// httpRequest adapts *http.Request to the Request interface. Path values
// come from the http.ServeMux pattern wildcards.
type httpRequest struct {
	r *http.Request
}

// NewRequest wraps an *http.Request for use with the engine.
func NewRequest(r *http.Request) Request {
	return &httpRequest{r: r}
}

func (h *httpRequest) PathValue(name string) (string, bool) {
	v := h.r.PathValue(name)
	return v, v != ""
}

// Header returns the request headers. The server promotes the Host header
// to Request.Host; it is put back so header bindings can see it.
func (h *httpRequest) Header() http.Header {
	if h.r.Host == "" {
		return h.r.Header
	}
	hdr := h.r.Header.Clone()
	hdr.Set("Host", h.r.Host)
	return hdr
}

func (h *httpRequest) Cookies() []*http.Cookie { return h.r.Cookies() }

func (h *httpRequest) Query() url.Values { return h.r.URL.Query() }

func (h *httpRequest) ContentType() (string, string, bool) {
	return parseMediaType(h.r.Header.Get("Content-Type"))
}

func (h *httpRequest) HasBody() bool {
	return h.r.Body != nil && h.r.Body != http.NoBody && h.r.ContentLength != 0
}

func (h *httpRequest) Body() io.Reader {
	if h.r.Body == nil {
		return strings.NewReader("")
	}
	return h.r.Body
}

func (h *httpRequest) MultipartReader() (*multipart.Reader, error) {
	return h.r.MultipartReader()
}

func (h *httpRequest) Context() context.Context { return h.r.Context() }

// RawRequest can be embedded in a request type to get access to the
// underlying *http.Request. At most one field per type may receive it.
type RawRequest struct {
	Request *http.Request
}

// RawResponse can be embedded in a request type to get access to the
// response writer, for handlers that stream their own output. At most one
// field per type may receive it.
type RawResponse struct {
	Writer http.ResponseWriter
}

// cacheEntry memoizes one location's extraction result, error included. A
// body stream can be read only once, so a failed extraction must not be
// retried within the same request.
type cacheEntry struct {
	val any
	err error
}

// RequestContext carries the per-request extraction state. It is created
// fresh for each request, owned exclusively by that request, and discarded
// with it. Schemas and Fields never retain one.
type RequestContext struct {
	cache map[Location]cacheEntry
}

// NewRequestContext returns an empty per-request extraction cache.
func NewRequestContext() *RequestContext {
	return &RequestContext{cache: make(map[Location]cacheEntry, 3)}
}

func (rc *RequestContext) cached(loc Location) (cacheEntry, bool) {
	e, ok := rc.cache[loc]
	return e, ok
}

func (rc *RequestContext) store(loc Location, val any, err error) {
	rc.cache[loc] = cacheEntry{val: val, err: err}
}
