package bind

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"

	"golang.org/x/time/rate"
)

// readChunkSize is the unit in which body bytes are pulled and counted
// against the ceiling.
const readChunkSize = 32 << 10

// extractSettings carries the request-time knobs the extractors honor.
type extractSettings struct {
	// maxBodyBytes is the cumulative body byte ceiling; 0 disables it.
	maxBodyBytes int64
	// limiter throttles body reads in bytes per second; nil disables it.
	limiter *rate.Limiter
}

// extract returns the raw value for one location, computing it at most once
// per request. The result (error included) is memoized in the
// RequestContext: a body stream can be read only once, so a second
// descriptor for the same location must see the first outcome.
func extract(rc *RequestContext, req Request, c *container, set *extractSettings) (any, error) {
	if e, ok := rc.cached(c.location); ok {
		return e.val, e.err
	}
	val, err := extractLocation(req, c, set)
	rc.store(c.location, val, err)
	return val, err
}

func extractLocation(req Request, c *container, set *extractSettings) (any, error) {
	switch c.location {
	case LocationPath:
		return extractPath(req, c), nil
	case LocationHeader:
		return extractHeader(req), nil
	case LocationCookie:
		return extractCookies(req), nil
	case LocationQuery:
		return extractQuery(req), nil
	case LocationBody:
		return extractBody(req, c.fields[0], set)
	default:
		return nil, errors.New("unknown bind location")
	}
}

// extractPath builds the path-variable mapping for the aliases the schema
// declared. Path values are always strings.
func extractPath(req Request, c *container) map[string]string {
	out := make(map[string]string, len(c.fields))
	for _, f := range c.fields {
		if v, ok := req.PathValue(f.Alias); ok {
			out[f.Alias] = v
		}
	}
	return out
}

// multiDict builds a mapping with duplicate-key promotion: a key seen once
// maps to its string value; the first collision converts the entry to a
// []string, preserving insertion order.
type multiDict map[string]any

func (d multiDict) add(key, value string) {
	prev, ok := d[key]
	if !ok {
		d[key] = value
		return
	}
	switch p := prev.(type) {
	case string:
		d[key] = []string{p, value}
	case []string:
		d[key] = append(p, value)
	}
}

func extractHeader(req Request) map[string]any {
	d := make(multiDict)
	for key, values := range req.Header() {
		for _, v := range values {
			d.add(key, v)
		}
	}
	return d
}

func extractCookies(req Request) map[string]any {
	d := make(multiDict)
	for _, c := range req.Cookies() {
		d.add(c.Name, c.Value)
	}
	return d
}

func extractQuery(req Request) map[string]any {
	d := make(multiDict)
	for key, values := range req.Query() {
		for _, v := range values {
			d.add(key, v)
		}
	}
	return d
}

// lookupRaw finds an alias in an extracted mapping. Header lookups go
// through the canonical MIME key form.
func lookupRaw(raw any, loc Location, alias string) (any, bool) {
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, false
	}
	if loc == LocationHeader {
		alias = textproto.CanonicalMIMEHeaderKey(alias)
	}
	v, ok := m[alias]
	return v, ok
}

// extractBody negotiates the content type and reads the body according to
// the declared sub-kind.
func extractBody(req Request, f *Field, set *extractSettings) (any, error) {
	if f.CheckContentType {
		typ, sub, ok := req.ContentType()
		if !ok {
			return nil, &ContentTypeError{Expected: f.ContentType}
		}
		if !mediaTypeMatches(f.ContentType, typ, sub) {
			return nil, &ContentTypeError{Expected: f.ContentType, Actual: typ + "/" + sub}
		}
	}

	switch f.BodyKind {
	case BodyStream:
		return newLimitedReader(req.Body(), req.Context(), set), nil
	case BodyText:
		b, err := readBody(req, set)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	case BodyBytes:
		return readBody(req, set)
	case BodyJSON:
		return readJSONBody(req, set)
	case BodyForm:
		b, err := readBody(req, set)
		if err != nil {
			return nil, err
		}
		return parseFormBody(string(b), f.Fold)
	case BodyMultipart:
		return readMultipartBody(req, f, set)
	default:
		return nil, errors.New("unknown body kind")
	}
}

// limitedReader enforces the byte ceiling and read throttle chunk by chunk.
// It never lets more than limit+1 bytes through, so a violation is detected
// without buffering the full body.
type limitedReader struct {
	r     io.Reader
	ctx   context.Context
	limit int64
	read  int64
	lim   *rate.Limiter
}

func newLimitedReader(r io.Reader, ctx context.Context, set *extractSettings) *limitedReader {
	return &limitedReader{r: r, ctx: ctx, limit: set.maxBodyBytes, lim: set.limiter}
}

func (l *limitedReader) Read(p []byte) (int, error) {
	if l.ctx != nil {
		if err := l.ctx.Err(); err != nil {
			return 0, err
		}
	}
	if l.limit > 0 {
		if l.read > l.limit {
			return 0, &BodySizeError{Limit: l.limit}
		}
		if remain := l.limit - l.read + 1; int64(len(p)) > remain {
			p = p[:remain]
		}
	}
	n, err := l.r.Read(p)
	l.read += int64(n)
	if l.lim != nil && n > 0 {
		ctx := l.ctx
		if ctx == nil {
			ctx = context.Background()
		}
		if werr := l.lim.WaitN(ctx, n); werr != nil {
			return n, werr
		}
	}
	if l.limit > 0 && l.read > l.limit {
		return n, &BodySizeError{Limit: l.limit}
	}
	if err != nil && !errors.Is(err, io.EOF) {
		// A mid-read transport failure (aborted connection) must surface
		// promptly, never hang or get retried.
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return n, &BodySizeError{Limit: maxErr.Limit}
		}
	}
	return n, err
}

// readBody reads the full body through the ceiling and throttle.
func readBody(req Request, set *extractSettings) ([]byte, error) {
	if !req.HasBody() {
		return nil, nil
	}
	lr := newLimitedReader(req.Body(), req.Context(), set)
	var buf bytes.Buffer
	chunk := make([]byte, readChunkSize)
	for {
		n, err := lr.Read(chunk)
		if err != nil && !errors.Is(err, io.EOF) {
			// The violating chunk is discarded: the buffer never holds
			// more than the ceiling.
			return nil, err
		}
		buf.Write(chunk[:n])
		if errors.Is(err, io.EOF) {
			return buf.Bytes(), nil
		}
	}
}

// readJSONBody decodes the body into a generic JSON value. Numbers stay as
// json.Number so integer precision survives coercion.
func readJSONBody(req Request, set *extractSettings) (any, error) {
	b, err := readBody(req, set)
	if err != nil {
		return nil, err
	}
	if len(b) == 0 {
		return nil, &JSONDecodeError{Offset: 0, Msg: "empty body"}
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, jsonDecodeError(err)
	}
	return v, nil
}

func jsonDecodeError(err error) *JSONDecodeError {
	var syn *json.SyntaxError
	if errors.As(err, &syn) {
		return &JSONDecodeError{Offset: syn.Offset, Msg: syn.Error()}
	}
	var typ *json.UnmarshalTypeError
	if errors.As(err, &typ) {
		return &JSONDecodeError{Offset: typ.Offset, Msg: typ.Error()}
	}
	return &JSONDecodeError{Msg: err.Error()}
}

// parseFormBody percent-decodes a urlencoded body into a mapping. Duplicate
// keys keep the first occurrence unless folding was requested, in which
// case values collect into a []string in wire order. Last-write-wins is
// never used.
func parseFormBody(body string, fold bool) (map[string]any, error) {
	out := make(map[string]any)
	for pair := range strings.SplitSeq(body, "&") {
		if pair == "" {
			continue
		}
		rawKey, rawVal, _ := strings.Cut(pair, "=")
		key, err := url.QueryUnescape(rawKey)
		if err != nil {
			return nil, err
		}
		val, err := url.QueryUnescape(rawVal)
		if err != nil {
			return nil, err
		}
		if fold {
			multiDict(out).add(key, val)
		} else if _, ok := out[key]; !ok {
			out[key] = val
		}
	}
	return out, nil
}

// readMultipartBody streams the body's parts, decoding text-shaped parts to
// strings and everything else to raw bytes. The byte ceiling applies to the
// parts cumulatively, counted per chunk as each part is read.
func readMultipartBody(req Request, f *Field, set *extractSettings) (any, error) {
	mr, err := req.MultipartReader()
	if err != nil {
		return nil, &MultipartError{PartIndex: -1, Msg: err.Error()}
	}

	out := make(map[string]any)
	var total int64
	for i := 0; ; i++ {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, &MultipartError{PartIndex: i, Msg: err.Error()}
		}

		name := part.FormName()
		if name == "" {
			return nil, &MultipartError{PartIndex: i, Msg: "part has no name"}
		}

		data, err := readPart(part, req.Context(), set, &total)
		if err != nil {
			return nil, err
		}

		var val any
		if isTextPart(part.Header.Get("Content-Type"), part.FileName()) {
			val = string(data)
		} else {
			val = data
		}
		addPartValue(out, name, val, f.Fold)
	}
}

// readPart drains one part, charging each chunk against the shared ceiling
// before the next chunk is pulled.
func readPart(r io.Reader, ctx context.Context, set *extractSettings, total *int64) ([]byte, error) {
	var buf bytes.Buffer
	chunk := make([]byte, readChunkSize)
	for {
		if ctx != nil {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		want := int64(len(chunk))
		if set.maxBodyBytes > 0 {
			if *total > set.maxBodyBytes {
				return nil, &BodySizeError{Limit: set.maxBodyBytes}
			}
			if remain := set.maxBodyBytes - *total + 1; remain < want {
				want = remain
			}
		}
		n, err := r.Read(chunk[:want])
		*total += int64(n)
		if set.maxBodyBytes > 0 && *total > set.maxBodyBytes {
			return nil, &BodySizeError{Limit: set.maxBodyBytes}
		}
		if set.limiter != nil && n > 0 {
			wctx := ctx
			if wctx == nil {
				wctx = context.Background()
			}
			if werr := set.limiter.WaitN(wctx, n); werr != nil {
				return nil, werr
			}
		}
		buf.Write(chunk[:n])
		if errors.Is(err, io.EOF) {
			return buf.Bytes(), nil
		}
		if err != nil {
			return nil, err
		}
	}
}

// isTextPart reports whether a part decodes to a string: declared text or
// JSON content, or a bare form value with no filename.
func isTextPart(contentType, filename string) bool {
	if contentType == "" {
		return filename == ""
	}
	typ, sub, ok := parseMediaType(contentType)
	if !ok {
		return false
	}
	if typ == "text" {
		return true
	}
	return typ == "application" && sub == "json"
}

// addPartValue inserts a part value with the same duplicate semantics as
// form bodies: fold into a list when requested, else first occurrence wins.
func addPartValue(out map[string]any, name string, val any, fold bool) {
	prev, ok := out[name]
	if !ok {
		out[name] = val
		return
	}
	if !fold {
		return
	}
	switch p := prev.(type) {
	case []any:
		out[name] = append(p, val)
	default:
		out[name] = []any{p, val}
	}
}
