package bind_test

import (
	"bytes"
	"context"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bjaus/bind"
)

// fakeRequest implements bind.Request without an HTTP server.
type fakeRequest struct {
	path        map[string]string
	header      http.Header
	cookies     []*http.Cookie
	query       url.Values
	contentType string
	body        io.Reader
	boundary    string
}

func (f *fakeRequest) PathValue(name string) (string, bool) {
	v, ok := f.path[name]
	return v, ok
}

func (f *fakeRequest) Header() http.Header {
	if f.header == nil {
		return http.Header{}
	}
	return f.header
}

func (f *fakeRequest) Cookies() []*http.Cookie { return f.cookies }

func (f *fakeRequest) Query() url.Values {
	if f.query == nil {
		return url.Values{}
	}
	return f.query
}

func (f *fakeRequest) ContentType() (string, string, bool) {
	if f.contentType == "" {
		return "", "", false
	}
	mediaType, _, err := mime.ParseMediaType(f.contentType)
	if err != nil {
		return "", "", false
	}
	typ, sub, _ := strings.Cut(mediaType, "/")
	return typ, sub, true
}

func (f *fakeRequest) HasBody() bool { return f.body != nil }

func (f *fakeRequest) Body() io.Reader {
	if f.body == nil {
		return strings.NewReader("")
	}
	return f.body
}

func (f *fakeRequest) MultipartReader() (*multipart.Reader, error) {
	return multipart.NewReader(f.Body(), f.boundary), nil
}

func (f *fakeRequest) Context() context.Context { return context.Background() }

func TestValidateRequest_endToEnd(t *testing.T) {
	t.Parallel()

	type Req struct {
		UserID string         `path:"user_id"`
		Host   string         `header:"Host"`
		Body   map[string]any `body:"json"`
	}

	s, err := bind.AnalyzeFor[Req]()
	require.NoError(t, err)

	req := &fakeRequest{
		path:        map[string]string{"user_id": "42"},
		header:      http.Header{"Host": {"example.com"}},
		contentType: "application/json",
		body:        strings.NewReader(`{"x":1}`),
	}

	values, errs := s.ValidateRequest(req, bind.NewRequestContext())
	require.Empty(t, errs)
	assert.Equal(t, "42", values["UserID"])
	assert.Equal(t, "example.com", values["Host"])

	body, ok := values["Body"].(map[string]any)
	require.True(t, ok)
	assert.Len(t, body, 1)
}

func TestValidateRequest_missingRequired(t *testing.T) {
	t.Parallel()

	type Req struct {
		Token string `header:"X-Token"`
	}

	s, err := bind.AnalyzeFor[Req]()
	require.NoError(t, err)

	_, errs := s.ValidateRequest(&fakeRequest{}, bind.NewRequestContext())
	require.Len(t, errs, 1)
	assert.Equal(t, []string{"header", "X-Token"}, errs[0].Loc)
	assert.Equal(t, "missing", errs[0].Type)
}

func TestValidateRequest_missingContentType(t *testing.T) {
	t.Parallel()

	type Req struct {
		UserID string         `path:"user_id"`
		Host   string         `header:"Host"`
		Body   map[string]any `body:"json"`
	}

	s, err := bind.AnalyzeFor[Req]()
	require.NoError(t, err)

	req := &fakeRequest{
		path:   map[string]string{"user_id": "42"},
		header: http.Header{"Host": {"example.com"}},
	}

	_, errs := s.ValidateRequest(req, bind.NewRequestContext())
	require.Len(t, errs, 1)
	assert.Equal(t, []string{"body"}, errs[0].Loc)
	assert.Equal(t, "Content-Type cannot be empty", errs[0].Msg)
	assert.Equal(t, "extraction_error", errs[0].Type)
}

func TestValidateRequest_contentTypeMismatch(t *testing.T) {
	t.Parallel()

	type Req struct {
		Body map[string]any `body:"json"`
	}

	s, err := bind.AnalyzeFor[Req]()
	require.NoError(t, err)

	req := &fakeRequest{
		contentType: "text/plain",
		body:        strings.NewReader("hello"),
	}

	_, errs := s.ValidateRequest(req, bind.NewRequestContext())
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Msg, `"text/plain"`)
	assert.Contains(t, errs[0].Msg, `"application/json"`)
}

func TestValidateRequest_defaultsAndOptional(t *testing.T) {
	t.Parallel()

	type Req struct {
		Page  int     `query:"page" default:"1"`
		Sort  string  `query:"sort" default:"name"`
		Tag   *string `query:"tag"`
		Token string  `cookie:"session" default:"anon"`
	}

	s, err := bind.AnalyzeFor[Req]()
	require.NoError(t, err)

	values, errs := s.ValidateRequest(&fakeRequest{}, bind.NewRequestContext())
	require.Empty(t, errs)
	assert.Equal(t, 1, values["Page"])
	assert.Equal(t, "name", values["Sort"])
	assert.Equal(t, "anon", values["Token"])
	assert.NotContains(t, values, "Tag") // optional absent stays nil
}

func TestValidateRequest_defaultFactory(t *testing.T) {
	t.Parallel()

	type Req struct {
		TraceID string `query:"trace_id"`
	}

	var calls int
	s, err := bind.AnalyzeFor[Req](bind.WithDefaultFactory("TraceID", func() any {
		calls++
		return "generated"
	}))
	require.NoError(t, err)

	values, errs := s.ValidateRequest(&fakeRequest{}, bind.NewRequestContext())
	require.Empty(t, errs)
	assert.Equal(t, "generated", values["TraceID"])
	assert.Equal(t, 1, calls)
}

func TestValidateRequest_emptyStringSubstitutesDefault(t *testing.T) {
	t.Parallel()

	type Req struct {
		Sort string `query:"sort" default:"name"`
	}

	s, err := bind.AnalyzeFor[Req]()
	require.NoError(t, err)

	req := &fakeRequest{query: url.Values{"sort": {""}}}
	values, errs := s.ValidateRequest(req, bind.NewRequestContext())
	require.Empty(t, errs)
	assert.Equal(t, "name", values["Sort"])
}

func TestValidateRequest_duplicateKeys(t *testing.T) {
	t.Parallel()

	type Single struct {
		Q string `query:"q"`
	}
	type Raw struct {
		All map[string]any `query:",group,raw"`
	}

	query := url.Values{"q": {"first", "second"}}

	s, err := bind.AnalyzeFor[Single]()
	require.NoError(t, err)
	values, errs := s.ValidateRequest(&fakeRequest{query: query}, bind.NewRequestContext())
	require.Empty(t, errs)
	assert.Equal(t, "first", values["Q"])

	s, err = bind.AnalyzeFor[Raw]()
	require.NoError(t, err)
	values, errs = s.ValidateRequest(&fakeRequest{query: query}, bind.NewRequestContext())
	require.Empty(t, errs)
	all, ok := values["All"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, []string{"first", "second"}, all["q"])
}

func TestValidateRequest_sliceQueryGetsAllValues(t *testing.T) {
	t.Parallel()

	type Req struct {
		Tags []string `query:"tag"`
	}

	s, err := bind.AnalyzeFor[Req]()
	require.NoError(t, err)

	req := &fakeRequest{query: url.Values{"tag": {"a", "b"}}}
	values, errs := s.ValidateRequest(req, bind.NewRequestContext())
	require.Empty(t, errs)
	assert.Equal(t, []string{"a", "b"}, values["Tags"])
}

func TestValidateRequest_headerLookupIsCanonical(t *testing.T) {
	t.Parallel()

	type Req struct {
		Token string `header:"x-api-token"`
	}

	s, err := bind.AnalyzeFor[Req]()
	require.NoError(t, err)

	req := &fakeRequest{header: http.Header{"X-Api-Token": {"secret"}}}
	values, errs := s.ValidateRequest(req, bind.NewRequestContext())
	require.Empty(t, errs)
	assert.Equal(t, "secret", values["Token"])
}

func TestValidateRequest_errorsAccumulate(t *testing.T) {
	t.Parallel()

	type Req struct {
		ID    string `path:"id"`
		Page  int    `query:"page"`
		Limit int    `query:"limit" minimum:"1"`
		Host  string `header:"Host"`
	}

	s, err := bind.AnalyzeFor[Req]()
	require.NoError(t, err)

	req := &fakeRequest{
		query: url.Values{"page": {"abc"}, "limit": {"0"}},
	}

	_, errs := s.ValidateRequest(req, bind.NewRequestContext())
	require.Len(t, errs, 4)

	// Declaration order: path, then the query fields, then the header.
	assert.Equal(t, []string{"path", "id"}, errs[0].Loc)
	assert.Equal(t, "missing", errs[0].Type)
	assert.Equal(t, []string{"query", "page"}, errs[1].Loc)
	assert.Equal(t, "type_error", errs[1].Type)
	assert.Equal(t, []string{"query", "limit"}, errs[2].Loc)
	assert.Equal(t, "value_error", errs[2].Type)
	assert.Equal(t, []string{"header", "Host"}, errs[3].Loc)
}

func TestValidateRequest_interleavedDeclarationOrder(t *testing.T) {
	t.Parallel()

	type Req struct {
		Page  int    `query:"page"`
		Token string `header:"X-Token"`
		Limit int    `query:"limit"`
	}

	s, err := bind.AnalyzeFor[Req]()
	require.NoError(t, err)

	// All three are missing; errors must follow the struct declaration
	// order, not group by location.
	_, errs := s.ValidateRequest(&fakeRequest{}, bind.NewRequestContext())
	require.Len(t, errs, 3)
	assert.Equal(t, []string{"query", "page"}, errs[0].Loc)
	assert.Equal(t, []string{"header", "X-Token"}, errs[1].Loc)
	assert.Equal(t, []string{"query", "limit"}, errs[2].Loc)
}

func TestValidateRequest_groupStructDropsUnknownKeys(t *testing.T) {
	t.Parallel()

	type Filters struct {
		Page int    `json:"page"`
		Sort string `json:"sort"`
	}
	type Req struct {
		Filters Filters `query:",group"`
	}

	s, err := bind.AnalyzeFor[Req]()
	require.NoError(t, err)

	req := &fakeRequest{query: url.Values{
		"page":    {"3"},
		"sort":    {"date"},
		"unknown": {"ignored"},
	}}

	values, errs := s.ValidateRequest(req, bind.NewRequestContext())
	require.Empty(t, errs)
	assert.Equal(t, Filters{Page: 3, Sort: "date"}, values["Filters"])
}

func TestValidateRequest_bodySizeLimit(t *testing.T) {
	t.Parallel()

	type Req struct {
		Body string `body:"text"`
	}

	s, err := bind.AnalyzeFor[Req]()
	require.NoError(t, err)

	src := &countingReader{r: strings.NewReader(strings.Repeat("a", 1<<20))}
	req := &fakeRequest{body: src}

	values, errs := bind.ValidateWithLimit(s, req, bind.NewRequestContext(), 1)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Msg, "exceeds 1 bytes")
	assert.Empty(t, values)

	// The ceiling is checked per chunk: a megabyte body must not be pulled.
	assert.LessOrEqual(t, src.n, int64(2))
}

// countingReader tracks how many bytes were pulled from the source.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

func TestValidateRequest_jsonDecodeError(t *testing.T) {
	t.Parallel()

	type Req struct {
		Body map[string]any `body:"json"`
	}

	s, err := bind.AnalyzeFor[Req]()
	require.NoError(t, err)

	req := &fakeRequest{
		contentType: "application/json",
		body:        strings.NewReader(`{"x":`),
	}

	_, errs := s.ValidateRequest(req, bind.NewRequestContext())
	require.Len(t, errs, 1)
	assert.Equal(t, []string{"body"}, errs[0].Loc)
	assert.Contains(t, errs[0].Msg, "invalid JSON")
}

func TestValidateRequest_multipartFold(t *testing.T) {
	t.Parallel()

	type Req struct {
		Parts map[string]any `body:"multipart,fold"`
	}

	s, err := bind.AnalyzeFor[Req]()
	require.NoError(t, err)

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	require.NoError(t, writeField(w, "attr1", "v1"))
	require.NoError(t, writeField(w, "attr1", "v2"))
	require.NoError(t, w.Close())

	req := &fakeRequest{
		contentType: w.FormDataContentType(),
		body:        &buf,
		boundary:    w.Boundary(),
	}

	values, errs := s.ValidateRequest(req, bind.NewRequestContext())
	require.Empty(t, errs)

	parts, ok := values["Parts"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, []any{"v1", "v2"}, parts["attr1"])
}

func TestValidateRequest_multipartFirstWins(t *testing.T) {
	t.Parallel()

	type Req struct {
		Parts map[string]any `body:"multipart"`
	}

	s, err := bind.AnalyzeFor[Req]()
	require.NoError(t, err)

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	require.NoError(t, writeField(w, "attr1", "v1"))
	require.NoError(t, writeField(w, "attr1", "v2"))
	require.NoError(t, w.Close())

	req := &fakeRequest{
		contentType: w.FormDataContentType(),
		body:        &buf,
		boundary:    w.Boundary(),
	}

	values, errs := s.ValidateRequest(req, bind.NewRequestContext())
	require.Empty(t, errs)

	parts := values["Parts"].(map[string]any)
	assert.Equal(t, "v1", parts["attr1"])
}

func writeField(w *multipart.Writer, name, value string) error {
	fw, err := w.CreateFormField(name)
	if err != nil {
		return err
	}
	_, err = io.WriteString(fw, value)
	return err
}

func TestValidateRequest_streamBody(t *testing.T) {
	t.Parallel()

	type Req struct {
		R io.Reader `body:"stream"`
	}

	s, err := bind.AnalyzeFor[Req]()
	require.NoError(t, err)

	req := &fakeRequest{body: strings.NewReader("hello stream")}
	values, errs := s.ValidateRequest(req, bind.NewRequestContext())
	require.Empty(t, errs)

	r, ok := values["R"].(io.Reader)
	require.True(t, ok)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "hello stream", string(data))
}

func TestValidateRequest_streamBodyCeiling(t *testing.T) {
	t.Parallel()

	type Req struct {
		R io.Reader `body:"stream"`
	}

	s, err := bind.AnalyzeFor[Req]()
	require.NoError(t, err)

	src := &countingReader{r: strings.NewReader(strings.Repeat("a", 1<<20))}
	values, errs := bind.ValidateWithLimit(s, &fakeRequest{body: src}, bind.NewRequestContext(), 8)
	require.Empty(t, errs)

	// The hand-off itself never fails; the ceiling trips as the handler
	// reads past it and the source is not drained.
	r := values["R"].(io.Reader)
	_, err = io.ReadAll(r)
	var bse *bind.BodySizeError
	require.ErrorAs(t, err, &bse)
	assert.Equal(t, int64(8), bse.Limit)
	assert.LessOrEqual(t, src.n, int64(9))
}

func TestValidateRequest_multipartCumulativeCeiling(t *testing.T) {
	t.Parallel()

	type Req struct {
		Parts map[string]any `body:"multipart"`
	}

	s, err := bind.AnalyzeFor[Req]()
	require.NoError(t, err)

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	require.NoError(t, writeField(w, "first", strings.Repeat("a", 600)))
	require.NoError(t, writeField(w, "second", strings.Repeat("b", 600)))
	require.NoError(t, w.Close())

	req := &fakeRequest{
		contentType: w.FormDataContentType(),
		body:        &buf,
		boundary:    w.Boundary(),
	}

	// Each part fits alone; together they cross the ceiling.
	_, errs := bind.ValidateWithLimit(s, req, bind.NewRequestContext(), 1000)
	require.Len(t, errs, 1)
	assert.Equal(t, []string{"body"}, errs[0].Loc)
	assert.Contains(t, errs[0].Msg, "exceeds 1000 bytes")
}

func TestValidateRequest_bodyCachedAcrossLookups(t *testing.T) {
	t.Parallel()

	type Req struct {
		Body map[string]any `body:"json"`
	}

	s, err := bind.AnalyzeFor[Req]()
	require.NoError(t, err)

	src := &countingReader{r: strings.NewReader(`{"x":1}`)}
	req := &fakeRequest{contentType: "application/json", body: src}
	rc := bind.NewRequestContext()

	_, errs := s.ValidateRequest(req, rc)
	require.Empty(t, errs)
	pulled := src.n

	// A second validation pass with the same context reuses the cached
	// body instead of re-reading a spent stream.
	_, errs = s.ValidateRequest(req, rc)
	require.Empty(t, errs)
	assert.Equal(t, pulled, src.n)
}

func TestValidateRequest_constraintMessages(t *testing.T) {
	t.Parallel()

	type Req struct {
		Name  string   `query:"name" minLength:"3" maxLength:"5"`
		Level string   `query:"level" enum:"low,high"`
		Score float64  `query:"score" exclusiveMinimum:"0" multipleOf:"0.5"`
		Tags  []string `query:"tag" minItems:"2"`
	}

	s, err := bind.AnalyzeFor[Req]()
	require.NoError(t, err)

	req := &fakeRequest{query: url.Values{
		"name":  {"ab"},
		"level": {"mid"},
		"score": {"0"},
		"tag":   {"solo"},
	}}

	_, errs := s.ValidateRequest(req, bind.NewRequestContext())
	require.Len(t, errs, 4)
	assert.Contains(t, errs[0].Msg, "at least 3 characters")
	assert.Contains(t, errs[1].Msg, "one of [low,high]")
	assert.Contains(t, errs[2].Msg, "greater than 0")
	assert.Contains(t, errs[3].Msg, "at least 2 items")
}
