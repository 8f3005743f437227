package bind

import (
	"fmt"
	"net/http"
	"reflect"
	"strings"
)

// Error kinds reported in FieldError.Type.
const (
	KindMissing    = "missing"
	KindType       = "type_error"
	KindValue      = "value_error"
	KindExtraction = "extraction_error"
)

// StatusCoder is implemented by errors or responses that carry an HTTP
// status code.
type StatusCoder interface {
	StatusCode() int
}

// DefinitionError reports an invalid binding declaration. It is raised when
// a request type is analyzed, at route registration and never during a
// request, and must abort registration.
type DefinitionError struct {
	Handler string // request type name
	Field   string
	Reason  string
}

// Error returns the offending type, field, and reason.
func (e *DefinitionError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("bind: %s: %s", e.Handler, e.Reason)
	}
	return fmt.Sprintf("bind: %s.%s: %s", e.Handler, e.Field, e.Reason)
}

func definitionErr(t reflect.Type, field, format string, args ...any) *DefinitionError {
	return &DefinitionError{
		Handler: t.String(),
		Field:   field,
		Reason:  fmt.Sprintf(format, args...),
	}
}

// FieldError describes a single request validation failure. Loc is the
// locator path: the location name followed by the wire key, when one exists.
type FieldError struct {
	Loc  []string `json:"loc"`
	Msg  string   `json:"msg"`
	Type string   `json:"type"`
}

// Error returns the locator path and message.
func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", strings.Join(e.Loc, "."), e.Msg)
}

// ValidationFailure aggregates every field error collected for one request.
// All declared fields are checked before it is raised; errors appear in
// field declaration order and none are dropped.
type ValidationFailure struct {
	Errors []FieldError
	Status int
}

// Error summarizes the failure count.
func (e *ValidationFailure) Error() string {
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("%d validation errors", len(e.Errors))
}

// StatusCode returns the configured response status (422 by default).
func (e *ValidationFailure) StatusCode() int {
	if e.Status == 0 {
		return http.StatusUnprocessableEntity
	}
	return e.Status
}

// BodySizeError reports a request body that exceeded the configured byte
// ceiling. The ceiling is enforced per chunk as the body is read, so no
// more than the limit is ever buffered.
type BodySizeError struct {
	Limit int64
}

// Error names the exceeded limit.
func (e *BodySizeError) Error() string {
	return fmt.Sprintf("request body exceeds %d bytes", e.Limit)
}

// StatusCode returns 413 Content Too Large.
func (e *BodySizeError) StatusCode() int { return http.StatusRequestEntityTooLarge }

// JSONDecodeError reports a malformed JSON body, carrying the underlying
// parser's byte offset.
type JSONDecodeError struct {
	Offset int64
	Msg    string
}

// Error returns the parser message and position.
func (e *JSONDecodeError) Error() string {
	return fmt.Sprintf("invalid JSON at offset %d: %s", e.Offset, e.Msg)
}

// MultipartError reports a failure reading one multipart part. PartIndex is
// zero-based; -1 means the multipart stream itself could not be opened.
type MultipartError struct {
	PartIndex int
	Msg       string
}

// Error returns the part index and message.
func (e *MultipartError) Error() string {
	if e.PartIndex < 0 {
		return fmt.Sprintf("invalid multipart body: %s", e.Msg)
	}
	return fmt.Sprintf("multipart part %d: %s", e.PartIndex, e.Msg)
}

// ContentTypeError reports a request whose Content-Type did not satisfy the
// declared expectation. An empty Actual means the header was absent.
type ContentTypeError struct {
	Expected string
	Actual   string
}

// Error distinguishes a missing header from a mismatched one.
func (e *ContentTypeError) Error() string {
	if e.Actual == "" {
		return "Content-Type cannot be empty"
	}
	return fmt.Sprintf("unsupported content type %q, expected %q", e.Actual, e.Expected)
}

// StatusCode returns 415 Unsupported Media Type.
func (e *ContentTypeError) StatusCode() int { return http.StatusUnsupportedMediaType }

// HTTPError is an error with an HTTP status code, for handlers that want
// to fail with a specific status.
type HTTPError struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
}

// Error returns the error message.
func (e *HTTPError) Error() string { return e.Message }

// StatusCode returns the HTTP status code.
func (e *HTTPError) StatusCode() int { return e.Status }

// Error returns an error with the given HTTP status code and message.
func Error(status int, message string) error {
	return &HTTPError{Status: status, Message: message}
}

// Errorf returns a formatted error with the given HTTP status code.
func Errorf(status int, format string, args ...any) error {
	return &HTTPError{Status: status, Message: fmt.Sprintf(format, args...)}
}

// EncodeError reports a value for which no encoding path applied. It carries
// both fallback failures (the map-conversion attempt and the field reflection
// attempt) and indicates a handler bug, not bad client input.
type EncodeError struct {
	Type     reflect.Type
	MapErr   error
	FieldErr error
}

// Error names the unencodable type and both fallback failures.
func (e *EncodeError) Error() string {
	return fmt.Sprintf("cannot encode value of type %s (%v; %v)", e.Type, e.MapErr, e.FieldErr)
}
