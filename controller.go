package bind

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Handler is the typed handler signature. The engine owns binding,
// validation, and serialization; handlers see only their request and
// response types.
type Handler[Req, Resp any] func(ctx context.Context, req *Req) (*Resp, error)

// Option configures a Controller at registration time.
type Option func(*controllerOptions)

type controllerOptions struct {
	status     int
	config     Config
	logger     *slog.Logger
	encodeOpts []EncodeOption
	validator  Validator
	schemaOpts []AnalyzeOption
}

// WithStatus sets the success status code (default 200, or 204 for a nil
// response).
func WithStatus(code int) Option {
	return func(o *controllerOptions) { o.status = code }
}

// WithConfig applies a full engine configuration.
func WithConfig(cfg Config) Option {
	return func(o *controllerOptions) { o.config = cfg }
}

// WithMaxBodyBytes sets the request body byte ceiling for this route.
func WithMaxBodyBytes(n int64) Option {
	return func(o *controllerOptions) { o.config.MaxBodyBytes = n }
}

// WithReadRate throttles body reads to the given bytes per second.
func WithReadRate(bytesPerSec int) Option {
	return func(o *controllerOptions) { o.config.ReadBytesPerSec = bytesPerSec }
}

// WithErrorsField names the array in the validation failure response body.
func WithErrorsField(name string) Option {
	return func(o *controllerOptions) { o.config.ErrorsField = name }
}

// WithValidationStatus sets the response status for validation failures.
func WithValidationStatus(code int) Option {
	return func(o *controllerOptions) { o.config.ValidationStatus = code }
}

// WithLogger sets the request logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *controllerOptions) { o.logger = l }
}

// WithEncodeOptions sets the response encoding options for this route.
func WithEncodeOptions(opts ...EncodeOption) Option {
	return func(o *controllerOptions) { o.encodeOpts = append(o.encodeOpts, opts...) }
}

// WithValidator sets a validator that runs after binding.
func WithValidator(v Validator) Option {
	return func(o *controllerOptions) { o.validator = v }
}

// WithSchemaOptions passes analysis options (call-site defaults, default
// factories) through to the schema.
func WithSchemaOptions(opts ...AnalyzeOption) Option {
	return func(o *controllerOptions) { o.schemaOpts = append(o.schemaOpts, opts...) }
}

// Controller orchestrates validation, handler invocation, and response
// encoding for one route. It implements http.Handler.
type Controller[Req, Resp any] struct {
	schema  *Schema
	handler Handler[Req, Resp]
	opts    controllerOptions
}

// NewController analyzes Req and wraps the handler. Declaration errors
// panic: they are registration bugs and must never surface at request
// time.
func NewController[Req, Resp any](h Handler[Req, Resp], opts ...Option) *Controller[Req, Resp] {
	c, err := TryNewController(h, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

// TryNewController is NewController returning the DefinitionError instead
// of panicking.
func TryNewController[Req, Resp any](h Handler[Req, Resp], opts ...Option) (*Controller[Req, Resp], error) {
	o := controllerOptions{config: DefaultConfig()}
	for _, opt := range opts {
		opt(&o)
	}
	schema, err := AnalyzeFor[Req](o.schemaOpts...)
	if err != nil {
		return nil, err
	}
	return &Controller[Req, Resp]{schema: schema, handler: h, opts: o}, nil
}

// Schema returns the analyzed binding plan.
func (c *Controller[Req, Resp]) Schema() *Schema { return c.schema }

func (c *Controller[Req, Resp]) logger() *slog.Logger {
	if c.opts.logger != nil {
		return c.opts.logger
	}
	return slog.Default()
}

// ServeHTTP validates the request, invokes the handler, and encodes the
// response. All per-request state lives on the stack or the
// RequestContext; the schema is shared read-only.
func (c *Controller[Req, Resp]) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	logger := c.logger().With(slog.String("request_id", uuid.NewString()))

	set := &extractSettings{maxBodyBytes: c.opts.config.MaxBodyBytes}
	if bps := c.opts.config.ReadBytesPerSec; bps > 0 {
		burst := bps
		if burst < readChunkSize {
			burst = readChunkSize
		}
		set.limiter = rate.NewLimiter(rate.Limit(bps), burst)
	}

	rc := NewRequestContext()
	values, fieldErrs := c.schema.validateRequest(NewRequest(r), rc, set)
	if len(fieldErrs) > 0 {
		c.writeValidationFailure(w, 0, fieldErrs)
		logger.LogAttrs(r.Context(), slog.LevelDebug, "request rejected",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("errors", len(fieldErrs)),
		)
		return
	}

	req := new(Req)
	if err := c.schema.apply(req, values, r, w); err != nil {
		logger.LogAttrs(r.Context(), slog.LevelError, "bind failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": http.StatusText(http.StatusInternalServerError)})
		return
	}

	if sv, ok := any(req).(SelfValidator); ok {
		if err := sv.Validate(); err != nil {
			c.writeHandlerError(w, logger, err)
			return
		}
	}
	if c.opts.validator != nil {
		if err := c.opts.validator.Validate(req); err != nil {
			c.writeHandlerError(w, logger, err)
			return
		}
	}

	resp, err := c.handler(r.Context(), req)
	if err != nil {
		c.writeHandlerError(w, logger, err)
		return
	}

	status := c.opts.status
	if resp == nil {
		if status == 0 {
			status = http.StatusNoContent
		}
		w.WriteHeader(status)
		c.logRequest(logger, r, status, start)
		return
	}
	if status == 0 {
		status = http.StatusOK
	}
	if sc, ok := any(resp).(StatusCoder); ok {
		status = sc.StatusCode()
	}

	encodeOpts := append([]EncodeOption{WithCharset(c.opts.config.Charset)}, c.opts.encodeOpts...)
	out, err := Encode(resp, encodeOpts...)
	if err != nil {
		// An unencodable response is a handler bug, not client input.
		logger.LogAttrs(r.Context(), slog.LevelError, "response encoding failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": http.StatusText(http.StatusInternalServerError)})
		return
	}

	writeJSON(w, status, out)
	c.logRequest(logger, r, status, start)
}

func (c *Controller[Req, Resp]) logRequest(logger *slog.Logger, r *http.Request, status int, start time.Time) {
	logger.LogAttrs(r.Context(), slog.LevelInfo, "request",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.Int("status", status),
		slog.Duration("latency", time.Since(start)),
	)
}

// writeValidationFailure renders the errors shape. A zero status falls back
// to the configured validation status.
func (c *Controller[Req, Resp]) writeValidationFailure(w http.ResponseWriter, status int, errs []FieldError) {
	field := c.opts.config.ErrorsField
	if field == "" {
		field = "detail"
	}
	if status == 0 {
		status = c.opts.config.ValidationStatus
	}
	if status == 0 {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, map[string]any{field: errs})
}

// writeHandlerError renders an error from the handler or a post-bind
// validator. Validation failures use the documented errors shape; anything
// else carries its StatusCoder status or falls back to 500.
func (c *Controller[Req, Resp]) writeHandlerError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var vf *ValidationFailure
	if errors.As(err, &vf) {
		// The failure's own status, when set, beats the configured one.
		c.writeValidationFailure(w, vf.Status, vf.Errors)
		return
	}

	status := http.StatusInternalServerError
	var sc StatusCoder
	if errors.As(err, &sc) {
		status = sc.StatusCode()
	}
	if status >= http.StatusInternalServerError {
		logger.LogAttrs(context.Background(), slog.LevelError, "handler failed", slog.String("error", err.Error()))
		writeJSON(w, status, map[string]string{"error": http.StatusText(status)})
		return
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	//nolint:errcheck,errchkjson,gosec // best-effort after WriteHeader
	json.NewEncoder(w).Encode(v)
}
