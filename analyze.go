package bind

import (
	"io"
	"net/http"
	"reflect"
	"strconv"
	"sync"
)

// bindMode is how a location container validates its extracted data,
// selected once at analysis and never re-dispatched per request.
type bindMode int

const (
	// modePerKey binds individual named values from the location.
	modePerKey bindMode = iota
	// modeGroup binds the location's entire data set to one field.
	modeGroup
)

// container groups the fields of one location. A group container holds
// exactly one field.
type container struct {
	location Location
	mode     bindMode
	fields   []*Field
}

// Schema is the analyzed binding plan for one request type. It is built
// once at registration, is immutable afterwards, and is safe to share
// across all concurrent requests for the route.
type Schema struct {
	Type reflect.Type

	containers []*container
	// fields preserves struct declaration order across locations, which is
	// the order validation errors are reported in.
	fields []*Field
	body   *Field

	// rawRequest / rawResponse are the index paths of the fields that
	// receive the underlying request and response writer; nil when absent.
	rawRequest  []int
	rawResponse []int

	fieldsByName map[string]*Field
}

// schemaCache memoizes analysis per request type. Schemas built with
// options are not cached; options can change the result.
var schemaCache sync.Map // reflect.Type -> *Schema

// AnalyzeOption supplies registration-time settings that cannot be
// expressed in struct tags.
type AnalyzeOption func(*analyzeSettings)

type analyzeSettings struct {
	defaults  map[string]any
	factories map[string]func() any
}

// WithFieldDefault sets a call-site default for the named struct field. It
// takes precedence over a default declared in the field's tag.
func WithFieldDefault(field string, v any) AnalyzeOption {
	return func(s *analyzeSettings) {
		if s.defaults == nil {
			s.defaults = make(map[string]any)
		}
		s.defaults[field] = v
	}
}

// WithDefaultFactory sets a default factory for the named struct field. The
// factory runs once per request that omits the field. A field cannot carry
// both a declared default and a factory.
func WithDefaultFactory(field string, fn func() any) AnalyzeOption {
	return func(s *analyzeSettings) {
		if s.factories == nil {
			s.factories = make(map[string]func() any)
		}
		s.factories[field] = fn
	}
}

// AnalyzeFor analyzes the request type given as a type parameter.
func AnalyzeFor[Req any](opts ...AnalyzeOption) (*Schema, error) {
	return Analyze(reflect.TypeFor[Req](), opts...)
}

// Analyze inspects a request struct type and builds its binding schema.
// Every declaration invariant is checked here, never at request time; a
// violation returns a *DefinitionError that must abort route registration.
func Analyze(t reflect.Type, opts ...AnalyzeOption) (*Schema, error) {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil, definitionErr(t, "", "request type must be a struct")
	}

	if len(opts) == 0 {
		if cached, ok := schemaCache.Load(t); ok {
			return cached.(*Schema), nil
		}
	}

	var settings analyzeSettings
	for _, opt := range opts {
		opt(&settings)
	}

	s, err := analyzeStruct(t, &settings)
	if err != nil {
		return nil, err
	}

	if len(opts) == 0 {
		schemaCache.Store(t, s)
	}
	return s, nil
}

func analyzeStruct(t reflect.Type, settings *analyzeSettings) (*Schema, error) {
	s := &Schema{
		Type:         t,
		fieldsByName: make(map[string]*Field),
	}

	byLocation := make(map[Location]*container)
	seenAlias := make(map[string]string) // location|alias -> field name
	claimed := make(map[string]bool)     // fields consumed by an option

	for i := range t.NumField() {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}

		switch sf.Type {
		case reflect.TypeFor[RawRequest]():
			if s.rawRequest != nil {
				return nil, definitionErr(t, sf.Name, "duplicate RawRequest receiver")
			}
			s.rawRequest = sf.Index
			continue
		case reflect.TypeFor[RawResponse]():
			if s.rawResponse != nil {
				return nil, definitionErr(t, sf.Name, "duplicate RawResponse receiver")
			}
			s.rawResponse = sf.Index
			continue
		}

		f, err := analyzeField(t, sf, settings, claimed)
		if err != nil {
			return nil, err
		}
		if f == nil {
			continue // untagged pass-through field
		}

		key := f.Location.String() + "|" + f.Alias
		if prev, dup := seenAlias[key]; dup && !f.Group {
			return nil, definitionErr(t, sf.Name, "duplicate %s alias %q (already bound by %s)", f.Location, f.Alias, prev)
		}
		seenAlias[key] = sf.Name

		if f.Location == LocationBody {
			if s.body != nil {
				return nil, definitionErr(t, sf.Name, "duplicate body field (already bound by %s)", s.body.Name)
			}
			s.body = f
		}

		c, ok := byLocation[f.Location]
		if !ok {
			mode := modePerKey
			if f.Group || f.Location == LocationBody {
				mode = modeGroup
			}
			c = &container{location: f.Location, mode: mode}
			byLocation[f.Location] = c
			s.containers = append(s.containers, c)
		} else {
			if f.Group || c.mode == modeGroup {
				return nil, definitionErr(t, sf.Name, "cannot mix whole-%s binding with per-key %s fields", f.Location, f.Location)
			}
		}
		c.fields = append(c.fields, f)
		s.fields = append(s.fields, f)
		s.fieldsByName[f.Name] = f
	}

	for name := range settings.defaults {
		if !claimed[name] {
			return nil, definitionErr(t, name, "default declared for unknown field")
		}
	}
	for name := range settings.factories {
		if !claimed[name] {
			return nil, definitionErr(t, name, "default factory declared for unknown field")
		}
	}

	return s, nil
}

// Lookup returns the descriptor for a struct field name.
func (s *Schema) Lookup(name string) (*Field, bool) {
	f, ok := s.fieldsByName[name]
	return f, ok
}

func (s *Schema) containerOf(loc Location) *container {
	for _, c := range s.containers {
		if c.location == loc {
			return c
		}
	}
	return nil
}

// apply sets the validated values onto a request struct and injects the raw
// request and response receivers.
func (s *Schema) apply(target any, values map[string]any, r *http.Request, w http.ResponseWriter) error {
	rv := reflect.ValueOf(target)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return definitionErr(s.Type, "", "apply target must be a non-nil pointer")
	}
	rv = rv.Elem()

	for name, val := range values {
		f, ok := s.fieldsByName[name]
		if !ok || val == nil {
			continue
		}
		fv := rv.FieldByIndex(f.Index)
		vv := reflect.ValueOf(val)
		if !vv.Type().AssignableTo(fv.Type()) {
			if !vv.Type().ConvertibleTo(fv.Type()) {
				return definitionErr(s.Type, name, "raw value of type %s cannot be assigned to %s", vv.Type(), fv.Type())
			}
			vv = vv.Convert(fv.Type())
		}
		fv.Set(vv)
	}

	if s.rawRequest != nil && r != nil {
		rv.FieldByIndex(s.rawRequest).Set(reflect.ValueOf(RawRequest{Request: r}))
	}
	if s.rawResponse != nil && w != nil {
		rv.FieldByIndex(s.rawResponse).Set(reflect.ValueOf(RawResponse{Writer: w}))
	}
	return nil
}

// analyzeField builds the descriptor for one struct field, or returns
// (nil, nil) when the field carries no binding tag.
func analyzeField(t reflect.Type, sf reflect.StructField, settings *analyzeSettings, claimed map[string]bool) (*Field, error) {
	f := &Field{
		Name:  sf.Name,
		Type:  sf.Type,
		Index: sf.Index,
	}

	var tagged bool
	for _, lt := range locationTags {
		tag, ok := sf.Tag.Lookup(lt.key)
		if !ok {
			continue
		}
		if tagged {
			return nil, definitionErr(t, sf.Name, "field declares more than one bind location")
		}
		tagged = true
		f.Location = lt.loc

		name, opts := tagOptions(tag)
		f.Group = tagContains(opts, "group")
		f.Raw = tagContains(opts, "raw")
		if f.Group && lt.loc == LocationPath {
			// Path variables cannot be enumerated through the transport
			// surface, only looked up by name.
			return nil, definitionErr(t, sf.Name, "path parameters cannot be bound as a group")
		}
		if name == "" && !f.Group {
			return nil, definitionErr(t, sf.Name, "%s tag needs a name (or the group option)", lt.key)
		}
		f.Alias = name
		if f.Alias == "" {
			f.Alias = sf.Name
		}
	}

	if tag, ok := sf.Tag.Lookup("body"); ok {
		if tagged {
			return nil, definitionErr(t, sf.Name, "field declares more than one bind location")
		}
		tagged = true
		f.Location = LocationBody
		f.Alias = sf.Name
		f.Group = true

		name, opts := tagOptions(tag)
		kind, err := resolveBodyKind(name, sf.Type)
		if err != nil {
			return nil, definitionErr(t, sf.Name, "%s", err)
		}
		f.BodyKind = kind
		f.Raw = tagContains(opts, "raw") || kind == BodyStream || kind == BodyBytes
		f.Fold = tagContains(opts, "fold")

		f.ContentType = kind.defaultContentType()
		f.CheckContentType = kind.checkedByDefault()
		if ct := tagOption(opts, "content"); ct != "" {
			f.ContentType = ct
			f.CheckContentType = true
		}
		if tagContains(opts, "nocheck") {
			f.CheckContentType = false
		}
	}

	if !tagged {
		return nil, nil
	}

	f.Optional = sf.Type.Kind() == reflect.Pointer
	if sf.Tag.Get("required") == "true" {
		f.Optional = false
	}

	if f.Location == LocationPath && sf.Type.Kind() == reflect.Pointer {
		return nil, definitionErr(t, sf.Name, "path parameter cannot be optional")
	}

	if err := parseConstraintTags(t, sf, &f.Constraints); err != nil {
		return nil, err
	}

	if err := resolveDefault(t, sf, f, settings, claimed); err != nil {
		return nil, err
	}

	return f, nil
}

// resolveBodyKind picks the body sub-kind: an explicit tag value wins, else
// the kind is inferred from the field type, else JSON.
func resolveBodyKind(tag string, t reflect.Type) (BodyKind, error) {
	switch tag {
	case "json":
		return BodyJSON, nil
	case "text":
		return BodyText, nil
	case "bytes":
		return BodyBytes, nil
	case "form":
		return BodyForm, nil
	case "multipart":
		return BodyMultipart, nil
	case "stream":
		return BodyStream, nil
	case "":
	default:
		return 0, &bodyKindError{tag}
	}

	switch {
	case t.Kind() == reflect.String:
		return BodyText, nil
	case t == reflect.TypeFor[[]byte]():
		return BodyBytes, nil
	case t == reflect.TypeFor[io.Reader]() || t.Implements(reflect.TypeFor[io.Reader]()):
		return BodyStream, nil
	default:
		return BodyJSON, nil
	}
}

type bodyKindError struct{ tag string }

func (e *bodyKindError) Error() string {
	return "unknown body kind " + strconv.Quote(e.tag)
}

// resolveDefault settles the field's default with call-site precedence:
// an option default beats the tag default beats a factory; an optional
// (pointer) type falls back to nil.
func resolveDefault(t reflect.Type, sf reflect.StructField, f *Field, settings *analyzeSettings, claimed map[string]bool) error {
	tagDefault, hasTagDefault := sf.Tag.Lookup("default")
	optDefault, hasOptDefault := settings.defaults[sf.Name]
	factory, hasFactory := settings.factories[sf.Name]
	if hasOptDefault || hasFactory {
		claimed[sf.Name] = true
	}

	if (hasTagDefault || hasOptDefault) && hasFactory {
		return definitionErr(t, sf.Name, "field declares both a default and a default factory")
	}
	if (hasTagDefault || hasOptDefault || hasFactory) && !f.canHaveDefault() {
		if f.Location == LocationBody {
			return definitionErr(t, sf.Name, "streaming body cannot declare a default")
		}
		return definitionErr(t, sf.Name, "%s parameter cannot declare a default", f.Location)
	}

	switch {
	case hasOptDefault:
		v := reflect.ValueOf(optDefault)
		if optDefault == nil || !v.Type().AssignableTo(f.Type) {
			return definitionErr(t, sf.Name, "default value is not assignable to %s", f.Type)
		}
		f.HasDefault = true
		f.Default = optDefault
	case hasTagDefault:
		v, err := coerceString(tagDefault, f.Type)
		if err != nil {
			return definitionErr(t, sf.Name, "invalid default %q: %v", tagDefault, err)
		}
		f.HasDefault = true
		f.Default = v.Interface()
	case hasFactory:
		f.DefaultFactory = factory
	}

	return nil
}

// parseConstraintTags reads the constraint tags into the descriptor,
// compiling patterns and rejecting malformed bounds at registration.
func parseConstraintTags(t reflect.Type, sf reflect.StructField, c *Constraints) error {
	numeric := func(key string) (*float64, error) {
		tag, ok := sf.Tag.Lookup(key)
		if !ok {
			return nil, nil
		}
		n, err := strconv.ParseFloat(tag, 64)
		if err != nil {
			return nil, definitionErr(t, sf.Name, "invalid %s %q", key, tag)
		}
		return &n, nil
	}
	integer := func(key string) (*int, error) {
		tag, ok := sf.Tag.Lookup(key)
		if !ok {
			return nil, nil
		}
		n, err := strconv.Atoi(tag)
		if err != nil || n < 0 {
			return nil, definitionErr(t, sf.Name, "invalid %s %q", key, tag)
		}
		return &n, nil
	}

	var err error
	if c.GE, err = numeric("minimum"); err != nil {
		return err
	}
	if c.LE, err = numeric("maximum"); err != nil {
		return err
	}
	if c.GT, err = numeric("exclusiveMinimum"); err != nil {
		return err
	}
	if c.LT, err = numeric("exclusiveMaximum"); err != nil {
		return err
	}
	if c.MultipleOf, err = numeric("multipleOf"); err != nil {
		return err
	}
	if c.MaxDigits, err = integer("maxDigits"); err != nil {
		return err
	}
	if c.DecimalPlaces, err = integer("decimalPlaces"); err != nil {
		return err
	}
	if c.MinLength, err = integer("minLength"); err != nil {
		return err
	}
	if c.MaxLength, err = integer("maxLength"); err != nil {
		return err
	}
	if c.MinItems, err = integer("minItems"); err != nil {
		return err
	}
	if c.MaxItems, err = integer("maxItems"); err != nil {
		return err
	}

	if tag, ok := sf.Tag.Lookup("pattern"); ok {
		re, err := compilePattern(tag)
		if err != nil {
			return definitionErr(t, sf.Name, "invalid pattern %q: %v", tag, err)
		}
		c.Pattern = re
	}
	if tag, ok := sf.Tag.Lookup("enum"); ok {
		c.Enum = splitEnum(tag)
	}
	c.AllowInfNaN = sf.Tag.Get("allowInfNan") == "true"

	return nil
}
