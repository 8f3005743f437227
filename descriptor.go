package bind

import (
	"reflect"
	"regexp"
)

// Location identifies where a bound value is read from in an HTTP request.
type Location int

const (
	LocationPath Location = iota
	LocationHeader
	LocationCookie
	LocationQuery
	LocationBody
)

// String returns the wire name of the location, as it appears in error
// locator paths.
func (l Location) String() string {
	switch l {
	case LocationPath:
		return "path"
	case LocationHeader:
		return "header"
	case LocationCookie:
		return "cookie"
	case LocationQuery:
		return "query"
	case LocationBody:
		return "body"
	default:
		return "unknown"
	}
}

// BodyKind selects how a request body is read and decoded.
type BodyKind int

const (
	BodyJSON BodyKind = iota
	BodyText
	BodyBytes
	BodyForm
	BodyMultipart
	BodyStream
)

// String returns the tag spelling of the body kind.
func (k BodyKind) String() string {
	switch k {
	case BodyJSON:
		return "json"
	case BodyText:
		return "text"
	case BodyBytes:
		return "bytes"
	case BodyForm:
		return "form"
	case BodyMultipart:
		return "multipart"
	case BodyStream:
		return "stream"
	default:
		return "unknown"
	}
}

// defaultContentType returns the expected request content type for the kind.
func (k BodyKind) defaultContentType() string {
	switch k {
	case BodyJSON:
		return "application/json"
	case BodyForm:
		return "application/x-www-form-urlencoded"
	case BodyMultipart:
		return "multipart/form-data"
	case BodyText:
		return "text/*"
	default:
		return "*/*"
	}
}

// checkedByDefault reports whether content-type negotiation applies to the
// kind unless explicitly disabled.
func (k BodyKind) checkedByDefault() bool {
	switch k {
	case BodyJSON, BodyForm, BodyMultipart:
		return true
	default:
		return false
	}
}

// Constraints holds the declared value constraints for one field. Nil
// pointers mean "not declared". Patterns are compiled once at analysis.
type Constraints struct {
	GT, GE, LT, LE *float64
	MultipleOf     *float64
	MaxDigits      *int
	DecimalPlaces  *int

	MinLength *int
	MaxLength *int
	Pattern   *regexp.Regexp
	Enum      []string

	MinItems *int
	MaxItems *int

	AllowInfNaN bool
}

// Field describes one bound parameter of a request type. A Field is built
// once at analysis time and is read-only afterwards; it is shared by every
// concurrent request for the route and must never hold per-request state.
type Field struct {
	// Name is the struct field name, the handler-visible attribute.
	Name string
	// Alias is the wire name. Extraction always keys by alias.
	Alias string

	Location Location
	// Group binds the location's entire data set as one value instead of
	// one named key.
	Group bool
	// Raw skips type coercion and constraint checks; the extracted value
	// passes through unchanged.
	Raw bool
	// Optional marks a pointer-typed field that may be absent.
	Optional bool

	Type  reflect.Type
	Index []int

	HasDefault     bool
	Default        any
	DefaultFactory func() any

	Constraints Constraints

	// Body-only settings.
	BodyKind         BodyKind
	ContentType      string
	CheckContentType bool
	// Fold collects duplicate form/multipart names into a list instead of
	// keeping the first occurrence.
	Fold bool
}

// canHaveDefault reports whether a default is permitted for this field.
// Path params always travel in the URL and streaming bodies cannot be
// synthesized, so neither accepts a default.
func (f *Field) canHaveDefault() bool {
	if f.Location == LocationPath {
		return false
	}
	if f.Location == LocationBody && f.BodyKind == BodyStream {
		return false
	}
	return true
}

// hasUsableDefault reports whether an absent value can be substituted.
func (f *Field) hasUsableDefault() bool {
	return f.HasDefault || f.DefaultFactory != nil || f.Optional
}

// hasExplicitDefault reports whether a default was declared, as opposed to
// the implicit nil of an optional field.
func (f *Field) hasExplicitDefault() bool {
	return f.HasDefault || f.DefaultFactory != nil
}

// defaultValue resolves the field's default at request time. Precedence was
// settled at analysis: a declared default beats a factory, and an optional
// field without either yields nil.
func (f *Field) defaultValue() any {
	if f.HasDefault {
		return f.Default
	}
	if f.DefaultFactory != nil {
		return f.DefaultFactory()
	}
	return nil
}
