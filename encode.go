package bind

import (
	"encoding"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"reflect"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/text/encoding/ianaindex"
)

// FieldSet selects fields for encoding by key. A nil entry keeps (or drops)
// the whole subtree; a non-nil entry recurses into nested values.
type FieldSet map[string]FieldSet

// Mapper is the duck-typed map conversion the encoder falls back to for
// values it cannot otherwise encode.
type Mapper interface {
	AsMap() map[string]any
}

// EncodeOption configures one encoding call.
type EncodeOption func(*encodeState)

// WithInclude keeps only the named fields (and their nested selections).
func WithInclude(fs FieldSet) EncodeOption {
	return func(s *encodeState) { s.include = fs }
}

// WithExclude drops the named fields (and their nested selections).
func WithExclude(fs FieldSet) EncodeOption {
	return func(s *encodeState) { s.exclude = fs }
}

// ByAlias keys struct fields by their wire alias instead of the Go name.
func ByAlias() EncodeOption {
	return func(s *encodeState) { s.byAlias = true }
}

// ExcludeUnset drops fields that were never assigned. A field counts as
// unset when its kind is nilable (pointer, slice, map, interface) and its
// value is nil.
func ExcludeUnset() EncodeOption {
	return func(s *encodeState) { s.excludeUnset = true }
}

// ExcludeDefaults drops fields whose value equals the type's default.
func ExcludeDefaults() EncodeOption {
	return func(s *encodeState) { s.excludeDefaults = true }
}

// ExcludeNil drops fields and map entries whose encoded value is null.
func ExcludeNil() EncodeOption {
	return func(s *encodeState) { s.excludeNil = true }
}

// WithCharset sets the charset used to decode byte strings (default UTF-8).
func WithCharset(name string) EncodeOption {
	return func(s *encodeState) { s.charset = name }
}

// WithMarshal sets the serializer used by EncodeJSON.
func WithMarshal(fn func(any) ([]byte, error)) EncodeOption {
	return func(s *encodeState) { s.marshal = fn }
}

// WithTypeEncoder adds a per-call custom encoder for an exact type.
func WithTypeEncoder(t reflect.Type, fn func(any) any) EncodeOption {
	return func(s *encodeState) {
		if s.custom == nil {
			s.custom = make(map[reflect.Type]func(any) any)
		}
		s.custom[t] = fn
	}
}

type encodeState struct {
	include         FieldSet
	exclude         FieldSet
	byAlias         bool
	excludeUnset    bool
	excludeDefaults bool
	excludeNil      bool
	charset         string
	marshal         func(any) ([]byte, error)
	custom          map[reflect.Type]func(any) any
}

// child derives the state for a nested value, narrowing the include and
// exclude selections to the given key.
func (s *encodeState) child(key string) *encodeState {
	c := *s
	c.include = subSet(s.include, key)
	c.exclude = subSet(s.exclude, key)
	return &c
}

// elem derives the state for sequence elements: selections apply through
// lists unchanged.
func (s *encodeState) elem() *encodeState { return s }

func subSet(fs FieldSet, key string) FieldSet {
	if fs == nil {
		return nil
	}
	return fs[key]
}

// registered custom encoders, keyed by exact type, plus interface entries
// matched by implementation.
var (
	encodersMu    sync.RWMutex
	exactEncoders = make(map[reflect.Type]func(any) any)
	ifaceEncoders []ifaceEncoder
)

type ifaceEncoder struct {
	iface reflect.Type
	fn    func(any) any
}

// RegisterEncoder adds a package-wide custom encoder for T. When T is an
// interface, any value implementing it is matched; otherwise the match is
// by exact type and takes precedence over every other encoding path.
func RegisterEncoder[T any](fn func(T) any) {
	t := reflect.TypeFor[T]()
	wrapped := func(v any) any { return fn(v.(T)) }

	encodersMu.Lock()
	defer encodersMu.Unlock()
	if t.Kind() == reflect.Interface {
		ifaceEncoders = append(ifaceEncoders, ifaceEncoder{iface: t, fn: wrapped})
		return
	}
	exactEncoders[t] = wrapped
}

func lookupCustom(s *encodeState, t reflect.Type) (func(any) any, bool) {
	if s.custom != nil {
		if fn, ok := s.custom[t]; ok {
			return fn, true
		}
	}
	encodersMu.RLock()
	defer encodersMu.RUnlock()
	if fn, ok := exactEncoders[t]; ok {
		return fn, true
	}
	for _, e := range ifaceEncoders {
		if t.Implements(e.iface) {
			return e.fn, true
		}
	}
	return nil, false
}

// Encode recursively normalizes a value into JSON-safe data: maps with
// string keys, slices, strings, numbers, booleans, and nil. Already
// JSON-safe values come back unchanged.
func Encode(v any, opts ...EncodeOption) (any, error) {
	s := &encodeState{}
	for _, opt := range opts {
		opt(s)
	}
	return encodeValue(v, s)
}

// EncodeJSON encodes the value and serializes it with the configured
// marshal function (json.Marshal by default).
func EncodeJSON(v any, opts ...EncodeOption) ([]byte, error) {
	s := &encodeState{}
	for _, opt := range opts {
		opt(s)
	}
	out, err := encodeValue(v, s)
	if err != nil {
		return nil, err
	}
	marshal := s.marshal
	if marshal == nil {
		marshal = json.Marshal
	}
	return marshal(out)
}

func encodeValue(v any, s *encodeState) (any, error) {
	if v == nil {
		return nil, nil
	}

	if fn, ok := lookupCustom(s, reflect.TypeOf(v)); ok {
		return encodeValue(fn(v), s)
	}

	if out, ok := encodeScalar(v); ok {
		return out, nil
	}

	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil, nil
		}
		rv = rv.Elem()
		// A dereferenced value gets the full dispatch again (custom
		// encoders and scalars may be registered on the element type).
		return encodeValue(rv.Interface(), s)
	}

	if tm, ok := v.(encoding.TextMarshaler); ok {
		b, err := tm.MarshalText()
		if err != nil {
			return nil, err
		}
		return string(b), nil
	}
	if m, ok := v.(Mapper); ok {
		return encodeMap(reflect.ValueOf(m.AsMap()), s)
	}

	//exhaustive:ignore
	switch rv.Kind() {
	case reflect.Struct:
		return encodeStruct(rv, s)
	case reflect.Map:
		return encodeMap(rv, s)
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() == reflect.Uint8 {
			return decodeCharset(rv.Bytes(), s.charset)
		}
		return encodeSeq(rv, s)
	case reflect.String:
		return rv.String(), nil
	case reflect.Bool:
		return rv.Bool(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint(), nil
	case reflect.Float32, reflect.Float64:
		return rv.Float(), nil
	}

	// Named value objects that stringify (reached only for kinds not
	// handled above, matching the superclass-table pass).
	if str, ok := v.(fmt.Stringer); ok {
		return str.String(), nil
	}

	return nil, encodeFallback(v, rv)
}

// encodeScalar handles the well-known scalar types by exact type, checked
// before the generic struct arm so a time.Time never projects as an object.
func encodeScalar(v any) (any, bool) {
	switch x := v.(type) {
	case time.Time:
		return x.Format(time.RFC3339Nano), true
	case time.Duration:
		return x.Seconds(), true
	case uuid.UUID:
		return x.String(), true
	case decimal.Decimal:
		return x.String(), true
	case net.IP:
		return x.String(), true
	case netip.Addr:
		return x.String(), true
	case url.URL:
		return x.String(), true
	case *url.URL:
		if x == nil {
			return nil, true
		}
		return x.String(), true
	case *regexp.Regexp:
		if x == nil {
			return nil, true
		}
		return x.String(), true
	case json.Number:
		return x, true
	case json.RawMessage:
		return x, true
	default:
		return nil, false
	}
}

func encodeStruct(rv reflect.Value, s *encodeState) (any, error) {
	t := rv.Type()
	out := make(map[string]any, t.NumField())

	for i := range t.NumField() {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		alias := jsonFieldName(sf)
		if alias == "-" {
			continue
		}
		key := sf.Name
		if s.byAlias {
			key = alias
		}

		if !selected(s, key) {
			continue
		}

		fv := rv.Field(i)
		if (s.excludeUnset || s.excludeNil) && isNilable(fv.Kind()) && fv.IsNil() {
			continue
		}
		if s.excludeDefaults && fv.IsZero() {
			continue
		}

		enc, err := encodeValue(fv.Interface(), s.child(key))
		if err != nil {
			return nil, err
		}
		if s.excludeNil && enc == nil {
			continue
		}
		out[key] = enc
	}

	return out, nil
}

func encodeMap(rv reflect.Value, s *encodeState) (any, error) {
	out := make(map[string]any, rv.Len())

	iter := rv.MapRange()
	for iter.Next() {
		// Keys go through the encoder too.
		encKey, err := encodeValue(iter.Key().Interface(), s.elem())
		if err != nil {
			return nil, err
		}
		key := mapKeyString(encKey)

		if !selected(s, key) {
			continue
		}

		enc, err := encodeValue(iter.Value().Interface(), s.child(key))
		if err != nil {
			return nil, err
		}
		if s.excludeNil && enc == nil {
			continue
		}
		out[key] = enc
	}

	return out, nil
}

func encodeSeq(rv reflect.Value, s *encodeState) (any, error) {
	out := make([]any, 0, rv.Len())
	for i := range rv.Len() {
		enc, err := encodeValue(rv.Index(i).Interface(), s.elem())
		if err != nil {
			return nil, err
		}
		out = append(out, enc)
	}
	return out, nil
}

// selected applies the include/exclude filters to one key. An exclude
// entry with a nested selection does not drop the key itself; the
// selection narrows as encoding recurses.
func selected(s *encodeState, key string) bool {
	if s.exclude != nil {
		if sub, ok := s.exclude[key]; ok && sub == nil {
			return false
		}
	}
	if s.include != nil {
		if _, ok := s.include[key]; !ok {
			return false
		}
	}
	return true
}

func mapKeyString(k any) string {
	if s, ok := k.(string); ok {
		return s
	}
	return fmt.Sprint(k)
}

func isNilable(k reflect.Kind) bool {
	//exhaustive:ignore
	switch k {
	case reflect.Pointer, reflect.Slice, reflect.Map, reflect.Interface, reflect.Chan, reflect.Func:
		return true
	default:
		return false
	}
}

// decodeCharset turns a byte string into text using the configured charset.
// UTF-8 is the default and needs no lookup.
func decodeCharset(b []byte, charset string) (any, error) {
	if charset == "" || strings.EqualFold(charset, "utf-8") {
		return string(b), nil
	}
	enc, err := ianaindex.IANA.Encoding(charset)
	if err != nil || enc == nil {
		return nil, fmt.Errorf("unknown charset %q", charset)
	}
	decoded, err := enc.NewDecoder().Bytes(b)
	if err != nil {
		return nil, err
	}
	return string(decoded), nil
}

// encodeFallback records why neither fallback applied.
func encodeFallback(v any, rv reflect.Value) error {
	mapErr := errors.New("value does not implement bind.Mapper")
	fieldErr := fmt.Errorf("kind %s has no reflectable fields", rv.Kind())
	return &EncodeError{Type: reflect.TypeOf(v), MapErr: mapErr, FieldErr: fieldErr}
}
