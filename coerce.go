package bind

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// coerceString converts a raw string into the target type, supporting the
// scalar types a request parameter can declare.
func coerceString(s string, t reflect.Type) (reflect.Value, error) {
	if t.Kind() == reflect.Pointer {
		elem, err := coerceString(s, t.Elem())
		if err != nil {
			return reflect.Value{}, err
		}
		p := reflect.New(t.Elem())
		p.Elem().Set(elem)
		return p, nil
	}

	switch t {
	case reflect.TypeFor[time.Duration]():
		d, err := time.ParseDuration(s)
		if err != nil {
			return reflect.Value{}, err
		}
		return reflect.ValueOf(d), nil
	case reflect.TypeFor[time.Time]():
		ts, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return reflect.Value{}, err
		}
		return reflect.ValueOf(ts), nil
	case reflect.TypeFor[uuid.UUID]():
		id, err := uuid.Parse(s)
		if err != nil {
			return reflect.Value{}, err
		}
		return reflect.ValueOf(id), nil
	case reflect.TypeFor[decimal.Decimal]():
		d, err := decimal.NewFromString(s)
		if err != nil {
			return reflect.Value{}, err
		}
		return reflect.ValueOf(d), nil
	}

	//exhaustive:ignore
	switch t.Kind() {
	case reflect.String:
		v := reflect.New(t).Elem()
		v.SetString(s)
		return v, nil
	case reflect.Bool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return reflect.Value{}, typeError(s, t)
		}
		return reflect.ValueOf(b).Convert(t), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(s, 10, t.Bits())
		if err != nil {
			return reflect.Value{}, typeError(s, t)
		}
		v := reflect.New(t).Elem()
		v.SetInt(n)
		return v, nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(s, 10, t.Bits())
		if err != nil {
			return reflect.Value{}, typeError(s, t)
		}
		v := reflect.New(t).Elem()
		v.SetUint(n)
		return v, nil
	case reflect.Float32, reflect.Float64:
		n, err := strconv.ParseFloat(s, t.Bits())
		if err != nil {
			return reflect.Value{}, typeError(s, t)
		}
		v := reflect.New(t).Elem()
		v.SetFloat(n)
		return v, nil
	case reflect.Interface:
		if t.NumMethod() == 0 {
			return reflect.ValueOf(s), nil
		}
		return reflect.Value{}, typeError(s, t)
	case reflect.Slice:
		// A single raw string becomes a one-element slice.
		elem, err := coerceString(s, t.Elem())
		if err != nil {
			return reflect.Value{}, err
		}
		out := reflect.MakeSlice(t, 0, 1)
		return reflect.Append(out, elem), nil
	default:
		return reflect.Value{}, typeError(s, t)
	}
}

// coerceValue converts an extracted raw value (a string, a decoded JSON
// value, a []string from a duplicate-key promotion, or a nested mapping)
// into the target type.
func coerceValue(raw any, t reflect.Type) (reflect.Value, error) {
	if raw == nil {
		switch t.Kind() {
		case reflect.Pointer, reflect.Slice, reflect.Map, reflect.Interface:
			return reflect.Zero(t), nil
		default:
			return reflect.Value{}, typeError(raw, t)
		}
	}

	if t.Kind() == reflect.Pointer {
		elem, err := coerceValue(raw, t.Elem())
		if err != nil {
			return reflect.Value{}, err
		}
		p := reflect.New(t.Elem())
		p.Elem().Set(elem)
		return p, nil
	}

	rv := reflect.ValueOf(raw)
	if rv.Type().AssignableTo(t) && t.Kind() != reflect.Interface {
		return rv, nil
	}
	if t.Kind() == reflect.Interface && t.NumMethod() == 0 {
		return rv, nil
	}

	switch v := raw.(type) {
	case string:
		return coerceString(v, t)
	case bool:
		if t.Kind() == reflect.Bool {
			return reflect.ValueOf(v).Convert(t), nil
		}
		return reflect.Value{}, typeError(raw, t)
	case json.Number:
		return coerceString(string(v), t)
	case float64:
		return coerceFloat(v, t)
	case int:
		return coerceFloat(float64(v), t)
	case int64:
		return coerceFloat(float64(v), t)
	case []string:
		return coerceList(stringsToAny(v), t)
	case []any:
		return coerceList(v, t)
	case map[string]any:
		return coerceMapping(v, t)
	case map[string]string:
		m := make(map[string]any, len(v))
		for k, s := range v {
			m[k] = s
		}
		return coerceMapping(m, t)
	default:
		if rv.Type().ConvertibleTo(t) && t.Kind() != reflect.Struct {
			return rv.Convert(t), nil
		}
		return reflect.Value{}, typeError(raw, t)
	}
}

// coerceFloat narrows a JSON number to the target numeric type, rejecting
// fractional values for integer targets.
func coerceFloat(n float64, t reflect.Type) (reflect.Value, error) {
	switch t {
	case reflect.TypeFor[decimal.Decimal]():
		return reflect.ValueOf(decimal.NewFromFloat(n)), nil
	case reflect.TypeFor[time.Duration]():
		return reflect.ValueOf(time.Duration(n)), nil
	}

	//exhaustive:ignore
	switch t.Kind() {
	case reflect.Float32, reflect.Float64:
		v := reflect.New(t).Elem()
		v.SetFloat(n)
		return v, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if n != math.Trunc(n) {
			return reflect.Value{}, typeError(n, t)
		}
		v := reflect.New(t).Elem()
		v.SetInt(int64(n))
		if float64(v.Int()) != n {
			return reflect.Value{}, typeError(n, t)
		}
		return v, nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		if n != math.Trunc(n) || n < 0 {
			return reflect.Value{}, typeError(n, t)
		}
		v := reflect.New(t).Elem()
		v.SetUint(uint64(n))
		if float64(v.Uint()) != n {
			return reflect.Value{}, typeError(n, t)
		}
		return v, nil
	default:
		return reflect.Value{}, typeError(n, t)
	}
}

// coerceList converts a list of raw values into a slice or array target.
// Tuple-like scalar targets receive the first element.
func coerceList(items []any, t reflect.Type) (reflect.Value, error) {
	//exhaustive:ignore
	switch t.Kind() {
	case reflect.Slice:
		out := reflect.MakeSlice(t, 0, len(items))
		for _, item := range items {
			elem, err := coerceValue(item, t.Elem())
			if err != nil {
				return reflect.Value{}, err
			}
			out = reflect.Append(out, elem)
		}
		return out, nil
	case reflect.Array:
		if len(items) != t.Len() {
			return reflect.Value{}, typeError(items, t)
		}
		out := reflect.New(t).Elem()
		for i, item := range items {
			elem, err := coerceValue(item, t.Elem())
			if err != nil {
				return reflect.Value{}, err
			}
			out.Index(i).Set(elem)
		}
		return out, nil
	case reflect.Interface:
		if t.NumMethod() == 0 {
			return reflect.ValueOf(items), nil
		}
		return reflect.Value{}, typeError(items, t)
	default:
		// Scalar target: take the first value (duplicate-key semantics).
		if len(items) == 0 {
			return reflect.Value{}, typeError(items, t)
		}
		return coerceValue(items[0], t)
	}
}

// coerceMapping converts a raw mapping into a map or struct target. Struct
// targets are built from the intersection of the incoming keys with the
// struct's known wire names; unknown keys are dropped rather than breaking
// construction.
func coerceMapping(m map[string]any, t reflect.Type) (reflect.Value, error) {
	//exhaustive:ignore
	switch t.Kind() {
	case reflect.Map:
		if t.Key().Kind() != reflect.String {
			return reflect.Value{}, typeError(m, t)
		}
		out := reflect.MakeMapWithSize(t, len(m))
		for k, raw := range m {
			val, err := coerceValue(raw, t.Elem())
			if err != nil {
				return reflect.Value{}, fmt.Errorf("key %q: %w", k, err)
			}
			out.SetMapIndex(reflect.ValueOf(k).Convert(t.Key()), val)
		}
		return out, nil
	case reflect.Struct:
		out := reflect.New(t).Elem()
		for i := range t.NumField() {
			sf := t.Field(i)
			if !sf.IsExported() {
				continue
			}
			name := jsonFieldName(sf)
			if name == "-" {
				continue
			}
			raw, ok := m[name]
			if !ok {
				continue
			}
			val, err := coerceValue(raw, sf.Type)
			if err != nil {
				return reflect.Value{}, fmt.Errorf("field %q: %w", name, err)
			}
			out.Field(i).Set(val)
		}
		return out, nil
	case reflect.Interface:
		if t.NumMethod() == 0 {
			return reflect.ValueOf(m), nil
		}
		return reflect.Value{}, typeError(m, t)
	default:
		return reflect.Value{}, typeError(m, t)
	}
}

func stringsToAny(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}

// typeError describes a failed coercion in client-facing terms.
func typeError(raw any, t reflect.Type) error {
	return fmt.Errorf("value is not a valid %s: %v", typeName(t), raw)
}

// typeName renders a target type the way a client would understand it.
func typeName(t reflect.Type) string {
	switch t {
	case reflect.TypeFor[time.Time]():
		return "datetime"
	case reflect.TypeFor[time.Duration]():
		return "duration"
	case reflect.TypeFor[uuid.UUID]():
		return "uuid"
	case reflect.TypeFor[decimal.Decimal]():
		return "decimal"
	}

	//exhaustive:ignore
	switch t.Kind() {
	case reflect.String:
		return "string"
	case reflect.Bool:
		return "boolean"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return "integer"
	case reflect.Float32, reflect.Float64:
		return "number"
	case reflect.Slice, reflect.Array:
		return "list"
	case reflect.Map, reflect.Struct:
		return "object"
	case reflect.Pointer:
		return typeName(t.Elem())
	default:
		return t.String()
	}
}
