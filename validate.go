package bind

import (
	"fmt"
	"math"
	"reflect"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// SelfValidator is implemented by request types that validate themselves
// after binding.
type SelfValidator interface {
	Validate() error
}

// Validator validates any bound request.
type Validator interface {
	Validate(req any) error
}

// ValidateRequest extracts and validates every declared field of the
// schema. It returns the values keyed by struct field name and all
// collected errors in strict field declaration order, even when fields of
// different locations interleave. Validation never short-circuits: a
// failing field does not stop the others from being checked, and an
// extraction failure in one location still lets every other location
// validate.
func (s *Schema) ValidateRequest(req Request, rc *RequestContext) (map[string]any, []FieldError) {
	return s.validateRequest(req, rc, &extractSettings{})
}

func (s *Schema) validateRequest(req Request, rc *RequestContext, set *extractSettings) (map[string]any, []FieldError) {
	values := make(map[string]any, len(s.fields))
	var errs []FieldError

	// A failed location reports one error, at the position of its first
	// field; extract memoizes, so later fields see the same failure.
	reported := make(map[Location]bool, len(s.containers))

	for _, f := range s.fields {
		c := s.containerOf(f.Location)
		raw, err := extract(rc, req, c, set)
		if err != nil {
			if reported[f.Location] {
				continue
			}
			reported[f.Location] = true
			if fe, handled := absorbExtractionError(c, err, values); !handled {
				errs = append(errs, fe)
			}
			continue
		}

		switch c.mode {
		case modeGroup:
			errs = append(errs, validateGroup(f, raw, values)...)
		case modePerKey:
			errs = append(errs, validateKey(f, raw, values)...)
		}
	}

	return values, errs
}

// absorbExtractionError converts an extraction failure into a single field
// error at the location boundary. An absent optional body substitutes its
// default instead of failing.
func absorbExtractionError(c *container, err error, values map[string]any) (FieldError, bool) {
	if c.location == LocationBody {
		f := c.fields[0]
		if f.hasUsableDefault() && isAbsentBodyError(err) {
			if dv := f.defaultValue(); dv != nil {
				values[f.Name] = dv
			}
			return FieldError{}, true
		}
	}
	return FieldError{
		Loc:  []string{c.location.String()},
		Msg:  err.Error(),
		Type: KindExtraction,
	}, false
}

func isAbsentBodyError(err error) bool {
	if je, ok := err.(*JSONDecodeError); ok {
		return je.Msg == "empty body"
	}
	return false
}

// validateKey validates one named key of a location.
func validateKey(f *Field, raw any, values map[string]any) []FieldError {
	loc := []string{f.Location.String(), f.Alias}

	rawv, present := lookupRaw(raw, f.Location, f.Alias)
	if !present {
		if f.hasUsableDefault() {
			if dv := f.defaultValue(); dv != nil {
				values[f.Name] = dv
			}
			return nil
		}
		return []FieldError{{Loc: loc, Msg: "field required", Type: KindMissing}}
	}

	if f.Raw {
		values[f.Name] = rawv
		return nil
	}

	// A present-but-empty string substitutes a declared non-nil default.
	// An explicitly nil default never overrides present input: absent and
	// falsy are distinct.
	if s, ok := rawv.(string); ok && s == "" && f.hasExplicitDefault() {
		if dv := f.defaultValue(); dv != nil {
			values[f.Name] = dv
			return nil
		}
	}

	v, err := coerceValue(rawv, f.Type)
	if err != nil {
		return []FieldError{{Loc: loc, Msg: err.Error(), Type: KindType}}
	}
	if errs := checkConstraints(f, v, loc); len(errs) > 0 {
		return errs
	}
	values[f.Name] = v.Interface()
	return nil
}

// validateGroup validates a location's entire extracted data set against
// the single group field.
func validateGroup(f *Field, raw any, values map[string]any) []FieldError {
	loc := []string{f.Location.String()}

	if f.Raw {
		values[f.Name] = raw
		return nil
	}

	if isFalsy(raw) && f.hasExplicitDefault() {
		if dv := f.defaultValue(); dv != nil {
			values[f.Name] = dv
			return nil
		}
	}

	v, err := coerceValue(raw, f.Type)
	if err != nil {
		return []FieldError{{Loc: loc, Msg: err.Error(), Type: KindType}}
	}
	if errs := checkConstraints(f, v, loc); len(errs) > 0 {
		return errs
	}
	values[f.Name] = v.Interface()
	return nil
}

func isFalsy(raw any) bool {
	switch v := raw.(type) {
	case nil:
		return true
	case string:
		return v == ""
	case []byte:
		return len(v) == 0
	case map[string]any:
		return len(v) == 0
	case []any:
		return len(v) == 0
	default:
		return false
	}
}

// checkConstraints evaluates the field's declared constraints against a
// coerced value. All violations are reported, not just the first.
func checkConstraints(f *Field, v reflect.Value, loc []string) []FieldError {
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return nil
		}
		v = v.Elem()
	}

	c := &f.Constraints

	if d, ok := v.Interface().(decimal.Decimal); ok {
		return checkDecimalConstraints(c, d, loc)
	}

	var errs []FieldError
	fail := func(format string, args ...any) {
		errs = append(errs, FieldError{Loc: loc, Msg: fmt.Sprintf(format, args...), Type: KindValue})
	}

	//exhaustive:ignore
	switch v.Kind() {
	case reflect.String:
		val := v.String()
		if c.MinLength != nil && len(val) < *c.MinLength {
			fail("must be at least %d characters", *c.MinLength)
		}
		if c.MaxLength != nil && len(val) > *c.MaxLength {
			fail("must be at most %d characters", *c.MaxLength)
		}
		if c.Pattern != nil && !c.Pattern.MatchString(val) {
			fail("must match pattern %s", c.Pattern)
		}
		if len(c.Enum) > 0 && !contains(c.Enum, val) {
			fail("must be one of [%s]", strings.Join(c.Enum, ","))
		}

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		n := toFloat64(v)
		if !c.AllowInfNaN && (math.IsNaN(n) || math.IsInf(n, 0)) {
			fail("must be a finite number")
			break
		}
		checkNumericBounds(c, n, fail)

	case reflect.Slice, reflect.Array, reflect.Map:
		length := v.Len()
		if c.MinItems != nil && length < *c.MinItems {
			fail("must have at least %d items", *c.MinItems)
		}
		if c.MaxItems != nil && length > *c.MaxItems {
			fail("must have at most %d items", *c.MaxItems)
		}
	}

	return errs
}

func checkNumericBounds(c *Constraints, n float64, fail func(string, ...any)) {
	if c.GE != nil && n < *c.GE {
		fail("must be at least %v", *c.GE)
	}
	if c.GT != nil && n <= *c.GT {
		fail("must be greater than %v", *c.GT)
	}
	if c.LE != nil && n > *c.LE {
		fail("must be at most %v", *c.LE)
	}
	if c.LT != nil && n >= *c.LT {
		fail("must be less than %v", *c.LT)
	}
	if c.MultipleOf != nil && *c.MultipleOf != 0 {
		if r := math.Mod(n, *c.MultipleOf); math.Abs(r) > 1e-9 && math.Abs(r-*c.MultipleOf) > 1e-9 {
			fail("must be a multiple of %v", *c.MultipleOf)
		}
	}
}

func checkDecimalConstraints(c *Constraints, d decimal.Decimal, loc []string) []FieldError {
	var errs []FieldError
	fail := func(format string, args ...any) {
		errs = append(errs, FieldError{Loc: loc, Msg: fmt.Sprintf(format, args...), Type: KindValue})
	}

	if c.GE != nil && d.LessThan(decimal.NewFromFloat(*c.GE)) {
		fail("must be at least %v", *c.GE)
	}
	if c.GT != nil && !d.GreaterThan(decimal.NewFromFloat(*c.GT)) {
		fail("must be greater than %v", *c.GT)
	}
	if c.LE != nil && d.GreaterThan(decimal.NewFromFloat(*c.LE)) {
		fail("must be at most %v", *c.LE)
	}
	if c.LT != nil && !d.LessThan(decimal.NewFromFloat(*c.LT)) {
		fail("must be less than %v", *c.LT)
	}
	if c.MultipleOf != nil {
		m := decimal.NewFromFloat(*c.MultipleOf)
		if !m.IsZero() && !d.Mod(m).IsZero() {
			fail("must be a multiple of %v", *c.MultipleOf)
		}
	}
	if c.MaxDigits != nil && d.NumDigits() > *c.MaxDigits {
		fail("must have at most %d digits", *c.MaxDigits)
	}
	if c.DecimalPlaces != nil {
		places := 0
		if d.Exponent() < 0 {
			places = int(-d.Exponent())
		}
		if places > *c.DecimalPlaces {
			fail("must have at most %d decimal places", *c.DecimalPlaces)
		}
	}

	return errs
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

func toFloat64(v reflect.Value) float64 {
	//exhaustive:ignore
	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(v.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(v.Uint())
	default: // float32, float64
		return v.Float()
	}
}

func compilePattern(pattern string) (*regexp.Regexp, error) {
	return regexp.Compile(pattern)
}

func splitEnum(tag string) []string {
	return strings.Split(tag, ",")
}
