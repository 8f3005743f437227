package bind

import (
	"reflect"
	"strings"
)

// locationTags maps struct tag keys to their bind locations, in lookup order.
var locationTags = []struct {
	key string
	loc Location
}{
	{"path", LocationPath},
	{"query", LocationQuery},
	{"header", LocationHeader},
	{"cookie", LocationCookie},
}

// tagOptions splits a struct tag value on comma and returns
// the name and remaining options.
func tagOptions(tag string) (string, string) {
	name, opts, _ := strings.Cut(tag, ",")
	return name, opts
}

// tagContains reports whether a comma-separated list of options
// contains a particular option.
func tagContains(opts string, name string) bool {
	for opts != "" {
		var opt string
		opt, opts, _ = strings.Cut(opts, ",")
		if opt == name {
			return true
		}
	}
	return false
}

// tagOption returns the value of a key=value entry in a comma-separated
// list of options, or "" if absent.
func tagOption(opts string, key string) string {
	for opts != "" {
		var opt string
		opt, opts, _ = strings.Cut(opts, ",")
		if k, v, found := strings.Cut(opt, "="); found && k == key {
			return v
		}
	}
	return ""
}

// jsonFieldName returns the wire name of a struct field: the json tag name
// when present, the field name otherwise. "-" means the field is skipped.
func jsonFieldName(f reflect.StructField) string {
	tag := f.Tag.Get("json")
	if tag == "" {
		return f.Name
	}
	name, _, _ := strings.Cut(tag, ",")
	if name == "" {
		return f.Name
	}
	return name
}
