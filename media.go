package bind

import (
	"mime"
	"strings"
)

// parseMediaType splits a Content-Type header value into its type and
// subtype, dropping parameters. ok is false for an empty or malformed value.
func parseMediaType(v string) (typ, sub string, ok bool) {
	if v == "" {
		return "", "", false
	}
	mediaType, _, err := mime.ParseMediaType(v)
	if err != nil {
		return "", "", false
	}
	typ, sub, found := strings.Cut(mediaType, "/")
	if !found {
		return mediaType, "", true
	}
	return typ, sub, true
}

// mediaTypeMatches reports whether an actual type/subtype pair satisfies the
// expected media type. Either side of either component may be "*".
func mediaTypeMatches(expected, actualType, actualSub string) bool {
	expType, expSub, found := strings.Cut(expected, "/")
	if !found {
		expSub = "*"
	}
	return componentMatches(expType, actualType) && componentMatches(expSub, actualSub)
}

func componentMatches(expected, actual string) bool {
	return expected == "*" || actual == "*" || strings.EqualFold(expected, actual)
}
