package bind

// Internal hooks for tests.
var (
	MediaTypeMatches = mediaTypeMatches
	ParseFormBody    = parseFormBody
)

// ValidateWithLimit runs validation with a body byte ceiling, the way a
// configured controller would.
func ValidateWithLimit(s *Schema, req Request, rc *RequestContext, limit int64) (map[string]any, []FieldError) {
	return s.validateRequest(req, rc, &extractSettings{maxBodyBytes: limit})
}
