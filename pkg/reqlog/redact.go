package reqlog

import (
	"net/http"
	"strings"
)

// RedactedValue replaces sensitive header values in stored requests.
const RedactedValue = "[REDACTED]"

// Redactor replaces the values of configured sensitive headers with a fixed
// sentinel. Matching is case-insensitive on the header name. Cookies are
// not in the default set — they are the test payload — but operators may
// add Cookie/Set-Cookie explicitly.
type Redactor struct {
	sensitive map[string]bool
}

// NewRedactor compiles the sensitive-header set.
func NewRedactor(names []string) *Redactor {
	sensitive := make(map[string]bool, len(names))
	for _, name := range names {
		sensitive[strings.ToLower(name)] = true
	}
	return &Redactor{sensitive: sensitive}
}

// Headers returns a copy of h with sensitive values replaced. The input is
// never modified; the live request keeps its real credentials.
func (r *Redactor) Headers(h http.Header) map[string][]string {
	if len(h) == 0 {
		return nil
	}
	out := make(map[string][]string, len(h))
	for name, values := range h {
		if r.sensitive[strings.ToLower(name)] {
			redacted := make([]string, len(values))
			for i := range values {
				redacted[i] = RedactedValue
			}
			out[name] = redacted
			continue
		}
		out[name] = append([]string(nil), values...)
	}
	return out
}
