package httpexec

import "net/http"

// AuthSpec carries request authentication. Exactly one of the two forms is
// used: basic (username+password) or bearer (token).
type AuthSpec struct {
	Type     string `json:"type"` // "basic" or "bearer"
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	Token    string `json:"token,omitempty"`
}

// RequestSpec describes one outbound request. Zero values fall back to the
// executor's configured defaults.
type RequestSpec struct {
	URL         string            `json:"url"`
	Method      string            `json:"method,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	QueryParams map[string]string `json:"query_params,omitempty"`
	Cookies     map[string]string `json:"cookies,omitempty"`
	Auth        *AuthSpec         `json:"auth,omitempty"`
	Body        string            `json:"body,omitempty"`

	FollowRedirects *bool  `json:"follow_redirects,omitempty"` // default true
	MaxRedirects    int    `json:"max_redirects,omitempty"`    // default 10
	TimeoutMs       int    `json:"timeout_ms,omitempty"`       // default 30000
	VerifyTLS       *bool  `json:"verify_tls,omitempty"`       // default true
	ProxyURL        string `json:"proxy_url,omitempty"`

	// CookieProfile names a profile resolved through the cookie cache.
	// Explicit Cookies override profile entries by key.
	CookieProfile string `json:"cookie_profile,omitempty"`

	// MissionID overrides the connection's active mission for this call.
	MissionID string `json:"mission_id,omitempty"`
}

// EffectiveRequest is the request as actually sent, after defaulting, query
// merging and cookie-profile resolution. The logging pipeline records this,
// not the caller's raw spec.
type EffectiveRequest struct {
	Method    string
	URL       string
	Headers   http.Header
	Cookies   map[string]string
	Body      []byte
	MissionID string
}

// ResponseEnvelope is the transfer result handed back to the caller and to
// the logging pipeline. Error is set iff the transport failed with no
// response; a timeout sets it to the literal "timeout".
type ResponseEnvelope struct {
	Status    int                 `json:"status,omitempty"`
	Headers   map[string][]string `json:"headers,omitempty"`
	Body      []byte              `json:"-"`
	BodySize  int64               `json:"body_size"`
	Truncated bool                `json:"truncated,omitempty"`
	ElapsedMs int64               `json:"elapsed_ms"`
	FinalURL  string              `json:"final_url,omitempty"`
	Error     string              `json:"error,omitempty"`
}

// TimeoutError is the sentinel stored when a request exceeded its deadline.
const TimeoutError = "timeout"
