// Package httpexec executes outbound HTTP requests on the agent's behalf
// with proxy, header, cookie, auth, redirect and timeout controls, and hands
// every completed transfer to the logging pipeline.
package httpexec

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/kwkeefer/hiro/pkg/config"
	"github.com/kwkeefer/hiro/pkg/cookies"
)

var allowedMethods = map[string]bool{
	http.MethodGet: true, http.MethodPost: true, http.MethodPut: true,
	http.MethodPatch: true, http.MethodDelete: true, http.MethodHead: true,
	http.MethodOptions: true,
}

// CookieSource resolves named cookie profiles. Satisfied by *cookies.Cache.
type CookieSource interface {
	Get(ctx context.Context, name string) (*cookies.Profile, error)
}

// Recorder receives every completed transfer. Implementations must swallow
// their own failures; observability never breaks the observed request.
type Recorder interface {
	Record(ctx context.Context, req *EffectiveRequest, env *ResponseEnvelope)
}

// Executor performs outbound HTTP transfers.
type Executor struct {
	cfg      config.HTTPConfig
	cookies  CookieSource // nil when no profiles are configured
	recorder Recorder     // nil disables logging
}

// NewExecutor creates an executor. cookieSource and recorder may be nil.
func NewExecutor(cfg config.HTTPConfig, cookieSource CookieSource, recorder Recorder) *Executor {
	return &Executor{cfg: cfg, cookies: cookieSource, recorder: recorder}
}

// Execute performs the transfer described by spec and returns the response
// envelope. Transport failures are reported inside the envelope, not as an
// error — the error return covers invalid specs only.
func (e *Executor) Execute(ctx context.Context, spec *RequestSpec) (*ResponseEnvelope, error) {
	eff, err := e.prepare(ctx, spec)
	if err != nil {
		return nil, err
	}

	timeout := time.Duration(spec.TimeoutMs) * time.Millisecond
	if spec.TimeoutMs <= 0 {
		timeout = time.Duration(e.cfg.TimeoutMs) * time.Millisecond
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := e.buildClient(spec)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(reqCtx, eff.Method, eff.URL, strings.NewReader(string(eff.Body)))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header = eff.Headers.Clone()

	start := time.Now()
	resp, err := client.Do(httpReq)
	env := &ResponseEnvelope{ElapsedMs: time.Since(start).Milliseconds()}

	if err != nil {
		env.FinalURL = eff.URL
		env.Error = classifyTransportError(err)
	} else {
		env.Status = resp.StatusCode
		env.Headers = resp.Header
		env.FinalURL = resp.Request.URL.String()
		env.Body, env.BodySize, env.Truncated = readBounded(resp.Body, e.cfg.MaxResponseBodyBytes)
		_ = resp.Body.Close()
	}

	// Logging runs before the envelope is returned but its failures stay in
	// the log stream; Record never errors.
	if e.recorder != nil {
		e.recorder.Record(ctx, eff, env)
	}

	return env, nil
}

// prepare defaults and validates the spec and resolves the effective
// request: merged query string, cookie header, auth header.
func (e *Executor) prepare(ctx context.Context, spec *RequestSpec) (*EffectiveRequest, error) {
	if spec.URL == "" {
		return nil, fmt.Errorf("url is required")
	}

	method := strings.ToUpper(spec.Method)
	if method == "" {
		method = http.MethodGet
	}
	if !allowedMethods[method] {
		return nil, fmt.Errorf("unsupported method: %s", spec.Method)
	}

	u, err := url.Parse(spec.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}

	if len(spec.QueryParams) > 0 {
		q := u.Query()
		for k, v := range spec.QueryParams {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
	}

	headers := http.Header{}
	for k, v := range spec.Headers {
		headers.Set(k, v)
	}

	cookieMap, err := e.mergeCookies(ctx, spec)
	if err != nil {
		return nil, err
	}
	if len(cookieMap) > 0 {
		headers.Set("Cookie", encodeCookies(cookieMap))
	}

	if spec.Auth != nil {
		switch strings.ToLower(spec.Auth.Type) {
		case "basic":
			headers.Set("Authorization", "Basic "+basicAuth(spec.Auth.Username, spec.Auth.Password))
		case "bearer":
			headers.Set("Authorization", "Bearer "+spec.Auth.Token)
		default:
			return nil, fmt.Errorf("unsupported auth type: %s", spec.Auth.Type)
		}
	}

	return &EffectiveRequest{
		Method:    method,
		URL:       u.String(),
		Headers:   headers,
		Cookies:   cookieMap,
		Body:      []byte(spec.Body),
		MissionID: spec.MissionID,
	}, nil
}

// mergeCookies resolves the cookie profile (if named) and overlays explicit
// cookies, which win by key.
func (e *Executor) mergeCookies(ctx context.Context, spec *RequestSpec) (map[string]string, error) {
	merged := map[string]string{}

	if spec.CookieProfile != "" {
		if e.cookies == nil {
			return nil, fmt.Errorf("cookie profiles are not configured")
		}
		profile, err := e.cookies.Get(ctx, spec.CookieProfile)
		if err != nil {
			return nil, fmt.Errorf("failed to load cookie profile %s: %w", spec.CookieProfile, err)
		}
		for k, v := range profile.Cookies {
			merged[k] = v
		}
	}

	for k, v := range spec.Cookies {
		merged[k] = v
	}

	if len(merged) == 0 {
		return nil, nil
	}
	return merged, nil
}

// buildClient assembles an http.Client honouring proxy, TLS and redirect
// settings for this call.
func (e *Executor) buildClient(spec *RequestSpec) (*http.Client, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()

	proxyURL := spec.ProxyURL
	if proxyURL == "" {
		proxyURL = e.cfg.ProxyURL
	}
	if proxyURL != "" {
		parsed, err := url.Parse(proxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy url: %w", err)
		}
		transport.Proxy = http.ProxyURL(parsed)
	}

	if spec.VerifyTLS != nil && !*spec.VerifyTLS {
		transport.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: true,             //nolint:gosec // user-configured
			MinVersion:         tls.VersionTLS12, // prevent protocol downgrade even in relaxed mode
		}
	}

	client := &http.Client{Transport: transport}

	follow := spec.FollowRedirects == nil || *spec.FollowRedirects
	maxRedirects := spec.MaxRedirects
	if maxRedirects <= 0 {
		maxRedirects = e.cfg.MaxRedirects
	}
	if !follow {
		client.CheckRedirect = func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}
	} else {
		client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			return nil
		}
	}

	return client, nil
}

// readBounded reads at most limit bytes, then drains the rest counting the
// original size so truncation preserves it.
func readBounded(r io.Reader, limit int64) (body []byte, size int64, truncated bool) {
	if limit <= 0 {
		limit = 1 << 20
	}
	body, err := io.ReadAll(io.LimitReader(r, limit))
	if err != nil {
		return body, int64(len(body)), false
	}
	rest, _ := io.Copy(io.Discard, r)
	return body, int64(len(body)) + rest, rest > 0
}

// classifyTransportError maps a transport failure to the stored error
// string; deadline expiry becomes the "timeout" sentinel.
func classifyTransportError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return TimeoutError
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return TimeoutError
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if errors.Is(urlErr.Err, context.DeadlineExceeded) {
			return TimeoutError
		}
		return urlErr.Err.Error()
	}
	return err.Error()
}

// encodeCookies renders the Cookie header value in stable name order.
func encodeCookies(cookieMap map[string]string) string {
	names := make([]string, 0, len(cookieMap))
	for name := range cookieMap {
		names = append(names, name)
	}
	sort.Strings(names)

	pairs := make([]string, len(names))
	for i, name := range names {
		pairs[i] = name + "=" + cookieMap[name]
	}
	return strings.Join(pairs, "; ")
}

func basicAuth(username, password string) string {
	return base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
}
