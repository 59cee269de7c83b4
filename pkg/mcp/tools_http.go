package mcp

import (
	"context"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/kwkeefer/hiro/pkg/httpexec"
	"github.com/kwkeefer/hiro/pkg/session"
)

func (g *Gateway) registerHTTPTools(server *mcpsdk.Server) {
	g.register(server, &mcpsdk.Tool{
		Name: "http_request",
		Description: "Execute an HTTP request through the gateway. The request and " +
			"response are recorded and attributed to the active mission's latest action. " +
			"An intercepting proxy is applied when configured.",
		InputSchema: obj(map[string]*jsonschema.Schema{
			"url":              strProp("Full request URL (http or https)."),
			"method":           strProp("HTTP method: GET, POST, PUT, PATCH, DELETE, HEAD or OPTIONS. Default GET."),
			"headers":          mapProp("Request headers, name to value."),
			"query_params":     mapProp("Query parameters merged into the URL."),
			"cookies":          mapProp("Request cookies, name to value. Override cookie_profile entries by key."),
			"auth":             mapProp(`Authentication: {"type":"basic","username":...,"password":...} or {"type":"bearer","token":...}.`),
			"body":             strProp("Request body."),
			"follow_redirects": boolProp("Follow redirects. Default true."),
			"max_redirects":    intProp("Redirect ceiling when following. Default 10."),
			"timeout_ms":       intProp("Per-request timeout in milliseconds. Default 30000."),
			"verify_tls":       boolProp("Verify TLS certificates. Default true."),
			"proxy_url":        strProp("Proxy for this request only; overrides the configured proxy."),
			"cookie_profile":   strProp("Named cookie profile supplying authentication cookies."),
			"mission_id":       strProp("Override the active mission for this request."),
		}, "url"),
	}, g.handleHTTPRequest)
}

func (g *Gateway) handleHTTPRequest(ctx context.Context, mgr *session.ContextManager, args map[string]any) (any, string, *ToolError) {
	c := newCoercer(args)

	spec := &httpexec.RequestSpec{
		URL:           c.requiredStr("url"),
		Method:        c.str("method", "GET"),
		Headers:       c.stringMap("headers"),
		QueryParams:   c.stringMap("query_params"),
		Cookies:       c.stringMap("cookies"),
		Body:          c.str("body", ""),
		MaxRedirects:  c.integer("max_redirects", 0),
		TimeoutMs:     c.integer("timeout_ms", 0),
		ProxyURL:      c.str("proxy_url", ""),
		CookieProfile: c.str("cookie_profile", ""),
		MissionID:     c.str("mission_id", ""),
	}
	if _, ok := args["follow_redirects"]; ok {
		v := c.boolean("follow_redirects", true)
		spec.FollowRedirects = &v
	}
	if _, ok := args["verify_tls"]; ok {
		v := c.boolean("verify_tls", true)
		spec.VerifyTLS = &v
	}
	if auth := c.stringMap("auth"); auth != nil {
		spec.Auth = &httpexec.AuthSpec{
			Type:     auth["type"],
			Username: auth["username"],
			Password: auth["password"],
			Token:    auth["token"],
		}
		switch strings.ToLower(spec.Auth.Type) {
		case "basic", "bearer":
		default:
			c.addError("auth.type", `"basic" or "bearer"`, spec.Auth.Type)
		}
	}
	if method := strings.ToUpper(spec.Method); method != "" {
		switch method {
		case "GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS":
		default:
			c.addError("method", "GET, POST, PUT, PATCH, DELETE, HEAD or OPTIONS", spec.Method)
		}
	}
	if err := c.Err(); err != nil {
		return nil, "", err
	}

	// Per-call overrides win; otherwise the connection's active context
	// applies. One snapshot covers both fields so a concurrent
	// set_mission_context cannot tear the pair. Resolution happens here so
	// the logging pipeline receives a fully determined mission id.
	snap := mgr.Snapshot()
	if spec.MissionID == "" {
		spec.MissionID = snap.MissionID
	}
	if spec.CookieProfile == "" {
		spec.CookieProfile = snap.CookieProfile
	}

	env, err := g.executor.Execute(ctx, spec)
	if err != nil {
		return nil, "", mapError(err)
	}

	result := map[string]any{
		"status":     env.Status,
		"headers":    env.Headers,
		"body":       string(env.Body),
		"body_size":  env.BodySize,
		"truncated":  env.Truncated,
		"elapsed_ms": env.ElapsedMs,
		"final_url":  env.FinalURL,
	}
	note := g.missionNote(ctx, spec.MissionID)

	if env.Error != "" {
		kind := KindTransportError
		if env.Error == httpexec.TimeoutError {
			kind = KindTimeout
		}
		result["error"] = env.Error
		return result, note, &ToolError{Kind: kind, Message: env.Error}
	}

	return result, note, nil
}
