package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// profileNamePattern bounds cookie profile names addressable as resources.
var profileNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// registerResources declares the read-only resource surface: one
// cookie-session:// resource per declared profile and one prompt://
// resource per guide. The declaration sets are read at startup; resource
// reads always hit the live cache / filesystem.
func (g *Gateway) registerResources(server *mcpsdk.Server) {
	if g.cookies != nil {
		profiles, err := g.cookies.List()
		if err != nil {
			slog.Warn("Cookie profile listing failed; resources not registered", "error", err)
		}
		for name, profile := range profiles {
			if !profileNamePattern.MatchString(name) {
				slog.Warn("Cookie profile name not addressable as a resource", "profile", name)
				continue
			}
			server.AddResource(&mcpsdk.Resource{
				URI:         "cookie-session://" + name,
				Name:        name,
				Description: profile.Description,
				MIMEType:    "application/json",
			}, g.readCookieSession)
		}
	}

	if g.prompts != nil {
		guides, err := g.prompts.List()
		if err != nil {
			slog.Warn("Prompt guide listing failed; resources not registered", "error", err)
		}
		for _, guide := range guides {
			server.AddResource(&mcpsdk.Resource{
				URI:         "prompt://" + guide.Name,
				Name:        guide.Name,
				Description: fmt.Sprintf("Guidance document (%s). Append ?format=json|yaml|markdown to convert.", guide.Source),
				MIMEType:    "text/markdown",
			}, g.readPromptGuide)
		}
	}
}

// readCookieSession serves cookie-session://<profile> through the TTL cache.
func (g *Gateway) readCookieSession(ctx context.Context, req *mcpsdk.ReadResourceRequest) (*mcpsdk.ReadResourceResult, error) {
	name := strings.TrimPrefix(req.Params.URI, "cookie-session://")
	if !profileNamePattern.MatchString(name) {
		return nil, fmt.Errorf("invalid cookie profile name: %q", name)
	}

	profile, err := g.cookies.Get(ctx, name)
	if err != nil {
		return nil, err
	}

	payload, err := json.MarshalIndent(map[string]any{
		"cookies":      profile.Cookies,
		"last_updated": profile.LastUpdated,
		"metadata":     profile.Metadata,
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode cookie profile: %w", err)
	}

	return &mcpsdk.ReadResourceResult{
		Contents: []*mcpsdk.ResourceContents{{
			URI:      req.Params.URI,
			MIMEType: "application/json",
			Text:     string(payload),
		}},
	}, nil
}

// readPromptGuide serves prompt://<guide>?format=json|yaml|markdown.
func (g *Gateway) readPromptGuide(_ context.Context, req *mcpsdk.ReadResourceRequest) (*mcpsdk.ReadResourceResult, error) {
	parsed, err := url.Parse(req.Params.URI)
	if err != nil {
		return nil, fmt.Errorf("invalid resource URI: %w", err)
	}

	// prompt://name parses the guide name as the host.
	name := parsed.Host
	if name == "" {
		name = strings.TrimPrefix(strings.TrimPrefix(parsed.Path, "//"), "/")
	}
	format := parsed.Query().Get("format")

	content, mimeType, err := g.prompts.Get(name, format)
	if err != nil {
		return nil, err
	}

	return &mcpsdk.ReadResourceResult{
		Contents: []*mcpsdk.ResourceContents{{
			URI:      req.Params.URI,
			MIMEType: mimeType,
			Text:     content,
		}},
	}, nil
}
