// Package prompts serves static guidance documents to the agent. User files
// under the configured prompts directory shadow the embedded builtins by
// name; the filename minus extension is the guide name.
package prompts

import (
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed builtin
var builtinFS embed.FS

var guideExtensions = map[string]bool{".md": true, ".txt": true, ".yaml": true, ".yml": true}

// Guide is one loadable guidance document.
type Guide struct {
	Name   string `json:"name"`
	Source string `json:"source"` // "user" or "builtin"
}

// Library resolves guide names against the user directory, falling back to
// the embedded builtins.
type Library struct {
	userDir string
}

// NewLibrary creates a guide library. userDir may be empty or missing;
// builtins still serve.
func NewLibrary(userDir string) *Library {
	return &Library{userDir: userDir}
}

// List returns every available guide, sorted by name. A user file with a
// builtin's name shadows it.
func (l *Library) List() ([]Guide, error) {
	seen := map[string]bool{}
	var guides []Guide

	if l.userDir != "" {
		entries, err := os.ReadDir(l.userDir)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read prompts directory: %w", err)
		}
		for _, entry := range entries {
			name, ok := guideName(entry.Name())
			if !ok || entry.IsDir() || seen[name] {
				continue
			}
			seen[name] = true
			guides = append(guides, Guide{Name: name, Source: "user"})
		}
	}

	builtins, err := fs.ReadDir(builtinFS, "builtin")
	if err != nil {
		return nil, fmt.Errorf("failed to read builtin guides: %w", err)
	}
	for _, entry := range builtins {
		name, ok := guideName(entry.Name())
		if !ok || seen[name] {
			continue
		}
		seen[name] = true
		guides = append(guides, Guide{Name: name, Source: "builtin"})
	}

	sort.Slice(guides, func(i, j int) bool { return guides[i].Name < guides[j].Name })
	return guides, nil
}

// Get returns the guide's content rendered in the requested format:
// markdown (raw text, the default), json or yaml.
func (l *Library) Get(name, format string) (content, mimeType string, err error) {
	raw, err := l.read(name)
	if err != nil {
		return "", "", err
	}

	switch strings.ToLower(format) {
	case "", "markdown", "md":
		return raw, "text/markdown", nil
	case "json":
		data, err := json.MarshalIndent(map[string]string{"name": name, "content": raw}, "", "  ")
		if err != nil {
			return "", "", fmt.Errorf("failed to encode guide: %w", err)
		}
		return string(data), "application/json", nil
	case "yaml", "yml":
		data, err := yaml.Marshal(map[string]string{"name": name, "content": raw})
		if err != nil {
			return "", "", fmt.Errorf("failed to encode guide: %w", err)
		}
		return string(data), "application/yaml", nil
	default:
		return "", "", fmt.Errorf("unsupported format: %s (want json, yaml or markdown)", format)
	}
}

// read loads the named guide, preferring the user directory.
func (l *Library) read(name string) (string, error) {
	if name == "" || strings.ContainsAny(name, "/\\.") {
		return "", fmt.Errorf("invalid guide name: %q", name)
	}

	if l.userDir != "" {
		for ext := range guideExtensions {
			data, err := os.ReadFile(filepath.Join(l.userDir, name+ext))
			if err == nil {
				return string(data), nil
			}
		}
	}

	for ext := range guideExtensions {
		data, err := builtinFS.ReadFile("builtin/" + name + ext)
		if err == nil {
			return string(data), nil
		}
	}

	return "", fmt.Errorf("guide not found: %s", name)
}

func guideName(filename string) (string, bool) {
	ext := filepath.Ext(filename)
	if !guideExtensions[ext] {
		return "", false
	}
	return strings.TrimSuffix(filename, ext), true
}
