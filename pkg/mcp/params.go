package mcp

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kwkeefer/hiro/pkg/config"
)

// Agent callers routinely pass scalars as strings and structures as JSON
// text. The coercer accepts the declared type OR a coercible text form for
// every parameter and collects every failure before returning, so the agent
// sees all offending fields at once instead of fixing them one by one.

// decodeArguments turns the raw tool arguments into a parameter map.
//
// Parsing cascade (first successful parse wins):
//  1. Already-structured map → used directly
//  2. JSON object text → map[string]any
//  3. YAML object text → map[string]any
//
// Empty input returns an empty map (for no-parameter tools).
func decodeArguments(raw json.RawMessage) (map[string]any, error) {
	if len(raw) == 0 {
		return map[string]any{}, nil
	}

	var asMap map[string]any
	if err := json.Unmarshal(raw, &asMap); err == nil {
		if asMap == nil {
			asMap = map[string]any{}
		}
		return asMap, nil
	}

	// The whole argument object may itself arrive as a JSON-encoded string.
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		asString = strings.TrimSpace(asString)
		if asString == "" {
			return map[string]any{}, nil
		}
		if err := json.Unmarshal([]byte(asString), &asMap); err == nil && asMap != nil {
			return asMap, nil
		}
		if err := yaml.Unmarshal([]byte(asString), &asMap); err == nil && asMap != nil {
			return asMap, nil
		}
	}

	return nil, fmt.Errorf("arguments must be an object")
}

// coercer validates one tool call's parameters, accumulating field errors.
type coercer struct {
	args map[string]any
	errs []FieldError
}

func newCoercer(args map[string]any) *coercer {
	return &coercer{args: args}
}

func (c *coercer) addError(field, expected string, got any) {
	c.errs = append(c.errs, FieldError{Field: field, Expected: expected, Got: got})
}

// Err returns the aggregated validation error, or nil when every field
// coerced cleanly.
func (c *coercer) Err() *ToolError {
	if len(c.errs) == 0 {
		return nil
	}
	return validationError(c.errs)
}

// str returns an optional string parameter.
func (c *coercer) str(key, def string) string {
	v, ok := c.args[key]
	if !ok || v == nil {
		return def
	}
	switch s := v.(type) {
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case int:
		return strconv.Itoa(s)
	case bool:
		return strconv.FormatBool(s)
	default:
		c.addError(key, "string", v)
		return def
	}
}

// requiredStr returns a required, non-empty string parameter.
func (c *coercer) requiredStr(key string) string {
	s := c.str(key, "")
	if s == "" {
		c.addError(key, "non-empty string", c.args[key])
	}
	return s
}

// boolean accepts native booleans plus the common string spellings
// true/false, 1/0, yes/no (case-insensitive) and numeric 1/0.
func (c *coercer) boolean(key string, def bool) bool {
	v, ok := c.args[key]
	if !ok || v == nil {
		return def
	}
	switch b := v.(type) {
	case bool:
		return b
	case float64:
		if b == 1 {
			return true
		}
		if b == 0 {
			return false
		}
	case string:
		switch strings.ToLower(strings.TrimSpace(b)) {
		case "true", "1", "yes":
			return true
		case "false", "0", "no":
			return false
		}
	}
	c.addError(key, "boolean (true/false/1/0/yes/no)", v)
	return def
}

// integer accepts native numbers and decimal strings.
func (c *coercer) integer(key string, def int) int {
	v, ok := c.args[key]
	if !ok || v == nil {
		return def
	}
	switch n := v.(type) {
	case float64:
		if n == math.Trunc(n) {
			return int(n)
		}
	case int:
		return n
	case string:
		if i, err := strconv.Atoi(strings.TrimSpace(n)); err == nil {
			return i
		}
	}
	c.addError(key, "integer", v)
	return def
}

// float accepts native numbers and decimal strings.
func (c *coercer) float(key string, def float64) float64 {
	v, ok := c.args[key]
	if !ok || v == nil {
		return def
	}
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(n), 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
			return f
		}
	}
	c.addError(key, "number", v)
	return def
}

// stringMap accepts a native object or its JSON text form; values are
// stringified scalars.
func (c *coercer) stringMap(key string) map[string]string {
	v, ok := c.args[key]
	if !ok || v == nil {
		return nil
	}

	switch m := v.(type) {
	case map[string]any:
		return c.flattenMap(key, m)
	case string:
		if strings.TrimSpace(m) == "" {
			return nil
		}
		var parsed map[string]any
		if err := json.Unmarshal([]byte(m), &parsed); err != nil {
			c.addError(key, "object or JSON object text", v)
			return nil
		}
		return c.flattenMap(key, parsed)
	default:
		c.addError(key, "object or JSON object text", v)
		return nil
	}
}

func (c *coercer) flattenMap(key string, m map[string]any) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		switch s := v.(type) {
		case string:
			out[k] = s
		case float64:
			out[k] = strconv.FormatFloat(s, 'f', -1, 64)
		case bool:
			out[k] = strconv.FormatBool(s)
		case nil:
			out[k] = ""
		default:
			c.addError(key+"."+k, "scalar value", v)
		}
	}
	return out
}

// stringList accepts a native array, its JSON text form, or a
// comma-separated string.
func (c *coercer) stringList(key string) []string {
	v, ok := c.args[key]
	if !ok || v == nil {
		return nil
	}

	switch l := v.(type) {
	case []any:
		return c.flattenList(key, l)
	case string:
		trimmed := strings.TrimSpace(l)
		if trimmed == "" {
			return nil
		}
		if strings.HasPrefix(trimmed, "[") {
			var parsed []any
			if err := json.Unmarshal([]byte(trimmed), &parsed); err != nil {
				c.addError(key, "array or JSON array text", v)
				return nil
			}
			return c.flattenList(key, parsed)
		}
		var out []string
		for _, part := range strings.Split(trimmed, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
		return out
	default:
		c.addError(key, "array or JSON array text", v)
		return nil
	}
}

func (c *coercer) flattenList(key string, l []any) []string {
	out := make([]string, 0, len(l))
	for i, v := range l {
		s, ok := v.(string)
		if !ok {
			c.addError(fmt.Sprintf("%s[%d]", key, i), "string", v)
			continue
		}
		out = append(out, s)
	}
	return out
}

// outcome coerces the tri-state success parameter: booleans and their
// string spellings map to true/false, the literal "unknown" stays unknown.
func (c *coercer) outcome(key string, def config.ActionOutcome) config.ActionOutcome {
	v, ok := c.args[key]
	if !ok || v == nil {
		return def
	}
	if s, isStr := v.(string); isStr && strings.EqualFold(strings.TrimSpace(s), "unknown") {
		return config.ActionOutcomeUnknown
	}
	before := len(c.errs)
	b := c.boolean(key, false)
	if len(c.errs) > before {
		// Rewrite the expectation to mention the tri-state form.
		c.errs[len(c.errs)-1].Expected = "boolean or \"unknown\""
		return def
	}
	if b {
		return config.ActionOutcomeSuccess
	}
	return config.ActionOutcomeFailure
}

// scope coerces the mission scope parameter: a native {in, out} object or
// its JSON text form, each holding a list of host patterns.
func (c *coercer) scope(key string) (in, out []string) {
	v, ok := c.args[key]
	if !ok || v == nil {
		return nil, nil
	}

	var m map[string]any
	switch s := v.(type) {
	case map[string]any:
		m = s
	case string:
		if strings.TrimSpace(s) == "" {
			return nil, nil
		}
		if err := json.Unmarshal([]byte(s), &m); err != nil {
			c.addError(key, "object with in/out host pattern lists", v)
			return nil, nil
		}
	default:
		c.addError(key, "object with in/out host pattern lists", v)
		return nil, nil
	}

	sub := newCoercer(m)
	in = sub.stringList("in")
	out = sub.stringList("out")
	for _, e := range sub.errs {
		c.addError(key+"."+e.Field, e.Expected, e.Got)
	}
	return in, out
}
