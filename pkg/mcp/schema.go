package mcp

import (
	"github.com/google/jsonschema-go/jsonschema"
)

// Schema construction helpers. Parameter schemas advertise the lenient
// accepted forms in their descriptions; actual coercion happens in params.go
// so that string-spelled scalars and JSON-text structures are accepted too.

func obj(props map[string]*jsonschema.Schema, required ...string) *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:       "object",
		Properties: props,
		Required:   required,
	}
}

func strProp(desc string) *jsonschema.Schema {
	return &jsonschema.Schema{Type: "string", Description: desc}
}

func boolProp(desc string) *jsonschema.Schema {
	return &jsonschema.Schema{
		Types:       []string{"boolean", "string", "integer"},
		Description: desc + ` Accepts booleans or the strings "true"/"false"/"1"/"0"/"yes"/"no" (case-insensitive).`,
	}
}

func intProp(desc string) *jsonschema.Schema {
	return &jsonschema.Schema{
		Types:       []string{"integer", "string"},
		Description: desc + " Accepts integers or decimal strings.",
	}
}

func numProp(desc string) *jsonschema.Schema {
	return &jsonschema.Schema{
		Types:       []string{"number", "string"},
		Description: desc + " Accepts numbers or decimal strings.",
	}
}

func mapProp(desc string) *jsonschema.Schema {
	return &jsonschema.Schema{
		Types:       []string{"object", "string"},
		Description: desc + " Accepts an object or its JSON text form.",
	}
}

func listProp(desc string) *jsonschema.Schema {
	return &jsonschema.Schema{
		Types:       []string{"array", "string"},
		Description: desc + " Accepts an array, its JSON text form, or a comma-separated string.",
	}
}
