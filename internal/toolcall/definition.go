package toolcall

import (
	"encoding/json"
	"strings"

	"chatbi/internal/types"
)

// Parameter types understood by Definition.Tool. A trailing "[]" declares an
// array of the element type.
const (
	TypeString      = "string"
	TypeNumber      = "number"
	TypeBoolean     = "boolean"
	TypeObject      = "object"
	TypeStringArray = "string[]"
)

type Parameter struct {
	Name        string
	Type        string
	Description string
	Required    bool
}

// Definition declares a tool the router knows about. Frontend tools execute
// in this client and are advertised to the agent; the rest only surface for
// rendering.
type Definition struct {
	Name           string
	Description    string
	Parameters     []Parameter
	Frontend       bool
	HumanInTheLoop bool
}

// Tool renders the definition as an AG-UI tool with a JSON schema.
func (d Definition) Tool() types.Tool {
	properties := make(map[string]any, len(d.Parameters))
	required := make([]string, 0, len(d.Parameters))
	for _, param := range d.Parameters {
		properties[param.Name] = parameterSchema(param)
		if param.Required {
			required = append(required, param.Name)
		}
	}
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
		"required":   required,
	}
	raw, _ := json.Marshal(schema)
	return types.Tool{Name: d.Name, Description: d.Description, Parameters: raw}
}

func parameterSchema(param Parameter) map[string]any {
	typ := strings.TrimSpace(param.Type)
	if typ == "" {
		typ = TypeString
	}
	out := map[string]any{}
	if elem, ok := strings.CutSuffix(typ, "[]"); ok {
		out["type"] = "array"
		out["items"] = map[string]any{"type": elem}
	} else {
		out["type"] = typ
	}
	if param.Description != "" {
		out["description"] = param.Description
	}
	return out
}
