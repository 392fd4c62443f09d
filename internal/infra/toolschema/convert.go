package toolschema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"

	"mcpreg/internal/domain"
)

// FQPrefix namespaces every re-exposed child tool.
const FQPrefix = "mcp_"

// Validate checks a remote tool before conversion. It rejects tools without
// a name or with a malformed inputSchema, and accepts object/array-typed
// properties with a warning since they pass through opaquely.
func Validate(tool domain.RemoteTool) (bool, string) {
	if strings.TrimSpace(tool.Name) == "" {
		return false, "tool has no name"
	}
	if len(tool.InputSchema) == 0 {
		return true, ""
	}

	var shape struct {
		Properties json.RawMessage `json:"properties"`
	}
	if err := json.Unmarshal(tool.InputSchema, &shape); err != nil {
		return false, fmt.Sprintf("inputSchema is not an object: %v", err)
	}
	if len(shape.Properties) > 0 && !startsWith(shape.Properties, '{') {
		return false, "inputSchema.properties is not an object"
	}

	var schema jsonschema.Schema
	if err := json.Unmarshal(tool.InputSchema, &schema); err != nil {
		return false, fmt.Sprintf("inputSchema does not parse as JSON Schema: %v", err)
	}

	var warnings []string
	for _, name := range sortedPropertyNames(&schema) {
		prop := schema.Properties[name]
		if prop == nil {
			continue
		}
		if prop.Type == "object" || prop.Type == "array" {
			warnings = append(warnings, fmt.Sprintf("property %q has type %s and passes through opaquely", name, prop.Type))
		}
	}
	return true, strings.Join(warnings, "; ")
}

// Convert turns a remote tool into a fully-typed local descriptor. The
// namespaced name is mcp_<prefix>_<name> with hyphens mapped to underscores;
// the original name is kept for dispatch.
func Convert(prefix string, tool domain.RemoteTool) (domain.ToolDescriptor, error) {
	if strings.TrimSpace(tool.Name) == "" {
		return domain.ToolDescriptor{}, fmt.Errorf("%w: tool has no name", domain.ErrSchemaInvalid)
	}
	sanitized := strings.ReplaceAll(tool.Name, "-", "_")
	desc := domain.ToolDescriptor{
		Name:        FQPrefix + prefix + "_" + sanitized,
		RemoteName:  tool.Name,
		Prefix:      prefix,
		Description: tool.Description,
	}
	if len(tool.InputSchema) == 0 {
		return desc, nil
	}

	var schema jsonschema.Schema
	if err := json.Unmarshal(tool.InputSchema, &schema); err != nil {
		return domain.ToolDescriptor{}, fmt.Errorf("%w: parse inputSchema: %v", domain.ErrSchemaInvalid, err)
	}

	required := make(map[string]bool, len(schema.Required))
	for _, name := range schema.Required {
		required[name] = true
	}

	for _, name := range sortedPropertyNames(&schema) {
		prop := schema.Properties[name]
		paramType, nullable := mapType(prop)
		param := domain.ToolParam{
			Name:     name,
			Type:     paramType,
			Required: required[name],
		}
		if prop != nil {
			param.Description = prop.Description
			if !param.Required && prop.Default != nil {
				var value any
				if err := json.Unmarshal(prop.Default, &value); err != nil {
					return domain.ToolDescriptor{}, fmt.Errorf("%w: default of %q: %v", domain.ErrSchemaInvalid, name, err)
				}
				param.HasDefault = true
				param.Default = value
			}
		}
		if nullable || (!param.Required && !param.HasDefault) {
			param.Optional = true
		}
		desc.Params = append(desc.Params, param)
	}
	return desc, nil
}

// mapType resolves a property schema to a local param type. A type array
// containing null yields the first non-null base type marked nullable.
func mapType(prop *jsonschema.Schema) (domain.ParamType, bool) {
	if prop == nil {
		return domain.ParamAny, false
	}
	if prop.Type != "" {
		return baseType(prop.Type), false
	}
	if len(prop.Types) == 0 {
		return domain.ParamAny, false
	}
	nullable := false
	first := domain.ParamType("")
	for _, t := range prop.Types {
		if t == "null" {
			nullable = true
			continue
		}
		if first == "" {
			first = baseType(t)
		}
	}
	if first == "" {
		return domain.ParamNone, false
	}
	return first, nullable
}

func baseType(jsonType string) domain.ParamType {
	switch jsonType {
	case "string":
		return domain.ParamString
	case "number":
		return domain.ParamFloat
	case "integer":
		return domain.ParamInt
	case "boolean":
		return domain.ParamBool
	case "object":
		return domain.ParamMap
	case "array":
		return domain.ParamList
	case "null":
		return domain.ParamNone
	default:
		// Unknown types pass through untouched.
		return domain.ParamAny
	}
}

// BuildArguments assembles the payload dispatched to the child: caller
// values pass through, declared defaults fill omitted keys, and omitted
// optionals stay absent rather than becoming nulls. Missing required
// parameters are reported together.
func BuildArguments(desc domain.ToolDescriptor, provided map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(provided))
	for key, value := range provided {
		out[key] = value
	}
	var missing []string
	for _, param := range desc.Params {
		if _, ok := out[param.Name]; ok {
			continue
		}
		switch {
		case param.Required:
			missing = append(missing, param.Name)
		case param.HasDefault:
			out[param.Name] = param.Default
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s missing required arguments: %s",
			domain.ErrValidation, desc.Name, strings.Join(missing, ", "))
	}
	return out, nil
}

// InputSchema re-emits an object schema for upstream registration of the
// descriptor's parameter list.
func InputSchema(desc domain.ToolDescriptor) *jsonschema.Schema {
	schema := &jsonschema.Schema{
		Type:       "object",
		Properties: make(map[string]*jsonschema.Schema, len(desc.Params)),
	}
	for _, param := range desc.Params {
		prop := &jsonschema.Schema{Description: param.Description}
		if jsonType := jsonTypeFor(param.Type); jsonType != "" {
			prop.Type = jsonType
		}
		if param.HasDefault {
			if raw, err := json.Marshal(param.Default); err == nil {
				prop.Default = json.RawMessage(raw)
			}
		}
		schema.Properties[param.Name] = prop
		if param.Required {
			schema.Required = append(schema.Required, param.Name)
		}
	}
	sort.Strings(schema.Required)
	return schema
}

func jsonTypeFor(paramType domain.ParamType) string {
	switch paramType {
	case domain.ParamString:
		return "string"
	case domain.ParamFloat:
		return "number"
	case domain.ParamInt:
		return "integer"
	case domain.ParamBool:
		return "boolean"
	case domain.ParamMap:
		return "object"
	case domain.ParamList:
		return "array"
	case domain.ParamNone:
		return "null"
	default:
		return ""
	}
}

func sortedPropertyNames(schema *jsonschema.Schema) []string {
	names := make([]string, 0, len(schema.Properties))
	for name := range schema.Properties {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func startsWith(raw json.RawMessage, b byte) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == b
}
