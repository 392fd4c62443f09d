package toolschema

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mcpreg/internal/domain"
)

func remoteTool(name, schema string) domain.RemoteTool {
	tool := domain.RemoteTool{Name: name, Description: "desc"}
	if schema != "" {
		tool.InputSchema = json.RawMessage(schema)
	}
	return tool
}

func TestValidate(t *testing.T) {
	ok, msg := Validate(remoteTool("query", `{"type":"object","properties":{"sql":{"type":"string"}}}`))
	assert.True(t, ok)
	assert.Empty(t, msg)

	ok, _ = Validate(remoteTool("", `{}`))
	assert.False(t, ok)

	ok, _ = Validate(remoteTool("bad", `{"properties":["not","an","object"]}`))
	assert.False(t, ok)

	ok, _ = Validate(remoteTool("bad", `"just a string"`))
	assert.False(t, ok)

	// Opaque container types are accepted with a warning.
	ok, msg = Validate(remoteTool("upload", `{"type":"object","properties":{"payload":{"type":"object"}}}`))
	assert.True(t, ok)
	assert.Contains(t, msg, "payload")

	// No schema at all is fine.
	ok, msg = Validate(remoteTool("bare", ""))
	assert.True(t, ok)
	assert.Empty(t, msg)
}

func TestConvertNamespacing(t *testing.T) {
	desc, err := Convert("sqlite", remoteTool("read-query", `{"type":"object"}`))
	require.NoError(t, err)
	assert.Equal(t, "mcp_sqlite_read_query", desc.Name)
	assert.Equal(t, "read-query", desc.RemoteName)
	assert.Equal(t, "sqlite", desc.Prefix)
}

func TestConvertTypeMapping(t *testing.T) {
	schema := `{
		"type": "object",
		"properties": {
			"a_string":  {"type": "string"},
			"b_number":  {"type": "number"},
			"c_integer": {"type": "integer"},
			"d_boolean": {"type": "boolean"},
			"e_object":  {"type": "object"},
			"f_array":   {"type": "array"},
			"g_null":    {"type": "null"},
			"h_unknown": {"type": "custom-thing"},
			"i_untyped": {}
		}
	}`
	desc, err := Convert("p", remoteTool("types", schema))
	require.NoError(t, err)

	byName := map[string]domain.ToolParam{}
	for _, param := range desc.Params {
		byName[param.Name] = param
	}
	assert.Equal(t, domain.ParamString, byName["a_string"].Type)
	assert.Equal(t, domain.ParamFloat, byName["b_number"].Type)
	assert.Equal(t, domain.ParamInt, byName["c_integer"].Type)
	assert.Equal(t, domain.ParamBool, byName["d_boolean"].Type)
	assert.Equal(t, domain.ParamMap, byName["e_object"].Type)
	assert.Equal(t, domain.ParamList, byName["f_array"].Type)
	assert.Equal(t, domain.ParamNone, byName["g_null"].Type)
	assert.Equal(t, domain.ParamAny, byName["h_unknown"].Type)
	assert.Equal(t, domain.ParamAny, byName["i_untyped"].Type)

	// Sorted iteration order.
	var names []string
	for _, param := range desc.Params {
		names = append(names, param.Name)
	}
	assert.Equal(t, []string{
		"a_string", "b_number", "c_integer", "d_boolean", "e_object",
		"f_array", "g_null", "h_unknown", "i_untyped",
	}, names)
}

func TestConvertNullableTypeArray(t *testing.T) {
	schema := `{
		"type": "object",
		"properties": {
			"maybe": {"type": ["string", "null"]}
		}
	}`
	desc, err := Convert("p", remoteTool("nullable", schema))
	require.NoError(t, err)
	require.Len(t, desc.Params, 1)
	assert.Equal(t, domain.ParamString, desc.Params[0].Type)
	assert.True(t, desc.Params[0].Optional)
}

func TestConvertRequiredDefaultOptional(t *testing.T) {
	schema := `{
		"type": "object",
		"properties": {
			"must":     {"type": "string"},
			"defaulted": {"type": "integer", "default": 25},
			"maybe":    {"type": "boolean"}
		},
		"required": ["must"]
	}`
	desc, err := Convert("p", remoteTool("rules", schema))
	require.NoError(t, err)

	byName := map[string]domain.ToolParam{}
	for _, param := range desc.Params {
		byName[param.Name] = param
	}
	must := byName["must"]
	assert.True(t, must.Required)
	assert.False(t, must.HasDefault)
	assert.False(t, must.Optional)

	defaulted := byName["defaulted"]
	assert.False(t, defaulted.Required)
	assert.True(t, defaulted.HasDefault)
	assert.Equal(t, float64(25), defaulted.Default)

	maybe := byName["maybe"]
	assert.False(t, maybe.Required)
	assert.False(t, maybe.HasDefault)
	assert.True(t, maybe.Optional)
}

func TestConvertRejectsBadSchema(t *testing.T) {
	_, err := Convert("p", remoteTool("bad", `not json`))
	assert.ErrorIs(t, err, domain.ErrSchemaInvalid)

	_, err = Convert("p", domain.RemoteTool{})
	assert.ErrorIs(t, err, domain.ErrSchemaInvalid)
}

func TestBuildArguments(t *testing.T) {
	schema := `{
		"type": "object",
		"properties": {
			"sql":   {"type": "string"},
			"limit": {"type": "integer", "default": 25},
			"trace": {"type": "boolean"}
		},
		"required": ["sql"]
	}`
	desc, err := Convert("sqlite", remoteTool("read-query", schema))
	require.NoError(t, err)

	// Defaults fill omitted keys; omitted optionals stay absent.
	args, err := BuildArguments(desc, map[string]any{"sql": "select 1"})
	require.NoError(t, err)
	assert.Equal(t, "select 1", args["sql"])
	assert.Equal(t, float64(25), args["limit"])
	_, present := args["trace"]
	assert.False(t, present)

	// Caller values win over defaults.
	args, err = BuildArguments(desc, map[string]any{"sql": "select 1", "limit": 5})
	require.NoError(t, err)
	assert.Equal(t, 5, args["limit"])

	// Missing required params are reported.
	_, err = BuildArguments(desc, map[string]any{})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Contains(t, err.Error(), "sql")
}

func TestInputSchemaRoundTrip(t *testing.T) {
	schema := `{
		"type": "object",
		"properties": {
			"sql":   {"type": "string", "description": "query text"},
			"limit": {"type": "integer", "default": 25}
		},
		"required": ["sql"]
	}`
	desc, err := Convert("sqlite", remoteTool("read-query", schema))
	require.NoError(t, err)

	emitted := InputSchema(desc)
	assert.Equal(t, "object", emitted.Type)
	assert.Equal(t, []string{"sql"}, emitted.Required)
	require.Contains(t, emitted.Properties, "sql")
	require.Contains(t, emitted.Properties, "limit")
	assert.Equal(t, "string", emitted.Properties["sql"].Type)
	assert.Equal(t, "query text", emitted.Properties["sql"].Description)
	assert.Equal(t, "integer", emitted.Properties["limit"].Type)

	// The emitted schema accepts a payload built for the descriptor.
	resolved, err := emitted.Resolve(nil)
	require.NoError(t, err)
	args, err := BuildArguments(desc, map[string]any{"sql": "select 1"})
	require.NoError(t, err)
	assert.NoError(t, resolved.Validate(args))
}
