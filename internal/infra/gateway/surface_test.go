package gateway

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mcpreg/internal/domain"
)

func testDescriptors() []domain.ToolDescriptor {
	return []domain.ToolDescriptor{
		{
			Name:        "mcp_sqlite_read_query",
			RemoteName:  "read-query",
			Prefix:      "sqlite",
			Description: "Run a read-only query",
			Params: []domain.ToolParam{
				{Name: "sql", Type: domain.ParamString, Required: true},
			},
		},
		{
			Name:       "mcp_sqlite_list_tables",
			RemoteName: "list-tables",
			Prefix:     "sqlite",
		},
	}
}

func TestSurfaceRegisterAndRemove(t *testing.T) {
	gw := New(Options{Version: "test"})
	surface := gw.Surface()

	dispatch := func(ctx context.Context, name string, args map[string]any) (string, error) {
		return "ok", nil
	}
	require.NoError(t, surface.Register(testDescriptors(), dispatch))
	assert.ElementsMatch(t,
		[]string{"mcp_sqlite_read_query", "mcp_sqlite_list_tables"},
		surface.Registered(),
	)

	surface.Remove([]string{"mcp_sqlite_read_query"})
	assert.Equal(t, []string{"mcp_sqlite_list_tables"}, surface.Registered())
}

func TestSurfaceRemoveUnknownIsNoop(t *testing.T) {
	gw := New(Options{Version: "test"})
	surface := gw.Surface()

	surface.Remove([]string{"mcp_never_registered"})
	assert.Empty(t, surface.Registered())
}

func TestSurfaceDispatchHandlerRoutesArgs(t *testing.T) {
	gw := New(Options{Version: "test"})
	surface := gw.Surface()

	var gotName string
	var gotArgs map[string]any
	dispatch := func(ctx context.Context, name string, args map[string]any) (string, error) {
		gotName = name
		gotArgs = args
		return "2 rows", nil
	}
	handler := surface.dispatchHandler("mcp_sqlite_read_query", dispatch)

	result, err := handler(context.Background(), callRequest(t, map[string]any{"sql": "select 1"}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Equal(t, "2 rows", contentText(t, result))
	assert.Equal(t, "mcp_sqlite_read_query", gotName)
	assert.Equal(t, map[string]any{"sql": "select 1"}, gotArgs)
}

func TestSurfaceDispatchHandlerWrapsErrors(t *testing.T) {
	gw := New(Options{Version: "test"})
	surface := gw.Surface()

	dispatch := func(ctx context.Context, name string, args map[string]any) (string, error) {
		return "", domain.ErrNotActive
	}
	handler := surface.dispatchHandler("mcp_gone_tool", dispatch)

	result, err := handler(context.Background(), callRequest(t, map[string]any{}))
	require.NoError(t, err)
	require.True(t, result.IsError)
	assert.Contains(t, contentText(t, result), "error: server not active")
}
