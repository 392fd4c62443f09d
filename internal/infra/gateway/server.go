package gateway

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"
)

const serverName = "mcp-registry"

// Options configures a Gateway.
type Options struct {
	Logger  *zap.Logger
	Version string
}

// Gateway owns the upstream MCP server. The fixed registry tools are bound
// via BindTools once the engine exists; dynamic child tools go through the
// Surface.
type Gateway struct {
	logger  *zap.Logger
	server  *mcp.Server
	surface *Surface
}

func New(opts Options) *Gateway {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	version := opts.Version
	if version == "" {
		version = "0.0.0"
	}
	server := mcp.NewServer(&mcp.Implementation{
		Name:    serverName,
		Version: version,
	}, &mcp.ServerOptions{
		HasTools: true,
	})
	return &Gateway{
		logger:  logger.Named("gateway"),
		server:  server,
		surface: newSurface(server, logger),
	}
}

// Surface exposes the dynamic tool registration half to the mount engine.
func (g *Gateway) Surface() *Surface {
	return g.surface
}

// BindTools registers the fixed registry_* tools. Called once during wiring,
// after the engine and refresher exist.
func (g *Gateway) BindTools(tools *Toolset) {
	for _, binding := range tools.bindings() {
		tool := binding.tool
		g.server.AddTool(&tool, binding.handler)
	}
	g.logger.Info("registry tools bound", zap.Int("count", len(tools.bindings())))
}

// Run serves MCP over stdio until ctx is done or the client disconnects.
func (g *Gateway) Run(ctx context.Context) error {
	g.logger.Info("gateway starting (stdio transport)")
	return g.server.Run(ctx, &mcp.StdioTransport{})
}

// decodeArgs unpacks a tools/call arguments payload into a generic map. A
// missing payload means no arguments.
func decodeArgs(raw json.RawMessage) (map[string]any, error) {
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("decode tool arguments: %w", err)
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
	}
}

func errorResult(err error) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{
			&mcp.TextContent{Text: fmt.Sprintf("error: %s", err.Error())},
		},
	}
}
