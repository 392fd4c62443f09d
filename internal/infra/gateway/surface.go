package gateway

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"mcpreg/internal/domain"
	"mcpreg/internal/infra/toolschema"
)

// Surface adapts the MCP server for the mount engine's dynamic tool set.
// AddTool and RemoveTools commit each batch before the SDK emits the
// list_changed notification, so the upstream client never sees a name it
// cannot call.
type Surface struct {
	server *mcp.Server
	logger *zap.Logger

	mu         sync.Mutex
	registered map[string]struct{}
}

func newSurface(server *mcp.Server, logger *zap.Logger) *Surface {
	return &Surface{
		server:     server,
		logger:     logger.Named("tool_surface"),
		registered: make(map[string]struct{}),
	}
}

var _ domain.ToolSurface = (*Surface)(nil)

// Register exposes the descriptors upstream. Each handler closes over the
// namespaced name and routes through dispatch.
func (s *Surface) Register(descriptors []domain.ToolDescriptor, dispatch domain.DispatchFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, desc := range descriptors {
		tool := mcp.Tool{
			Name:        desc.Name,
			Description: desc.Description,
			InputSchema: toolschema.InputSchema(desc),
		}
		s.server.AddTool(&tool, s.dispatchHandler(desc.Name, dispatch))
		s.registered[desc.Name] = struct{}{}
	}
	s.logger.Debug("registered dynamic tools", zap.Int("count", len(descriptors)))
	return nil
}

// Remove withdraws the named tools, ignoring names that were never
// registered so teardown stays idempotent.
func (s *Surface) Remove(names []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	known := make([]string, 0, len(names))
	for _, name := range names {
		if _, ok := s.registered[name]; !ok {
			continue
		}
		delete(s.registered, name)
		known = append(known, name)
	}
	if len(known) > 0 {
		s.server.RemoveTools(known...)
	}
	s.logger.Debug("removed dynamic tools", zap.Int("count", len(known)))
}

// Registered returns the current dynamic tool names, for diagnostics.
func (s *Surface) Registered() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.registered))
	for name := range s.registered {
		names = append(names, name)
	}
	return names
}

func (s *Surface) dispatchHandler(name string, dispatch domain.DispatchFunc) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, err := decodeArgs(json.RawMessage(req.Params.Arguments))
		if err != nil {
			return errorResult(err), nil
		}
		text, err := dispatch(ctx, name, args)
		if err != nil {
			return errorResult(err), nil
		}
		return textResult(text), nil
	}
}
