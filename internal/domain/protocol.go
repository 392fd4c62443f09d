package domain

import (
	"bytes"
	"encoding/json"
	"strings"
)

// MCP protocol version spoken to every child server.
const ProtocolVersion = "2024-11-05"

// ClientName identifies this gateway in downstream initialize handshakes.
const ClientName = "mcp-registry"

// JSON-RPC methods exchanged with child servers.
const (
	MethodInitialize            = "initialize"
	MethodToolsList             = "tools/list"
	MethodResourcesList         = "resources/list"
	MethodPromptsList           = "prompts/list"
	MethodToolsCall             = "tools/call"
	NotificationInitialized     = "notifications/initialized"
	NotificationToolListChanged = "notifications/tools/list_changed"
)

// ClientInfo is the clientInfo object sent in initialize params.
type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// InitializeParams is the downstream initialize request payload.
type InitializeParams struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ClientInfo      ClientInfo     `json:"clientInfo"`
}

// ServerInfo describes a child server as reported by its handshake.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// InitializeResult is the downstream initialize response payload.
type InitializeResult struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ServerInfo      ServerInfo     `json:"serverInfo"`
}

// RemoteTool is a tool as listed by a child server.
type RemoteTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// RemoteResource is a resource as listed by a child server.
type RemoteResource struct {
	URI         string `json:"uri"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	MIMEType    string `json:"mimeType,omitempty"`
}

// RemotePrompt is a prompt as listed by a child server.
type RemotePrompt struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// ContentBlock is one element of a tools/call result content array, kept
// opaque so child payloads pass through unmodified.
type ContentBlock = json.RawMessage

// FlattenContent renders content blocks as display text: text blocks
// contribute their text, anything else its compact JSON.
func FlattenContent(blocks []ContentBlock) string {
	if len(blocks) == 0 {
		return ""
	}
	parts := make([]string, 0, len(blocks))
	for _, block := range blocks {
		var typed struct {
			Type string `json:"type"`
			Text string `json:"text"`
		}
		if err := json.Unmarshal(block, &typed); err == nil && typed.Type == "text" {
			parts = append(parts, typed.Text)
			continue
		}
		compact := &bytes.Buffer{}
		if err := json.Compact(compact, block); err == nil {
			parts = append(parts, compact.String())
		} else {
			parts = append(parts, string(block))
		}
	}
	return strings.Join(parts, "\n")
}
