package gateway

import (
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

func findTool() mcp.Tool {
	return mcp.Tool{
		Name:        "registry_find",
		Description: "Search for MCP servers in the aggregated registry with fuzzy matching and filters.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "Search text (fuzzy matched).",
				},
				"categories": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "string"},
					"description": "Filter by categories (OR logic).",
				},
				"tags": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "string"},
					"description": "Filter by tags (OR logic).",
				},
				"sources": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "string"},
					"description": "Filter by sources: docker, mcpservers, mcp_official, awesome, custom (OR logic).",
				},
				"official_only": map[string]any{
					"type":        "boolean",
					"description": "Only show official servers.",
				},
				"featured_only": map[string]any{
					"type":        "boolean",
					"description": "Only show featured servers.",
				},
				"limit": map[string]any{
					"type":        "integer",
					"description": "Max results to return (1-100, default 20).",
				},
			},
			"required": []string{"query"},
		},
	}
}

func listTool() mcp.Tool {
	return mcp.Tool{
		Name:        "registry_list",
		Description: "List all available servers in the registry.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"source": map[string]any{
					"type":        "string",
					"description": "Filter by source: docker, mcpservers, mcp_official, awesome, custom, or all.",
				},
				"limit": map[string]any{
					"type":        "integer",
					"description": "Max results to return (1-200, default 50).",
				},
			},
			"required": []string{},
		},
	}
}

func addTool() mcp.Tool {
	return mcp.Tool{
		Name:        "registry_add",
		Description: "Activate an MCP server from the registry: launches the child server and exposes its tools under a namespaced prefix.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"entry_id": map[string]any{
					"type":        "string",
					"description": "Registry entry ID to activate.",
				},
				"prefix": map[string]any{
					"type":        "string",
					"description": "Tool prefix for namespacing (default: derived from the entry id).",
				},
			},
			"required": []string{"entry_id"},
		},
	}
}

func removeTool() mcp.Tool {
	return mcp.Tool{
		Name:        "registry_remove",
		Description: "Deactivate an active MCP server, removing its tools and stopping the child.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"entry_id": map[string]any{
					"type":        "string",
					"description": "Registry entry ID to deactivate.",
				},
			},
			"required": []string{"entry_id"},
		},
	}
}

func activeTool() mcp.Tool {
	return mcp.Tool{
		Name:        "registry_active",
		Description: "List all currently active MCP servers with their discovered capabilities.",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
			"required":   []string{},
		},
	}
}

func configSetTool() mcp.Tool {
	return mcp.Tool{
		Name:        "registry_config_set",
		Description: "Configure environment variables for an active server. Only allowlisted key prefixes are accepted; changes apply on next restart.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"entry_id": map[string]any{
					"type":        "string",
					"description": "Active server ID to configure.",
				},
				"environment": map[string]any{
					"type":        "object",
					"description": "Environment variables to set (key-value pairs).",
				},
			},
			"required": []string{"entry_id", "environment"},
		},
	}
}

func execTool() mcp.Tool {
	return mcp.Tool{
		Name:        "registry_exec",
		Description: "Execute a tool from an active MCP server by its fully-qualified name (e.g. mcp_sqlite_read_query).",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"tool_name": map[string]any{
					"type":        "string",
					"description": "Fully-qualified tool name (mcp_<prefix>_<tool>).",
				},
				"arguments": map[string]any{
					"type":        "object",
					"description": "Tool arguments as key-value pairs.",
				},
			},
			"required": []string{"tool_name"},
		},
	}
}

func refreshTool() mcp.Tool {
	return mcp.Tool{
		Name:        "registry_refresh",
		Description: "Force refresh a registry source, or all sources.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"source": map[string]any{
					"type":        "string",
					"description": "Source to refresh: docker, mcpservers, mcp_official, awesome, custom, or all.",
				},
			},
			"required": []string{"source"},
		},
	}
}

func statusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "registry_status",
		Description: "Get registry status and statistics.",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
			"required":   []string{},
		},
	}
}

func launchStdioTool() mcp.Tool {
	return mcp.Tool{
		Name:        "registry_launch_stdio",
		Description: "Launch an ad-hoc stdio MCP server that is not in the catalog and expose its tools under a prefix.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"command": map[string]any{
					"type":        "string",
					"description": "Executable to run. A single string with spaces is split shell-style.",
				},
				"prefix": map[string]any{
					"type":        "string",
					"description": "Tool prefix for namespacing.",
				},
				"args": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "string"},
					"description": "Command arguments.",
				},
				"env": map[string]any{
					"type":        "object",
					"description": "Environment variables for the child process.",
				},
			},
			"required": []string{"command", "prefix"},
		},
	}
}
