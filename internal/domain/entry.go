package domain

import (
	"fmt"
	"strings"
	"time"
)

// SourceType identifies the catalog a registry entry was aggregated from.
type SourceType string

const (
	SourceDocker      SourceType = "docker"
	SourceMCPServers  SourceType = "mcpservers"
	SourceMCPOfficial SourceType = "mcp_official"
	SourceAwesome     SourceType = "awesome"
	SourceCustom      SourceType = "custom"
)

// KnownSources lists every source variant in a stable order.
var KnownSources = []SourceType{
	SourceDocker,
	SourceMCPServers,
	SourceMCPOfficial,
	SourceAwesome,
	SourceCustom,
}

// ParseSourceType resolves a user-supplied source name.
func ParseSourceType(raw string) (SourceType, error) {
	src := SourceType(strings.ToLower(strings.TrimSpace(raw)))
	for _, known := range KnownSources {
		if src == known {
			return src, nil
		}
	}
	return "", fmt.Errorf("%w: unknown source %q", ErrValidation, raw)
}

// LaunchMethod describes how an entry's server is started.
type LaunchMethod string

const (
	LaunchContainer  LaunchMethod = "container"
	LaunchStdio      LaunchMethod = "stdio"
	LaunchRemoteHTTP LaunchMethod = "remote_http"
	LaunchUnknown    LaunchMethod = "unknown"
)

func (m LaunchMethod) valid() bool {
	switch m {
	case LaunchContainer, LaunchStdio, LaunchRemoteHTTP, LaunchUnknown:
		return true
	default:
		return false
	}
}

// ServerCommand is the stdio invocation recorded for an entry.
type ServerCommand struct {
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

// Entry is a normalized catalog record describing one MCP server candidate.
// Entries are immutable once validated; refreshes replace them wholesale.
type Entry struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	Description    string         `json:"description"`
	Source         SourceType     `json:"source"`
	RepoURL        string         `json:"repo_url,omitempty"`
	ContainerImage string         `json:"container_image,omitempty"`
	Categories     []string       `json:"categories,omitempty"`
	Tags           []string       `json:"tags,omitempty"`
	Official       bool           `json:"official"`
	Featured       bool           `json:"featured"`
	RequiresAPIKey bool           `json:"requires_api_key"`
	LaunchMethod   LaunchMethod   `json:"launch_method"`
	ServerCommand  *ServerCommand `json:"server_command,omitempty"`
	Tools          []string       `json:"tools,omitempty"`
	Documentation  string         `json:"documentation,omitempty"`
	UsageExample   string         `json:"usage_example,omitempty"`
	LastRefreshed  time.Time      `json:"last_refreshed"`
	AddedAt        time.Time      `json:"added_at"`
	RawMetadata    map[string]any `json:"raw_metadata,omitempty"`
}

const idAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789-_/"

// ValidateEntryID checks the slug contract: non-empty, lowercase
// alphanumerics plus hyphen, underscore and slash.
func ValidateEntryID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: entry id must not be empty", ErrValidation)
	}
	for _, r := range id {
		if !strings.ContainsRune(idAlphabet, r) {
			return fmt.Errorf("%w: entry id %q contains invalid character %q", ErrValidation, id, r)
		}
	}
	return nil
}

// Validate normalizes the entry in place and reports contract violations.
// The id is lowercased, duplicate categories/tags are dropped preserving
// order, and zero timestamps are stamped with now.
func (e *Entry) Validate() error {
	e.ID = strings.ToLower(strings.TrimSpace(e.ID))
	if err := ValidateEntryID(e.ID); err != nil {
		return err
	}
	if e.Source == "" {
		return fmt.Errorf("%w: entry %q has no source", ErrValidation, e.ID)
	}
	if _, err := ParseSourceType(string(e.Source)); err != nil {
		return err
	}
	if e.LaunchMethod == "" {
		e.LaunchMethod = LaunchUnknown
	}
	if !e.LaunchMethod.valid() {
		return fmt.Errorf("%w: entry %q has unknown launch method %q", ErrValidation, e.ID, e.LaunchMethod)
	}
	if e.ContainerImage != "" && !strings.ContainsAny(e.ContainerImage, "/:") {
		return fmt.Errorf("%w: invalid container image format %q", ErrValidation, e.ContainerImage)
	}
	e.Categories = dedupeStrings(e.Categories)
	e.Tags = dedupeStrings(e.Tags)
	now := time.Now().UTC()
	if e.LastRefreshed.IsZero() {
		e.LastRefreshed = now
	}
	if e.AddedAt.IsZero() {
		e.AddedAt = now
	}
	return nil
}

func dedupeStrings(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
