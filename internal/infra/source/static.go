package source

import (
	"context"
	"time"

	"mcpreg/internal/domain"
)

// Static produces a fixed entry slice. It seeds the mcp_official source at
// first start and stands in for scrapers in tests.
type Static struct {
	source  domain.SourceType
	entries []domain.Entry
}

func NewStatic(src domain.SourceType, entries []domain.Entry) *Static {
	return &Static{source: src, entries: entries}
}

func (s *Static) Source() domain.SourceType { return s.source }

func (s *Static) Fetch(ctx context.Context, _ domain.SourceCache) ([]domain.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	out := make([]domain.Entry, len(s.entries))
	for i, entry := range s.entries {
		entry.Source = s.source
		entry.LastRefreshed = now
		out[i] = entry
	}
	return out, nil
}

// OfficialSeed returns the bootstrap list for the mcp_official source, used
// until a real scraper run replaces it.
func OfficialSeed() []domain.Entry {
	return []domain.Entry{
		{
			ID:           "official/filesystem",
			Name:         "Filesystem",
			Description:  "Secure file operations with configurable access controls",
			RepoURL:      "https://github.com/modelcontextprotocol/servers/tree/main/src/filesystem",
			Categories:   []string{"files"},
			Official:     true,
			LaunchMethod: domain.LaunchStdio,
			ServerCommand: &domain.ServerCommand{
				Command: "npx",
				Args:    []string{"-y", "@modelcontextprotocol/server-filesystem"},
			},
		},
		{
			ID:           "official/fetch",
			Name:         "Fetch",
			Description:  "Web content fetching and conversion for efficient LLM usage",
			RepoURL:      "https://github.com/modelcontextprotocol/servers/tree/main/src/fetch",
			Categories:   []string{"web"},
			Official:     true,
			LaunchMethod: domain.LaunchStdio,
			ServerCommand: &domain.ServerCommand{
				Command: "uvx",
				Args:    []string{"mcp-server-fetch"},
			},
		},
		{
			ID:           "official/memory",
			Name:         "Memory",
			Description:  "Knowledge graph-based persistent memory system",
			RepoURL:      "https://github.com/modelcontextprotocol/servers/tree/main/src/memory",
			Categories:   []string{"knowledge"},
			Official:     true,
			LaunchMethod: domain.LaunchStdio,
			ServerCommand: &domain.ServerCommand{
				Command: "npx",
				Args:    []string{"-y", "@modelcontextprotocol/server-memory"},
			},
		},
		{
			ID:             "official/sqlite",
			Name:           "SQLite",
			Description:    "Database interaction and business intelligence over SQLite",
			RepoURL:        "https://github.com/modelcontextprotocol/servers-archived/tree/main/src/sqlite",
			ContainerImage: "docker.io/mcp/sqlite",
			Categories:     []string{"database"},
			Official:       true,
			LaunchMethod:   domain.LaunchContainer,
		},
	}
}
