package gateway

import (
	"fmt"
	"sort"
	"strings"

	"mcpreg/internal/domain"
	"mcpreg/internal/infra/mount"
)

const timeLayout = "2006-01-02 15:04:05"

func renderFindResults(query string, results []domain.Entry) string {
	if len(results) == 0 {
		return fmt.Sprintf("No servers found matching query: %s", query)
	}

	out := []string{fmt.Sprintf("# Found %d matching servers\n", len(results))}
	for i, entry := range results {
		out = append(out, fmt.Sprintf("## %d. %s", i+1, entry.Name))
		out = append(out, fmt.Sprintf("**ID:** `%s`", entry.ID))
		out = append(out, fmt.Sprintf("**Source:** %s", entry.Source))
		out = append(out, fmt.Sprintf("**Description:** %s", entry.Description))
		if len(entry.Categories) > 0 {
			out = append(out, fmt.Sprintf("**Categories:** %s", strings.Join(entry.Categories, ", ")))
		}
		if len(entry.Tags) > 0 {
			tags := entry.Tags
			if len(tags) > 5 {
				tags = tags[:5]
			}
			out = append(out, fmt.Sprintf("**Tags:** %s", strings.Join(tags, ", ")))
		}
		if flags := entryFlags(entry, true); len(flags) > 0 {
			out = append(out, fmt.Sprintf("**Flags:** %s", strings.Join(flags, ", ")))
		}
		if entry.RepoURL != "" {
			out = append(out, fmt.Sprintf("**Repository:** %s", entry.RepoURL))
		}
		if entry.ContainerImage != "" {
			out = append(out, fmt.Sprintf("**Image:** %s", entry.ContainerImage))
		}
		out = append(out, "")
	}

	// A single hit gets the full entry documentation appended.
	if len(results) == 1 {
		out = append(out, renderEntryDetail(results[0]))
	}
	return strings.Join(out, "\n")
}

func renderList(entries []domain.Entry, limit int) string {
	out := []string{fmt.Sprintf("# Registry listing (%d servers)\n", len(entries))}

	shown := entries
	if limit > 0 && len(shown) > limit {
		shown = shown[:limit]
	}
	for _, entry := range shown {
		flagStr := ""
		if flags := entryFlags(entry, false); len(flags) > 0 {
			flagStr = fmt.Sprintf(" [%s]", strings.Join(flags, ", "))
		}
		desc := entry.Description
		if len(desc) > 100 {
			desc = desc[:100]
		}
		out = append(out, fmt.Sprintf("- **%s** (`%s`)%s - %s", entry.Name, entry.ID, flagStr, desc))
	}
	if len(entries) > len(shown) {
		out = append(out, fmt.Sprintf("\n*(%d more servers available)*", len(entries)-len(shown)))
	}
	return strings.Join(out, "\n")
}

func entryFlags(entry domain.Entry, withAPIKey bool) []string {
	var flags []string
	if entry.Official {
		flags = append(flags, "Official")
	}
	if entry.Featured {
		flags = append(flags, "Featured")
	}
	if withAPIKey && entry.RequiresAPIKey {
		flags = append(flags, "Requires API Key")
	}
	return flags
}

// renderEntryDetail is the long-form documentation block for one entry.
func renderEntryDetail(entry domain.Entry) string {
	out := []string{fmt.Sprintf("# %s\n", entry.Name)}
	out = append(out, entry.Description+"\n")

	if entry.Documentation != "" {
		out = append(out, fmt.Sprintf("\n## Documentation\n%s\n", entry.Documentation))
	}

	if entry.ServerCommand != nil {
		out = append(out, "\n## Setup (Stdio Server)\n")
		out = append(out, fmt.Sprintf("**Command:** `%s`\n", entry.ServerCommand.Command))
		if len(entry.ServerCommand.Args) > 0 {
			out = append(out, fmt.Sprintf("**Arguments:** `%s`\n", strings.Join(entry.ServerCommand.Args, " ")))
		}
		if len(entry.ServerCommand.Env) > 0 {
			out = append(out, "\n**Environment Variables:**\n")
			for _, key := range sortedKeys(entry.ServerCommand.Env) {
				out = append(out, fmt.Sprintf("  - `%s`: %s\n", key, entry.ServerCommand.Env[key]))
			}
		}
	} else if entry.ContainerImage != "" {
		out = append(out, "\n## Setup (Container)\n")
		out = append(out, fmt.Sprintf("**Image:** `%s`\n", entry.ContainerImage))
	}

	if entry.UsageExample != "" {
		out = append(out, fmt.Sprintf("\n## Usage Example\n```\n%s\n```\n", entry.UsageExample))
	}
	if entry.RequiresAPIKey {
		out = append(out, "\n**Note:** This server requires API credentials.\n")
	}
	return strings.Join(out, "")
}

func renderMountSuccess(result *mount.MountResult) string {
	entry := result.Entry
	m := result.Mount

	var b strings.Builder
	fmt.Fprintf(&b, "Successfully activated: %s\n\n", entry.Name)
	switch entry.LaunchMethod {
	case domain.LaunchContainer:
		b.WriteString("**Type:** Container\n")
		fmt.Fprintf(&b, "**Container ID:** %s\n", shortID(m.ContainerID))
		fmt.Fprintf(&b, "**Image:** %s\n", entry.ContainerImage)
	default:
		b.WriteString("**Type:** Stdio server\n")
		fmt.Fprintf(&b, "**PID:** %d\n", m.PID)
	}
	fmt.Fprintf(&b, "**Prefix:** %s\n", m.Prefix)
	fmt.Fprintf(&b, "**Tools:** %d registered\n", len(result.Tools))
	if len(result.Skipped) > 0 {
		fmt.Fprintf(&b, "**Skipped:** %s\n", strings.Join(result.Skipped, ", "))
	}
	if result.ResourceCount > 0 {
		fmt.Fprintf(&b, "**Resources:** %d\n", result.ResourceCount)
	}
	if result.PromptCount > 0 {
		fmt.Fprintf(&b, "**Prompts:** %d\n", result.PromptCount)
	}
	b.WriteString("\nUse `registry_config_set` to configure environment variables.\n")
	b.WriteString("Use `registry_exec` to run tools from this server.\n")
	return b.String()
}

func renderActive(mounts []domain.ActiveMount) string {
	if len(mounts) == 0 {
		return "No active servers."
	}

	out := []string{fmt.Sprintf("# Active servers (%d)\n", len(mounts))}
	for _, m := range mounts {
		out = append(out, fmt.Sprintf("## %s", m.Name))
		out = append(out, fmt.Sprintf("**ID:** `%s`", m.EntryID))
		out = append(out, fmt.Sprintf("**Prefix:** `%s`", m.Prefix))
		if m.ContainerID != "" {
			out = append(out, fmt.Sprintf("**Container:** %s", shortID(m.ContainerID)))
		} else if m.PID > 0 {
			out = append(out, fmt.Sprintf("**PID:** %d", m.PID))
		}
		if len(m.Environment) > 0 {
			out = append(out, fmt.Sprintf("**Environment:** %s", strings.Join(sortedKeys(m.Environment), ", ")))
		}
		if len(m.Tools) > 0 {
			out = append(out, fmt.Sprintf("**Tools:** %d available", len(m.Tools)))
		}
		if len(m.Resources) > 0 {
			out = append(out, fmt.Sprintf("**Resources:** %d available", len(m.Resources)))
		}
		if len(m.Prompts) > 0 {
			out = append(out, fmt.Sprintf("**Prompts:** %d available", len(m.Prompts)))
		}
		out = append(out, fmt.Sprintf("**Mounted at:** %s", m.MountedAt.Format(timeLayout)))
		out = append(out, "")
	}
	return strings.Join(out, "\n")
}

func renderConfigSet(m domain.ActiveMount, env map[string]string) string {
	return fmt.Sprintf(`Configuration updated for %s

**Environment variables set:** %s

Note: Changes will take effect on next restart.
To apply now, use `+"`registry_remove`"+` followed by `+"`registry_add`"+`.
`, m.Name, strings.Join(sortedKeys(env), ", "))
}

func renderRefreshResults(results map[domain.SourceType]error) string {
	sources := make([]string, 0, len(results))
	for src := range results {
		sources = append(sources, string(src))
	}
	sort.Strings(sources)

	out := []string{"# Refresh results\n"}
	for _, src := range sources {
		if err := results[domain.SourceType(src)]; err != nil {
			out = append(out, fmt.Sprintf("- %s: Failed (%s)", src, err))
		} else {
			out = append(out, fmt.Sprintf("- %s: Success", src))
		}
	}
	return strings.Join(out, "\n")
}

func renderStatus(status domain.RegistryStatus) string {
	out := []string{"# Registry Status\n"}
	out = append(out, fmt.Sprintf("**Total entries:** %d", status.TotalEntries))
	out = append(out, fmt.Sprintf("**Active mounts:** %d", status.ActiveMounts))
	out = append(out, fmt.Sprintf("**Cache directory:** %s", status.CacheDir))
	out = append(out, fmt.Sprintf("**Sources directory:** %s", status.SourcesDir))
	if status.LastRefreshAttempt != nil {
		out = append(out, fmt.Sprintf("**Last refresh:** %s", status.LastRefreshAttempt.Format(timeLayout)))
	}
	out = append(out, "\n## Sources\n")

	sources := make([]string, 0, len(status.Sources))
	for src := range status.Sources {
		sources = append(sources, string(src))
	}
	sort.Strings(sources)

	for _, src := range sources {
		info := status.Sources[domain.SourceType(src)]
		out = append(out, fmt.Sprintf("### %s", src))
		out = append(out, fmt.Sprintf("**Entries:** %d", info.EntryCount))
		out = append(out, fmt.Sprintf("**Status:** %s", info.State))
		if info.LastRefresh != nil {
			out = append(out, fmt.Sprintf("**Last refresh:** %s", info.LastRefresh.Format(timeLayout)))
		}
		if info.ErrorMessage != "" {
			out = append(out, fmt.Sprintf("**Error:** %s", info.ErrorMessage))
		}
		out = append(out, "")
	}
	return strings.Join(out, "\n")
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
