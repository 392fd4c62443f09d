package envutil

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"mcpreg/internal/domain"
)

// Allowed environment key prefixes for registry_config_set, matched
// case-insensitively against the upper-cased key.
var allowedPrefixes = []string{
	"API_KEY",
	"API_TOKEN",
	"AUTH_",
	"DATABASE_",
	"DB_",
	"GITHUB_",
	"OPENAI_",
	"ANTHROPIC_",
	"AWS_",
	"AZURE_",
	"GCP_",
	"SLACK_",
	"DISCORD_",
	"NOTION_",
	"MCP_",
}

// Variables inherited from the gateway's own environment when spawning a
// local child, unless the mount declares them itself.
var inheritedKeys = []string{"PATH", "HOME", "USER", "SHELL"}

// KeyAllowed reports whether an environment key passes the allowlist.
func KeyAllowed(key string) bool {
	upper := strings.ToUpper(key)
	for _, prefix := range allowedPrefixes {
		if strings.HasPrefix(upper, prefix) {
			return true
		}
	}
	return false
}

// ValidateKeys rejects any key outside the allowlist.
func ValidateKeys(env map[string]string) error {
	for key := range env {
		if !KeyAllowed(key) {
			return fmt.Errorf("%w: environment key %q not in allowlist (allowed prefixes: %s)",
				domain.ErrInvalidEnvKey, key, strings.Join(allowedPrefixes, ", "))
		}
	}
	return nil
}

// AllowedPrefixes returns a copy of the allowlist for display.
func AllowedPrefixes() []string {
	return append([]string(nil), allowedPrefixes...)
}

// SpawnEnv builds the environment for a local child: the declared variables
// plus PATH, HOME, USER and SHELL inherited from the gateway process when
// the declaration does not override them. Keys are emitted sorted so spawn
// commands are reproducible in logs and tests.
func SpawnEnv(declared map[string]string) []string {
	merged := make(map[string]string, len(declared)+len(inheritedKeys))
	for k, v := range declared {
		merged[k] = v
	}
	for _, key := range inheritedKeys {
		if _, ok := merged[key]; ok {
			continue
		}
		if value, ok := os.LookupEnv(key); ok {
			merged[key] = value
		}
	}
	return Format(merged)
}

// Format renders an environment map as sorted KEY=value pairs.
func Format(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}
