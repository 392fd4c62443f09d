package domain

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

var prefixPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidatePrefix checks the namespace segment used in re-exposed tool names.
func ValidatePrefix(prefix string) error {
	if !prefixPattern.MatchString(prefix) {
		return fmt.Errorf("%w: prefix %q must match [A-Za-z_][A-Za-z0-9_]*", ErrValidation, prefix)
	}
	return nil
}

// DerivePrefix builds the default namespace prefix from the tail segment of
// an entry id, mapping hyphens to underscores.
func DerivePrefix(entryID string) string {
	tail := entryID
	if idx := strings.LastIndex(entryID, "/"); idx >= 0 {
		tail = entryID[idx+1:]
	}
	return strings.ReplaceAll(tail, "-", "_")
}

// ActiveMount is the bookkeeping record for one running child server. It is
// owned exclusively by the mount engine; the RPC client bound to the mount is
// referenced only by its opaque ClientID to keep ownership one-directional.
type ActiveMount struct {
	EntryID     string            `json:"entry_id"`
	Name        string            `json:"name"`
	Prefix      string            `json:"prefix"`
	ContainerID string            `json:"container_id,omitempty"`
	PID         int               `json:"pid,omitempty"`
	ClientID    string            `json:"-"`
	Environment map[string]string `json:"environment,omitempty"`
	Tools       []string          `json:"tools,omitempty"`
	Resources   []string          `json:"resources,omitempty"`
	Prompts     []string          `json:"prompts,omitempty"`
	MountedAt   time.Time         `json:"mounted_at"`
}

// Clone returns a defensive copy so callers cannot mutate stored state.
func (m ActiveMount) Clone() ActiveMount {
	out := m
	out.Environment = cloneStringMap(m.Environment)
	out.Tools = append([]string(nil), m.Tools...)
	out.Resources = append([]string(nil), m.Resources...)
	out.Prompts = append([]string(nil), m.Prompts...)
	return out
}

func cloneStringMap(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
