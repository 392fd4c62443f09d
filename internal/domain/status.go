package domain

import "time"

// RefreshState is the lifecycle state of one source's refresh cycle.
type RefreshState string

const (
	RefreshUnknown    RefreshState = "unknown"
	RefreshOK         RefreshState = "ok"
	RefreshError      RefreshState = "error"
	RefreshRefreshing RefreshState = "refreshing"
)

// SourceRefreshStatus records the outcome of the most recent refresh for one
// source. LastAttempt moves on every cycle; LastRefresh only on success.
type SourceRefreshStatus struct {
	Source       SourceType   `json:"source"`
	LastRefresh  *time.Time   `json:"last_refresh,omitempty"`
	LastAttempt  *time.Time   `json:"last_attempt,omitempty"`
	EntryCount   int          `json:"entry_count"`
	State        RefreshState `json:"status"`
	ErrorMessage string       `json:"error_message,omitempty"`
}

// RegistryStatus aggregates store statistics for registry_status.
type RegistryStatus struct {
	TotalEntries       int
	ActiveMounts       int
	Sources            map[SourceType]SourceRefreshStatus
	LastRefreshAttempt *time.Time
	CacheDir           string
	SourcesDir         string
}
