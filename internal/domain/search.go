package domain

// SearchQuery captures registry_find parameters. Filter slices use OR logic
// within each field; RequiresAPIKey is tri-state (nil means "any").
type SearchQuery struct {
	Query          string
	Categories     []string
	Tags           []string
	Sources        []SourceType
	OfficialOnly   bool
	FeaturedOnly   bool
	RequiresAPIKey *bool
	Limit          int
}

const (
	// DefaultSearchLimit applies when a query leaves Limit at zero.
	DefaultSearchLimit = 20
	// MaxSearchLimit caps registry_find result counts.
	MaxSearchLimit = 100
	// MaxListLimit caps registry_list result counts.
	MaxListLimit = 200
)

// ClampedLimit returns the effective result cap for the query.
func (q SearchQuery) ClampedLimit() int {
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	if limit > MaxSearchLimit {
		limit = MaxSearchLimit
	}
	return limit
}
