package registry

import (
	"sort"
	"strings"

	"mcpreg/internal/domain"
)

type fieldKind int

const (
	fieldName fieldKind = iota
	fieldDescription
	fieldCategory
	fieldTag
)

// indexRecord is one searchable text fragment of an entry. Records keep
// insertion order so equal scores break ties deterministically.
type indexRecord struct {
	text    string
	kind    fieldKind
	entryID string
}

func buildIndex(state *entryState) []indexRecord {
	var records []indexRecord
	for _, id := range state.order {
		entry := state.byID[id]
		records = append(records, indexRecord{
			text:    strings.ToLower(entry.Name),
			kind:    fieldName,
			entryID: id,
		})
		if entry.Description != "" {
			records = append(records, indexRecord{
				text:    strings.ToLower(entry.Description),
				kind:    fieldDescription,
				entryID: id,
			})
		}
		for _, category := range entry.Categories {
			records = append(records, indexRecord{
				text:    strings.ToLower(category),
				kind:    fieldCategory,
				entryID: id,
			})
		}
		for _, tag := range entry.Tags {
			records = append(records, indexRecord{
				text:    strings.ToLower(tag),
				kind:    fieldTag,
				entryID: id,
			})
		}
	}
	return records
}

// fuzzyThreshold drops record scores below this value before ranking.
const fuzzyThreshold = 60

// Search ranks entries against a query: exact-match filters first, then
// fuzzy scoring blended with popularity, or popularity alone when the text
// query is empty.
func (s *Store) Search(query domain.SearchQuery) []domain.Entry {
	state := s.state.Load()
	limit := query.ClampedLimit()

	candidates := make(map[string]struct{}, len(state.byID))
	for _, id := range state.order {
		if matchesFilters(state.byID[id], query) {
			candidates[id] = struct{}{}
		}
	}
	if len(candidates) == 0 {
		return nil
	}

	text := strings.ToLower(strings.TrimSpace(query.Query))
	if text == "" {
		return s.rankByPopularity(state, candidates, limit)
	}
	return s.rankByScore(state, candidates, text, limit)
}

func matchesFilters(entry domain.Entry, query domain.SearchQuery) bool {
	if len(query.Sources) > 0 && !containsSource(query.Sources, entry.Source) {
		return false
	}
	if len(query.Categories) > 0 && !intersectsFold(entry.Categories, query.Categories) {
		return false
	}
	if len(query.Tags) > 0 && !intersectsFold(entry.Tags, query.Tags) {
		return false
	}
	if query.OfficialOnly && !entry.Official {
		return false
	}
	if query.FeaturedOnly && !entry.Featured {
		return false
	}
	if query.RequiresAPIKey != nil && entry.RequiresAPIKey != *query.RequiresAPIKey {
		return false
	}
	return true
}

func containsSource(sources []domain.SourceType, src domain.SourceType) bool {
	for _, candidate := range sources {
		if candidate == src {
			return true
		}
	}
	return false
}

func intersectsFold(have, want []string) bool {
	for _, w := range want {
		for _, h := range have {
			if strings.EqualFold(h, w) {
				return true
			}
		}
	}
	return false
}

type scoredRecord struct {
	record indexRecord
	score  int
	order  int
}

type rankedEntry struct {
	id       string
	combined float64
	order    int
}

func (s *Store) rankByScore(state *entryState, candidates map[string]struct{}, text string, limit int) []domain.Entry {
	var scored []scoredRecord
	for i, record := range state.index {
		if _, ok := candidates[record.entryID]; !ok {
			continue
		}
		score := weightedRatio(text, record.text)
		if score <= 0 {
			continue
		}
		scored = append(scored, scoredRecord{record: record, score: score, order: i})
	}

	// Keep the best limit*3 records before applying the threshold, then take
	// each entry's best surviving record.
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].score != scored[j].score {
			return scored[i].score > scored[j].score
		}
		return scored[i].order < scored[j].order
	})
	if pool := limit * 3; len(scored) > pool {
		scored = scored[:pool]
	}

	best := make(map[string]scoredRecord, len(scored))
	var ids []string
	for _, candidate := range scored {
		if candidate.score < fuzzyThreshold {
			continue
		}
		current, seen := best[candidate.record.entryID]
		if !seen {
			best[candidate.record.entryID] = candidate
			ids = append(ids, candidate.record.entryID)
			continue
		}
		if candidate.score > current.score {
			candidate.order = current.order
			best[candidate.record.entryID] = candidate
		}
	}

	ranked := make([]rankedEntry, 0, len(ids))
	for _, id := range ids {
		record := best[id]
		combined := 0.6*float64(record.score) + 0.4*float64(Popularity(state.byID[id]))
		ranked = append(ranked, rankedEntry{id: id, combined: combined, order: record.order})
	}
	return takeTop(state, ranked, limit)
}

func (s *Store) rankByPopularity(state *entryState, candidates map[string]struct{}, limit int) []domain.Entry {
	ranked := make([]rankedEntry, 0, len(candidates))
	for i, id := range state.order {
		if _, ok := candidates[id]; !ok {
			continue
		}
		ranked = append(ranked, rankedEntry{
			id:       id,
			combined: float64(Popularity(state.byID[id])),
			order:    i,
		})
	}
	return takeTop(state, ranked, limit)
}

func takeTop(state *entryState, ranked []rankedEntry, limit int) []domain.Entry {
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].combined != ranked[j].combined {
			return ranked[i].combined > ranked[j].combined
		}
		return ranked[i].order < ranked[j].order
	})
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	out := make([]domain.Entry, 0, len(ranked))
	for _, r := range ranked {
		out = append(out, state.byID[r.id])
	}
	return out
}

// Popularity derives a deterministic integer score from entry metadata. It
// ranks results for empty queries and tie-breaks fuzzy matches.
func Popularity(entry domain.Entry) int {
	score := 0
	if entry.Official {
		score += 20
	}
	if entry.Featured {
		score += 10
	}
	categories := len(entry.Categories)
	if categories > 3 {
		categories = 3
	}
	score += 2 * categories
	switch entry.Source {
	case domain.SourceMCPOfficial:
		score += 15
	case domain.SourceDocker:
		score += 5
	}
	if entry.ContainerImage != "" {
		score += 3
	}
	return score
}
