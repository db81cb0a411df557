package resource

import (
	"sort"

	"playline/internal/characteristics"
	"playline/internal/domain"
)

// Match pairs a definition with its relevance score against a filter.
type Match struct {
	Definition domain.ResourceDefinition `json:"definition"`
	Score      float64                   `json:"score"`
}

// FindMatching returns definitions satisfying the filter, highest score
// first. Ties keep registration order.
func (m *Manager) FindMatching(filter map[string]any) []Match {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.findMatchingLocked(filter)
}

func (m *Manager) findMatchingLocked(filter map[string]any) []Match {
	var matches []Match
	for _, name := range m.defOrder {
		held := m.effectiveCharacteristics(name)
		score, ok := characteristics.Match(filter, held)
		if !ok {
			continue
		}
		matches = append(matches, Match{Definition: m.defs[name], Score: score})
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	return matches
}
