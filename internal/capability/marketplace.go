package capability

import (
	"sort"
	"strings"

	"playline/internal/domain"
)

// SearchFilters narrows Find results.
type SearchFilters struct {
	Provider string   `json:"provider,omitempty"`
	Tags     []string `json:"tags,omitempty"`
	// Kind is "capability" or "responsibility"; empty searches both.
	Kind string `json:"kind,omitempty"`
}

// SearchResult is one Find hit.
type SearchResult struct {
	Kind           string                           `json:"kind" enum:"capability,responsibility"`
	Capability     *domain.CapabilityDefinition     `json:"capability,omitempty"`
	Responsibility *domain.ResponsibilityDefinition `json:"responsibility,omitempty"`
}

// Find does a case-insensitive substring search over names and
// descriptions. Exact name matches sort first.
func (r *Registry) Find(term string, filters SearchFilters) []SearchResult {
	term = strings.ToLower(strings.TrimSpace(term))
	var exact, partial []SearchResult

	consider := func(name, description, provider string, tags []string, hit SearchResult) {
		if filters.Provider != "" && provider != filters.Provider {
			return
		}
		if !containsAll(tags, filters.Tags) {
			return
		}
		lower := strings.ToLower(name)
		switch {
		case lower == term:
			exact = append(exact, hit)
		case term == "" || strings.Contains(lower, term) || strings.Contains(strings.ToLower(description), term):
			partial = append(partial, hit)
		}
	}

	if filters.Kind == "" || filters.Kind == "capability" {
		for _, def := range r.listCapabilities() {
			def := def
			consider(def.Name, def.Description, def.Provider, def.Tags, SearchResult{Kind: "capability", Capability: &def})
		}
	}
	if filters.Kind == "" || filters.Kind == "responsibility" {
		for _, def := range r.listResponsibilities() {
			def := def
			consider(def.Name, def.Description, def.Provider, def.Tags, SearchResult{Kind: "responsibility", Responsibility: &def})
		}
	}
	return append(exact, partial...)
}

func containsAll(have, want []string) bool {
	for _, w := range want {
		found := false
		for _, h := range have {
			if h == w {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// MarketplaceInfo aggregates registry counts.
func (r *Registry) MarketplaceInfo() domain.MarketplaceInfo {
	caps := r.listCapabilities()
	resps := r.listResponsibilities()
	providers := r.listProviders()

	info := domain.MarketplaceInfo{
		TotalCapabilities:      len(caps),
		TotalResponsibilities:  len(resps),
		TotalProviders:         len(providers),
		CapabilitiesByProvider: map[string]int{},
		ProviderAvailability:   map[string]int{},
	}
	serveCount := map[string]int{}
	for _, p := range providers {
		info.CapabilitiesByProvider[p.ID] = len(p.Capabilities)
		info.ProviderAvailability[string(p.Availability)]++
		for _, c := range p.Capabilities {
			serveCount[c]++
		}
	}

	type popularity struct {
		name  string
		count int
	}
	var popular []popularity
	for _, def := range caps {
		if n := serveCount[def.Name]; n > 0 {
			popular = append(popular, popularity{def.Name, n})
		}
	}
	sort.SliceStable(popular, func(i, j int) bool { return popular[i].count > popular[j].count })
	for i, p := range popular {
		if i == 5 {
			break
		}
		info.MostPopular = append(info.MostPopular, p.name)
	}
	return info
}
