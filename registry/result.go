package registry

// Result is a ranked search hit.
type Result struct {
	Entry Entry
	// Score is the bleve relevance score. Higher is better.
	Score float64
}

// Results is a slice of Result with helper methods.
type Results []Result

// Names returns just the exposed capability names.
func (r Results) Names() []string {
	names := make([]string, len(r))
	for i, result := range r {
		names[i] = result.Entry.Name
	}
	return names
}

// FilterByKind returns results of the given kind.
func (r Results) FilterByKind(kind CapabilityKind) Results {
	var filtered Results
	for _, result := range r {
		if result.Entry.Kind == kind {
			filtered = append(filtered, result)
		}
	}
	return filtered
}

// FilterByProvider returns results served by providerID.
func (r Results) FilterByProvider(providerID string) Results {
	var filtered Results
	for _, result := range r {
		if result.Entry.ProviderID == providerID {
			filtered = append(filtered, result)
		}
	}
	return filtered
}

// FilterByMinScore returns results with score >= minScore.
func (r Results) FilterByMinScore(minScore float64) Results {
	var filtered Results
	for _, result := range r {
		if result.Score >= minScore {
			filtered = append(filtered, result)
		}
	}
	return filtered
}
