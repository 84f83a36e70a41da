package router

import (
	"strings"

	"github.com/convobank/orchestrator/pkg/config"
)

// commitThreshold is the minimum winning score for the keyword classifier
// to commit without consulting the LLM fallback.
const commitThreshold = 2

// KeywordScorer classifies messages by summing weighted keyword occurrences
// per category. Cheap and deterministic; the first classification tier.
type KeywordScorer struct {
	keywords map[config.Category]map[string]int
}

// NewKeywordScorer builds a scorer from the routing table.
func NewKeywordScorer(table *config.RoutingTable) *KeywordScorer {
	return &KeywordScorer{keywords: table.Keywords}
}

// Classify scores the message against every category. It commits — returns
// ok — only when the winner scores at least the commit threshold and beats
// the runner-up outright; ties and weak signals fall through to the LLM.
// The full score map is returned either way, for the audit trail.
func (s *KeywordScorer) Classify(message string) (config.Category, bool, map[config.Category]int) {
	normalized := strings.ToLower(message)

	scores := make(map[config.Category]int, len(s.keywords))
	for category, words := range s.keywords {
		total := 0
		for word, weight := range words {
			total += strings.Count(normalized, word) * weight
		}
		if total > 0 {
			scores[category] = total
		}
	}

	var best config.Category
	top, runnerUp := 0, 0
	for category, score := range scores {
		switch {
		case score > top:
			best, runnerUp, top = category, top, score
		case score > runnerUp:
			runnerUp = score
		}
	}

	if top >= commitThreshold && top > runnerUp {
		return best, true, scores
	}
	return config.CategoryUnknown, false, scores
}
