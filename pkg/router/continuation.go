package router

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/convobank/orchestrator/pkg/config"
)

// shortMessageLimit is the trimmed length under which a message is treated
// as a continuation outright.
const shortMessageLimit = 20

var optionPattern = regexp.MustCompile(`(?i)\b(?:option|choice)\s+\w+\b`)

// ContinuationDetector decides, purely lexically, whether a message
// continues the previous turn ("yes", "cancel", "option 2") rather than
// opening a new topic. Its verdict only matters when the state manager
// holds a live entry; the caller checks that.
type ContinuationDetector struct {
	wordSet *regexp.Regexp
}

// NewContinuationDetector compiles the affirmation and negation phrase sets
// from the routing table.
func NewContinuationDetector(table *config.RoutingTable) *ContinuationDetector {
	phrases := make([]string, 0, len(table.Affirmations)+len(table.Negations))
	for _, p := range table.Affirmations {
		phrases = append(phrases, regexp.QuoteMeta(strings.ToLower(p)))
	}
	for _, p := range table.Negations {
		phrases = append(phrases, regexp.QuoteMeta(strings.ToLower(p)))
	}
	return &ContinuationDetector{
		wordSet: regexp.MustCompile(`\b(?:` + strings.Join(phrases, "|") + `)\b`),
	}
}

// IsContinuation reports whether the message reads as a reply to the prior
// turn: very short, an affirmation or negation, or an option selection.
func (d *ContinuationDetector) IsContinuation(text string) bool {
	normalized := strings.ToLower(strings.TrimSpace(text))
	if utf8.RuneCountInString(normalized) < shortMessageLimit {
		return true
	}
	if d.wordSet.MatchString(normalized) {
		return true
	}
	return optionPattern.MatchString(normalized)
}
