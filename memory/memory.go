package memory

import (
	"context"
	"regexp"
	"strings"
	"time"
)

// Entry is a persisted, confidence-scored record of how a query pattern has
// historically performed. Entries are never deleted automatically; stores may
// age them out by LastUsed when a configured cap is exceeded.
type Entry struct {
	Pattern      string    `json:"pattern"`
	Intent       string    `json:"intent"`
	SuccessCount int       `json:"success_count"`
	FailureCount int       `json:"failure_count"`
	Confidence   float64   `json:"confidence"`
	LastUsed     time.Time `json:"last_used"`
}

// Turn is one short-term conversation exchange kept per session.
type Turn struct {
	Role    string    `json:"role"` // user | assistant
	Content string    `json:"content"`
	At      time.Time `json:"at"`
}

// Context bundles what the engine reads before planning: the session's recent
// turns plus the long-term patterns relevant as priors.
type Context struct {
	RecentTurns []Turn  `json:"recent_turns"`
	Patterns    []Entry `json:"patterns"`
}

// Store is the only state shared across request instances. Implementations
// must support concurrent read/append; last-writer-wins is acceptable for the
// confidence recompute since it is a bounded monotone statistic.
type Store interface {
	// GetContext returns recent turns and long-term patterns for a session.
	GetContext(ctx context.Context, sessionID string) (*Context, error)

	// RecordTurn appends one conversation turn to the session's short-term history.
	RecordTurn(ctx context.Context, sessionID string, turn Turn) error

	// RecordOutcome updates the pattern's counters and recomputes its confidence.
	RecordOutcome(ctx context.Context, pattern, intent string, success bool) error
}

// Confidence derives an entry's confidence from its counters using a
// Laplace-smoothed success ratio clamped to [0.1, 1.0): repeated failures
// decay onto the 0.1 floor but never to 0, so the pattern always remains
// eligible for re-trial, and no streak of successes reaches exactly 1.0.
func Confidence(successCount, failureCount int) float64 {
	if successCount < 0 {
		successCount = 0
	}
	if failureCount < 0 {
		failureCount = 0
	}
	conf := (float64(successCount) + 1) / (float64(successCount+failureCount) + 2)
	if conf < 0.1 {
		conf = 0.1
	}
	return conf
}

var (
	rePunct  = regexp.MustCompile(`[^\p{L}\p{N}\s]+`)
	reDigits = regexp.MustCompile(`\p{N}+`)
	reSpaces = regexp.MustCompile(`\s+`)
)

// NormalizePattern reduces a raw query to the shape stored in long-term
// memory: lowercased, punctuation stripped, numbers collapsed to a
// placeholder so "pay invoice 4711" and "pay invoice 12" share one entry.
func NormalizePattern(query string) string {
	p := strings.ToLower(strings.TrimSpace(query))
	p = rePunct.ReplaceAllString(p, " ")
	p = reDigits.ReplaceAllString(p, "<num>")
	p = reSpaces.ReplaceAllString(p, " ")
	return strings.TrimSpace(p)
}

// BestMatch returns the stored entry whose pattern shares the most tokens
// with the normalized query, or nil when nothing overlaps. Used to bias
// analyzer/decomposer confidence with historical priors.
func BestMatch(entries []Entry, query string) *Entry {
	pattern := NormalizePattern(query)
	if pattern == "" || len(entries) == 0 {
		return nil
	}

	queryTokens := make(map[string]struct{})
	for _, tok := range strings.Fields(pattern) {
		queryTokens[tok] = struct{}{}
	}

	var best *Entry
	bestScore := 0
	for i := range entries {
		score := 0
		for _, tok := range strings.Fields(entries[i].Pattern) {
			if _, ok := queryTokens[tok]; ok {
				score++
			}
		}
		if score > bestScore {
			bestScore = score
			best = &entries[i]
		}
	}
	return best
}
