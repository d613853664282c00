package engine

import (
	"log/slog"
	"regexp"
	"strings"

	"github.com/sweetpotato0/taskpilot/memory"
	"github.com/sweetpotato0/taskpilot/tool"
)

// analyzer classifies intent, domains, entities and complexity for a raw
// query. It is deliberately deterministic: pattern certainty and ambiguity
// signals drive the confidence score, and a total parse failure is not an
// error but a clarification-needed analysis with confidence 0.
type analyzer struct {
	registry *tool.Registry
	logger   *slog.Logger
}

func newAnalyzer(registry *tool.Registry, logger *slog.Logger) *analyzer {
	return &analyzer{registry: registry, logger: logger}
}

var intentKeywords = map[Intent][]string{
	IntentSearch:  {"find", "search", "show", "list", "get", "look up", "what", "when", "who", "check"},
	IntentCreate:  {"create", "add", "send", "schedule", "make", "draft", "set up", "book", "write"},
	IntentUpdate:  {"update", "change", "move", "reschedule", "rename", "edit", "mark"},
	IntentDelete:  {"delete", "remove", "cancel", "clear", "archive"},
	IntentAnalyze: {"summarize", "summarise", "analyze", "analyse", "compare", "review", "explain"},
}

// intentOrder fixes the precedence when several intent verbs appear: the
// mutating verbs win so the autonomy gate sees the riskiest interpretation.
var intentOrder = []Intent{IntentDelete, IntentUpdate, IntentCreate, IntentAnalyze, IntentSearch}

var (
	rePronoun   = regexp.MustCompile(`\b(it|them|that one|those|this one)\b`)
	reRecipient = regexp.MustCompile(`\bto\s+([A-Z][\w]*(?:\s+[A-Z][\w]*)?)`)
	reFromWho   = regexp.MustCompile(`\bfrom\s+([A-Z][\w]*(?:\s+[A-Z][\w]*)?)`)
	reAbout     = regexp.MustCompile(`\babout\s+(?:the\s+)?([\w-]+(?:\s+[\w-]+)?)`)
	reQuoted    = regexp.MustCompile(`"([^"]+)"|'([^']+)'`)
	reDate      = regexp.MustCompile(`(?i)\b(today|tomorrow|tonight|yesterday|monday|tuesday|wednesday|thursday|friday|saturday|sunday|next week|this week|\d{4}-\d{2}-\d{2})\b`)
)

// Analyze produces the QueryAnalysis for one request. memCtx may be nil.
func (a *analyzer) Analyze(query string, memCtx *memory.Context) *QueryAnalysis {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return &QueryAnalysis{
			Intent:     IntentClarify,
			Entities:   map[string]string{},
			Confidence: 0,
			Missing:    []string{"query"},
		}
	}

	lower := strings.ToLower(trimmed)
	intent, matched := detectIntent(lower)
	domains := a.detectDomains(lower)
	entities := extractEntities(trimmed, lower)
	multiStep := hasConnective(lower) || len(domains) > 1

	confidence := 0.5
	if matched {
		confidence = 0.9
	}

	// Ambiguity signals lower confidence: an unresolved pronoun caps the
	// score in the notice band, a missing required entity caps it below the
	// halt threshold so a mutating action cannot run on guesswork.
	if rePronoun.MatchString(lower) && !multiStep && len(entities) == 0 {
		confidence = minFloat(confidence, 0.55)
	}

	missing := missingEntities(intent, lower, entities)
	if len(missing) > 0 && intent.Mutating() {
		confidence = minFloat(confidence, 0.3)
	}

	// Historical priors nudge certainty for patterns that worked before.
	if memCtx != nil {
		if entry := memory.BestMatch(memCtx.Patterns, trimmed); entry != nil && string(intent) == entry.Intent {
			confidence = clamp01(confidence + 0.05*(entry.Confidence-0.5))
		}
	}

	analysis := &QueryAnalysis{
		Intent:     intent,
		Domains:    domains,
		Entities:   entities,
		MultiStep:  multiStep,
		Confidence: clamp01(confidence),
		Missing:    missing,
	}
	a.logger.Debug("query analyzed",
		"intent", string(analysis.Intent),
		"domains", strings.Join(domains, ","),
		"multi_step", multiStep,
		"confidence", analysis.Confidence,
	)
	return analysis
}

func detectIntent(lower string) (Intent, bool) {
	for _, intent := range intentOrder {
		for _, kw := range intentKeywords[intent] {
			if strings.Contains(lower, kw) {
				return intent, true
			}
		}
	}
	return IntentSearch, false
}

// detectDomains matches registered tool keywords against the query,
// preserving registry order so routing stays deterministic.
func (a *analyzer) detectDomains(lower string) []string {
	var domains []string
	for _, t := range a.registry.List() {
		for _, kw := range t.Keywords {
			if strings.Contains(lower, strings.ToLower(kw)) {
				domains = append(domains, t.Name)
				break
			}
		}
	}
	return domains
}

func extractEntities(raw, lower string) map[string]string {
	entities := make(map[string]string)
	if m := reDate.FindString(raw); m != "" {
		entities["date"] = m
	}
	if m := reFromWho.FindStringSubmatch(raw); len(m) > 1 {
		entities["person"] = m[1]
	}
	if m := reRecipient.FindStringSubmatch(raw); len(m) > 1 {
		entities["recipient"] = m[1]
	}
	if m := reQuoted.FindStringSubmatch(raw); len(m) > 1 {
		if m[1] != "" {
			entities["keyword"] = m[1]
		} else if len(m) > 2 {
			entities["keyword"] = m[2]
		}
	} else if m := reAbout.FindStringSubmatch(lower); len(m) > 1 {
		entities["keyword"] = m[1]
	}
	return entities
}

var (
	sendVerbs     = []string{"send", "reply", "forward", "draft"}
	scheduleVerbs = []string{"schedule", "book", "reschedule"}
)

// missingEntities lists the entities the detected intent needs but the query
// does not provide; these are named in clarification requests. Requirements
// key off the action verb, not the domain, so a mail lookup inside a compound
// request does not demand a recipient.
func missingEntities(intent Intent, lower string, entities map[string]string) []string {
	var missing []string
	if !intent.Mutating() {
		return missing
	}
	if containsAny(lower, sendVerbs) {
		if _, ok := entities["recipient"]; !ok {
			missing = append(missing, "recipient")
		}
	}
	if containsAny(lower, scheduleVerbs) {
		if _, ok := entities["date"]; !ok {
			missing = append(missing, "date")
		}
	}
	return missing
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
