package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sweetpotato0/taskpilot/llm"
	"github.com/sweetpotato0/taskpilot/tool"
)

// decomposer splits a compound request into atomic steps with inferred
// dependencies. Pattern-based splitting runs first; the LLM fallback only
// kicks in when the splitter cannot confidently partition the query.
type decomposer struct {
	registry *tool.Registry
	llm      llm.Client
	cfg      *Config
	logger   *slog.Logger
}

func newDecomposer(registry *tool.Registry, client llm.Client, cfg *Config, logger *slog.Logger) *decomposer {
	return &decomposer{registry: registry, llm: client, cfg: cfg, logger: logger}
}

// connectives that reliably separate independent actions. Bare " and " is
// ambiguous and only splits when both sides carry their own action verb.
var connectives = []string{" and then ", ", then ", " then ", " after that, ", " after that ", "; "}

// referential markers meaning "the output of an earlier step".
var dependencyMarkers = []string{" it", " them", " those", " the result", " the results"}

// nouns each tool domain produces, used to tie "the email you found" back to
// the mail step that produced it.
var domainNouns = map[string][]string{
	"mail":     {"the email", "the emails", "the message", "the messages"},
	"calendar": {"the meeting", "the meetings", "the event", "the events"},
	"task":     {"the task", "the tasks"},
	"search":   {"the document", "the documents", "the notes"},
}

// Decompose turns the analyzed query into an ordered step list. A
// single-domain, single-action query degrades to exactly one dependency-free
// step with no extra machinery.
func (d *decomposer) Decompose(ctx context.Context, query string, analysis *QueryAnalysis) ([]*Step, error) {
	fragments := splitFragments(query)

	steps, ok := d.routeFragments(fragments)
	if !ok || (analysis.MultiStep && len(steps) == 1 && len(analysis.Domains) > 1) {
		llmSteps, err := d.decomposeLLM(ctx, query, analysis)
		if err != nil {
			d.logger.Warn("LLM decomposition failed, using pattern result",
				"error", (&ReasoningGenerationError{Stage: "decomposition", Err: err}).Error())
		} else {
			steps = llmSteps
		}
	}

	if len(steps) == 0 {
		name, ok := d.routeTool(query)
		if !ok {
			return nil, fmt.Errorf("no tool available to handle query")
		}
		steps = []*Step{{ID: "step-1", Tool: name, SubQuery: strings.TrimSpace(query), Status: StepPending}}
	}

	if len(steps) > d.cfg.MaxPlanSteps {
		steps = steps[:d.cfg.MaxPlanSteps]
		dropDanglingDeps(steps)
	}

	d.inferDependencies(steps)
	d.logger.Info("query decomposed", "steps", len(steps))
	return steps, nil
}

func hasConnective(lower string) bool {
	for _, c := range connectives {
		if strings.Contains(lower, c) {
			return true
		}
	}
	if idx := strings.Index(lower, " and "); idx > 0 {
		if containsActionVerb(lower[:idx]) && containsActionVerb(lower[idx+5:]) {
			return true
		}
	}
	return false
}

func containsActionVerb(fragment string) bool {
	for _, kws := range intentKeywords {
		for _, kw := range kws {
			if strings.Contains(fragment, kw) {
				return true
			}
		}
	}
	return false
}

// splitFragments cuts the query on multi-action connectives. Bare " and "
// splits only when both sides carry an action verb, which keeps noun
// conjunctions ("invoices and receipts") intact.
func splitFragments(query string) []string {
	fragments := []string{strings.TrimSpace(query)}
	for _, conn := range connectives {
		var next []string
		for _, frag := range fragments {
			lower := strings.ToLower(frag)
			if idx := strings.Index(lower, conn); idx >= 0 {
				next = append(next, strings.TrimSpace(frag[:idx]), strings.TrimSpace(frag[idx+len(conn):]))
			} else {
				next = append(next, frag)
			}
		}
		fragments = next
	}

	var result []string
	for _, frag := range fragments {
		lower := strings.ToLower(frag)
		idx := strings.Index(lower, " and ")
		if idx > 0 && containsActionVerb(lower[:idx]) && containsActionVerb(lower[idx+5:]) {
			result = append(result, strings.TrimSpace(frag[:idx]), strings.TrimSpace(frag[idx+5:]))
			continue
		}
		if frag != "" {
			result = append(result, frag)
		}
	}
	return result
}

// routeFragments assigns each fragment to a tool. Returns ok=false when any
// fragment cannot be routed, signalling the LLM fallback.
func (d *decomposer) routeFragments(fragments []string) ([]*Step, bool) {
	steps := make([]*Step, 0, len(fragments))
	for i, frag := range fragments {
		name, ok := d.routeTool(frag)
		if !ok {
			return nil, false
		}
		steps = append(steps, &Step{
			ID:       fmt.Sprintf("step-%d", i+1),
			Tool:     name,
			SubQuery: frag,
			Status:   StepPending,
		})
	}
	return steps, true
}

// routeTool picks the registered tool whose keywords best match the fragment,
// falling back to the configured default tool.
func (d *decomposer) routeTool(fragment string) (string, bool) {
	lower := strings.ToLower(fragment)
	best := ""
	bestScore := 0
	for _, t := range d.registry.List() {
		score := 0
		for _, kw := range t.Keywords {
			if strings.Contains(lower, strings.ToLower(kw)) {
				score++
			}
		}
		if score > bestScore {
			best = t.Name
			bestScore = score
		}
	}
	if best != "" {
		return best, true
	}
	if d.cfg.DefaultTool != "" {
		if _, err := d.registry.Get(d.cfg.DefaultTool); err == nil {
			return d.cfg.DefaultTool, true
		}
	}
	return "", false
}

// inferDependencies links steps that consume an earlier step's output. A step
// referencing "it"/"them"/"the results" depends on its predecessor; a step
// naming a noun only an earlier domain produces ("the email you found")
// depends on that producing step. Steps without such coupling stay
// dependency-free and thus parallel-eligible.
func (d *decomposer) inferDependencies(steps []*Step) {
	for i := 1; i < len(steps); i++ {
		lower := strings.ToLower(steps[i].SubQuery)

		depID := ""
		for domain, nouns := range domainNouns {
			for _, noun := range nouns {
				if !strings.Contains(lower, noun) {
					continue
				}
				for j := i - 1; j >= 0; j-- {
					if strings.Contains(steps[j].Tool, domain) {
						depID = steps[j].ID
						break
					}
				}
			}
		}
		if depID == "" {
			for _, marker := range dependencyMarkers {
				if strings.Contains(lower, marker) {
					depID = steps[i-1].ID
					break
				}
			}
		}
		if depID != "" && !containsString(steps[i].DependsOn, depID) {
			steps[i].DependsOn = append(steps[i].DependsOn, depID)
		}
	}
}

type llmDecomposition struct {
	Steps []struct {
		ID        string   `json:"id"`
		Tool      string   `json:"tool"`
		Query     string   `json:"query"`
		DependsOn []string `json:"depends_on"`
	} `json:"steps"`
}

// decomposeLLM asks the model for a decomposition constrained to one step per
// tool domain touched. Output tools are validated against the registry.
func (d *decomposer) decomposeLLM(ctx context.Context, query string, analysis *QueryAnalysis) ([]*Step, error) {
	if d.llm == nil {
		return nil, fmt.Errorf("no LLM client configured")
	}

	ctx, cancel := context.WithTimeout(ctx, d.cfg.ReasoningTimeout)
	defer cancel()

	prompt := fmt.Sprintf(d.cfg.DecomposePrompt,
		strings.Join(d.registry.Names(), ", "), d.cfg.MaxPlanSteps, query)
	raw, err := d.llm.Complete(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("decomposition completion: %w", err)
	}

	parsed, err := decodeJSON[llmDecomposition](raw)
	if err != nil {
		return nil, fmt.Errorf("decomposition output invalid: %w", err)
	}
	if len(parsed.Steps) == 0 {
		return nil, fmt.Errorf("decomposition produced no steps")
	}

	steps := make([]*Step, 0, len(parsed.Steps))
	for i, s := range parsed.Steps {
		if _, err := d.registry.Get(s.Tool); err != nil {
			return nil, fmt.Errorf("decomposition routed to unknown tool %s", s.Tool)
		}
		id := s.ID
		if id == "" {
			id = fmt.Sprintf("step-%d", i+1)
		}
		steps = append(steps, &Step{
			ID:        id,
			Tool:      s.Tool,
			SubQuery:  s.Query,
			DependsOn: s.DependsOn,
			Status:    StepPending,
		})
	}
	return steps, nil
}

// dropDanglingDeps removes dependencies on steps no longer in the list. After
// truncating an oversized decomposition, a kept step may reference a dropped
// one; keeping that edge would turn model overproduction into a planning
// failure.
func dropDanglingDeps(steps []*Step) {
	kept := make(map[string]struct{}, len(steps))
	for _, st := range steps {
		kept[st.ID] = struct{}{}
	}
	for _, st := range steps {
		var deps []string
		for _, dep := range st.DependsOn {
			if _, ok := kept[dep]; ok {
				deps = append(deps, dep)
			}
		}
		st.DependsOn = deps
	}
}

func containsString(list []string, value string) bool {
	for _, v := range list {
		if v == value {
			return true
		}
	}
	return false
}
