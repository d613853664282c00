package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sweetpotato0/taskpilot/event"
	"github.com/sweetpotato0/taskpilot/llm"
	"github.com/sweetpotato0/taskpilot/tool"
)

// refiner adjusts the pending remainder of a plan between waves. Deterministic
// rules run first and handle the common cases without a model call; the LLM
// pass is optional and strictly scoped to steps that have not started.
// Completed or running steps are never altered.
type refiner struct {
	registry *tool.Registry
	llm      llm.Client
	cfg      *Config
	sink     event.Sink
	logger   *slog.Logger
}

func newRefiner(registry *tool.Registry, client llm.Client, cfg *Config, sink event.Sink, logger *slog.Logger) *refiner {
	return &refiner{registry: registry, llm: client, cfg: cfg, sink: sink, logger: logger}
}

// Refine inspects results so far and prunes, adjusts or extends the pending
// remainder. It returns the possibly extended step list and whether anything
// changed, in which case the caller rebuilds the plan.
func (r *refiner) Refine(ctx context.Context, query string, steps []*Step, results map[string]*ExecutionResult) ([]*Step, bool) {
	changed := r.applyRules(steps, results)

	if r.llm != nil && r.pendingCount(steps) >= r.cfg.RefineMinSteps {
		var llmChanged bool
		steps, llmChanged = r.applyLLM(ctx, query, steps, results)
		changed = changed || llmChanged
	}
	return steps, changed
}

func (r *refiner) pendingCount(steps []*Step) int {
	n := 0
	for _, st := range steps {
		if st.Status == StepPending {
			n++
		}
	}
	return n
}

// applyRules handles the two unambiguous cases: a pending step whose
// dependency failed cannot run, and one whose dependency succeeded with no
// output has nothing to operate on. Both are skipped with an explicit reason.
func (r *refiner) applyRules(steps []*Step, results map[string]*ExecutionResult) bool {
	changed := false
	for _, st := range steps {
		if st.Status != StepPending {
			continue
		}
		for _, dep := range st.DependsOn {
			res, ok := results[dep]
			if !ok {
				continue
			}
			if !res.Success {
				r.skip(st, fmt.Sprintf("dependency %s failed", dep))
				changed = true
				break
			}
			if strings.TrimSpace(res.Output) == "" {
				r.skip(st, fmt.Sprintf("dependency %s produced no input data", dep))
				changed = true
				break
			}
		}
	}
	return changed
}

func (r *refiner) skip(st *Step, reason string) {
	st.Status = StepSkipped
	st.SkipReason = reason
	st.Refined = true
	r.logger.Info("step skipped by refiner", "step", st.ID, "reason", reason)

	ev := event.New(event.TypeRefinementApplied)
	ev.StepID = st.ID
	ev.Detail = reason
	r.sink.Emit(ev)
}

type llmRefinement struct {
	Actions []struct {
		Action string `json:"action"` // modify | skip | insert | reorder
		StepID string `json:"step_id"`
		Tool   string `json:"tool,omitempty"`
		Query  string `json:"query,omitempty"`
		Reason string `json:"reason,omitempty"`
	} `json:"actions"`
}

// applyLLM asks the model whether the pending steps still make sense given
// the results so far. Modify and skip act only on steps that are still
// pending; insert appends a new step depending on the step that motivated it,
// validated against the registry and the plan-size cap. Reorder proposals are
// logged but not applied. Anything else in the output is ignored.
func (r *refiner) applyLLM(ctx context.Context, query string, steps []*Step, results map[string]*ExecutionResult) ([]*Step, bool) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.ReasoningTimeout)
	defer cancel()

	prompt := fmt.Sprintf(r.cfg.RefinePrompt, query, summarizeProgress(steps, results), pendingSummary(steps))
	raw, err := r.llm.Complete(ctx, prompt)
	if err != nil {
		r.logger.Warn("refinement skipped",
			"error", (&ReasoningGenerationError{Stage: "refinement", Err: err}).Error())
		return steps, false
	}

	parsed, err := decodeJSON[llmRefinement](raw)
	if err != nil {
		r.logger.Warn("refinement skipped",
			"error", (&ReasoningGenerationError{Stage: "refinement", Err: err}).Error())
		return steps, false
	}

	byID := make(map[string]*Step, len(steps))
	for _, st := range steps {
		byID[st.ID] = st
	}

	changed := false
	for _, action := range parsed.Actions {
		switch action.Action {
		case "modify":
			st, ok := byID[action.StepID]
			if !ok || st.Status != StepPending {
				continue
			}
			if strings.TrimSpace(action.Query) == "" || action.Query == st.SubQuery {
				continue
			}
			st.SubQuery = action.Query
			st.Refined = true
			changed = true
			r.logger.Info("step modified by refiner", "step", st.ID)

			ev := event.New(event.TypeRefinementApplied)
			ev.StepID = st.ID
			ev.Detail = "sub-query rewritten"
			r.sink.Emit(ev)
		case "skip":
			st, ok := byID[action.StepID]
			if !ok || st.Status != StepPending {
				continue
			}
			reason := action.Reason
			if reason == "" {
				reason = "no longer needed"
			}
			r.skip(st, reason)
			changed = true
		case "insert":
			if len(steps) >= r.cfg.MaxPlanSteps {
				continue
			}
			motivating, ok := byID[action.StepID]
			if !ok {
				continue
			}
			if _, err := r.registry.Get(action.Tool); err != nil {
				continue
			}
			if strings.TrimSpace(action.Query) == "" {
				continue
			}
			st := &Step{
				ID:        nextStepID(byID),
				Tool:      action.Tool,
				SubQuery:  action.Query,
				DependsOn: []string{motivating.ID},
				Status:    StepPending,
				Refined:   true,
			}
			steps = append(steps, st)
			byID[st.ID] = st
			changed = true
			r.logger.Info("step inserted by refiner", "step", st.ID, "tool", st.Tool, "after", motivating.ID)

			ev := event.New(event.TypeRefinementApplied)
			ev.StepID = st.ID
			ev.Tool = st.Tool
			ev.Detail = "step inserted"
			r.sink.Emit(ev)
		case "reorder":
			// Recorded as a proposal only; the wave planner owns ordering.
			r.logger.Info("refiner proposed reordering", "reason", action.Reason)
		}
	}
	return steps, changed
}

// nextStepID picks the first unused step-N id.
func nextStepID(byID map[string]*Step) string {
	for n := len(byID) + 1; ; n++ {
		id := fmt.Sprintf("step-%d", n)
		if _, taken := byID[id]; !taken {
			return id
		}
	}
}

func summarizeProgress(steps []*Step, results map[string]*ExecutionResult) string {
	var b strings.Builder
	for _, st := range steps {
		res, ok := results[st.ID]
		if !ok {
			continue
		}
		if res.Success {
			fmt.Fprintf(&b, "%s (%s): ok, %d bytes of output\n", st.ID, st.Tool, len(res.Output))
		} else {
			fmt.Fprintf(&b, "%s (%s): failed: %s\n", st.ID, st.Tool, res.Error)
		}
	}
	return b.String()
}

func pendingSummary(steps []*Step) string {
	var b strings.Builder
	for _, st := range steps {
		if st.Status != StepPending {
			continue
		}
		fmt.Fprintf(&b, "%s (%s): %s", st.ID, st.Tool, st.SubQuery)
		if len(st.DependsOn) > 0 {
			fmt.Fprintf(&b, " [after %s]", strings.Join(st.DependsOn, ", "))
		}
		b.WriteByte('\n')
	}
	return b.String()
}
