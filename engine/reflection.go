package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sweetpotato0/taskpilot/llm"
)

// reflector is the terminal introspection stage: it scores how well the goal
// was met and extracts lessons worth remembering. Its verdict decides whether
// the run is recorded as a success or failure in pattern memory.
type reflector struct {
	llm    llm.Client
	cfg    *Config
	logger *slog.Logger
}

func newReflector(client llm.Client, cfg *Config, logger *slog.Logger) *reflector {
	return &reflector{llm: client, cfg: cfg, logger: logger}
}

// Reflect evaluates the finished run. Falls back to outcome counting when no
// LLM is configured or the model call fails.
func (r *reflector) Reflect(ctx context.Context, query string, steps []*Step, results map[string]*ExecutionResult, critique *CritiqueReport) *ReflectionReport {
	report := r.heuristic(steps, results)

	if r.llm == nil {
		return report
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.CritiqueTimeout)
	defer cancel()

	critiqueNote := ""
	if critique != nil && !critique.ApproachSound {
		critiqueNote = fmt.Sprintf("critique flagged %d mistakes", len(critique.Mistakes))
	}
	prompt := fmt.Sprintf(r.cfg.ReflectionPrompt, query, summarizeProgress(steps, results), critiqueNote)
	raw, err := r.llm.Complete(ctx, prompt)
	if err != nil {
		r.logger.Warn("reflection fallback used",
			"error", (&ReasoningGenerationError{Stage: "reflection", Err: err}).Error())
		return report
	}

	parsed, err := decodeJSON[ReflectionReport](raw)
	if err != nil {
		r.logger.Warn("reflection fallback used",
			"error", (&ReasoningGenerationError{Stage: "reflection", Err: err}).Error())
		return report
	}
	switch parsed.GoalAchieved {
	case "yes", "no", "partial":
	default:
		parsed.GoalAchieved = report.GoalAchieved
	}
	parsed.EfficiencyScore = clamp01(parsed.EfficiencyScore)
	return parsed
}

func (r *reflector) heuristic(steps []*Step, results map[string]*ExecutionResult) *ReflectionReport {
	total := 0
	succeeded := 0
	for _, st := range steps {
		if st.Status == StepSkipped {
			continue
		}
		total++
		if res, ok := results[st.ID]; ok && res.Success {
			succeeded++
		}
	}

	report := &ReflectionReport{GoalAchieved: "yes", EfficiencyScore: 1.0}
	switch {
	case total == 0 || succeeded == 0:
		report.GoalAchieved = "no"
		report.EfficiencyScore = 0
	case succeeded < total:
		report.GoalAchieved = "partial"
		report.EfficiencyScore = float64(succeeded) / float64(total)
		report.Lessons = []string{"some steps failed; consider alternative tools or tighter sub-queries"}
	}
	return report
}

// Succeeded reports whether the reflection verdict counts as a success for
// pattern memory. Partial achievement counts as success: the pattern routed
// correctly even if a tool misbehaved.
func (rep *ReflectionReport) Succeeded() bool {
	return rep.GoalAchieved == "yes" || rep.GoalAchieved == "partial"
}
