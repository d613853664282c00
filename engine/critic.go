package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sweetpotato0/taskpilot/llm"
)

// critic reviews a finished run and reports on the quality of the approach.
// The report is advisory: it travels with the response and feeds reflection,
// but never re-triggers execution. Without an LLM the critique degrades to a
// deterministic summary of the failure rate.
type critic struct {
	llm    llm.Client
	cfg    *Config
	logger *slog.Logger
}

func newCritic(client llm.Client, cfg *Config, logger *slog.Logger) *critic {
	return &critic{llm: client, cfg: cfg, logger: logger}
}

// Critique assesses the completed plan against its results.
func (c *critic) Critique(ctx context.Context, query string, steps []*Step, results map[string]*ExecutionResult) *CritiqueReport {
	report := c.heuristic(steps, results)

	if c.llm == nil {
		return report
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.CritiqueTimeout)
	defer cancel()

	prompt := fmt.Sprintf(c.cfg.CritiquePrompt, query, summarizeProgress(steps, results))
	raw, err := c.llm.Complete(ctx, prompt)
	if err != nil {
		c.logger.Warn("critique fallback used",
			"error", (&ReasoningGenerationError{Stage: "critique", Err: err}).Error())
		return report
	}

	parsed, err := decodeJSON[CritiqueReport](raw)
	if err != nil {
		c.logger.Warn("critique fallback used",
			"error", (&ReasoningGenerationError{Stage: "critique", Err: err}).Error())
		return report
	}
	parsed.Rating = clamp01(parsed.Rating)
	return parsed
}

// heuristic grades the run purely on outcomes: all steps succeeding is a
// sound approach, anything else lists the failures as mistakes.
func (c *critic) heuristic(steps []*Step, results map[string]*ExecutionResult) *CritiqueReport {
	total := 0
	succeeded := 0
	var mistakes []string
	for _, st := range steps {
		if st.Status == StepSkipped {
			continue
		}
		total++
		if res, ok := results[st.ID]; ok && res.Success {
			succeeded++
			continue
		}
		mistakes = append(mistakes, fmt.Sprintf("step %s (%s) did not complete: %s",
			st.ID, st.Tool, strings.TrimSpace(st.Error)))
	}

	rating := 1.0
	if total > 0 {
		rating = float64(succeeded) / float64(total)
	}
	return &CritiqueReport{
		ApproachSound: len(mistakes) == 0,
		Mistakes:      mistakes,
		Rating:        rating,
	}
}
