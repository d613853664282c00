package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sweetpotato0/taskpilot/llm"
)

// reasoner produces the pre-execution justification for each step. Generation
// is time-bounded and falls back to a minimal heuristic entry on any failure,
// so execution is never stalled by an explanation step.
type reasoner struct {
	llm     llm.Client
	cfg     *Config
	logger  *slog.Logger
	entries []ReasoningEntry
}

func newReasoner(client llm.Client, cfg *Config, logger *slog.Logger) *reasoner {
	return &reasoner{llm: client, cfg: cfg, logger: logger}
}

type llmReasoning struct {
	ExpectedOutcome string   `json:"expected_outcome"`
	Alternatives    []string `json:"alternatives"`
	Confidence      float64  `json:"confidence"`
}

// Record appends one reasoning entry for the step, strictly in attempt order.
// Entries are never mutated after being written: they represent what was
// believed before seeing the result.
func (r *reasoner) Record(ctx context.Context, st *Step, analysis *QueryAnalysis) ReasoningEntry {
	entry := ReasoningEntry{
		StepID:          st.ID,
		Tool:            st.Tool,
		ExpectedOutcome: fmt.Sprintf("execute %s for: %s", st.Tool, st.SubQuery),
		Confidence:      r.cfg.DefaultReasoningConfidence,
		CreatedAt:       time.Now(),
	}

	if r.llm != nil {
		if generated, err := r.generate(ctx, st, analysis); err != nil {
			r.logger.Warn("reasoning fallback used",
				"step", st.ID,
				"error", (&ReasoningGenerationError{Stage: "reasoning", Err: err}).Error())
		} else {
			entry.ExpectedOutcome = generated.ExpectedOutcome
			entry.Alternatives = generated.Alternatives
			if generated.Confidence > 0 {
				entry.Confidence = clamp01(generated.Confidence)
			}
		}
	}

	r.entries = append(r.entries, entry)
	return entry
}

func (r *reasoner) generate(ctx context.Context, st *Step, analysis *QueryAnalysis) (*llmReasoning, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.ReasoningTimeout)
	defer cancel()

	prompt := fmt.Sprintf(r.cfg.ReasoningPrompt, st.Tool, st.SubQuery, string(analysis.Intent))
	raw, err := r.llm.Complete(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("reasoning completion: %w", err)
	}

	parsed, err := decodeJSON[llmReasoning](raw)
	if err != nil {
		return nil, fmt.Errorf("reasoning output invalid: %w", err)
	}
	if parsed.ExpectedOutcome == "" {
		return nil, fmt.Errorf("reasoning output missing expected outcome")
	}
	return parsed, nil
}

// Entries returns the append-only reasoning log in attempt order.
func (r *reasoner) Entries() []ReasoningEntry {
	return r.entries
}
