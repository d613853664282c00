package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sweetpotato0/taskpilot/llm"
)

// synthesizer merges per-step outputs into one coherent answer. Failed and
// skipped steps are always reported in the answer text itself, whether the
// narrative comes from the model or the deterministic merge; a partial
// failure is never silent.
type synthesizer struct {
	llm       llm.Client
	tokenizer llm.Tokenizer
	cfg       *Config
	logger    *slog.Logger
}

func newSynthesizer(client llm.Client, cfg *Config, logger *slog.Logger) *synthesizer {
	return &synthesizer{llm: client, tokenizer: cfg.Tokenizer, cfg: cfg, logger: logger}
}

// Synthesize builds the final answer. With no LLM the merge is a labeled
// concatenation of successful outputs. An LLM narrative failure returns a
// SynthesisError; the caller still holds every per-step result.
func (s *synthesizer) Synthesize(ctx context.Context, query string, steps []*Step, results map[string]*ExecutionResult) (string, error) {
	appendix := failureAppendix(steps, results)

	if s.llm == nil {
		return s.deterministic(steps, results) + appendix, nil
	}

	prompt := fmt.Sprintf(s.cfg.SynthesisPrompt, query, s.outputsForPrompt(steps, results))
	raw, err := s.llm.Complete(ctx, prompt)
	if err != nil {
		return "", &SynthesisError{Err: err}
	}
	answer := strings.TrimSpace(raw)
	if answer == "" {
		return "", &SynthesisError{Err: fmt.Errorf("model returned empty answer")}
	}
	return answer + appendix, nil
}

// Deterministic merges labeled successful outputs plus the appendix, used as
// the degraded answer when the narrative pass fails.
func (s *synthesizer) Deterministic(steps []*Step, results map[string]*ExecutionResult) string {
	return s.deterministic(steps, results) + failureAppendix(steps, results)
}

func (s *synthesizer) deterministic(steps []*Step, results map[string]*ExecutionResult) string {
	var b strings.Builder
	for _, st := range steps {
		res, ok := results[st.ID]
		if !ok || !res.Success {
			continue
		}
		out := strings.TrimSpace(res.Output)
		if out == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "[%s] %s", st.Tool, out)
	}
	if b.Len() == 0 {
		return "No results were produced."
	}
	return b.String()
}

// outputsForPrompt renders successful outputs for the synthesis prompt,
// trimming each one so the whole block stays inside the token budget.
func (s *synthesizer) outputsForPrompt(steps []*Step, results map[string]*ExecutionResult) string {
	succeeded := make([]*Step, 0, len(steps))
	for _, st := range steps {
		if res, ok := results[st.ID]; ok && res.Success && strings.TrimSpace(res.Output) != "" {
			succeeded = append(succeeded, st)
		}
	}
	if len(succeeded) == 0 {
		return "(no step produced output)"
	}

	perStep := s.cfg.PromptTokenBudget / len(succeeded)
	var b strings.Builder
	for _, st := range succeeded {
		out := s.truncate(strings.TrimSpace(results[st.ID].Output), perStep)
		fmt.Fprintf(&b, "### %s (%s)\n%s\n\n", st.ID, st.Tool, out)
	}
	return b.String()
}

// truncate cuts text to roughly the given token allowance. Without a
// tokenizer a four-bytes-per-token estimate is used.
func (s *synthesizer) truncate(text string, tokens int) string {
	if tokens <= 0 {
		return text
	}
	if s.tokenizer != nil {
		if s.tokenizer.CountTokens(text) <= tokens {
			return text
		}
	} else if len(text) <= tokens*4 {
		return text
	}

	limit := tokens * 4
	if limit >= len(text) {
		return text
	}
	s.logger.Debug("truncating step output for synthesis", "from", len(text), "to", limit)
	return text[:limit] + "\n[truncated]"
}

// failureAppendix lists every step that failed or was skipped. Empty when the
// whole plan succeeded.
func failureAppendix(steps []*Step, results map[string]*ExecutionResult) string {
	var lines []string
	for _, st := range steps {
		switch st.Status {
		case StepFailed:
			msg := st.Error
			if res, ok := results[st.ID]; ok && res.Error != "" {
				msg = res.Error
			}
			lines = append(lines, fmt.Sprintf("- %s (%s) failed: %s", st.ID, st.Tool, msg))
		case StepSkipped:
			lines = append(lines, fmt.Sprintf("- %s (%s) skipped: %s", st.ID, st.Tool, st.SkipReason))
		}
	}
	if len(lines) == 0 {
		return ""
	}
	return "\n\nNote: some steps did not complete:\n" + strings.Join(lines, "\n")
}
