package engine

import (
	"fmt"
	"strings"
)

// PlanningError reports cyclic or unsatisfiable step dependencies. It is
// fatal and non-retryable; the caller sees it as a malformed request.
type PlanningError struct {
	Reason string
	Steps  []string // Step ids involved, when known
}

func (e *PlanningError) Error() string {
	if len(e.Steps) == 0 {
		return fmt.Sprintf("planning error: %s", e.Reason)
	}
	return fmt.Sprintf("planning error: %s (steps: %s)", e.Reason, strings.Join(e.Steps, ", "))
}

// ToolExecutionError records a single step's tool-call failure after retries
// were exhausted. It is absorbed onto the step and never escapes to the
// caller; execution continues with the next runnable step.
type ToolExecutionError struct {
	StepID   string
	Tool     string
	Attempts int
	Err      error
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("step %s: tool %s failed after %d attempts: %v", e.StepID, e.Tool, e.Attempts, e.Err)
}

func (e *ToolExecutionError) Unwrap() error { return e.Err }

// ReasoningGenerationError marks an explanation/critique/reflection call that
// failed or returned unparsable output. Always recovered locally via a
// heuristic fallback; never propagated to the caller.
type ReasoningGenerationError struct {
	Stage string // reasoning | refinement | critique | reflection
	Err   error
}

func (e *ReasoningGenerationError) Error() string {
	return fmt.Sprintf("%s generation failed: %v", e.Stage, e.Err)
}

func (e *ReasoningGenerationError) Unwrap() error { return e.Err }

// SynthesisError is the one hard failure of a whole request: the final merge
// could not be produced. It carries the raw per-step results so no work is
// silently lost.
type SynthesisError struct {
	Err error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("synthesis failed: %v", e.Err)
}

func (e *SynthesisError) Unwrap() error { return e.Err }
