package engine

import "time"

// Intent classifies what the user wants done.
type Intent string

const (
	IntentSearch  Intent = "search"
	IntentCreate  Intent = "create"
	IntentUpdate  Intent = "update"
	IntentDelete  Intent = "delete"
	IntentAnalyze Intent = "analyze"
	IntentClarify Intent = "clarification_needed"
)

// Mutating reports whether the intent performs an irreversible action and is
// therefore subject to the autonomy gate.
func (i Intent) Mutating() bool {
	switch i {
	case IntentCreate, IntentUpdate, IntentDelete:
		return true
	}
	return false
}

// Request is the immutable per-invocation context.
type Request struct {
	Query      string `json:"query"`
	SessionID  string `json:"session_id"`
	Caller     string `json:"caller,omitempty"`
	MaxResults int    `json:"max_results,omitempty"`
}

// QueryAnalysis is derived once per request and feeds the decomposer and the
// autonomy gate. It is never mutated after creation.
type QueryAnalysis struct {
	Intent     Intent            `json:"intent"`
	Domains    []string          `json:"domains"`
	Entities   map[string]string `json:"entities"`
	MultiStep  bool              `json:"multi_step"`
	Confidence float64           `json:"confidence"`
	Missing    []string          `json:"missing,omitempty"` // Required entities absent for the detected intent
}

// StepStatus tracks a step's lifecycle.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepSucceeded StepStatus = "succeeded"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// Done reports whether the step reached a terminal state.
func (s StepStatus) Done() bool {
	return s == StepSucceeded || s == StepFailed || s == StepSkipped
}

// Step is one atomic tool invocation derived from decomposing the request.
// Steps are mutated in place by the executor and refiner but never removed;
// skipped steps keep their reason so audit trails stay intact.
type Step struct {
	ID         string     `json:"id"`
	Tool       string     `json:"tool"`
	SubQuery   string     `json:"sub_query"`
	DependsOn  []string   `json:"depends_on,omitempty"`
	Status     StepStatus `json:"status"`
	Result     string     `json:"result,omitempty"`
	Error      string     `json:"error,omitempty"`
	SkipReason string     `json:"skip_reason,omitempty"`
	Refined    bool       `json:"refined,omitempty"` // Set when the refiner modified this step
}

// Plan is the dependency-ordered, wave-grouped view over a step set. Steps in
// the same wave have no mutual dependency and are parallel-eligible.
type Plan struct {
	Order     []string      `json:"order"`
	Waves     [][]string    `json:"waves"`
	Estimated time.Duration `json:"estimated"`
}

// ReasoningEntry records what was believed before a step executed. Entries are
// append-only in step attempt order and never mutated afterwards.
type ReasoningEntry struct {
	StepID          string    `json:"step_id"`
	Tool            string    `json:"tool"`
	ExpectedOutcome string    `json:"expected_outcome"`
	Alternatives    []string  `json:"alternatives,omitempty"`
	Confidence      float64   `json:"confidence"`
	CreatedAt       time.Time `json:"created_at"`
}

// ExecutionResult is the recorded outcome of one step, keyed by step id.
type ExecutionResult struct {
	StepID  string        `json:"step_id"`
	Success bool          `json:"success"`
	Output  string        `json:"output,omitempty"`
	Error   string        `json:"error,omitempty"`
	Latency time.Duration `json:"latency"`
}

// CritiqueReport is the post-execution self-assessment. Advisory only; it
// never re-triggers execution.
type CritiqueReport struct {
	ApproachSound    bool     `json:"approach_sound"`
	Mistakes         []string `json:"mistakes,omitempty"`
	WrongAssumptions []string `json:"wrong_assumptions,omitempty"`
	BetterApproach   string   `json:"better_approach,omitempty"`
	Rating           float64  `json:"rating"`
}

// ReflectionReport scores goal achievement and extracts lessons for
// long-term memory. Terminal artifact before persisting outcomes.
type ReflectionReport struct {
	GoalAchieved    string   `json:"goal_achieved"` // yes | no | partial
	EfficiencyScore float64  `json:"efficiency_score"`
	Lessons         []string `json:"lessons,omitempty"`
}

// Response is what the caller receives: one coherent answer plus the full
// audit trail of the run.
type Response struct {
	Answer             string                      `json:"answer"`
	Success            bool                        `json:"success"`
	Notice             string                      `json:"notice,omitempty"` // Set when a medium-confidence mutating step ran
	NeedsClarification bool                        `json:"needs_clarification,omitempty"`
	Missing            []string                    `json:"missing,omitempty"`
	Analysis           *QueryAnalysis              `json:"analysis,omitempty"`
	Plan               *Plan                       `json:"plan,omitempty"`
	Steps              []*Step                     `json:"steps,omitempty"`
	Results            map[string]*ExecutionResult `json:"results,omitempty"`
	Reasoning          []ReasoningEntry            `json:"reasoning,omitempty"`
	Critique           *CritiqueReport             `json:"critique,omitempty"`
	Reflection         *ReflectionReport           `json:"reflection,omitempty"`
}
