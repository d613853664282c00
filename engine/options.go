package engine

import (
	"time"

	"github.com/sweetpotato0/taskpilot/event"
	"github.com/sweetpotato0/taskpilot/llm"
	"github.com/sweetpotato0/taskpilot/memory"
)

// Config carries every tunable of the engine. Zero values are filled from
// defaultConfig; callers adjust via With* options.
type Config struct {
	// Name labels the engine in logs and trace spans.
	Name string

	// Autonomy gate thresholds. A mutating step executes unprompted at or
	// above AutoThreshold, executes with a notice between NoticeThreshold and
	// AutoThreshold, and halts below NoticeThreshold. ConfirmMediumRisk turns
	// the middle band into a halt as well.
	AutoThreshold     float64
	NoticeThreshold   float64
	ConfirmMediumRisk bool

	// MemoryWeight is the share of gate confidence taken from pattern memory
	// when a matching entry exists.
	MemoryWeight float64

	// Step execution.
	MaxAttempts  int
	RetryBackoff time.Duration
	ToolTimeout  time.Duration
	MaxParallel  int

	// Generation bounds.
	ReasoningTimeout time.Duration
	CritiqueTimeout  time.Duration

	// Planning.
	MaxPlanSteps        int
	RefineMinSteps      int
	GraphMaxVisits      int
	DefaultTool         string
	StepLatencyEstimate time.Duration

	// Synthesis.
	PromptTokenBudget int
	Tokenizer         llm.Tokenizer

	// Reasoning.
	DefaultReasoningConfidence float64

	// Introspection stages.
	EnableCritic     bool
	EnableReflection bool

	// Prompt templates. Each is a fmt format string; see defaultConfig for
	// the argument order.
	DecomposePrompt  string
	ReasoningPrompt  string
	RefinePrompt     string
	CritiquePrompt   string
	ReflectionPrompt string
	SynthesisPrompt  string

	store memory.Store
	sink  event.Sink
}

// Option mutates the engine configuration.
type Option func(*Config)

func defaultConfig() *Config {
	return &Config{
		Name:              "taskpilot",
		AutoThreshold:     0.7,
		NoticeThreshold:   0.4,
		ConfirmMediumRisk: false,
		MemoryWeight:      0.3,

		MaxAttempts:  3,
		RetryBackoff: 200 * time.Millisecond,
		ToolTimeout:  30 * time.Second,
		MaxParallel:  1,

		ReasoningTimeout: 10 * time.Second,
		CritiqueTimeout:  15 * time.Second,

		MaxPlanSteps:        8,
		RefineMinSteps:      2,
		GraphMaxVisits:      20,
		DefaultTool:         "search",
		StepLatencyEstimate: 2 * time.Second,

		PromptTokenBudget: 3000,

		DefaultReasoningConfidence: 0.5,

		EnableCritic:     true,
		EnableReflection: true,

		DecomposePrompt: `Split the user request into atomic steps, one tool call each.
Available tools: %s. Use at most %d steps.
Respond with JSON only: {"steps":[{"id":"step-1","tool":"...","query":"...","depends_on":[]}]}

Request: %s`,

		ReasoningPrompt: `Before running tool %q on sub-query %q (intent: %s), state what you expect.
Respond with JSON only: {"expected_outcome":"...","alternatives":["..."],"confidence":0.0}`,

		RefinePrompt: `A multi-step plan is partially executed.
Original request: %s
Completed so far:
%s
Still pending:
%s
If any pending step should change, be dropped, or a new step is needed given the results, respond with JSON:
{"actions":[{"action":"modify|skip|insert","step_id":"...","tool":"...","query":"...","reason":"..."}]}
For insert, step_id names the existing step the new step depends on and tool must be a registered tool.
Respond {"actions":[]} if the plan is still right.`,

		CritiquePrompt: `Review this finished run critically.
Request: %s
Steps and outcomes:
%s
Respond with JSON only: {"approach_sound":true,"mistakes":[],"wrong_assumptions":[],"better_approach":"","rating":0.0}`,

		ReflectionPrompt: `Judge whether the user's goal was achieved.
Request: %s
Steps and outcomes:
%s
%s
Respond with JSON only: {"goal_achieved":"yes|no|partial","efficiency_score":0.0,"lessons":[]}`,

		SynthesisPrompt: `Write one coherent answer to the user's request from the step outputs below.
Do not invent information that is not in the outputs.

Request: %s

Outputs:
%s`,
	}
}

func applyOptions(opts ...Option) *Config {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// WithName sets the engine label used in logs and spans.
func WithName(name string) Option {
	return func(c *Config) { c.Name = name }
}

// WithThresholds sets the autonomy gate bands. Values outside [0,1] or an
// inverted pair are ignored.
func WithThresholds(auto, notice float64) Option {
	return func(c *Config) {
		if auto < notice || notice < 0 || auto > 1 {
			return
		}
		c.AutoThreshold = auto
		c.NoticeThreshold = notice
	}
}

// WithConfirmMediumRisk makes the gate halt, not notify, in the middle
// confidence band.
func WithConfirmMediumRisk(confirm bool) Option {
	return func(c *Config) { c.ConfirmMediumRisk = confirm }
}

// WithMemoryWeight sets the pattern-memory share of gate confidence.
func WithMemoryWeight(w float64) Option {
	return func(c *Config) {
		if w >= 0 && w <= 1 {
			c.MemoryWeight = w
		}
	}
}

// WithRetry sets the per-step attempt ceiling and the initial backoff, which
// doubles on every retry.
func WithRetry(attempts int, backoff time.Duration) Option {
	return func(c *Config) {
		if attempts > 0 {
			c.MaxAttempts = attempts
		}
		if backoff > 0 {
			c.RetryBackoff = backoff
		}
	}
}

// WithToolTimeout bounds each individual tool call.
func WithToolTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.ToolTimeout = d
		}
	}
}

// WithMaxParallel sets the wave worker pool size. 1 keeps execution strictly
// sequential.
func WithMaxParallel(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.MaxParallel = n
		}
	}
}

// WithMaxPlanSteps caps how many steps a decomposition may produce.
func WithMaxPlanSteps(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.MaxPlanSteps = n
		}
	}
}

// WithDefaultTool names the tool that handles fragments no keyword matches.
func WithDefaultTool(name string) Option {
	return func(c *Config) { c.DefaultTool = name }
}

// WithTokenizer sets the token counter used to bound synthesis prompts.
func WithTokenizer(t llm.Tokenizer) Option {
	return func(c *Config) { c.Tokenizer = t }
}

// WithPromptTokenBudget caps the synthesis prompt size in tokens.
func WithPromptTokenBudget(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.PromptTokenBudget = n
		}
	}
}

// WithCritic toggles the post-execution self-critique stage.
func WithCritic(enabled bool) Option {
	return func(c *Config) { c.EnableCritic = enabled }
}

// WithReflection toggles the terminal reflection stage.
func WithReflection(enabled bool) Option {
	return func(c *Config) { c.EnableReflection = enabled }
}

// WithMemoryStore attaches a persistent memory backend. Without one the
// engine runs stateless: no conversation context, no pattern learning.
func WithMemoryStore(store memory.Store) Option {
	return func(c *Config) { c.store = store }
}

// WithEventSink attaches a progress event consumer.
func WithEventSink(sink event.Sink) Option {
	return func(c *Config) { c.sink = sink }
}
