package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sweetpotato0/taskpilot/event"
	"github.com/sweetpotato0/taskpilot/graph"
	"github.com/sweetpotato0/taskpilot/llm"
	"github.com/sweetpotato0/taskpilot/memory"
	"github.com/sweetpotato0/taskpilot/pkg/logging"
	"github.com/sweetpotato0/taskpilot/pkg/telemetry"
	"github.com/sweetpotato0/taskpilot/tool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const stateKey = "run"

// Engine drives one request through analyze, decompose, plan, execute,
// refine, critique, synthesize and reflect. Each request gets fresh run
// state; the only state shared across requests is the memory store.
type Engine struct {
	registry *tool.Registry
	llm      llm.Client
	cfg      *Config

	analyzer    *analyzer
	decomposer  *decomposer
	planner     *planner
	gate        *autonomyGate
	executor    *stepExecutor
	refiner     *refiner
	critic      *critic
	reflector   *reflector
	synthesizer *synthesizer

	flow   *graph.Graph
	logger *slog.Logger
	tracer trace.Tracer
}

// runState is the per-request mutable state threaded through the flow graph.
type runState struct {
	req         Request
	memCtx      *memory.Context
	memEntry    *memory.Entry
	analysis    *QueryAnalysis
	steps       []*Step
	plan        *Plan
	results     map[string]*ExecutionResult
	reasoner    *reasoner
	critique    *CritiqueReport
	reflect     *ReflectionReport
	notice      string
	answer      string
	halted      bool
	gateHalt    bool
	haltMissing []string
	synthErr    error
}

// New builds an engine over the given tool registry. client may be nil, in
// which case every generation stage degrades to its deterministic fallback.
func New(registry *tool.Registry, client llm.Client, opts ...Option) *Engine {
	cfg := applyOptions(opts...)
	logger := logging.WithComponent("engine")
	if cfg.sink == nil {
		cfg.sink = event.NopSink{}
	}

	e := &Engine{
		registry: registry,
		llm:      client,
		cfg:      cfg,
		logger:   logger,
		tracer:   otel.Tracer("taskpilot/engine"),
	}
	e.analyzer = newAnalyzer(registry, logger)
	e.decomposer = newDecomposer(registry, client, cfg, logger)
	e.planner = newPlanner(cfg, logger)
	e.gate = newAutonomyGate(cfg, logger)
	e.executor = newStepExecutor(registry, cfg, cfg.sink, e.tracer, logger)
	e.refiner = newRefiner(registry, client, cfg, cfg.sink, logger)
	e.critic = newCritic(client, cfg, logger)
	e.reflector = newReflector(client, cfg, logger)
	e.synthesizer = newSynthesizer(client, cfg, logger)
	e.flow = e.buildFlow()
	return e
}

func run(state graph.State) *runState {
	return state[stateKey].(*runState)
}

// buildFlow wires the request pipeline. The gate condition sits between
// analysis and decomposition so a low-confidence mutating request never
// reaches planning; introspection stages branch off before synthesis.
func (e *Engine) buildFlow() *graph.Graph {
	b := graph.NewBuilder()

	b.AddNode("analyze", graph.NodeTypeStart, e.analyzeNode)
	b.AddConditionNode("gate", e.gateCondition, map[string]string{
		"proceed": "decompose",
		"halt":    "clarify",
	})
	b.AddNode("decompose", graph.NodeTypeCustom, e.decomposeNode)
	b.AddNode("plan", graph.NodeTypeCustom, e.planNode)
	b.AddNode("execute", graph.NodeTypeCustom, e.executeNode)
	b.AddConditionNode("critique_gate", e.critiqueCondition, map[string]string{
		"critique":   "critique",
		"synthesize": "synthesize",
		"clarify":    "clarify",
	})
	b.AddNode("critique", graph.NodeTypeCustom, e.critiqueNode)
	b.AddNode("synthesize", graph.NodeTypeCustom, e.synthesizeNode)
	b.AddNode("reflect", graph.NodeTypeEnd, e.reflectNode)
	b.AddNode("clarify", graph.NodeTypeEnd, e.clarifyNode)

	b.AddEdge("analyze", "gate")
	b.AddEdge("decompose", "plan")
	b.AddEdge("plan", "execute")
	b.AddEdge("execute", "critique_gate")
	b.AddEdge("critique", "synthesize")
	b.AddEdge("synthesize", "reflect")

	b.SetStart("analyze")
	b.SetMaxVisits(e.cfg.GraphMaxVisits)
	return b.Build()
}

// Run processes one request end to end. The returned response is non-nil
// whenever any per-step work completed, even alongside a SynthesisError or a
// cancellation, so partial results are never lost.
func (e *Engine) Run(ctx context.Context, req Request) (*Response, error) {
	ctx, span := e.tracer.Start(ctx, "engine.run",
		trace.WithAttributes(
			attribute.String("engine.name", e.cfg.Name),
			attribute.String("session.id", req.SessionID),
		))
	ctx = tool.WithMaxResults(ctx, req.MaxResults)

	rs := &runState{
		req:      req,
		results:  make(map[string]*ExecutionResult),
		reasoner: newReasoner(e.llm, e.cfg, e.logger),
	}

	state, err := e.flow.Execute(ctx, graph.State{stateKey: rs})
	if err != nil {
		telemetry.End(span, err)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			// Cancellation only stops scheduling; whatever already ran is
			// surfaced alongside the error.
			resp := e.buildResponse(rs)
			resp.Success = false
			if resp.Answer == "" {
				resp.Answer = e.synthesizer.Deterministic(rs.steps, rs.results)
			}
			return resp, err
		}
		return nil, err
	}
	rs = run(state)

	resp := e.buildResponse(rs)
	e.persist(ctx, rs, resp)

	ev := event.New(event.TypeResponseReady)
	ev.Success = resp.Success
	e.cfg.sink.Emit(ev)

	telemetry.End(span, rs.synthErr)
	return resp, rs.synthErr
}

func (e *Engine) analyzeNode(ctx context.Context, state graph.State) (graph.State, error) {
	rs := run(state)

	if e.cfg.store != nil {
		memCtx, err := e.cfg.store.GetContext(ctx, rs.req.SessionID)
		if err != nil {
			e.logger.Warn("memory context unavailable", "error", err)
		} else {
			rs.memCtx = memCtx
		}
	}

	rs.analysis = e.analyzer.Analyze(rs.req.Query, rs.memCtx)
	if rs.memCtx != nil {
		rs.memEntry = memory.BestMatch(rs.memCtx.Patterns, rs.req.Query)
	}
	return state, nil
}

// gateCondition decides whether the request may proceed at all. Requests with
// a mutating intent go through the autonomy gate up front so low-confidence
// ones halt before any planning; requests whose intent looks read-only still
// get a per-step gate check in executeNode, since the classifier can miss a
// verb that routing later sends to a mutating tool.
func (e *Engine) gateCondition(_ context.Context, state graph.State) (string, error) {
	rs := run(state)

	if rs.analysis.Intent == IntentClarify {
		return "halt", nil
	}
	if !rs.analysis.Intent.Mutating() {
		return "proceed", nil
	}

	decision, confidence := e.gate.Assess(rs.analysis, rs.memEntry)
	switch decision {
	case DecisionHalt:
		return "halt", nil
	case DecisionNotify:
		rs.notice = fmt.Sprintf(
			"Proceeding with a %s action at %.0f%% confidence; review the result.",
			rs.analysis.Intent, confidence*100)
	}
	return "proceed", nil
}

func (e *Engine) decomposeNode(ctx context.Context, state graph.State) (graph.State, error) {
	rs := run(state)

	e.cfg.sink.Emit(event.New(event.TypePlanningStarted))

	steps, err := e.decomposer.Decompose(ctx, rs.req.Query, rs.analysis)
	if err != nil {
		return nil, err
	}
	rs.steps = steps
	return state, nil
}

func (e *Engine) planNode(_ context.Context, state graph.State) (graph.State, error) {
	rs := run(state)

	plan, err := e.planner.BuildPlan(rs.steps)
	if err != nil {
		return nil, err
	}
	rs.plan = plan
	return state, nil
}

// executeNode drains the plan wave by wave. Before a wave is dispatched,
// every step routed to a mutating tool is assessed by the autonomy gate
// individually; the request-level gate can be bypassed by a misclassified
// intent, the per-step check cannot. Reasoning entries are recorded
// sequentially before each wave is dispatched, so the reasoning log order
// matches attempt order even under a parallel pool. After each wave the
// refiner may prune, rewrite or extend the remainder, which triggers a
// replan over the pending steps.
func (e *Engine) executeNode(ctx context.Context, state graph.State) (graph.State, error) {
	rs := run(state)

	byID := make(map[string]*Step, len(rs.steps))
	for _, st := range rs.steps {
		byID[st.ID] = st
	}

	for waveIdx := 0; waveIdx < len(rs.plan.Waves); waveIdx++ {
		if err := ctx.Err(); err != nil {
			return state, err
		}

		var wave []*Step
		for _, id := range rs.plan.Waves[waveIdx] {
			st := byID[id]
			if st.Status == StepPending {
				wave = append(wave, st)
			}
		}
		if len(wave) == 0 {
			continue
		}

		for _, st := range wave {
			if !e.gateStep(rs, st) {
				return state, nil
			}
		}

		for _, st := range wave {
			rs.reasoner.Record(ctx, st, rs.analysis)
		}
		e.executor.RunWave(ctx, wave, rs.results)

		remaining := false
		for _, st := range rs.steps {
			if st.Status == StepPending {
				remaining = true
				break
			}
		}
		if !remaining {
			break
		}

		if steps, changed := e.refiner.Refine(ctx, rs.req.Query, rs.steps, rs.results); changed {
			rs.steps = steps
			for _, st := range rs.steps {
				byID[st.ID] = st
			}
			plan, err := e.planner.BuildPlan(rs.steps)
			if err != nil {
				return nil, err
			}
			rs.plan.Waves = append(rs.plan.Waves[:waveIdx+1], plan.Waves...)
			rs.plan.Order = rebuildOrder(rs.plan.Waves)
		}
	}
	return state, nil
}

// gateStep consults the autonomy gate for one step when its tool mutates
// state. It returns false when the gate halts, in which case the flow
// terminates with a clarification and no further step is scheduled.
func (e *Engine) gateStep(rs *runState, st *Step) bool {
	if !e.registry.IsMutating(st.Tool) {
		return true
	}

	decision, confidence := e.gate.Assess(rs.analysis, rs.memEntry)
	switch decision {
	case DecisionHalt:
		rs.gateHalt = true
		rs.haltMissing = []string{fmt.Sprintf("confirmation to run the %s action", st.Tool)}
		e.logger.Warn("mutating step blocked by autonomy gate",
			"step", st.ID, "tool", st.Tool, "confidence", confidence)
		return false
	case DecisionNotify:
		if rs.notice == "" {
			rs.notice = fmt.Sprintf(
				"Proceeding with the %s action at %.0f%% confidence; review the result.",
				st.Tool, confidence*100)
		}
	}
	return true
}

func rebuildOrder(waves [][]string) []string {
	var order []string
	for _, w := range waves {
		order = append(order, w...)
	}
	return order
}

func (e *Engine) critiqueCondition(_ context.Context, state graph.State) (string, error) {
	if run(state).gateHalt {
		return "clarify", nil
	}
	if e.cfg.EnableCritic {
		return "critique", nil
	}
	return "synthesize", nil
}

func (e *Engine) critiqueNode(ctx context.Context, state graph.State) (graph.State, error) {
	rs := run(state)
	rs.critique = e.critic.Critique(ctx, rs.req.Query, rs.steps, rs.results)
	return state, nil
}

// synthesizeNode produces the final answer. A synthesis failure does not
// abort the flow: the deterministic merge stands in and the error travels on
// the run state so the caller still sees it.
func (e *Engine) synthesizeNode(ctx context.Context, state graph.State) (graph.State, error) {
	rs := run(state)

	answer, err := e.synthesizer.Synthesize(ctx, rs.req.Query, rs.steps, rs.results)
	if err != nil {
		e.logger.Error("synthesis failed, using deterministic merge", "error", err)
		rs.synthErr = err
		answer = e.synthesizer.Deterministic(rs.steps, rs.results)
	}
	rs.answer = answer
	return state, nil
}

func (e *Engine) reflectNode(ctx context.Context, state graph.State) (graph.State, error) {
	rs := run(state)
	if e.cfg.EnableReflection {
		rs.reflect = e.reflector.Reflect(ctx, rs.req.Query, rs.steps, rs.results, rs.critique)
	}
	return state, nil
}

// clarifyNode terminates a halted request with a clarification response. The
// halt names what is missing; it is a refusal to guess, not an error.
func (e *Engine) clarifyNode(_ context.Context, state graph.State) (graph.State, error) {
	rs := run(state)
	rs.halted = true

	missing := rs.haltMissing
	if len(missing) == 0 {
		missing = rs.analysis.Missing
	}
	if len(missing) == 0 {
		missing = []string{"details of the request"}
	}
	rs.answer = fmt.Sprintf(
		"I need more information before acting on this: please provide %s.",
		joinHuman(missing))
	return state, nil
}

func joinHuman(items []string) string {
	switch len(items) {
	case 0:
		return ""
	case 1:
		return items[0]
	case 2:
		return items[0] + " and " + items[1]
	}
	out := ""
	for i, item := range items[:len(items)-1] {
		if i > 0 {
			out += ", "
		}
		out += item
	}
	return out + ", and " + items[len(items)-1]
}

func (e *Engine) buildResponse(rs *runState) *Response {
	resp := &Response{
		Answer:     rs.answer,
		Notice:     rs.notice,
		Analysis:   rs.analysis,
		Plan:       rs.plan,
		Steps:      rs.steps,
		Results:    rs.results,
		Reasoning:  rs.reasoner.Entries(),
		Critique:   rs.critique,
		Reflection: rs.reflect,
	}

	if rs.halted {
		resp.NeedsClarification = true
		resp.Missing = rs.analysis.Missing
		if len(rs.haltMissing) > 0 {
			resp.Missing = rs.haltMissing
		}
		return resp
	}

	resp.Success = true
	for _, st := range rs.steps {
		if st.Status == StepFailed {
			resp.Success = false
			break
		}
	}
	if rs.synthErr != nil {
		resp.Success = false
	}
	return resp
}

// persist records the exchange and, for completed runs, the pattern outcome.
// A clarification halt records the turn but neither a success nor a failure:
// refusing to guess says nothing about whether the pattern works.
func (e *Engine) persist(ctx context.Context, rs *runState, resp *Response) {
	if e.cfg.store == nil {
		return
	}

	now := time.Now()
	if err := e.cfg.store.RecordTurn(ctx, rs.req.SessionID, memory.Turn{Role: "user", Content: rs.req.Query, At: now}); err != nil {
		e.logger.Warn("recording user turn failed", "error", err)
	}
	if err := e.cfg.store.RecordTurn(ctx, rs.req.SessionID, memory.Turn{Role: "assistant", Content: resp.Answer, At: now}); err != nil {
		e.logger.Warn("recording assistant turn failed", "error", err)
	}

	if resp.NeedsClarification {
		return
	}

	success := resp.Success
	if rs.reflect != nil {
		success = rs.reflect.Succeeded()
	}
	pattern := memory.NormalizePattern(rs.req.Query)
	if pattern == "" {
		return
	}
	if err := e.cfg.store.RecordOutcome(ctx, pattern, string(rs.analysis.Intent), success); err != nil {
		e.logger.Warn("recording outcome failed", "error", err)
	}
}
