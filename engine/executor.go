package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sweetpotato0/taskpilot/event"
	"github.com/sweetpotato0/taskpilot/pkg/telemetry"
	"github.com/sweetpotato0/taskpilot/tool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// stepExecutor invokes the domain tool for one step, managing retries with
// bounded backoff and per-call timeouts. A step that exhausts its retries is
// marked failed with the error retained; the plan keeps going.
type stepExecutor struct {
	registry *tool.Registry
	cfg      *Config
	sink     event.Sink
	tracer   trace.Tracer
	logger   *slog.Logger
}

func newStepExecutor(registry *tool.Registry, cfg *Config, sink event.Sink, tracer trace.Tracer, logger *slog.Logger) *stepExecutor {
	return &stepExecutor{registry: registry, cfg: cfg, sink: sink, tracer: tracer, logger: logger}
}

// Run executes one step against its tool with the dependency outputs already
// collected. The step's status transitions running -> succeeded|failed.
func (e *stepExecutor) Run(ctx context.Context, st *Step, deps map[string]string) *ExecutionResult {
	st.Status = StepRunning

	ev := event.New(event.TypeStepStarted)
	ev.StepID = st.ID
	ev.Tool = st.Tool
	e.sink.Emit(ev)

	ctx, span := e.tracer.Start(ctx, "engine.step",
		trace.WithAttributes(
			attribute.String("step.id", st.ID),
			attribute.String("step.tool", st.Tool),
		))

	start := time.Now()
	output, err := e.callWithRetry(ctx, st, deps)
	result := &ExecutionResult{
		StepID:  st.ID,
		Latency: time.Since(start),
	}

	if err != nil {
		st.Status = StepFailed
		st.Error = err.Error()
		result.Error = err.Error()
		e.logger.Warn("step failed", "step", st.ID, "tool", st.Tool, "error", err)
	} else {
		st.Status = StepSucceeded
		st.Result = output
		result.Success = true
		result.Output = output
		e.logger.Info("step completed", "step", st.ID, "tool", st.Tool, "latency", result.Latency)
	}
	telemetry.End(span, err)

	done := event.New(event.TypeStepCompleted)
	done.StepID = st.ID
	done.Tool = st.Tool
	done.Success = result.Success
	e.sink.Emit(done)

	return result
}

// callWithRetry retries the tool call with doubling backoff up to the
// configured attempt ceiling. Each attempt is bounded by the tool timeout;
// a cancelled request stops retrying immediately.
func (e *stepExecutor) callWithRetry(ctx context.Context, st *Step, deps map[string]string) (string, error) {
	backoff := e.cfg.RetryBackoff
	var lastErr error

	for attempt := 1; attempt <= e.cfg.MaxAttempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, e.cfg.ToolTimeout)
		output, err := e.registry.Execute(callCtx, st.Tool, st.SubQuery, deps)
		cancel()

		if err == nil {
			return output, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if attempt < e.cfg.MaxAttempts {
			e.logger.Debug("retrying step", "step", st.ID, "attempt", attempt, "backoff", backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", ctx.Err()
			}
			backoff *= 2
		}
	}

	return "", &ToolExecutionError{StepID: st.ID, Tool: st.Tool, Attempts: e.cfg.MaxAttempts, Err: lastErr}
}

// collectDeps snapshots the dependency outputs a step consumes. Taken before
// a wave is dispatched so parallel workers never read the shared results map.
func collectDeps(st *Step, results map[string]*ExecutionResult) map[string]string {
	deps := make(map[string]string, len(st.DependsOn))
	for _, dep := range st.DependsOn {
		if res, ok := results[dep]; ok {
			deps[dep] = res.Output
		}
	}
	return deps
}

// RunWave dispatches one dependency-free wave. With MaxParallel 1 the wave
// runs strictly sequentially, which is the correctness baseline; larger pools
// are purely a performance optimization since steps in a wave are
// data-independent by construction.
func (e *stepExecutor) RunWave(ctx context.Context, steps []*Step, results map[string]*ExecutionResult) {
	if len(steps) <= 1 || e.cfg.MaxParallel <= 1 {
		for _, st := range steps {
			if ctx.Err() != nil {
				return
			}
			results[st.ID] = e.Run(ctx, st, collectDeps(st, results))
		}
		return
	}

	// Dependencies live in earlier waves; snapshot them up front so workers
	// only touch their own step and their private result slot.
	type job struct {
		step *Step
		deps map[string]string
	}
	jobs := make([]job, 0, len(steps))
	for _, st := range steps {
		jobs = append(jobs, job{step: st, deps: collectDeps(st, results)})
	}

	waveResults := make([]*ExecutionResult, len(jobs))
	sem := make(chan struct{}, e.cfg.MaxParallel)
	var wg sync.WaitGroup

	for i := range jobs {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			waveResults[i] = e.Run(ctx, jobs[i].step, jobs[i].deps)
		}(i)
	}
	wg.Wait()

	for i, res := range waveResults {
		if res != nil {
			results[jobs[i].step.ID] = res
		}
	}
}
