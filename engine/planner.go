package engine

import (
	"log/slog"
	"sort"
	"time"
)

// planner converts a step list into a schedulable plan: a topological order
// honoring dependencies plus waves of steps with no unresolved dependency.
// Cycles fail fast with a PlanningError instead of deadlocking.
type planner struct {
	stepLatency time.Duration
	logger      *slog.Logger
}

func newPlanner(cfg *Config, logger *slog.Logger) *planner {
	return &planner{stepLatency: cfg.StepLatencyEstimate, logger: logger}
}

// BuildPlan produces the wave-grouped topological ordering for the steps.
// Steps already in a terminal state are treated as satisfied dependencies so
// the plan can be rebuilt incrementally after refinement.
func (p *planner) BuildPlan(steps []*Step) (*Plan, error) {
	byID := make(map[string]*Step, len(steps))
	for _, st := range steps {
		byID[st.ID] = st
	}

	for _, st := range steps {
		for _, dep := range st.DependsOn {
			if _, ok := byID[dep]; !ok {
				return nil, &PlanningError{
					Reason: "step depends on unknown step " + dep,
					Steps:  []string{st.ID},
				}
			}
		}
	}

	done := make(map[string]bool, len(steps))
	var remaining []*Step
	for _, st := range steps {
		if st.Status.Done() {
			done[st.ID] = true
		} else {
			remaining = append(remaining, st)
		}
	}

	var (
		order []string
		waves [][]string
	)
	for len(remaining) > 0 {
		var wave []string
		var next []*Step
		for _, st := range remaining {
			ready := true
			for _, dep := range st.DependsOn {
				if !done[dep] {
					ready = false
					break
				}
			}
			if ready {
				wave = append(wave, st.ID)
			} else {
				next = append(next, st)
			}
		}

		if len(wave) == 0 {
			// Nothing became ready: the remaining steps form a cycle.
			ids := make([]string, 0, len(next))
			for _, st := range next {
				ids = append(ids, st.ID)
			}
			sort.Strings(ids)
			return nil, &PlanningError{Reason: "dependency cycle detected", Steps: ids}
		}

		for _, id := range wave {
			done[id] = true
		}
		order = append(order, wave...)
		waves = append(waves, wave)
		remaining = next
	}

	plan := &Plan{
		Order:     order,
		Waves:     waves,
		Estimated: time.Duration(len(waves)) * p.stepLatency,
	}
	p.logger.Debug("plan built", "steps", len(order), "waves", len(waves), "estimated", plan.Estimated)
	return plan, nil
}
