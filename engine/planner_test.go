package engine

import (
	"errors"
	"testing"

	"github.com/sweetpotato0/taskpilot/pkg/logging"
)

func TestBuildPlanOrdersByDependency(t *testing.T) {
	p := newPlanner(defaultConfig(), logging.WithComponent("test"))

	steps := []*Step{
		{ID: "step-1", Status: StepPending},
		{ID: "step-2", DependsOn: []string{"step-1"}, Status: StepPending},
		{ID: "step-3", Status: StepPending},
		{ID: "step-4", DependsOn: []string{"step-2", "step-3"}, Status: StepPending},
	}

	plan, err := p.BuildPlan(steps)
	if err != nil {
		t.Fatalf("build plan: %v", err)
	}

	position := make(map[string]int)
	for i, id := range plan.Order {
		position[id] = i
	}
	for _, st := range steps {
		for _, dep := range st.DependsOn {
			if position[dep] >= position[st.ID] {
				t.Fatalf("dependency %s must precede %s in %v", dep, st.ID, plan.Order)
			}
		}
	}

	if len(plan.Waves) != 3 {
		t.Fatalf("expected 3 waves, got %v", plan.Waves)
	}
	if len(plan.Waves[0]) != 2 {
		t.Fatalf("independent steps must share the first wave, got %v", plan.Waves[0])
	}
	if plan.Estimated <= 0 {
		t.Fatalf("expected a positive duration estimate")
	}
}

func TestBuildPlanRejectsCycle(t *testing.T) {
	p := newPlanner(defaultConfig(), logging.WithComponent("test"))

	steps := []*Step{
		{ID: "step-1", DependsOn: []string{"step-2"}, Status: StepPending},
		{ID: "step-2", DependsOn: []string{"step-1"}, Status: StepPending},
	}

	_, err := p.BuildPlan(steps)
	if err == nil {
		t.Fatalf("expected a planning error for the cycle")
	}
	var planErr *PlanningError
	if !errors.As(err, &planErr) {
		t.Fatalf("expected PlanningError, got %T", err)
	}
	if len(planErr.Steps) != 2 {
		t.Fatalf("expected both cycle members reported, got %v", planErr.Steps)
	}
}

func TestBuildPlanRejectsUnknownDependency(t *testing.T) {
	p := newPlanner(defaultConfig(), logging.WithComponent("test"))

	_, err := p.BuildPlan([]*Step{
		{ID: "step-1", DependsOn: []string{"ghost"}, Status: StepPending},
	})
	var planErr *PlanningError
	if !errors.As(err, &planErr) {
		t.Fatalf("expected PlanningError, got %v", err)
	}
}

func TestBuildPlanTreatsCompletedStepsAsSatisfied(t *testing.T) {
	p := newPlanner(defaultConfig(), logging.WithComponent("test"))

	steps := []*Step{
		{ID: "step-1", Status: StepSucceeded},
		{ID: "step-2", DependsOn: []string{"step-1"}, Status: StepPending},
	}

	plan, err := p.BuildPlan(steps)
	if err != nil {
		t.Fatalf("build plan: %v", err)
	}
	if len(plan.Waves) != 1 || plan.Waves[0][0] != "step-2" {
		t.Fatalf("completed dependency must not block replanning, got %v", plan.Waves)
	}
}
