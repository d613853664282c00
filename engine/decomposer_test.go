package engine

import (
	"context"
	"testing"

	"github.com/sweetpotato0/taskpilot/pkg/logging"
)

func testDecomposer(t *testing.T, client *stubLLM) *decomposer {
	t.Helper()
	registry := newTestRegistry(t, nil)
	d := newDecomposer(registry, nil, defaultConfig(), logging.WithComponent("test"))
	if client != nil {
		d.llm = client
	}
	return d
}

func TestDecomposeSingleActionYieldsOneStep(t *testing.T) {
	d := testDecomposer(t, nil)
	analysis := &QueryAnalysis{Intent: IntentSearch, Domains: []string{"search"}}

	steps, err := d.Decompose(context.Background(), "Find the notes about the offsite", analysis)
	if err != nil {
		t.Fatalf("decompose: %v", err)
	}
	if len(steps) != 1 {
		t.Fatalf("single action must yield one step, got %d", len(steps))
	}
	if steps[0].Tool != "search" {
		t.Fatalf("expected search routing, got %s", steps[0].Tool)
	}
	if len(steps[0].DependsOn) != 0 {
		t.Fatalf("single step must have no dependencies, got %v", steps[0].DependsOn)
	}
}

func TestDecomposeSplitsOnConnectives(t *testing.T) {
	d := testDecomposer(t, nil)
	analysis := &QueryAnalysis{Intent: IntentCreate, MultiStep: true, Domains: []string{"mail", "calendar"}}

	steps, err := d.Decompose(context.Background(),
		"Find the email from Sarah about the budget, then schedule a meeting for tomorrow", analysis)
	if err != nil {
		t.Fatalf("decompose: %v", err)
	}
	if len(steps) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(steps))
	}
	if steps[0].Tool != "mail" || steps[1].Tool != "calendar" {
		t.Fatalf("unexpected routing: %s, %s", steps[0].Tool, steps[1].Tool)
	}
}

func TestDecomposeKeepsNounConjunctionsIntact(t *testing.T) {
	d := testDecomposer(t, nil)
	analysis := &QueryAnalysis{Intent: IntentSearch, Domains: []string{"search"}}

	steps, err := d.Decompose(context.Background(), "Find the invoices and receipts", analysis)
	if err != nil {
		t.Fatalf("decompose: %v", err)
	}
	if len(steps) != 1 {
		t.Fatalf("noun conjunction must not split, got %d steps", len(steps))
	}
}

func TestDecomposeInfersDependencyFromPronoun(t *testing.T) {
	d := testDecomposer(t, nil)
	analysis := &QueryAnalysis{Intent: IntentSearch, MultiStep: true}

	steps, err := d.Decompose(context.Background(),
		"Find the email from Sarah about the budget, then forward it to Mark", analysis)
	if err != nil {
		t.Fatalf("decompose: %v", err)
	}
	if len(steps) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(steps))
	}
	if len(steps[1].DependsOn) != 1 || steps[1].DependsOn[0] != steps[0].ID {
		t.Fatalf("expected pronoun to link steps, got %v", steps[1].DependsOn)
	}
}

func TestDecomposeInfersDependencyFromDomainNoun(t *testing.T) {
	d := testDecomposer(t, nil)
	analysis := &QueryAnalysis{Intent: IntentSearch, MultiStep: true}

	steps, err := d.Decompose(context.Background(),
		"Search my inbox for the contract; summarize the email in my notes", analysis)
	if err != nil {
		t.Fatalf("decompose: %v", err)
	}
	if len(steps) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(steps))
	}
	if len(steps[1].DependsOn) != 1 || steps[1].DependsOn[0] != steps[0].ID {
		t.Fatalf("expected 'the email' to link back to the mail step, got %v", steps[1].DependsOn)
	}
}

func TestDecomposeCapsStepCount(t *testing.T) {
	d := testDecomposer(t, nil)
	d.cfg = defaultConfig()
	d.cfg.MaxPlanSteps = 2
	analysis := &QueryAnalysis{Intent: IntentSearch, MultiStep: true}

	steps, err := d.Decompose(context.Background(),
		"Find the budget; find the forecast; find the headcount plan", analysis)
	if err != nil {
		t.Fatalf("decompose: %v", err)
	}
	if len(steps) > 2 {
		t.Fatalf("step count must be capped at 2, got %d", len(steps))
	}
}

func TestDecomposeTruncationDropsDanglingDeps(t *testing.T) {
	client := &stubLLM{response: `{"steps":[
		{"id":"step-1","tool":"search","query":"collect the figures"},
		{"id":"step-2","tool":"search","query":"cross-check the totals","depends_on":["step-3"]},
		{"id":"step-3","tool":"search","query":"archive the workbook"}
	]}`}
	d := testDecomposer(t, client)
	d.cfg.MaxPlanSteps = 2
	d.cfg.DefaultTool = ""
	analysis := &QueryAnalysis{Intent: IntentSearch, MultiStep: true}

	steps, err := d.Decompose(context.Background(), "reconcile the quarterly figures", analysis)
	if err != nil {
		t.Fatalf("decompose: %v", err)
	}
	if len(steps) != 2 {
		t.Fatalf("expected truncation to 2 steps, got %d", len(steps))
	}
	for _, st := range steps {
		for _, dep := range st.DependsOn {
			if dep == "step-3" {
				t.Fatalf("step %s still depends on a truncated step", st.ID)
			}
		}
	}
}

func TestDecomposeLLMFallbackValidatesTools(t *testing.T) {
	client := &stubLLM{response: `{"steps":[{"id":"step-1","tool":"nonexistent","query":"do things"}]}`}
	d := testDecomposer(t, client)
	analysis := &QueryAnalysis{Intent: IntentSearch, MultiStep: true, Domains: []string{"mail", "calendar"}}

	// Pattern routing succeeds here, so the invalid LLM output is discarded
	// and the pattern result stands.
	steps, err := d.Decompose(context.Background(), "Find the notes about the offsite", analysis)
	if err != nil {
		t.Fatalf("decompose: %v", err)
	}
	for _, st := range steps {
		if st.Tool == "nonexistent" {
			t.Fatalf("unvalidated tool leaked into the plan")
		}
	}
}
