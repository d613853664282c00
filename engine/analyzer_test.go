package engine

import (
	"testing"

	"github.com/sweetpotato0/taskpilot/memory"
	"github.com/sweetpotato0/taskpilot/pkg/logging"
	"github.com/sweetpotato0/taskpilot/tool"
)

func analyzerRegistry(t *testing.T) *tool.Registry {
	t.Helper()
	registry := tool.NewRegistry()
	defs := []*tool.Tool{
		{Name: "mail", Keywords: []string{"email", "mail", "send", "forward"}, Mutating: true},
		{Name: "calendar", Keywords: []string{"meeting", "schedule", "event"}, Mutating: true},
		{Name: "search", Keywords: []string{"find", "search", "notes"}},
	}
	for _, def := range defs {
		if err := registry.Register(def); err != nil {
			t.Fatalf("register: %v", err)
		}
	}
	return registry
}

func TestAnalyzeDetectsIntentAndEntities(t *testing.T) {
	a := newAnalyzer(analyzerRegistry(t), logging.WithComponent("test"))

	analysis := a.Analyze("Find the email from Sarah about the budget", nil)
	if analysis.Intent != IntentSearch {
		t.Fatalf("expected search intent, got %s", analysis.Intent)
	}
	if analysis.Confidence < 0.7 {
		t.Fatalf("keyword-matched intent should be confident, got %f", analysis.Confidence)
	}
	if analysis.Entities["person"] != "Sarah" {
		t.Fatalf("expected person entity Sarah, got %v", analysis.Entities)
	}
	if analysis.Entities["keyword"] != "budget" {
		t.Fatalf("expected keyword entity budget, got %v", analysis.Entities)
	}
}

func TestAnalyzeMutatingVerbsTakePrecedence(t *testing.T) {
	a := newAnalyzer(analyzerRegistry(t), logging.WithComponent("test"))

	analysis := a.Analyze("Find and delete the old reports", nil)
	if analysis.Intent != IntentDelete {
		t.Fatalf("mutating verb must win, got %s", analysis.Intent)
	}
}

func TestAnalyzeMissingRecipientCapsConfidence(t *testing.T) {
	a := newAnalyzer(analyzerRegistry(t), logging.WithComponent("test"))

	analysis := a.Analyze("Send the quarterly report", nil)
	if !analysis.Intent.Mutating() {
		t.Fatalf("send should be a mutating intent, got %s", analysis.Intent)
	}
	if len(analysis.Missing) != 1 || analysis.Missing[0] != "recipient" {
		t.Fatalf("expected missing recipient, got %v", analysis.Missing)
	}
	if analysis.Confidence > 0.3 {
		t.Fatalf("missing required entity must cap confidence at 0.3, got %f", analysis.Confidence)
	}
}

func TestAnalyzeRecipientPresentIsConfident(t *testing.T) {
	a := newAnalyzer(analyzerRegistry(t), logging.WithComponent("test"))

	analysis := a.Analyze("Send the quarterly report to Anna", nil)
	if len(analysis.Missing) != 0 {
		t.Fatalf("nothing should be missing, got %v", analysis.Missing)
	}
	if analysis.Entities["recipient"] != "Anna" {
		t.Fatalf("expected recipient Anna, got %v", analysis.Entities)
	}
	if analysis.Confidence < 0.7 {
		t.Fatalf("expected high confidence, got %f", analysis.Confidence)
	}
}

func TestAnalyzeUnresolvedPronounLowersConfidence(t *testing.T) {
	a := newAnalyzer(analyzerRegistry(t), logging.WithComponent("test"))

	analysis := a.Analyze("Delete it", nil)
	if analysis.Confidence > 0.55 {
		t.Fatalf("unresolved pronoun must cap confidence, got %f", analysis.Confidence)
	}
}

func TestAnalyzeEmptyQueryNeedsClarification(t *testing.T) {
	a := newAnalyzer(analyzerRegistry(t), logging.WithComponent("test"))

	analysis := a.Analyze("   ", nil)
	if analysis.Intent != IntentClarify {
		t.Fatalf("expected clarification intent, got %s", analysis.Intent)
	}
	if analysis.Confidence != 0 {
		t.Fatalf("expected zero confidence, got %f", analysis.Confidence)
	}
}

func TestAnalyzeCompoundQueryIsMultiStep(t *testing.T) {
	a := newAnalyzer(analyzerRegistry(t), logging.WithComponent("test"))

	analysis := a.Analyze("Find the email from Sarah, then schedule a meeting for tomorrow", nil)
	if !analysis.MultiStep {
		t.Fatalf("expected multi-step analysis")
	}
	if len(analysis.Domains) < 2 {
		t.Fatalf("expected mail and calendar domains, got %v", analysis.Domains)
	}
}

func TestAnalyzeMemoryPriorNudgesConfidence(t *testing.T) {
	a := newAnalyzer(analyzerRegistry(t), logging.WithComponent("test"))

	query := "Delete it"
	baseline := a.Analyze(query, nil)

	memCtx := &memory.Context{Patterns: []memory.Entry{{
		Pattern:    memory.NormalizePattern(query),
		Intent:     string(IntentDelete),
		Confidence: 0.95,
	}}}
	primed := a.Analyze(query, memCtx)

	if primed.Confidence <= baseline.Confidence {
		t.Fatalf("historical success should raise confidence: %f vs %f",
			primed.Confidence, baseline.Confidence)
	}
}
