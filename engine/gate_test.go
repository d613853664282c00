package engine

import (
	"testing"

	"github.com/sweetpotato0/taskpilot/memory"
	"github.com/sweetpotato0/taskpilot/pkg/logging"
)

func testGate(confirmMedium bool) *autonomyGate {
	cfg := defaultConfig()
	cfg.ConfirmMediumRisk = confirmMedium
	return newAutonomyGate(cfg, logging.WithComponent("test"))
}

func TestGateThresholdBands(t *testing.T) {
	g := testGate(false)

	cases := []struct {
		confidence float64
		want       Decision
	}{
		{0.95, DecisionExecute},
		{0.7, DecisionExecute},
		{0.69, DecisionNotify},
		{0.4, DecisionNotify},
		{0.39, DecisionHalt},
		{0.0, DecisionHalt},
	}
	for _, tc := range cases {
		decision, _ := g.Assess(&QueryAnalysis{Confidence: tc.confidence}, nil)
		if decision != tc.want {
			t.Fatalf("confidence %f: got %v, want %v", tc.confidence, decision, tc.want)
		}
	}
}

func TestGateNeverExecutesBelowNoticeThreshold(t *testing.T) {
	g := testGate(false)

	// Sweep analysis and memory confidence combinations; whenever the
	// blended confidence lands below the notice threshold the gate must halt.
	for a := 0.0; a <= 1.0; a += 0.05 {
		for m := 0.1; m <= 1.0; m += 0.05 {
			entry := &memory.Entry{Confidence: m}
			analysis := &QueryAnalysis{Confidence: a}
			decision, effective := g.Assess(analysis, entry)
			if effective < g.noticeThreshold && decision != DecisionHalt {
				t.Fatalf("effective %f below threshold but decision %v", effective, decision)
			}
			if decision == DecisionExecute && effective < g.autoThreshold {
				t.Fatalf("executed at effective %f below auto threshold", effective)
			}
		}
	}
}

func TestGateBlendsMemoryConfidence(t *testing.T) {
	g := testGate(false)

	analysis := &QueryAnalysis{Confidence: 0.5}
	without := g.Effective(analysis, nil)
	with := g.Effective(analysis, &memory.Entry{Confidence: 0.95})

	if without != 0.5 {
		t.Fatalf("no history must leave analysis confidence alone, got %f", without)
	}
	if with <= without {
		t.Fatalf("strong history must raise effective confidence: %f vs %f", with, without)
	}

	weak := g.Effective(analysis, &memory.Entry{Confidence: 0.1})
	if weak >= without {
		t.Fatalf("weak history must lower effective confidence: %f vs %f", weak, without)
	}
}

func TestGateConfirmMediumRiskHaltsMiddleBand(t *testing.T) {
	g := testGate(true)

	decision, _ := g.Assess(&QueryAnalysis{Confidence: 0.55}, nil)
	if decision != DecisionHalt {
		t.Fatalf("confirm-medium-risk must halt the middle band, got %v", decision)
	}

	decision, _ = g.Assess(&QueryAnalysis{Confidence: 0.9}, nil)
	if decision != DecisionExecute {
		t.Fatalf("high confidence still executes, got %v", decision)
	}
}
