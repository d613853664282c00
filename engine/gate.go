package engine

import (
	"log/slog"

	"github.com/sweetpotato0/taskpilot/memory"
)

// Decision is the autonomy gate's verdict for one mutating step.
type Decision int

const (
	// DecisionExecute runs the step without confirmation.
	DecisionExecute Decision = iota
	// DecisionNotify runs the step but attaches an explicit notice to the response.
	DecisionNotify
	// DecisionHalt refuses the step and terminates the flow with a
	// clarification request naming the missing information.
	DecisionHalt
)

// autonomyGate is the core safety contract: irreversible actions never occur
// below the medium threshold, for any combination of analysis and memory
// confidence. Thresholds and the notice-vs-confirm behavior are configurable
// because the right default is domain-dependent.
type autonomyGate struct {
	autoThreshold   float64
	noticeThreshold float64
	memoryWeight    float64
	confirmMedium   bool
	logger          *slog.Logger
}

func newAutonomyGate(cfg *Config, logger *slog.Logger) *autonomyGate {
	return &autonomyGate{
		autoThreshold:   cfg.AutoThreshold,
		noticeThreshold: cfg.NoticeThreshold,
		memoryWeight:    cfg.MemoryWeight,
		confirmMedium:   cfg.ConfirmMediumRisk,
		logger:          logger,
	}
}

// Effective blends analysis confidence with the matching memory entry's
// confidence. Without history the analysis confidence stands alone.
func (g *autonomyGate) Effective(analysis *QueryAnalysis, entry *memory.Entry) float64 {
	confidence := analysis.Confidence
	if entry != nil {
		confidence = (1-g.memoryWeight)*confidence + g.memoryWeight*entry.Confidence
	}
	return clamp01(confidence)
}

// Assess decides whether a mutating step may execute.
func (g *autonomyGate) Assess(analysis *QueryAnalysis, entry *memory.Entry) (Decision, float64) {
	confidence := g.Effective(analysis, entry)

	switch {
	case confidence >= g.autoThreshold:
		return DecisionExecute, confidence
	case confidence >= g.noticeThreshold:
		if g.confirmMedium {
			g.logger.Info("autonomy gate requiring confirmation", "confidence", confidence)
			return DecisionHalt, confidence
		}
		g.logger.Info("autonomy gate allowing with notice", "confidence", confidence)
		return DecisionNotify, confidence
	default:
		g.logger.Warn("autonomy gate halting mutating step", "confidence", confidence)
		return DecisionHalt, confidence
	}
}
