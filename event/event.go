package event

import (
	"log/slog"
	"time"
)

// Type identifies a progress notification emitted while a request executes.
type Type string

const (
	TypePlanningStarted   Type = "planning_started"
	TypeStepStarted       Type = "step_started"
	TypeStepCompleted     Type = "step_completed"
	TypeRefinementApplied Type = "refinement_applied"
	TypeResponseReady     Type = "response_ready"
)

// Event is one progress notification. The engine only ever appends events;
// it never reads them back.
type Event struct {
	Type    Type           `json:"type"`
	StepID  string         `json:"step_id,omitempty"`
	Tool    string         `json:"tool,omitempty"`
	Success bool           `json:"success,omitempty"`
	Detail  string         `json:"detail,omitempty"`
	At      time.Time      `json:"at"`
	Meta    map[string]any `json:"meta,omitempty"`
}

// Sink receives progress events. Emit must not block the engine; slow
// consumers drop events rather than stall execution.
type Sink interface {
	Emit(ev Event)
}

// NopSink discards all events.
type NopSink struct{}

// Emit implements Sink.
func (NopSink) Emit(Event) {}

// ChannelSink pushes events onto a buffered channel, dropping when full.
type ChannelSink struct {
	ch chan Event
}

// NewChannelSink creates a channel-backed sink with the given buffer size.
func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 64
	}
	return &ChannelSink{ch: make(chan Event, buffer)}
}

// Events exposes the receive side of the sink for the caller to drain.
func (s *ChannelSink) Events() <-chan Event {
	return s.ch
}

// Close closes the underlying channel once the producer is done.
func (s *ChannelSink) Close() {
	close(s.ch)
}

// Emit implements Sink. Events are dropped when the buffer is full so a slow
// consumer degrades visibility, never execution.
func (s *ChannelSink) Emit(ev Event) {
	select {
	case s.ch <- ev:
	default:
	}
}

// LogSink mirrors events into a slog logger.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a sink that logs every event at info level.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Emit implements Sink.
func (s *LogSink) Emit(ev Event) {
	if s.logger == nil {
		return
	}
	s.logger.Info("progress event",
		"type", string(ev.Type),
		"step_id", ev.StepID,
		"tool", ev.Tool,
		"success", ev.Success,
		"detail", ev.Detail,
	)
}

// MultiSink fans one event out to several sinks.
type MultiSink []Sink

// Emit implements Sink.
func (m MultiSink) Emit(ev Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(ev)
		}
	}
}

// New builds an event with the timestamp set.
func New(t Type) Event {
	return Event{Type: t, At: time.Now()}
}
