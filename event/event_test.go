package event

import "testing"

func TestChannelSinkDeliversEvents(t *testing.T) {
	sink := NewChannelSink(4)

	ev := New(TypeStepStarted)
	ev.StepID = "step-1"
	sink.Emit(ev)
	sink.Close()

	var received []Event
	for e := range sink.Events() {
		received = append(received, e)
	}
	if len(received) != 1 || received[0].StepID != "step-1" {
		t.Fatalf("unexpected events: %+v", received)
	}
	if received[0].At.IsZero() {
		t.Fatalf("event timestamp must be set")
	}
}

func TestChannelSinkDropsWhenFull(t *testing.T) {
	sink := NewChannelSink(2)

	for i := 0; i < 10; i++ {
		sink.Emit(New(TypeStepCompleted))
	}
	sink.Close()

	count := 0
	for range sink.Events() {
		count++
	}
	if count != 2 {
		t.Fatalf("expected overflow to be dropped, kept %d", count)
	}
}

func TestMultiSinkFansOut(t *testing.T) {
	a := NewChannelSink(1)
	b := NewChannelSink(1)
	multi := MultiSink{a, b, nil}

	multi.Emit(New(TypeResponseReady))

	if got := <-a.Events(); got.Type != TypeResponseReady {
		t.Fatalf("sink a missed the event: %+v", got)
	}
	if got := <-b.Events(); got.Type != TypeResponseReady {
		t.Fatalf("sink b missed the event: %+v", got)
	}
}
