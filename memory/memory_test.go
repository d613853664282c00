package memory

import "testing"

func TestConfidenceBounds(t *testing.T) {
	cases := []struct {
		success, failure int
	}{
		{0, 0}, {1, 0}, {0, 1}, {10, 0}, {0, 10}, {0, 1000}, {1000, 0}, {5, 5},
	}
	for _, tc := range cases {
		conf := Confidence(tc.success, tc.failure)
		if conf < 0.1 || conf >= 1.0 {
			t.Fatalf("Confidence(%d,%d)=%f outside [0.1,1.0)", tc.success, tc.failure, conf)
		}
	}
}

func TestConfidenceMonotoneInSuccess(t *testing.T) {
	prev := Confidence(0, 3)
	for s := 1; s <= 20; s++ {
		conf := Confidence(s, 3)
		if conf <= prev {
			t.Fatalf("confidence must grow with successes: %f then %f at s=%d", prev, conf, s)
		}
		prev = conf
	}
}

func TestConfidenceDecaysWithFailures(t *testing.T) {
	prev := Confidence(3, 0)
	for f := 1; f <= 20; f++ {
		conf := Confidence(3, f)
		if conf > prev {
			t.Fatalf("confidence must not grow with failures: %f then %f at f=%d", prev, conf, f)
		}
		prev = conf
	}
	if Confidence(0, 1000) != 0.1 {
		t.Fatalf("heavy failure must land on the floor, got %f", Confidence(0, 1000))
	}
}

func TestConfidenceNeutralPrior(t *testing.T) {
	if conf := Confidence(0, 0); conf != 0.5 {
		t.Fatalf("no history must yield the neutral prior, got %f", conf)
	}
}

func TestNormalizePattern(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"Pay invoice 4711!", "pay invoice <num>"},
		{"Pay invoice 12", "pay invoice <num>"},
		{"  Find   the notes  ", "find the notes"},
		{"Send, the; report.", "send the report"},
	}
	for _, tc := range cases {
		if got := NormalizePattern(tc.in); got != tc.want {
			t.Fatalf("NormalizePattern(%q)=%q, want %q", tc.in, got, tc.want)
		}
	}

	if NormalizePattern("Pay invoice 4711") != NormalizePattern("Pay invoice 12") {
		t.Fatalf("numeric variants must share one pattern")
	}
}

func TestBestMatchPicksHighestOverlap(t *testing.T) {
	entries := []Entry{
		{Pattern: "schedule meeting with team", Confidence: 0.8},
		{Pattern: "find the notes", Confidence: 0.6},
		{Pattern: "delete old email", Confidence: 0.4},
	}

	got := BestMatch(entries, "Find my notes from yesterday")
	if got == nil || got.Pattern != "find the notes" {
		t.Fatalf("unexpected match: %+v", got)
	}

	if BestMatch(entries, "completely unrelated request") != nil {
		t.Fatalf("no overlap must yield nil")
	}
	if BestMatch(nil, "anything") != nil {
		t.Fatalf("empty entries must yield nil")
	}
}
