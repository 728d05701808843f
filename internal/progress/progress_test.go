package progress

import (
	"math"
	"testing"

	"council/internal/council"
	"council/internal/protocol"
	"council/internal/session"
)

func testCouncil() *council.Definition {
	return &council.Definition{
		Participants: []council.ParticipantDescriptor{
			{ID: "a", SpeakingOrder: 1},
			{ID: "b", SpeakingOrder: 2},
			{ID: "c", SpeakingOrder: 3},
			{ID: "chair", SpeakingOrder: 4, IsChairman: true},
		},
	}
}

func apply(t *testing.T, s *session.Session, ev protocol.Event) {
	t.Helper()
	if err := s.Apply(ev); err != nil {
		t.Fatalf("Apply: %v", err)
	}
}

func TestCompute_EmptySession(t *testing.T) {
	s := session.New("q", testCouncil())
	r := Compute(s)
	if r.Percent != 0 {
		t.Fatalf("Percent=%v, want 0", r.Percent)
	}
}

func TestCompute_StreamingBonus(t *testing.T) {
	s := session.New("q", testCouncil())
	apply(t, s, protocol.ParticipantResponseEvent{ParticipantID: "a", Content: "x"})

	// One of four streaming: bonus 15/4.
	want := 15.0 / 4
	if got := Compute(s).Percent; math.Abs(got-want) > 1e-9 {
		t.Fatalf("Percent=%v, want %v", got, want)
	}
}

func TestCompute_SettledShare(t *testing.T) {
	s := session.New("q", testCouncil())
	apply(t, s, protocol.ParticipantResponseEvent{ParticipantID: "a", Content: "x", Done: true})
	apply(t, s, protocol.SessionErrorEvent{ParticipantID: "b", Message: "down"})

	// Two settled of four: 50. An errored participant counts as settled so
	// progress never regresses.
	if got := Compute(s).Percent; math.Abs(got-50) > 1e-9 {
		t.Fatalf("Percent=%v, want 50", got)
	}
}

func TestCompute_CappedBelowHundredWhileRunning(t *testing.T) {
	s := session.New("q", testCouncil())
	for _, id := range []string{"a", "b", "c"} {
		apply(t, s, protocol.ParticipantResponseEvent{ParticipantID: id, Content: "x", Done: true})
	}
	apply(t, s, protocol.ParticipantResponseEvent{ParticipantID: "chair", Content: "synth in flight"})

	got := Compute(s).Percent
	if got >= 100 {
		t.Fatalf("Percent=%v, must stay below 100 while running", got)
	}
}

func TestCompute_HundredOnlyWhenCompleted(t *testing.T) {
	s := session.New("q", testCouncil())
	for _, id := range []string{"a", "b", "c"} {
		apply(t, s, protocol.ParticipantResponseEvent{ParticipantID: id, Content: "x", Done: true})
	}
	apply(t, s, protocol.FinalAnswerEvent{Content: "final"})

	if got := Compute(s).Percent; got >= 100 {
		t.Fatalf("Percent=%v before complete event, want <100", got)
	}

	apply(t, s, protocol.SessionCompleteEvent{})
	if got := Compute(s).Percent; got != 100 {
		t.Fatalf("Percent=%v after completion, want 100", got)
	}
}

// Percent is monotonically non-decreasing across a full run.
func TestCompute_MonotonicWhileRunning(t *testing.T) {
	s := session.New("q", testCouncil())
	events := []protocol.Event{
		protocol.ParticipantResponseEvent{ParticipantID: "a", Content: "1"},
		protocol.ParticipantResponseEvent{ParticipantID: "b", Content: "1"},
		protocol.ParticipantResponseEvent{ParticipantID: "a", Content: "2", Done: true},
		protocol.SessionErrorEvent{ParticipantID: "c", Message: "down"},
		protocol.ParticipantResponseEvent{ParticipantID: "b", Content: "2", Done: true},
		protocol.FinalAnswerEvent{Content: "final"},
		protocol.SessionCompleteEvent{},
	}

	prev := Compute(s).Percent
	for i, ev := range events {
		apply(t, s, ev)
		cur := Compute(s).Percent
		if cur < prev {
			t.Fatalf("event %d: percent regressed %v -> %v", i, prev, cur)
		}
		prev = cur
	}
	if prev != 100 {
		t.Fatalf("final percent=%v, want 100", prev)
	}
}

func TestCompute_Totals(t *testing.T) {
	s := session.New("q", testCouncil())
	apply(t, s, protocol.ParticipantResponseEvent{ParticipantID: "a", Content: "x", Tokens: 10, Cost: 0.01})
	apply(t, s, protocol.ParticipantResponseEvent{ParticipantID: "a", Content: "y", Tokens: 5, Cost: 0.005, Done: true})
	apply(t, s, protocol.ParticipantResponseEvent{ParticipantID: "b", Content: "z", Tokens: 3})

	r := Compute(s)
	if r.TotalTokens != 18 {
		t.Fatalf("TotalTokens=%d, want 18 (finalized 15 + in-flight 3)", r.TotalTokens)
	}
	if math.Abs(r.TotalCost-0.015) > 1e-9 {
		t.Fatalf("TotalCost=%v, want 0.015", r.TotalCost)
	}
}

func TestSmoother_ApproachesTarget(t *testing.T) {
	var m Smoother
	got := m.Tick(50)
	if math.Abs(got-5) > 1e-9 {
		t.Fatalf("first tick=%v, want 5 (10%% of gap)", got)
	}
	for i := 0; i < 200; i++ {
		m.Tick(50)
	}
	if v := m.Value(); v > 50 || v < 49 {
		t.Fatalf("smoothed value=%v, want asymptotic approach to 50", v)
	}
}

func TestSmoother_SnapsAtHundred(t *testing.T) {
	var m Smoother
	m.Tick(80)
	if got := m.Tick(100); got != 100 {
		t.Fatalf("Tick(100)=%v, want immediate snap to 100", got)
	}
}

func TestSmoother_MonotonicTowardRisingTarget(t *testing.T) {
	var m Smoother
	prev := 0.0
	for _, target := range []float64{10, 10, 25, 25, 50, 75, 99} {
		got := m.Tick(target)
		if got < prev {
			t.Fatalf("smoothed value regressed %v -> %v", prev, got)
		}
		prev = got
	}
}
