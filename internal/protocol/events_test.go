package protocol

import (
	"errors"
	"testing"
)

func TestDecode_Response(t *testing.T) {
	ev, err := Decode([]byte(`{"type":"response","nodeId":"gpt","content":"hello","tokens":12}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	resp, ok := ev.(ParticipantResponseEvent)
	if !ok {
		t.Fatalf("event type %T, want ParticipantResponseEvent", ev)
	}
	if resp.ParticipantID != "gpt" || resp.Content != "hello" || resp.Tokens != 12 || resp.Done {
		t.Fatalf("unexpected event: %+v", resp)
	}
}

func TestDecode_ResponseDone(t *testing.T) {
	ev, err := Decode([]byte(`{"type":"response","nodeId":"gpt","content":"","done":true}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if resp := ev.(ParticipantResponseEvent); !resp.Done {
		t.Fatalf("Done=false, want true: %+v", resp)
	}
}

func TestDecode_FinalAnswer(t *testing.T) {
	ev, err := Decode([]byte(`{"type":"final_answer","content":"the answer","tokens":40}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	fin, ok := ev.(FinalAnswerEvent)
	if !ok {
		t.Fatalf("event type %T, want FinalAnswerEvent", ev)
	}
	if fin.Content != "the answer" || fin.Tokens != 40 {
		t.Fatalf("unexpected event: %+v", fin)
	}
}

func TestDecode_Stage(t *testing.T) {
	ev, err := Decode([]byte(`{"type":"stage","stage":2}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if st := ev.(StageAdvanceEvent); st.Stage != 2 {
		t.Fatalf("Stage=%d, want 2", st.Stage)
	}
}

func TestDecode_Complete(t *testing.T) {
	ev, err := Decode([]byte(`{"type":"complete"}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if _, ok := ev.(SessionCompleteEvent); !ok {
		t.Fatalf("event type %T, want SessionCompleteEvent", ev)
	}
}

func TestDecode_SessionError(t *testing.T) {
	ev, err := Decode([]byte(`{"type":"error","error":"backend exploded"}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	se := ev.(SessionErrorEvent)
	if se.Message != "backend exploded" || se.ParticipantID != "" {
		t.Fatalf("unexpected event: %+v", se)
	}
}

func TestDecode_ParticipantError(t *testing.T) {
	ev, err := Decode([]byte(`{"type":"error","nodeId":"claude","error":"rate limited"}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	se := ev.(SessionErrorEvent)
	if se.ParticipantID != "claude" {
		t.Fatalf("ParticipantID=%q, want claude", se.ParticipantID)
	}
}

func TestDecode_Failures(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"not json", `{{{`},
		{"missing type", `{"content":"x"}`},
		{"unknown type", `{"type":"telemetry"}`},
		{"response without nodeId", `{"type":"response","content":"x"}`},
		{"final_answer without content", `{"type":"final_answer"}`},
		{"error without message", `{"type":"error"}`},
		{"stage out of range", `{"type":"stage","stage":7}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ev, err := Decode([]byte(tc.raw))
			if err == nil {
				t.Fatalf("Decode succeeded with %+v, want *DecodeError", ev)
			}
			var de *DecodeError
			if !errors.As(err, &de) {
				t.Fatalf("error type %T, want *DecodeError", err)
			}
		})
	}
}
