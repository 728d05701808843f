package session

import (
	"fmt"
	"strings"

	"council/internal/protocol"
)

// ViolationError marks an event that is valid wire data but illegal in the
// session's current state. Distinguished from decode and transport errors so
// callers can tell a misbehaving backend from a broken connection.
type ViolationError struct {
	Msg string
}

func (e *ViolationError) Error() string {
	return "protocol violation: " + e.Msg
}

func violationf(format string, args ...interface{}) *ViolationError {
	return &ViolationError{Msg: fmt.Sprintf(format, args...)}
}

// Apply advances the session by one decoded event. It is total over the
// event set produced by protocol.Decode. Events applied to a terminal
// session are discarded without effect; this covers both the absorbing
// terminal states and fragments that race a cancellation.
//
// A returned error is always a *ViolationError; the session has already been
// marked failed when one is returned.
func (s *Session) Apply(ev protocol.Event) error {
	if s.status.Terminal() {
		return nil
	}

	switch e := ev.(type) {
	case protocol.ParticipantResponseEvent:
		return s.applyResponse(e)
	case protocol.FinalAnswerEvent:
		return s.applyFinalAnswer(e)
	case protocol.StageAdvanceEvent:
		s.applyStageAdvance(e)
		return nil
	case protocol.SessionCompleteEvent:
		return s.applyComplete()
	case protocol.SessionErrorEvent:
		return s.applyError(e)
	default:
		return s.fail(violationf("unsupported event %T", ev))
	}
}

// Fail marks a running session failed with the given cause. Used by the
// event loop for decode and transport errors, which originate outside the
// state machine. No-op on a terminal session.
func (s *Session) Fail(cause error) {
	if s.status.Terminal() {
		return
	}
	s.status = StatusFailed
	s.failure = cause
}

// Cancel marks a running session cancelled. Events arriving afterwards are
// discarded by Apply. No-op on a terminal session.
func (s *Session) Cancel() {
	if s.status.Terminal() {
		return
	}
	s.status = StatusCancelled
}

func (s *Session) fail(v *ViolationError) error {
	s.status = StatusFailed
	s.failure = v
	return v
}

func (s *Session) applyResponse(e protocol.ParticipantResponseEvent) error {
	st, known := s.states[e.ParticipantID]
	if !known {
		return s.fail(violationf("response for unknown participant %q", e.ParticipantID))
	}

	switch st {
	case StateError:
		// The backend may have queued fragments before the participant
		// errored out; they carry nothing we can use.
		return nil

	case StateComplete:
		if !s.allSettled() {
			return s.fail(violationf("duplicate response for completed participant %q", e.ParticipantID))
		}
		// Peer-ranking content during the evaluation stage. Kept separate
		// from the write-once Response; declared usage was still incurred.
		s.evaluations[e.ParticipantID] += e.Content
		s.evalTokens += e.Tokens
		s.evalCost += e.Cost
		return nil

	case StatePending, StateActive:
		s.states[e.ParticipantID] = StateStreaming
		fallthrough

	case StateStreaming:
		buf, ok := s.buffers[e.ParticipantID]
		if !ok {
			buf = &strings.Builder{}
			s.buffers[e.ParticipantID] = buf
		}
		buf.WriteString(e.Content)
		s.fragTokens[e.ParticipantID] += e.Tokens
		s.fragCost[e.ParticipantID] += e.Cost
		if e.Done {
			s.finalize(e.ParticipantID)
		}
		return nil

	default:
		return s.fail(violationf("participant %q in unknown state %q", e.ParticipantID, st))
	}
}

// finalize moves a streaming participant to complete, converting its buffer
// and accumulated fragment usage into the write-once Response.
func (s *Session) finalize(id string) {
	content := ""
	if buf, ok := s.buffers[id]; ok {
		content = buf.String()
	}
	s.responses[id] = Response{
		Content: content,
		Tokens:  s.fragTokens[id],
		Cost:    s.fragCost[id],
	}
	s.states[id] = StateComplete
	delete(s.buffers, id)
}

func (s *Session) applyFinalAnswer(e protocol.FinalAnswerEvent) error {
	if _, written := s.responses[s.chairmanID]; written {
		return s.fail(violationf("duplicate final answer for chairman %q", s.chairmanID))
	}
	if s.states[s.chairmanID] == StateError {
		return s.fail(violationf("final answer after chairman %q errored", s.chairmanID))
	}
	for _, id := range s.Council.NonChairmanIDs() {
		if s.states[id] == StatePending {
			return s.fail(violationf("final answer before participant %q produced any output", id))
		}
	}

	// Participants that streamed but never sent an explicit done marker are
	// finalized here: the synthesis arriving means stage 1 is over.
	for _, id := range s.Council.NonChairmanIDs() {
		if s.states[id] == StateStreaming {
			s.finalize(id)
		}
	}

	s.responses[s.chairmanID] = Response{
		Content: e.Content,
		Tokens:  s.fragTokens[s.chairmanID] + e.Tokens,
		Cost:    s.fragCost[s.chairmanID] + e.Cost,
	}
	s.states[s.chairmanID] = StateComplete
	delete(s.buffers, s.chairmanID)
	return nil
}

func (s *Session) applyStageAdvance(e protocol.StageAdvanceEvent) {
	// Stage never moves backwards; a stale or repeated signal is ignored.
	if Stage(e.Stage) > s.explicitStage {
		s.explicitStage = Stage(e.Stage)
	}
}

func (s *Session) applyComplete() error {
	if _, written := s.responses[s.chairmanID]; !written {
		return s.fail(violationf("complete before chairman %q answer was written", s.chairmanID))
	}
	s.status = StatusCompleted
	return nil
}

func (s *Session) applyError(e protocol.SessionErrorEvent) error {
	if e.ParticipantID == "" {
		// Session-level failure. Partial responses stay readable for
		// diagnostic display.
		s.status = StatusFailed
		s.failure = fmt.Errorf("backend error: %s", e.Message)
		return nil
	}

	st, known := s.states[e.ParticipantID]
	if !known {
		return s.fail(violationf("error for unknown participant %q", e.ParticipantID))
	}
	if st.Terminal() {
		// Already settled; nothing left to transition.
		return nil
	}
	s.states[e.ParticipantID] = StateError
	delete(s.buffers, e.ParticipantID)
	return nil
}
