// Package session holds the execution session model and the state machine
// that applies decoded protocol events to it. One session covers a single
// query against a council, from submission to a terminal status.
package session

import (
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"council/internal/council"
)

// ParticipantState is the lifecycle state of one responder.
type ParticipantState string

const (
	StatePending   ParticipantState = "pending"
	StateActive    ParticipantState = "active"
	StateStreaming ParticipantState = "streaming"
	StateComplete  ParticipantState = "complete"
	StateError     ParticipantState = "error"
)

// Terminal reports whether no further transition may occur for this state.
func (s ParticipantState) Terminal() bool {
	return s == StateComplete || s == StateError
}

// Settled reports whether the participant no longer blocks stage advance.
// An errored participant counts the same as a completed one.
func (s ParticipantState) Settled() bool {
	return s.Terminal()
}

// Status is the session-level lifecycle.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the session accepts no further events.
func (s Status) Terminal() bool {
	return s != StatusRunning
}

// Stage is one of the three sequential discussion phases.
type Stage int

const (
	StagePerspectives Stage = 1
	StageEvaluation   Stage = 2
	StageSynthesis    Stage = 3
)

func (s Stage) String() string {
	switch s {
	case StagePerspectives:
		return "perspectives"
	case StageEvaluation:
		return "evaluation"
	case StageSynthesis:
		return "synthesis"
	default:
		return "unknown"
	}
}

// Response is one participant's finalized answer. Write-once per participant.
type Response struct {
	Content string  `json:"content"`
	Tokens  int     `json:"tokens,omitempty"`
	Cost    float64 `json:"cost,omitempty"`
}

// Session is the aggregate root for one council execution. It is mutated
// exclusively by Apply; everything else reads. Events arrive serially from a
// single transport connection, so no locking happens inside the session.
// The one exception is the recorded flag, which the history recorder flips
// atomically from outside.
type Session struct {
	ID        string
	Query     string
	Council   *council.Definition
	StartedAt time.Time

	status     Status
	failure    error
	chairmanID string

	states      map[string]ParticipantState
	buffers     map[string]*strings.Builder
	fragTokens  map[string]int
	fragCost    map[string]float64
	responses   map[string]Response
	evaluations map[string]string

	// Usage declared on evaluation-stage fragments. Kept out of the
	// write-once responses but still part of the running totals.
	evalTokens int
	evalCost   float64

	// explicitStage is the floor signalled by stage events; the effective
	// stage is derived from participant states and clamped to it.
	explicitStage Stage

	recorded atomic.Bool
}

// New creates a running session for the given query and validated council.
func New(query string, def *council.Definition) *Session {
	s := &Session{
		ID:          uuid.NewString(),
		Query:       query,
		Council:     def,
		StartedAt:   time.Now(),
		status:      StatusRunning,
		chairmanID:  def.Chairman().ID,
		states:      make(map[string]ParticipantState, def.Size()),
		buffers:     make(map[string]*strings.Builder),
		fragTokens:  make(map[string]int),
		fragCost:    make(map[string]float64),
		responses:   make(map[string]Response),
		evaluations: make(map[string]string),
	}
	for _, p := range def.Participants {
		s.states[p.ID] = StatePending
	}
	return s
}

// Status returns the session lifecycle status.
func (s *Session) Status() Status { return s.status }

// Failure returns the terminal failure reason, nil unless status is failed.
func (s *Session) Failure() error { return s.failure }

// ChairmanID returns the id of the designated chairman.
func (s *Session) ChairmanID() string { return s.chairmanID }

// State returns the lifecycle state of one participant.
func (s *Session) State(id string) ParticipantState { return s.states[id] }

// Response returns the finalized response for a participant, if written.
func (s *Session) Response(id string) (Response, bool) {
	r, ok := s.responses[id]
	return r, ok
}

// Responses returns a copy of all finalized responses keyed by participant id.
func (s *Session) Responses() map[string]Response {
	out := make(map[string]Response, len(s.responses))
	for id, r := range s.responses {
		out[id] = r
	}
	return out
}

// Evaluation returns the accumulated peer-ranking content for a participant.
func (s *Session) Evaluation(id string) string { return s.evaluations[id] }

// Buffer returns the partial streaming text for a participant that has not
// finalized yet.
func (s *Session) Buffer(id string) string {
	if b, ok := s.buffers[id]; ok {
		return b.String()
	}
	return ""
}

// FinalAnswer returns the chairman's response, if written.
func (s *Session) FinalAnswer() (Response, bool) {
	return s.Response(s.chairmanID)
}

// allSettled reports whether every non-chairman participant is complete or
// errored.
func (s *Session) allSettled() bool {
	for _, id := range s.Council.NonChairmanIDs() {
		if !s.states[id].Settled() {
			return false
		}
	}
	return true
}

// Stage derives the current discussion stage from participant states. It is
// never stored: stage 1 while any non-chairman participant is unsettled,
// stage 2 once all are settled, stage 3 once the chairman has started. An
// explicit stage signal from the backend only ever raises the result.
func (s *Session) Stage() Stage {
	derived := StagePerspectives
	switch {
	case s.states[s.chairmanID] != StatePending:
		derived = StageSynthesis
	case s.allSettled():
		derived = StageEvaluation
	}
	if s.explicitStage > derived {
		return s.explicitStage
	}
	return derived
}

// Totals returns the running token and cost sums: exact sums over written
// responses plus declared usage on in-flight fragments.
func (s *Session) Totals() (tokens int, cost float64) {
	for _, r := range s.responses {
		tokens += r.Tokens
		cost += r.Cost
	}
	for id, n := range s.fragTokens {
		if _, written := s.responses[id]; !written {
			tokens += n
		}
	}
	for id, c := range s.fragCost {
		if _, written := s.responses[id]; !written {
			cost += c
		}
	}
	return tokens + s.evalTokens, cost + s.evalCost
}

// CountByState returns how many participants are in each of the given states.
func (s *Session) CountByState(states ...ParticipantState) int {
	n := 0
	for _, st := range s.states {
		for _, want := range states {
			if st == want {
				n++
			}
		}
	}
	return n
}

// MarkRecorded flips the recorded flag, returning true exactly once. The
// history recorder uses this to guard against double-delivered completion
// signals.
func (s *Session) MarkRecorded() bool {
	return s.recorded.CompareAndSwap(false, true)
}

// Recorded reports whether the session has been handed to history.
func (s *Session) Recorded() bool { return s.recorded.Load() }

// Elapsed returns wall time since the session started.
func (s *Session) Elapsed() time.Duration { return time.Since(s.StartedAt) }
