// Package protocol decodes raw transport messages into the closed set of
// typed events the execution state machine consumes. Decoding is pure
// classification: it never touches session state.
package protocol

import (
	"encoding/json"
	"fmt"
)

// MessageType is the wire-level discriminator on every inbound message.
type MessageType string

const (
	TypeResponse    MessageType = "response"
	TypeFinalAnswer MessageType = "final_answer"
	TypeStage       MessageType = "stage"
	TypeComplete    MessageType = "complete"
	TypeError       MessageType = "error"
)

// Event is one decoded protocol event.
type Event interface {
	eventKind() MessageType
}

// ParticipantResponseEvent carries a streaming fragment (or, with Done set,
// the final fragment) of one participant's answer.
type ParticipantResponseEvent struct {
	ParticipantID string
	Content       string
	Tokens        int
	Cost          float64
	Done          bool
}

// FinalAnswerEvent carries the chairman's synthesized answer.
type FinalAnswerEvent struct {
	Content string
	Tokens  int
	Cost    float64
}

// StageAdvanceEvent is an explicit stage signal from the backend. Stage is
// otherwise inferred from participant completion, so this event is optional
// on the wire.
type StageAdvanceEvent struct {
	Stage int
}

// SessionCompleteEvent signals successful termination of the whole session.
type SessionCompleteEvent struct{}

// SessionErrorEvent signals a failure. With ParticipantID set it is scoped to
// that participant; empty means the whole session failed.
type SessionErrorEvent struct {
	ParticipantID string
	Message       string
}

func (ParticipantResponseEvent) eventKind() MessageType { return TypeResponse }
func (FinalAnswerEvent) eventKind() MessageType         { return TypeFinalAnswer }
func (StageAdvanceEvent) eventKind() MessageType        { return TypeStage }
func (SessionCompleteEvent) eventKind() MessageType     { return TypeComplete }
func (SessionErrorEvent) eventKind() MessageType        { return TypeError }

// DecodeError reports a malformed or unrecognized wire message. The state
// machine fails the session when it sees one; the original cause is preserved
// for the caller.
type DecodeError struct {
	Reason string
	Raw    []byte
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("protocol decode: %s", e.Reason)
}

// wireMessage is the superset envelope for all inbound message types.
type wireMessage struct {
	Type    MessageType `json:"type"`
	NodeID  string      `json:"nodeId,omitempty"`
	Content string      `json:"content,omitempty"`
	Tokens  int         `json:"tokens,omitempty"`
	Cost    float64     `json:"cost,omitempty"`
	Done    bool        `json:"done,omitempty"`
	Stage   int         `json:"stage,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Decode classifies one raw transport message into exactly one Event.
// Unrecognized types and missing required fields yield a *DecodeError and no
// event.
func Decode(raw []byte) (Event, error) {
	var msg wireMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, &DecodeError{Reason: fmt.Sprintf("malformed message: %v", err), Raw: raw}
	}

	switch msg.Type {
	case TypeResponse:
		if msg.NodeID == "" {
			return nil, &DecodeError{Reason: "response message missing nodeId", Raw: raw}
		}
		return ParticipantResponseEvent{
			ParticipantID: msg.NodeID,
			Content:       msg.Content,
			Tokens:        msg.Tokens,
			Cost:          msg.Cost,
			Done:          msg.Done,
		}, nil

	case TypeFinalAnswer:
		if msg.Content == "" {
			return nil, &DecodeError{Reason: "final_answer message missing content", Raw: raw}
		}
		return FinalAnswerEvent{Content: msg.Content, Tokens: msg.Tokens, Cost: msg.Cost}, nil

	case TypeStage:
		if msg.Stage < 1 || msg.Stage > 3 {
			return nil, &DecodeError{Reason: fmt.Sprintf("stage message with invalid stage %d", msg.Stage), Raw: raw}
		}
		return StageAdvanceEvent{Stage: msg.Stage}, nil

	case TypeComplete:
		return SessionCompleteEvent{}, nil

	case TypeError:
		if msg.Error == "" {
			return nil, &DecodeError{Reason: "error message missing error field", Raw: raw}
		}
		return SessionErrorEvent{ParticipantID: msg.NodeID, Message: msg.Error}, nil

	case "":
		return nil, &DecodeError{Reason: "message missing type field", Raw: raw}

	default:
		return nil, &DecodeError{Reason: fmt.Sprintf("unrecognized message type %q", msg.Type), Raw: raw}
	}
}

// Request is the payload sent once when a session starts.
type Request struct {
	Query   string      `json:"query"`
	Council interface{} `json:"council"`
}

// EncodeRequest serializes the initial execution request.
func EncodeRequest(query string, def interface{}) ([]byte, error) {
	data, err := json.Marshal(Request{Query: query, Council: def})
	if err != nil {
		return nil, fmt.Errorf("encode execution request: %w", err)
	}
	return data, nil
}
