package history

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"council/internal/session"
)

var (
	// ErrNotCompleted rejects recording of failed or cancelled sessions.
	ErrNotCompleted = errors.New("history: session is not completed")

	// ErrAlreadyRecorded guards against double-delivered completion signals.
	ErrAlreadyRecorded = errors.New("history: session already recorded")
)

// Recorder converts a completed session into a Record and appends it to the
// store exactly once.
type Recorder struct {
	store *Store
	log   *zap.Logger
}

// NewRecorder wires a recorder to its store.
func NewRecorder(store *Store, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{store: store, log: logger}
}

// Record persists the session. The session's recorded flag is claimed
// atomically before any I/O, so a retried completion signal gets
// ErrAlreadyRecorded instead of a duplicate row.
func (r *Recorder) Record(s *session.Session) (*Record, error) {
	if s.Status() != session.StatusCompleted {
		return nil, fmt.Errorf("%w: status %s", ErrNotCompleted, s.Status())
	}
	if !s.MarkRecorded() {
		return nil, ErrAlreadyRecorded
	}

	final, ok := s.FinalAnswer()
	if !ok {
		// Completed without a chairman answer cannot happen through the
		// state machine; guard anyway rather than persist a broken record.
		return nil, fmt.Errorf("history: completed session %s has no final answer", s.ID)
	}

	responses := s.Responses()
	delete(responses, s.ChairmanID())

	tokens, cost := s.Totals()
	rec := &Record{
		ID:          s.ID,
		Timestamp:   time.Now().UTC(),
		Query:       s.Query,
		Config:      s.Council,
		Responses:   responses,
		FinalAnswer: final,
		TotalTokens: tokens,
		TotalCost:   cost,
	}

	if err := r.store.Append(rec); err != nil {
		return nil, err
	}
	r.log.Debug("session handed to history", zap.String("session_id", s.ID))
	return rec, nil
}
