// Package progress derives completion metrics from a session. The authoritative
// percentage is a pure function of participant states; the smoother on top is
// purely presentational and never feeds back into completion detection.
package progress

import (
	"time"

	"council/internal/session"
)

const (
	// streamingBonus is the total percentage-point pool distributed across
	// in-flight participants, 15/N points each.
	streamingBonus = 15.0

	// runningCap keeps the displayed percentage below 100 until the session
	// actually completes.
	runningCap = 99.0

	// smoothingFactor is the fraction of the remaining gap the smoothed
	// value closes per tick.
	smoothingFactor = 0.1
)

// Report is one progress observation.
type Report struct {
	Percent     float64
	TotalTokens int
	TotalCost   float64
	Elapsed     time.Duration
}

// Compute derives the authoritative progress for a session. Settled
// participants (complete or errored) contribute their full share; streaming
// and active ones a fixed bonus. The result is monotonically non-decreasing
// while the session runs, and exactly 100 only once it has completed.
func Compute(s *session.Session) Report {
	tokens, cost := s.Totals()
	r := Report{
		TotalTokens: tokens,
		TotalCost:   cost,
		Elapsed:     s.Elapsed(),
	}

	total := s.Council.Size()
	if total == 0 {
		return r
	}

	if s.Status() == session.StatusCompleted {
		r.Percent = 100
		return r
	}

	settled := s.CountByState(session.StateComplete, session.StateError)
	inflight := s.CountByState(session.StateStreaming, session.StateActive)

	pct := float64(settled)/float64(total)*100 + float64(inflight)*streamingBonus/float64(total)
	if pct > runningCap {
		pct = runningCap
	}
	r.Percent = pct
	return r
}

// Smoother eases the displayed percentage toward the authoritative target so
// progress renders continuously instead of in steps.
type Smoother struct {
	displayed float64
}

// Tick moves the displayed value 10% of the way toward target and returns it.
// A target of 100 snaps immediately so a completed session never shows 99.x.
func (m *Smoother) Tick(target float64) float64 {
	if target >= 100 {
		m.displayed = 100
		return m.displayed
	}
	m.displayed += (target - m.displayed) * smoothingFactor
	return m.displayed
}

// Value returns the current displayed percentage without advancing it.
func (m *Smoother) Value() float64 { return m.displayed }
