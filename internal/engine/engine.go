// Package engine drives one council execution: it opens the transport, sends
// the execution request, and pulls events through decode -> apply -> progress
// until the session reaches a terminal status. Completed sessions are handed
// to the history recorder exactly once.
//
// All session mutation happens on the run's consumer goroutine; callers
// interact through Cancel and read the session after Done.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"council/internal/council"
	"council/internal/history"
	"council/internal/progress"
	"council/internal/protocol"
	"council/internal/session"
)

// Transport is the engine's view of the backend connection. The concrete
// implementation lives in internal/transport.
type Transport interface {
	Send(ctx context.Context, payload []byte) error
	Next(ctx context.Context) ([]byte, error)
	Close() error
}

// Dialer opens a Transport to the given endpoint.
type Dialer func(ctx context.Context, url string) (Transport, error)

// StartPolicy decides what Start does while another session is running in
// the slot.
type StartPolicy int

const (
	// PolicyReject refuses a new session while one is running.
	PolicyReject StartPolicy = iota
	// PolicyPreempt cancels the running session, waits for it to settle,
	// then starts the new one.
	PolicyPreempt
)

// ErrAlreadyRunning is returned by Start under PolicyReject while a session
// is in flight.
var ErrAlreadyRunning = errors.New("engine: a session is already running")

// Hooks are optional observation points, invoked from the consumer goroutine.
type Hooks struct {
	OnEvent    func(protocol.Event)
	OnProgress func(progress.Report)
}

// Options configures a Runner.
type Options struct {
	URL      string
	Dial     Dialer
	Recorder *history.Recorder
	Policy   StartPolicy
	Hooks    Hooks
	Logger   *zap.Logger
}

// Runner owns one logical conversation slot: at most one running session at
// a time.
type Runner struct {
	opts Options
	log  *zap.Logger

	mu     sync.Mutex
	active *Run
}

// New builds a Runner. URL and Dial are required.
func New(opts Options) (*Runner, error) {
	if opts.URL == "" {
		return nil, errors.New("engine: backend URL required")
	}
	if opts.Dial == nil {
		return nil, errors.New("engine: dialer required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Runner{opts: opts, log: opts.Logger}, nil
}

// Start submits a query against a council. Under PolicyReject a second Start
// while a session runs returns ErrAlreadyRunning; under PolicyPreempt the
// prior session is cancelled and awaited first. Never a silent replacement.
func (r *Runner) Start(ctx context.Context, query string, def *council.Definition) (*Run, error) {
	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	run := &Run{
		sess:     session.New(query, def),
		recorder: r.opts.Recorder,
		hooks:    r.opts.Hooks,
		log:      r.log,
		cancelCh: make(chan struct{}),
		consumed: make(chan struct{}),
		done:     make(chan struct{}),
	}

	// Claim the slot before touching the network. The loop re-checks the
	// slot after every preempt wait: a racing Start may have claimed it
	// while the lock was released, and that run is preempted in turn.
	r.mu.Lock()
	for prev := r.active; prev != nil && !prev.Finished(); prev = r.active {
		if r.opts.Policy == PolicyReject {
			r.mu.Unlock()
			return nil, ErrAlreadyRunning
		}
		r.mu.Unlock()
		r.log.Info("preempting running session", zap.String("session_id", prev.Session().ID))
		prev.Cancel()
		<-prev.Done()
		r.mu.Lock()
	}
	r.active = run
	r.mu.Unlock()

	t, err := r.opts.Dial(ctx, r.opts.URL)
	if err != nil {
		return nil, r.release(run, fmt.Errorf("engine: %w", err))
	}
	run.transport = t

	payload, err := protocol.EncodeRequest(query, def)
	if err != nil {
		_ = t.Close()
		return nil, r.release(run, err)
	}
	if err := t.Send(ctx, payload); err != nil {
		_ = t.Close()
		return nil, r.release(run, fmt.Errorf("engine: %w", err))
	}

	r.log.Info("session started",
		zap.String("session_id", run.sess.ID),
		zap.Int("participants", def.Size()))

	go run.start(ctx)
	return run, nil
}

// release gives the slot back for a run that failed before its consumer
// goroutine started. The run settles as failed so a preempting Start that
// is already waiting on it unblocks.
func (r *Runner) release(run *Run, err error) error {
	run.sess.Fail(err)
	run.err = err
	close(run.done)
	r.mu.Lock()
	if r.active == run {
		r.active = nil
	}
	r.mu.Unlock()
	return err
}

// Active returns the current run, which may already be finished.
func (r *Runner) Active() *Run {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Run is one in-flight (or settled) execution.
type Run struct {
	sess      *session.Session
	transport Transport
	recorder  *history.Recorder
	hooks     Hooks
	log       *zap.Logger

	cancelRequested atomic.Bool
	cancelOnce      sync.Once
	cancelCh        chan struct{}

	consumed chan struct{}
	done     chan struct{}

	// Written by the consumer goroutine before done closes.
	record *history.Record
	err    error
}

func (run *Run) start(ctx context.Context) {
	defer close(run.done)

	var g errgroup.Group
	g.Go(func() error {
		defer close(run.consumed)
		run.consume(ctx)
		return nil
	})
	// Cancellation is realized by closing the transport: the pending read
	// unblocks and the consumer settles the session.
	g.Go(func() error {
		select {
		case <-ctx.Done():
			run.cancelRequested.Store(true)
		case <-run.cancelCh:
		case <-run.consumed:
		}
		return run.transport.Close()
	})
	_ = g.Wait()
}

func (run *Run) consume(ctx context.Context) {
	s := run.sess
	for {
		raw, err := run.transport.Next(ctx)
		if err != nil {
			if run.cancelRequested.Load() || ctx.Err() != nil {
				s.Cancel()
			} else {
				s.Fail(fmt.Errorf("transport: %w", err))
			}
			break
		}

		// An event that raced a cancellation is discarded, not applied.
		if run.cancelRequested.Load() {
			s.Cancel()
			break
		}

		ev, err := protocol.Decode(raw)
		if err != nil {
			s.Fail(err)
			break
		}

		if run.hooks.OnEvent != nil {
			run.hooks.OnEvent(ev)
		}
		if err := s.Apply(ev); err != nil {
			run.log.Warn("protocol violation", zap.String("session_id", s.ID), zap.Error(err))
		}
		if run.hooks.OnProgress != nil {
			run.hooks.OnProgress(progress.Compute(s))
		}
		if s.Status().Terminal() {
			break
		}
	}

	run.err = s.Failure()
	run.finish()
}

func (run *Run) finish() {
	s := run.sess
	switch s.Status() {
	case session.StatusCompleted:
		if run.recorder != nil {
			rec, err := run.recorder.Record(s)
			switch {
			case err == nil:
				run.record = rec
			case errors.Is(err, history.ErrAlreadyRecorded):
				// Retried completion; first write won.
			default:
				run.log.Error("failed to record session", zap.String("session_id", s.ID), zap.Error(err))
			}
		}
		run.log.Info("session completed", zap.String("session_id", s.ID))
	case session.StatusCancelled:
		run.log.Info("session cancelled", zap.String("session_id", s.ID))
	case session.StatusFailed:
		run.log.Warn("session failed", zap.String("session_id", s.ID), zap.Error(s.Failure()))
	}
}

// Cancel requests cancellation. Idempotent; the session settles as cancelled
// and later transport events are discarded.
func (run *Run) Cancel() {
	run.cancelRequested.Store(true)
	run.cancelOnce.Do(func() { close(run.cancelCh) })
}

// Done closes once the session has settled and, for completed sessions,
// history recording has finished.
func (run *Run) Done() <-chan struct{} { return run.done }

// Wait blocks until the run settles or ctx expires.
func (run *Run) Wait(ctx context.Context) error {
	select {
	case <-run.done:
		return run.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Finished reports whether the run has settled.
func (run *Run) Finished() bool {
	select {
	case <-run.done:
		return true
	default:
		return false
	}
}

// Session exposes the session model. Mutated by the consumer goroutine until
// Done; read it after that, or from inside hooks.
func (run *Run) Session() *session.Session { return run.sess }

// Err returns the terminal failure, nil for completed and cancelled runs.
// Valid after Done.
func (run *Run) Err() error { return run.err }

// Record returns the history record, nil unless the run completed and was
// recorded. Valid after Done.
func (run *Run) Record() *history.Record { return run.record }
