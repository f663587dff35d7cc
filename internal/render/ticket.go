package render

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	rpperrors "github.com/davidkant/rpp/internal/errors"
	"github.com/davidkant/rpp/internal/sample"
)

// State tracks a render through its lifecycle.
type State int32

const (
	StateIdle State = iota
	StateConfiguring
	StateAwaitingCompletion
	StateDone
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConfiguring:
		return "configuring"
	case StateAwaitingCompletion:
		return "awaiting_completion"
	case StateDone:
		return "done"
	}
	return "unknown"
}

// Result is the outcome of one render.
type Result struct {
	RenderID  string
	Sample    sample.Sample
	Requested time.Time
	Completed time.Time
	Err       error
}

// Elapsed is the time from request to completion.
func (r Result) Elapsed() time.Duration {
	if r.Completed.IsZero() {
		return 0
	}
	return r.Completed.Sub(r.Requested)
}

// Status is "completed", "timeout" or "failed".
func (r Result) Status() string {
	switch {
	case errors.Is(r.Err, rpperrors.ErrTimeout):
		return "timeout"
	case r.Err != nil:
		return "failed"
	}
	return "completed"
}

// Ticket is the caller's handle on a render in flight.
type Ticket struct {
	id    string
	state atomic.Int32
	done  chan struct{}
	once  sync.Once
	res   Result
}

func newTicket(id string, s sample.Sample, requested time.Time) *Ticket {
	t := &Ticket{
		id:   id,
		done: make(chan struct{}),
		res:  Result{RenderID: id, Sample: s, Requested: requested},
	}
	t.state.Store(int32(StateIdle))
	return t
}

func (t *Ticket) RenderID() string { return t.id }

func (t *Ticket) State() State { return State(t.state.Load()) }

func (t *Ticket) setState(s State) { t.state.Store(int32(s)) }

// Done is closed once the render completed, timed out or failed.
func (t *Ticket) Done() <-chan struct{} { return t.done }

// Result returns the outcome. It is only meaningful after Done is closed.
func (t *Ticket) Result() Result {
	<-t.done
	return t.res
}

// Wait blocks until the render resolves or ctx ends.
func (t *Ticket) Wait(ctx context.Context) (Result, error) {
	select {
	case <-t.done:
		return t.res, t.res.Err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// resolve settles the ticket once; later calls are ignored and report false.
func (t *Ticket) resolve(completed time.Time, err error) bool {
	resolved := false
	t.once.Do(func() {
		t.res.Completed = completed
		t.res.Err = err
		t.setState(StateDone)
		close(t.done)
		resolved = true
	})
	return resolved
}
