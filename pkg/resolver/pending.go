package resolver

import (
	"context"
	"sync"
)

// Outcome describes what happened to a fetch once it completed.
type Outcome int

const (
	// OutcomeRunning means the fetch has not completed yet.
	OutcomeRunning Outcome = iota
	// OutcomeApplied means the fetched schema was installed.
	OutcomeApplied
	// OutcomeStale means the result arrived after the trigger value or the
	// descriptor changed and was dropped.
	OutcomeStale
	// OutcomeFailed means the fetch failed while still current; prior state
	// was kept and the error reported.
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeRunning:
		return "running"
	case OutcomeApplied:
		return "applied"
	case OutcomeStale:
		return "stale"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Pending is the handle of an in-flight secondary schema fetch, keyed by the
// trigger value that started it.
type Pending struct {
	trigger string
	ref     string
	cancel  context.CancelFunc
	done    chan struct{}

	mu      sync.Mutex
	outcome Outcome
	err     error
}

func newPending(trigger, ref string, cancel context.CancelFunc) *Pending {
	return &Pending{
		trigger: trigger,
		ref:     ref,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
}

// Trigger returns the trigger value the fetch was started for.
func (p *Pending) Trigger() string { return p.trigger }

// Ref returns the schema reference being fetched.
func (p *Pending) Ref() string { return p.ref }

// Done is closed once the result has been committed or discarded.
func (p *Pending) Done() <-chan struct{} { return p.done }

// Cancel cancels the fetch context. The result, if any, is still routed
// through the staleness check.
func (p *Pending) Cancel() { p.cancel() }

// Wait blocks until the fetch completes or ctx is done.
func (p *Pending) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-p.done:
		return p.Outcome(), p.Err()
	case <-ctx.Done():
		return OutcomeRunning, ctx.Err()
	}
}

// Outcome reports how the fetch ended.
func (p *Pending) Outcome() Outcome {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.outcome
}

// Err returns the fetch error, if any.
func (p *Pending) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *Pending) finish(outcome Outcome, err error) {
	p.mu.Lock()
	p.outcome = outcome
	p.err = err
	p.mu.Unlock()
	p.cancel()
}
