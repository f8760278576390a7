package resolver

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/goliatone/go-catalogform/pkg/errchan"
	"github.com/goliatone/go-catalogform/pkg/schema"
)

// Fetcher loads a secondary schema referenced from a schema map. Any error
// is treated as recoverable: prior state is kept and the error is reported.
type Fetcher interface {
	FetchSchema(ctx context.Context, itemID, version, ref string) (schema.Schema, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, itemID, version, ref string) (schema.Schema, error)

// FetchSchema calls f.
func (f FetcherFunc) FetchSchema(ctx context.Context, itemID, version, ref string) (schema.Schema, error) {
	return f(ctx, itemID, version, ref)
}

// Resolved is a secondary schema installed for a specific trigger value.
type Resolved struct {
	Schema    schema.Schema
	Ref       string
	LoadedFor string
}

// State is a point-in-time view of the resolver.
type State struct {
	Descriptor *Descriptor
	Active     schema.Schema
	Secondary  *Resolved
}

// HasSecondary reports whether a secondary schema is installed.
func (s State) HasSecondary() bool {
	return s.Secondary != nil
}

// ResolutionError reports a failed secondary schema fetch.
type ResolutionError struct {
	ItemID  string
	Version string
	Trigger string
	Ref     string
	Err     error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolver: load schema %q for %s@%s (trigger %q): %v", e.Ref, e.ItemID, e.Version, e.Trigger, e.Err)
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

// Option customises a Resolver.
type Option func(*Resolver)

// WithLogger sets the structured logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithSink sets the ambient error channel used for fetch failures.
func WithSink(sink errchan.Sink) Option {
	return func(r *Resolver) {
		if sink != nil {
			r.sink = sink
		}
	}
}

// WithOnInstall registers a hook invoked, while the new state is pinned,
// each time a secondary schema is installed.
func WithOnInstall(fn func(Resolved)) Option {
	return func(r *Resolver) {
		r.onInstall = fn
	}
}

// WithOnReset registers a hook invoked, while the new state is pinned, each
// time the resolver is reset for a descriptor.
func WithOnReset(fn func(*Descriptor)) Option {
	return func(r *Resolver) {
		r.onReset = fn
	}
}

// Resolver tracks the active descriptor, the installed secondary schema and
// at most one in-flight fetch.
type Resolver struct {
	fetcher   Fetcher
	logger    *zap.Logger
	sink      errchan.Sink
	onInstall func(Resolved)
	onReset   func(*Descriptor)

	mu         sync.Mutex
	desc       *Descriptor
	generation uint64
	current    string
	secondary  *Resolved
	pending    *Pending
	wg         sync.WaitGroup
}

// New constructs a Resolver backed by fetcher.
func New(fetcher Fetcher, options ...Option) *Resolver {
	r := &Resolver{
		fetcher: fetcher,
		logger:  zap.NewNop(),
		sink:    errchan.Discard,
	}
	for _, opt := range options {
		if opt == nil {
			continue
		}
		opt(r)
	}
	return r
}

// Reset discards all state and scopes the resolver to desc. Any in-flight
// fetch becomes stale.
func (r *Resolver) Reset(desc *Descriptor) State {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resetLocked(desc)
	return r.stateLocked()
}

// ResetIfCurrent resets the resolver only while desc is still the active
// descriptor. It reports whether the reset happened.
func (r *Resolver) ResetIfCurrent(desc *Descriptor) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if desc == nil || desc != r.desc {
		return false
	}
	r.resetLocked(desc)
	return true
}

// Resolve re-evaluates the trigger field of primary. A descriptor instance
// different from the current one resets all state first. When a fetch is
// started (or one for the same trigger value is already running) its handle
// is returned; otherwise the returned Pending is nil.
func (r *Resolver) Resolve(ctx context.Context, desc *Descriptor, primary map[string]any) (State, *Pending) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if desc == nil {
		return r.stateLocked(), nil
	}
	if desc != r.desc {
		r.resetLocked(desc)
	}

	primarySchema := desc.Primary()
	field := primarySchema.TriggerField()
	trigger := TriggerValue(primary[field])
	r.current = trigger

	mapping := primarySchema.SchemaMap()
	if mapping.Empty() || trigger == "" {
		if r.secondary != nil {
			r.logger.Debug("trigger cleared, dropping secondary schema",
				zap.String("field", field),
				zap.String("loaded_for", r.secondary.LoadedFor),
			)
		}
		r.cancelPendingLocked()
		r.secondary = nil
		return r.stateLocked(), nil
	}

	if r.secondary != nil && r.secondary.LoadedFor == trigger {
		r.cancelPendingLocked()
		return r.stateLocked(), nil
	}
	if r.pending != nil && r.pending.trigger == trigger {
		return r.stateLocked(), r.pending
	}

	ref, ok := mapping.Lookup(trigger)
	if !ok {
		// Unmapped values keep the installed schema; only the in-flight
		// fetch for an older value is abandoned.
		r.logger.Debug("trigger value has no schema mapping",
			zap.String("field", field),
			zap.String("value", trigger),
		)
		r.cancelPendingLocked()
		return r.stateLocked(), nil
	}

	r.cancelPendingLocked()
	if ctx == nil {
		ctx = context.Background()
	}
	fetchCtx, cancel := context.WithCancel(ctx)
	pending := newPending(trigger, ref, cancel)
	r.pending = pending

	r.logger.Debug("loading secondary schema",
		zap.String("item", desc.ItemID()),
		zap.String("version", desc.Version()),
		zap.String("field", field),
		zap.String("value", trigger),
		zap.String("ref", ref),
	)

	r.wg.Add(1)
	go r.fetch(fetchCtx, pending, desc, r.generation)

	return r.stateLocked(), pending
}

// State returns the current state.
func (r *Resolver) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stateLocked()
}

// View runs fn with the current state while no fetch result can be
// committed. fn must not call back into the resolver.
func (r *Resolver) View(fn func(State)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(r.stateLocked())
}

// Close abandons any in-flight fetch and waits for fetch goroutines to exit.
func (r *Resolver) Close() {
	r.mu.Lock()
	r.generation++
	r.cancelPendingLocked()
	r.mu.Unlock()
	r.wg.Wait()
}

func (r *Resolver) fetch(ctx context.Context, pending *Pending, desc *Descriptor, generation uint64) {
	defer r.wg.Done()
	defer close(pending.done)

	if r.fetcher == nil {
		r.commit(ctx, pending, desc, generation, schema.Schema{}, fmt.Errorf("resolver: fetcher is not configured"))
		return
	}
	loaded, err := r.fetcher.FetchSchema(ctx, desc.ItemID(), desc.Version(), pending.ref)
	r.commit(ctx, pending, desc, generation, loaded, err)
}

func (r *Resolver) commit(ctx context.Context, pending *Pending, desc *Descriptor, generation uint64, loaded schema.Schema, err error) {
	r.mu.Lock()
	if r.pending == pending {
		r.pending = nil
	}
	if generation != r.generation || r.current != pending.trigger {
		current := r.current
		r.mu.Unlock()
		pending.finish(OutcomeStale, err)
		r.logger.Debug("discarding stale schema fetch",
			zap.String("value", pending.trigger),
			zap.String("current", current),
		)
		return
	}

	if err != nil {
		r.mu.Unlock()
		pending.finish(OutcomeFailed, err)
		resErr := &ResolutionError{
			ItemID:  desc.ItemID(),
			Version: desc.Version(),
			Trigger: pending.trigger,
			Ref:     pending.ref,
			Err:     err,
		}
		r.logger.Warn("secondary schema fetch failed", zap.Error(resErr))
		r.sink.Report(ctx, errchan.Event{
			Kind:    errchan.KindResolution,
			Message: fmt.Sprintf("Could not load the %q form: %v", pending.trigger, err),
			Err:     resErr,
		})
		return
	}

	resolved := Resolved{Schema: loaded, Ref: pending.ref, LoadedFor: pending.trigger}
	r.secondary = &resolved
	if r.onInstall != nil {
		r.onInstall(resolved)
	}
	r.mu.Unlock()

	pending.finish(OutcomeApplied, nil)
	r.logger.Debug("secondary schema installed",
		zap.String("value", resolved.LoadedFor),
		zap.String("ref", resolved.Ref),
		zap.String("title", loaded.Title()),
	)
}

func (r *Resolver) resetLocked(desc *Descriptor) {
	r.cancelPendingLocked()
	r.desc = desc
	r.generation++
	r.current = ""
	r.secondary = nil
	if r.onReset != nil {
		r.onReset(desc)
	}
}

func (r *Resolver) cancelPendingLocked() {
	if r.pending == nil {
		return
	}
	r.pending.cancel()
	r.pending = nil
}

func (r *Resolver) stateLocked() State {
	state := State{Descriptor: r.desc}
	if r.desc != nil {
		state.Active = r.desc.Primary()
	}
	if r.secondary != nil {
		copied := *r.secondary
		state.Secondary = &copied
	}
	return state
}

// TriggerValue renders a primary field value as a schema-map key. Falsy
// values (missing, false, 0, NaN) and unsupported values yield the empty
// string, which clears the secondary schema.
func TriggerValue(value any) string {
	switch typed := value.(type) {
	case nil:
		return ""
	case string:
		return typed
	case bool:
		if !typed {
			return ""
		}
		return strconv.FormatBool(typed)
	case float64:
		if typed == 0 || math.IsNaN(typed) {
			return ""
		}
		return strconv.FormatFloat(typed, 'f', -1, 64)
	case int:
		if typed == 0 {
			return ""
		}
		return strconv.Itoa(typed)
	default:
		return ""
	}
}
