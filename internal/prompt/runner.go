// Package prompt fills a configuration session interactively: primary form
// first, then the secondary form the trigger field selects, then execute
// with targeted re-prompts for every field that failed validation.
package prompt

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/goliatone/go-catalogform/pkg/buffer"
	"github.com/goliatone/go-catalogform/pkg/resolver"
	"github.com/goliatone/go-catalogform/pkg/schema"
	"github.com/goliatone/go-catalogform/pkg/session"
	"github.com/goliatone/go-catalogform/pkg/submission"
	"github.com/goliatone/go-catalogform/pkg/validation"
)

// ErrGaveUp is returned when the user declines to fix validation errors or
// retry a failed submission.
var ErrGaveUp = errors.New("prompt: execution abandoned")

// RunnerOption customises a Runner.
type RunnerOption func(*Runner)

// WithMaxAttempts bounds the execute/re-prompt loop.
func WithMaxAttempts(n int) RunnerOption {
	return func(r *Runner) {
		if n > 0 {
			r.maxAttempts = n
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *zap.Logger) RunnerOption {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// Runner drives a session through a Driver.
type Runner struct {
	session     *session.Session
	driver      Driver
	maxAttempts int
	logger      *zap.Logger

	pending *resolver.Pending
}

// NewRunner constructs a Runner for s.
func NewRunner(s *session.Session, driver Driver, opts ...RunnerOption) *Runner {
	r := &Runner{
		session:     s,
		driver:      driver,
		maxAttempts: 5,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(r)
	}
	return r
}

// Run prompts for both forms and executes the session.
func (r *Runner) Run(ctx context.Context) (submission.Outcome, error) {
	desc := r.session.Descriptor()
	if desc == nil {
		return submission.Outcome{}, session.ErrNoDescriptor
	}
	primary := desc.Primary()
	if title := primary.Title(); title != "" {
		_ = r.driver.Info(ctx, title)
	}

	if err := r.fillPrimary(ctx, primary, orderedFields(primary)); err != nil {
		return submission.Outcome{}, err
	}
	loadedFor, err := r.fillSecondary(ctx, "", nil)
	if err != nil {
		return submission.Outcome{}, err
	}

	for attempt := 1; ; attempt++ {
		outcome, err := r.session.Execute(ctx)
		switch {
		case err != nil && outcome.State == submission.StateFailedSubmission:
			_ = r.driver.Info(ctx, fmt.Sprintf("Submission failed: %v", errors.Unwrap(err)))
			if attempt >= r.maxAttempts || !r.confirm(ctx, "Retry submission?") {
				return outcome, err
			}
			continue
		case err != nil:
			return outcome, err
		case outcome.State == submission.StateSubmitted:
			_ = r.driver.Info(ctx, fmt.Sprintf("Job %s submitted.", outcome.Receipt.JobID))
			return outcome, nil
		}

		r.report(ctx, outcome.Validation)
		if attempt >= r.maxAttempts || !r.confirm(ctx, "Fix the highlighted fields?") {
			return outcome, ErrGaveUp
		}

		fields := fieldsOf(outcome.Validation.ErrorsFor(validation.OwnerPrimary), primary)
		if err := r.fillPrimary(ctx, primary, fields); err != nil {
			return outcome, err
		}
		secondaryFields := keysOf(outcome.Validation.ErrorsFor(validation.OwnerSecondary))
		loadedFor, err = r.fillSecondary(ctx, loadedFor, secondaryFields)
		if err != nil {
			return outcome, err
		}
	}
}

func (r *Runner) fillPrimary(ctx context.Context, primary schema.Schema, fields []string) error {
	p := fieldPrompter{
		driver: r.driver,
		get:    r.lookup(func(s session.Snapshot) buffer.Values { return s.Primary }),
		set: func(ctx context.Context, path string, value any) error {
			pending, err := r.session.SetPrimaryValue(ctx, path, value)
			if err != nil {
				return err
			}
			if pending != nil {
				r.pending = pending
			}
			return nil
		},
	}
	for _, name := range fields {
		field, ok := primary.Property(name)
		if !ok {
			continue
		}
		if err := p.prompt(ctx, name, field, primary.IsRequired(name)); err != nil {
			return err
		}
	}
	return nil
}

// fillSecondary waits for an in-flight schema fetch and prompts the
// secondary form. A newly installed schema is prompted in full; otherwise
// only fields is prompted. It returns the trigger value of the schema that
// was prompted.
func (r *Runner) fillSecondary(ctx context.Context, previous string, fields []string) (string, error) {
	if r.pending != nil {
		pending := r.pending
		r.pending = nil
		outcome, err := pending.Wait(ctx)
		if err != nil && outcome == resolver.OutcomeRunning {
			return previous, err
		}
		if outcome == resolver.OutcomeFailed {
			_ = r.driver.Info(ctx, fmt.Sprintf("Could not load the %q form: %v", pending.Trigger(), pending.Err()))
		}
	}

	state := r.session.State().Resolver
	if !state.HasSecondary() {
		return "", nil
	}
	secondary := state.Secondary.Schema
	if state.Secondary.LoadedFor != previous {
		fields = orderedFields(secondary)
		if title := secondary.Title(); title != "" {
			_ = r.driver.Info(ctx, title)
		}
	}

	p := fieldPrompter{
		driver: r.driver,
		get:    r.lookup(func(s session.Snapshot) buffer.Values { return s.Secondary }),
		set: func(_ context.Context, path string, value any) error {
			return r.session.SetSecondaryValue(path, value)
		},
	}
	for _, name := range fields {
		field, ok := secondary.Property(name)
		if !ok {
			continue
		}
		if err := p.prompt(ctx, name, field, secondary.IsRequired(name)); err != nil {
			return state.Secondary.LoadedFor, err
		}
	}
	return state.Secondary.LoadedFor, nil
}

func (r *Runner) lookup(pick func(session.Snapshot) buffer.Values) Getter {
	return func(path string) (any, bool) {
		return buffer.Lookup(pick(r.session.State()), path)
	}
}

func (r *Runner) report(ctx context.Context, result validation.Result) {
	write := func(title string, errs map[string][]string) {
		if len(errs) == 0 {
			return
		}
		_ = r.driver.Info(ctx, title)
		for _, field := range keysOf(errs) {
			for _, message := range errs[field] {
				_ = r.driver.Info(ctx, fmt.Sprintf("  %s: %s", field, message))
			}
		}
	}
	write("Main form:", result.ErrorsFor(validation.OwnerPrimary))
	write("Additional form:", result.ErrorsFor(validation.OwnerSecondary))
}

func (r *Runner) confirm(ctx context.Context, message string) bool {
	ok, err := r.driver.Confirm(ctx, ConfirmConfig{Message: message, Default: true})
	if err != nil {
		r.logger.Debug("confirm failed", zap.Error(err))
		return false
	}
	return ok
}

// orderedFields lists properties with the trigger field last so the
// secondary form follows it directly.
func orderedFields(s schema.Schema) []string {
	trigger := s.TriggerField()
	fields := make([]string, 0, len(s.Properties()))
	hasTrigger := false
	for _, name := range s.Properties() {
		if name == trigger && !s.SchemaMap().Empty() {
			hasTrigger = true
			continue
		}
		fields = append(fields, name)
	}
	if hasTrigger {
		fields = append(fields, trigger)
	}
	return fields
}

func fieldsOf(errs map[string][]string, s schema.Schema) []string {
	var out []string
	for _, field := range keysOf(errs) {
		if s.HasProperty(field) {
			out = append(out, field)
		}
	}
	return out
}

func keysOf(errs map[string][]string) []string {
	out := make([]string, 0, len(errs))
	for key := range errs {
		if key == validation.FormField {
			continue
		}
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}
