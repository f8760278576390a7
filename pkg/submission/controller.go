package submission

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/goliatone/go-catalogform/pkg/buffer"
	"github.com/goliatone/go-catalogform/pkg/errchan"
	"github.com/goliatone/go-catalogform/pkg/resolver"
	"github.com/goliatone/go-catalogform/pkg/schema"
	"github.com/goliatone/go-catalogform/pkg/validation"
)

// Outcome describes a finished Execute call.
type Outcome struct {
	State      State
	Descriptor *resolver.Descriptor
	Validation validation.Result
	Job        Job
	Receipt    Receipt
}

// Option customises a Controller.
type Option func(*Controller)

// WithValidator overrides the default validator.
func WithValidator(v *validation.Validator) Option {
	return func(c *Controller) {
		if v != nil {
			c.validator = v
		}
	}
}

// WithSink sets the ambient error channel used for submission failures.
func WithSink(sink errchan.Sink) Option {
	return func(c *Controller) {
		if sink != nil {
			c.sink = sink
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Controller executes one session's submissions.
type Controller struct {
	resolver  *resolver.Resolver
	buffers   *buffer.Manager
	submitter Submitter
	validator *validation.Validator
	sink      errchan.Sink
	logger    *zap.Logger

	mu     sync.Mutex
	state  State
	errors validation.Result
}

// New constructs a Controller over the session's resolver and buffers.
func New(res *resolver.Resolver, buffers *buffer.Manager, submitter Submitter, options ...Option) *Controller {
	c := &Controller{
		resolver:  res,
		buffers:   buffers,
		submitter: submitter,
		validator: validation.New(),
		sink:      errchan.Discard,
		logger:    zap.NewNop(),
		state:     StateIdle,
	}
	for _, opt := range options {
		if opt == nil {
			continue
		}
		opt(c)
	}
	return c
}

// State returns the current controller state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Errors returns the errors published by the last validation.
func (c *Controller) Errors() validation.Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errors
}

// Reset returns the controller to Idle and drops published errors. It is a
// no-op while a submission is in flight.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateSubmitting {
		return
	}
	c.state = StateIdle
	c.errors = validation.Result{}
}

// Execute merges and validates the buffers and submits the merged document
// when validation passes. Validation failures are returned in the Outcome
// with a nil error; only submission failures are returned as errors.
func (c *Controller) Execute(ctx context.Context) (Outcome, error) {
	c.mu.Lock()
	if c.state == StateSubmitting {
		c.mu.Unlock()
		return Outcome{State: StateSubmitting}, ErrInFlight
	}
	c.state = StateValidating
	c.errors = validation.Result{}

	var (
		desc   *resolver.Descriptor
		merged buffer.Values
		result validation.Result
	)
	c.resolver.View(func(state resolver.State) {
		desc = state.Descriptor
		if desc == nil {
			return
		}
		var secondary *schema.Schema
		if state.Secondary != nil {
			secondary = &state.Secondary.Schema
		}
		merged = c.buffers.Merge(state.HasSecondary())
		result = c.validator.Validate(merged, state.Active, c.buffers.Secondary(), secondary)
	})

	if desc == nil {
		c.state = StateIdle
		c.mu.Unlock()
		return Outcome{State: StateIdle}, ErrNoDescriptor
	}

	outcome := Outcome{Descriptor: desc, Validation: result}
	if !result.Passed {
		c.state = StateFailedValidation
		c.errors = result
		c.mu.Unlock()
		c.logger.Debug("validation failed",
			zap.String("item", desc.ItemID()),
			zap.Int("primary_errors", len(result.PrimaryErrors)),
			zap.Int("secondary_errors", len(result.SecondaryErrors)),
		)
		outcome.State = StateFailedValidation
		return outcome, nil
	}

	c.state = StateSubmitting
	c.mu.Unlock()

	job := Job{ItemID: desc.ItemID(), Version: desc.Version(), Inputs: merged}
	outcome.Job = job
	receipt, err := c.submit(ctx, job)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.state = StateFailedSubmission
		outcome.State = StateFailedSubmission
		subErr := &SubmissionError{ItemID: job.ItemID, Version: job.Version, Err: err}
		c.logger.Warn("job submission failed", zap.Error(subErr))
		c.sink.Report(ctx, errchan.Event{
			Kind:    errchan.KindSubmission,
			Message: fmt.Sprintf("Could not submit %s: %v", job.ItemID, err),
			Err:     subErr,
		})
		return outcome, subErr
	}

	c.state = StateSubmitted
	outcome.State = StateSubmitted
	outcome.Receipt = receipt
	c.logger.Info("job submitted",
		zap.String("item", job.ItemID),
		zap.String("version", job.Version),
		zap.String("job_id", receipt.JobID),
	)
	return outcome, nil
}

func (c *Controller) submit(ctx context.Context, job Job) (Receipt, error) {
	if c.submitter == nil {
		return Receipt{}, ErrNoSubmitter
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return c.submitter.SubmitJob(ctx, job)
}
