package submission

import (
	"context"
	"errors"
	"fmt"
)

// Job is the payload handed to the job submitter.
type Job struct {
	ItemID  string         `json:"item_id"`
	Version string         `json:"version"`
	Inputs  map[string]any `json:"inputs"`
}

// Receipt acknowledges an accepted job.
type Receipt struct {
	JobID string `json:"job_id"`
}

// Submitter hands a validated job to the execution backend.
type Submitter interface {
	SubmitJob(ctx context.Context, job Job) (Receipt, error)
}

// SubmitterFunc adapts a function to Submitter.
type SubmitterFunc func(ctx context.Context, job Job) (Receipt, error)

// SubmitJob calls f.
func (f SubmitterFunc) SubmitJob(ctx context.Context, job Job) (Receipt, error) {
	return f(ctx, job)
}

var (
	// ErrInFlight is returned when Execute is called while a submission is
	// still running.
	ErrInFlight = errors.New("submission: a submission is already in flight")
	// ErrNoDescriptor is returned when Execute runs before a descriptor was set.
	ErrNoDescriptor = errors.New("submission: no descriptor is active")
	// ErrNoSubmitter is returned when the controller has no submitter.
	ErrNoSubmitter = errors.New("submission: submitter is not configured")
)

// SubmissionError wraps a failed job submission.
type SubmissionError struct {
	ItemID  string
	Version string
	Err     error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("submission: submit %s@%s: %v", e.ItemID, e.Version, e.Err)
}

func (e *SubmissionError) Unwrap() error {
	return e.Err
}
