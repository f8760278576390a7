// Package submission runs the execute step of a configuration session:
// merge the two buffers, validate them across both schemas and, only when
// validation passes, hand the merged document to the job submitter.
//
// The controller is a small state machine:
//
//	Idle -> Validating -> FailedValidation
//	                   -> Submitting -> Submitted
//	                                 -> FailedSubmission
//
// Every terminal state can be left by calling Execute again.
package submission
