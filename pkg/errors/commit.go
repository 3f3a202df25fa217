package errors

import (
	"errors"
	"fmt"
)

// CommitStep names the stage of a revision commit that failed.
type CommitStep string

const (
	CommitStepLoad         CommitStep = "LOAD"
	CommitStepImagePromote CommitStep = "IMAGE_PROMOTE"
	CommitStepApplyRows    CommitStep = "APPLY_ROWS"
	CommitStepCleanup      CommitStep = "CLEANUP"
)

// CommitError reports a failure inside a dual-approved revision commit.
// Retryable is true when every step up to and including Step can be safely re-run.
type CommitError struct {
	RevisionID string
	Step       CommitStep
	Entity     string
	Retryable  bool
	Err        error
}

// Error implements the error interface.
func (e *CommitError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("commit revision %s failed at %s (%s): %v", e.RevisionID, e.Step, e.Entity, e.Err)
}

// Unwrap exposes the underlying storage or persistence error.
func (e *CommitError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// AsCommitError extracts a CommitError from the chain.
func AsCommitError(err error) (*CommitError, bool) {
	var ce *CommitError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}
