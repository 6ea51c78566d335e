package screening

import (
	"errors"
	"fmt"
)

// ErrPassInProgress is returned when a pass is requested while another one is
// still running in the same workspace.
var ErrPassInProgress = errors.New("screening: a comparison pass is already in progress")

// errSuperseded stops a pass whose workspace was cleared underneath it.
var errSuperseded = errors.New("screening: pass superseded by clear")

// ValidationError reports that a pass cannot start with the current inputs.
// Nothing is changed when it is returned.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "screening: " + e.Reason
}

// ComparisonServiceError wraps a failed comparison call for the candidate at
// Index. It ends the pass that produced it.
type ComparisonServiceError struct {
	Index int
	Err   error
}

func (e *ComparisonServiceError) Error() string {
	return fmt.Sprintf("compare candidate %d: %v", e.Index, e.Err)
}

func (e *ComparisonServiceError) Unwrap() error {
	return e.Err
}
