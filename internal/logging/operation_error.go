package logging

import "fmt"

// OperationError records which step of the screening service failed, such as
// "rekognition.compare_faces" or "repository.save_pass", and for which pass.
// PassID is empty for work that is not tied to one pass (dialing a backend,
// aggregating history).
type OperationError struct {
	Operation string
	PassID    string
	Err       error
}

func (e *OperationError) Error() string {
	if e == nil || e.Err == nil {
		return ""
	}
	if e.PassID == "" {
		return fmt.Sprintf("%s: %v", e.Operation, e.Err)
	}
	return fmt.Sprintf("%s (pass=%s): %v", e.Operation, e.PassID, e.Err)
}

func (e *OperationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewOperationError tags err with the failing step. A nil err stays nil, so
// call sites can wrap a result unconditionally.
func NewOperationError(operation, passID string, err error) error {
	if err == nil {
		return nil
	}
	return &OperationError{Operation: operation, PassID: passID, Err: err}
}
