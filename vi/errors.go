package vi

import "fmt"

// BatchError is returned when a batch does not match the trainer's inputs.
// Nothing is run when it is returned.
type BatchError struct {
	Input  string
	Reason string
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("batch input %s %s", e.Input, e.Reason)
}
