package core

import (
	"errors"
	"fmt"
)

// Lookup errors
var (
	ErrQueueNotFound = errors.New("workbench: queue not found")
	ErrJobNotFound   = errors.New("workbench: job not found")
)

// Validation errors
var (
	ErrInvalidInput     = errors.New("workbench: invalid input")
	ErrInvalidQueueName = fmt.Errorf("%w: invalid queue name", ErrInvalidInput)
	ErrQueueNameTooLong = fmt.Errorf("%w: queue name too long", ErrInvalidInput)
	ErrInvalidJobName   = fmt.Errorf("%w: invalid job name", ErrInvalidInput)
	ErrJobNameTooLong   = fmt.Errorf("%w: job name too long", ErrInvalidInput)
	ErrJobDataTooLarge  = fmt.Errorf("%w: job data exceeds size limit", ErrInvalidInput)
	ErrInvalidStatus    = fmt.Errorf("%w: invalid status", ErrInvalidInput)
)

// Operational errors
var (
	ErrReadOnly           = errors.New("workbench: dashboard is in readonly mode")
	ErrComputationTimeout = errors.New("workbench: computation timed out")
	ErrBackendUnavailable = errors.New("workbench: backend unavailable")
	ErrRangeUnsupported   = errors.New("workbench: range scan unsupported")
	ErrInvalidTransition  = errors.New("workbench: invalid state transition")
)

// InvalidInputf wraps ErrInvalidInput with a formatted detail.
func InvalidInputf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// TransitionError reports an operator action the job's current status does not allow.
type TransitionError struct {
	Action string
	Status JobStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("workbench: cannot %s job with status %q", e.Action, e.Status)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}
