package dispatch

import (
	"errors"
	"fmt"

	"github.com/flowork/flowcore/pkg/persistence"
	"github.com/flowork/flowcore/pkg/registry"
)

// Client errors. Validation errors map to 400, missing records to 404 and lifecycle conflicts to 409.
var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrNoStartNode    = persistence.ErrNoStartNode
	ErrUnknownNode    = errors.New("node reference is neither a node id nor a registered node type")

	ErrExecutionNotFound = persistence.ErrExecutionNotFound
	ErrNodeNotFound      = persistence.ErrNodeNotFound

	ErrInvalidTransition = persistence.ErrInvalidTransition
)

// ServiceError wraps dispatch errors with the operation that produced them.
type ServiceError struct {
	Op      string
	Code    string
	Message string
	Err     error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewValidationError creates a validation error with context.
func NewValidationError(op, code, message string, err error) *ServiceError {
	return &ServiceError{
		Op:      op,
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// IsValidationError checks if an error is a validation error that should return HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrNoStartNode) ||
		errors.Is(err, ErrUnknownNode) ||
		errors.Is(err, registry.ErrInvalidConfig)
}

// IsNotFound checks if an error refers to a missing execution or node.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrExecutionNotFound) || errors.Is(err, ErrNodeNotFound)
}

// IsConflictError checks if an error is a lifecycle conflict that should return HTTP 409.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrInvalidTransition)
}
