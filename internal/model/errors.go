package model

import (
	"errors"
	"fmt"
)

// ServiceError wraps a failure from an external collaborator (extraction,
// event creation, settings). It is always recoverable: callers turn it into
// a retry affordance rather than aborting.
type ServiceError struct {
	Service string
	Op      string
	Err     error
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Service, e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// NewServiceError wraps err; a nil err yields nil.
func NewServiceError(service, op string, err error) error {
	if err == nil {
		return nil
	}
	return &ServiceError{Service: service, Op: op, Err: err}
}

// IsServiceError reports whether err (or anything it wraps) is a ServiceError.
func IsServiceError(err error) bool {
	var se *ServiceError
	return errors.As(err, &se)
}
