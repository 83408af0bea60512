package model

import (
	"errors"
	"fmt"
)

var (
	// ErrDataQuality marks a record that lacks what grouping or
	// classification needs. The record is dropped; the run continues.
	ErrDataQuality = errors.New("data quality")
	// ErrNoData marks a time-series lookup that returned nothing.
	ErrNoData = errors.New("no time-series data")
)

// ExternalServiceError wraps a failure of the session store or the
// time-series store. It aborts the run of the component that hit it.
type ExternalServiceError struct {
	Service string
	Op      string
	Err     error
}

func (e *ExternalServiceError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s failed", e.Service, e.Op)
	}
	return fmt.Sprintf("%s: %s: %v", e.Service, e.Op, e.Err)
}

func (e *ExternalServiceError) Unwrap() error {
	return e.Err
}

func NewExternalServiceError(service, op string, err error) error {
	return &ExternalServiceError{Service: service, Op: op, Err: err}
}

func IsExternalServiceError(err error) bool {
	var target *ExternalServiceError
	return errors.As(err, &target)
}
