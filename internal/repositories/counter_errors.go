package repositories

import "fmt"

// CounterErrorCode enumerates failure reasons when allocating sequence
// numbers for quotations and orders.
type CounterErrorCode string

// CounterErrorUnknown represents an unspecified failure.
const CounterErrorUnknown CounterErrorCode = "counter_unknown"

// CounterErrorInvalidInput indicates the caller supplied invalid arguments.
const CounterErrorInvalidInput CounterErrorCode = "counter_invalid_input"

// CounterErrorExhausted indicates the counter reached its configured maximum
// and cannot issue more numbers for the period.
const CounterErrorExhausted CounterErrorCode = "counter_exhausted"

// CounterError carries a machine readable code so services can map counter
// failures onto the right HTTP status.
type CounterError struct {
	Op   string
	Code CounterErrorCode

	Message string
	Err     error
}

// Error implements the error interface.
func (e *CounterError) Error() string {
	switch {
	case e == nil:
		return ""
	case e.Op == "":
		return e.Message
	default:
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
}

// Unwrap exposes the underlying error, if any.
func (e *CounterError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewCounterError constructs a typed counter error.
func NewCounterError(code CounterErrorCode, message string, err error) *CounterError {
	if message == "" {
		message = string(code)
	}
	return &CounterError{Code: code, Message: message, Err: err}
}
