package repositories

import "fmt"

// CounterErrorCode enumerates failure reasons for counter operations.
type CounterErrorCode string

const (
	CounterErrorUnknown      CounterErrorCode = "counter_unknown"
	CounterErrorInvalidInput CounterErrorCode = "counter_invalid_input"
)

// CounterError wraps sequence failures with a machine readable code.
type CounterError struct {
	Op        string
	Code      CounterErrorCode
	CounterID string
	Err       error
}

func (e *CounterError) Error() string {
	if e == nil {
		return ""
	}
	msg := string(e.Code)
	if e.CounterID != "" {
		msg = fmt.Sprintf("%s [%s]", msg, e.CounterID)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Op != "" {
		return e.Op + ": " + msg
	}
	return msg
}

func (e *CounterError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewCounterError constructs a typed counter error.
func NewCounterError(op string, code CounterErrorCode, counterID string, err error) *CounterError {
	return &CounterError{Op: op, Code: code, CounterID: counterID, Err: err}
}
