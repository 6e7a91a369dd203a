package repositories

import "fmt"

// StoreError is the RepositoryError produced by the memory and Postgres backends.
type StoreError struct {
	Op          string
	Err         error
	NotFound    bool
	Conflict    bool
	Unavailable bool
}

func (e *StoreError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return e.Err.Error()
}

func (e *StoreError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *StoreError) IsNotFound() bool    { return e != nil && e.NotFound }
func (e *StoreError) IsConflict() bool    { return e != nil && e.Conflict }
func (e *StoreError) IsUnavailable() bool { return e != nil && e.Unavailable }

// NotFound builds a StoreError for a missing record.
func NotFound(op, format string, args ...any) *StoreError {
	return &StoreError{Op: op, Err: fmt.Errorf(format, args...), NotFound: true}
}

// Conflict builds a StoreError for a rejected write such as a stale version or duplicate key.
func Conflict(op, format string, args ...any) *StoreError {
	return &StoreError{Op: op, Err: fmt.Errorf(format, args...), Conflict: true}
}

// Unavailable wraps a transient backend failure.
func Unavailable(op string, err error) *StoreError {
	return &StoreError{Op: op, Err: err, Unavailable: true}
}
