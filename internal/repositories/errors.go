package repositories

import "fmt"

// ErrorKind enumerates the repository failure classes understood by services.
type ErrorKind string

const (
	// ErrorKindNotFound indicates the requested record does not exist.
	ErrorKindNotFound ErrorKind = "not_found"
	// ErrorKindConflict indicates a uniqueness or version conflict.
	ErrorKindConflict ErrorKind = "conflict"
	// ErrorKindUnavailable indicates the backing store could not be reached.
	ErrorKindUnavailable ErrorKind = "unavailable"
	// ErrorKindUnknown represents an unclassified failure.
	ErrorKindUnknown ErrorKind = "unknown"
)

// StoreError is a RepositoryError used by stores without a native error taxonomy.
type StoreError struct {
	Op   string
	Kind ErrorKind
	Err  error
}

var _ RepositoryError = (*StoreError)(nil)

// NewStoreError constructs a classified repository error.
func NewStoreError(op string, kind ErrorKind, err error) *StoreError {
	return &StoreError{Op: op, Kind: kind, Err: err}
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return e.Err.Error()
}

// Unwrap exposes the underlying error, if any.
func (e *StoreError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *StoreError) IsNotFound() bool    { return e != nil && e.Kind == ErrorKindNotFound }
func (e *StoreError) IsConflict() bool    { return e != nil && e.Kind == ErrorKindConflict }
func (e *StoreError) IsUnavailable() bool { return e != nil && e.Kind == ErrorKindUnavailable }
