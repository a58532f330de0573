package database

import "fmt"

// Error types shared by all derivation operations. Handlers map these onto
// HTTP statuses; the database layer never panics for expected failures.
const (
	ErrNoAuth            = "NO_AUTH"
	ErrInspectorNotFound = "INSPECTOR_NOT_FOUND"
	ErrNotOwner          = "NOT_OWNER"
	ErrAlreadyClosed     = "ALREADY_IN_PROCESS_OR_CLOSED"
	ErrCaseUpdateFailed  = "CASE_UPDATE_FAILED"
	ErrDB                = "DB_ERROR"
)

// OpError is a tagged operation failure with the underlying cause attached
type OpError struct {
	Type string
	Err  error
}

func (e *OpError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Type, e.Err)
	}
	return e.Type
}

func (e *OpError) Unwrap() error {
	return e.Err
}

func opError(typ string, err error) *OpError {
	return &OpError{Type: typ, Err: err}
}

func opErrorf(typ string, format string, args ...interface{}) *OpError {
	return &OpError{Type: typ, Err: fmt.Errorf(format, args...)}
}

// TypeOf returns the tag of an operation error, or DB_ERROR for anything
// that escaped the taxonomy.
func TypeOf(err error) string {
	if opErr, ok := err.(*OpError); ok {
		return opErr.Type
	}
	return ErrDB
}
