package datastore

import (
    "errors"
    "fmt"
)

// CommitFailedError reports the commit phase that failed.
type CommitFailedError struct {
    Phase string
    Err   error
}

func (e *CommitFailedError) Error() string {
    if e.Err == nil { return e.Phase + " execution failed" }
    return e.Phase + " execution failed: " + e.Err.Error()
}

func (e *CommitFailedError) Unwrap() error { return e.Err }

// ErrorMapper converts errors raised while executing one commit phase into
// *CommitFailedError.
type ErrorMapper struct{ phase string }

var (
    CanCommitMapper = NewErrorMapper("canCommit")
    PreCommitMapper = NewErrorMapper("preCommit")
    CommitMapper    = NewErrorMapper("commit")
)

func NewErrorMapper(phase string) ErrorMapper { return ErrorMapper{phase: phase} }

func (m ErrorMapper) Phase() string { return m.phase }

// Map returns nil for nil and passes already mapped errors through.
func (m ErrorMapper) Map(err error) error {
    if err == nil { return nil }
    var cf *CommitFailedError
    if errors.As(err, &cf) { return err }
    return &CommitFailedError{Phase: m.phase, Err: err}
}

// Mapf maps a formatted error.
func (m ErrorMapper) Mapf(format string, args ...any) error {
    return m.Map(fmt.Errorf(format, args...))
}
