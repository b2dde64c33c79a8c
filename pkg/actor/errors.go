package actor

import "errors"

var (
    ErrExists    = errors.New("actor: name already in use")
    ErrBadName   = errors.New("actor: invalid name")
    ErrStopped   = errors.New("actor: system stopped")
    ErrNoRoute   = errors.New("actor: no route to node")
    ErrUnknown   = errors.New("actor: unregistered message type")
    ErrAskFailed = errors.New("actor: ask failed")
)

// Failure is the reply sent in place of a result when a request fails.
type Failure struct {
    Err error
}

func (f Failure) Error() string {
    if f.Err == nil { return "failure" }
    return f.Err.Error()
}

func (f Failure) Unwrap() error { return f.Err }
