package listener

import (
    "sync"

    "github.com/amirimatin/go-shardstore/pkg/datastore"
)

// DelayedRegistration stands in for a registration requested while the
// shard was a follower. It is bound to the real registration at most once,
// when the shard becomes leader, unless it was closed first.
type DelayedRegistration struct {
    req RegisterChangeListener

    mu       sync.Mutex
    closed   bool
    delegate datastore.Registration
}

var _ datastore.Registration = (*DelayedRegistration)(nil)

func NewDelayedRegistration(req RegisterChangeListener) *DelayedRegistration {
    return &DelayedRegistration{req: req}
}

func (d *DelayedRegistration) Request() RegisterChangeListener { return d.req }

func (d *DelayedRegistration) IsClosed() bool {
    d.mu.Lock()
    defer d.mu.Unlock()
    return d.closed
}

// Delegate returns the bound registration, if any.
func (d *DelayedRegistration) Delegate() datastore.Registration {
    d.mu.Lock()
    defer d.mu.Unlock()
    return d.delegate
}

// SetDelegate binds the real registration. It returns false, binding
// nothing, when the handle was already closed; the caller then owns r and
// must close it. Binding twice panics.
func (d *DelayedRegistration) SetDelegate(r datastore.Registration) bool {
    d.mu.Lock()
    defer d.mu.Unlock()
    if d.closed { return false }
    if d.delegate != nil {
        panic("listener: delayed registration bound twice")
    }
    d.delegate = r
    return true
}

// Close releases the handle and the bound registration. It is idempotent.
func (d *DelayedRegistration) Close() error {
    d.mu.Lock()
    if d.closed {
        d.mu.Unlock()
        return nil
    }
    d.closed = true
    r := d.delegate
    d.mu.Unlock()
    if r != nil { return r.Close() }
    return nil
}
