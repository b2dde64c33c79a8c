// Package datastore defines the tree store contract shards delegate to:
// scoped change listeners and their registrations.
package datastore

import (
    "errors"
    "fmt"
    "strings"

    "github.com/amirimatin/go-shardstore/pkg/tree"
    "github.com/amirimatin/go-shardstore/pkg/yang"
)

var ErrInvalidScope = errors.New("datastore: invalid scope")

// Scope bounds how deep below the registration path a change must be for a
// listener to see it as its own entry.
type Scope int

const (
    ScopeBase Scope = iota
    ScopeOne
    ScopeSubtree
)

func (s Scope) String() string {
    switch s {
    case ScopeBase:
        return "BASE"
    case ScopeOne:
        return "ONE"
    case ScopeSubtree:
        return "SUBTREE"
    }
    return fmt.Sprintf("Scope(%d)", int(s))
}

// Depth is the number of levels below the registration path reported as
// individual entries. Subtree scope is unbounded (-1).
func (s Scope) Depth() int {
    switch s {
    case ScopeBase:
        return 0
    case ScopeOne:
        return 1
    }
    return -1
}

func ParseScope(s string) (Scope, error) {
    switch strings.ToUpper(strings.TrimSpace(s)) {
    case "BASE":
        return ScopeBase, nil
    case "ONE":
        return ScopeOne, nil
    case "SUBTREE", "":
        return ScopeSubtree, nil
    }
    return 0, fmt.Errorf("%w: %q", ErrInvalidScope, s)
}

func (s Scope) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Scope) UnmarshalText(b []byte) error {
    v, err := ParseScope(string(b))
    if err != nil { return err }
    *s = v
    return nil
}

// Entry is one created or updated node of a change event.
type Entry struct {
    Path yang.InstanceIdentifier
    Data tree.Node
}

// ChangeEvent describes the effect of one write on the subtree a listener
// registered for. A subtree that did not exist before has a nil
// OriginalSubtree; a removed one a nil UpdatedSubtree.
type ChangeEvent struct {
    Path            yang.InstanceIdentifier
    Created         []Entry
    Updated         []Entry
    Removed         []yang.InstanceIdentifier
    OriginalSubtree tree.Node
    UpdatedSubtree  tree.Node
}

// Empty reports whether the event carries no change.
func (e ChangeEvent) Empty() bool {
    return len(e.Created) == 0 && len(e.Updated) == 0 && len(e.Removed) == 0
}

type Listener interface {
    OnDataChanged(ChangeEvent)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(ChangeEvent)

func (f ListenerFunc) OnDataChanged(e ChangeEvent) { f(e) }

// Registration keeps a listener attached until closed. Close is idempotent.
type Registration interface {
    Close() error
}

// Store is the part of a tree store a shard hands to its delegates.
type Store interface {
    RegisterChangeListener(path yang.InstanceIdentifier, l Listener, scope Scope) (Registration, error)
}
