package tree

import (
    "errors"
    "fmt"
    "reflect"

    "github.com/amirimatin/go-shardstore/pkg/yang"
)

var ErrIncompatible = errors.New("tree: incompatible child")

// Equal reports structural equality: same kind, same identifier, same leaf
// values and pairwise equal children matched by identifier. Child order is
// not significant.
func Equal(a, b Node) bool {
    if a == nil || b == nil { return a == nil && b == nil }
    if reflect.TypeOf(a) != reflect.TypeOf(b) { return false }
    if !a.Identifier().Equal(b.Identifier()) { return false }
    switch x := a.(type) {
    case *Leaf:
        return reflect.DeepEqual(x.Value, b.(*Leaf).Value)
    case *LeafSetEntry:
        return reflect.DeepEqual(x.Value, b.(*LeafSetEntry).Value)
    }
    ca, cb := Children(a), Children(b)
    if len(ca) != len(cb) { return false }
    for _, c := range ca {
        d := find(cb, c.Identifier(), reflect.TypeOf(c))
        if d == nil || !Equal(c, d) { return false }
    }
    return true
}

func find(nodes []Node, id yang.PathArgument, kind reflect.Type) Node {
    for _, n := range nodes {
        if reflect.TypeOf(n) == kind && n.Identifier().Equal(id) { return n }
    }
    return nil
}

// Child returns the direct child of n identified by arg. On containers and
// list entries a key predicate selects the list entry and a value predicate
// the leaf-list entry, so "/a/list[k='v']" addresses the entry in one step.
func Child(n Node, arg yang.PathArgument) (Node, bool) {
    switch v := n.(type) {
    case Parent:
        if arg.IsEntry() || arg.IsValue() {
            coll, ok := Child(n, yang.Arg(arg.Name))
            if !ok { return nil, false }
            return Child(coll, arg)
        }
        for _, c := range v.ChildNodes() {
            if c.Identifier().Equal(arg) { return c, true }
        }
    case *MapNode:
        for _, e := range v.Entries {
            if e.Identifier().Equal(arg) { return e, true }
        }
    case *LeafSet:
        for _, e := range v.Entries {
            if e.Identifier().Equal(arg) { return e, true }
        }
    }
    return nil, false
}

// Lookup is Child that also looks through choice children.
func Lookup(n Node, arg yang.PathArgument) (Node, bool) {
    if c, ok := Child(n, arg); ok { return c, true }
    p, ok := n.(Parent)
    if !ok { return nil, false }
    for _, c := range p.ChildNodes() {
        if ch, isChoice := c.(*Choice); isChoice {
            if found, ok := Lookup(ch, arg); ok { return found, true }
        }
    }
    return nil, false
}

// Find walks path below n.
func Find(n Node, path yang.InstanceIdentifier) (Node, bool) {
    cur := n
    for _, arg := range path {
        if cur == nil { return nil, false }
        next, ok := Lookup(cur, arg)
        if !ok { return nil, false }
        cur = next
    }
    return cur, cur != nil
}

// WithChild returns a copy of parent with child added, replacing a direct
// child of the same kind and identifier.
func WithChild(parent, child Node) (Node, error) {
    switch p := parent.(type) {
    case *Container:
        return &Container{Name: p.Name, Children: replace(p.Children, child)}, nil
    case *MapEntry:
        return &MapEntry{Name: p.Name, Keys: p.Keys, Children: replace(p.Children, child)}, nil
    case *Choice:
        return &Choice{Name: p.Name, Children: replace(p.Children, child)}, nil
    case *MapNode:
        e, ok := child.(*MapEntry)
        if !ok || !e.Name.Is(p.Name) { break }
        out := &MapNode{Name: p.Name, Entries: make([]*MapEntry, 0, len(p.Entries)+1)}
        done := false
        for _, x := range p.Entries {
            if !done && x.Identifier().Equal(e.Identifier()) {
                out.Entries = append(out.Entries, e)
                done = true
                continue
            }
            out.Entries = append(out.Entries, x)
        }
        if !done {
            out.Entries = append(out.Entries, e)
        }
        return out, nil
    case *LeafSet:
        e, ok := child.(*LeafSetEntry)
        if !ok || !e.Name.Is(p.Name) { break }
        out := &LeafSet{Name: p.Name, Entries: make([]*LeafSetEntry, 0, len(p.Entries)+1)}
        done := false
        for _, x := range p.Entries {
            if !done && x.Identifier().Equal(e.Identifier()) {
                out.Entries = append(out.Entries, e)
                done = true
                continue
            }
            out.Entries = append(out.Entries, x)
        }
        if !done {
            out.Entries = append(out.Entries, e)
        }
        return out, nil
    }
    return nil, fmt.Errorf("%w: %T under %T", ErrIncompatible, child, parent)
}

func replace(children []Node, child Node) []Node {
    out := make([]Node, 0, len(children)+1)
    done := false
    kind := reflect.TypeOf(child)
    for _, c := range children {
        if !done && reflect.TypeOf(c) == kind && c.Identifier().Equal(child.Identifier()) {
            out = append(out, child)
            done = true
            continue
        }
        out = append(out, c)
    }
    if !done {
        out = append(out, child)
    }
    return out
}

// WithoutChild returns a copy of parent without the direct child arg. The
// parent is returned unchanged when no such child exists.
func WithoutChild(parent Node, arg yang.PathArgument) Node {
    if _, ok := Child(parent, arg); !ok { return parent }
    switch p := parent.(type) {
    case *Container:
        return &Container{Name: p.Name, Children: remove(p.Children, arg)}
    case *MapEntry:
        return &MapEntry{Name: p.Name, Keys: p.Keys, Children: remove(p.Children, arg)}
    case *Choice:
        return &Choice{Name: p.Name, Children: remove(p.Children, arg)}
    case *MapNode:
        out := &MapNode{Name: p.Name}
        for _, e := range p.Entries {
            if !e.Identifier().Equal(arg) {
                out.Entries = append(out.Entries, e)
            }
        }
        return out
    case *LeafSet:
        out := &LeafSet{Name: p.Name}
        for _, e := range p.Entries {
            if !e.Identifier().Equal(arg) {
                out.Entries = append(out.Entries, e)
            }
        }
        return out
    }
    return parent
}

func remove(children []Node, arg yang.PathArgument) []Node {
    out := make([]Node, 0, len(children))
    for _, c := range children {
        if c.Identifier().Equal(arg) { continue }
        out = append(out, c)
    }
    return out
}

// Merge overlays next onto prev: leaves are replaced, parents and
// collections are merged child by child.
func Merge(prev, next Node) (Node, error) {
    if prev == nil || next == nil || reflect.TypeOf(prev) != reflect.TypeOf(next) { return next, nil }
    switch next.(type) {
    case *Leaf, *LeafSetEntry:
        return next, nil
    }
    out := prev
    for _, c := range Children(next) {
        old, _ := directChild(out, c)
        m, err := Merge(old, c)
        if err != nil { return nil, err }
        if out, err = WithChild(out, m); err != nil { return nil, err }
    }
    return out, nil
}

func directChild(n, like Node) (Node, bool) {
    kind := reflect.TypeOf(like)
    for _, c := range Children(n) {
        if reflect.TypeOf(c) == kind && c.Identifier().Equal(like.Identifier()) { return c, true }
    }
    return nil, false
}

// IsEmpty reports whether n is a collection or choice without children.
func IsEmpty(n Node) bool {
    switch n.(type) {
    case *MapNode, *LeafSet, *Choice:
        return len(Children(n)) == 0
    }
    return false
}
