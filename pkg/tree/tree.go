// Package tree models normalized data nodes: immutable, schema-typed values
// addressed by yang path arguments.
package tree

import (
    "fmt"
    "strconv"

    "github.com/amirimatin/go-shardstore/pkg/yang"
)

// Node is one node of a normalized data tree. Nodes are never mutated once
// built; the With* helpers return modified copies.
type Node interface {
    Identifier() yang.PathArgument
    QName() yang.QName
    isNode()
}

// Parent is implemented by nodes holding named children: containers, list
// entries and choices.
type Parent interface {
    Node
    ChildNodes() []Node
}

type Container struct {
    Name     yang.QName
    Children []Node
}

type Leaf struct {
    Name  yang.QName
    Value any
}

// LeafSet holds the entries of a leaf-list.
type LeafSet struct {
    Name    yang.QName
    Entries []*LeafSetEntry
}

type LeafSetEntry struct {
    Name  yang.QName
    Value any
}

// MapNode holds the entries of a keyed list.
type MapNode struct {
    Name    yang.QName
    Entries []*MapEntry
}

// MapEntry is one list entry. Keys hold the canonical text of the key leaves,
// which are also present among Children.
type MapEntry struct {
    Name     yang.QName
    Keys     []yang.Key
    Children []Node
}

// Choice holds the children of the selected case of a schema choice.
type Choice struct {
    Name     yang.QName
    Children []Node
}

func NewContainer(name yang.QName, children ...Node) *Container {
    return &Container{Name: name, Children: children}
}

func NewLeaf(name yang.QName, value any) *Leaf { return &Leaf{Name: name, Value: value} }

func NewLeafSet(name yang.QName, values ...any) *LeafSet {
    s := &LeafSet{Name: name}
    for _, v := range values {
        s.Entries = append(s.Entries, &LeafSetEntry{Name: name, Value: v})
    }
    return s
}

func NewMapNode(name yang.QName, entries ...*MapEntry) *MapNode {
    return &MapNode{Name: name, Entries: entries}
}

func NewMapEntry(name yang.QName, keys []yang.Key, children ...Node) *MapEntry {
    return &MapEntry{Name: name, Keys: append([]yang.Key(nil), keys...), Children: children}
}

func NewChoice(name yang.QName, children ...Node) *Choice {
    return &Choice{Name: name, Children: children}
}

func (n *Container) Identifier() yang.PathArgument    { return yang.Arg(n.Name) }
func (n *Leaf) Identifier() yang.PathArgument         { return yang.Arg(n.Name) }
func (n *LeafSet) Identifier() yang.PathArgument      { return yang.Arg(n.Name) }
func (n *LeafSetEntry) Identifier() yang.PathArgument { return yang.ValueArg(n.Name, Text(n.Value)) }
func (n *MapNode) Identifier() yang.PathArgument      { return yang.Arg(n.Name) }
func (n *MapEntry) Identifier() yang.PathArgument     { return yang.EntryArg(n.Name, n.Keys...) }
func (n *Choice) Identifier() yang.PathArgument       { return yang.Arg(n.Name) }

func (n *Container) QName() yang.QName    { return n.Name }
func (n *Leaf) QName() yang.QName         { return n.Name }
func (n *LeafSet) QName() yang.QName      { return n.Name }
func (n *LeafSetEntry) QName() yang.QName { return n.Name }
func (n *MapNode) QName() yang.QName      { return n.Name }
func (n *MapEntry) QName() yang.QName     { return n.Name }
func (n *Choice) QName() yang.QName       { return n.Name }

func (*Container) isNode()    {}
func (*Leaf) isNode()         {}
func (*LeafSet) isNode()      {}
func (*LeafSetEntry) isNode() {}
func (*MapNode) isNode()      {}
func (*MapEntry) isNode()     {}
func (*Choice) isNode()       {}

func (n *Container) ChildNodes() []Node { return n.Children }
func (n *MapEntry) ChildNodes() []Node  { return n.Children }
func (n *Choice) ChildNodes() []Node    { return n.Children }

// Children returns the direct children of any node: named children for
// parents, entries for lists and leaf-lists, nil for leaves.
func Children(n Node) []Node {
    switch v := n.(type) {
    case Parent:
        return v.ChildNodes()
    case *MapNode:
        out := make([]Node, len(v.Entries))
        for i, e := range v.Entries { out[i] = e }
        return out
    case *LeafSet:
        out := make([]Node, len(v.Entries))
        for i, e := range v.Entries { out[i] = e }
        return out
    }
    return nil
}

// Text renders a canonical leaf value the way leaf-list predicates and
// list keys spell it.
func Text(v any) string {
    switch x := v.(type) {
    case string:
        return x
    case bool:
        return strconv.FormatBool(x)
    case int64:
        return strconv.FormatInt(x, 10)
    case uint64:
        return strconv.FormatUint(x, 10)
    case float64:
        return strconv.FormatFloat(x, 'f', -1, 64)
    case yang.Empty:
        return ""
    }
    return fmt.Sprint(v)
}

var (
    _ Parent = (*Container)(nil)
    _ Parent = (*MapEntry)(nil)
    _ Parent = (*Choice)(nil)
)
