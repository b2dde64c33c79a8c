// Package schema holds an immutable, already-compiled YANG-style schema model
// and the resolver used to map qualified names onto schema nodes.
package schema

import (
    "sort"

    "github.com/amirimatin/go-shardstore/pkg/yang"
)

// DataSchemaNode is one node of the schema tree. The concrete variants are
// *ContainerSchemaNode, *ListSchemaNode, *LeafSchemaNode, *LeafListSchemaNode,
// *ChoiceSchemaNode and *CaseSchemaNode.
type DataSchemaNode interface {
    QName() yang.QName
    isSchemaNode()
}

// Parent is implemented by every schema element that has data children:
// modules, containers, lists, cases, and choices (which flatten their cases).
type Parent interface {
    ChildNodes() []DataSchemaNode
}

type ContainerSchemaNode struct {
    Name     yang.QName
    Children []DataSchemaNode
}

func (n *ContainerSchemaNode) QName() yang.QName           { return n.Name }
func (n *ContainerSchemaNode) ChildNodes() []DataSchemaNode { return n.Children }
func (*ContainerSchemaNode) isSchemaNode()                  {}

// ListSchemaNode is a keyed list. Keys name leaf children of the list.
type ListSchemaNode struct {
    Name     yang.QName
    Keys     []yang.QName
    Children []DataSchemaNode
}

func (n *ListSchemaNode) QName() yang.QName           { return n.Name }
func (n *ListSchemaNode) ChildNodes() []DataSchemaNode { return n.Children }
func (*ListSchemaNode) isSchemaNode()                  {}

// IsKey reports whether q names one of the list's keys.
func (n *ListSchemaNode) IsKey(q yang.QName) bool {
    for _, k := range n.Keys {
        if k.Is(q) { return true }
    }
    return false
}

// KeyLeaf returns the leaf schema for key q.
func (n *ListSchemaNode) KeyLeaf(q yang.QName) (*LeafSchemaNode, bool) {
    if !n.IsKey(q) { return nil, false }
    child, _, ok := LookupChild(n, q)
    if !ok { return nil, false }
    leaf, ok := child.(*LeafSchemaNode)
    return leaf, ok
}

type LeafSchemaNode struct {
    Name yang.QName
    Type LeafType
}

func (n *LeafSchemaNode) QName() yang.QName { return n.Name }
func (*LeafSchemaNode) isSchemaNode()        {}

type LeafListSchemaNode struct {
    Name yang.QName
    Type LeafType
}

func (n *LeafListSchemaNode) QName() yang.QName { return n.Name }
func (*LeafListSchemaNode) isSchemaNode()        {}

// ChoiceSchemaNode groups mutually exclusive cases. It never appears as an
// element in instance data; its case children are visible directly under the
// choice's parent.
type ChoiceSchemaNode struct {
    Name  yang.QName
    Cases []*CaseSchemaNode
}

func (n *ChoiceSchemaNode) QName() yang.QName { return n.Name }
func (*ChoiceSchemaNode) isSchemaNode()        {}

// ChildNodes flattens the children of every case, in case order.
func (n *ChoiceSchemaNode) ChildNodes() []DataSchemaNode {
    var out []DataSchemaNode
    for _, c := range n.Cases {
        out = append(out, c.Children...)
    }
    return out
}

type CaseSchemaNode struct {
    Name     yang.QName
    Children []DataSchemaNode
}

func (n *CaseSchemaNode) QName() yang.QName           { return n.Name }
func (n *CaseSchemaNode) ChildNodes() []DataSchemaNode { return n.Children }
func (*CaseSchemaNode) isSchemaNode()                  {}

// Module is the top of one schema namespace.
type Module struct {
    Name      string
    Namespace string
    Revision  string
    Children  []DataSchemaNode
}

func (m *Module) ChildNodes() []DataSchemaNode { return m.Children }

// QName returns a name in the module's namespace and revision.
func (m *Module) QName(local string) yang.QName {
    return yang.QName{Namespace: m.Namespace, Revision: m.Revision, Local: local}
}

// ModuleFinder is the part of a schema context the resolver and codec need.
type ModuleFinder interface {
    FindModuleByNamespace(ns string) []*Module
}

// Context is an immutable set of modules. It is safe for concurrent use.
type Context struct {
    modules []*Module
    byNS    map[string][]*Module
}

// NewContext indexes modules by namespace. Modules sharing a namespace are
// kept newest revision first.
func NewContext(modules ...*Module) *Context {
    c := &Context{byNS: make(map[string][]*Module)}
    for _, m := range modules {
        if m == nil { continue }
        c.modules = append(c.modules, m)
        c.byNS[m.Namespace] = append(c.byNS[m.Namespace], m)
    }
    for _, ms := range c.byNS {
        sort.SliceStable(ms, func(i, j int) bool { return ms[i].Revision > ms[j].Revision })
    }
    return c
}

// Modules returns the modules in registration order.
func (c *Context) Modules() []*Module {
    if c == nil { return nil }
    return append([]*Module(nil), c.modules...)
}

func (c *Context) FindModuleByNamespace(ns string) []*Module {
    if c == nil { return nil }
    return append([]*Module(nil), c.byNS[ns]...)
}

var _ ModuleFinder = (*Context)(nil)
var _ Parent = (*ChoiceSchemaNode)(nil)
var _ Parent = (*Module)(nil)
