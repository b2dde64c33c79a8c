package schema

import (
    "reflect"

    "github.com/amirimatin/go-shardstore/pkg/yang"
)

// FindSchemaNode resolves q to the first schema node, in pre-order, whose
// local name matches q.Local inside the modules of q's namespace. Choice and
// case nodes are walked through but never matched themselves. When both q
// and a module carry a revision, modules of a different revision are skipped.
//
// The walk uses an explicit stack so schema depth is not bounded by the
// goroutine stack.
func FindSchemaNode(finder ModuleFinder, q yang.QName) (DataSchemaNode, bool) {
    if finder == nil || q.Local == "" { return nil, false }
    for _, m := range finder.FindModuleByNamespace(q.Namespace) {
        if q.Revision != "" && m.Revision != "" && q.Revision != m.Revision { continue }
        if n, ok := walk(m.Children, q.Local); ok { return n, true }
    }
    return nil, false
}

func walk(roots []DataSchemaNode, local string) (DataSchemaNode, bool) {
    stack := make([]DataSchemaNode, 0, len(roots))
    stack = pushReversed(stack, roots)
    for len(stack) > 0 {
        n := stack[len(stack)-1]
        stack = stack[:len(stack)-1]
        switch v := n.(type) {
        case *ChoiceSchemaNode:
            for i := len(v.Cases) - 1; i >= 0; i-- {
                if v.Cases[i] != nil { stack = append(stack, v.Cases[i]) }
            }
            continue
        case *CaseSchemaNode:
            stack = pushReversed(stack, v.Children)
            continue
        }
        if n.QName().Local == local { return n, true }
        if p, ok := n.(Parent); ok {
            stack = pushReversed(stack, p.ChildNodes())
        }
    }
    return nil, false
}

func pushReversed(stack, nodes []DataSchemaNode) []DataSchemaNode {
    for i := len(nodes) - 1; i >= 0; i-- {
        if !isNil(nodes[i]) {
            stack = append(stack, nodes[i])
        }
    }
    return stack
}

// isNil reports whether n is nil or a typed nil pointer.
func isNil(n DataSchemaNode) bool {
    if n == nil { return true }
    v := reflect.ValueOf(n)
    return v.Kind() == reflect.Pointer && v.IsNil()
}

// Branch records one choice/case hop between a parent and a data child.
type Branch struct {
    Choice *ChoiceSchemaNode
    Case   *CaseSchemaNode
}

// LookupChild finds q among the direct data children of parent, looking
// through choices. The returned branches lead from parent to the child,
// outermost first.
func LookupChild(parent Parent, q yang.QName) (DataSchemaNode, []Branch, bool) {
    if parent == nil { return nil, nil, false }
    return lookup(parent.ChildNodes(), q, nil, false)
}

// LookupChoice finds the choice named q under parent, looking through
// enclosing choices. The branches lead to the choice itself.
func LookupChoice(parent Parent, q yang.QName) (*ChoiceSchemaNode, []Branch, bool) {
    if parent == nil { return nil, nil, false }
    n, path, ok := lookup(parent.ChildNodes(), q, nil, true)
    if !ok { return nil, nil, false }
    return n.(*ChoiceSchemaNode), path, true
}

func lookup(children []DataSchemaNode, q yang.QName, path []Branch, wantChoice bool) (DataSchemaNode, []Branch, bool) {
    for _, c := range children {
        if isNil(c) { continue }
        ch, isChoice := c.(*ChoiceSchemaNode)
        if isChoice == wantChoice && c.QName().Is(q) { return c, path, true }
        if !isChoice { continue }
        for _, cs := range ch.Cases {
            if cs == nil { continue }
            hop := append(append([]Branch(nil), path...), Branch{Choice: ch, Case: cs})
            if n, p, ok := lookup(cs.Children, q, hop, wantChoice); ok { return n, p, true }
        }
    }
    return nil, nil, false
}
