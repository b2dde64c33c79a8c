package inmem

import (
    "fmt"
    "reflect"

    "github.com/amirimatin/go-shardstore/pkg/schema"
    "github.com/amirimatin/go-shardstore/pkg/tree"
    "github.com/amirimatin/go-shardstore/pkg/yang"
)

// setAt returns a copy of cur with node stored at steps; a nil node
// deletes. Missing ancestors are created on write. Collections and choices
// left empty by a delete are pruned.
func setAt(cur tree.Node, steps []schema.PathStep, node tree.Node) (tree.Node, error) {
    st := steps[0]
    if len(steps) == 1 { return place(cur, st.Branches, st, node) }
    child, ok := tree.Lookup(cur, st.Arg)
    if !ok {
        if node == nil { return cur, nil }
        var err error
        if child, err = skeleton(st); err != nil { return nil, err }
    }
    next, err := setAt(child, steps[1:], node)
    if err != nil { return nil, err }
    if next == child { return cur, nil }
    return place(cur, st.Branches, st, next)
}

// place puts child under holder through the choice branches and, for entry
// steps, the list or leaf-list collection. Selecting a case drops whatever
// another case of the same choice held.
func place(holder tree.Node, branches []schema.Branch, st schema.PathStep, child tree.Node) (tree.Node, error) {
    if len(branches) > 0 {
        b := branches[0]
        arg := yang.Arg(b.Choice.Name)
        var ch tree.Node
        if cur, ok := tree.Child(holder, arg); ok {
            if c, isChoice := cur.(*tree.Choice); isChoice && inCase(c, b.Case) {
                ch = c
            }
        }
        if ch == nil {
            if child == nil { return holder, nil }
            ch = tree.NewChoice(b.Choice.Name)
        }
        next, err := place(ch, branches[1:], st, child)
        if err != nil { return nil, err }
        if tree.IsEmpty(next) { return tree.WithoutChild(holder, arg), nil }
        return tree.WithChild(holder, next)
    }

    if st.Arg.IsEntry() || st.Arg.IsValue() {
        arg := yang.Arg(st.Node.QName())
        coll, ok := tree.Child(holder, arg)
        if !ok {
            if child == nil { return holder, nil }
            if st.Arg.IsEntry() {
                coll = tree.NewMapNode(st.Node.QName())
            } else {
                coll = tree.NewLeafSet(st.Node.QName())
            }
        }
        var next tree.Node
        if child == nil {
            next = tree.WithoutChild(coll, st.Arg)
        } else {
            var err error
            if next, err = tree.WithChild(coll, child); err != nil { return nil, err }
        }
        if tree.IsEmpty(next) { return tree.WithoutChild(holder, arg), nil }
        return tree.WithChild(holder, next)
    }

    if child == nil { return tree.WithoutChild(holder, st.Arg), nil }
    return tree.WithChild(holder, child)
}

// inCase reports whether every child of c belongs to case cs.
func inCase(c *tree.Choice, cs *schema.CaseSchemaNode) bool {
    for _, n := range c.Children {
        var ok bool
        if nested, isChoice := n.(*tree.Choice); isChoice {
            _, _, ok = schema.LookupChoice(cs, nested.Name)
        } else {
            _, _, ok = schema.LookupChild(cs, n.QName())
        }
        if !ok { return false }
    }
    return true
}

// skeleton builds the empty node a write creates for a missing ancestor.
func skeleton(st schema.PathStep) (tree.Node, error) {
    switch s := st.Node.(type) {
    case *schema.ContainerSchemaNode:
        return tree.NewContainer(s.Name), nil
    case *schema.ListSchemaNode:
        keys := make([]yang.Key, 0, len(s.Keys))
        leaves := make([]tree.Node, 0, len(s.Keys))
        for _, k := range s.Keys {
            text, _ := st.Arg.KeyValue(k)
            leaf, ok := s.KeyLeaf(k)
            if !ok { return nil, fmt.Errorf("%w: list %s has no key leaf %s", ErrInvalidPath, s.Name.Local, k.Local) }
            v, err := leaf.Type.Parse(text)
            if err != nil { return nil, fmt.Errorf("%w: %v", ErrInvalidPath, err) }
            keys = append(keys, yang.Key{Name: leaf.Name, Value: tree.Text(v)})
            leaves = append(leaves, tree.NewLeaf(leaf.Name, v))
        }
        return tree.NewMapEntry(s.Name, keys, leaves...), nil
    }
    return nil, fmt.Errorf("%w: %s cannot hold children", ErrInvalidPath, st.Node.QName().Local)
}

// mergeAt overlays n at path onto root.
func (s *Store) mergeAt(root tree.Node, path yang.InstanceIdentifier, n tree.Node) (tree.Node, error) {
    steps, err := s.resolve(path)
    if err != nil { return nil, err }
    existing, ok := tree.Find(root, path)
    switch n.(type) {
    case *tree.Leaf, *tree.LeafSetEntry:
        return setAt(root, steps, n)
    }
    if !ok || !sameKind(existing, n) { return setAt(root, steps, n) }
    for _, c := range flatten(n) {
        if root, err = s.mergeAt(root, childPath(path, n, c), c); err != nil { return nil, err }
    }
    return root, nil
}

func sameKind(a, b tree.Node) bool { return reflect.TypeOf(a) == reflect.TypeOf(b) }
