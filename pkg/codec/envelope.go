package codec

import (
    "fmt"

    "github.com/amirimatin/go-shardstore/pkg/schema"
    "github.com/amirimatin/go-shardstore/pkg/tree"
    "github.com/amirimatin/go-shardstore/pkg/yang"
)

// EncodeAt serializes the node addressed by path. The node is wrapped in
// its ancestors up to the top-level container; ancestors carry nothing but
// the list keys named by the path.
func EncodeAt(finder schema.ModuleFinder, path yang.InstanceIdentifier, n tree.Node) (*WireRecord, error) {
    if noFinder(finder) || n == nil || path.IsRoot() { return Encode(finder, nil) }
    root, err := Wrap(finder, path, n)
    if err != nil {
        observe("encode", err)
        return nil, err
    }
    return Encode(finder, root)
}

// DecodeAt is the inverse of EncodeAt.
func DecodeAt(finder schema.ModuleFinder, path yang.InstanceIdentifier, rec *WireRecord) (tree.Node, error) {
    if path.IsRoot() { return nil, fmt.Errorf("%w: root path", ErrInvalidArgument) }
    root, err := Decode(finder, rec)
    if err != nil { return nil, err }
    if !root.Identifier().Equal(path[0]) {
        return nil, fmt.Errorf("%w: record holds %s, not %s", ErrMalformedBody, root.QName(), path[0].Name)
    }
    n, ok := tree.Find(root, path[1:])
    if !ok {
        return nil, fmt.Errorf("%w: record holds nothing at %s", ErrMalformedBody, path)
    }
    return n, nil
}

// Wrap builds the sparse top-level container holding n at path.
func Wrap(finder schema.ModuleFinder, path yang.InstanceIdentifier, n tree.Node) (tree.Node, error) {
    if noFinder(finder) || n == nil || path.IsRoot() {
        return nil, fmt.Errorf("%w: nothing to wrap", ErrInvalidArgument)
    }
    if !n.Identifier().Equal(path.Last()) {
        return nil, fmt.Errorf("%w: node %s is not at %s", ErrInvalidArgument, n.Identifier(), path)
    }
    steps, err := schema.ResolvePath(finder, path)
    if err != nil { return nil, fmt.Errorf("%w: %w", ErrSchemaMismatch, err) }

    cur := n
    for i := len(steps) - 1; i > 0; i-- {
        st := steps[i]
        switch {
        case st.Arg.IsEntry():
            e, ok := cur.(*tree.MapEntry)
            if !ok { return nil, fmt.Errorf("%w: %T at list entry %s", ErrSchemaMismatch, cur, st.Arg) }
            cur = tree.NewMapNode(st.Node.QName(), e)
        case st.Arg.IsValue():
            e, ok := cur.(*tree.LeafSetEntry)
            if !ok { return nil, fmt.Errorf("%w: %T at leaf-list entry %s", ErrSchemaMismatch, cur, st.Arg) }
            cur = &tree.LeafSet{Name: st.Node.QName(), Entries: []*tree.LeafSetEntry{e}}
        }
        for j := len(st.Branches) - 1; j >= 0; j-- {
            cur = tree.NewChoice(st.Branches[j].Choice.Name, cur)
        }
        if cur, err = ancestor(steps[i-1], cur); err != nil { return nil, err }
    }
    return cur, nil
}

func ancestor(st schema.PathStep, child tree.Node) (tree.Node, error) {
    switch s := st.Node.(type) {
    case *schema.ContainerSchemaNode:
        return tree.NewContainer(s.Name, child), nil
    case *schema.ListSchemaNode:
        children := make([]tree.Node, 0, len(s.Keys)+1)
        keys := make([]yang.Key, 0, len(s.Keys))
        for _, k := range s.Keys {
            text, _ := st.Arg.KeyValue(k)
            leaf, ok := s.KeyLeaf(k)
            if !ok { return nil, fmt.Errorf("%w: list %s has no key leaf %s", ErrSchemaMismatch, s.Name.Local, k.Local) }
            v, err := leaf.Type.Parse(text)
            if err != nil { return nil, fmt.Errorf("%w: key %s: %v", ErrSchemaMismatch, k.Local, err) }
            keys = append(keys, yang.Key{Name: leaf.Name, Value: tree.Text(v)})
            if l, ok := child.(*tree.Leaf); ok && l.Name.Is(k) {
                if tree.Text(l.Value) != tree.Text(v) {
                    return nil, fmt.Errorf("%w: key leaf %s=%s conflicts with path", ErrInvalidArgument, k.Local, tree.Text(l.Value))
                }
                continue
            }
            children = append(children, tree.NewLeaf(leaf.Name, v))
        }
        return tree.NewMapEntry(s.Name, keys, append(children, child)...), nil
    }
    return nil, fmt.Errorf("%w: %s cannot hold children", ErrSchemaMismatch, st.Node.QName().Local)
}
