package schema

import (
    "errors"
    "fmt"

    "github.com/amirimatin/go-shardstore/pkg/yang"
)

var ErrInvalidPath = errors.New("schema: invalid path")

// PathStep is one resolved step of an instance identifier.
type PathStep struct {
    Arg      yang.PathArgument
    Node     DataSchemaNode
    Branches []Branch
}

// ResolvePath resolves every step of p against the schema. List entry steps
// must name every key with a value valid for the key's type; leaf-list value
// steps must carry a valid value. Leaves and whole lists terminate a path.
func ResolvePath(finder ModuleFinder, p yang.InstanceIdentifier) ([]PathStep, error) {
    if finder == nil { return nil, fmt.Errorf("%w: no schema", ErrInvalidPath) }
    steps := make([]PathStep, 0, len(p))
    var parent Parent
    for i, arg := range p {
        var (
            node     DataSchemaNode
            branches []Branch
            ok       bool
        )
        if i == 0 {
            node, branches, ok = topLevel(finder, arg.Name)
        } else {
            if parent == nil { return nil, fmt.Errorf("%w: %s: %s has no children", ErrInvalidPath, p, p[i-1].Name.Local) }
            node, branches, ok = LookupChild(parent, arg.Name)
        }
        if !ok { return nil, fmt.Errorf("%w: %s: unknown node %s", ErrInvalidPath, p, arg.Name) }
        if err := checkArg(node, arg); err != nil { return nil, fmt.Errorf("%w: %s: %v", ErrInvalidPath, p, err) }
        steps = append(steps, PathStep{Arg: arg, Node: node, Branches: branches})

        parent = nil
        switch n := node.(type) {
        case *ContainerSchemaNode:
            parent = n
        case *ListSchemaNode:
            if arg.IsEntry() {
                parent = n
            }
        }
    }
    return steps, nil
}

func topLevel(finder ModuleFinder, q yang.QName) (DataSchemaNode, []Branch, bool) {
    for _, m := range finder.FindModuleByNamespace(q.Namespace) {
        if q.Revision != "" && m.Revision != "" && q.Revision != m.Revision { continue }
        if n, b, ok := LookupChild(m, q); ok { return n, b, true }
    }
    return nil, nil, false
}

func checkArg(node DataSchemaNode, arg yang.PathArgument) error {
    switch n := node.(type) {
    case *ListSchemaNode:
        if arg.IsValue() { return fmt.Errorf("list %s takes key predicates", n.Name.Local) }
        if !arg.IsEntry() { return nil }
        if len(arg.Keys) != len(n.Keys) { return fmt.Errorf("list %s needs %d keys, got %d", n.Name.Local, len(n.Keys), len(arg.Keys)) }
        for _, k := range n.Keys {
            v, ok := arg.KeyValue(k)
            if !ok { return fmt.Errorf("list %s: missing key %s", n.Name.Local, k.Local) }
            leaf, ok := n.KeyLeaf(k)
            if !ok { return fmt.Errorf("list %s: key %s has no leaf", n.Name.Local, k.Local) }
            if _, err := leaf.Type.Parse(v); err != nil { return err }
        }
        return nil
    case *LeafListSchemaNode:
        if arg.IsEntry() { return fmt.Errorf("leaf-list %s takes value predicates", n.Name.Local) }
        if arg.IsValue() {
            if _, err := n.Type.Parse(*arg.Value); err != nil { return err }
        }
        return nil
    }
    if arg.IsEntry() || arg.IsValue() { return fmt.Errorf("%s takes no predicates", node.QName().Local) }
    return nil
}
