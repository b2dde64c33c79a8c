package inmem

import (
    "reflect"

    "github.com/amirimatin/go-shardstore/pkg/datastore"
    "github.com/amirimatin/go-shardstore/pkg/tree"
    "github.com/amirimatin/go-shardstore/pkg/yang"
)

// diff records the difference between a and b at p. Descendants are
// reported individually down to depth levels below p (negative: no limit);
// deeper changes only show as updates of their in-scope ancestors.
func diff(ev *datastore.ChangeEvent, p yang.InstanceIdentifier, a, b tree.Node, depth int) {
    switch {
    case a == nil && b == nil:
        return
    case a == nil:
        created(ev, p, b, depth)
        return
    case b == nil:
        removed(ev, p, a, depth)
        return
    case a == b || tree.Equal(a, b):
        return
    }
    ev.Updated = append(ev.Updated, datastore.Entry{Path: p, Data: b})
    if depth == 0 { return }
    ac, bc := flatten(a), flatten(b)
    for _, x := range ac {
        diff(ev, childPath(p, a, x), x, match(bc, x), depth-1)
    }
    for _, y := range bc {
        if match(ac, y) == nil {
            created(ev, childPath(p, b, y), y, depth-1)
        }
    }
}

func created(ev *datastore.ChangeEvent, p yang.InstanceIdentifier, n tree.Node, depth int) {
    ev.Created = append(ev.Created, datastore.Entry{Path: p, Data: n})
    if depth == 0 { return }
    for _, c := range flatten(n) {
        created(ev, childPath(p, n, c), c, depth-1)
    }
}

func removed(ev *datastore.ChangeEvent, p yang.InstanceIdentifier, n tree.Node, depth int) {
    ev.Removed = append(ev.Removed, p)
    if depth == 0 { return }
    for _, c := range flatten(n) {
        removed(ev, childPath(p, n, c), c, depth-1)
    }
}

// flatten lists the children of n as they are addressed by paths: choices
// are looked through and collections contribute their entries.
func flatten(n tree.Node) []tree.Node {
    var out []tree.Node
    for _, c := range tree.Children(n) {
        switch c.(type) {
        case *tree.Choice, *tree.MapNode, *tree.LeafSet:
            if _, isParent := n.(tree.Parent); isParent {
                out = append(out, flatten(c)...)
                continue
            }
        }
        out = append(out, c)
    }
    return out
}

// childPath addresses c below n at p. Entries of a collection addressed by
// its plain list step replace that step.
func childPath(p yang.InstanceIdentifier, n, c tree.Node) yang.InstanceIdentifier {
    switch n.(type) {
    case *tree.MapNode, *tree.LeafSet:
        return p.Parent().Append(c.Identifier())
    }
    return p.Append(c.Identifier())
}

func match(nodes []tree.Node, like tree.Node) tree.Node {
    kind := reflect.TypeOf(like)
    for _, n := range nodes {
        if reflect.TypeOf(n) == kind && n.Identifier().Equal(like.Identifier()) { return n }
    }
    return nil
}
