package codec

import (
    "fmt"

    "github.com/beevik/etree"

    "github.com/amirimatin/go-shardstore/pkg/schema"
    "github.com/amirimatin/go-shardstore/pkg/tree"
    "github.com/amirimatin/go-shardstore/pkg/yang"
)

// Decode parses a record back into a top-level container.
func Decode(finder schema.ModuleFinder, rec *WireRecord) (tree.Node, error) {
    n, err := decode(finder, rec)
    observe("decode", err)
    return n, err
}

func decode(finder schema.ModuleFinder, rec *WireRecord) (tree.Node, error) {
    if noFinder(finder) { return nil, fmt.Errorf("%w: nil schema context", ErrInvalidArgument) }
    if rec == nil { return nil, fmt.Errorf("%w: nil record", ErrInvalidArgument) }
    q, err := yang.ParseQName(rec.NodeIdentifier)
    if err != nil { return nil, fmt.Errorf("%w: %v", ErrSchemaMismatch, err) }
    sn, ok := schema.FindSchemaNode(finder, q)
    if !ok { return nil, fmt.Errorf("%w: no schema node for %s", ErrSchemaMismatch, q) }
    cs, ok := sn.(*schema.ContainerSchemaNode)
    if !ok { return nil, fmt.Errorf("%w: %s resolves to %T", ErrSchemaMismatch, q, sn) }

    doc := etree.NewDocument()
    if err := doc.ReadFromString(rec.Body); err != nil { return nil, fmt.Errorf("%w: %v", ErrMalformedBody, err) }
    root := doc.Root()
    if root == nil { return nil, fmt.Errorf("%w: no root element", ErrMalformedBody) }
    if root.Tag != cs.Name.Local || root.NamespaceURI() != cs.Name.Namespace {
        return nil, fmt.Errorf("%w: root {%s}%s does not match %s", ErrMalformedBody, root.NamespaceURI(), root.Tag, cs.Name)
    }
    children, err := decodeChildren(root, cs)
    if err != nil { return nil, err }
    return tree.NewContainer(cs.Name, children...), nil
}

func decodeChildren(el *etree.Element, parent schema.Parent) ([]tree.Node, error) {
    b := newBuilder()
    for _, c := range el.ChildElements() {
        q := yang.QName{Namespace: c.NamespaceURI(), Local: c.Tag}
        sn, branches, ok := schema.LookupChild(parent, q)
        if !ok { return nil, fmt.Errorf("%w: unexpected element {%s}%s", ErrMalformedBody, q.Namespace, q.Local) }
        if err := b.add(c, sn, branches); err != nil { return nil, err }
    }
    return b.finish(), nil
}

// builder regroups sibling elements into tree nodes: repeated list and
// leaf-list elements into one collection, case members into one choice node.
type builder struct {
    nodes   []tree.Node
    leaves  map[yang.QName]bool
    maps    map[yang.QName]*tree.MapNode
    sets    map[yang.QName]*tree.LeafSet
    choices map[yang.QName]*choiceGroup
}

type choiceGroup struct {
    node *tree.Choice
    cas  *schema.CaseSchemaNode
    b    *builder
}

func newBuilder() *builder {
    return &builder{
        leaves:  map[yang.QName]bool{},
        maps:    map[yang.QName]*tree.MapNode{},
        sets:    map[yang.QName]*tree.LeafSet{},
        choices: map[yang.QName]*choiceGroup{},
    }
}

func (b *builder) add(el *etree.Element, sn schema.DataSchemaNode, branches []schema.Branch) error {
    if len(branches) > 0 {
        br := branches[0]
        g, ok := b.choices[br.Choice.Name]
        if !ok {
            g = &choiceGroup{node: tree.NewChoice(br.Choice.Name), cas: br.Case, b: newBuilder()}
            b.choices[br.Choice.Name] = g
            b.nodes = append(b.nodes, g.node)
        } else if g.cas != br.Case {
            return fmt.Errorf("%w: choice %s mixes cases %s and %s", ErrMalformedBody, br.Choice.Name.Local, g.cas.Name.Local, br.Case.Name.Local)
        }
        return g.b.add(el, sn, branches[1:])
    }

    name := sn.QName()
    switch s := sn.(type) {
    case *schema.LeafSchemaNode:
        if b.leaves[name] { return fmt.Errorf("%w: duplicate %s", ErrMalformedBody, name.Local) }
        v, err := leafValue(el, s.Type)
        if err != nil { return err }
        b.leaves[name] = true
        b.nodes = append(b.nodes, tree.NewLeaf(name, v))
    case *schema.ContainerSchemaNode:
        if b.leaves[name] { return fmt.Errorf("%w: duplicate %s", ErrMalformedBody, name.Local) }
        children, err := decodeChildren(el, s)
        if err != nil { return err }
        b.leaves[name] = true
        b.nodes = append(b.nodes, tree.NewContainer(name, children...))
    case *schema.LeafListSchemaNode:
        v, err := leafValue(el, s.Type)
        if err != nil { return err }
        set, ok := b.sets[name]
        if !ok {
            set = tree.NewLeafSet(name)
            b.sets[name] = set
            b.nodes = append(b.nodes, set)
        }
        e := &tree.LeafSetEntry{Name: name, Value: v}
        if _, dup := tree.Child(set, e.Identifier()); dup { return fmt.Errorf("%w: duplicate %s value %q", ErrMalformedBody, name.Local, tree.Text(v)) }
        set.Entries = append(set.Entries, e)
    case *schema.ListSchemaNode:
        e, err := decodeEntry(el, s)
        if err != nil { return err }
        m, ok := b.maps[name]
        if !ok {
            m = tree.NewMapNode(name)
            b.maps[name] = m
            b.nodes = append(b.nodes, m)
        }
        if _, dup := tree.Child(m, e.Identifier()); dup { return fmt.Errorf("%w: duplicate %s entry %s", ErrMalformedBody, name.Local, e.Identifier()) }
        m.Entries = append(m.Entries, e)
    default:
        return fmt.Errorf("%w: %T cannot be decoded", ErrMalformedBody, sn)
    }
    return nil
}

func (b *builder) finish() []tree.Node {
    for _, g := range b.choices {
        g.node.Children = g.b.finish()
    }
    return b.nodes
}

func decodeEntry(el *etree.Element, list *schema.ListSchemaNode) (*tree.MapEntry, error) {
    children, err := decodeChildren(el, list)
    if err != nil { return nil, err }
    keys := make([]yang.Key, 0, len(list.Keys))
    for _, k := range list.Keys {
        var leaf *tree.Leaf
        for _, c := range children {
            if l, ok := c.(*tree.Leaf); ok && l.Name.Is(k) {
                leaf = l
                break
            }
        }
        if leaf == nil { return nil, fmt.Errorf("%w: %s entry without key %s", ErrMalformedBody, list.Name.Local, k.Local) }
        keys = append(keys, yang.Key{Name: leaf.Name, Value: tree.Text(leaf.Value)})
    }
    return tree.NewMapEntry(list.Name, keys, children...), nil
}

func leafValue(el *etree.Element, t schema.LeafType) (any, error) {
    if len(el.ChildElements()) > 0 { return nil, fmt.Errorf("%w: leaf %s has child elements", ErrMalformedBody, el.Tag) }
    v, err := t.Parse(el.Text())
    if err != nil { return nil, fmt.Errorf("%w: %s: %v", ErrMalformedBody, el.Tag, err) }
    return v, nil
}
