// Package codec translates schema-typed trees to self-describing XML wire
// records and back.
//
// A record carries the qualified name of its top-level container and an XML
// body. The namespace is declared on the root element and again wherever a
// child's namespace differs from its parent's. Choices are transparent on the
// wire: decoding regroups elements into list, leaf-list and choice nodes using
// the schema.
package codec

import (
    "errors"
    "fmt"
    "reflect"
    "strings"
    "unicode/utf8"

    "github.com/beevik/etree"

    "github.com/amirimatin/go-shardstore/pkg/observability/metrics"
    "github.com/amirimatin/go-shardstore/pkg/schema"
    "github.com/amirimatin/go-shardstore/pkg/tree"
    "github.com/amirimatin/go-shardstore/pkg/yang"
)

var (
    ErrInvalidArgument = errors.New("codec: invalid argument")
    ErrSchemaMismatch  = errors.New("codec: schema mismatch")
    ErrMalformedBody   = errors.New("codec: malformed body")
)

// WireRecord is the serialized form of one top-level container.
type WireRecord struct {
    NodeIdentifier string `json:"nodeIdentifier" cbor:"nodeIdentifier"`
    Body           string `json:"body" cbor:"body"`
}

const indentUnit = "  "

// Encode serializes a top-level container.
func Encode(finder schema.ModuleFinder, n tree.Node) (*WireRecord, error) {
    rec, err := encode(finder, n)
    observe("encode", err)
    return rec, err
}

func encode(finder schema.ModuleFinder, n tree.Node) (*WireRecord, error) {
    if noFinder(finder) { return nil, fmt.Errorf("%w: nil schema context", ErrInvalidArgument) }
    if n == nil { return nil, fmt.Errorf("%w: nil node", ErrInvalidArgument) }
    c, ok := n.(*tree.Container)
    if !ok { return nil, fmt.Errorf("%w: %T is not a container", ErrSchemaMismatch, n) }
    sn, ok := schema.FindSchemaNode(finder, c.Name)
    if !ok {
        return nil, fmt.Errorf("%w: no schema node for %s", ErrSchemaMismatch, c.Name)
    }
    cs, ok := sn.(*schema.ContainerSchemaNode)
    if !ok { return nil, fmt.Errorf("%w: %s resolves to %T", ErrSchemaMismatch, c.Name, sn) }

    doc := etree.NewDocument()
    // A raw carriage return would come back as a line feed.
    doc.WriteSettings.CanonicalText = true
    root := doc.CreateElement(c.Name.Local)
    root.CreateAttr("xmlns", c.Name.Namespace)
    if err := encodeChildren(root, c.Name.Namespace, cs, c.Children, 0); err != nil {
        return nil, err
    }
    body, err := doc.WriteToString()
    if err != nil {
        return nil, fmt.Errorf("%w: %v", ErrSchemaMismatch, err)
    }
    return &WireRecord{NodeIdentifier: c.Name.String(), Body: body}, nil
}

// noFinder reports whether finder is nil, including a typed nil pointer.
func noFinder(finder schema.ModuleFinder) bool {
    if finder == nil { return true }
    v := reflect.ValueOf(finder)
    return v.Kind() == reflect.Pointer && v.IsNil()
}

// leafText formats v and rejects text XML cannot carry unchanged.
func leafText(t schema.LeafType, name string, v any) (string, error) {
    text, err := t.Format(v)
    if err != nil {
        return "", fmt.Errorf("%w: leaf %s: %v", ErrSchemaMismatch, name, err)
    }
    if !utf8.ValidString(text) {
        return "", fmt.Errorf("%w: leaf %s: invalid UTF-8", ErrSchemaMismatch, name)
    }
    for _, r := range text {
        if !xmlChar(r) {
            return "", fmt.Errorf("%w: leaf %s: character %U not allowed in XML", ErrSchemaMismatch, name, r)
        }
    }
    return text, nil
}

// xmlChar is the Char production of XML 1.0.
func xmlChar(r rune) bool {
    return r == 0x09 || r == 0x0A || r == 0x0D ||
        r >= 0x20 && r <= 0xD7FF ||
        r >= 0xE000 && r <= 0xFFFD ||
        r >= 0x10000 && r <= 0x10FFFF
}

// element appends an indented child element, declaring its namespace when
// it differs from the parent's.
func element(parent *etree.Element, parentNS string, name yang.QName, depth int) *etree.Element {
    parent.CreateText("\n" + strings.Repeat(indentUnit, depth+1))
    el := parent.CreateElement(name.Local)
    if name.Namespace != parentNS {
        el.CreateAttr("xmlns", name.Namespace)
    }
    return el
}

func encodeChildren(el *etree.Element, ns string, parent schema.Parent, children []tree.Node, depth int) error {
    wrote := false
    for _, child := range children {
        ok, err := encodeChild(el, ns, parent, child, depth)
        if err != nil { return err }
        wrote = wrote || ok
    }
    if wrote {
        el.CreateText("\n" + strings.Repeat(indentUnit, depth))
    }
    return nil
}

func encodeChild(el *etree.Element, ns string, parent schema.Parent, child tree.Node, depth int) (bool, error) {
    if ch, ok := child.(*tree.Choice); ok {
        cs, _, found := schema.LookupChoice(parent, ch.Name)
        if !found {
            return false, fmt.Errorf("%w: no choice %s", ErrSchemaMismatch, ch.Name)
        }
        wrote := false
        for _, c := range ch.Children {
            ok, err := encodeChild(el, ns, cs, c, depth)
            if err != nil { return false, err }
            wrote = wrote || ok
        }
        return wrote, nil
    }
    sn, _, found := schema.LookupChild(parent, child.QName())
    if !found {
        return false, fmt.Errorf("%w: no schema node for %s", ErrSchemaMismatch, child.QName())
    }
    switch c := child.(type) {
    case *tree.Leaf:
        ls, ok := sn.(*schema.LeafSchemaNode)
        if !ok { return false, mismatch(child, sn) }
        text, err := leafText(ls.Type, c.Name.Local, c.Value)
        if err != nil { return false, err }
        element(el, ns, c.Name, depth).SetText(text)
        return true, nil
    case *tree.LeafSet:
        ll, ok := sn.(*schema.LeafListSchemaNode)
        if !ok { return false, mismatch(child, sn) }
        for _, e := range c.Entries {
            text, err := leafText(ll.Type, c.Name.Local, e.Value)
            if err != nil { return false, err }
            element(el, ns, c.Name, depth).SetText(text)
        }
        return len(c.Entries) > 0, nil
    case *tree.Container:
        cs, ok := sn.(*schema.ContainerSchemaNode)
        if !ok { return false, mismatch(child, sn) }
        sub := element(el, ns, c.Name, depth)
        return true, encodeChildren(sub, c.Name.Namespace, cs, c.Children, depth+1)
    case *tree.MapNode:
        list, ok := sn.(*schema.ListSchemaNode)
        if !ok { return false, mismatch(child, sn) }
        for _, e := range c.Entries {
            sub := element(el, ns, c.Name, depth)
            if err := encodeEntry(sub, c.Name.Namespace, list, e, depth+1); err != nil { return false, err }
        }
        return len(c.Entries) > 0, nil
    }
    return false, fmt.Errorf("%w: %T cannot appear under %T", ErrSchemaMismatch, child, parent)
}

// encodeEntry writes key leaves first, in key order, taking them from the
// entry's key predicates when the children lack them.
func encodeEntry(el *etree.Element, ns string, list *schema.ListSchemaNode, e *tree.MapEntry, depth int) error {
    rest := make([]tree.Node, 0, len(e.Children))
    keys := make([]tree.Node, 0, len(list.Keys))
    for _, k := range list.Keys {
        var key tree.Node
        for _, c := range e.Children {
            if l, ok := c.(*tree.Leaf); ok && l.Name.Is(k) {
                key = l
                break
            }
        }
        if key == nil {
            text, ok := yang.EntryArg(e.Name, e.Keys...).KeyValue(k)
            if !ok {
                return fmt.Errorf("%w: entry of %s lacks key %s", ErrSchemaMismatch, list.Name.Local, k.Local)
            }
            leaf, ok := list.KeyLeaf(k)
            if !ok { return fmt.Errorf("%w: list %s has no key leaf %s", ErrSchemaMismatch, list.Name.Local, k.Local) }
            v, err := leaf.Type.Parse(text)
            if err != nil {
                return fmt.Errorf("%w: key %s: %v", ErrSchemaMismatch, k.Local, err)
            }
            key = tree.NewLeaf(leaf.Name, v)
        }
        keys = append(keys, key)
    }
    for _, c := range e.Children {
        if l, ok := c.(*tree.Leaf); ok && list.IsKey(l.Name) { continue }
        rest = append(rest, c)
    }
    return encodeChildren(el, ns, list, append(keys, rest...), depth)
}

func mismatch(n tree.Node, sn schema.DataSchemaNode) error {
    return fmt.Errorf("%w: %T %s against %T", ErrSchemaMismatch, n, n.QName().Local, sn)
}

func observe(op string, err error) {
    result := "ok"
    if err != nil {
        result = "error"
    }
    metrics.CodecOperations.WithLabelValues(op, result).Inc()
}
