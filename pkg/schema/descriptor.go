package schema

import (
    "errors"
    "fmt"
    "io"
    "os"

    "gopkg.in/yaml.v3"

    "github.com/amirimatin/go-shardstore/pkg/yang"
)

// Descriptor is the YAML form of an already-compiled schema:
//
//    modules:
//      - name: example
//        namespace: urn:example
//        revision: "2024-01-01"
//        nodes:
//          - container: interfaces
//            children:
//              - list: interface
//                keys: [name]
//                children:
//                  - leaf: name
//                    type: string
type Descriptor struct {
    Modules []ModuleDescriptor `yaml:"modules"`
}

type ModuleDescriptor struct {
    Name      string           `yaml:"name"`
    Namespace string           `yaml:"namespace"`
    Revision  string           `yaml:"revision,omitempty"`
    Nodes     []NodeDescriptor `yaml:"nodes"`
}

// NodeDescriptor sets exactly one of the kind fields to the node's local
// name. Namespace overrides the module namespace for augmenting nodes.
type NodeDescriptor struct {
    Container string `yaml:"container,omitempty"`
    List      string `yaml:"list,omitempty"`
    Leaf      string `yaml:"leaf,omitempty"`
    LeafList  string `yaml:"leaf-list,omitempty"`
    Choice    string `yaml:"choice,omitempty"`
    Case      string `yaml:"case,omitempty"`

    Namespace string           `yaml:"namespace,omitempty"`
    Type      string           `yaml:"type,omitempty"`
    Enum      []string         `yaml:"enum,omitempty"`
    Keys      []string         `yaml:"keys,omitempty"`
    Children  []NodeDescriptor `yaml:"children,omitempty"`
    Cases     []NodeDescriptor `yaml:"cases,omitempty"`
}

// LoadDescriptor decodes a YAML descriptor and builds a Context from it.
func LoadDescriptor(r io.Reader) (*Context, error) {
    dec := yaml.NewDecoder(r)
    dec.KnownFields(true)
    var d Descriptor
    if err := dec.Decode(&d); err != nil {
        if errors.Is(err, io.EOF) { return nil, fmt.Errorf("%w: empty document", ErrInvalidDescriptor) }
        return nil, fmt.Errorf("%w: %v", ErrInvalidDescriptor, err)
    }
    return d.Build()
}

// LoadDescriptorFile is LoadDescriptor over a file path.
func LoadDescriptorFile(path string) (*Context, error) {
    f, err := os.Open(path)
    if err != nil { return nil, err }
    defer f.Close()
    return LoadDescriptor(f)
}

// Build validates the descriptor and returns the schema context.
func (d Descriptor) Build() (*Context, error) {
    if len(d.Modules) == 0 { return nil, fmt.Errorf("%w: no modules", ErrInvalidDescriptor) }
    mods := make([]*Module, 0, len(d.Modules))
    for _, md := range d.Modules {
        if md.Namespace == "" { return nil, fmt.Errorf("%w: module %q has no namespace", ErrInvalidDescriptor, md.Name) }
        m := &Module{Name: md.Name, Namespace: md.Namespace, Revision: md.Revision}
        for _, nd := range md.Nodes {
            n, err := nd.build(m, md.Namespace)
            if err != nil { return nil, fmt.Errorf("module %q: %w", md.Name, err) }
            m.Children = append(m.Children, n)
        }
        mods = append(mods, m)
    }
    return NewContext(mods...), nil
}

func (nd NodeDescriptor) kind() (string, string, error) {
    var kind, name string
    n := 0
    for k, v := range map[string]string{
        "container": nd.Container, "list": nd.List, "leaf": nd.Leaf,
        "leaf-list": nd.LeafList, "choice": nd.Choice, "case": nd.Case,
    } {
        if v != "" {
            kind, name = k, v
            n++
        }
    }
    if n != 1 { return "", "", fmt.Errorf("%w: node must set exactly one kind, got %d", ErrInvalidDescriptor, n) }
    return kind, name, nil
}

func (nd NodeDescriptor) build(m *Module, ns string) (DataSchemaNode, error) {
    kind, local, err := nd.kind()
    if err != nil { return nil, err }
    if nd.Namespace != "" {
        ns = nd.Namespace
    }
    q := yang.QName{Namespace: ns, Revision: m.Revision, Local: local}
    if ns != m.Namespace {
        q.Revision = ""
    }

    children := func() ([]DataSchemaNode, error) {
        out := make([]DataSchemaNode, 0, len(nd.Children))
        for _, c := range nd.Children {
            if c.Case != "" {
                return nil, fmt.Errorf("%w: case %q outside a choice", ErrInvalidDescriptor, c.Case)
            }
            n, err := c.build(m, ns)
            if err != nil { return nil, err }
            out = append(out, n)
        }
        return out, nil
    }
    leafType := func() (LeafType, error) {
        k, err := ParseKind(nd.Type)
        if err != nil { return LeafType{}, fmt.Errorf("%w: %s %q: %v", ErrInvalidDescriptor, kind, local, err) }
        if k == KindEnumeration && len(nd.Enum) == 0 {
            return LeafType{}, fmt.Errorf("%w: enumeration %q has no labels", ErrInvalidDescriptor, local)
        }
        return LeafType{Kind: k, Enums: append([]string(nil), nd.Enum...)}, nil
    }

    switch kind {
    case "container", "case":
        cs, err := children()
        if err != nil { return nil, err }
        if kind == "case" { return Case(q, cs...), nil }
        return Container(q, cs...), nil
    case "list":
        cs, err := children()
        if err != nil { return nil, err }
        if len(nd.Keys) == 0 { return nil, fmt.Errorf("%w: list %q has no keys", ErrInvalidDescriptor, local) }
        keys := make([]yang.QName, 0, len(nd.Keys))
        for _, k := range nd.Keys { keys = append(keys, q.WithLocal(k)) }
        l := List(q, keys, cs...)
        for _, k := range keys {
            if _, ok := l.KeyLeaf(k); !ok {
                return nil, fmt.Errorf("%w: list %q key %q is not a leaf child", ErrInvalidDescriptor, local, k.Local)
            }
        }
        return l, nil
    case "leaf", "leaf-list":
        t, err := leafType()
        if err != nil { return nil, err }
        if kind == "leaf" { return Leaf(q, t), nil }
        return LeafList(q, t), nil
    default:
        ch := &ChoiceSchemaNode{Name: q}
        for _, cd := range nd.Cases {
            if cd.Case == "" { return nil, fmt.Errorf("%w: choice %q entries must be cases", ErrInvalidDescriptor, local) }
            n, err := cd.build(m, ns)
            if err != nil { return nil, err }
            ch.Cases = append(ch.Cases, n.(*CaseSchemaNode))
        }
        if len(ch.Cases) == 0 { return nil, fmt.Errorf("%w: choice %q has no cases", ErrInvalidDescriptor, local) }
        return ch, nil
    }
}
