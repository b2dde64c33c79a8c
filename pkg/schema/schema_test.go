package schema_test

import (
    "errors"
    "os"
    "strings"
    "testing"

    "github.com/amirimatin/go-shardstore/pkg/schema"
    "github.com/amirimatin/go-shardstore/pkg/schema/schematest"
    "github.com/amirimatin/go-shardstore/pkg/yang"
)

var Q = schematest.Q

func TestFindSchemaNode_ThroughChoice(t *testing.T) {
    ctx := schematest.Example()
    for _, local := range []string{"ipv4", "ipv6", "udp-port", "port"} {
        n, ok := schema.FindSchemaNode(ctx, yang.NewQName(schematest.Namespace, local))
        if !ok { t.Fatalf("%s not resolved", local) }
        if n.QName().Local != local { t.Fatalf("%s resolved to %s", local, n.QName()) }
    }
    n, _ := schema.FindSchemaNode(ctx, Q("ipv4"))
    if _, ok := n.(*schema.LeafSchemaNode); !ok { t.Fatalf("ipv4 resolved to %T", n) }
    n, _ = schema.FindSchemaNode(ctx, Q("tcp"))
    if _, ok := n.(*schema.ContainerSchemaNode); !ok {
        t.Fatalf("tcp should be the container inside case tcp, got %T", n)
    }
}

func TestFindSchemaNode_ChoiceAndCaseNamesInvisible(t *testing.T) {
    ctx := schematest.Example()
    for _, local := range []string{"address", "v4", "v6", "transport", "udp"} {
        if n, ok := schema.FindSchemaNode(ctx, Q(local)); ok {
            t.Fatalf("%s should not resolve, got %T", local, n)
        }
    }
}

func TestFindSchemaNode_PreOrderFirstMatch(t *testing.T) {
    ctx := schematest.Example()
    got, ok := schema.FindSchemaNode(ctx, Q("name"))
    if !ok { t.Fatalf("name not resolved") }
    ifaces, _ := schema.FindSchemaNode(ctx, Q("interfaces"))
    list, _, _ := schema.LookupChild(ifaces.(*schema.ContainerSchemaNode), Q("interface"))
    want, _, _ := schema.LookupChild(list.(*schema.ListSchemaNode), Q("name"))
    if got != want { t.Fatalf("expected the list key leaf, which precedes interfaces/name in pre-order") }
}

func TestFindSchemaNode_SkipsNilNodes(t *testing.T) {
    const ns = "urn:n"
    q := func(l string) yang.QName { return yang.NewQName(ns, l) }
    var noContainer *schema.ContainerSchemaNode
    var noLeaf *schema.LeafSchemaNode
    top := schema.Container(q("top"),
        noContainer,
        nil,
        schema.Choice(q("pick"), nil, schema.Case(q("a"), noLeaf, schema.Leaf(q("x"), schema.String))),
    )
    ctx := schema.NewContext(schema.NewModule("n", ns, "", noContainer, top))
    n, ok := schema.FindSchemaNode(ctx, q("x"))
    if !ok || n.QName().Local != "x" { t.Fatalf("x: %v %v", n, ok) }
    if _, ok := schema.FindSchemaNode(ctx, q("missing")); ok { t.Fatalf("missing resolved") }
    if _, _, ok := schema.LookupChild(top, q("x")); !ok { t.Fatalf("lookup through choice with nil case failed") }
}

func TestFindSchemaNode_NamespaceAndRevision(t *testing.T) {
    ctx := schematest.Example()
    if _, ok := schema.FindSchemaNode(ctx, yang.NewQName("urn:other", "interfaces")); ok {
        t.Fatalf("unknown namespace resolved")
    }
    if _, ok := schema.FindSchemaNode(ctx, yang.QName{Namespace: schematest.Namespace, Revision: "1999-01-01", Local: "interfaces"}); ok {
        t.Fatalf("mismatched revision resolved")
    }
    if _, ok := schema.FindSchemaNode(ctx, yang.NewQName(schematest.Namespace, "interfaces")); !ok {
        t.Fatalf("revision-less name should resolve")
    }
    if _, ok := schema.FindSchemaNode(nil, Q("interfaces")); ok { t.Fatalf("nil finder resolved") }
}

func TestFindSchemaNode_DeepSchema(t *testing.T) {
    const depth = 50000
    var n schema.DataSchemaNode = schema.Leaf(Q("bottom"), schema.String)
    for i := 0; i < depth; i++ {
        if i%2 == 0 {
            n = schema.Container(Q("c"), n)
        } else {
            n = schema.Choice(Q("ch"), schema.Case(Q("k"), n))
        }
    }
    ctx := schema.NewContext(schema.NewModule("deep", schematest.Namespace, "", n))
    if got, ok := schema.FindSchemaNode(ctx, Q("bottom")); !ok || got.QName().Local != "bottom" {
        t.Fatalf("deep leaf not resolved")
    }
}

func TestFindSchemaNode_MultipleModulesSameNamespace(t *testing.T) {
    older := schema.NewModule("m", "urn:m", "2020-01-01", schema.Leaf(yang.NewQName("urn:m", "old"), schema.String))
    newer := schema.NewModule("m", "urn:m", "2023-01-01", schema.Leaf(yang.NewQName("urn:m", "new"), schema.String))
    ctx := schema.NewContext(older, newer)
    if ms := ctx.FindModuleByNamespace("urn:m"); len(ms) != 2 || ms[0] != newer {
        t.Fatalf("modules not ordered newest first: %v", ms)
    }
    if _, ok := schema.FindSchemaNode(ctx, yang.NewQName("urn:m", "old")); !ok {
        t.Fatalf("node of older module not found")
    }
    if _, ok := schema.FindSchemaNode(ctx, yang.QName{Namespace: "urn:m", Revision: "2023-01-01", Local: "old"}); ok {
        t.Fatalf("revision-pinned lookup crossed modules")
    }
}

func TestLookupChild_Branches(t *testing.T) {
    ctx := schematest.Example()
    sys, _ := schema.FindSchemaNode(ctx, Q("system"))
    n, br, ok := schema.LookupChild(sys.(*schema.ContainerSchemaNode), Q("udp-port"))
    if !ok || n.QName().Local != "udp-port" { t.Fatalf("udp-port not found") }
    if len(br) != 1 || br[0].Choice.Name.Local != "transport" || br[0].Case.Name.Local != "udp" {
        t.Fatalf("unexpected branches: %+v", br)
    }
    ch, br, ok := schema.LookupChoice(sys.(*schema.ContainerSchemaNode), Q("transport"))
    if !ok || ch.Name.Local != "transport" || len(br) != 0 { t.Fatalf("choice lookup failed") }
    if _, _, ok := schema.LookupChild(sys.(*schema.ContainerSchemaNode), Q("transport")); ok {
        t.Fatalf("choice returned as data child")
    }
}

func TestResolvePath(t *testing.T) {
    ctx := schematest.Example()
    good := []string{
        "/interfaces",
        "/interfaces/interface",
        "/interfaces/interface[name='eth0']/mtu",
        "/interfaces/interface[name='eth0']/tags[.='x']",
        "/interfaces/interface[name='eth0']/ipv6",
        "/system/tcp/port",
    }
    for _, s := range good {
        if _, err := schema.ResolvePath(ctx, yang.MustParsePath(schematest.Namespace, s)); err != nil {
            t.Fatalf("%s: %v", s, err)
        }
    }
    bad := []string{
        "/nothing",
        "/interfaces/interface/mtu",
        "/interfaces/interface[mtu='1']",
        "/interfaces/interface[name='eth0']/mtu/extra",
        "/interfaces/name[.='x']",
        "/interfaces/interface[name='eth0']/ipv4[name='x']",
        "/interfaces/interface[name='eth0']/address",
    }
    for _, s := range bad {
        if _, err := schema.ResolvePath(ctx, yang.MustParsePath(schematest.Namespace, s)); !errors.Is(err, schema.ErrInvalidPath) {
            t.Fatalf("%s: want ErrInvalidPath, got %v", s, err)
        }
    }
    steps, _ := schema.ResolvePath(ctx, yang.MustParsePath(schematest.Namespace, "/system/udp-port"))
    if len(steps[1].Branches) != 1 { t.Fatalf("choice branch not recorded") }
}

func TestLeafType_ParseFormat(t *testing.T) {
    cases := []struct {
        t    schema.LeafType
        text string
        want any
    }{
        {schema.String, "  spaced ", "  spaced "},
        {schema.Boolean, " true", true},
        {schema.Int, "-42", int64(-42)},
        {schema.Uint, "1500", uint64(1500)},
        {schema.Decimal, "0.25", 0.25},
        {schema.Enumeration("a", "b"), "b", "b"},
        {schema.Empty, "", yang.Empty{}},
    }
    for _, c := range cases {
        v, err := c.t.Parse(c.text)
        if err != nil { t.Fatalf("%s parse %q: %v", c.t, c.text, err) }
        if v != c.want { t.Fatalf("%s parse %q = %#v", c.t, c.text, v) }
        s, err := c.t.Format(v)
        if err != nil { t.Fatalf("%s format: %v", c.t, err) }
        if back, _ := c.t.Parse(s); back != v { t.Fatalf("%s round trip %v -> %q -> %v", c.t, v, s, back) }
    }
    for _, bad := range []struct {
        t    schema.LeafType
        text string
    }{{schema.Boolean, "yes"}, {schema.Uint, "-1"}, {schema.Enumeration("a"), "c"}, {schema.Empty, "x"}, {schema.Int, "1.5"}} {
        if _, err := bad.t.Parse(bad.text); !errors.Is(err, schema.ErrInvalidValue) {
            t.Fatalf("%s parse %q should fail", bad.t, bad.text)
        }
    }
    if _, err := schema.Uint.Format(1500); err == nil { t.Fatalf("int is not canonical for uint") }
    if v, err := schema.Uint.Normalize(1500); err != nil || v != uint64(1500) {
        t.Fatalf("normalize: %v %v", v, err)
    }
}

func TestLoadDescriptor_MatchesBuiltSchema(t *testing.T) {
    f, err := os.Open("testdata/example.yaml")
    if err != nil { t.Fatalf("open: %v", err) }
    defer f.Close()
    ctx, err := schema.LoadDescriptor(f)
    if err != nil { t.Fatalf("load: %v", err) }
    for _, local := range []string{"interfaces", "interface", "ipv4", "ipv6", "tags", "port", "udp-port", "debug"} {
        if _, ok := schema.FindSchemaNode(ctx, Q(local)); !ok {
            t.Fatalf("%s missing from descriptor schema", local)
        }
    }
    n, _ := schema.FindSchemaNode(ctx, Q("interface"))
    l, ok := n.(*schema.ListSchemaNode)
    if !ok || len(l.Keys) != 1 || l.Keys[0].Local != "name" { t.Fatalf("list keys not loaded: %#v", n) }
    mtu, _, _ := schema.LookupChild(l, Q("mtu"))
    if mtu.(*schema.LeafSchemaNode).Type.Kind != schema.KindUint { t.Fatalf("uint32 not mapped to uint") }
    if _, ok := schema.FindSchemaNode(ctx, Q("address")); ok { t.Fatalf("choice became visible") }
}

func TestLoadDescriptor_Rejects(t *testing.T) {
    bad := map[string]string{
        "empty":       "",
        "no modules":  "modules: []\n",
        "unknown key": "modules:\n  - name: m\n    namespace: urn:m\n    bogus: 1\n",
        "two kinds":   "modules:\n  - name: m\n    namespace: urn:m\n    nodes:\n      - leaf: a\n        container: b\n",
        "no keys":     "modules:\n  - name: m\n    namespace: urn:m\n    nodes:\n      - list: l\n        children:\n          - leaf: k\n",
        "bad key":     "modules:\n  - name: m\n    namespace: urn:m\n    nodes:\n      - list: l\n        keys: [x]\n        children:\n          - leaf: k\n",
        "bad type":    "modules:\n  - name: m\n    namespace: urn:m\n    nodes:\n      - leaf: a\n        type: blob\n",
        "stray case":  "modules:\n  - name: m\n    namespace: urn:m\n    nodes:\n      - container: c\n        children:\n          - case: k\n",
    }
    for name, doc := range bad {
        if _, err := schema.LoadDescriptor(strings.NewReader(doc)); !errors.Is(err, schema.ErrInvalidDescriptor) {
            t.Fatalf("%s: want ErrInvalidDescriptor, got %v", name, err)
        }
    }
}
