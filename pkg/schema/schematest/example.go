// Package schematest provides a small interfaces/system schema shared by
// tests across the module.
package schematest

import (
    "github.com/amirimatin/go-shardstore/pkg/schema"
    "github.com/amirimatin/go-shardstore/pkg/yang"
)

const (
    Namespace = "urn:example"
    Revision  = "2024-01-01"
)

// Q returns a name in the example module.
func Q(local string) yang.QName {
    return yang.QName{Namespace: Namespace, Revision: Revision, Local: local}
}

// Example returns:
//
//    container interfaces {
//      list interface { key name; leaf name; leaf mtu (uint); leaf enabled (boolean);
//        leaf type (enumeration ethernet|loopback); leaf-list tags;
//        choice address { case v4 { leaf ipv4; leaf prefix-length (uint) } case v6 { leaf ipv6 } } }
//      leaf name; leaf description;
//    }
//    container system {
//      leaf hostname; leaf debug (empty); leaf load (decimal);
//      choice transport { case tcp { container tcp { leaf port (uint) } } case udp { leaf udp-port (uint) } }
//    }
func Example() *schema.Context {
    iface := schema.List(Q("interface"), []yang.QName{Q("name")},
        schema.Leaf(Q("name"), schema.String),
        schema.Leaf(Q("mtu"), schema.Uint),
        schema.Leaf(Q("enabled"), schema.Boolean),
        schema.Leaf(Q("type"), schema.Enumeration("ethernet", "loopback")),
        schema.LeafList(Q("tags"), schema.String),
        schema.Choice(Q("address"),
            schema.Case(Q("v4"),
                schema.Leaf(Q("ipv4"), schema.String),
                schema.Leaf(Q("prefix-length"), schema.Uint),
            ),
            schema.Case(Q("v6"), schema.Leaf(Q("ipv6"), schema.String)),
        ),
    )
    interfaces := schema.Container(Q("interfaces"),
        iface,
        schema.Leaf(Q("name"), schema.String),
        schema.Leaf(Q("description"), schema.String),
    )
    system := schema.Container(Q("system"),
        schema.Leaf(Q("hostname"), schema.String),
        schema.Leaf(Q("debug"), schema.Empty),
        schema.Leaf(Q("load"), schema.Decimal),
        schema.Choice(Q("transport"),
            schema.Case(Q("tcp"), schema.Container(Q("tcp"), schema.Leaf(Q("port"), schema.Uint))),
            schema.Case(Q("udp"), schema.Leaf(Q("udp-port"), schema.Uint)),
        ),
    )
    return schema.NewContext(schema.NewModule("example", Namespace, Revision, interfaces, system))
}
