package schema

import "github.com/amirimatin/go-shardstore/pkg/yang"

func Container(name yang.QName, children ...DataSchemaNode) *ContainerSchemaNode {
    return &ContainerSchemaNode{Name: name, Children: children}
}

func List(name yang.QName, keys []yang.QName, children ...DataSchemaNode) *ListSchemaNode {
    return &ListSchemaNode{Name: name, Keys: append([]yang.QName(nil), keys...), Children: children}
}

func Leaf(name yang.QName, t LeafType) *LeafSchemaNode { return &LeafSchemaNode{Name: name, Type: t} }

func LeafList(name yang.QName, t LeafType) *LeafListSchemaNode {
    return &LeafListSchemaNode{Name: name, Type: t}
}

func Choice(name yang.QName, cases ...*CaseSchemaNode) *ChoiceSchemaNode {
    return &ChoiceSchemaNode{Name: name, Cases: cases}
}

func Case(name yang.QName, children ...DataSchemaNode) *CaseSchemaNode {
    return &CaseSchemaNode{Name: name, Children: children}
}

func NewModule(name, namespace, revision string, children ...DataSchemaNode) *Module {
    return &Module{Name: name, Namespace: namespace, Revision: revision, Children: children}
}
