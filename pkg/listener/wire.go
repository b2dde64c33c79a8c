package listener

import (
    "encoding/json"
    "fmt"

    "github.com/amirimatin/go-shardstore/pkg/actor"
    "github.com/amirimatin/go-shardstore/pkg/codec"
    "github.com/amirimatin/go-shardstore/pkg/datastore"
    "github.com/amirimatin/go-shardstore/pkg/schema"
    "github.com/amirimatin/go-shardstore/pkg/tree"
    "github.com/amirimatin/go-shardstore/pkg/yang"
)

// RegisterMessages makes the listener messages relayable between nodes.
// Data in DataChanged travels as XML records encoded against finder.
func RegisterMessages(reg *actor.Registry, finder schema.ModuleFinder) {
    reg.RegisterCodec("listener.RegisterChangeListener", RegisterChangeListener{}, registerCodec{})
    reg.Register("listener.RegisterChangeListenerReply", RegisterChangeListenerReply{})
    reg.Register("listener.EnableNotification", EnableNotification{})
    reg.RegisterCodec("listener.DataChanged", DataChanged{}, dataChangedCodec{finder: finder})
    reg.Register("listener.CloseListenerRegistration", CloseListenerRegistration{})
    reg.Register("listener.CloseListenerRegistrationReply", CloseListenerRegistrationReply{})
}

type registerWire struct {
    Path         string          `json:"path"`
    ListenerPath actor.Address   `json:"listenerPath"`
    Scope        datastore.Scope `json:"scope"`
}

type registerCodec struct{}

func (registerCodec) Marshal(msg any) (json.RawMessage, error) {
    m := msg.(RegisterChangeListener)
    return json.Marshal(registerWire{Path: m.Path.String(), ListenerPath: m.ListenerPath, Scope: m.Scope})
}

func (registerCodec) Unmarshal(payload json.RawMessage) (any, error) {
    var w registerWire
    if err := json.Unmarshal(payload, &w); err != nil { return nil, err }
    p, err := yang.ParsePath("", w.Path)
    if err != nil { return nil, err }
    return RegisterChangeListener{Path: p, ListenerPath: w.ListenerPath, Scope: w.Scope}, nil
}

type entryWire struct {
    Path string             `json:"path"`
    Data []codec.WireRecord `json:"data"`
}

type dataChangedWire struct {
    Path     string             `json:"path"`
    Created  []entryWire        `json:"created,omitempty"`
    Updated  []entryWire        `json:"updated,omitempty"`
    Removed  []string           `json:"removed,omitempty"`
    Original []codec.WireRecord `json:"originalSubtree,omitempty"`
    Current  []codec.WireRecord `json:"updatedSubtree,omitempty"`
}

type dataChangedCodec struct {
    finder schema.ModuleFinder
}

func (c dataChangedCodec) Marshal(msg any) (json.RawMessage, error) {
    ev := msg.(DataChanged).Event
    w := dataChangedWire{Path: ev.Path.String()}
    var err error
    if w.Created, err = c.entries(ev.Created); err != nil { return nil, err }
    if w.Updated, err = c.entries(ev.Updated); err != nil { return nil, err }
    for _, p := range ev.Removed { w.Removed = append(w.Removed, p.String()) }
    if w.Original, err = c.encode(ev.Path, ev.OriginalSubtree); err != nil { return nil, err }
    if w.Current, err = c.encode(ev.Path, ev.UpdatedSubtree); err != nil { return nil, err }
    return json.Marshal(w)
}

func (c dataChangedCodec) Unmarshal(payload json.RawMessage) (any, error) {
    var w dataChangedWire
    if err := json.Unmarshal(payload, &w); err != nil { return nil, err }
    var ev datastore.ChangeEvent
    var err error
    if ev.Path, err = yang.ParsePath("", w.Path); err != nil { return nil, err }
    if ev.Created, err = c.decodeEntries(w.Created); err != nil { return nil, err }
    if ev.Updated, err = c.decodeEntries(w.Updated); err != nil { return nil, err }
    for _, s := range w.Removed {
        p, err := yang.ParsePath("", s)
        if err != nil { return nil, err }
        ev.Removed = append(ev.Removed, p)
    }
    if ev.OriginalSubtree, err = c.decode(ev.Path, w.Original); err != nil { return nil, err }
    if ev.UpdatedSubtree, err = c.decode(ev.Path, w.Current); err != nil { return nil, err }
    return DataChanged{Event: ev}, nil
}

func (c dataChangedCodec) entries(in []datastore.Entry) ([]entryWire, error) {
    out := make([]entryWire, 0, len(in))
    for _, e := range in {
        recs, err := c.encode(e.Path, e.Data)
        if err != nil { return nil, fmt.Errorf("listener: encode %s: %w", e.Path, err) }
        out = append(out, entryWire{Path: e.Path.String(), Data: recs})
    }
    return out, nil
}

func (c dataChangedCodec) decodeEntries(in []entryWire) ([]datastore.Entry, error) {
    out := make([]datastore.Entry, 0, len(in))
    for _, w := range in {
        p, err := yang.ParsePath("", w.Path)
        if err != nil { return nil, err }
        n, err := c.decode(p, w.Data)
        if err != nil { return nil, fmt.Errorf("listener: decode %s: %w", p, err) }
        out = append(out, datastore.Entry{Path: p, Data: n})
    }
    return out, nil
}

// encode renders n at p as records; the root becomes one record per
// top-level container.
func (c dataChangedCodec) encode(p yang.InstanceIdentifier, n tree.Node) ([]codec.WireRecord, error) {
    if n == nil { return nil, nil }
    if !p.IsRoot() {
        rec, err := codec.EncodeAt(c.finder, p, n)
        if err != nil { return nil, err }
        return []codec.WireRecord{*rec}, nil
    }
    var out []codec.WireRecord
    for _, child := range tree.Children(n) {
        rec, err := codec.Encode(c.finder, child)
        if err != nil { return nil, err }
        out = append(out, *rec)
    }
    return out, nil
}

func (c dataChangedCodec) decode(p yang.InstanceIdentifier, recs []codec.WireRecord) (tree.Node, error) {
    if !p.IsRoot() {
        if len(recs) == 0 { return nil, nil }
        return codec.DecodeAt(c.finder, p, &recs[0])
    }
    if recs == nil { return nil, nil }
    root := tree.NewContainer(yang.QName{})
    for i := range recs {
        n, err := codec.Decode(c.finder, &recs[i])
        if err != nil { return nil, err }
        root.Children = append(root.Children, n)
    }
    return root, nil
}
