package actor

import (
    "encoding/json"
    "errors"
    "fmt"
    "reflect"
    "sync"
)

// Codec converts one message type to and from its wire payload.
type Codec interface {
    Marshal(msg any) (json.RawMessage, error)
    Unmarshal(payload json.RawMessage) (any, error)
}

// Registry maps message types to stable wire names. Types registered
// without a codec travel as plain JSON.
type Registry struct {
    mu     sync.RWMutex
    byName map[string]registered
    byType map[reflect.Type]string
}

type registered struct {
    typ   reflect.Type
    codec Codec
}

func NewRegistry() *Registry {
    r := &Registry{byName: map[string]registered{}, byType: map[reflect.Type]string{}}
    r.RegisterCodec("actor.Failure", Failure{}, failureCodec{})
    return r
}

// Register binds name to the type of sample.
func (r *Registry) Register(name string, sample any) { r.RegisterCodec(name, sample, nil) }

// RegisterCodec binds name to the type of sample with a custom codec.
func (r *Registry) RegisterCodec(name string, sample any, c Codec) {
    t := reflect.TypeOf(sample)
    r.mu.Lock()
    defer r.mu.Unlock()
    r.byName[name] = registered{typ: t, codec: c}
    r.byType[t] = name
}

// Encode returns the wire name and payload of msg.
func (r *Registry) Encode(msg any) (string, json.RawMessage, error) {
    r.mu.RLock()
    name, ok := r.byType[reflect.TypeOf(msg)]
    reg := r.byName[name]
    r.mu.RUnlock()
    if !ok { return "", nil, fmt.Errorf("%w: %T", ErrUnknown, msg) }
    if reg.codec != nil {
        b, err := reg.codec.Marshal(msg)
        return name, b, err
    }
    b, err := json.Marshal(msg)
    return name, b, err
}

// Decode rebuilds a message from its wire name and payload.
func (r *Registry) Decode(name string, payload json.RawMessage) (any, error) {
    r.mu.RLock()
    reg, ok := r.byName[name]
    r.mu.RUnlock()
    if !ok { return nil, fmt.Errorf("%w: %q", ErrUnknown, name) }
    if reg.codec != nil { return reg.codec.Unmarshal(payload) }
    if reg.typ.Kind() == reflect.Pointer {
        v := reflect.New(reg.typ.Elem())
        if err := json.Unmarshal(payload, v.Interface()); err != nil { return nil, err }
        return v.Interface(), nil
    }
    v := reflect.New(reg.typ)
    if err := json.Unmarshal(payload, v.Interface()); err != nil { return nil, err }
    return v.Elem().Interface(), nil
}

type failureCodec struct{}

type failureWire struct {
    Error string `json:"error"`
}

func (failureCodec) Marshal(msg any) (json.RawMessage, error) {
    return json.Marshal(failureWire{Error: msg.(Failure).Error()})
}

func (failureCodec) Unmarshal(payload json.RawMessage) (any, error) {
    var w failureWire
    if err := json.Unmarshal(payload, &w); err != nil { return nil, err }
    return Failure{Err: errors.New(w.Error)}, nil
}
