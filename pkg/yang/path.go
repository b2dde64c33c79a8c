package yang

import (
    "errors"
    "fmt"
    "strings"
)

// ErrInvalidPath is returned when a textual instance identifier cannot be parsed.
var ErrInvalidPath = errors.New("yang: invalid path")

// Key is one list-entry key predicate. Values are kept in their canonical
// text form so that paths typed by hand compare equal to paths derived from
// typed data.
type Key struct {
    Name  QName
    Value string
}

// PathArgument identifies one step in a data tree. A step with Keys selects a
// list entry, a step with Value selects a leaf-list entry, anything else
// selects a container, leaf, list or leaf-list by name.
type PathArgument struct {
    Name  QName
    Keys  []Key
    Value *string
}

// Arg returns a plain named path argument.
func Arg(name QName) PathArgument { return PathArgument{Name: name} }

// EntryArg returns a list-entry path argument.
func EntryArg(name QName, keys ...Key) PathArgument {
    return PathArgument{Name: name, Keys: append([]Key(nil), keys...)}
}

// ValueArg returns a leaf-list entry path argument.
func ValueArg(name QName, value string) PathArgument {
    v := value
    return PathArgument{Name: name, Value: &v}
}

// IsEntry reports whether a selects a list entry.
func (a PathArgument) IsEntry() bool { return len(a.Keys) > 0 }

// IsValue reports whether a selects a leaf-list entry.
func (a PathArgument) IsValue() bool { return a.Value != nil }

// KeyValue returns the predicate value for the named key.
func (a PathArgument) KeyValue(name QName) (string, bool) {
    for _, k := range a.Keys {
        if k.Name.Is(name) { return k.Value, true }
    }
    return "", false
}

// Equal compares two path arguments. Key order is not significant.
func (a PathArgument) Equal(b PathArgument) bool {
    if !a.Name.Is(b.Name) || len(a.Keys) != len(b.Keys) { return false }
    if (a.Value == nil) != (b.Value == nil) { return false }
    if a.Value != nil && *a.Value != *b.Value { return false }
    for _, k := range a.Keys {
        v, ok := b.KeyValue(k.Name)
        if !ok || v != k.Value { return false }
    }
    return true
}

func (a PathArgument) format(parentNS string) string {
    var b strings.Builder
    writeName(&b, a.Name, parentNS)
    for _, k := range a.Keys {
        b.WriteByte('[')
        writeName(&b, k.Name, a.Name.Namespace)
        b.WriteByte('=')
        writeQuoted(&b, k.Value)
        b.WriteByte(']')
    }
    if a.Value != nil {
        b.WriteString("[.=")
        writeQuoted(&b, *a.Value)
        b.WriteByte(']')
    }
    return b.String()
}

func (a PathArgument) String() string { return a.format("") }

// InstanceIdentifier is an absolute path into a data tree. The empty
// identifier addresses the data root.
type InstanceIdentifier []PathArgument

// Path builds an identifier from arguments.
func Path(args ...PathArgument) InstanceIdentifier { return append(InstanceIdentifier(nil), args...) }

// IsRoot reports whether p addresses the data root.
func (p InstanceIdentifier) IsRoot() bool { return len(p) == 0 }

// Last returns the final argument of a non-root path.
func (p InstanceIdentifier) Last() PathArgument { return p[len(p)-1] }

// Parent returns p without its final argument. The parent of the root is the root.
func (p InstanceIdentifier) Parent() InstanceIdentifier {
    if len(p) == 0 { return nil }
    return p[:len(p)-1:len(p)-1]
}

// Append returns a new identifier extended by args; p is not modified.
func (p InstanceIdentifier) Append(args ...PathArgument) InstanceIdentifier {
    out := make(InstanceIdentifier, 0, len(p)+len(args))
    out = append(out, p...)
    return append(out, args...)
}

// Equal compares two identifiers argument by argument.
func (p InstanceIdentifier) Equal(o InstanceIdentifier) bool {
    if len(p) != len(o) { return false }
    for i := range p {
        if !p[i].Equal(o[i]) { return false }
    }
    return true
}

// IsAncestorOf reports whether p is a strict prefix of o.
func (p InstanceIdentifier) IsAncestorOf(o InstanceIdentifier) bool {
    if len(p) >= len(o) { return false }
    return p.Equal(o[:len(p)])
}

// Contains reports whether o equals p or lies below it.
func (p InstanceIdentifier) Contains(o InstanceIdentifier) bool {
    return p.Equal(o) || p.IsAncestorOf(o)
}

// String renders the identifier in the slash form accepted by ParsePath. The
// namespace is spelled out wherever it changes.
func (p InstanceIdentifier) String() string {
    if len(p) == 0 { return "/" }
    var b strings.Builder
    ns := ""
    for _, a := range p {
        b.WriteByte('/')
        b.WriteString(a.format(ns))
        ns = a.Name.Namespace
    }
    return b.String()
}

// ParsePath parses "/a/b[k='v']/c[.='x']". Segments may be qualified as
// "(ns)local"; unqualified segments inherit the namespace of the previous
// segment, the first one inherits defaultNS.
func ParsePath(defaultNS, s string) (InstanceIdentifier, error) {
    s = strings.TrimSpace(s)
    if s == "" || s == "/" { return InstanceIdentifier{}, nil }
    if s[0] != '/' { return nil, fmt.Errorf("%w: %q: must start with '/'", ErrInvalidPath, s) }
    p := &pathParser{src: s, pos: 1}
    ns := defaultNS
    var out InstanceIdentifier
    for {
        arg, err := p.segment(ns)
        if err != nil { return nil, fmt.Errorf("%w: %q: %v", ErrInvalidPath, s, err) }
        out = append(out, arg)
        ns = arg.Name.Namespace
        if p.done() { return out, nil }
        if p.next() != '/' { return nil, fmt.Errorf("%w: %q: expected '/' at %d", ErrInvalidPath, s, p.pos-1) }
    }
}

// MustParsePath is ParsePath for literals known to be valid.
func MustParsePath(defaultNS, s string) InstanceIdentifier {
    p, err := ParsePath(defaultNS, s)
    if err != nil {
        panic(err)
    }
    return p
}

type pathParser struct {
    src string
    pos int
}

func (p *pathParser) done() bool { return p.pos >= len(p.src) }

func (p *pathParser) peek() byte {
    if p.done() { return 0 }
    return p.src[p.pos]
}

func (p *pathParser) next() byte {
    c := p.peek()
    p.pos++
    return c
}

func (p *pathParser) name(ns string) (QName, error) {
    if p.peek() == '(' {
        end := strings.IndexByte(p.src[p.pos:], ')')
        if end < 0 { return QName{}, errors.New("unterminated namespace") }
        ns = p.src[p.pos+1 : p.pos+end]
        p.pos += end + 1
    }
    start := p.pos
    for !p.done() && !strings.ContainsRune("/[]='\"", rune(p.peek())) {
        p.pos++
    }
    local := p.src[start:p.pos]
    if local == "" { return QName{}, fmt.Errorf("empty name at %d", start) }
    if ns == "" { return QName{}, fmt.Errorf("no namespace for %q", local) }
    return QName{Namespace: ns, Local: local}, nil
}

func (p *pathParser) quoted() (string, error) {
    q := p.next()
    if q != '\'' && q != '"' { return "", fmt.Errorf("expected quote at %d", p.pos-1) }
    end := strings.IndexByte(p.src[p.pos:], q)
    if end < 0 { return "", errors.New("unterminated value") }
    v := p.src[p.pos : p.pos+end]
    p.pos += end + 1
    return v, nil
}

func (p *pathParser) segment(ns string) (PathArgument, error) {
    name, err := p.name(ns)
    if err != nil { return PathArgument{}, err }
    arg := PathArgument{Name: name}
    for p.peek() == '[' {
        p.pos++
        if p.peek() == '.' {
            p.pos++
            if p.next() != '=' { return arg, errors.New("expected '=' after '.'") }
            v, err := p.quoted()
            if err != nil { return arg, err }
            arg.Value = &v
        } else {
            kn, err := p.name(name.Namespace)
            if err != nil { return arg, err }
            if p.next() != '=' { return arg, fmt.Errorf("expected '=' after key %q", kn.Local) }
            v, err := p.quoted()
            if err != nil { return arg, err }
            arg.Keys = append(arg.Keys, Key{Name: kn, Value: v})
        }
        if p.next() != ']' { return arg, fmt.Errorf("expected ']' at %d", p.pos-1) }
    }
    if arg.Value != nil && len(arg.Keys) > 0 {
        return arg, errors.New("segment mixes key and value predicates")
    }
    return arg, nil
}

func writeName(b *strings.Builder, q QName, parentNS string) {
    if q.Namespace != parentNS {
        b.WriteByte('(')
        b.WriteString(q.Namespace)
        b.WriteByte(')')
    }
    b.WriteString(q.Local)
}

func writeQuoted(b *strings.Builder, v string) {
    q := byte('\'')
    if strings.IndexByte(v, '\'') >= 0 {
        q = '"'
    }
    b.WriteByte(q)
    b.WriteString(v)
    b.WriteByte(q)
}
