package yang

import (
    "errors"
    "fmt"
    "strings"
)

// ErrInvalidQName is returned when a textual QName cannot be parsed.
var ErrInvalidQName = errors.New("yang: invalid qname")

// QName is a namespace-qualified schema name. Revision is optional and, when
// present, pins the module revision the name belongs to.
type QName struct {
    Namespace string
    Revision  string
    Local     string
}

// NewQName returns a QName without revision.
func NewQName(ns, local string) QName { return QName{Namespace: ns, Local: local} }

// IsZero reports whether q carries no name at all.
func (q QName) IsZero() bool { return q.Namespace == "" && q.Local == "" }

// Is reports whether q and o name the same node, ignoring revisions.
func (q QName) Is(o QName) bool { return q.Namespace == o.Namespace && q.Local == o.Local }

// WithLocal returns a sibling name in the same namespace and revision.
func (q QName) WithLocal(local string) QName {
    q.Local = local
    return q
}

// String renders q as "(namespace?revision=R)local" or "(namespace)local".
func (q QName) String() string {
    var b strings.Builder
    b.WriteByte('(')
    b.WriteString(q.Namespace)
    if q.Revision != "" {
        b.WriteString("?revision=")
        b.WriteString(q.Revision)
    }
    b.WriteByte(')')
    b.WriteString(q.Local)
    return b.String()
}

// ParseQName is the inverse of QName.String.
func ParseQName(s string) (QName, error) {
    if !strings.HasPrefix(s, "(") {
        return QName{}, fmt.Errorf("%w: %q: missing namespace", ErrInvalidQName, s)
    }
    end := strings.IndexByte(s, ')')
    if end < 0 {
        return QName{}, fmt.Errorf("%w: %q: unterminated namespace", ErrInvalidQName, s)
    }
    q := QName{Namespace: s[1:end], Local: s[end+1:]}
    if i := strings.Index(q.Namespace, "?revision="); i >= 0 {
        q.Revision = q.Namespace[i+len("?revision="):]
        q.Namespace = q.Namespace[:i]
        if q.Revision == "" {
            return QName{}, fmt.Errorf("%w: %q: empty revision", ErrInvalidQName, s)
        }
    }
    if q.Namespace == "" {
        return QName{}, fmt.Errorf("%w: %q: empty namespace", ErrInvalidQName, s)
    }
    if q.Local == "" || strings.ContainsAny(q.Local, "()/[]") {
        return QName{}, fmt.Errorf("%w: %q: bad local name", ErrInvalidQName, s)
    }
    return q, nil
}

// Empty is the value carried by leaves of the YANG "empty" type.
type Empty struct{}
