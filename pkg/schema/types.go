package schema

import (
    "fmt"
    "strconv"
    "strings"

    "github.com/amirimatin/go-shardstore/pkg/yang"
)

// Kind enumerates the built-in leaf value types.
type Kind int

const (
    KindString Kind = iota
    KindBoolean
    KindInt
    KindUint
    KindDecimal
    KindEnumeration
    KindEmpty
)

var kindNames = map[Kind]string{
    KindString:      "string",
    KindBoolean:     "boolean",
    KindInt:         "int",
    KindUint:        "uint",
    KindDecimal:     "decimal",
    KindEnumeration: "enumeration",
    KindEmpty:       "empty",
}

func (k Kind) String() string {
    if s, ok := kindNames[k]; ok { return s }
    return "kind(" + strconv.Itoa(int(k)) + ")"
}

// ParseKind accepts the canonical kind names plus the sized YANG integer
// names (int8..int64, uint8..uint64) and decimal64.
func ParseKind(s string) (Kind, error) {
    switch strings.ToLower(strings.TrimSpace(s)) {
    case "", "string":
        return KindString, nil
    case "boolean", "bool":
        return KindBoolean, nil
    case "int", "int8", "int16", "int32", "int64":
        return KindInt, nil
    case "uint", "uint8", "uint16", "uint32", "uint64":
        return KindUint, nil
    case "decimal", "decimal64":
        return KindDecimal, nil
    case "enumeration", "enum":
        return KindEnumeration, nil
    case "empty":
        return KindEmpty, nil
    }
    return 0, fmt.Errorf("%w: unknown type %q", ErrInvalidValue, s)
}

// LeafType describes how a leaf value is typed. Canonical Go values are
// string, bool, int64, uint64, float64 and yang.Empty; enumerations carry
// their string label.
type LeafType struct {
    Kind  Kind
    Enums []string
}

var (
    String  = LeafType{Kind: KindString}
    Boolean = LeafType{Kind: KindBoolean}
    Int     = LeafType{Kind: KindInt}
    Uint    = LeafType{Kind: KindUint}
    Decimal = LeafType{Kind: KindDecimal}
    Empty   = LeafType{Kind: KindEmpty}
)

// Enumeration returns an enumeration type over labels.
func Enumeration(labels ...string) LeafType {
    return LeafType{Kind: KindEnumeration, Enums: append([]string(nil), labels...)}
}

func (t LeafType) String() string { return t.Kind.String() }

func (t LeafType) hasEnum(s string) bool {
    for _, e := range t.Enums {
        if e == s { return true }
    }
    return false
}

// Parse converts lexical text into the canonical value. Strings are kept
// verbatim; every other kind ignores surrounding whitespace.
func (t LeafType) Parse(text string) (any, error) {
    if t.Kind == KindString { return text, nil }
    s := strings.TrimSpace(text)
    switch t.Kind {
    case KindBoolean:
        switch s {
        case "true":
            return true, nil
        case "false":
            return false, nil
        }
    case KindInt:
        if v, err := strconv.ParseInt(s, 10, 64); err == nil { return v, nil }
    case KindUint:
        if v, err := strconv.ParseUint(s, 10, 64); err == nil { return v, nil }
    case KindDecimal:
        if v, err := strconv.ParseFloat(s, 64); err == nil { return v, nil }
    case KindEnumeration:
        if t.hasEnum(s) { return s, nil }
    case KindEmpty:
        if s == "" { return yang.Empty{}, nil }
    }
    return nil, fmt.Errorf("%w: %q is not a valid %s", ErrInvalidValue, text, t)
}

// Format renders a canonical value as lexical text.
func (t LeafType) Format(v any) (string, error) {
    switch t.Kind {
    case KindString:
        if s, ok := v.(string); ok { return s, nil }
    case KindBoolean:
        if b, ok := v.(bool); ok { return strconv.FormatBool(b), nil }
    case KindInt:
        if i, ok := v.(int64); ok { return strconv.FormatInt(i, 10), nil }
    case KindUint:
        if u, ok := v.(uint64); ok { return strconv.FormatUint(u, 10), nil }
    case KindDecimal:
        if f, ok := v.(float64); ok { return strconv.FormatFloat(f, 'f', -1, 64), nil }
    case KindEnumeration:
        if s, ok := v.(string); ok && t.hasEnum(s) { return s, nil }
    case KindEmpty:
        if _, ok := v.(yang.Empty); ok { return "", nil }
    }
    return "", fmt.Errorf("%w: %T(%v) is not a valid %s", ErrInvalidValue, v, v, t)
}

// Normalize converts convenient Go values (int, int32, uint16, ...) into the
// canonical value for t, so that stored trees compare equal to decoded ones.
func (t LeafType) Normalize(v any) (any, error) {
    switch t.Kind {
    case KindInt:
        switch x := v.(type) {
        case int:
            return int64(x), nil
        case int8:
            return int64(x), nil
        case int16:
            return int64(x), nil
        case int32:
            return int64(x), nil
        }
    case KindUint:
        switch x := v.(type) {
        case uint:
            return uint64(x), nil
        case uint8:
            return uint64(x), nil
        case uint16:
            return uint64(x), nil
        case uint32:
            return uint64(x), nil
        }
    case KindDecimal:
        if x, ok := v.(float32); ok { return float64(x), nil }
    }
    if _, err := t.Format(v); err != nil { return nil, err }
    return v, nil
}
