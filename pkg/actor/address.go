package actor

import "strings"

// Address names a mailbox as "<node>/<path>".
type Address string

// NoSender marks messages sent from outside any actor.
const NoSender Address = ""

func NewAddress(node, path string) Address { return Address(node + "/" + path) }

// Node returns the node part, or "" when the address has none.
func (a Address) Node() string {
    if i := strings.IndexByte(string(a), '/'); i >= 0 { return string(a[:i]) }
    return ""
}

// Path returns the mailbox path within its node.
func (a Address) Path() string {
    if i := strings.IndexByte(string(a), '/'); i >= 0 { return string(a[i+1:]) }
    return string(a)
}

func (a Address) String() string { return string(a) }
