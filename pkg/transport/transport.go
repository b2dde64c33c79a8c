package transport

// Transport abstracts the node-to-node layers that expose a local advertised
// address (the raft bind address, the relay listener). Higher-level
// management calls go through RPCServer/RPCClient.
type Transport interface {
    // Addr returns the local bind/advertise address if applicable.
    Addr() string
}
