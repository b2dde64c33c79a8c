// Package listener implements leader-aware registration of data change
// listeners for a shard, and the client side endpoint that receives the
// resulting notifications.
package listener

import (
    "github.com/amirimatin/go-shardstore/pkg/actor"
    "github.com/amirimatin/go-shardstore/pkg/datastore"
    "github.com/amirimatin/go-shardstore/pkg/yang"
)

// RegisterChangeListener asks a shard to watch Path and notify the endpoint
// at ListenerPath.
type RegisterChangeListener struct {
    Path         yang.InstanceIdentifier
    ListenerPath actor.Address
    Scope        datastore.Scope
}

// RegisterChangeListenerReply carries the address of the registration
// actor, which accepts CloseListenerRegistration.
type RegisterChangeListenerReply struct {
    RegistrationPath actor.Address `json:"registrationPath"`
}

// EnableNotification tells an endpoint whether the shard it registered with
// currently leads, i.e. whether its notifications are authoritative.
type EnableNotification struct {
    Enabled bool `json:"enabled"`
}

// DataChanged carries one change event to an endpoint.
type DataChanged struct {
    Event datastore.ChangeEvent
}

type CloseListenerRegistration struct{}

type CloseListenerRegistrationReply struct{}
