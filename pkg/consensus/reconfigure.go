package consensus

import "time"

// Reconfigurer is implemented by engines whose voter set can change at
// runtime. Calls are accepted on the leader only.
type Reconfigurer interface {
    AddVoter(id, addr string, timeout time.Duration) error
    RemoveServer(id string, timeout time.Duration) error
}
