package consensus

// LeaderInfo is one leadership observation. ID is empty while no leader is
// known; Self reports whether the observing node is the leader.
type LeaderInfo struct {
    ID   string
    Addr string
    Term uint64
    Self bool
}

// LeaderNotifier is implemented by engines that publish leadership changes,
// losses included.
type LeaderNotifier interface {
    // LeaderCh is buffered; observations are dropped rather than blocking the
    // engine, so consumers should re-read IsLeader when one arrives.
    LeaderCh() <-chan LeaderInfo
}
