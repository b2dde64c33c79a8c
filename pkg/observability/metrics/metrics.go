package metrics

import (
    "sync"

    "github.com/prometheus/client_golang/prometheus"
)

const namespace = "shardstore"

var (
    once sync.Once

    ClusterMembers = prometheus.NewGauge(prometheus.GaugeOpts{
        Namespace: namespace,
        Name:      "members_total",
        Help:      "Current number of known cluster members",
    })

    JoinRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: namespace,
        Name:      "join_requests_total",
        Help:      "Total join requests handled by this node",
    }, []string{"result"})

    // Shard leadership
    ShardIsLeader = prometheus.NewGaugeVec(prometheus.GaugeOpts{
        Namespace: namespace,
        Subsystem: "shard",
        Name:      "is_leader",
        Help:      "1 if this replica leads the shard, else 0",
    }, []string{"shard"})
    LeadershipChanges = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: namespace,
        Subsystem: "shard",
        Name:      "leadership_changes_total",
        Help:      "Total number of observed leadership flips per shard",
    }, []string{"shard"})
    Commits = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: namespace,
        Subsystem: "shard",
        Name:      "commits_total",
        Help:      "Commit attempts by phase reached and result",
    }, []string{"shard", "phase", "result"})

    // Change listener registration
    Registrations = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: namespace,
        Subsystem: "listener",
        Name:      "registrations_total",
        Help:      "Change listener registrations by mode (immediate, delayed, failed)",
    }, []string{"shard", "mode"})
    DelayedRegistrations = prometheus.NewGaugeVec(prometheus.GaugeOpts{
        Namespace: namespace,
        Subsystem: "listener",
        Name:      "delayed",
        Help:      "Registrations waiting for this replica to become leader",
    }, []string{"shard"})
    ListenerEndpoints = prometheus.NewGaugeVec(prometheus.GaugeOpts{
        Namespace: namespace,
        Subsystem: "listener",
        Name:      "endpoints",
        Help:      "Listener endpoints tracked for enable notifications",
    }, []string{"shard"})
    EnableNotifications = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: namespace,
        Subsystem: "listener",
        Name:      "enable_notifications_total",
        Help:      "EnableNotification messages sent to listener endpoints",
    }, []string{"shard", "enabled"})
    ResolutionFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: namespace,
        Subsystem: "listener",
        Name:      "resolution_failures_total",
        Help:      "Delayed registrations dropped because delegate creation failed",
    }, []string{"shard"})

    // Data path
    CodecOperations = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: namespace,
        Subsystem: "codec",
        Name:      "operations_total",
        Help:      "Wire record encode/decode operations by result",
    }, []string{"op", "result"})
    ChangeEvents = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: namespace,
        Subsystem: "store",
        Name:      "change_events_total",
        Help:      "Change events delivered to registered listeners",
    })

    // Actor substrate
    MailboxDrops = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: namespace,
        Subsystem: "actor",
        Name:      "mailbox_drops_total",
        Help:      "Messages dropped because the target mailbox was full",
    })
    DeadLetters = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: namespace,
        Subsystem: "actor",
        Name:      "dead_letters_total",
        Help:      "Messages sent to addresses with no mailbox and no route",
    })
    RelayMessages = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: namespace,
        Subsystem: "relay",
        Name:      "messages_total",
        Help:      "Actor messages relayed between nodes by direction and result",
    }, []string{"direction", "result"})

    GRPCConnDials = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: namespace,
        Subsystem: "grpc_conn",
        Name:      "dials_total",
        Help:      "Total number of new gRPC connections dialed",
    })
    GRPCConnReuse = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: namespace,
        Subsystem: "grpc_conn",
        Name:      "reuse_total",
        Help:      "Total number of gRPC connection reuses from cache",
    })
    GRPCConnEvictions = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: namespace,
        Subsystem: "grpc_conn",
        Name:      "evictions_total",
        Help:      "Total number of cached gRPC connections evicted",
    })
    GRPCConnActive = prometheus.NewGauge(prometheus.GaugeOpts{
        Namespace: namespace,
        Subsystem: "grpc_conn",
        Name:      "active",
        Help:      "Number of active cached gRPC connections",
    })
)

// Register registers metrics into the default Prometheus registry (idempotent).
func Register() {
    once.Do(func() {
        prometheus.MustRegister(ClusterMembers)
        prometheus.MustRegister(JoinRequests)
        prometheus.MustRegister(ShardIsLeader)
        prometheus.MustRegister(LeadershipChanges)
        prometheus.MustRegister(Commits)
        prometheus.MustRegister(Registrations)
        prometheus.MustRegister(DelayedRegistrations)
        prometheus.MustRegister(ListenerEndpoints)
        prometheus.MustRegister(EnableNotifications)
        prometheus.MustRegister(ResolutionFailures)
        prometheus.MustRegister(CodecOperations)
        prometheus.MustRegister(ChangeEvents)
        prometheus.MustRegister(MailboxDrops)
        prometheus.MustRegister(DeadLetters)
        prometheus.MustRegister(RelayMessages)
        prometheus.MustRegister(GRPCConnDials)
        prometheus.MustRegister(GRPCConnReuse)
        prometheus.MustRegister(GRPCConnEvictions)
        prometheus.MustRegister(GRPCConnActive)
    })
}
