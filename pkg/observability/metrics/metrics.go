package metrics

import (
    "sync"

    "github.com/prometheus/client_golang/prometheus"
)

var (
    once sync.Once

    CyclesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: "go_clustersync",
        Name:      "cycles_total",
        Help:      "Total reconciliation cycles by result (ok, snapshot_error, failed, skipped)",
    }, []string{"result"})

    PhaseDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
        Namespace: "go_clustersync",
        Name:      "phase_duration_seconds",
        Help:      "Duration of each reconciliation phase",
        Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
    }, []string{"phase"})

    Mutations = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: "go_clustersync",
        Name:      "mutations_total",
        Help:      "Registry mutations applied by the reconciler, by kind",
    }, []string{"kind"})

    ConsistencyWarnings = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: "go_clustersync",
        Name:      "consistency_warnings_total",
        Help:      "Index asymmetries found by the auditor, by kind",
    }, []string{"kind"})

    Groups = prometheus.NewGauge(prometheus.GaugeOpts{
        Namespace: "go_clustersync",
        Name:      "groups",
        Help:      "Compute groups held by the local registry after the last cycle",
    })

    Nodes = prometheus.NewGauge(prometheus.GaugeOpts{
        Namespace: "go_clustersync",
        Name:      "nodes",
        Help:      "Worker nodes held by the local registry after the last cycle",
    })

    Observers = prometheus.NewGauge(prometheus.GaugeOpts{
        Namespace: "go_clustersync",
        Name:      "observers",
        Help:      "Control-plane observers known locally, self included",
    })

    BackendAlive = prometheus.NewGaugeVec(prometheus.GaugeOpts{
        Namespace: "go_clustersync",
        Name:      "backend_alive",
        Help:      "1 if the worker node is alive, else 0",
    }, []string{"cluster_id", "cluster_name", "address"})

    BackendAliveTotal = prometheus.NewGaugeVec(prometheus.GaugeOpts{
        Namespace: "go_clustersync",
        Name:      "backend_alive_total",
        Help:      "Number of alive worker nodes per group",
    }, []string{"cluster_id", "cluster_name"})

    IsLeader = prometheus.NewGauge(prometheus.GaugeOpts{
        Namespace: "go_clustersync",
        Name:      "is_leader",
        Help:      "1 if this process runs reconciliation cycles, else 0",
    })

    LeaderChanges = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "go_clustersync",
        Name:      "leader_changes_total",
        Help:      "Total number of observed leader change events",
    })

    EditLogWrites = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: "go_clustersync",
        Subsystem: "editlog",
        Name:      "writes_total",
        Help:      "Node modification records written, by backend and result",
    }, []string{"backend", "result"})

    LivenessMembers = prometheus.NewGauge(prometheus.GaugeOpts{
        Namespace: "go_clustersync",
        Subsystem: "liveness",
        Name:      "members",
        Help:      "Members currently seen by the liveness gossip",
    })

    MetaRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: "go_clustersync",
        Subsystem: "meta",
        Name:      "requests_total",
        Help:      "Snapshot requests sent to meta-service endpoints, by result",
    }, []string{"result"})

    GRPCConnDials = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "go_clustersync",
        Subsystem: "grpc_conn",
        Name:      "dials_total",
        Help:      "Total number of new gRPC connections dialed",
    })
    GRPCConnReuse = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "go_clustersync",
        Subsystem: "grpc_conn",
        Name:      "reuse_total",
        Help:      "Total number of gRPC connection reuses from cache",
    })
    GRPCConnEvictions = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "go_clustersync",
        Subsystem: "grpc_conn",
        Name:      "evictions_total",
        Help:      "Total number of cached gRPC connections evicted",
    })
    GRPCConnActive = prometheus.NewGauge(prometheus.GaugeOpts{
        Namespace: "go_clustersync",
        Subsystem: "grpc_conn",
        Name:      "active",
        Help:      "Number of active cached gRPC connections",
    })
)

// Register registers metrics into the default Prometheus registry (idempotent).
func Register() {
    once.Do(func() {
        prometheus.MustRegister(CyclesTotal)
        prometheus.MustRegister(PhaseDuration)
        prometheus.MustRegister(Mutations)
        prometheus.MustRegister(ConsistencyWarnings)
        prometheus.MustRegister(Groups)
        prometheus.MustRegister(Nodes)
        prometheus.MustRegister(Observers)
        prometheus.MustRegister(BackendAlive)
        prometheus.MustRegister(BackendAliveTotal)
        prometheus.MustRegister(IsLeader)
        prometheus.MustRegister(LeaderChanges)
        prometheus.MustRegister(EditLogWrites)
        prometheus.MustRegister(LivenessMembers)
        prometheus.MustRegister(MetaRequests)
        // grpc
        prometheus.MustRegister(GRPCConnDials)
        prometheus.MustRegister(GRPCConnReuse)
        prometheus.MustRegister(GRPCConnEvictions)
        prometheus.MustRegister(GRPCConnActive)
    })
}
