package reconcile

// Phase is the state of the reconciliation cycle state machine.
type Phase int32

const (
    PhaseIdle Phase = iota
    PhaseFetching
    PhaseAddGroups
    PhaseDropGroups
    PhaseReconcileContent
    PhaseReconcileObservers
    PhaseAudit
    PhasePublish
)

var phaseNames = [...]string{
    PhaseIdle:               "IDLE",
    PhaseFetching:           "FETCHING",
    PhaseAddGroups:          "ADD_GROUPS",
    PhaseDropGroups:         "DROP_GROUPS",
    PhaseReconcileContent:   "RECONCILE_CONTENT",
    PhaseReconcileObservers: "RECONCILE_OBSERVERS",
    PhaseAudit:              "AUDIT",
    PhasePublish:            "PUBLISH",
}

func (p Phase) String() string {
    if p < 0 || int(p) >= len(phaseNames) { return "UNKNOWN" }
    return phaseNames[p]
}

func (p Phase) MarshalText() ([]byte, error) { return []byte(p.String()), nil }
