package reconcile

import (
    "errors"
    "fmt"
)

var (
    // ErrSnapshot means the remote snapshot could not be trusted; the cycle
    // made no mutation.
    ErrSnapshot        = errors.New("reconcile: snapshot unavailable")
    ErrCycleInProgress = errors.New("reconcile: cycle already in progress")
)

// CycleError reports a failure caught at the cycle boundary. Mutations made
// by earlier phases of the same cycle stay applied; the next cycle repairs
// whatever the failed phase left behind.
type CycleError struct {
    CycleID string
    Phase   Phase
    Err     error
}

func (e *CycleError) Error() string {
    return fmt.Sprintf("reconcile: cycle %s failed in %s: %v", e.CycleID, e.Phase, e.Err)
}

func (e *CycleError) Unwrap() error { return e.Err }
