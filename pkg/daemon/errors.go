package daemon

import "errors"

var (
    ErrNotRunning     = errors.New("daemon: not running")
    ErrAlreadyRunning = errors.New("daemon: already running")
    ErrNotLeader      = errors.New("daemon: not leader")
)
