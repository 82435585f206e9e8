package registry

import "errors"

var (
    // ErrConfiguration is returned by observer mutations that would leave the
    // pool in a conflicting state (duplicate names, removing self).
    ErrConfiguration = errors.New("registry: configuration error")
    ErrUnknownGroup  = errors.New("registry: unknown group")
    ErrEmptyGroupID  = errors.New("registry: empty group id")
)
