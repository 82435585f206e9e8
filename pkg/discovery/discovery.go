// Package discovery supplies address lists: meta-service endpoints for the
// snapshot client and gossip seeds for the liveness layer.
package discovery

// Discovery returns the current list of host:port addresses. Implementations
// must be safe for concurrent use and return a fresh slice on every call.
type Discovery interface {
    Endpoints() []string
}
