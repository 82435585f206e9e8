// Package endpoint derives the identity keys used to recognise a node across
// reconciliation passes.
//
// Three key shapes exist:
//
//   - plain    host:port            group-level checks (rename, status, decommission)
//   - extended host:port+pub+priv   per-node membership diff; reacts to endpoint changes
//   - observer host_editLogPort     control-plane observers
package endpoint

import (
    "strconv"

    "github.com/amirimatin/go-clustersync/pkg/topology"
)

// Mode selects which address field of a descriptor identifies a node.
type Mode int

const (
    // ModeIP uses the numeric address.
    ModeIP Mode = iota
    // ModeFQDN uses the host name.
    ModeFQDN
)

func (m Mode) String() string {
    if m == ModeFQDN { return "fqdn" }
    return "ip"
}

// Resolve returns the address of n under mode. ok is false when the field
// selected by mode is empty; such a node must be excluded from every diff.
func Resolve(n topology.NodeDescriptor, mode Mode) (addr string, ok bool) {
    if mode == ModeFQDN {
        addr = n.Host
    } else {
        addr = n.IP
    }
    return addr, addr != ""
}

// Plain returns host:port.
func Plain(host string, port int) string {
    return host + ":" + strconv.Itoa(port)
}

// Extended returns host:port followed by the group's public and private
// endpoints.
func Extended(host string, port int, public, private string) string {
    return Plain(host, port) + public + private
}

// Observer returns host_editLogPort.
func Observer(host string, editLogPort int) string {
    return host + "_" + strconv.Itoa(editLogPort)
}

// ForDescriptor returns the plain key of a remote worker node.
func ForDescriptor(n topology.NodeDescriptor, mode Mode) (string, bool) {
    addr, ok := Resolve(n, mode)
    if !ok { return "", false }
    return Plain(addr, n.HeartbeatPort), true
}

// ForDescriptorExtended returns the extended key of a remote worker node of g.
func ForDescriptorExtended(n topology.NodeDescriptor, g topology.GroupDescriptor, mode Mode) (string, bool) {
    addr, ok := Resolve(n, mode)
    if !ok { return "", false }
    return Extended(addr, n.HeartbeatPort, g.PublicEndpoint, g.PrivateEndpoint), true
}

// ForObserverDescriptor returns the observer key of a remote control-plane node.
func ForObserverDescriptor(n topology.NodeDescriptor, mode Mode) (string, bool) {
    addr, ok := Resolve(n, mode)
    if !ok { return "", false }
    return Observer(addr, n.EditLogPort), true
}
