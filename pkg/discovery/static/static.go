// Package static is a fixed address list, typically from flags or a config
// file.
package static

import (
    "strings"

    "github.com/amirimatin/go-clustersync/pkg/discovery"
)

type list []string

func (l list) Endpoints() []string { return append([]string(nil), l...) }

// New returns a Discovery over addrs. Blank entries are dropped; the order
// is kept because clients try the first address first.
func New(addrs ...string) discovery.Discovery { return list(clean(addrs)) }

// Parse splits a comma-separated address list.
func Parse(csv string) []string {
    if strings.TrimSpace(csv) == "" { return nil }
    return clean(strings.Split(csv, ","))
}

func clean(in []string) []string {
    out := make([]string, 0, len(in))
    for _, a := range in {
        if a = strings.TrimSpace(a); a != "" { out = append(out, a) }
    }
    return out
}
