// Package diff implements keyed set reconciliation: given the current and the
// desired state of a keyed collection it reports what has to be added and what
// has to be removed.
package diff

import (
    "cmp"
    "slices"
)

// Keyed returns toAdd = desired - current and toDel = current - desired, by
// key. Both results are ordered by key. Empty inputs produce empty results.
// The two sides may hold different value types (registered nodes against
// remote descriptors); only the keys are compared.
func Keyed[K cmp.Ordered, C, D any](current map[K]C, desired map[K]D) (toAdd []D, toDel []C) {
    for _, k := range Keys(current) {
        if _, ok := desired[k]; !ok {
            toDel = append(toDel, current[k])
        }
    }
    for _, k := range Keys(desired) {
        if _, ok := current[k]; !ok {
            toAdd = append(toAdd, desired[k])
        }
    }
    return toAdd, toDel
}

// Index builds a keyed map from items using key. Items for which key reports
// false are left out. When two items share a key the later one wins; callers
// that care must deduplicate beforehand.
func Index[K cmp.Ordered, T any](items []T, key func(T) (K, bool)) map[K]T {
    out := make(map[K]T, len(items))
    for _, it := range items {
        k, ok := key(it)
        if !ok { continue }
        out[k] = it
    }
    return out
}

// Keys returns the sorted keys of m.
func Keys[K cmp.Ordered, T any](m map[K]T) []K {
    out := make([]K, 0, len(m))
    for k := range m {
        out = append(out, k)
    }
    slices.Sort(out)
    return out
}
