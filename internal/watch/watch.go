// Package watch provides update.IsWatcher predicates that decide which
// non-conflicting announces still get installed into the RIB.
package watch

import (
	"net/netip"

	"github.com/anssi-fr/hijackd/internal/bgpmsg"
)

// Always unconditionally watches every message — the default when no
// watch scope was configured.
func Always(bgpmsg.InternalMessage) bool { return true }

// ASNs watches announces whose origin intersects the given ASN set.
func ASNs(asns ...uint32) func(bgpmsg.InternalMessage) bool {
	set := make(map[uint32]struct{}, len(asns))
	for _, a := range asns {
		set[a] = struct{}{}
	}
	return func(msg bgpmsg.InternalMessage) bool {
		if msg.Origin == nil {
			return false
		}
		for _, asn := range msg.Origin.ASNs() {
			if _, ok := set[asn]; ok {
				return true
			}
		}
		return false
	}
}

// Prefixes watches announces whose prefix falls within one of the
// given covering prefixes.
func Prefixes(covering ...netip.Prefix) func(bgpmsg.InternalMessage) bool {
	cs := append([]netip.Prefix(nil), covering...)
	return func(msg bgpmsg.InternalMessage) bool {
		for _, c := range cs {
			if c.Overlaps(msg.Prefix) && c.Bits() <= msg.Prefix.Bits() {
				return true
			}
		}
		return false
	}
}
