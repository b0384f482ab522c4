// Package update implements the streaming Update Engine state machine:
// default-route filtering, conflict (hijack) detection against the RIB,
// RIB mutation, and route-record emission. The engine never raises: it
// always returns whatever records it can compute.
package update

import (
	"net/netip"

	"github.com/anssi-fr/hijackd/internal/bgpmsg"
	"github.com/anssi-fr/hijackd/internal/rib"
)

// DefaultRoutePolicy selects which definition of "default route" gates
// installation into the RIB: two variants coexist in deployments, and
// callers pick one explicitly rather than the engine guessing.
type DefaultRoutePolicy int

const (
	// MaskLengthPolicy treats any IPv4 prefix shorter than /8 as a
	// default route; IPv6 still only matches the literal ::/0. This is
	// the default policy here.
	MaskLengthPolicy DefaultRoutePolicy = iota
	// LiteralPolicy treats only literal 0.0.0.0/0 and ::/0 as default
	// routes — the sharded/parallel deployment's variant.
	LiteralPolicy
)

// IsWatcher gates which announces get installed into the RIB when they
// did not themselves produce a conflict.
type IsWatcher func(msg bgpmsg.InternalMessage) bool

// Side is one side of a Conflict or the body of a default/route record:
// an announce, a withdraw, or a conflict_with reference, depending on
// which fields the caller populates. All three reuse the same
// {type?, prefix, asn, as_path?} shape.
type Side struct {
	Kind      string // message Kind letter ("F"/"U"/"W"), empty for conflict_with
	Prefix    netip.Prefix
	ASN       uint32
	ASPath    string // only set for announce sides
	HasASPath bool
	Valid     []string // filled in later by the Annotation Engine
}

// DefaultRecord is emitted instead of processing a default-route message
// any further.
type DefaultRecord struct {
	Timestamp int64
	Collector string
	PeerAS    uint32
	PeerIP    netip.Addr
	Announce  Side
}

// RouteRecord mirrors one currently-observed origin ASN for a prefix,
// with the number of peers observing it after the mutation that
// produced this record.
type RouteRecord struct {
	Timestamp int64
	Collector string
	PeerAS    uint32
	PeerIP    netip.Addr
	Kind      string
	Prefix    netip.Prefix
	ASPath    string
	HasASPath bool
	ASN       uint32
	NumRoutes int
	// Attrs is the decoder's opaque per-route context, carried along
	// for output only; see bgpmsg.InternalMessage.Attrs.
	Attrs *bgpmsg.Attrs
}

// Conflict is a raw hijack candidate, before annotation/classification.
type Conflict struct {
	Timestamp    int64
	Collector    string
	PeerAS       uint32
	PeerIP       netip.Addr
	IsWithdraw   bool
	Announce     Side // the "announce" or "withdraw" body, per IsWithdraw
	ConflictWith Side
	ASN          uint32

	// Filled in by internal/annotate and internal/classify.
	Relation []string
	Direct   *bool
	Type     string
}

// IsDefaultPrefix reports whether p counts as a default route under
// policy, using the same rule ProcessMessage applies internally.
// Exported so callers that need to special-case default routes before
// a message reaches ProcessMessage (priming, logging) can do so without
// duplicating the mask-length heuristic.
func IsDefaultPrefix(p netip.Prefix, policy DefaultRoutePolicy) bool {
	return isDefaultPrefix(p, policy)
}

func isDefaultPrefix(p netip.Prefix, policy DefaultRoutePolicy) bool {
	if p.Addr().Is4() {
		if policy == LiteralPolicy {
			return p.Bits() == 0
		}
		return p.Bits() < 8
	}
	// IPv6 has no mask-length analog to the v4 "short prefix" heuristic;
	// only the literal default route counts, under either policy.
	return p.Bits() == 0
}

// ProcessMessage is the single entry point of the Update Engine. It
// classifies msg, updates rib in place, and returns whatever
// default/route/conflict records result.
func ProcessMessage(r *rib.RIB, msg bgpmsg.InternalMessage, accessTime int64, policy DefaultRoutePolicy, isWatched IsWatcher) (defaults []DefaultRecord, routes []RouteRecord, conflicts []Conflict) {
	isAnnounce := msg.Origin != nil && msg.ASPath != nil
	isWithdraw := msg.Origin == nil && msg.ASPath == nil
	if !isAnnounce && !isWithdraw {
		// Malformed: origin absent but as_path present. The decoder
		// should have rejected this; the engine just skips it.
		return nil, nil, nil
	}

	// Step 1: default-route filter. Only announces/bviews carry an
	// origin to emit per-ASN default records for; a withdraw of a
	// short/default prefix simply falls through (it was never
	// installed, so the pop below is a harmless soft miss).
	if isAnnounce && isDefaultPrefix(msg.Prefix, policy) {
		for _, asn := range msg.Origin.ASNs() {
			defaults = append(defaults, DefaultRecord{
				Timestamp: msg.Timestamp,
				Collector: msg.Collector,
				PeerAS:    msg.Peer.PeerAS,
				PeerIP:    msg.Peer.PeerIP,
				Announce: Side{
					Kind:      msg.Kind.String(),
					Prefix:    msg.Prefix,
					ASN:       asn,
					ASPath:    msg.ASPathRaw,
					HasASPath: true,
				},
			})
		}
		return defaults, nil, nil
	}

	// Step 2: conflict detection.
	origin := msg.Origin
	if origin == nil {
		rec := resolveWithdrawOrigin(r, msg)
		if rec == nil {
			// Cannot determine origin; abort conflict detection only.
			// RIB mutation (step 3) still proceeds below.
			conflicts = nil
		} else {
			origin = rec.Origin
		}
	}
	if origin != nil {
		conflicts = detectConflicts(r, msg, origin)
	}

	// Step 3: RIB mutation, step 4: route emission.
	if isWithdraw {
		routes = applyWithdraw(r, msg)
	} else {
		install := len(conflicts) > 0 || isWatched == nil || isWatched(msg)
		if install {
			routes = applyAnnounce(r, msg, accessTime)
		}
	}

	return defaults, routes, conflicts
}

func resolveWithdrawOrigin(r *rib.RIB, msg bgpmsg.InternalMessage) *rib.RouteRecord {
	covering := r.SearchAllContaining(msg.Prefix)
	if len(covering) == 0 {
		return nil
	}
	return covering[0].Data.Get(msg.Peer)
}

func detectConflicts(r *rib.RIB, msg bgpmsg.InternalMessage, origin bgpmsg.Origin) []Conflict {
	isWithdraw := msg.ASPath == nil
	var out []Conflict
	for _, node := range r.SearchAllContaining(msg.Prefix) {
		foreign := make(map[uint32]struct{})
		node.Data.Each(func(_ bgpmsg.PeerID, rec *rib.RouteRecord) {
			if rec.Origin.Intersects(origin) {
				return
			}
			for _, asn := range rec.Origin.ASNs() {
				foreign[asn] = struct{}{}
			}
		})
		for _, ourASN := range origin.ASNs() {
			side := Side{
				Kind:   msg.Kind.String(),
				Prefix: msg.Prefix,
				ASN:    ourASN,
			}
			if !isWithdraw {
				side.ASPath = msg.ASPathRaw
				side.HasASPath = true
			}
			for foreignASN := range foreign {
				out = append(out, Conflict{
					Timestamp:  msg.Timestamp,
					Collector:  msg.Collector,
					PeerAS:     msg.Peer.PeerAS,
					PeerIP:     msg.Peer.PeerIP,
					IsWithdraw: isWithdraw,
					Announce:   side,
					ConflictWith: Side{
						Prefix: node.Prefix,
						ASN:    foreignASN,
					},
					ASN: foreignASN,
				})
			}
		}
	}
	return out
}

func applyWithdraw(r *rib.RIB, msg bgpmsg.InternalMessage) []RouteRecord {
	rec := r.Pop(msg.Prefix, msg.Peer)
	if rec == nil {
		return nil
	}
	numRoutes := countPeers(r, msg.Prefix)
	var out []RouteRecord
	for _, asn := range rec.Origin.ASNs() {
		out = append(out, RouteRecord{
			Timestamp: msg.Timestamp,
			Collector: msg.Collector,
			PeerAS:    msg.Peer.PeerAS,
			PeerIP:    msg.Peer.PeerIP,
			Kind:      msg.Kind.String(),
			Prefix:    msg.Prefix,
			ASN:       asn,
			NumRoutes: numRoutes,
		})
	}
	return out
}

// Prime installs a full-table (bview) announce into rib unconditionally
// except for the watcher gate — no conflict detection runs during
// priming, so the only question is whether msg is watched. Returns
// whether the record was installed.
func Prime(r *rib.RIB, msg bgpmsg.InternalMessage, accessTime int64, isWatched IsWatcher) bool {
	if isWatched != nil && !isWatched(msg) {
		return false
	}
	applyAnnounce(r, msg, accessTime)
	return true
}

func applyAnnounce(r *rib.RIB, msg bgpmsg.InternalMessage, accessTime int64) []RouteRecord {
	node := r.Update(msg.Prefix, msg.Peer, &rib.RouteRecord{
		Origin:     msg.Origin,
		AccessTime: accessTime,
		Opaque:     msg.Attrs,
	})
	numRoutes := node.Data.Len()
	var out []RouteRecord
	for _, asn := range msg.Origin.ASNs() {
		out = append(out, RouteRecord{
			Timestamp: msg.Timestamp,
			Collector: msg.Collector,
			PeerAS:    msg.Peer.PeerAS,
			PeerIP:    msg.Peer.PeerIP,
			Kind:      msg.Kind.String(),
			Prefix:    msg.Prefix,
			ASPath:    msg.ASPathRaw,
			HasASPath: true,
			ASN:       asn,
			NumRoutes: numRoutes,
			Attrs:     msg.Attrs,
		})
	}
	return out
}

func countPeers(r *rib.RIB, prefix netip.Prefix) int {
	nodes := r.SearchAllContaining(prefix)
	if len(nodes) == 0 || nodes[0].Prefix != prefix {
		return 0
	}
	return nodes[0].Data.Len()
}

// SweepStaleSince implements the BVIEW_END "fake withdraw" sweep: every
// RIB entry whose access time is strictly less than threshold is
// removed. A pure function of the access-time field, not an ambient
// clock. Returns the number of (prefix, peer) entries removed.
func SweepStaleSince(r *rib.RIB, threshold int64) int {
	type key struct {
		prefix netip.Prefix
		peer   bgpmsg.PeerID
	}
	var stale []key
	for _, node := range r.Nodes() {
		node.Data.Each(func(peer bgpmsg.PeerID, rec *rib.RouteRecord) {
			if rec.AccessTime < threshold {
				stale = append(stale, key{node.Prefix, peer})
			}
		})
	}
	for _, k := range stale {
		r.Pop(k.prefix, k.peer)
	}
	return len(stale)
}
