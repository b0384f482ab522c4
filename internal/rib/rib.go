// Package rib wraps internal/prefixtree into the streaming Routing
// Information Base the Update Engine mutates: one RouteRecord per
// (prefix, peer), radix nodes deleted as soon as their last peer record
// is removed.
package rib

import (
	"net/netip"

	"github.com/anssi-fr/hijackd/internal/bgpmsg"
	"github.com/anssi-fr/hijackd/internal/prefixtree"
)

// RouteRecord is the payload stored under one (prefix, peer) pair.
type RouteRecord struct {
	Origin bgpmsg.Origin
	// AccessTime is the access-time threaded through ProcessMessage,
	// used by the BVIEW_END stale sweep to decide which entries a new
	// bview implicitly withdrew.
	AccessTime int64
	// Opaque is optional decoder context, not interpreted by the core.
	Opaque any
}

// PeerRoutes is an insertion-ordered peer->record map, kept for stable,
// deterministic output iteration, which a plain Go map does not
// guarantee.
type PeerRoutes struct {
	order []bgpmsg.PeerID
	data  map[bgpmsg.PeerID]*RouteRecord
}

func newPeerRoutes() *PeerRoutes {
	return &PeerRoutes{data: make(map[bgpmsg.PeerID]*RouteRecord)}
}

// Len returns the number of peers currently observing this prefix.
func (pr *PeerRoutes) Len() int { return len(pr.data) }

// Get returns the record for peer, or nil.
func (pr *PeerRoutes) Get(peer bgpmsg.PeerID) *RouteRecord {
	return pr.data[peer]
}

// Set inserts or replaces the record for peer.
func (pr *PeerRoutes) Set(peer bgpmsg.PeerID, rec *RouteRecord) {
	if _, exists := pr.data[peer]; !exists {
		pr.order = append(pr.order, peer)
	}
	pr.data[peer] = rec
}

// Delete removes the record for peer, returning it (or nil if absent).
func (pr *PeerRoutes) Delete(peer bgpmsg.PeerID) *RouteRecord {
	rec, ok := pr.data[peer]
	if !ok {
		return nil
	}
	delete(pr.data, peer)
	for i, p := range pr.order {
		if p == peer {
			pr.order = append(pr.order[:i], pr.order[i+1:]...)
			break
		}
	}
	return rec
}

// Each iterates peers in insertion order.
func (pr *PeerRoutes) Each(fn func(peer bgpmsg.PeerID, rec *RouteRecord)) {
	for _, p := range pr.order {
		fn(p, pr.data[p])
	}
}

// RIB is the streaming Routing Information Base: a prefix tree whose
// payload at each node is a PeerRoutes map. Not safe for concurrent
// use, matching internal/prefixtree's own contract.
type RIB struct {
	tree *prefixtree.Tree[*PeerRoutes]
}

// New returns an empty RIB.
func New() *RIB {
	return &RIB{tree: prefixtree.New[*PeerRoutes]()}
}

// Update inserts or replaces the record for (prefix, peer) and returns
// the node. Never creates a duplicate record for the same (prefix,peer).
func (r *RIB) Update(prefix netip.Prefix, peer bgpmsg.PeerID, rec *RouteRecord) *prefixtree.Node[*PeerRoutes] {
	node := r.tree.Add(prefix)
	if node.Data == nil {
		node.Data = newPeerRoutes()
	}
	node.Data.Set(peer, rec)
	return node
}

// Lookup returns the record stored for (prefix, peer) at an exact match,
// or nil.
func (r *RIB) Lookup(prefix netip.Prefix, peer bgpmsg.PeerID) *RouteRecord {
	node := r.tree.SearchExact(prefix)
	if node == nil || node.Data == nil {
		return nil
	}
	return node.Data.Get(peer)
}

// Pop removes the record for (prefix, peer); if the node's peer map
// becomes empty, the node itself is deleted (the RIB invariant: a node
// exists iff it has >=1 peer). Returns the removed record, or nil.
func (r *RIB) Pop(prefix netip.Prefix, peer bgpmsg.PeerID) *RouteRecord {
	node := r.tree.SearchExact(prefix)
	if node == nil || node.Data == nil {
		return nil
	}
	rec := node.Data.Delete(peer)
	if node.Data.Len() == 0 {
		r.tree.Delete(prefix)
	}
	return rec
}

// SearchAllContaining delegates to the prefix tree's SearchCovering,
// most-specific first — see internal/prefixtree's contract.
func (r *RIB) SearchAllContaining(prefix netip.Prefix) []*prefixtree.Node[*PeerRoutes] {
	return r.tree.SearchCovering(prefix)
}

// Nodes returns every node currently in the RIB.
func (r *RIB) Nodes() []*prefixtree.Node[*PeerRoutes] {
	return r.tree.Nodes()
}
