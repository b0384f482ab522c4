// Package bgpmsg defines the normalised message shape the Update Engine
// consumes: a uniform origin set type in place of an int-or-set dual
// representation.
package bgpmsg

import "net/netip"

// Kind distinguishes the three message shapes the Update Engine accepts.
type Kind uint8

const (
	// KindFullTable is a bview/table-dump entry used to prime the RIB.
	KindFullTable Kind = iota
	// KindAnnounce is a live UPDATE announcing a prefix.
	KindAnnounce
	// KindWithdraw is a live UPDATE withdrawing a prefix.
	KindWithdraw
)

func (k Kind) String() string {
	switch k {
	case KindFullTable:
		return "F"
	case KindAnnounce:
		return "U"
	case KindWithdraw:
		return "W"
	default:
		return "?"
	}
}

// PeerID identifies a BGP peering session as seen by a collector.
type PeerID struct {
	PeerAS uint32
	PeerIP netip.Addr
}

// InternalMessage is the uniform shape produced by a Decoder and
// consumed by the Update Engine.
type InternalMessage struct {
	Kind      Kind
	Timestamp int64
	Collector string
	Peer      PeerID
	Prefix    netip.Prefix
	Origin    Origin   // nil for withdraws
	ASPath    []ASSeg  // nil for withdraws; canonical form
	ASPathRaw string   // original text, kept for output
	// Attrs is optional path-attribute context a Decoder parsed beyond
	// what the core engine needs (origin/as_path/prefix). Nil unless
	// the source Decoder populates it. The core never inspects it: it
	// only rides along as the RIB's opaque per-route blob and may be
	// surfaced by an output writer.
	Attrs *Attrs
}

// Attrs holds the subset of a BGP UPDATE's path attributes that carry
// useful context for downstream consumers but play no part in
// conflict detection or RIB bookkeeping.
type Attrs struct {
	Nexthop   string
	MED       *uint32
	LocalPref *uint32
	CommStd   []string
	CommExt   []string
	CommLarge []string
}

// IsWithdraw reports whether this message withdraws a route: a message
// is a withdraw iff both origin and as_path are absent.
func (m InternalMessage) IsWithdraw() bool {
	return m.Origin == nil && m.ASPath == nil
}
