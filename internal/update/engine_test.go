package update

import (
	"net/netip"
	"testing"

	"github.com/anssi-fr/hijackd/internal/bgpmsg"
	"github.com/anssi-fr/hijackd/internal/rib"
)

const testCollector = "c"
const testTimestamp = 2807

var testPeer = bgpmsg.PeerID{PeerAS: 64496, PeerIP: netip.MustParseAddr("127.0.0.1")}

func announce(prefix, asPath string, origin ...uint32) bgpmsg.InternalMessage {
	p, err := netip.ParsePrefix(prefix)
	if err != nil {
		panic(err)
	}
	path, err := bgpmsg.CanonicalASPath(asPath)
	if err != nil {
		panic(err)
	}
	return bgpmsg.InternalMessage{
		Kind:      bgpmsg.KindAnnounce,
		Timestamp: testTimestamp,
		Collector: testCollector,
		Peer:      testPeer,
		Prefix:    p,
		Origin:    bgpmsg.NewOrigin(origin...),
		ASPath:    path,
		ASPathRaw: asPath,
	}
}

func withdraw(prefix string) bgpmsg.InternalMessage {
	p, err := netip.ParsePrefix(prefix)
	if err != nil {
		panic(err)
	}
	return bgpmsg.InternalMessage{
		Kind:      bgpmsg.KindWithdraw,
		Timestamp: testTimestamp,
		Collector: testCollector,
		Peer:      testPeer,
		Prefix:    p,
	}
}

func TestProcessMessage_ExactPrefixHijack(t *testing.T) {
	r := rib.New()

	_, _, conflicts := ProcessMessage(r, announce("1.2.0.0/16", "64497", 64497), 1, MaskLengthPolicy, nil)
	if len(conflicts) != 0 {
		t.Fatalf("expected no conflicts priming an empty RIB, got %v", conflicts)
	}

	_, _, conflicts = ProcessMessage(r, announce("1.2.0.0/16", "666", 666), 2, MaskLengthPolicy, nil)
	if len(conflicts) != 1 {
		t.Fatalf("expected exactly 1 conflict, got %d: %v", len(conflicts), conflicts)
	}
	c := conflicts[0]
	if c.ASN != 64497 || c.ConflictWith.Prefix.String() != "1.2.0.0/16" || c.ConflictWith.ASN != 64497 {
		t.Fatalf("unexpected conflict shape: %+v", c)
	}
	if c.Announce.ASN != 666 {
		t.Fatalf("expected announce side ASN 666, got %d", c.Announce.ASN)
	}
}

func TestProcessMessage_MoreSpecificHijack(t *testing.T) {
	r := rib.New()
	ProcessMessage(r, announce("1.2.0.0/16", "64497", 64497), 1, MaskLengthPolicy, nil)

	_, _, conflicts := ProcessMessage(r, announce("1.2.3.0/24", "666", 666), 2, MaskLengthPolicy, nil)
	if len(conflicts) != 1 {
		t.Fatalf("expected exactly 1 conflict, got %d: %v", len(conflicts), conflicts)
	}
	if conflicts[0].ConflictWith.Prefix.String() != "1.2.0.0/16" || conflicts[0].ConflictWith.ASN != 64497 {
		t.Fatalf("unexpected conflict_with: %+v", conflicts[0].ConflictWith)
	}
}

func TestProcessMessage_MultiOriginCoverage(t *testing.T) {
	r := rib.New()
	ProcessMessage(r, announce("1.2.0.0/16", "64497", 64497), 1, MaskLengthPolicy, nil)
	ProcessMessage(r, announce("1.0.0.0/8", "64497", 64497), 1, MaskLengthPolicy, nil)

	_, _, conflicts := ProcessMessage(r, announce("1.2.0.0/16", "666", 666), 2, MaskLengthPolicy, nil)
	if len(conflicts) != 2 {
		t.Fatalf("expected 2 conflicts (one per covering node), got %d: %v", len(conflicts), conflicts)
	}
	if conflicts[0].ConflictWith.Prefix.String() != "1.2.0.0/16" {
		t.Fatalf("expected most-specific covering node first, got %+v", conflicts[0])
	}
	if conflicts[1].ConflictWith.Prefix.String() != "1.0.0.0/8" {
		t.Fatalf("expected least-specific covering node last, got %+v", conflicts[1])
	}
}

func TestProcessMessage_PerPeerWithdrawIsolated(t *testing.T) {
	r := rib.New()
	peerB := bgpmsg.PeerID{PeerAS: 64498, PeerIP: netip.MustParseAddr("127.0.0.2")}

	msgA := announce("1.2.0.0/16", "64497 64500", 64500)
	msgB := msgA
	msgB.Peer = peerB
	path, _ := bgpmsg.CanonicalASPath("64498 64500")
	msgB.ASPath = path
	msgB.ASPathRaw = "64498 64500"
	msgB.Origin = bgpmsg.NewOrigin(64500)

	ProcessMessage(r, msgA, 1, MaskLengthPolicy, nil)
	_, _, conflicts := ProcessMessage(r, msgB, 1, MaskLengthPolicy, nil)
	if len(conflicts) != 0 {
		t.Fatalf("expected no conflict: both peers agree on origin 64500, got %v", conflicts)
	}

	w := withdraw("1.2.0.0/16")
	w.Peer = testPeer
	_, routes, conflicts := ProcessMessage(r, w, 2, MaskLengthPolicy, nil)
	if len(conflicts) != 0 {
		t.Fatalf("expected no hijack from a same-origin withdraw, got %v", conflicts)
	}
	if len(routes) != 1 {
		t.Fatalf("expected 1 route record from the withdraw, got %d", len(routes))
	}
	if r.Lookup(mustPfx("1.2.0.0/16"), testPeer) != nil {
		t.Fatalf("expected peer A's record gone")
	}
	if r.Lookup(mustPfx("1.2.0.0/16"), peerB) == nil {
		t.Fatalf("expected peer B's record to remain")
	}
}

func TestProcessMessage_WithdrawOfAHijack(t *testing.T) {
	r := rib.New()
	ProcessMessage(r, announce("1.2.3.0/24", "64497", 64497), 1, MaskLengthPolicy, nil)

	_, _, conflicts := ProcessMessage(r, announce("1.2.3.4/32", "666", 666), 2, MaskLengthPolicy, nil)
	if len(conflicts) != 1 {
		t.Fatalf("expected the attacker's announce to conflict, got %d", len(conflicts))
	}

	w := withdraw("1.2.3.4/32")
	_, _, conflicts = ProcessMessage(r, w, 3, MaskLengthPolicy, nil)
	if len(conflicts) != 1 {
		t.Fatalf("expected 1 conflict from the withdraw, got %d: %v", len(conflicts), conflicts)
	}
	if conflicts[0].ConflictWith.ASN != 64497 {
		t.Fatalf("expected conflict_with asn 64497, got %d", conflicts[0].ConflictWith.ASN)
	}
	if !conflicts[0].IsWithdraw {
		t.Fatalf("expected a withdraw-shaped conflict")
	}
}

func TestProcessMessage_NoConflictWhenSameOrigin(t *testing.T) {
	r := rib.New()
	ProcessMessage(r, announce("1.2.0.0/16", "64497", 64497), 1, MaskLengthPolicy, nil)

	_, _, conflicts := ProcessMessage(r, announce("1.2.0.0/16", "64497", 64497), 2, MaskLengthPolicy, nil)
	if len(conflicts) != 0 {
		t.Fatalf("same-origin re-announce must not conflict, got %v", conflicts)
	}
}

func TestProcessMessage_DefaultRouteNeverInstalled(t *testing.T) {
	r := rib.New()
	defaults, routes, conflicts := ProcessMessage(r, announce("1.0.0.0/7", "64497", 64497), 1, MaskLengthPolicy, nil)
	if len(defaults) != 1 || len(routes) != 0 || len(conflicts) != 0 {
		t.Fatalf("expected exactly 1 default record and nothing else, got defaults=%v routes=%v conflicts=%v", defaults, routes, conflicts)
	}
	if len(r.Nodes()) != 0 {
		t.Fatalf("default route must never populate the RIB")
	}
	side := defaults[0].Announce
	if side.Kind != "U" {
		t.Errorf("expected default record announce.type = \"U\", got %q", side.Kind)
	}
	if !side.HasASPath || side.ASPath != "64497" {
		t.Errorf("expected default record announce.as_path = \"64497\", got hasASPath=%v asPath=%q", side.HasASPath, side.ASPath)
	}
}

func TestProcessMessage_WithdrawOfUnannouncedIsSoftMiss(t *testing.T) {
	r := rib.New()
	_, routes, conflicts := ProcessMessage(r, withdraw("9.9.9.0/24"), 1, MaskLengthPolicy, nil)
	if len(routes) != 0 || len(conflicts) != 0 {
		t.Fatalf("expected no output for a withdraw of an unannounced prefix, got routes=%v conflicts=%v", routes, conflicts)
	}
}

func TestProcessMessage_IsWatchedGatesInstallation(t *testing.T) {
	r := rib.New()
	neverWatch := func(bgpmsg.InternalMessage) bool { return false }

	_, routes, conflicts := ProcessMessage(r, announce("1.2.0.0/16", "64497", 64497), 1, MaskLengthPolicy, neverWatch)
	if len(routes) != 0 || len(conflicts) != 0 {
		t.Fatalf("expected nothing emitted for an unwatched, non-conflicting announce")
	}
	if r.Lookup(mustPfx("1.2.0.0/16"), testPeer) != nil {
		t.Fatalf("expected the unwatched announce to be dropped, not installed")
	}
}

func TestSweepStaleSince(t *testing.T) {
	r := rib.New()
	ProcessMessage(r, announce("1.2.0.0/16", "64497", 64497), 1, MaskLengthPolicy, nil)
	ProcessMessage(r, announce("1.0.0.0/8", "64498", 64498), 5, MaskLengthPolicy, nil)

	removed := SweepStaleSince(r, 5)
	if removed != 1 {
		t.Fatalf("expected 1 stale entry removed, got %d", removed)
	}
	if r.Lookup(mustPfx("1.2.0.0/16"), testPeer) != nil {
		t.Fatalf("expected the stale entry gone")
	}
	if r.Lookup(mustPfx("1.0.0.0/8"), testPeer) == nil {
		t.Fatalf("expected the fresh entry to survive the sweep")
	}
}

func mustPfx(s string) netip.Prefix {
	p, err := netip.ParsePrefix(s)
	if err != nil {
		panic(err)
	}
	return p
}
