package shard

import (
	"io"
	"net/netip"
	"strings"
	"testing"

	"github.com/anssi-fr/hijackd/internal/bgpmsg"
)

type fakeDecoder struct {
	byFile map[string][]bgpmsg.InternalMessage
}

func (f *fakeDecoder) Decode(collector string, r io.Reader, emit func(bgpmsg.InternalMessage) error) error {
	for _, msg := range f.byFile[currentFile] {
		if err := emit(msg); err != nil {
			return err
		}
	}
	return nil
}

var currentFile string

func fakeOpener(name string) (io.ReadCloser, error) {
	currentFile = name
	return io.NopCloser(strings.NewReader("x")), nil
}

func mustPfx(s string) netip.Prefix {
	p, err := netip.ParsePrefix(s)
	if err != nil {
		panic(err)
	}
	return p
}

func peer() bgpmsg.PeerID {
	return bgpmsg.PeerID{PeerAS: 64496, PeerIP: netip.MustParseAddr("127.0.0.1")}
}

func bview(prefix string, asn uint32) bgpmsg.InternalMessage {
	return bgpmsg.InternalMessage{
		Kind:      bgpmsg.KindFullTable,
		Collector: "rrc00",
		Peer:      peer(),
		Prefix:    mustPfx(prefix),
		Origin:    bgpmsg.NewOrigin(asn),
		ASPath:    []bgpmsg.ASSeg{{asn}},
		ASPathRaw: "64496",
	}
}

func announce(prefix string, asPathRaw string, asns ...uint32) bgpmsg.InternalMessage {
	return bgpmsg.InternalMessage{
		Kind:      bgpmsg.KindAnnounce,
		Collector: "rrc00",
		Peer:      peer(),
		Prefix:    mustPfx(prefix),
		Origin:    bgpmsg.NewOrigin(asns...),
		ASPath:    []bgpmsg.ASSeg{bgpmsg.ASSeg(asns)},
		ASPathRaw: asPathRaw,
	}
}

func TestOwner_Deterministic(t *testing.T) {
	if Owner(64496, 2) != Owner(64496, 2) {
		t.Fatal("Owner should be a pure function of (asn, n)")
	}
	if Owner(64496, 2) == Owner(64497, 2) && 64496%2 != 64497%2 {
		t.Fatal("distinct ASNs with distinct moduli should land on distinct shards")
	}
}

func TestManager_NoBviewsReturnsError(t *testing.T) {
	dec := &fakeDecoder{byFile: map[string][]bgpmsg.InternalMessage{
		"updates.1": {announce("1.2.0.0/16", "64497", 64497)},
	}}
	m := &Manager{NumShards: 2, Collector: "rrc00", Opener: fakeOpener, Decoder: dec}
	err := m.Run([]string{"updates.1"})
	if err != ErrNoBviewsLoaded {
		t.Fatalf("expected ErrNoBviewsLoaded, got %v", err)
	}
}

func TestManager_PartitionsByOriginASN(t *testing.T) {
	asnA, asnB := uint32(64496), uint32(64497)
	if Owner(asnA, 2) == Owner(asnB, 2) {
		t.Skip("fixture ASNs must land on different shards")
	}
	dec := &fakeDecoder{byFile: map[string][]bgpmsg.InternalMessage{
		"bview.1": {
			bview("1.2.0.0/16", asnA),
			bview("1.3.0.0/16", asnB),
		},
	}}
	m := &Manager{NumShards: 2, Collector: "rrc00", Opener: fakeOpener, Decoder: dec}
	if err := m.Run([]string{"bview.1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ownerA := Owner(asnA, 2)
	ownerB := Owner(asnB, 2)

	if rec := m.RIB(ownerA).Lookup(mustPfx("1.2.0.0/16"), peer()); rec == nil {
		t.Fatalf("expected shard %d to hold the %d-origin prefix", ownerA, asnA)
	}
	if rec := m.RIB(ownerB).Lookup(mustPfx("1.2.0.0/16"), peer()); rec != nil {
		t.Fatalf("expected shard %d NOT to hold the %d-origin prefix", ownerB, asnA)
	}
	if rec := m.RIB(ownerB).Lookup(mustPfx("1.3.0.0/16"), peer()); rec == nil {
		t.Fatalf("expected shard %d to hold the %d-origin prefix", ownerB, asnB)
	}
}

func TestManager_StopsPrimingAtFirstNonBview(t *testing.T) {
	dec := &fakeDecoder{byFile: map[string][]bgpmsg.InternalMessage{
		"bview.1":   {bview("1.2.0.0/16", 64497)},
		"updates.1": {announce("1.4.0.0/16", "64498", 64498)},
	}}
	m := &Manager{NumShards: 2, Collector: "rrc00", Opener: fakeOpener, Decoder: dec}
	if err := m.Run([]string{"bview.1", "updates.1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	owner := Owner(64498, 2)
	if rec := m.RIB(owner).Lookup(mustPfx("1.4.0.0/16"), peer()); rec == nil {
		t.Fatalf("expected the updates file to still be processed in the streaming phase")
	}
}

func TestManager_WithdrawRemovesRecordFromOwningShard(t *testing.T) {
	owningASN := uint32(64497)
	dec := &fakeDecoder{byFile: map[string][]bgpmsg.InternalMessage{
		"bview.1": {bview("1.2.0.0/16", owningASN)},
		"updates.1": {
			{
				Kind:      bgpmsg.KindWithdraw,
				Collector: "rrc00",
				Peer:      peer(),
				Prefix:    mustPfx("1.2.0.0/16"),
			},
		},
	}}
	m := &Manager{NumShards: 2, Collector: "rrc00", Opener: fakeOpener, Decoder: dec}
	if err := m.Run([]string{"bview.1", "updates.1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	owner := Owner(owningASN, 2)
	if rec := m.RIB(owner).Lookup(mustPfx("1.2.0.0/16"), peer()); rec != nil {
		t.Fatalf("expected the withdraw to remove the record from the owning shard, got %+v", rec)
	}
}
