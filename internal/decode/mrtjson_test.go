package decode

import (
	"strings"
	"testing"

	"github.com/anssi-fr/hijackd/internal/bgpmsg"
)

func TestMRTJSON_TableDumpV2(t *testing.T) {
	d := &MRTJSON{}
	line := `{"type":"table_dump_v2","timestamp":2807,"prefix":"1.2.0.0/16","entries":[{"peer_as":64496,"peer_ip":"127.0.0.1","as_path":"64498 64497"}]}`
	var msgs []bgpmsg.InternalMessage
	if err := d.Decode("rrc00", strings.NewReader(line), func(m bgpmsg.InternalMessage) error {
		msgs = append(msgs, m)
		return nil
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	m := msgs[0]
	if m.Kind != bgpmsg.KindFullTable {
		t.Fatalf("expected KindFullTable, got %v", m.Kind)
	}
	if !m.Origin.Contains(64497) {
		t.Fatalf("expected origin 64497, got %v", m.Origin)
	}
	if m.Peer.PeerAS != 64496 {
		t.Fatalf("expected peer_as 64496, got %d", m.Peer.PeerAS)
	}
}

func TestMRTJSON_UpdateAnnounceAndWithdraw(t *testing.T) {
	d := &MRTJSON{}
	line := `{"type":"update","timestamp":2807,"peer_as":64496,"peer_ip":"127.0.0.1","as_path":"64498 666","announce":["1.2.0.0/16"],"withdraw":["1.3.0.0/16"]}`
	var msgs []bgpmsg.InternalMessage
	if err := d.Decode("rrc00", strings.NewReader(line), func(m bgpmsg.InternalMessage) error {
		msgs = append(msgs, m)
		return nil
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages (1 announce, 1 withdraw), got %d", len(msgs))
	}
	if msgs[0].Kind != bgpmsg.KindAnnounce || !msgs[0].Origin.Contains(666) {
		t.Fatalf("expected announce origin 666, got %+v", msgs[0])
	}
	if msgs[1].Kind != bgpmsg.KindWithdraw || msgs[1].Origin != nil {
		t.Fatalf("expected bare withdraw, got %+v", msgs[1])
	}
}

func TestMRTJSON_EmptyASPathSkipsAsIGPOrigin(t *testing.T) {
	d := &MRTJSON{}
	line := `{"type":"update","timestamp":2807,"peer_as":64496,"peer_ip":"127.0.0.1","as_path":"","announce":["1.2.0.0/16"]}`
	var msgs []bgpmsg.InternalMessage
	if err := d.Decode("rrc00", strings.NewReader(line), func(m bgpmsg.InternalMessage) error {
		msgs = append(msgs, m)
		return nil
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("expected the IGP-origin announce to be skipped, got %d messages", len(msgs))
	}
}

func TestMRTJSON_UnknownTypeSkipped(t *testing.T) {
	d := &MRTJSON{}
	line := `{"type":"peer_down","timestamp":2807}`
	called := false
	if err := d.Decode("rrc00", strings.NewReader(line), func(m bgpmsg.InternalMessage) error {
		called = true
		return nil
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if called {
		t.Fatalf("expected unknown record type to be skipped, not emitted")
	}
}
