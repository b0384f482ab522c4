package decode

import (
	"strings"
	"testing"

	"github.com/anssi-fr/hijackd/internal/bgpmsg"
)

func TestPipeSep_TableDumpEntry(t *testing.T) {
	d := &PipeSep{}
	line := "R|R|2807|127.0.0.1|64496|1.2.0.0/16|64498 64497\n"
	var msgs []bgpmsg.InternalMessage
	if err := d.Decode("rrc00", strings.NewReader(line), func(m bgpmsg.InternalMessage) error {
		msgs = append(msgs, m)
		return nil
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Kind != bgpmsg.KindFullTable {
		t.Fatalf("expected 1 table-dump message, got %+v", msgs)
	}
	if !msgs[0].Origin.Contains(64497) {
		t.Fatalf("expected origin 64497, got %v", msgs[0].Origin)
	}
}

func TestPipeSep_AnnounceAndWithdraw(t *testing.T) {
	d := &PipeSep{}
	lines := "U|A|2807|127.0.0.1|64496|1.2.0.0/16|64498 666\nU|W|2807|127.0.0.1|64496|1.2.0.0/16|\n"
	var msgs []bgpmsg.InternalMessage
	if err := d.Decode("rrc00", strings.NewReader(lines), func(m bgpmsg.InternalMessage) error {
		msgs = append(msgs, m)
		return nil
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Kind != bgpmsg.KindAnnounce || !msgs[0].Origin.Contains(666) {
		t.Fatalf("expected announce origin 666, got %+v", msgs[0])
	}
	if msgs[1].Kind != bgpmsg.KindWithdraw || msgs[1].Origin != nil {
		t.Fatalf("expected bare withdraw, got %+v", msgs[1])
	}
}

func TestPipeSep_UnknownTypeSkipped(t *testing.T) {
	d := &PipeSep{}
	line := "X|Z|2807|127.0.0.1|64496|1.2.0.0/16|64498\n"
	called := false
	if err := d.Decode("rrc00", strings.NewReader(line), func(m bgpmsg.InternalMessage) error {
		called = true
		return nil
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if called {
		t.Fatalf("expected unknown record type to be skipped")
	}
}

func TestPipeSep_ShortLineDropped(t *testing.T) {
	d := &PipeSep{}
	line := "R|R|2807\n"
	called := false
	if err := d.Decode("rrc00", strings.NewReader(line), func(m bgpmsg.InternalMessage) error {
		called = true
		return nil
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if called {
		t.Fatalf("expected short line to be dropped")
	}
}
