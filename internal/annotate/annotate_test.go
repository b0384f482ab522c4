package annotate

import (
	"net/netip"
	"strings"
	"testing"

	"github.com/anssi-fr/hijackd/internal/metadata"
	"github.com/anssi-fr/hijackd/internal/update"
)

func baseConflict() *update.Conflict {
	return &update.Conflict{
		Announce: update.Side{
			Prefix:    netip.MustParsePrefix("1.2.0.0/16"),
			ASN:       666,
			ASPath:    "64498 666",
			HasASPath: true,
		},
		ConflictWith: update.Side{
			Prefix: netip.MustParsePrefix("1.2.0.0/16"),
			ASN:    64497,
		},
	}
}

func TestRouteObjects_AddsAuthorities(t *testing.T) {
	store := metadata.NewRouteObjectStore()
	if err := metadata.LoadRouteObjects(strings.NewReader("RIPE,1.2.0.0/16,666\n"), store); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c := baseConflict()
	RouteObjects(store, c)
	if len(c.Announce.Valid) != 1 || c.Announce.Valid[0] != "RIPE" {
		t.Fatalf("expected announce side valid=[RIPE], got %v", c.Announce.Valid)
	}
	if len(c.ConflictWith.Valid) != 0 {
		t.Fatalf("expected conflict_with side unannotated, got %v", c.ConflictWith.Valid)
	}
}

func TestROA_AppendsRoaAndStopsAtFirstMatch(t *testing.T) {
	store := metadata.NewROAStore()
	if err := metadata.LoadROAs(strings.NewReader("666,1.2.0.0/16,16,true\n"), store); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c := baseConflict()
	ROA(store, c)
	if len(c.Announce.Valid) != 1 || c.Announce.Valid[0] != "roa" {
		t.Fatalf("expected announce side valid=[roa], got %v", c.Announce.Valid)
	}
}

func TestROA_MaxLengthExceeded(t *testing.T) {
	store := metadata.NewROAStore()
	if err := metadata.LoadROAs(strings.NewReader("666,1.2.0.0/16,8,true\n"), store); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c := baseConflict()
	ROA(store, c)
	if len(c.Announce.Valid) != 0 {
		t.Fatalf("prefix length 16 exceeds max_length 8, should not validate, got %v", c.Announce.Valid)
	}
}

func TestRelation_OrgMatch(t *testing.T) {
	rel := metadata.NewRelations()
	if err := rel.Load(strings.NewReader("RIPE,ORG-A,666\nRIPE,ORG-A,64497\n"), metadata.Organisations); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c := baseConflict()
	Relation(rel, c)
	if len(c.Relation) != 1 || c.Relation[0] != "org" {
		t.Fatalf("expected relation=[org], got %v", c.Relation)
	}
}

func TestRelation_NoMatch(t *testing.T) {
	rel := metadata.NewRelations()
	c := baseConflict()
	Relation(rel, c)
	if len(c.Relation) != 0 {
		t.Fatalf("expected no relation with empty tables, got %v", c.Relation)
	}
}

func TestDirect_AdjacentIsTrue(t *testing.T) {
	c := baseConflict()
	c.Announce.ASPath = "64497 666"
	Direct(c)
	if c.Direct == nil || !*c.Direct {
		t.Fatalf("expected direct=true, got %v", c.Direct)
	}
}

func TestDirect_FurtherBackIsFalse(t *testing.T) {
	c := baseConflict()
	c.Announce.ASPath = "64497 64499 666"
	Direct(c)
	if c.Direct == nil || *c.Direct {
		t.Fatalf("expected direct=false, got %v", c.Direct)
	}
}

func TestDirect_UnrelatedLeavesUnset(t *testing.T) {
	c := baseConflict()
	c.Announce.ASPath = "64500 666"
	Direct(c)
	if c.Direct != nil {
		t.Fatalf("expected direct unset, got %v", *c.Direct)
	}
}

func TestDirect_SkipsWithdraw(t *testing.T) {
	c := baseConflict()
	c.Announce.HasASPath = false
	c.Announce.ASPath = ""
	Direct(c)
	if c.Direct != nil {
		t.Fatalf("expected no direct annotation for a withdraw-shaped conflict")
	}
}
