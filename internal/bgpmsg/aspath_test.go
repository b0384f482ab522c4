package bgpmsg

import (
	"reflect"
	"testing"
)

func TestCanonicalASPath_Simple(t *testing.T) {
	got, err := CanonicalASPath("64496 64497 64498")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []ASSeg{{64496}, {64497}, {64498}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestCanonicalASPath_CollapsesPrepend(t *testing.T) {
	got, err := CanonicalASPath("64496 64496 64496 64497")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []ASSeg{{64496}, {64497}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestCanonicalASPath_Idempotent(t *testing.T) {
	first, err := CanonicalASPath("64496 64497 {3,4}")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Re-serialize and re-parse should be the identity.
	second, err := CanonicalASPath(serialize(first))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("canonicalising a canonical path changed it: %v vs %v", first, second)
	}
}

func serialize(path []ASSeg) string {
	out := ""
	for i, seg := range path {
		if i > 0 {
			out += " "
		}
		if len(seg) == 1 {
			out += itoa(seg[0])
			continue
		}
		out += "{"
		for j, a := range seg {
			if j > 0 {
				out += ","
			}
			out += itoa(a)
		}
		out += "}"
	}
	return out
}

func itoa(a uint32) string {
	if a == 0 {
		return "0"
	}
	digits := ""
	for a > 0 {
		digits = string(rune('0'+a%10)) + digits
		a /= 10
	}
	return digits
}

func TestCanonicalASPath_LeadingASSetRejected(t *testing.T) {
	_, err := CanonicalASPath("{3,4} 64497")
	if err != ErrLeadingASSet {
		t.Fatalf("expected ErrLeadingASSet, got %v", err)
	}
}

func TestCanonicalASPath_TrailingASSetExpanded(t *testing.T) {
	got, err := CanonicalASPath("1 {3}")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	origin, err := OriginFromASPath(got)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !origin.Contains(3) || len(origin) != 1 {
		t.Fatalf("expected origin {3}, got %v", origin)
	}
}

func TestCanonicalASPath_NonIntegerRejected(t *testing.T) {
	_, err := CanonicalASPath("64496 notanumber")
	if err == nil {
		t.Fatalf("expected error for non-integer segment")
	}
}

func TestOrigin_Intersects(t *testing.T) {
	a := NewOrigin(1, 2, 3)
	b := NewOrigin(3, 4)
	c := NewOrigin(5, 6)
	if !a.Intersects(b) {
		t.Fatalf("expected a and b to intersect")
	}
	if a.Intersects(c) {
		t.Fatalf("expected a and c to not intersect")
	}
}
