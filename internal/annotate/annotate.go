// Package annotate runs the ordered, side-effecting annotators that
// turn a raw Conflict into one ready for classification: route-object
// validity, ROA validity, organisation/maintainer/contact relation, and
// direct AS-path adjacency. Annotators are pure functions of their
// inputs and total — missing metadata means no annotation, never an
// error.
package annotate

import (
	"sort"

	"github.com/anssi-fr/hijackd/internal/bgpmsg"
	"github.com/anssi-fr/hijackd/internal/metadata"
	"github.com/anssi-fr/hijackd/internal/update"
)

// RouteObjects checks both sides of c against ro for declared IRR route
// objects, appending the declaring authorities to each side's Valid.
func RouteObjects(ro *metadata.RouteObjectStore, c *update.Conflict) {
	annotateRouteObjectSide(ro, &c.Announce)
	annotateRouteObjectSide(ro, &c.ConflictWith)
}

func annotateRouteObjectSide(ro *metadata.RouteObjectStore, side *update.Side) {
	valid := make(map[string]struct{}, len(side.Valid))
	for _, v := range side.Valid {
		valid[v] = struct{}{}
	}
	for _, node := range ro.Covering(side.Prefix) {
		authorities, ok := node.Data[side.ASN]
		if !ok {
			continue
		}
		for a := range authorities {
			valid[a] = struct{}{}
		}
	}
	if len(valid) == 0 {
		return
	}
	side.Valid = sortedKeys(valid)
}

// ROA checks both sides of c against roa for a valid RPKI ROA, appending
// the literal "roa" to a side's Valid at the first covering node whose
// max_length accommodates the side's prefix length.
func ROA(roa *metadata.ROAStore, c *update.Conflict) {
	annotateROASide(roa, &c.Announce)
	annotateROASide(roa, &c.ConflictWith)
}

func annotateROASide(roa *metadata.ROAStore, side *update.Side) {
	for _, node := range roa.Covering(side.Prefix) {
		maxLength, ok := node.Data[side.ASN]
		if ok && side.Prefix.Bits() <= maxLength {
			side.Valid = append(side.Valid, "roa")
			return
		}
	}
}

// Relation appends "org", "contact", and/or "mnt" to c.Relation when the
// announce and conflict_with ASNs (or their organisation-siblings) share
// an organisation, administrative contact, or maintainer.
func Relation(rel *metadata.Relations, c *update.Conflict) {
	a1 := c.Announce.ASN
	a2 := c.ConflictWith.ASN

	if entitySetsIntersect(rel.EntitiesFor(metadata.Organisations, a1), rel.EntitiesFor(metadata.Organisations, a2)) {
		c.Relation = append(c.Relation, "org")
	}

	siblings1 := rel.Siblings(a1)
	siblings2 := rel.Siblings(a2)

	if entitySetsIntersect(entitiesForAny(rel, metadata.Contacts, siblings1), entitiesForAny(rel, metadata.Contacts, siblings2)) {
		c.Relation = append(c.Relation, "contact")
	}
	if entitySetsIntersect(entitiesForAny(rel, metadata.Maintainers, siblings1), entitiesForAny(rel, metadata.Maintainers, siblings2)) {
		c.Relation = append(c.Relation, "mnt")
	}
}

func entitiesForAny(rel *metadata.Relations, kind metadata.RelationKind, asns map[uint32]struct{}) map[string]struct{} {
	out := make(map[string]struct{})
	for asn := range asns {
		for e := range rel.EntitiesFor(kind, asn) {
			out[e] = struct{}{}
		}
	}
	return out
}

func entitySetsIntersect(a, b map[string]struct{}) bool {
	small, big := a, b
	if len(big) < len(small) {
		small, big = big, small
	}
	for k := range small {
		if _, ok := big[k]; ok {
			return true
		}
	}
	return false
}

// Direct inspects the announce side's canonical AS-path for the
// conflicting ASN's position: adjacent to the announcer (path[-2]) sets
// Direct true, present further back sets it false, otherwise Direct is
// left unset. Withdraw-shaped conflicts carry no AS-path and are
// skipped.
func Direct(c *update.Conflict) {
	if !c.Announce.HasASPath {
		return
	}
	path, err := bgpmsg.CanonicalASPath(c.Announce.ASPath)
	if err != nil {
		return
	}
	asn := c.ConflictWith.ASN
	if len(path) > 1 && segmentContains(path[len(path)-2], asn) {
		direct := true
		c.Direct = &direct
	} else if len(path) > 2 && anySegmentContains(path[:len(path)-2], asn) {
		direct := false
		c.Direct = &direct
	}
}

func segmentContains(seg bgpmsg.ASSeg, asn uint32) bool {
	for _, a := range seg {
		if a == asn {
			return true
		}
	}
	return false
}

func anySegmentContains(segs []bgpmsg.ASSeg, asn uint32) bool {
	for _, seg := range segs {
		if segmentContains(seg, asn) {
			return true
		}
	}
	return false
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// All runs every annotator over c in the fixed order the classifier
// depends on: route objects, ROA, relation, then direct adjacency.
func All(ro *metadata.RouteObjectStore, roa *metadata.ROAStore, rel *metadata.Relations, c *update.Conflict) {
	if ro != nil {
		RouteObjects(ro, c)
	}
	if roa != nil {
		ROA(roa, c)
	}
	if rel != nil {
		Relation(rel, c)
	}
	Direct(c)
}
