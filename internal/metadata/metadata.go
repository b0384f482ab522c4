// Package metadata loads and stores the IRR/RPKI/relation reference
// data the Annotation Engine consults: route objects, ROAs, and the
// organisation/maintainer/contact relation tables. All stores are
// immutable once loaded.
package metadata

import (
	"encoding/csv"
	"fmt"
	"io"
	"net/netip"
	"strconv"
	"strings"

	"github.com/anssi-fr/hijackd/internal/prefixtree"
)

// fakeMaintainers lists entities that appear in relation feeds but do
// not represent a genuine administrative relationship, so rows
// naming them are dropped on load.
var fakeMaintainers = map[string]struct{}{
	"RIPE-NCC-END-MNT": {},
	"AFRINIC-HM-MNT":   {},
}

// RouteObjectStore is a radix tree of IRR route objects: prefix ->
// {asn -> set of declaring authorities}.
type RouteObjectStore struct {
	tree *prefixtree.Tree[map[uint32]map[string]struct{}]
}

// NewRouteObjectStore returns an empty store.
func NewRouteObjectStore() *RouteObjectStore {
	return &RouteObjectStore{tree: prefixtree.New[map[uint32]map[string]struct{}]()}
}

// LoadRouteObjects reads a headerless CSV stream of (authority, prefix,
// asn) rows.
func LoadRouteObjects(r io.Reader, store *RouteObjectStore) error {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	for {
		row, err := cr.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("metadata: reading route objects: %w", err)
		}
		if len(row) < 3 {
			continue
		}
		authority, prefixStr, asnStr := row[0], row[1], row[2]
		prefix, err := netip.ParsePrefix(prefixStr)
		if err != nil {
			continue
		}
		asn, err := strconv.ParseUint(strings.TrimSpace(asnStr), 10, 32)
		if err != nil {
			continue
		}
		node := store.tree.Add(prefix)
		if node.Data == nil {
			node.Data = make(map[uint32]map[string]struct{})
		}
		if node.Data[uint32(asn)] == nil {
			node.Data[uint32(asn)] = make(map[string]struct{})
		}
		node.Data[uint32(asn)][authority] = struct{}{}
	}
}

// Covering returns the route-object nodes covering prefix, most-specific
// first.
func (s *RouteObjectStore) Covering(prefix netip.Prefix) []*prefixtree.Node[map[uint32]map[string]struct{}] {
	return s.tree.SearchCovering(prefix)
}

// ROAStore is a radix tree of RPKI ROAs: prefix -> {asn -> max_length}.
type ROAStore struct {
	tree *prefixtree.Tree[map[uint32]int]
}

// NewROAStore returns an empty store.
func NewROAStore() *ROAStore {
	return &ROAStore{tree: prefixtree.New[map[uint32]int]()}
}

// LoadROAs reads a headerless CSV stream of (asn, prefix, max_length,
// validity) rows, skipping rows whose validity column is not "true"
// (case-insensitive). Max length is kept as the maximum observed value
// per (prefix, asn).
func LoadROAs(r io.Reader, store *ROAStore) error {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	for {
		row, err := cr.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("metadata: reading ROAs: %w", err)
		}
		if len(row) < 4 {
			continue
		}
		if !strings.EqualFold(strings.TrimSpace(row[3]), "true") {
			continue
		}
		asn, err := strconv.ParseUint(strings.TrimSpace(row[0]), 10, 32)
		if err != nil {
			continue
		}
		prefix, err := netip.ParsePrefix(row[1])
		if err != nil {
			continue
		}
		maxLength, err := strconv.Atoi(strings.TrimSpace(row[2]))
		if err != nil {
			continue
		}
		node := store.tree.Add(prefix)
		if node.Data == nil {
			node.Data = make(map[uint32]int)
		}
		if existing, ok := node.Data[uint32(asn)]; !ok || maxLength > existing {
			node.Data[uint32(asn)] = maxLength
		}
	}
}

// Covering returns the ROA nodes covering prefix, most-specific first.
func (s *ROAStore) Covering(prefix netip.Prefix) []*prefixtree.Node[map[uint32]int] {
	return s.tree.SearchCovering(prefix)
}

// RelationKind names which relation table a lookup applies to.
type RelationKind string

const (
	Organisations RelationKind = "organisations"
	Maintainers   RelationKind = "maintainers"
	Contacts      RelationKind = "contacts"
)

// Relations holds the bidirectional organisation/maintainer/contact
// tables: entity -> set of ASNs, and ASN -> set of entities.
type Relations struct {
	forward map[RelationKind]map[string]map[uint32]struct{}
	reverse map[RelationKind]map[uint32]map[string]struct{}
}

// NewRelations returns an empty relation table set.
func NewRelations() *Relations {
	return &Relations{
		forward: make(map[RelationKind]map[string]map[uint32]struct{}),
		reverse: make(map[RelationKind]map[uint32]map[string]struct{}),
	}
}

// Load reads a headerless CSV stream of (authority, entity, asn) rows
// into the table for kind, skipping entities on the fake-maintainer
// blacklist.
func (rel *Relations) Load(r io.Reader, kind RelationKind) error {
	if rel.forward[kind] == nil {
		rel.forward[kind] = make(map[string]map[uint32]struct{})
	}
	if rel.reverse[kind] == nil {
		rel.reverse[kind] = make(map[uint32]map[string]struct{})
	}
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	for {
		row, err := cr.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("metadata: reading %s relations: %w", kind, err)
		}
		if len(row) < 3 {
			continue
		}
		entity := row[1]
		if _, blacklisted := fakeMaintainers[entity]; blacklisted {
			continue
		}
		asn, err := strconv.ParseUint(strings.TrimSpace(row[2]), 10, 32)
		if err != nil {
			continue
		}
		if rel.forward[kind][entity] == nil {
			rel.forward[kind][entity] = make(map[uint32]struct{})
		}
		rel.forward[kind][entity][uint32(asn)] = struct{}{}
		if rel.reverse[kind][uint32(asn)] == nil {
			rel.reverse[kind][uint32(asn)] = make(map[string]struct{})
		}
		rel.reverse[kind][uint32(asn)][entity] = struct{}{}
	}
}

// EntitiesFor returns the entities (of kind) that asn is associated
// with.
func (rel *Relations) EntitiesFor(kind RelationKind, asn uint32) map[string]struct{} {
	return rel.reverse[kind][asn]
}

// ASNsFor returns the ASNs associated with entity (of kind).
func (rel *Relations) ASNsFor(kind RelationKind, entity string) map[uint32]struct{} {
	return rel.forward[kind][entity]
}

// Siblings returns {asn} union every ASN that shares an organisation
// with asn.
func (rel *Relations) Siblings(asn uint32) map[uint32]struct{} {
	out := map[uint32]struct{}{asn: {}}
	for org := range rel.EntitiesFor(Organisations, asn) {
		for sibling := range rel.ASNsFor(Organisations, org) {
			out[sibling] = struct{}{}
		}
	}
	return out
}
