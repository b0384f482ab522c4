package bgpmsg

// Origin is a set of one or more ASNs, as produced by a BGP announce's
// final AS-path segment. A single ASN and an AS_SET segment are both
// represented as a (possibly single-element) set, since "same-origin"
// is always an intersection test and there is no need to keep the
// single/set distinction as a separate Go type.
type Origin map[uint32]struct{}

// NewOrigin builds an Origin from one or more ASNs. Panics if called
// with zero ASNs — an Origin is always non-empty.
func NewOrigin(asns ...uint32) Origin {
	if len(asns) == 0 {
		panic("bgpmsg: Origin must have at least one ASN")
	}
	o := make(Origin, len(asns))
	for _, a := range asns {
		o[a] = struct{}{}
	}
	return o
}

// Intersects reports whether a and b share at least one ASN: the
// "same-origin" relation an AS cannot hijack itself relies on.
func (a Origin) Intersects(b Origin) bool {
	small, big := a, b
	if len(big) < len(small) {
		small, big = big, small
	}
	for asn := range small {
		if _, ok := big[asn]; ok {
			return true
		}
	}
	return false
}

// ASNs returns the member ASNs in unspecified order.
func (a Origin) ASNs() []uint32 {
	out := make([]uint32, 0, len(a))
	for asn := range a {
		out = append(out, asn)
	}
	return out
}

// Contains reports whether asn is a member of a.
func (a Origin) Contains(asn uint32) bool {
	_, ok := a[asn]
	return ok
}
