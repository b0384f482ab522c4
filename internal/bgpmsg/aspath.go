package bgpmsg

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ASSeg is one AS-path segment: a single ASN, or an AS_SET of several.
type ASSeg []uint32

// ErrLeadingASSet is returned by CanonicalASPath when the first segment
// of an AS-path is an AS_SET. A path cannot begin with one: the nearest
// hop is always a single advertising AS.
var ErrLeadingASSet = errors.New("bgpmsg: as-path cannot start with an AS_SET")

// CanonicalASPath parses a space-separated AS-path string (ASNs, with
// AS_SET segments written as "{a,b,c}") into its canonical form:
// consecutive duplicate single-ASN segments collapsed (prepending), in
// left-to-right (nearest-to-farthest) order. A leading AS_SET is
// rejected; a non-integer segment is rejected. Canonicalising an
// already-canonical path is the identity.
func CanonicalASPath(asPath string) ([]ASSeg, error) {
	fields := strings.Fields(asPath)
	out := make([]ASSeg, 0, len(fields))

	for i, field := range fields {
		if !strings.HasPrefix(field, "{") {
			asn, err := strconv.ParseUint(field, 10, 32)
			if err != nil {
				return nil, fmt.Errorf("bgpmsg: invalid AS-path segment %q: %w", field, err)
			}
			a := uint32(asn)
			if len(out) > 0 && len(out[len(out)-1]) == 1 && out[len(out)-1][0] == a {
				continue // collapse consecutive duplicate prepend
			}
			out = append(out, ASSeg{a})
			continue
		}

		if i == 0 {
			return nil, ErrLeadingASSet
		}
		if !strings.HasSuffix(field, "}") {
			return nil, fmt.Errorf("bgpmsg: unterminated AS_SET segment %q", field)
		}
		inner := field[1 : len(field)-1]
		parts := strings.Split(inner, ",")
		seg := make(ASSeg, 0, len(parts))
		for _, p := range parts {
			asn, err := strconv.ParseUint(strings.TrimSpace(p), 10, 32)
			if err != nil {
				return nil, fmt.Errorf("bgpmsg: invalid AS_SET member %q in %q: %w", p, field, err)
			}
			seg = append(seg, uint32(asn))
		}
		out = append(out, seg)
	}

	return out, nil
}

// OriginFromASPath returns the origin Origin of a canonical AS-path: the
// last segment, expanded to its member ASNs.
func OriginFromASPath(path []ASSeg) (Origin, error) {
	if len(path) == 0 {
		return nil, errors.New("bgpmsg: empty as-path has no origin")
	}
	last := path[len(path)-1]
	return NewOrigin(last...), nil
}
