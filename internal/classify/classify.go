// Package classify derives the final VALID/RELATION/DIRECT/NODIRECT/
// ABNORMAL label from a conflict's annotations. Precedence is fixed and
// exactly one label always applies.
package classify

import "github.com/anssi-fr/hijackd/internal/update"

const (
	Valid    = "VALID"
	Relation = "RELATION"
	Direct   = "DIRECT"
	NoDirect = "NODIRECT"
	Abnormal = "ABNORMAL"
)

// Classify returns c's type label and also stores it on c.Type.
func Classify(c *update.Conflict) string {
	validSide := c.Announce
	if c.IsWithdraw {
		// A withdraw-shaped conflict has no "announce" body to check;
		// the conflict_with side stands in, matching how the absence
		// of an "announce" key falls back in the annotated record.
		validSide = c.ConflictWith
	}

	var label string
	switch {
	case len(validSide.Valid) > 0:
		label = Valid
	case len(c.Relation) > 0:
		label = Relation
	case c.Direct != nil && *c.Direct:
		label = Direct
	case c.Direct != nil && !*c.Direct:
		label = NoDirect
	default:
		label = Abnormal
	}
	c.Type = label
	return label
}

// IsHijack reports whether label represents a confirmed hijack.
func IsHijack(label string) bool {
	return label == Abnormal
}
