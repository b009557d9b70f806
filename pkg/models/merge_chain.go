package models

import "github.com/google/uuid"

// MaxMergeHops bounds any walk over merged_into pointers. Chains deeper than
// this indicate a data error (most likely a cycle) and are flagged rather
// than followed forever.
const MaxMergeHops = 10

// ChainExplanation is the audit view of a merge chain walk. Unresolved is set
// when the terminal canonical entity could not be reached: the hop limit was
// hit, a placeholder target is not present locally, or a placeholder lookup
// was ambiguous.
type ChainExplanation struct {
	Path       []uuid.UUID `json:"path"`
	Depth      int         `json:"depth"`
	Unresolved bool        `json:"unresolved"`
}
