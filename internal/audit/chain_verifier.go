package audit

import (
	"fmt"
)

// VerifyChain walks a proposal's entries in append order and recomputes every
// hash, confirming each link chains to its predecessor. Returns nil on
// success or an error naming the first broken entry.
func VerifyChain(entries []Entry) error {
	prev := ""
	for i := range entries {
		e := entries[i]
		if e.PrevHash != prev {
			return fmt.Errorf("entry %s: prev hash mismatch at position %d", e.ID, i)
		}
		computed, err := chainHash(&e, prev)
		if err != nil {
			return fmt.Errorf("entry %s: %w", e.ID, err)
		}
		if computed != e.Hash {
			return fmt.Errorf("entry %s: hash mismatch at position %d: computed=%s stored=%s", e.ID, i, computed, e.Hash)
		}
		prev = e.Hash
	}
	return nil
}
