// Package settle holds the monetary algorithms consumed by the event
// processor and the balance service: deterministic integer-cent split
// allocation and greedy debt simplification.
package settle

import (
	"github.com/SplitSync/split-sync-backend/types"
)

// Allocate distributes amount across the participants with zero rounding
// loss: base = amount/N and the first amount%N participants, in list order,
// carry the extra cent. The returned shares always sum to amount exactly.
//
// Example: Allocate(1000, 3 participants) = [334, 333, 333].
//
// An empty participant list yields an empty result; callers reject empty
// splits before building splits (see the expense-add handler).
func Allocate(amount types.Cents, participants []string) []types.Cents {
	n := len(participants)
	if n == 0 {
		return nil
	}

	base := int64(amount) / int64(n)
	remainder := int64(amount) % int64(n)

	shares := make([]types.Cents, n)
	for i := range shares {
		if int64(i) < remainder {
			shares[i] = types.Cents(base + 1)
		} else {
			shares[i] = types.Cents(base)
		}
	}
	return shares
}
