package settle

import (
	"sort"

	"github.com/SplitSync/split-sync-backend/types"
)

// Transfer is a single settlement payment from a debtor to a creditor.
type Transfer struct {
	FromUserID string
	ToUserID   string
	Amount     types.Cents
}

type party struct {
	userID  string
	balance types.Cents
}

// Simplify converts per-user net balances into a short list of pairwise
// transfers that zero every balance. Negative means the user owes into the
// pool, positive means the pool owes the user; balances are assumed to sum
// to zero (guaranteed upstream because every expense's splits sum exactly
// to its amount).
//
// Greedy min-cash-flow: repeatedly settle the largest debtor against the
// largest creditor, which fully zeroes at least one party per step, so the
// result has at most debtors+creditors-1 transfers. That is not always the
// global minimum (true minimum-transaction settlement is NP-hard); the
// approximation is deliberate. Picking largest-first with a user-id
// tiebreak makes the output deterministic regardless of map iteration order.
func Simplify(balances map[string]types.Cents) []Transfer {
	var debtors, creditors []party
	for userID, balance := range balances {
		switch {
		case balance < 0:
			debtors = append(debtors, party{userID: userID, balance: balance})
		case balance > 0:
			creditors = append(creditors, party{userID: userID, balance: balance})
		}
	}
	if len(debtors) == 0 || len(creditors) == 0 {
		return nil
	}

	// Largest absolute balance first, user id as tiebreak.
	byMagnitude := func(parties []party) func(i, j int) bool {
		return func(i, j int) bool {
			a, b := parties[i], parties[j]
			if a.balance.Abs() != b.balance.Abs() {
				return a.balance.Abs() > b.balance.Abs()
			}
			return a.userID < b.userID
		}
	}
	sort.Slice(debtors, byMagnitude(debtors))
	sort.Slice(creditors, byMagnitude(creditors))

	var transfers []Transfer
	for len(debtors) > 0 && len(creditors) > 0 {
		debtor := &debtors[0]
		creditor := &creditors[0]

		amount := debtor.balance.Abs()
		if creditor.balance < amount {
			amount = creditor.balance
		}

		transfers = append(transfers, Transfer{
			FromUserID: debtor.userID,
			ToUserID:   creditor.userID,
			Amount:     amount,
		})

		debtor.balance += amount
		creditor.balance -= amount

		if debtor.balance == 0 {
			debtors = debtors[1:]
		}
		if creditor.balance == 0 {
			creditors = creditors[1:]
		}

		sort.Slice(debtors, byMagnitude(debtors))
		sort.Slice(creditors, byMagnitude(creditors))
	}

	return transfers
}
