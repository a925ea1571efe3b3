package types

// Expense represents a shared expense within a group.
// Invariant: the sum of its splits' ShareAmount equals Amount exactly.
type Expense struct {
	ID             string         `json:"id"`
	GroupID        string         `json:"groupId"`
	Description    string         `json:"description"`
	Amount         Cents          `json:"amount"`
	PaidBy         string         `json:"paidBy"`
	CreatedAt      int64          `json:"createdAt"`      // wall-clock ms
	LastModifiedAt int64          `json:"lastModifiedAt"` // wall-clock ms
	IsDeleted      bool           `json:"isDeleted"`
	Splits         []ExpenseSplit `json:"splits,omitempty"`
}

type ExpenseSplit struct {
	ID          string `json:"id"`
	ExpenseID   string `json:"expenseId"`
	UserID      string `json:"userId"`
	ShareAmount Cents  `json:"shareAmount"`
	IsPayer     bool   `json:"isPayer"`
}

// Debt is a derived settlement transfer: FromUserID owes ToUserID Amount.
// Debts are recomputed on demand from net balances and never replicated.
type Debt struct {
	ID         string `json:"id"`
	GroupID    string `json:"groupId"`
	FromUserID string `json:"fromUserId"`
	ToUserID   string `json:"toUserId"`
	Amount     Cents  `json:"amount"`
}

// MemberBalance is a per-user net position within a group. Negative means
// the user owes into the pool; positive means the pool owes the user.
type MemberBalance struct {
	UserID  string `json:"userId"`
	Balance Cents  `json:"balance"`
}
