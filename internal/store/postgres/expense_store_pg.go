package postgres

import (
	"context"
	"fmt"

	internal_store "github.com/SplitSync/split-sync-backend/internal/store"
	"github.com/SplitSync/split-sync-backend/types"
	"github.com/jackc/pgx/v5"
)

var _ internal_store.ExpenseStore = (*pgExpenseStore)(nil)

type pgExpenseStore struct {
	db internal_store.DB
}

// NewPgExpenseStore creates a new PostgreSQL expense store.
func NewPgExpenseStore(db internal_store.DB) internal_store.ExpenseStore {
	return &pgExpenseStore{db: db}
}

// UpsertExpense implements internal_store.ExpenseStore. The expense row and
// its splits are written in one transaction; existing splits are replaced so
// a concurrent or replayed apply of the same expense id cannot leave
// duplicate split rows behind.
func (s *pgExpenseStore) UpsertExpense(ctx context.Context, expense types.Expense) error {
	return withTx(ctx, s.db, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
            INSERT INTO expenses (id, group_id, description, amount_cents, paid_by,
                                  created_at, last_modified_at, is_deleted)
            VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
            ON CONFLICT (id) DO UPDATE SET
                description      = EXCLUDED.description,
                amount_cents     = EXCLUDED.amount_cents,
                paid_by          = EXCLUDED.paid_by,
                last_modified_at = EXCLUDED.last_modified_at,
                is_deleted       = EXCLUDED.is_deleted`,
			expense.ID,
			expense.GroupID,
			expense.Description,
			int64(expense.Amount),
			expense.PaidBy,
			expense.CreatedAt,
			expense.LastModifiedAt,
			expense.IsDeleted,
		)
		if err != nil {
			return fmt.Errorf("failed to upsert expense: %w", err)
		}

		_, err = tx.Exec(ctx, `DELETE FROM expense_splits WHERE expense_id = $1`, expense.ID)
		if err != nil {
			return fmt.Errorf("failed to clear expense splits: %w", err)
		}

		for _, split := range expense.Splits {
			_, err = tx.Exec(ctx, `
                INSERT INTO expense_splits (id, expense_id, user_id, share_amount_cents, is_payer)
                VALUES ($1, $2, $3, $4, $5)`,
				split.ID,
				split.ExpenseID,
				split.UserID,
				int64(split.ShareAmount),
				split.IsPayer,
			)
			if err != nil {
				return fmt.Errorf("failed to insert expense split: %w", err)
			}
		}
		return nil
	})
}

// ListGroupExpenses implements internal_store.ExpenseStore. Splits are
// attached to their expenses; soft-deleted expenses are included and the
// caller filters on IsDeleted.
func (s *pgExpenseStore) ListGroupExpenses(ctx context.Context, groupID string) ([]types.Expense, error) {
	rows, err := s.db.Query(ctx, `
        SELECT id, group_id, description, amount_cents, paid_by,
               created_at, last_modified_at, is_deleted
        FROM expenses
        WHERE group_id = $1
        ORDER BY created_at, id`, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to query expenses: %w", err)
	}
	defer rows.Close()

	var expenses []types.Expense
	index := make(map[string]int)
	for rows.Next() {
		var e types.Expense
		var amount int64
		if err := rows.Scan(&e.ID, &e.GroupID, &e.Description, &amount, &e.PaidBy,
			&e.CreatedAt, &e.LastModifiedAt, &e.IsDeleted); err != nil {
			return nil, fmt.Errorf("failed to scan expense: %w", err)
		}
		e.Amount = types.Cents(amount)
		index[e.ID] = len(expenses)
		expenses = append(expenses, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read expenses: %w", err)
	}
	if len(expenses) == 0 {
		return nil, nil
	}

	splitRows, err := s.db.Query(ctx, `
        SELECT s.id, s.expense_id, s.user_id, s.share_amount_cents, s.is_payer
        FROM expense_splits s
        JOIN expenses e ON e.id = s.expense_id
        WHERE e.group_id = $1
        ORDER BY s.expense_id, s.id`, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to query expense splits: %w", err)
	}
	defer splitRows.Close()

	for splitRows.Next() {
		var sp types.ExpenseSplit
		var share int64
		if err := splitRows.Scan(&sp.ID, &sp.ExpenseID, &sp.UserID, &share, &sp.IsPayer); err != nil {
			return nil, fmt.Errorf("failed to scan expense split: %w", err)
		}
		sp.ShareAmount = types.Cents(share)
		if i, ok := index[sp.ExpenseID]; ok {
			expenses[i].Splits = append(expenses[i].Splits, sp)
		}
	}
	if err := splitRows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read expense splits: %w", err)
	}

	return expenses, nil
}

// ReplaceDebts implements internal_store.ExpenseStore. Debts are a derived
// view, so the whole group slice is swapped atomically.
func (s *pgExpenseStore) ReplaceDebts(ctx context.Context, groupID string, debts []types.Debt) error {
	return withTx(ctx, s.db, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `DELETE FROM debts WHERE group_id = $1`, groupID)
		if err != nil {
			return fmt.Errorf("failed to clear debts: %w", err)
		}
		for _, d := range debts {
			_, err = tx.Exec(ctx, `
                INSERT INTO debts (id, group_id, from_user_id, to_user_id, amount_cents)
                VALUES ($1, $2, $3, $4, $5)`,
				d.ID, d.GroupID, d.FromUserID, d.ToUserID, int64(d.Amount),
			)
			if err != nil {
				return fmt.Errorf("failed to insert debt: %w", err)
			}
		}
		return nil
	})
}

// ListDebts implements internal_store.ExpenseStore.
func (s *pgExpenseStore) ListDebts(ctx context.Context, groupID string) ([]types.Debt, error) {
	rows, err := s.db.Query(ctx, `
        SELECT id, group_id, from_user_id, to_user_id, amount_cents
        FROM debts
        WHERE group_id = $1
        ORDER BY from_user_id, to_user_id`, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to query debts: %w", err)
	}
	defer rows.Close()

	var debts []types.Debt
	for rows.Next() {
		var d types.Debt
		var amount int64
		if err := rows.Scan(&d.ID, &d.GroupID, &d.FromUserID, &d.ToUserID, &amount); err != nil {
			return nil, fmt.Errorf("failed to scan debt: %w", err)
		}
		d.Amount = types.Cents(amount)
		debts = append(debts, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read debts: %w", err)
	}
	return debts, nil
}
