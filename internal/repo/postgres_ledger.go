package repo

import (
	"context"
	"fmt"
	"strings"
)

// ApplyLedger atomically adjusts a balance and appends the matching transaction via increment_balance.
func (r *PostgresRepository) ApplyLedger(ctx context.Context, req LedgerRequest) (*LedgerResult, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	const q = `
SELECT out_transaction_id, out_balance_after, out_created_at
FROM increment_balance($1::uuid, $2::bigint, $3, $4::uuid, $5::uuid);
`
	tx := Transaction{
		UserID:        req.ProfileID,
		Amount:        req.Amount,
		Type:          TypeForAmount(req.Amount),
		PaymentMethod: req.Method,
		AdminID:       req.AdminID,
		DeviceID:      req.DeviceID,
	}
	err := r.pool.QueryRow(ctx, q, req.ProfileID, req.Amount, req.Method, req.AdminID, req.DeviceID).
		Scan(&tx.ID, &tx.BalanceAfter, &tx.CreatedAt)
	if err != nil {
		return nil, pgError("increment balance", err)
	}
	return &LedgerResult{Balance: tx.BalanceAfter, Transaction: tx}, nil
}

// ListTransactions returns the ledger history of one profile, newest first.
func (r *PostgresRepository) ListTransactions(ctx context.Context, userID string, limit int) ([]Transaction, error) {
	q := `
SELECT ` + prefixed("t", transactionColumns) + `, p.full_name
FROM transactions t
JOIN profiles p ON p.id = t.user_id
WHERE t.user_id = $1
ORDER BY t.created_at DESC
LIMIT $2;
`
	return r.queryTransactions(ctx, "list transactions", q, userID, clampLimit(limit, 50))
}

// ListRecentTransactions returns the newest ledger rows across all profiles.
func (r *PostgresRepository) ListRecentTransactions(ctx context.Context, limit int) ([]Transaction, error) {
	q := `
SELECT ` + prefixed("t", transactionColumns) + `, p.full_name
FROM transactions t
JOIN profiles p ON p.id = t.user_id
ORDER BY t.created_at DESC
LIMIT $1;
`
	return r.queryTransactions(ctx, "list recent transactions", q, clampLimit(limit, 50))
}

func (r *PostgresRepository) queryTransactions(ctx context.Context, op, q string, args ...any) ([]Transaction, error) {
	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, pgError(op, err)
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		var name string
		t, err := scanTransaction(rows, &name)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		t.ProfileName = name
		out = append(out, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transactions: %w", err)
	}
	return out, nil
}

func (req LedgerRequest) validate() error {
	if req.Amount == 0 {
		return ErrInvalidAmount
	}
	if strings.TrimSpace(req.ProfileID) == "" {
		return invalid("profile id is required")
	}
	if strings.TrimSpace(req.Method) == "" {
		return invalid("payment method is required")
	}
	return nil
}
