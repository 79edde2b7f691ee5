package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
)

// ApplyLedger mirrors increment_balance: a guarded balance update and the transaction insert
// commit together or not at all.
func (r *SQLiteRepository) ApplyLedger(ctx context.Context, req LedgerRequest) (*LedgerResult, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	now := sqliteNow()
	tx := Transaction{
		ID:            newID(),
		UserID:        req.ProfileID,
		Amount:        req.Amount,
		Type:          TypeForAmount(req.Amount),
		PaymentMethod: req.Method,
		AdminID:       req.AdminID,
		DeviceID:      req.DeviceID,
		CreatedAt:     now,
	}

	// SQLite turns an overflowing integer sum into a REAL, so credits are bounded up front.
	ceiling := int64(math.MaxInt64)
	if req.Amount > 0 {
		ceiling -= req.Amount
	}

	err := r.withTx(ctx, func(sqlTx *sql.Tx) error {
		err := sqlTx.QueryRowContext(ctx, `
UPDATE profiles SET balance = balance + ?, updated_at = ?
WHERE id = ? AND balance + ? >= 0 AND balance <= ?
RETURNING balance`, req.Amount, now, req.ProfileID, req.Amount, ceiling).Scan(&tx.BalanceAfter)
		if errors.Is(err, sql.ErrNoRows) {
			var one int
			if err := sqlTx.QueryRowContext(ctx, `SELECT 1 FROM profiles WHERE id = ?`, req.ProfileID).Scan(&one); err != nil {
				return err
			}
			if req.Amount > 0 {
				return ErrInvalidAmount
			}
			return ErrInsufficientBalance
		}
		if err != nil {
			return err
		}

		_, err = sqlTx.ExecContext(ctx, `
INSERT INTO transactions (id, user_id, amount, type, balance_after, payment_method, admin_id, device_id, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			tx.ID, tx.UserID, tx.Amount, string(tx.Type), tx.BalanceAfter, tx.PaymentMethod, tx.AdminID, tx.DeviceID, tx.CreatedAt)
		return err
	})
	if err != nil {
		return nil, sqliteError("increment balance", err)
	}
	return &LedgerResult{Balance: tx.BalanceAfter, Transaction: tx}, nil
}

func (r *SQLiteRepository) ListTransactions(ctx context.Context, userID string, limit int) ([]Transaction, error) {
	q := `
SELECT ` + prefixed("t", transactionColumns) + `, p.full_name
FROM transactions t
JOIN profiles p ON p.id = t.user_id
WHERE t.user_id = ?
ORDER BY t.created_at DESC, t.rowid DESC
LIMIT ?;
`
	return r.queryTransactions(ctx, "list transactions", q, userID, clampLimit(limit, 50))
}

func (r *SQLiteRepository) ListRecentTransactions(ctx context.Context, limit int) ([]Transaction, error) {
	q := `
SELECT ` + prefixed("t", transactionColumns) + `, p.full_name
FROM transactions t
JOIN profiles p ON p.id = t.user_id
ORDER BY t.created_at DESC, t.rowid DESC
LIMIT ?;
`
	return r.queryTransactions(ctx, "list recent transactions", q, clampLimit(limit, 50))
}

func (r *SQLiteRepository) queryTransactions(ctx context.Context, op, q string, args ...any) ([]Transaction, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, sqliteError(op, err)
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
