package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/futsalmandu/futsalmandu/internal/db"
	"github.com/futsalmandu/futsalmandu/internal/fault"
	"github.com/futsalmandu/futsalmandu/internal/loyalty"
)

// LoyaltyStore keeps point balances and their transaction log in lockstep:
// every balance change commits in the same transaction as its log entry, so
// the balance always equals the signed sum of the log.
type LoyaltyStore struct {
	db *db.DB
}

func NewLoyaltyStore(database *db.DB) *LoyaltyStore {
	return &LoyaltyStore{db: database}
}

// Balance reads the committed balance; a missing account reads as zero.
func (s *LoyaltyStore) Balance(ctx context.Context, userID string) (int64, error) {
	var balance int64
	err := s.db.QueryRowContext(ctx,
		`SELECT points_balance FROM loyalty_accounts WHERE user_id = ?`,
		userID).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get balance: %w", err)
	}
	return balance, nil
}

func (s *LoyaltyStore) Credit(ctx context.Context, txn loyalty.Transaction) error {
	return s.db.RunInTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO loyalty_accounts (user_id, points_balance) VALUES (?, ?)
			ON CONFLICT(user_id) DO UPDATE SET points_balance = points_balance + excluded.points_balance`,
			txn.UserID, txn.Points); err != nil {
			return fmt.Errorf("credit balance: %w", err)
		}
		return s.appendTxn(ctx, tx, txn)
	})
}

// Debit removes points. The balance guard inside the UPDATE is the atomic
// check: a concurrent debit that drains the account leaves this statement
// matching zero rows, and the transaction rolls back with no log entry.
func (s *LoyaltyStore) Debit(ctx context.Context, txn loyalty.Transaction) error {
	return s.db.RunInTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE loyalty_accounts
			SET points_balance = points_balance - ?
			WHERE user_id = ? AND points_balance >= ?`,
			txn.Points, txn.UserID, txn.Points)
		if err != nil {
			return fmt.Errorf("debit balance: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return fault.Newf(fault.KindInsufficientPoints, "balance below %d points", txn.Points)
		}
		return s.appendTxn(ctx, tx, txn)
	})
}

func (s *LoyaltyStore) appendTxn(ctx context.Context, tx *sql.Tx, txn loyalty.Transaction) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO loyalty_transactions (id, user_id, type, points, reason, related_booking_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		txn.ID, txn.UserID, txn.Type, txn.Points, txn.Reason,
		nullStr(txn.RelatedBookingID), txn.CreatedAt.UTC().Unix()); err != nil {
		return fmt.Errorf("append loyalty transaction: %w", err)
	}
	return nil
}

// Transactions lists a user's log newest first.
func (s *LoyaltyStore) Transactions(ctx context.Context, userID string) ([]loyalty.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, type, points, reason, related_booking_id, created_at
		FROM loyalty_transactions WHERE user_id = ?
		ORDER BY created_at DESC, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list loyalty transactions: %w", err)
	}
	defer rows.Close()

	var out []loyalty.Transaction
	for rows.Next() {
		var (
			txn     loyalty.Transaction
			related sql.NullString
			created int64
		)
		if err := rows.Scan(&txn.ID, &txn.UserID, &txn.Type, &txn.Points, &txn.Reason, &related, &created); err != nil {
			return nil, fmt.Errorf("scan loyalty transaction: %w", err)
		}
		txn.RelatedBookingID = related.String
		txn.CreatedAt = timeFromUnix(created)
		out = append(out, txn)
	}
	return out, rows.Err()
}
