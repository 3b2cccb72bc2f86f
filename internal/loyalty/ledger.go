// Package loyalty keeps per-user point balances with an append-only
// transaction log. The balance always equals the signed sum of committed
// transactions; debits that would go negative fail without partial mutation.
package loyalty

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/futsalmandu/futsalmandu/internal/fault"
)

type TxnType string

const (
	TxnCredit TxnType = "credit"
	TxnDebit  TxnType = "debit"
)

type Transaction struct {
	ID               string
	UserID           string
	Type             TxnType
	Points           int64
	Reason           string
	RelatedBookingID string
	CreatedAt        time.Time
}

// Store persists accounts and transactions. Credit and Debit must apply the
// balance adjustment and the log append as one atomic unit; Debit returns a
// fault.KindInsufficientPoints error when the balance would go negative.
type Store interface {
	Balance(ctx context.Context, userID string) (int64, error)
	Credit(ctx context.Context, txn Transaction) error
	Debit(ctx context.Context, txn Transaction) error
	Transactions(ctx context.Context, userID string) ([]Transaction, error)
}

type Ledger struct {
	store Store
}

func NewLedger(store Store) *Ledger {
	return &Ledger{store: store}
}

// Balance reads the committed balance. Missing accounts read as zero.
func (l *Ledger) Balance(ctx context.Context, userID string) (int64, error) {
	return l.store.Balance(ctx, userID)
}

// Transactions lists the committed transaction log for a user.
func (l *Ledger) Transactions(ctx context.Context, userID string) ([]Transaction, error) {
	return l.store.Transactions(ctx, userID)
}

// Credit adds points to a user's account, lazily creating it.
func (l *Ledger) Credit(ctx context.Context, userID string, points int64, reason, relatedBookingID string) error {
	if points <= 0 {
		return fault.New(fault.KindValidation, "credit points must be positive")
	}
	txn := Transaction{
		ID:               uuid.NewString(),
		UserID:           userID,
		Type:             TxnCredit,
		Points:           points,
		Reason:           reason,
		RelatedBookingID: relatedBookingID,
		CreatedAt:        time.Now().UTC(),
	}
	if err := l.store.Credit(ctx, txn); err != nil {
		return err
	}
	log.Ctx(ctx).Info().
		Str("component", "loyalty").
		Str("user_id", userID).
		Int64("points", points).
		Str("reason", reason).
		Msg("Credited loyalty points")
	return nil
}

// Debit removes points from a user's account. Fails with an
// insufficient-points error when the committed balance is too low.
func (l *Ledger) Debit(ctx context.Context, userID string, points int64, reason, relatedBookingID string) error {
	if points <= 0 {
		return fault.New(fault.KindValidation, "debit points must be positive")
	}
	txn := Transaction{
		ID:               uuid.NewString(),
		UserID:           userID,
		Type:             TxnDebit,
		Points:           points,
		Reason:           reason,
		RelatedBookingID: relatedBookingID,
		CreatedAt:        time.Now().UTC(),
	}
	if err := l.store.Debit(ctx, txn); err != nil {
		return err
	}
	log.Ctx(ctx).Info().
		Str("component", "loyalty").
		Str("user_id", userID).
		Int64("points", points).
		Str("reason", reason).
		Msg("Debited loyalty points")
	return nil
}
