// Package freeslot tracks the per-user, per-day quota of complimentary
// bookings. Records are created lazily: no record means the full quota
// remains.
package freeslot

import (
	"context"

	"github.com/rs/zerolog/log"
)

// Store persists quota records. ConsumeOne must be a single atomic
// upsert-and-decrement (floor at zero) so concurrent bookings by the same
// user cannot overspend the quota; it returns a fault.KindConflict error when
// the quota is exhausted.
type Store interface {
	Remaining(ctx context.Context, userID, date string, limit int) (int, error)
	ConsumeOne(ctx context.Context, userID, date string, limit int) error
}

type Ledger struct {
	store Store
	limit int
}

func NewLedger(store Store, limit int) *Ledger {
	return &Ledger{store: store, limit: limit}
}

// Remaining returns how many complimentary slots the user still has on date.
func (l *Ledger) Remaining(ctx context.Context, userID, date string) (int, error) {
	return l.store.Remaining(ctx, userID, date, l.limit)
}

// ConsumeOne spends one complimentary slot for (user, date).
func (l *Ledger) ConsumeOne(ctx context.Context, userID, date string) error {
	if err := l.store.ConsumeOne(ctx, userID, date, l.limit); err != nil {
		return err
	}
	log.Ctx(ctx).Debug().
		Str("component", "freeslot").
		Str("user_id", userID).
		Str("date", date).
		Msg("Consumed one complimentary slot")
	return nil
}
