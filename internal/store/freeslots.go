package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/futsalmandu/futsalmandu/internal/db"
	"github.com/futsalmandu/futsalmandu/internal/fault"
)

// FreeSlotStore tracks complimentary-slot quotas. Records are created lazily
// on first consumption; a missing row means the full quota remains.
type FreeSlotStore struct {
	db *db.DB
}

func NewFreeSlotStore(database *db.DB) *FreeSlotStore {
	return &FreeSlotStore{db: database}
}

func (s *FreeSlotStore) Remaining(ctx context.Context, userID, date string, limit int) (int, error) {
	var remaining int
	err := s.db.QueryRowContext(ctx,
		`SELECT slots_remaining FROM free_slot_records WHERE user_id = ? AND date = ?`,
		userID, date).Scan(&remaining)
	if errors.Is(err, sql.ErrNoRows) {
		return limit, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get free slots: %w", err)
	}
	return remaining, nil
}

// ConsumeOne spends one slot as a single upsert-and-decrement. The WHERE
// guard on the conflict branch floors the quota at zero, so two concurrent
// consumers of the last slot resolve to one success and one conflict.
func (s *FreeSlotStore) ConsumeOne(ctx context.Context, userID, date string, limit int) error {
	if limit <= 0 {
		return fault.New(fault.KindConflict, "complimentary slot quota exhausted")
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO free_slot_records (user_id, date, slots_remaining) VALUES (?, ?, ?)
		ON CONFLICT(user_id, date) DO UPDATE SET slots_remaining = slots_remaining - 1
		WHERE slots_remaining > 0`,
		userID, date, limit-1)
	if err != nil {
		return fmt.Errorf("consume free slot: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fault.New(fault.KindConflict, "complimentary slot quota exhausted")
	}
	return nil
}
