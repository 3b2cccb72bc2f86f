package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/futsalmandu/futsalmandu/internal/booking"
	"github.com/futsalmandu/futsalmandu/internal/db"
	"github.com/futsalmandu/futsalmandu/internal/fault"
)

// BookingStore is the SQLite booking repository. Slot exclusivity comes from
// idx_bookings_active_slot: inserting a second active booking for the same
// (court, date, start) fails at the engine level no matter how many
// goroutines race.
type BookingStore struct {
	db *db.DB
}

func NewBookingStore(database *db.DB) *BookingStore {
	return &BookingStore{db: database}
}

const bookingColumns = `id, court_id, user_id, date, start_time, end_time,
	price, price_type, status, payment_status, payment_method,
	purchase_order_id, gateway_txn_ref, gateway_transaction_id, points_used,
	reservation_expires_at, reminder_sent, is_deleted_from_history,
	cancellation_reason, cancelled_at, created_at, updated_at`

func scanBooking(row interface{ Scan(...any) error }) (*booking.Booking, error) {
	var (
		b          booking.Booking
		poID, pidx sql.NullString
		expiresAt  sql.NullInt64
		cancelled  sql.NullInt64
		created    int64
		updated    int64
	)
	err := row.Scan(
		&b.ID, &b.CourtID, &b.UserID, &b.Date, &b.StartTime, &b.EndTime,
		&b.Price, &b.PriceType, &b.Status, &b.PaymentStatus, &b.PaymentMethod,
		&poID, &pidx, &b.GatewayTransactionID, &b.PointsUsed,
		&expiresAt, &b.ReminderSent, &b.IsDeletedFromHistory,
		&b.CancellationReason, &cancelled, &created, &updated,
	)
	if err != nil {
		return nil, err
	}
	b.PurchaseOrderID = poID.String
	b.GatewayRef = pidx.String
	b.ReservationExpiresAt = unixPtr(expiresAt)
	b.CancelledAt = unixPtr(cancelled)
	b.CreatedAt = time.Unix(created, 0).UTC()
	b.UpdatedAt = time.Unix(updated, 0).UTC()
	return &b, nil
}

func (s *BookingStore) Create(ctx context.Context, b *booking.Booking) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bookings (
			id, court_id, user_id, date, start_time, end_time,
			price, price_type, status, payment_status, payment_method,
			purchase_order_id, gateway_txn_ref, gateway_transaction_id,
			points_used, reservation_expires_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.CourtID, b.UserID, b.Date, b.StartTime, b.EndTime,
		b.Price, b.PriceType, b.Status, b.PaymentStatus, b.PaymentMethod,
		nullStr(b.PurchaseOrderID), nullStr(b.GatewayRef), b.GatewayTransactionID,
		b.PointsUsed, nullUnix(b.ReservationExpiresAt),
		b.CreatedAt.UTC().Unix(), b.UpdatedAt.UTC().Unix(),
	)
	if err != nil {
		return conflictOr(err, "slot already booked")
	}
	return nil
}

func (s *BookingStore) Get(ctx context.Context, id string) (*booking.Booking, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, id)
	b, err := scanBooking(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fault.Newf(fault.KindNotFound, "booking %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get booking: %w", err)
	}
	return b, nil
}

func (s *BookingStore) GetByGatewayRef(ctx context.Context, pidx string) (*booking.Booking, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE gateway_txn_ref = ?`, pidx)
	b, err := scanBooking(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fault.Newf(fault.KindNotFound, "no booking for payment reference %s", pidx)
	}
	if err != nil {
		return nil, fmt.Errorf("get booking by gateway ref: %w", err)
	}
	return b, nil
}

// SlotTaken reports whether an active booking already claims the slot. This
// is advisory; the unique index makes the final call on insert.
func (s *BookingStore) SlotTaken(ctx context.Context, courtID, date, startTime string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(1) FROM bookings
		WHERE court_id = ? AND date = ? AND start_time = ? AND status != 'cancelled'`,
		courtID, date, startTime).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check slot: %w", err)
	}
	return n > 0, nil
}

func (s *BookingStore) AttachGatewayRef(ctx context.Context, id, pidx string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE bookings SET gateway_txn_ref = ?, updated_at = ? WHERE id = ?`,
		pidx, at.UTC().Unix(), id)
	return err
}

// MarkPaid confirms a pending booking and clears its expiry in one
// statement. The guards make it a compare-and-set: the first reconciler wins
// and every later call reports false. Requiring the pending status keeps a
// late callback from resurrecting a booking the expiry sweep already
// cancelled (and whose slot may have been rebooked).
func (s *BookingStore) MarkPaid(ctx context.Context, id, transactionID string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE bookings
		SET status = 'confirmed', payment_status = 'paid',
			gateway_transaction_id = ?, reservation_expires_at = NULL, updated_at = ?
		WHERE id = ? AND status = 'pending' AND payment_status != 'paid'`,
		transactionID, at.UTC().Unix(), id)
	if err != nil {
		return false, fmt.Errorf("mark booking paid: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MarkFailed cancels an unpaid booking after a failed or rejected payment.
// Paid bookings are never touched, so a late expiry sweep or stale callback
// cannot undo a confirmed reservation.
func (s *BookingStore) MarkFailed(ctx context.Context, id, reason string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE bookings
		SET status = 'cancelled', payment_status = 'failed',
			cancellation_reason = ?, cancelled_at = ?, updated_at = ?
		WHERE id = ? AND payment_status != 'paid'`,
		reason, at.UTC().Unix(), at.UTC().Unix(), id)
	return err
}

func (s *BookingStore) Cancel(ctx context.Context, id, reason string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE bookings
		SET status = 'cancelled', cancellation_reason = ?, cancelled_at = ?, updated_at = ?
		WHERE id = ? AND status != 'cancelled'`,
		reason, at.UTC().Unix(), at.UTC().Unix(), id)
	return err
}

// ExpirePending releases slots whose payment hold has lapsed. Paid bookings
// are excluded by the guard even if their expiry column were somehow stale.
func (s *BookingStore) ExpirePending(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE bookings
		SET status = 'cancelled', payment_status = 'failed',
			cancellation_reason = 'reservation expired', cancelled_at = ?, updated_at = ?
		WHERE status = 'pending'
			AND payment_status != 'paid'
			AND reservation_expires_at IS NOT NULL
			AND reservation_expires_at < ?`,
		now.UTC().Unix(), now.UTC().Unix(), now.UTC().Unix())
	if err != nil {
		return 0, fmt.Errorf("expire pending bookings: %w", err)
	}
	return res.RowsAffected()
}

// CompleteFinished moves confirmed bookings whose end time has passed into
// the completed state. Dates and times are zero-padded, so lexicographic
// comparison of "YYYY-MM-DDTHH:MM" strings matches chronological order.
func (s *BookingStore) CompleteFinished(ctx context.Context, now time.Time) (int64, error) {
	cutoff := now.UTC().Format("2006-01-02T15:04")
	res, err := s.db.ExecContext(ctx, `
		UPDATE bookings
		SET status = 'completed', updated_at = ?
		WHERE status = 'confirmed' AND (date || 'T' || end_time) < ?`,
		now.UTC().Unix(), cutoff)
	if err != nil {
		return 0, fmt.Errorf("complete finished bookings: %w", err)
	}
	return res.RowsAffected()
}

// DueReminders lists confirmed bookings starting within the window that have
// not been reminded yet.
func (s *BookingStore) DueReminders(ctx context.Context, from, to time.Time) ([]*booking.Booking, error) {
	lo := from.UTC().Format("2006-01-02T15:04")
	hi := to.UTC().Format("2006-01-02T15:04")
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+bookingColumns+` FROM bookings
		WHERE status = 'confirmed' AND reminder_sent = 0
			AND (date || 'T' || start_time) >= ? AND (date || 'T' || start_time) < ?`,
		lo, hi)
	if err != nil {
		return nil, fmt.Errorf("list due reminders: %w", err)
	}
	defer rows.Close()

	var out []*booking.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("scan booking: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *BookingStore) MarkReminderSent(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE bookings SET reminder_sent = 1, updated_at = ? WHERE id = ?`,
		at.UTC().Unix(), id)
	return err
}

// ListForUser returns a user's bookings newest first, hiding records the
// user removed from their history.
func (s *BookingStore) ListForUser(ctx context.Context, userID string) ([]*booking.Booking, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+bookingColumns+` FROM bookings
		WHERE user_id = ? AND is_deleted_from_history = 0
		ORDER BY date DESC, start_time DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}
	defer rows.Close()

	var out []*booking.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("scan booking: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// HideFromHistory logically removes a booking from the owner's history. The
// record itself is kept; exclusivity and audit both need it.
func (s *BookingStore) HideFromHistory(ctx context.Context, id, userID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE bookings SET is_deleted_from_history = 1, updated_at = ?
		WHERE id = ? AND user_id = ?`,
		at.UTC().Unix(), id, userID)
	if err != nil {
		return fmt.Errorf("hide booking: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fault.Newf(fault.KindNotFound, "booking %s not found", id)
	}
	return nil
}
