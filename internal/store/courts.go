package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/futsalmandu/futsalmandu/internal/booking"
	"github.com/futsalmandu/futsalmandu/internal/db"
	"github.com/futsalmandu/futsalmandu/internal/fault"
)

// CourtStore is the SQLite court repository.
type CourtStore struct {
	db *db.DB
}

func NewCourtStore(database *db.DB) *CourtStore {
	return &CourtStore{db: database}
}

func (s *CourtStore) Create(ctx context.Context, c *booking.Court) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO courts (
			id, name, opening_time, closing_time, price_hourly,
			peak_enabled, peak_start, peak_end, peak_rate,
			off_peak_enabled, off_peak_start, off_peak_end, off_peak_rate,
			require_prepayment
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Name, c.OpeningTime, c.ClosingTime, c.PriceHourly,
		c.Peak.Enabled, c.Peak.Start, c.Peak.End, c.Peak.Rate,
		c.OffPeak.Enabled, c.OffPeak.Start, c.OffPeak.End, c.OffPeak.Rate,
		c.RequirePrepayment,
	)
	if err != nil {
		return conflictOr(err, "court already exists")
	}
	return nil
}

func (s *CourtStore) GetCourt(ctx context.Context, id string) (*booking.Court, error) {
	var c booking.Court
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, opening_time, closing_time, price_hourly,
			peak_enabled, peak_start, peak_end, peak_rate,
			off_peak_enabled, off_peak_start, off_peak_end, off_peak_rate,
			require_prepayment
		FROM courts WHERE id = ?`, id).Scan(
		&c.ID, &c.Name, &c.OpeningTime, &c.ClosingTime, &c.PriceHourly,
		&c.Peak.Enabled, &c.Peak.Start, &c.Peak.End, &c.Peak.Rate,
		&c.OffPeak.Enabled, &c.OffPeak.Start, &c.OffPeak.End, &c.OffPeak.Rate,
		&c.RequirePrepayment,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fault.Newf(fault.KindNotFound, "court %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get court: %w", err)
	}
	return &c, nil
}

// ListCourts returns all courts ordered by name.
func (s *CourtStore) ListCourts(ctx context.Context) ([]*booking.Court, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, opening_time, closing_time, price_hourly,
			peak_enabled, peak_start, peak_end, peak_rate,
			off_peak_enabled, off_peak_start, off_peak_end, off_peak_rate,
			require_prepayment
		FROM courts ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list courts: %w", err)
	}
	defer rows.Close()

	var out []*booking.Court
	for rows.Next() {
		var c booking.Court
		if err := rows.Scan(
			&c.ID, &c.Name, &c.OpeningTime, &c.ClosingTime, &c.PriceHourly,
			&c.Peak.Enabled, &c.Peak.Start, &c.Peak.End, &c.Peak.Rate,
			&c.OffPeak.Enabled, &c.OffPeak.Start, &c.OffPeak.End, &c.OffPeak.Rate,
			&c.RequirePrepayment,
		); err != nil {
			return nil, fmt.Errorf("scan court: %w", err)
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}
