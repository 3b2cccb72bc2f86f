package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/futsalmandu/futsalmandu/internal/db"
	"github.com/futsalmandu/futsalmandu/internal/fault"
	"github.com/futsalmandu/futsalmandu/internal/tournament"
)

// RegistrationStore is the SQLite registration repository. Team and captain
// exclusivity come from partial unique indexes; the registered_teams counter
// on the tournament row moves in the same transaction as the registration
// it accounts for.
type RegistrationStore struct {
	db *db.DB
}

func NewRegistrationStore(database *db.DB) *RegistrationStore {
	return &RegistrationStore{db: database}
}

const registrationColumns = `id, tournament_id, user_id, team_name,
	players_json, status, payment_status, purchase_order_id, gateway_txn_ref,
	gateway_transaction_id, reservation_expires_at, created_at, updated_at`

func scanRegistration(row interface{ Scan(...any) error }) (*tournament.Registration, error) {
	var (
		r                tournament.Registration
		playersJSON      string
		poID, pidx       sql.NullString
		expiresAt        sql.NullInt64
		created, updated int64
	)
	err := row.Scan(
		&r.ID, &r.TournamentID, &r.UserID, &r.TeamName,
		&playersJSON, &r.Status, &r.PaymentStatus, &poID, &pidx,
		&r.GatewayTxnID, &expiresAt, &created, &updated,
	)
	if err != nil {
		return nil, err
	}
	if playersJSON != "" {
		if err := json.Unmarshal([]byte(playersJSON), &r.Players); err != nil {
			return nil, fmt.Errorf("decode players: %w", err)
		}
	}
	r.PurchaseOrderID = poID.String
	r.GatewayRef = pidx.String
	r.ExpiresAt = unixPtr(expiresAt)
	r.CreatedAt = timeFromUnix(created)
	r.UpdatedAt = timeFromUnix(updated)
	return &r, nil
}

func (s *RegistrationStore) insert(ctx context.Context, q interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
}, r *tournament.Registration) error {
	players, err := json.Marshal(r.Players)
	if err != nil {
		return fmt.Errorf("encode players: %w", err)
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO tournament_registrations (
			id, tournament_id, user_id, team_name, players_json,
			status, payment_status, purchase_order_id, gateway_txn_ref,
			gateway_transaction_id, reservation_expires_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.TournamentID, r.UserID, r.TeamName, string(players),
		r.Status, r.PaymentStatus, nullStr(r.PurchaseOrderID), nullStr(r.GatewayRef),
		r.GatewayTxnID, nullUnix(r.ExpiresAt),
		r.CreatedAt.UTC().Unix(), r.UpdatedAt.UTC().Unix(),
	)
	if err != nil {
		return conflictOr(err, "team or captain already registered")
	}
	return nil
}

// Create inserts a pending registration. It does not touch the
// registered_teams counter: a spot is only counted once the fee settles.
func (s *RegistrationStore) Create(ctx context.Context, r *tournament.Registration) error {
	return s.insert(ctx, s.db, r)
}

// CreateActive inserts an already-active registration and claims a spot in
// the same transaction. Used for free tournaments.
func (s *RegistrationStore) CreateActive(ctx context.Context, r *tournament.Registration) error {
	return s.db.RunInTx(ctx, func(tx *sql.Tx) error {
		if err := s.insert(ctx, tx, r); err != nil {
			return err
		}
		return claimSpot(ctx, tx, r.TournamentID)
	})
}

// claimSpot increments registered_teams while capacity remains.
func claimSpot(ctx context.Context, tx *sql.Tx, tournamentID string) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE tournaments SET registered_teams = registered_teams + 1
		WHERE id = ? AND registered_teams < max_teams`, tournamentID)
	if err != nil {
		return fmt.Errorf("claim tournament spot: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fault.New(fault.KindConflict, "tournament is full")
	}
	return nil
}

func (s *RegistrationStore) Get(ctx context.Context, id string) (*tournament.Registration, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+registrationColumns+` FROM tournament_registrations WHERE id = ?`, id)
	r, err := scanRegistration(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fault.Newf(fault.KindNotFound, "registration %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get registration: %w", err)
	}
	return r, nil
}

func (s *RegistrationStore) GetByGatewayRef(ctx context.Context, pidx string) (*tournament.Registration, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+registrationColumns+` FROM tournament_registrations WHERE gateway_txn_ref = ?`, pidx)
	r, err := scanRegistration(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fault.Newf(fault.KindNotFound, "no registration for payment reference %s", pidx)
	}
	if err != nil {
		return nil, fmt.Errorf("get registration by gateway ref: %w", err)
	}
	return r, nil
}

func (s *RegistrationStore) ListActive(ctx context.Context, tournamentID string) ([]*tournament.Registration, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+registrationColumns+` FROM tournament_registrations
		WHERE tournament_id = ? AND status = 'active'
		ORDER BY created_at, id`, tournamentID)
	if err != nil {
		return nil, fmt.Errorf("list registrations: %w", err)
	}
	defer rows.Close()

	var out []*tournament.Registration
	for rows.Next() {
		r, err := scanRegistration(rows)
		if err != nil {
			return nil, fmt.Errorf("scan registration: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *RegistrationStore) AttachGatewayRef(ctx context.Context, id, pidx string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE tournament_registrations SET gateway_txn_ref = ?, updated_at = ? WHERE id = ?`,
		pidx, at.UTC().Unix(), id)
	return err
}

// MarkPaid activates a pending registration and claims its spot in one
// transaction. The payment_status guard makes activation a compare-and-set,
// so the spot is counted exactly once under duplicate callbacks.
func (s *RegistrationStore) MarkPaid(ctx context.Context, id, transactionID string, at time.Time) (bool, error) {
	var updated bool
	err := s.db.RunInTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE tournament_registrations
			SET status = 'active', payment_status = 'paid',
				gateway_transaction_id = ?, reservation_expires_at = NULL, updated_at = ?
			WHERE id = ? AND payment_status != 'paid'`,
			transactionID, at.UTC().Unix(), id)
		if err != nil {
			return fmt.Errorf("mark registration paid: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		var tournamentID string
		if err := tx.QueryRowContext(ctx,
			`SELECT tournament_id FROM tournament_registrations WHERE id = ?`, id).Scan(&tournamentID); err != nil {
			return fmt.Errorf("resolve registration tournament: %w", err)
		}
		if err := claimSpot(ctx, tx, tournamentID); err != nil {
			return err
		}
		updated = true
		return nil
	})
	return updated, err
}

// MarkFailed withdraws an unpaid registration after a failed or rejected fee
// payment. Paid registrations are never touched.
func (s *RegistrationStore) MarkFailed(ctx context.Context, id, reason string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE tournament_registrations
		SET status = 'withdrawn', payment_status = 'failed', updated_at = ?
		WHERE id = ? AND payment_status != 'paid'`,
		at.UTC().Unix(), id)
	return err
}

// Withdraw removes a team and releases its spot if one was counted. Reports
// whether the registration actually changed state.
func (s *RegistrationStore) Withdraw(ctx context.Context, id string, at time.Time) (bool, error) {
	var withdrawn bool
	err := s.db.RunInTx(ctx, func(tx *sql.Tx) error {
		var status tournament.RegistrationStatus
		var tournamentID string
		err := tx.QueryRowContext(ctx,
			`SELECT status, tournament_id FROM tournament_registrations WHERE id = ?`, id).
			Scan(&status, &tournamentID)
		if errors.Is(err, sql.ErrNoRows) {
			return fault.Newf(fault.KindNotFound, "registration %s not found", id)
		}
		if err != nil {
			return fmt.Errorf("get registration status: %w", err)
		}
		if status == tournament.RegistrationWithdrawn {
			return nil
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE tournament_registrations SET status = 'withdrawn', updated_at = ? WHERE id = ?`,
			at.UTC().Unix(), id); err != nil {
			return fmt.Errorf("withdraw registration: %w", err)
		}
		if status == tournament.RegistrationActive {
			if _, err := tx.ExecContext(ctx, `
				UPDATE tournaments SET registered_teams = registered_teams - 1
				WHERE id = ? AND registered_teams > 0`, tournamentID); err != nil {
				return fmt.Errorf("release tournament spot: %w", err)
			}
		}
		withdrawn = true
		return nil
	})
	return withdrawn, err
}

// ExpirePending withdraws pending registrations whose fee hold has lapsed.
// No spot release is needed: pending registrations never held one.
func (s *RegistrationStore) ExpirePending(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tournament_registrations
		SET status = 'withdrawn', payment_status = 'failed', updated_at = ?
		WHERE status = 'pending_payment'
			AND payment_status != 'paid'
			AND reservation_expires_at IS NOT NULL
			AND reservation_expires_at < ?`,
		now.UTC().Unix(), now.UTC().Unix())
	if err != nil {
		return 0, fmt.Errorf("expire pending registrations: %w", err)
	}
	return res.RowsAffected()
}
