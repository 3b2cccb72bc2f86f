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

// TournamentStore is the SQLite tournament repository. The bracket is stored
// as a JSON document; registered_teams is only ever moved by the guarded
// counter updates in RegistrationStore.
type TournamentStore struct {
	db *db.DB
}

func NewTournamentStore(database *db.DB) *TournamentStore {
	return &TournamentStore{db: database}
}

const tournamentColumns = `id, name, description, start_at, end_at,
	registration_deadline, min_teams, max_teams, team_size, registration_fee,
	status, registered_teams, organizer_id, bracket_json, created_at, updated_at`

func scanTournament(row interface{ Scan(...any) error }) (*tournament.Tournament, error) {
	var (
		t                tournament.Tournament
		startAt, endAt   int64
		deadline         int64
		bracketJSON      sql.NullString
		created, updated int64
	)
	err := row.Scan(
		&t.ID, &t.Name, &t.Description, &startAt, &endAt,
		&deadline, &t.MinTeams, &t.MaxTeams, &t.TeamSize, &t.RegistrationFee,
		&t.Status, &t.RegisteredTeams, &t.OrganizerID, &bracketJSON, &created, &updated,
	)
	if err != nil {
		return nil, err
	}
	t.StartAt = timeFromUnix(startAt)
	t.EndAt = timeFromUnix(endAt)
	t.RegistrationDeadline = timeFromUnix(deadline)
	t.CreatedAt = timeFromUnix(created)
	t.UpdatedAt = timeFromUnix(updated)
	if bracketJSON.Valid && bracketJSON.String != "" {
		var b tournament.Bracket
		if err := json.Unmarshal([]byte(bracketJSON.String), &b); err != nil {
			return nil, fmt.Errorf("decode bracket: %w", err)
		}
		t.Bracket = &b
	}
	return &t, nil
}

func (s *TournamentStore) Create(ctx context.Context, t *tournament.Tournament) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tournaments (
			id, name, description, start_at, end_at, registration_deadline,
			min_teams, max_teams, team_size, registration_fee,
			status, registered_teams, organizer_id, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Name, t.Description,
		t.StartAt.UTC().Unix(), t.EndAt.UTC().Unix(), t.RegistrationDeadline.UTC().Unix(),
		t.MinTeams, t.MaxTeams, t.TeamSize, t.RegistrationFee,
		t.Status, t.RegisteredTeams, t.OrganizerID,
		t.CreatedAt.UTC().Unix(), t.UpdatedAt.UTC().Unix(),
	)
	if err != nil {
		return conflictOr(err, "tournament already exists")
	}
	return nil
}

func (s *TournamentStore) Get(ctx context.Context, id string) (*tournament.Tournament, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+tournamentColumns+` FROM tournaments WHERE id = ?`, id)
	t, err := scanTournament(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fault.Newf(fault.KindNotFound, "tournament %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get tournament: %w", err)
	}
	return t, nil
}

// ListUnfinished returns tournaments the status clock still needs to watch.
func (s *TournamentStore) ListUnfinished(ctx context.Context) ([]*tournament.Tournament, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+tournamentColumns+` FROM tournaments
		WHERE status NOT IN ('completed', 'cancelled_low_teams')
		ORDER BY start_at`)
	if err != nil {
		return nil, fmt.Errorf("list unfinished tournaments: %w", err)
	}
	defer rows.Close()

	var out []*tournament.Tournament
	for rows.Next() {
		t, err := scanTournament(rows)
		if err != nil {
			return nil, fmt.Errorf("scan tournament: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// TransitionStatus moves a tournament between statuses only when it still
// holds the expected one. Concurrent clock ticks resolve to a single winner.
func (s *TournamentStore) TransitionStatus(ctx context.Context, id string, from, to tournament.Status, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tournaments SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		to, at.UTC().Unix(), id, from)
	if err != nil {
		return false, fmt.Errorf("transition tournament status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *TournamentStore) SaveBracket(ctx context.Context, id string, b *tournament.Bracket, at time.Time) error {
	encoded, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("encode bracket: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE tournaments SET bracket_json = ?, updated_at = ? WHERE id = ?`,
		string(encoded), at.UTC().Unix(), id)
	if err != nil {
		return fmt.Errorf("save bracket: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fault.Newf(fault.KindNotFound, "tournament %s not found", id)
	}
	return nil
}
