package tournament

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/futsalmandu/futsalmandu/internal/notify"
)

// DeriveStatus computes the status a tournament should hold at the given
// instant. Terminal statuses are sticky: once cancelled or completed, the
// clock never moves a tournament again. The low-teams check runs before the
// time checks so a tournament that never reached its minimum is cancelled
// even if its start time has passed.
func DeriveStatus(t *Tournament, now time.Time) Status {
	if t.Status.Terminal() {
		return t.Status
	}
	if now.After(t.RegistrationDeadline) && t.RegisteredTeams < t.MinTeams {
		return StatusCancelledLowTeams
	}
	if now.After(t.EndAt) {
		return StatusCompleted
	}
	if !now.Before(t.StartAt) {
		return StatusOngoing
	}
	return StatusUpcoming
}

// TournamentStore persists tournaments. TransitionStatus is a compare-and-set
// on the current status so two concurrent clock ticks cannot both observe a
// transition.
type TournamentStore interface {
	Get(ctx context.Context, id string) (*Tournament, error)
	ListUnfinished(ctx context.Context) ([]*Tournament, error)
	TransitionStatus(ctx context.Context, id string, from, to Status, at time.Time) (bool, error)
	SaveBracket(ctx context.Context, id string, b *Bracket, at time.Time) error
}

// StatusClock advances tournament statuses as time passes. It is driven by
// the scheduler and is safe to tick as often as desired: each transition is
// applied and announced at most once.
type StatusClock struct {
	tournaments   TournamentStore
	registrations RegistrationStore
	notifier      notify.Notifier
	clock         Clock
}

func NewStatusClock(tournaments TournamentStore, registrations RegistrationStore, notifier notify.Notifier, clock Clock) *StatusClock {
	if clock == nil {
		clock = realClock{}
	}
	return &StatusClock{
		tournaments:   tournaments,
		registrations: registrations,
		notifier:      notifier,
		clock:         clock,
	}
}

// Tick re-derives the status of every unfinished tournament and persists any
// transition. Participants and the organizer are notified once per
// transition; the compare-and-set guards against a concurrent tick double
// announcing.
func (sc *StatusClock) Tick(ctx context.Context) error {
	now := sc.clock.Now().UTC()
	list, err := sc.tournaments.ListUnfinished(ctx)
	if err != nil {
		return fmt.Errorf("list unfinished tournaments: %w", err)
	}

	for _, t := range list {
		next := DeriveStatus(t, now)
		if next == t.Status {
			continue
		}
		applied, err := sc.tournaments.TransitionStatus(ctx, t.ID, t.Status, next, now)
		if err != nil {
			log.Ctx(ctx).Error().Err(err).
				Str("component", "status_clock").
				Str("tournament_id", t.ID).
				Msg("Failed to persist status transition")
			continue
		}
		if !applied {
			// Another tick already moved it.
			continue
		}
		log.Ctx(ctx).Info().
			Str("component", "status_clock").
			Str("tournament_id", t.ID).
			Str("from", string(t.Status)).
			Str("to", string(next)).
			Str("decision", "status_transition").
			Msg("Tournament status advanced")
		sc.announce(ctx, t, next)
	}
	return nil
}

func (sc *StatusClock) announce(ctx context.Context, t *Tournament, next Status) {
	var title, body, category string
	switch next {
	case StatusOngoing:
		title = "Tournament started"
		body = fmt.Sprintf("%s is underway. Check the bracket for your first match.", t.Name)
		category = notify.CategoryTournamentOngoing
	case StatusCompleted:
		title = "Tournament finished"
		body = fmt.Sprintf("%s has concluded. Thanks for playing!", t.Name)
		category = notify.CategoryTournamentCompleted
	case StatusCancelledLowTeams:
		title = "Tournament cancelled"
		body = fmt.Sprintf("%s was cancelled because not enough teams registered.", t.Name)
		category = notify.CategoryTournamentCancelled
	default:
		return
	}

	recipients := map[string]bool{t.OrganizerID: true}
	regs, err := sc.registrations.ListActive(ctx, t.ID)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).
			Str("component", "status_clock").
			Str("tournament_id", t.ID).
			Msg("Failed to list participants for announcement")
	} else {
		for _, r := range regs {
			recipients[r.UserID] = true
		}
	}

	for userID := range recipients {
		sc.notifier.Notify(ctx, notify.Notification{
			UserID:   userID,
			Title:    title,
			Body:     body,
			Category: category,
		})
	}
}
