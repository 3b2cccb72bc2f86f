// Package notify is the one-way notification port. Delivery is fire and
// forget: implementations log failures and never block or fail the caller.
package notify

import (
	"context"

	"github.com/rs/zerolog/log"
)

// Notification categories used across the engine.
const (
	CategoryBookingConfirmed    = "booking_confirmed"
	CategoryBookingCancelled    = "booking_cancelled"
	CategoryBookingReminder     = "booking_reminder"
	CategoryPaymentFailed       = "payment_failed"
	CategoryRegistrationActive  = "registration_confirmed"
	CategoryRegistrationFailed  = "registration_failed"
	CategoryTournamentOngoing   = "tournament_started"
	CategoryTournamentCompleted = "tournament_completed"
	CategoryTournamentCancelled = "tournament_cancelled"
)

type Notification struct {
	UserID   string
	Title    string
	Body     string
	Category string
	DeepLink string
}

// Notifier delivers a notification to a user.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// LogNotifier writes notifications to the structured log. It is the default
// backend and the fallback when no delivery channel is configured.
type LogNotifier struct{}

func (LogNotifier) Notify(ctx context.Context, n Notification) {
	log.Ctx(ctx).Info().
		Str("component", "notifier").
		Str("user_id", n.UserID).
		Str("category", n.Category).
		Str("title", n.Title).
		Msg(n.Body)
}
