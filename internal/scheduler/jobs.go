package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog/log"

	"github.com/futsalmandu/futsalmandu/internal/booking"
	"github.com/futsalmandu/futsalmandu/internal/notify"
	"github.com/futsalmandu/futsalmandu/internal/tournament"
)

const (
	jobTimeout     = 2 * time.Minute
	reminderWindow = 15 * time.Minute
)

// BookingSweepStore is the slice of the booking repository the periodic
// sweeps need.
type BookingSweepStore interface {
	ExpirePending(ctx context.Context, now time.Time) (int64, error)
	CompleteFinished(ctx context.Context, now time.Time) (int64, error)
	DueReminders(ctx context.Context, from, to time.Time) ([]*booking.Booking, error)
	MarkReminderSent(ctx context.Context, id string, at time.Time) error
}

// RegistrationSweepStore expires lapsed fee holds on tournament entries.
type RegistrationSweepStore interface {
	ExpirePending(ctx context.Context, now time.Time) (int64, error)
}

// RegisterExpirySweep releases slots and tournament spots whose payment hold
// has lapsed. The sweep is idempotent; running it twice over the same window
// changes nothing the second time.
func RegisterExpirySweep(cronExpr string, bookings BookingSweepStore, registrations RegistrationSweepStore) error {
	jobName := "reservation_expiry_sweep"
	jobLogger := log.With().
		Str("component", "expiry_sweep_job").
		Str("job_name", jobName).
		Logger()

	_, err := AddJob(jobName, cronExpr, func() {
		ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		defer cancel()
		ctx = jobLogger.WithContext(ctx)

		now := time.Now().UTC()
		expired, err := bookings.ExpirePending(ctx, now)
		if err != nil {
			jobLogger.Error().Err(err).Msg("Failed to expire pending bookings")
		} else if expired > 0 {
			jobLogger.Info().Int64("expired_bookings", expired).Msg("Released expired booking holds")
		}

		if registrations == nil {
			return
		}
		expired, err = registrations.ExpirePending(ctx, now)
		if err != nil {
			jobLogger.Error().Err(err).Msg("Failed to expire pending registrations")
		} else if expired > 0 {
			jobLogger.Info().Int64("expired_registrations", expired).Msg("Released expired registration holds")
		}
	}, gocron.WithSingletonMode(gocron.LimitModeWait))
	if err != nil {
		return fmt.Errorf("add expiry sweep job: %w", err)
	}
	return nil
}

// RegisterCompletionSweep moves confirmed bookings whose slot has passed into
// the completed state.
func RegisterCompletionSweep(cronExpr string, bookings BookingSweepStore) error {
	jobName := "booking_completion_sweep"
	jobLogger := log.With().
		Str("component", "completion_sweep_job").
		Str("job_name", jobName).
		Logger()

	_, err := AddJob(jobName, cronExpr, func() {
		ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		defer cancel()
		ctx = jobLogger.WithContext(ctx)

		completed, err := bookings.CompleteFinished(ctx, time.Now().UTC())
		if err != nil {
			jobLogger.Error().Err(err).Msg("Failed to complete finished bookings")
			return
		}
		if completed > 0 {
			jobLogger.Info().Int64("completed_bookings", completed).Msg("Marked finished bookings completed")
		}
	}, gocron.WithSingletonMode(gocron.LimitModeWait))
	if err != nil {
		return fmt.Errorf("add completion sweep job: %w", err)
	}
	return nil
}

// RegisterStatusClock ticks the tournament status clock.
func RegisterStatusClock(cronExpr string, clock *tournament.StatusClock) error {
	jobName := "tournament_status_clock"
	jobLogger := log.With().
		Str("component", "status_clock_job").
		Str("job_name", jobName).
		Logger()

	_, err := AddJob(jobName, cronExpr, func() {
		ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		defer cancel()
		ctx = jobLogger.WithContext(ctx)

		if err := clock.Tick(ctx); err != nil {
			jobLogger.Error().Err(err).Msg("Tournament status tick failed")
		}
	}, gocron.WithSingletonMode(gocron.LimitModeWait))
	if err != nil {
		return fmt.Errorf("add status clock job: %w", err)
	}
	return nil
}

// RegisterBookingReminders notifies players ahead of their confirmed
// bookings. Each booking is reminded at most once; the sent flag is only set
// after the notification is handed to the notifier.
func RegisterBookingReminders(cronExpr string, bookings BookingSweepStore, notifier notify.Notifier, hoursBefore int) error {
	jobName := "booking_reminders"
	jobLogger := log.With().
		Str("component", "booking_reminders_job").
		Str("job_name", jobName).
		Logger()

	_, err := AddJob(jobName, cronExpr, func() {
		ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		defer cancel()
		ctx = jobLogger.WithContext(ctx)

		now := time.Now().UTC()
		from := now.Add(time.Duration(hoursBefore) * time.Hour)
		due, err := bookings.DueReminders(ctx, from, from.Add(reminderWindow))
		if err != nil {
			jobLogger.Error().Err(err).Msg("Failed to load due reminders")
			return
		}

		for _, b := range due {
			notifier.Notify(ctx, notify.Notification{
				UserID:   b.UserID,
				Title:    "Upcoming booking",
				Body:     fmt.Sprintf("Reminder: your court is booked for %s %s-%s.", b.Date, b.StartTime, b.EndTime),
				Category: notify.CategoryBookingReminder,
			})
			if err := bookings.MarkReminderSent(ctx, b.ID, now); err != nil {
				jobLogger.Error().Err(err).Str("booking_id", b.ID).Msg("Failed to mark reminder sent")
			}
		}
	}, gocron.WithSingletonMode(gocron.LimitModeWait))
	if err != nil {
		return fmt.Errorf("add booking reminder job: %w", err)
	}
	return nil
}
