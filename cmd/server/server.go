// cmd/server/server.go
package main

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/futsalmandu/futsalmandu/internal/api"
	"github.com/futsalmandu/futsalmandu/internal/booking"
	"github.com/futsalmandu/futsalmandu/internal/config"
	"github.com/futsalmandu/futsalmandu/internal/db"
	"github.com/futsalmandu/futsalmandu/internal/freeslot"
	"github.com/futsalmandu/futsalmandu/internal/khalti"
	"github.com/futsalmandu/futsalmandu/internal/loyalty"
	"github.com/futsalmandu/futsalmandu/internal/notify"
	"github.com/futsalmandu/futsalmandu/internal/ratelimit"
	"github.com/futsalmandu/futsalmandu/internal/scheduler"
	"github.com/futsalmandu/futsalmandu/internal/store"
	"github.com/futsalmandu/futsalmandu/internal/tournament"
)

func newServer(cfg *config.Config, database *db.DB) (*http.Server, error) {
	bookings := store.NewBookingStore(database)
	courts := store.NewCourtStore(database)
	tournaments := store.NewTournamentStore(database)
	registrations := store.NewRegistrationStore(database)

	points := loyalty.NewLedger(store.NewLoyaltyStore(database))
	freeSlots := freeslot.NewLedger(store.NewFreeSlotStore(database), cfg.Booking.FreeSlotsPerDay)

	gateway, err := khalti.New(khalti.Config{
		BaseURL:   cfg.Khalti.BaseURL,
		SecretKey: cfg.Khalti.SecretKey,
		SiteURL:   cfg.Khalti.SiteURL,
		Timeout:   cfg.Khalti.Timeout(),
	})
	if err != nil {
		return nil, fmt.Errorf("build gateway client: %w", err)
	}

	notifier, err := newNotifier(cfg)
	if err != nil {
		return nil, fmt.Errorf("build notifier: %w", err)
	}

	coordinator := booking.NewCoordinator(bookings, courts, points, freeSlots, gateway, notifier, booking.Options{
		ReservationTTL: cfg.Booking.ReservationTTL(),
		PointsDivisor:  int64(cfg.Booking.PointsDivisor),
		RewardDivisor:  100,
		ReturnURL:      cfg.Khalti.ReturnURL,
	})

	registrar := tournament.NewRegistrar(tournaments, registrations, gateway, notifier, nil, tournament.RegistrarOptions{
		ReservationTTL: cfg.Booking.ReservationTTL(),
		ReturnURL:      cfg.Khalti.ReturnURL,
	})

	statusClock := tournament.NewStatusClock(tournaments, registrations, notifier, nil)

	if err := registerJobs(cfg, bookings, registrations, statusClock, notifier); err != nil {
		return nil, fmt.Errorf("register jobs: %w", err)
	}

	router := http.NewServeMux()
	handlers := &api.Handlers{
		Coordinator: coordinator,
		Registrar:   registrar,
		Bookings:    bookings,
		Courts:      courts,
		Loyalty:     points,
		Tournaments: tournaments,
		Limiter:     ratelimit.New(nil),
	}
	handlers.Register(router)

	router.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	handler := api.ChainMiddleware(
		router,
		api.WithLogging,
		api.WithRecovery,
		api.WithRequestID,
	)

	return &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.App.Port),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}, nil
}

func registerJobs(cfg *config.Config, bookings *store.BookingStore, registrations *store.RegistrationStore, statusClock *tournament.StatusClock, notifier notify.Notifier) error {
	if err := scheduler.RegisterExpirySweep(cfg.Jobs.ExpirySweepCron, bookings, registrations); err != nil {
		return err
	}
	if err := scheduler.RegisterCompletionSweep(cfg.Jobs.CompletionSweepCron, bookings); err != nil {
		return err
	}
	if err := scheduler.RegisterStatusClock(cfg.Jobs.StatusClockCron, statusClock); err != nil {
		return err
	}
	return scheduler.RegisterBookingReminders(cfg.Jobs.ReminderCron, bookings, notifier, cfg.Booking.ReminderHoursBefore)
}

func newNotifier(cfg *config.Config) (notify.Notifier, error) {
	if cfg.Notifications.Backend != "ses" {
		return notify.LogNotifier{}, nil
	}
	sesClient, err := notify.NewSESClient(
		cfg.Notifications.AccessKeyID,
		cfg.Notifications.SecretAccessKey,
		cfg.Notifications.SESRegion,
		cfg.Notifications.SESSender,
	)
	if err != nil {
		return nil, err
	}
	// The identity provider issues email-shaped user ids, so the directory is
	// a passthrough for them.
	directory := notify.DirectoryFunc(func(ctx context.Context, userID string) (string, error) {
		if !strings.Contains(userID, "@") {
			return "", fmt.Errorf("no email address for user %s", userID)
		}
		return userID, nil
	})
	return notify.NewEmailNotifier(sesClient, directory), nil
}
