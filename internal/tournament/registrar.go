package tournament

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/futsalmandu/futsalmandu/internal/fault"
	"github.com/futsalmandu/futsalmandu/internal/khalti"
	"github.com/futsalmandu/futsalmandu/internal/notify"
)

// Clock abstracts time for deadline and expiry checks.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// RegistrationStore persists team registrations. CreateActive must insert
// the registration and increment the tournament's registered_teams count as
// one atomic unit; MarkPaid is a compare-and-set that activates a pending
// registration and performs the same increment exactly once. Create must
// reject a duplicate active registration for the same (tournament, team
// name) or (tournament, captain) with a fault.KindConflict error.
type RegistrationStore interface {
	Create(ctx context.Context, r *Registration) error
	CreateActive(ctx context.Context, r *Registration) error
	Get(ctx context.Context, id string) (*Registration, error)
	GetByGatewayRef(ctx context.Context, pidx string) (*Registration, error)
	ListActive(ctx context.Context, tournamentID string) ([]*Registration, error)
	AttachGatewayRef(ctx context.Context, id, pidx string, at time.Time) error
	MarkPaid(ctx context.Context, id, transactionID string, at time.Time) (bool, error)
	MarkFailed(ctx context.Context, id, reason string, at time.Time) error
	Withdraw(ctx context.Context, id string, at time.Time) (bool, error)
}

// PaymentGateway is the external payment provider port for entry fees.
type PaymentGateway interface {
	Initiate(ctx context.Context, req khalti.InitiateRequest) (*khalti.InitiateResponse, error)
	Lookup(ctx context.Context, pidx string) (*khalti.LookupResponse, error)
}

// RegistrarOptions tune the registrar.
type RegistrarOptions struct {
	// ReservationTTL is how long a pending fee payment holds a spot.
	ReservationTTL time.Duration
	// ReturnURL is where the gateway redirects the payer after checkout.
	ReturnURL string
	// Clock defaults to real time.
	Clock Clock
}

// Registrar admits teams into tournaments, settles entry fees and owns the
// bracket once registration closes. Spot capacity is guarded by the store's
// atomic counter updates.
type Registrar struct {
	tournaments   TournamentStore
	registrations RegistrationStore
	gateway       PaymentGateway
	notifier      notify.Notifier
	engine        *BracketEngine
	opts          RegistrarOptions
	clock         Clock
}

func NewRegistrar(tournaments TournamentStore, registrations RegistrationStore, gateway PaymentGateway, notifier notify.Notifier, engine *BracketEngine, opts RegistrarOptions) *Registrar {
	if opts.ReservationTTL == 0 {
		opts.ReservationTTL = 15 * time.Minute
	}
	clock := opts.Clock
	if clock == nil {
		clock = realClock{}
	}
	if engine == nil {
		engine = NewBracketEngine(nil)
	}
	return &Registrar{
		tournaments:   tournaments,
		registrations: registrations,
		gateway:       gateway,
		notifier:      notifier,
		engine:        engine,
		opts:          opts,
		clock:         clock,
	}
}

// RegisterRequest is one team's attempt to enter a tournament.
type RegisterRequest struct {
	TournamentID string
	UserID       string
	TeamName     string
	Players      []string
	Customer     *khalti.CustomerInfo
}

// RegisterResult is the committed registration plus, for fee-bearing
// tournaments, the URL the captain must be redirected to.
type RegisterResult struct {
	Registration *Registration
	PaymentURL   string
}

// RegisterTeam admits a team. Free tournaments activate immediately;
// fee-bearing ones create a pending registration that holds a spot until the
// fee is verified or the hold expires.
func (r *Registrar) RegisterTeam(ctx context.Context, req RegisterRequest) (*RegisterResult, error) {
	if req.TournamentID == "" || req.UserID == "" {
		return nil, fault.New(fault.KindValidation, "tournament id and user id are required")
	}
	if strings.TrimSpace(req.TeamName) == "" {
		return nil, fault.New(fault.KindValidation, "team name is required")
	}

	t, err := r.tournaments.Get(ctx, req.TournamentID)
	if err != nil {
		return nil, err
	}

	now := r.clock.Now().UTC()
	if t.Status != StatusUpcoming {
		return nil, fault.Newf(fault.KindConflict, "tournament is %s; registration closed", t.Status)
	}
	if now.After(t.RegistrationDeadline) {
		return nil, fault.New(fault.KindConflict, "registration deadline has passed")
	}
	if t.RegisteredTeams >= t.MaxTeams {
		return nil, fault.New(fault.KindConflict, "tournament is full")
	}
	if t.TeamSize > 0 && len(req.Players) > t.TeamSize {
		return nil, fault.Newf(fault.KindValidation, "team exceeds the %d-player limit", t.TeamSize)
	}

	logger := log.Ctx(ctx).With().
		Str("component", "registrar").
		Str("tournament_id", t.ID).
		Str("user_id", req.UserID).
		Str("team_name", req.TeamName).
		Logger()

	reg := &Registration{
		ID:           uuid.NewString(),
		TournamentID: t.ID,
		UserID:       req.UserID,
		TeamName:     strings.TrimSpace(req.TeamName),
		Players:      req.Players,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if t.RegistrationFee <= 0 {
		reg.Status = RegistrationActive
		reg.PaymentStatus = FeeUnpaid
		if err := r.registrations.CreateActive(ctx, reg); err != nil {
			return nil, err
		}
		logger.Info().Str("registration_id", reg.ID).Str("decision", "registered_free").Msg("Team registered")
		r.notifyRegistered(ctx, reg, t)
		return &RegisterResult{Registration: reg}, nil
	}

	expiry := now.Add(r.opts.ReservationTTL)
	reg.Status = RegistrationPending
	reg.PaymentStatus = FeePending
	reg.PurchaseOrderID = uuid.NewString()
	reg.ExpiresAt = &expiry
	if err := r.registrations.Create(ctx, reg); err != nil {
		return nil, err
	}

	initiation, err := r.gateway.Initiate(ctx, khalti.InitiateRequest{
		PurchaseOrderID:   reg.PurchaseOrderID,
		PurchaseOrderName: fmt.Sprintf("Entry fee: %s", t.Name),
		AmountPaisa:       t.RegistrationFee * 100,
		ReturnURL:         r.opts.ReturnURL,
		Customer:          req.Customer,
	})
	if err != nil {
		if failErr := r.registrations.MarkFailed(ctx, reg.ID, "payment initiation failed", r.clock.Now().UTC()); failErr != nil {
			logger.Error().Err(failErr).Str("registration_id", reg.ID).Msg("Failed to release registration after initiation failure")
		}
		return nil, err
	}

	if err := r.registrations.AttachGatewayRef(ctx, reg.ID, initiation.Pidx, r.clock.Now().UTC()); err != nil {
		return nil, fmt.Errorf("attach gateway reference: %w", err)
	}
	reg.GatewayRef = initiation.Pidx

	logger.Info().Str("registration_id", reg.ID).Str("pidx", initiation.Pidx).Str("decision", "pending_fee").Msg("Registration pending entry fee")
	return &RegisterResult{Registration: reg, PaymentURL: initiation.PaymentURL}, nil
}

// VerifyFeePayment reconciles a gateway callback for an entry fee. Activation
// and the registered-team count increment happen exactly once even under
// duplicate callbacks.
func (r *Registrar) VerifyFeePayment(ctx context.Context, pidx string) (*Registration, error) {
	if pidx == "" {
		return nil, fault.New(fault.KindValidation, "pidx is required")
	}

	reg, err := r.registrations.GetByGatewayRef(ctx, pidx)
	if err != nil {
		return nil, err
	}
	logger := log.Ctx(ctx).With().
		Str("component", "registrar").
		Str("registration_id", reg.ID).
		Str("pidx", pidx).
		Logger()

	if reg.PaymentStatus == FeePaid {
		logger.Debug().Str("decision", "already_paid").Msg("Duplicate fee callback ignored")
		return reg, nil
	}

	t, err := r.tournaments.Get(ctx, reg.TournamentID)
	if err != nil {
		return nil, err
	}

	lookup, err := r.gateway.Lookup(ctx, pidx)
	if err != nil {
		logger.Error().Err(err).Msg("Gateway verification failed")
		if failErr := r.registrations.MarkFailed(ctx, reg.ID, "gateway verification failed", r.clock.Now().UTC()); failErr != nil {
			logger.Error().Err(failErr).Msg("Failed to mark registration failed after gateway error")
		}
		r.notifyRegistrationFailed(ctx, reg, t, "We could not verify your entry fee payment.")
		return nil, err
	}

	if lookup.Status != khalti.StatusCompleted {
		reason := fmt.Sprintf("payment %s", strings.ToLower(lookup.Status))
		if err := r.registrations.MarkFailed(ctx, reg.ID, reason, r.clock.Now().UTC()); err != nil {
			return nil, fmt.Errorf("mark registration failed: %w", err)
		}
		logger.Info().Str("gateway_status", lookup.Status).Str("decision", "fee_failed").Msg("Gateway reported non-success status")
		r.notifyRegistrationFailed(ctx, reg, t, fmt.Sprintf("Your entry fee payment was not completed (%s).", lookup.Status))
		return nil, fault.Newf(fault.KindConflict, "payment not completed: %s", lookup.Status)
	}

	expected := t.RegistrationFee * 100
	if lookup.TotalAmount != expected {
		if err := r.registrations.MarkFailed(ctx, reg.ID, "amount mismatch", r.clock.Now().UTC()); err != nil {
			return nil, fmt.Errorf("mark registration failed: %w", err)
		}
		logger.Warn().
			Int64("expected_paisa", expected).
			Int64("reported_paisa", lookup.TotalAmount).
			Str("decision", "amount_mismatch").
			Msg("Gateway amount does not match entry fee")
		r.notifyRegistrationFailed(ctx, reg, t, "Your entry fee payment could not be accepted.")
		return nil, fault.Newf(fault.KindAmountMismatch, "expected %d paisa, gateway reported %d", expected, lookup.TotalAmount)
	}

	updated, err := r.registrations.MarkPaid(ctx, reg.ID, lookup.TransactionID, r.clock.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("mark registration paid: %w", err)
	}
	if !updated {
		logger.Debug().Str("decision", "lost_cas").Msg("Concurrent reconciliation already settled registration")
		return r.registrations.Get(ctx, reg.ID)
	}

	logger.Info().Str("transaction_id", lookup.TransactionID).Str("decision", "registered_paid").Msg("Entry fee verified, registration active")
	refreshed, err := r.registrations.Get(ctx, reg.ID)
	if err != nil {
		return nil, err
	}
	r.notifyRegistered(ctx, refreshed, t)
	return refreshed, nil
}

// Withdraw removes a team before the tournament starts. No fee refund is
// performed.
func (r *Registrar) Withdraw(ctx context.Context, registrationID, actorID string) (*Registration, error) {
	reg, err := r.registrations.Get(ctx, registrationID)
	if err != nil {
		return nil, err
	}
	if reg.UserID != actorID {
		return nil, fault.New(fault.KindValidation, "not allowed to withdraw this team")
	}
	if reg.Status == RegistrationWithdrawn {
		return reg, nil
	}

	t, err := r.tournaments.Get(ctx, reg.TournamentID)
	if err != nil {
		return nil, err
	}
	if t.Status != StatusUpcoming {
		return nil, fault.Newf(fault.KindConflict, "tournament is %s; withdrawal closed", t.Status)
	}

	if _, err := r.registrations.Withdraw(ctx, reg.ID, r.clock.Now().UTC()); err != nil {
		return nil, err
	}
	log.Ctx(ctx).Info().
		Str("component", "registrar").
		Str("registration_id", reg.ID).
		Str("tournament_id", reg.TournamentID).
		Str("decision", "withdrawn").
		Msg("Team withdrawn")
	return r.registrations.Get(ctx, reg.ID)
}

// EnsureBracket returns the tournament's bracket, generating and persisting
// it on first demand once registration has closed.
func (r *Registrar) EnsureBracket(ctx context.Context, tournamentID string) (*Bracket, error) {
	t, err := r.tournaments.Get(ctx, tournamentID)
	if err != nil {
		return nil, err
	}
	if t.Bracket != nil && t.Bracket.Generated {
		return t.Bracket, nil
	}
	if t.Status == StatusCancelledLowTeams {
		return nil, fault.New(fault.KindConflict, "tournament was cancelled")
	}
	now := r.clock.Now().UTC()
	if !now.After(t.RegistrationDeadline) {
		return nil, fault.New(fault.KindConflict, "registration is still open")
	}

	regs, err := r.registrations.ListActive(ctx, tournamentID)
	if err != nil {
		return nil, err
	}
	teamIDs := make([]string, 0, len(regs))
	for _, reg := range regs {
		teamIDs = append(teamIDs, reg.ID)
	}

	b, err := r.engine.Generate(teamIDs, t.MaxTeams)
	if err != nil {
		return nil, err
	}
	if err := r.tournaments.SaveBracket(ctx, tournamentID, b, now); err != nil {
		return nil, err
	}
	log.Ctx(ctx).Info().
		Str("component", "registrar").
		Str("tournament_id", tournamentID).
		Int("teams", len(teamIDs)).
		Int("spots", t.MaxTeams).
		Str("decision", "bracket_generated").
		Msg("Bracket generated")
	return b, nil
}

// RecordMatchResult applies a match winner to the tournament's bracket and
// persists the advanced state. Only the organizer may record results.
func (r *Registrar) RecordMatchResult(ctx context.Context, tournamentID, actorID string, matchNumber int, winnerID string) (*Bracket, error) {
	t, err := r.tournaments.Get(ctx, tournamentID)
	if err != nil {
		return nil, err
	}
	if t.OrganizerID != actorID {
		return nil, fault.New(fault.KindValidation, "only the organizer may record results")
	}
	if t.Bracket == nil || !t.Bracket.Generated {
		return nil, fault.New(fault.KindConflict, "bracket has not been generated")
	}
	if err := r.engine.RecordResult(t.Bracket, matchNumber, winnerID); err != nil {
		return nil, err
	}
	if err := r.tournaments.SaveBracket(ctx, tournamentID, t.Bracket, r.clock.Now().UTC()); err != nil {
		return nil, err
	}
	return t.Bracket, nil
}

func (r *Registrar) notifyRegistered(ctx context.Context, reg *Registration, t *Tournament) {
	r.notifier.Notify(ctx, notify.Notification{
		UserID:   reg.UserID,
		Title:    "Registration confirmed",
		Body:     fmt.Sprintf("%s is registered for %s.", reg.TeamName, t.Name),
		Category: notify.CategoryRegistrationActive,
	})
}

func (r *Registrar) notifyRegistrationFailed(ctx context.Context, reg *Registration, t *Tournament, body string) {
	r.notifier.Notify(ctx, notify.Notification{
		UserID:   reg.UserID,
		Title:    "Registration payment failed",
		Body:     body,
		Category: notify.CategoryRegistrationFailed,
	})
}
