package booking

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/futsalmandu/futsalmandu/internal/fault"
	"github.com/futsalmandu/futsalmandu/internal/freeslot"
	"github.com/futsalmandu/futsalmandu/internal/khalti"
	"github.com/futsalmandu/futsalmandu/internal/loyalty"
	"github.com/futsalmandu/futsalmandu/internal/notify"
)

// Clock abstracts time for testing expiry behavior.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Store persists bookings. Create must reject a second active booking for
// the same (court, date, start) with a fault.KindConflict error; MarkPaid is
// a compare-and-set that reports false when the record was already paid.
type Store interface {
	Create(ctx context.Context, b *Booking) error
	Get(ctx context.Context, id string) (*Booking, error)
	GetByGatewayRef(ctx context.Context, pidx string) (*Booking, error)
	SlotTaken(ctx context.Context, courtID, date, startTime string) (bool, error)
	AttachGatewayRef(ctx context.Context, id, pidx string, at time.Time) error
	MarkPaid(ctx context.Context, id, transactionID string, at time.Time) (bool, error)
	MarkFailed(ctx context.Context, id, reason string, at time.Time) error
	Cancel(ctx context.Context, id, reason string, at time.Time) error
}

// CourtStore resolves court configuration.
type CourtStore interface {
	GetCourt(ctx context.Context, id string) (*Court, error)
}

// PaymentGateway is the external payment provider port.
type PaymentGateway interface {
	Initiate(ctx context.Context, req khalti.InitiateRequest) (*khalti.InitiateResponse, error)
	Lookup(ctx context.Context, pidx string) (*khalti.LookupResponse, error)
}

// Options tune the coordinator.
type Options struct {
	// ReservationTTL is how long a pending gateway booking holds its slot.
	ReservationTTL time.Duration
	// PointsDivisor converts a whole-unit price into a points cost.
	PointsDivisor int64
	// RewardDivisor converts a paid whole-unit price into awarded points.
	// Zero disables rewards.
	RewardDivisor int64
	// ReturnURL is where the gateway redirects the payer after checkout.
	ReturnURL string
	// Clock defaults to real time.
	Clock Clock
}

// Coordinator is the reservation state machine. It owns the settlement
// branch, payment reconciliation, and cancellation; slot exclusivity is
// guaranteed by the store.
type Coordinator struct {
	bookings  Store
	courts    CourtStore
	loyalty   *loyalty.Ledger
	freeSlots *freeslot.Ledger
	gateway   PaymentGateway
	notifier  notify.Notifier
	opts      Options
	clock     Clock
}

func NewCoordinator(bookings Store, courts CourtStore, points *loyalty.Ledger, freeSlots *freeslot.Ledger, gateway PaymentGateway, notifier notify.Notifier, opts Options) *Coordinator {
	if opts.ReservationTTL == 0 {
		opts.ReservationTTL = 15 * time.Minute
	}
	if opts.PointsDivisor == 0 {
		opts.PointsDivisor = 10
	}
	clock := opts.Clock
	if clock == nil {
		clock = realClock{}
	}
	return &Coordinator{
		bookings:  bookings,
		courts:    courts,
		loyalty:   points,
		freeSlots: freeSlots,
		gateway:   gateway,
		notifier:  notifier,
		opts:      opts,
		clock:     clock,
	}
}

// CreateRequest is a booking attempt for one court-timeslot.
type CreateRequest struct {
	CourtID    string
	UserID     string
	Date       string // YYYY-MM-DD
	StartTime  string // HH:MM
	EndTime    string // HH:MM
	Settlement Settlement
	Customer   *khalti.CustomerInfo
}

// CreateResult is the committed booking plus, for gateway settlements, the
// URL the caller must redirect the payer to.
type CreateResult struct {
	Booking    *Booking
	PaymentURL string
}

// CreateBooking validates the request, checks availability, prices the slot
// and runs the chosen settlement path. Every path either commits exactly one
// booking record in a settled state or leaves nothing behind.
func (c *Coordinator) CreateBooking(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	if req.CourtID == "" || req.UserID == "" {
		return nil, fault.New(fault.KindValidation, "court id and user id are required")
	}
	if req.Settlement == nil {
		return nil, fault.New(fault.KindValidation, "a settlement path is required")
	}
	if err := validSlotInput(req.Date, req.StartTime, req.EndTime); err != nil {
		return nil, fault.Wrap(fault.KindValidation, "invalid slot", err)
	}

	court, err := c.courts.GetCourt(ctx, req.CourtID)
	if err != nil {
		return nil, err
	}

	avail, err := CheckAvailability(ctx, c.bookings, court, req.Date, req.StartTime, req.EndTime)
	if err != nil {
		return nil, err
	}
	if !avail.Available {
		return nil, fault.Newf(fault.KindConflict, "slot not available: %s", avail.Reason)
	}

	// The backend price is authoritative. Client estimates are never
	// trusted; mismatches surface to the caller through the result.
	price, tier := Quote(court, req.StartTime)

	logger := log.Ctx(ctx).With().
		Str("component", "reservation_coordinator").
		Str("court_id", req.CourtID).
		Str("user_id", req.UserID).
		Str("date", req.Date).
		Str("start_time", req.StartTime).
		Str("method", string(req.Settlement.method())).
		Logger()

	now := c.clock.Now().UTC()
	base := &Booking{
		ID:            uuid.NewString(),
		CourtID:       req.CourtID,
		UserID:        req.UserID,
		Date:          req.Date,
		StartTime:     req.StartTime,
		EndTime:       req.EndTime,
		Price:         price,
		PriceType:     tier,
		PaymentMethod: req.Settlement.method(),
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	switch path := req.Settlement.(type) {
	case PayWithPoints:
		return c.settleWithPoints(ctx, logger, base)
	case PayFree:
		return c.settleFree(ctx, logger, court, base)
	case PayViaGateway:
		return c.settleViaGateway(ctx, logger, base, req.Customer)
	case PayAtVenue:
		return c.settleOffline(ctx, logger, court, base)
	default:
		return nil, fault.Newf(fault.KindValidation, "unsupported settlement path %T", path)
	}
}

func (c *Coordinator) settleWithPoints(ctx context.Context, logger zerolog.Logger, b *Booking) (*CreateResult, error) {
	cost := pointsCost(b.Price, c.opts.PointsDivisor)
	balance, err := c.loyalty.Balance(ctx, b.UserID)
	if err != nil {
		return nil, err
	}
	if balance < cost {
		return nil, fault.Newf(fault.KindInsufficientPoints, "need %d points, have %d", cost, balance)
	}

	// Created unpaid so a failed debit releases it as a failed settlement
	// rather than a record claiming points that were never taken.
	b.Status = StatusPending
	b.PaymentStatus = PaymentPending
	b.PointsUsed = cost
	if err := c.bookings.Create(ctx, b); err != nil {
		return nil, err
	}

	// The guarded debit is the atomic step; the pre-check above only gives a
	// friendlier error. If a concurrent redemption drained the balance, the
	// booking is released with its payment marked failed.
	if err := c.loyalty.Debit(ctx, b.UserID, cost, "court booking redemption", b.ID); err != nil {
		if failErr := c.bookings.MarkFailed(ctx, b.ID, "points debit failed", c.clock.Now().UTC()); failErr != nil {
			logger.Error().Err(failErr).Str("booking_id", b.ID).Msg("Failed to release booking after debit failure")
		}
		return nil, err
	}

	updated, err := c.bookings.MarkPaid(ctx, b.ID, "", c.clock.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("mark booking paid: %w", err)
	}
	if !updated {
		return nil, fault.Newf(fault.KindConflict, "booking %s was settled concurrently", b.ID)
	}
	b.Status = StatusConfirmed
	b.PaymentStatus = PaymentPaid

	logger.Info().Str("booking_id", b.ID).Int64("points_used", cost).Str("decision", "confirmed_points").Msg("Booking confirmed with points")
	c.notifyConfirmed(ctx, b)
	return &CreateResult{Booking: b}, nil
}

func (c *Coordinator) settleFree(ctx context.Context, logger zerolog.Logger, court *Court, b *Booking) (*CreateResult, error) {
	if court.RequirePrepayment {
		return nil, fault.New(fault.KindValidation, "court requires prepayment; free booking not allowed")
	}
	remaining, err := c.freeSlots.Remaining(ctx, b.UserID, b.Date)
	if err != nil {
		return nil, err
	}
	if remaining <= 0 {
		return nil, fault.New(fault.KindConflict, "no complimentary slots remaining today")
	}

	b.Status = StatusConfirmed
	b.PaymentStatus = PaymentUnpaid
	b.Price = 0
	b.PriceType = PriceFree
	if err := c.bookings.Create(ctx, b); err != nil {
		return nil, err
	}

	if err := c.freeSlots.ConsumeOne(ctx, b.UserID, b.Date); err != nil {
		if cancelErr := c.bookings.Cancel(ctx, b.ID, "free slot quota exhausted", c.clock.Now().UTC()); cancelErr != nil {
			logger.Error().Err(cancelErr).Str("booking_id", b.ID).Msg("Failed to undo booking after quota exhaustion")
		}
		return nil, err
	}

	logger.Info().Str("booking_id", b.ID).Str("decision", "confirmed_free").Msg("Booking confirmed on complimentary quota")
	c.notifyConfirmed(ctx, b)
	return &CreateResult{Booking: b}, nil
}

func (c *Coordinator) settleOffline(ctx context.Context, logger zerolog.Logger, court *Court, b *Booking) (*CreateResult, error) {
	if court.RequirePrepayment {
		return nil, fault.New(fault.KindValidation, "court requires prepayment; pay at venue not allowed")
	}
	b.Status = StatusConfirmed
	b.PaymentStatus = PaymentUnpaid
	if err := c.bookings.Create(ctx, b); err != nil {
		return nil, err
	}
	logger.Info().Str("booking_id", b.ID).Str("decision", "confirmed_offline").Msg("Booking confirmed, payment at venue")
	c.notifyConfirmed(ctx, b)
	return &CreateResult{Booking: b}, nil
}

func (c *Coordinator) settleViaGateway(ctx context.Context, logger zerolog.Logger, b *Booking, customer *khalti.CustomerInfo) (*CreateResult, error) {
	if b.Price == 0 {
		// Nothing to collect; confirm immediately without a gateway call.
		b.Status = StatusConfirmed
		b.PaymentStatus = PaymentPaid
		if err := c.bookings.Create(ctx, b); err != nil {
			return nil, err
		}
		logger.Info().Str("booking_id", b.ID).Str("decision", "confirmed_zero_amount").Msg("Zero-amount booking confirmed")
		c.notifyConfirmed(ctx, b)
		return &CreateResult{Booking: b}, nil
	}

	expiry := c.clock.Now().UTC().Add(c.opts.ReservationTTL)
	b.Status = StatusPending
	b.PaymentStatus = PaymentPending
	b.PurchaseOrderID = uuid.NewString()
	b.ReservationExpiresAt = &expiry
	if err := c.bookings.Create(ctx, b); err != nil {
		return nil, err
	}

	initiation, err := c.gateway.Initiate(ctx, khalti.InitiateRequest{
		PurchaseOrderID:   b.PurchaseOrderID,
		PurchaseOrderName: fmt.Sprintf("Court booking %s %s", b.Date, b.StartTime),
		AmountPaisa:       b.Price * 100,
		ReturnURL:         c.opts.ReturnURL,
		Customer:          customer,
	})
	if err != nil {
		// A failed initiation must not hold the slot.
		if failErr := c.bookings.MarkFailed(ctx, b.ID, "payment initiation failed", c.clock.Now().UTC()); failErr != nil {
			logger.Error().Err(failErr).Str("booking_id", b.ID).Msg("Failed to release booking after initiation failure")
		}
		return nil, err
	}

	// The reference is stored before the redirect is returned, so a callback
	// can never arrive for a record we cannot find.
	if err := c.bookings.AttachGatewayRef(ctx, b.ID, initiation.Pidx, c.clock.Now().UTC()); err != nil {
		return nil, fmt.Errorf("attach gateway reference: %w", err)
	}
	b.GatewayRef = initiation.Pidx

	logger.Info().Str("booking_id", b.ID).Str("pidx", initiation.Pidx).Str("decision", "pending_gateway").Msg("Booking pending gateway payment")
	return &CreateResult{Booking: b, PaymentURL: initiation.PaymentURL}, nil
}

// VerifyPayment reconciles a gateway callback (or return redirect) into
// booking state. It is idempotent: duplicate callbacks for an already-paid
// booking are a no-op success.
func (c *Coordinator) VerifyPayment(ctx context.Context, pidx string) (*Booking, error) {
	if pidx == "" {
		return nil, fault.New(fault.KindValidation, "pidx is required")
	}

	b, err := c.bookings.GetByGatewayRef(ctx, pidx)
	if err != nil {
		return nil, err
	}
	logger := log.Ctx(ctx).With().
		Str("component", "reservation_coordinator").
		Str("booking_id", b.ID).
		Str("pidx", pidx).
		Logger()

	if b.PaymentStatus == PaymentPaid {
		logger.Debug().Str("decision", "already_paid").Msg("Duplicate payment callback ignored")
		return b, nil
	}

	lookup, err := c.gateway.Lookup(ctx, pidx)
	if err != nil {
		logger.Error().Err(err).Msg("Gateway verification failed")
		if failErr := c.bookings.MarkFailed(ctx, b.ID, "gateway verification failed", c.clock.Now().UTC()); failErr != nil {
			logger.Error().Err(failErr).Msg("Failed to mark booking failed after gateway error")
		}
		c.notifyPaymentFailed(ctx, b, "We could not verify your payment.")
		return nil, err
	}

	if lookup.Status != khalti.StatusCompleted {
		reason := fmt.Sprintf("payment %s", strings.ToLower(lookup.Status))
		if err := c.bookings.MarkFailed(ctx, b.ID, reason, c.clock.Now().UTC()); err != nil {
			return nil, fmt.Errorf("mark booking failed: %w", err)
		}
		logger.Info().Str("gateway_status", lookup.Status).Str("decision", "payment_failed").Msg("Gateway reported non-success status")
		c.notifyPaymentFailed(ctx, b, fmt.Sprintf("Your payment was not completed (%s).", lookup.Status))
		return nil, fault.Newf(fault.KindConflict, "payment not completed: %s", lookup.Status)
	}

	// Exact amount match in paisa, even on a "Completed" status. A tampered
	// amount cancels the reservation regardless of what the gateway claims.
	expected := b.Price * 100
	if lookup.TotalAmount != expected {
		if err := c.bookings.MarkFailed(ctx, b.ID, "amount mismatch", c.clock.Now().UTC()); err != nil {
			return nil, fmt.Errorf("mark booking failed: %w", err)
		}
		logger.Warn().
			Int64("expected_paisa", expected).
			Int64("reported_paisa", lookup.TotalAmount).
			Str("decision", "amount_mismatch").
			Msg("Gateway amount does not match booking price")
		c.notifyPaymentFailed(ctx, b, "Your payment could not be accepted.")
		return nil, fault.Newf(fault.KindAmountMismatch, "expected %d paisa, gateway reported %d", expected, lookup.TotalAmount)
	}

	// Confirm and clear the expiry in one atomic update so the sweep can
	// never race a paid booking.
	updated, err := c.bookings.MarkPaid(ctx, b.ID, lookup.TransactionID, c.clock.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("mark booking paid: %w", err)
	}
	if !updated {
		// Either a concurrent reconcile won the compare-and-set or the
		// expiry sweep released the slot before the callback arrived.
		current, err := c.bookings.Get(ctx, b.ID)
		if err != nil {
			return nil, err
		}
		if current.PaymentStatus == PaymentPaid {
			logger.Debug().Str("decision", "lost_cas").Msg("Concurrent reconciliation already settled booking")
			return current, nil
		}
		logger.Info().Str("decision", "expired_before_verify").Msg("Reservation lapsed before payment was verified")
		c.notifyPaymentFailed(ctx, b, "Your reservation expired before the payment was verified.")
		return nil, fault.Newf(fault.KindConflict, "reservation expired before payment was verified")
	}

	if c.opts.RewardDivisor > 0 {
		if reward := b.Price / c.opts.RewardDivisor; reward > 0 {
			if err := c.loyalty.Credit(ctx, b.UserID, reward, "booking reward", b.ID); err != nil {
				logger.Error().Err(err).Msg("Failed to award booking reward points")
			}
		}
	}

	logger.Info().Str("transaction_id", lookup.TransactionID).Str("decision", "confirmed_paid").Msg("Booking payment verified")
	refreshed, err := c.bookings.Get(ctx, b.ID)
	if err != nil {
		return nil, err
	}
	c.notifyConfirmed(ctx, refreshed)
	return refreshed, nil
}

// Role gates who may cancel a booking besides its owner.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// CancelBooking cancels a booking on behalf of its owner or an admin.
// Cancellation is non-financial: no refund or points return is performed.
func (c *Coordinator) CancelBooking(ctx context.Context, bookingID, actorID string, actorRole Role, reason string) (*Booking, error) {
	b, err := c.bookings.Get(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.UserID != actorID && actorRole != RoleAdmin {
		return nil, fault.New(fault.KindValidation, "not allowed to cancel this booking")
	}
	if !b.Status.CanTransition(StatusCancelled) {
		return nil, fault.Newf(fault.KindConflict, "booking is %s and cannot be cancelled", b.Status)
	}

	now := c.clock.Now().UTC()
	if err := c.bookings.Cancel(ctx, b.ID, reason, now); err != nil {
		return nil, err
	}
	log.Ctx(ctx).Info().
		Str("component", "reservation_coordinator").
		Str("booking_id", b.ID).
		Str("actor_id", actorID).
		Str("decision", "cancelled").
		Msg("Booking cancelled")

	c.notifier.Notify(ctx, notify.Notification{
		UserID:   b.UserID,
		Title:    "Booking cancelled",
		Body:     fmt.Sprintf("Your booking on %s at %s was cancelled.", b.Date, b.StartTime),
		Category: notify.CategoryBookingCancelled,
	})
	return c.bookings.Get(ctx, b.ID)
}

func (c *Coordinator) notifyConfirmed(ctx context.Context, b *Booking) {
	c.notifier.Notify(ctx, notify.Notification{
		UserID:   b.UserID,
		Title:    "Booking confirmed",
		Body:     fmt.Sprintf("Your court is booked for %s %s-%s.", b.Date, b.StartTime, b.EndTime),
		Category: notify.CategoryBookingConfirmed,
	})
}

func (c *Coordinator) notifyPaymentFailed(ctx context.Context, b *Booking, body string) {
	c.notifier.Notify(ctx, notify.Notification{
		UserID:   b.UserID,
		Title:    "Payment failed",
		Body:     body,
		Category: notify.CategoryPaymentFailed,
	})
}

// pointsCost rounds price/divisor to the nearest whole point.
func pointsCost(price, divisor int64) int64 {
	return int64(math.Round(float64(price) / float64(divisor)))
}
