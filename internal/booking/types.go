// Package booking implements the court reservation engine: pricing tiers,
// availability checks, and the settlement state machine that takes a booking
// from pending through payment to a terminal state.
package booking

import "time"

// Status is the lifecycle state of a booking.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"
)

// bookingTransitions is the authoritative transition table. Cancelled and
// completed are terminal.
var bookingTransitions = map[Status][]Status{
	StatusPending:   {StatusConfirmed, StatusCancelled},
	StatusConfirmed: {StatusCancelled, StatusCompleted},
}

// CanTransition reports whether moving from s to next is legal.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range bookingTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether s admits no further transitions.
func (s Status) Terminal() bool {
	return len(bookingTransitions[s]) == 0
}

// PaymentStatus tracks settlement independently of booking lifecycle.
type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentRefunded PaymentStatus = "refunded"
	PaymentFailed   PaymentStatus = "failed"
	PaymentUnpaid   PaymentStatus = "unpaid"
)

// PriceType is the tariff tier a booking was priced at.
type PriceType string

const (
	PriceRegular PriceType = "regular"
	PricePeak    PriceType = "peak"
	PriceOffPeak PriceType = "offPeak"
	PriceFree    PriceType = "free"
)

// Method names the settlement path on the stored record.
type Method string

const (
	MethodOffline Method = "offline"
	MethodGateway Method = "gateway"
	MethodPoints  Method = "points"
	MethodFree    Method = "free"
)

// Settlement is the caller's chosen settlement path. Exactly one variant per
// path; the coordinator switches exhaustively over these.
type Settlement interface {
	method() Method
}

// PayViaGateway settles through the external payment provider.
type PayViaGateway struct{}

// PayWithPoints redeems loyalty points for the full price.
type PayWithPoints struct{}

// PayFree consumes one complimentary slot from the user's daily quota.
type PayFree struct{}

// PayAtVenue confirms immediately and collects cash on arrival.
type PayAtVenue struct{}

func (PayViaGateway) method() Method { return MethodGateway }
func (PayWithPoints) method() Method { return MethodPoints }
func (PayFree) method() Method       { return MethodFree }
func (PayAtVenue) method() Method    { return MethodOffline }

// SettlementFor maps a stored method name back to its variant.
func SettlementFor(m Method) (Settlement, bool) {
	switch m {
	case MethodGateway:
		return PayViaGateway{}, true
	case MethodPoints:
		return PayWithPoints{}, true
	case MethodFree:
		return PayFree{}, true
	case MethodOffline:
		return PayAtVenue{}, true
	}
	return nil, false
}

// Booking is a court-timeslot reservation.
type Booking struct {
	ID                   string
	CourtID              string
	UserID               string
	Date                 string // YYYY-MM-DD, UTC calendar day
	StartTime            string // HH:MM
	EndTime              string // HH:MM
	Price                int64  // whole currency units
	PriceType            PriceType
	Status               Status
	PaymentStatus        PaymentStatus
	PaymentMethod        Method
	PurchaseOrderID      string
	GatewayRef           string // pidx correlating initiate and lookup calls
	GatewayTransactionID string
	PointsUsed           int64
	ReservationExpiresAt *time.Time // nil once payment is confirmed
	ReminderSent         bool
	IsDeletedFromHistory bool
	CancellationReason   string
	CancelledAt          *time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// PriceWindow is an optional tariff window on a court.
type PriceWindow struct {
	Enabled bool
	Start   string // HH:MM inclusive
	End     string // HH:MM exclusive
	Rate    int64
}

// Court carries the configuration the engine needs: operating hours, tariff
// windows, and whether the venue mandates prepayment.
type Court struct {
	ID                string
	Name              string
	OpeningTime       string // HH:MM
	ClosingTime       string // HH:MM
	PriceHourly       int64
	Peak              PriceWindow
	OffPeak           PriceWindow
	RequirePrepayment bool
}
