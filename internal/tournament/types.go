package tournament

import "time"

// Status is the lifecycle of a tournament. Transitions are derived from time
// and registration counts; cancelled_low_teams is terminal and sticky.
type Status string

const (
	StatusUpcoming          Status = "upcoming"
	StatusOngoing           Status = "ongoing"
	StatusCompleted         Status = "completed"
	StatusCancelledLowTeams Status = "cancelled_low_teams"
)

// Terminal reports whether no further status transitions can happen.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelledLowTeams
}

// Tournament is an organizer-created single-elimination event.
type Tournament struct {
	ID                   string
	Name                 string
	Description          string
	OrganizerID          string
	StartAt              time.Time
	EndAt                time.Time
	RegistrationDeadline time.Time
	MinTeams             int
	MaxTeams             int // bracket size: 8, 16 or 32
	TeamSize             int
	RegistrationFee      int64 // whole currency units per team
	RegisteredTeams      int
	Status               Status
	Bracket              *Bracket
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// RegistrationStatus tracks a team's standing in a tournament.
type RegistrationStatus string

const (
	RegistrationPending   RegistrationStatus = "pending_payment"
	RegistrationActive    RegistrationStatus = "active"
	RegistrationWithdrawn RegistrationStatus = "withdrawn"
)

// PaymentStatus tracks settlement of the registration fee.
type PaymentStatus string

const (
	FeeUnpaid  PaymentStatus = "unpaid"
	FeePending PaymentStatus = "pending"
	FeePaid    PaymentStatus = "paid"
	FeeFailed  PaymentStatus = "failed"
)

// Registration is one team's entry into a tournament. A registration counts
// toward registered_teams only while it is active.
type Registration struct {
	ID              string
	TournamentID    string
	UserID          string // captain who registered and pays
	TeamName        string
	Players         []string
	Status          RegistrationStatus
	PaymentStatus   PaymentStatus
	PurchaseOrderID string
	GatewayRef      string // khalti pidx
	GatewayTxnID    string
	ExpiresAt       *time.Time // pending-payment hold deadline
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
