package booking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/futsalmandu/futsalmandu/internal/fault"
	"github.com/futsalmandu/futsalmandu/internal/freeslot"
	"github.com/futsalmandu/futsalmandu/internal/khalti"
	"github.com/futsalmandu/futsalmandu/internal/loyalty"
	"github.com/futsalmandu/futsalmandu/internal/notify"
)

// mockClock implements Clock with controllable time.
type mockClock struct {
	mu  sync.Mutex
	now time.Time
}

func newMockClock() *mockClock {
	return &mockClock{now: time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC)}
}

func (c *mockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *mockClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// memBookings is an in-memory Store honoring the active-slot and
// compare-and-set contracts.
type memBookings struct {
	mu   sync.Mutex
	byID map[string]*Booking
}

func newMemBookings() *memBookings {
	return &memBookings{byID: make(map[string]*Booking)}
}

func (m *memBookings) Create(ctx context.Context, b *Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.byID {
		if existing.CourtID == b.CourtID && existing.Date == b.Date &&
			existing.StartTime == b.StartTime && existing.Status != StatusCancelled {
			return fault.New(fault.KindConflict, "slot already booked")
		}
	}
	clone := *b
	m.byID[b.ID] = &clone
	return nil
}

func (m *memBookings) Get(ctx context.Context, id string) (*Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.byID[id]
	if !ok {
		return nil, fault.Newf(fault.KindNotFound, "booking %s not found", id)
	}
	clone := *b
	return &clone, nil
}

func (m *memBookings) GetByGatewayRef(ctx context.Context, pidx string) (*Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.byID {
		if b.GatewayRef == pidx {
			clone := *b
			return &clone, nil
		}
	}
	return nil, fault.Newf(fault.KindNotFound, "no booking for payment reference %s", pidx)
}

func (m *memBookings) SlotTaken(ctx context.Context, courtID, date, startTime string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.byID {
		if b.CourtID == courtID && b.Date == date && b.StartTime == startTime && b.Status != StatusCancelled {
			return true, nil
		}
	}
	return false, nil
}

func (m *memBookings) AttachGatewayRef(ctx context.Context, id, pidx string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.byID[id]
	if !ok {
		return fault.Newf(fault.KindNotFound, "booking %s not found", id)
	}
	b.GatewayRef = pidx
	b.UpdatedAt = at
	return nil
}

func (m *memBookings) MarkPaid(ctx context.Context, id, transactionID string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.byID[id]
	if !ok {
		return false, fault.Newf(fault.KindNotFound, "booking %s not found", id)
	}
	if b.Status != StatusPending || b.PaymentStatus == PaymentPaid {
		return false, nil
	}
	b.Status = StatusConfirmed
	b.PaymentStatus = PaymentPaid
	b.GatewayTransactionID = transactionID
	b.ReservationExpiresAt = nil
	b.UpdatedAt = at
	return true, nil
}

func (m *memBookings) MarkFailed(ctx context.Context, id, reason string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.byID[id]
	if !ok {
		return fault.Newf(fault.KindNotFound, "booking %s not found", id)
	}
	if b.PaymentStatus == PaymentPaid {
		return nil
	}
	b.Status = StatusCancelled
	b.PaymentStatus = PaymentFailed
	b.CancellationReason = reason
	b.CancelledAt = &at
	return nil
}

func (m *memBookings) Cancel(ctx context.Context, id, reason string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.byID[id]
	if !ok {
		return fault.Newf(fault.KindNotFound, "booking %s not found", id)
	}
	b.Status = StatusCancelled
	b.CancellationReason = reason
	b.CancelledAt = &at
	return nil
}

type memCourts struct {
	courts map[string]*Court
}

func (m *memCourts) GetCourt(ctx context.Context, id string) (*Court, error) {
	c, ok := m.courts[id]
	if !ok {
		return nil, fault.Newf(fault.KindNotFound, "court %s not found", id)
	}
	clone := *c
	return &clone, nil
}

// fakeGateway scripts Initiate and Lookup responses.
type fakeGateway struct {
	mu            sync.Mutex
	initiateErr   error
	lookupStatus  string
	lookupAmount  int64
	lookupErr     error
	initiateCalls int
	lookupCalls   int
}

func (g *fakeGateway) Initiate(ctx context.Context, req khalti.InitiateRequest) (*khalti.InitiateResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.initiateCalls++
	if g.initiateErr != nil {
		return nil, g.initiateErr
	}
	return &khalti.InitiateResponse{
		Pidx:       fmt.Sprintf("pidx-%d", g.initiateCalls),
		PaymentURL: "https://pay.example/checkout",
	}, nil
}

func (g *fakeGateway) Lookup(ctx context.Context, pidx string) (*khalti.LookupResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lookupCalls++
	if g.lookupErr != nil {
		return nil, g.lookupErr
	}
	return &khalti.LookupResponse{
		Pidx:          pidx,
		Status:        g.lookupStatus,
		TotalAmount:   g.lookupAmount,
		TransactionID: "txn-1",
	}, nil
}

// memLoyalty is an in-memory loyalty.Store with the guarded-debit contract.
// debitErr, when set, makes every debit fail the guard regardless of
// balance, standing in for a concurrent redemption draining the account.
type memLoyalty struct {
	mu       sync.Mutex
	balances map[string]int64
	txns     []loyalty.Transaction
	debitErr error
}

func newMemLoyalty() *memLoyalty {
	return &memLoyalty{balances: make(map[string]int64)}
}

func (m *memLoyalty) Balance(ctx context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[userID], nil
}

func (m *memLoyalty) Credit(ctx context.Context, txn loyalty.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[txn.UserID] += txn.Points
	m.txns = append(m.txns, txn)
	return nil
}

func (m *memLoyalty) Debit(ctx context.Context, txn loyalty.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.debitErr != nil {
		return m.debitErr
	}
	if m.balances[txn.UserID] < txn.Points {
		return fault.Newf(fault.KindInsufficientPoints, "balance below %d points", txn.Points)
	}
	m.balances[txn.UserID] -= txn.Points
	m.txns = append(m.txns, txn)
	return nil
}

func (m *memLoyalty) Transactions(ctx context.Context, userID string) ([]loyalty.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []loyalty.Transaction
	for _, txn := range m.txns {
		if txn.UserID == userID {
			out = append(out, txn)
		}
	}
	return out, nil
}

// memFreeSlots is an in-memory freeslot.Store.
type memFreeSlots struct {
	mu        sync.Mutex
	remaining map[string]int
}

func newMemFreeSlots() *memFreeSlots {
	return &memFreeSlots{remaining: make(map[string]int)}
}

func (m *memFreeSlots) Remaining(ctx context.Context, userID, date string, limit int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n, ok := m.remaining[userID+"|"+date]; ok {
		return n, nil
	}
	return limit, nil
}

func (m *memFreeSlots) ConsumeOne(ctx context.Context, userID, date string, limit int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := userID + "|" + date
	n, ok := m.remaining[key]
	if !ok {
		n = limit
	}
	if n <= 0 {
		return fault.New(fault.KindConflict, "complimentary slot quota exhausted")
	}
	m.remaining[key] = n - 1
	return nil
}

// recorder captures notifications for assertions.
type recorder struct {
	mu   sync.Mutex
	sent []notify.Notification
}

func (r *recorder) Notify(ctx context.Context, n notify.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
}

func (r *recorder) categories() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.sent))
	for _, n := range r.sent {
		out = append(out, n.Category)
	}
	return out
}

type fixture struct {
	coordinator *Coordinator
	bookings    *memBookings
	gateway     *fakeGateway
	loyalty     *memLoyalty
	notified    *recorder
	clock       *mockClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := newMockClock()
	bookings := newMemBookings()
	gateway := &fakeGateway{lookupStatus: khalti.StatusCompleted}
	points := newMemLoyalty()
	notified := &recorder{}
	courts := &memCourts{courts: map[string]*Court{
		"court-1": tariffCourt(),
	}}
	coordinator := NewCoordinator(
		bookings, courts,
		loyalty.NewLedger(points),
		freeslot.NewLedger(newMemFreeSlots(), 2),
		gateway, notified,
		Options{
			ReservationTTL: 15 * time.Minute,
			PointsDivisor:  10,
			RewardDivisor:  100,
			ReturnURL:      "https://futsalmandu.example/payments/callback",
			Clock:          clock,
		},
	)
	return &fixture{
		coordinator: coordinator,
		bookings:    bookings,
		gateway:     gateway,
		loyalty:     points,
		notified:    notified,
		clock:       clock,
	}
}

func gatewayRequest(start, end string) CreateRequest {
	return CreateRequest{
		CourtID:    "court-1",
		UserID:     "user-1",
		Date:       "2025-06-10",
		StartTime:  start,
		EndTime:    end,
		Settlement: PayViaGateway{},
	}
}

func TestGatewayBookingPendingThenVerified(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.coordinator.CreateBooking(ctx, gatewayRequest("10:00", "11:00"))
	if err != nil {
		t.Fatalf("CreateBooking: %v", err)
	}
	b := result.Booking
	if b.Status != StatusPending || b.PaymentStatus != PaymentPending {
		t.Errorf("state = %s/%s, want pending/pending", b.Status, b.PaymentStatus)
	}
	if result.PaymentURL == "" {
		t.Error("expected a payment URL for gateway settlement")
	}
	if b.ReservationExpiresAt == nil {
		t.Fatal("pending booking must carry an expiry")
	}
	wantExpiry := f.clock.Now().UTC().Add(15 * time.Minute)
	if !b.ReservationExpiresAt.Equal(wantExpiry) {
		t.Errorf("expiry = %v, want %v", b.ReservationExpiresAt, wantExpiry)
	}
	if b.Price != 1000 || b.PriceType != PriceRegular {
		t.Errorf("price = %d/%s, want 1000/regular", b.Price, b.PriceType)
	}

	f.gateway.lookupAmount = 1000 * 100
	verified, err := f.coordinator.VerifyPayment(ctx, b.GatewayRef)
	if err != nil {
		t.Fatalf("VerifyPayment: %v", err)
	}
	if verified.Status != StatusConfirmed || verified.PaymentStatus != PaymentPaid {
		t.Errorf("state = %s/%s, want confirmed/paid", verified.Status, verified.PaymentStatus)
	}
	if verified.ReservationExpiresAt != nil {
		t.Error("paid booking must not carry an expiry")
	}
	if verified.GatewayTransactionID != "txn-1" {
		t.Errorf("transaction id = %q, want txn-1", verified.GatewayTransactionID)
	}

	// Reward: 1000 / 100 = 10 points.
	balance, _ := f.loyalty.Balance(ctx, "user-1")
	if balance != 10 {
		t.Errorf("reward balance = %d, want 10", balance)
	}
	cats := f.notified.categories()
	if len(cats) != 1 || cats[0] != notify.CategoryBookingConfirmed {
		t.Errorf("notifications = %v, want one booking_confirmed", cats)
	}
}

func TestVerifyPaymentIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.coordinator.CreateBooking(ctx, gatewayRequest("10:00", "11:00"))
	if err != nil {
		t.Fatalf("CreateBooking: %v", err)
	}
	f.gateway.lookupAmount = 1000 * 100

	if _, err := f.coordinator.VerifyPayment(ctx, result.Booking.GatewayRef); err != nil {
		t.Fatalf("first VerifyPayment: %v", err)
	}
	again, err := f.coordinator.VerifyPayment(ctx, result.Booking.GatewayRef)
	if err != nil {
		t.Fatalf("second VerifyPayment: %v", err)
	}
	if again.PaymentStatus != PaymentPaid {
		t.Errorf("payment status = %s, want paid", again.PaymentStatus)
	}

	// The duplicate callback short-circuits: no extra lookup, no extra reward.
	if f.gateway.lookupCalls != 1 {
		t.Errorf("lookup calls = %d, want 1", f.gateway.lookupCalls)
	}
	balance, _ := f.loyalty.Balance(ctx, "user-1")
	if balance != 10 {
		t.Errorf("balance after duplicate callback = %d, want 10", balance)
	}
}

func TestVerifyPaymentAmountMismatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.coordinator.CreateBooking(ctx, gatewayRequest("10:00", "11:00"))
	if err != nil {
		t.Fatalf("CreateBooking: %v", err)
	}

	// Gateway reports 60000 paisa for a 1000-unit (100000 paisa) booking.
	f.gateway.lookupAmount = 60000
	_, err = f.coordinator.VerifyPayment(ctx, result.Booking.GatewayRef)
	if !fault.IsKind(err, fault.KindAmountMismatch) {
		t.Fatalf("err = %v, want amount mismatch", err)
	}

	b, _ := f.bookings.Get(ctx, result.Booking.ID)
	if b.Status != StatusCancelled || b.PaymentStatus != PaymentFailed {
		t.Errorf("state = %s/%s, want cancelled/failed", b.Status, b.PaymentStatus)
	}
	cats := f.notified.categories()
	if len(cats) != 1 || cats[0] != notify.CategoryPaymentFailed {
		t.Errorf("notifications = %v, want one payment_failed", cats)
	}
}

func TestVerifyPaymentNonSuccessStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.coordinator.CreateBooking(ctx, gatewayRequest("10:00", "11:00"))
	if err != nil {
		t.Fatalf("CreateBooking: %v", err)
	}

	f.gateway.lookupStatus = khalti.StatusExpired
	_, err = f.coordinator.VerifyPayment(ctx, result.Booking.GatewayRef)
	if !fault.IsKind(err, fault.KindConflict) {
		t.Fatalf("err = %v, want conflict", err)
	}

	b, _ := f.bookings.Get(ctx, result.Booking.ID)
	if b.Status != StatusCancelled || b.PaymentStatus != PaymentFailed {
		t.Errorf("state = %s/%s, want cancelled/failed", b.Status, b.PaymentStatus)
	}

	// The slot is free for rebooking after the failure.
	if _, err := f.coordinator.CreateBooking(ctx, gatewayRequest("10:00", "11:00")); err != nil {
		t.Errorf("rebooking released slot: %v", err)
	}
}

func TestVerifyPaymentUnknownReference(t *testing.T) {
	f := newFixture(t)
	_, err := f.coordinator.VerifyPayment(context.Background(), "pidx-unknown")
	if !fault.IsKind(err, fault.KindNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}
}

func TestInitiationFailureReleasesSlot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.gateway.initiateErr = errors.New("gateway unreachable")
	if _, err := f.coordinator.CreateBooking(ctx, gatewayRequest("10:00", "11:00")); err == nil {
		t.Fatal("expected initiation error")
	}

	f.gateway.initiateErr = nil
	if _, err := f.coordinator.CreateBooking(ctx, gatewayRequest("10:00", "11:00")); err != nil {
		t.Errorf("slot should be free after failed initiation, got %v", err)
	}
}

func TestPointsSettlement(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.loyalty.balances["user-1"] = 200

	req := gatewayRequest("10:00", "11:00")
	req.Settlement = PayWithPoints{}
	result, err := f.coordinator.CreateBooking(ctx, req)
	if err != nil {
		t.Fatalf("CreateBooking: %v", err)
	}
	b := result.Booking
	if b.Status != StatusConfirmed || b.PaymentStatus != PaymentPaid {
		t.Errorf("state = %s/%s, want confirmed/paid", b.Status, b.PaymentStatus)
	}
	if b.PointsUsed != 100 {
		t.Errorf("points used = %d, want 100 (price 1000 / divisor 10)", b.PointsUsed)
	}
	balance, _ := f.loyalty.Balance(ctx, "user-1")
	if balance != 100 {
		t.Errorf("balance = %d, want 100", balance)
	}
}

func TestPointsSettlementInsufficient(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.loyalty.balances["user-1"] = 50

	req := gatewayRequest("10:00", "11:00")
	req.Settlement = PayWithPoints{}
	_, err := f.coordinator.CreateBooking(ctx, req)
	if !fault.IsKind(err, fault.KindInsufficientPoints) {
		t.Fatalf("err = %v, want insufficient points", err)
	}

	// No booking was left behind; the slot is still open.
	taken, _ := f.bookings.SlotTaken(ctx, "court-1", "2025-06-10", "10:00")
	if taken {
		t.Error("failed points settlement must not hold the slot")
	}
	balance, _ := f.loyalty.Balance(ctx, "user-1")
	if balance != 50 {
		t.Errorf("balance = %d, want untouched 50", balance)
	}
}

func TestPointsDebitRaceReleasesBooking(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// The balance pre-check passes, but a concurrent redemption drains the
	// account before the guarded debit lands.
	f.loyalty.balances["user-1"] = 200
	f.loyalty.debitErr = fault.New(fault.KindInsufficientPoints, "balance below 100 points")

	req := gatewayRequest("10:00", "11:00")
	req.Settlement = PayWithPoints{}
	_, err := f.coordinator.CreateBooking(ctx, req)
	if !fault.IsKind(err, fault.KindInsufficientPoints) {
		t.Fatalf("err = %v, want insufficient points", err)
	}

	// The record must not claim a settlement that never happened.
	f.bookings.mu.Lock()
	if len(f.bookings.byID) != 1 {
		f.bookings.mu.Unlock()
		t.Fatalf("bookings = %d, want the released record", len(f.bookings.byID))
	}
	var left *Booking
	for _, b := range f.bookings.byID {
		left = b
	}
	f.bookings.mu.Unlock()
	if left.Status != StatusCancelled || left.PaymentStatus != PaymentFailed {
		t.Errorf("state = %s/%s, want cancelled/failed", left.Status, left.PaymentStatus)
	}

	if txns, _ := f.loyalty.Transactions(ctx, "user-1"); len(txns) != 0 {
		t.Errorf("loyalty transactions = %d, want none", len(txns))
	}
	if balance, _ := f.loyalty.Balance(ctx, "user-1"); balance != 200 {
		t.Errorf("balance = %d, want untouched 200", balance)
	}

	// The slot reopened.
	f.loyalty.debitErr = nil
	if _, err := f.coordinator.CreateBooking(ctx, req); err != nil {
		t.Errorf("rebooking after released settlement: %v", err)
	}
}

func TestVerifyPaymentAfterExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.coordinator.CreateBooking(ctx, gatewayRequest("10:00", "11:00"))
	if err != nil {
		t.Fatalf("CreateBooking: %v", err)
	}
	id := result.Booking.ID

	// The sweep releases the lapsed hold before the callback arrives.
	f.clock.Advance(16 * time.Minute)
	if err := f.bookings.MarkFailed(ctx, id, "reservation expired", f.clock.Now().UTC()); err != nil {
		t.Fatalf("expire booking: %v", err)
	}

	f.gateway.lookupAmount = 1000 * 100
	_, err = f.coordinator.VerifyPayment(ctx, result.Booking.GatewayRef)
	if !fault.IsKind(err, fault.KindConflict) {
		t.Fatalf("err = %v, want conflict", err)
	}

	// The cancelled booking stays cancelled and earns no reward.
	b, _ := f.bookings.Get(ctx, id)
	if b.Status != StatusCancelled || b.PaymentStatus != PaymentFailed {
		t.Errorf("state = %s/%s, want cancelled/failed", b.Status, b.PaymentStatus)
	}
	if balance, _ := f.loyalty.Balance(ctx, "user-1"); balance != 0 {
		t.Errorf("reward balance = %d, want 0", balance)
	}

	// The freed slot belongs to whoever rebooked it.
	req := gatewayRequest("10:00", "11:00")
	req.UserID = "user-2"
	if _, err := f.coordinator.CreateBooking(ctx, req); err != nil {
		t.Errorf("rebooking expired slot: %v", err)
	}
}

func TestFreeSettlementQuota(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	starts := []string{"10:00", "11:00", "12:00"}
	for i, start := range starts[:2] {
		req := gatewayRequest(start, fmt.Sprintf("%02d:00", 11+i))
		req.Settlement = PayFree{}
		result, err := f.coordinator.CreateBooking(ctx, req)
		if err != nil {
			t.Fatalf("free booking %d: %v", i, err)
		}
		if result.Booking.Price != 0 || result.Booking.PriceType != PriceFree {
			t.Errorf("free booking priced %d/%s", result.Booking.Price, result.Booking.PriceType)
		}
		if result.Booking.Status != StatusConfirmed || result.Booking.PaymentStatus != PaymentUnpaid {
			t.Errorf("state = %s/%s, want confirmed/unpaid", result.Booking.Status, result.Booking.PaymentStatus)
		}
	}

	req := gatewayRequest(starts[2], "13:00")
	req.Settlement = PayFree{}
	_, err := f.coordinator.CreateBooking(ctx, req)
	if !fault.IsKind(err, fault.KindConflict) {
		t.Fatalf("third free booking err = %v, want conflict", err)
	}
}

func TestFreeSettlementRequiresNoPrepayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	prepaid := tariffCourt()
	prepaid.ID = "court-2"
	prepaid.RequirePrepayment = true
	f.coordinator.courts.(*memCourts).courts["court-2"] = prepaid

	req := gatewayRequest("10:00", "11:00")
	req.CourtID = "court-2"
	req.Settlement = PayFree{}
	if _, err := f.coordinator.CreateBooking(ctx, req); !fault.IsKind(err, fault.KindValidation) {
		t.Fatalf("err = %v, want validation", err)
	}

	req.Settlement = PayAtVenue{}
	if _, err := f.coordinator.CreateBooking(ctx, req); !fault.IsKind(err, fault.KindValidation) {
		t.Fatalf("pay-at-venue err = %v, want validation", err)
	}
}

func TestSlotConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.coordinator.CreateBooking(ctx, gatewayRequest("10:00", "11:00")); err != nil {
		t.Fatalf("first booking: %v", err)
	}
	req := gatewayRequest("10:00", "11:00")
	req.UserID = "user-2"
	_, err := f.coordinator.CreateBooking(ctx, req)
	if !fault.IsKind(err, fault.KindConflict) {
		t.Fatalf("err = %v, want conflict", err)
	}
}

func TestCancelBookingPermissions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := gatewayRequest("10:00", "11:00")
	req.Settlement = PayAtVenue{}
	result, err := f.coordinator.CreateBooking(ctx, req)
	if err != nil {
		t.Fatalf("CreateBooking: %v", err)
	}
	id := result.Booking.ID

	if _, err := f.coordinator.CancelBooking(ctx, id, "intruder", RoleUser, "not mine"); !fault.IsKind(err, fault.KindValidation) {
		t.Fatalf("stranger cancel err = %v, want validation", err)
	}

	cancelled, err := f.coordinator.CancelBooking(ctx, id, "admin-1", RoleAdmin, "maintenance")
	if err != nil {
		t.Fatalf("admin cancel: %v", err)
	}
	if cancelled.Status != StatusCancelled {
		t.Errorf("status = %s, want cancelled", cancelled.Status)
	}

	if _, err := f.coordinator.CancelBooking(ctx, id, "user-1", RoleUser, "again"); !fault.IsKind(err, fault.KindConflict) {
		t.Fatalf("double cancel err = %v, want conflict", err)
	}
}

func TestZeroAmountGatewayConfirmsWithoutCall(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	freeCourt := tariffCourt()
	freeCourt.ID = "court-3"
	freeCourt.PriceHourly = 0
	freeCourt.Peak.Enabled = false
	freeCourt.OffPeak.Enabled = false
	f.coordinator.courts.(*memCourts).courts["court-3"] = freeCourt

	req := gatewayRequest("10:00", "11:00")
	req.CourtID = "court-3"
	result, err := f.coordinator.CreateBooking(ctx, req)
	if err != nil {
		t.Fatalf("CreateBooking: %v", err)
	}
	if result.Booking.Status != StatusConfirmed || result.Booking.PaymentStatus != PaymentPaid {
		t.Errorf("state = %s/%s, want confirmed/paid", result.Booking.Status, result.Booking.PaymentStatus)
	}
	if f.gateway.initiateCalls != 0 {
		t.Errorf("initiate calls = %d, want 0 for zero amount", f.gateway.initiateCalls)
	}
}

func TestPointsCostRounding(t *testing.T) {
	tests := []struct {
		price int64
		want  int64
	}{
		{price: 1000, want: 100},
		{price: 1005, want: 101}, // rounds half up
		{price: 1004, want: 100},
		{price: 0, want: 0},
	}
	for _, tt := range tests {
		if got := pointsCost(tt.price, 10); got != tt.want {
			t.Errorf("pointsCost(%d, 10) = %d, want %d", tt.price, got, tt.want)
		}
	}
}
