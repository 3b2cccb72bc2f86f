package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/futsalmandu/futsalmandu/internal/booking"
	"github.com/futsalmandu/futsalmandu/internal/fault"
	"github.com/futsalmandu/futsalmandu/internal/khalti"
	"github.com/futsalmandu/futsalmandu/internal/loyalty"
	"github.com/futsalmandu/futsalmandu/internal/ratelimit"
	"github.com/futsalmandu/futsalmandu/internal/store"
	"github.com/futsalmandu/futsalmandu/internal/tournament"
)

// Handlers is the JSON surface over the reservation and tournament engines.
type Handlers struct {
	Coordinator *booking.Coordinator
	Registrar   *tournament.Registrar
	Bookings    *store.BookingStore
	Courts      *store.CourtStore
	Loyalty     *loyalty.Ledger
	Tournaments *store.TournamentStore
	Limiter     *ratelimit.Limiter
	TrustProxy  bool
}

// throttle enforces the attempt limiter for a user. It reports whether the
// request may proceed and writes the 429 response when it may not.
func (h *Handlers) throttle(w http.ResponseWriter, r *http.Request, userID string) bool {
	if h.Limiter == nil {
		return true
	}
	ip := ratelimit.GetClientIP(r, h.TrustProxy)
	res := h.Limiter.CheckAttempt(userID, ip)
	if !res.Allowed {
		ratelimit.LogRateLimitExceeded(userID, ip, res.Reason)
		w.Header().Set("Retry-After", strconv.Itoa(int(res.RetryAfter.Seconds())+1))
		writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "too many reservation attempts", Kind: "rate_limited"})
		return false
	}
	h.Limiter.RecordAttempt(userID, ip)
	return true
}

// Register wires all routes onto the mux.
func (h *Handlers) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/bookings", h.handleCreateBooking)
	mux.HandleFunc("GET /api/v1/bookings", h.handleListBookings)
	mux.HandleFunc("POST /api/v1/bookings/{id}/cancel", h.handleCancelBooking)
	mux.HandleFunc("DELETE /api/v1/bookings/{id}/history", h.handleHideBooking)
	mux.HandleFunc("GET /api/v1/payments/callback", h.handlePaymentCallback)

	mux.HandleFunc("GET /api/v1/courts", h.handleListCourts)
	mux.HandleFunc("GET /api/v1/courts/{id}/quote", h.handleQuote)

	mux.HandleFunc("GET /api/v1/loyalty/{userID}", h.handleLoyalty)

	mux.HandleFunc("POST /api/v1/tournaments/{id}/registrations", h.handleRegisterTeam)
	mux.HandleFunc("POST /api/v1/registrations/{id}/withdraw", h.handleWithdraw)
	mux.HandleFunc("GET /api/v1/payments/registration-callback", h.handleFeeCallback)
	mux.HandleFunc("GET /api/v1/tournaments/{id}", h.handleGetTournament)
	mux.HandleFunc("GET /api/v1/tournaments/{id}/bracket", h.handleBracket)
	mux.HandleFunc("POST /api/v1/tournaments/{id}/matches/{number}/result", h.handleMatchResult)
}

type customerPayload struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

func (p *customerPayload) toKhalti() *khalti.CustomerInfo {
	if p == nil {
		return nil
	}
	return &khalti.CustomerInfo{Name: p.Name, Email: p.Email, Phone: p.Phone}
}

type bookingView struct {
	ID            string `json:"id"`
	CourtID       string `json:"courtId"`
	UserID        string `json:"userId"`
	Date          string `json:"date"`
	StartTime     string `json:"startTime"`
	EndTime       string `json:"endTime"`
	Price         int64  `json:"price"`
	PriceType     string `json:"priceType"`
	Status        string `json:"status"`
	PaymentStatus string `json:"paymentStatus"`
	PaymentMethod string `json:"paymentMethod"`
	PointsUsed    int64  `json:"pointsUsed,omitempty"`
	PaymentURL    string `json:"paymentUrl,omitempty"`
}

func viewOf(b *booking.Booking, paymentURL string) bookingView {
	return bookingView{
		ID:            b.ID,
		CourtID:       b.CourtID,
		UserID:        b.UserID,
		Date:          b.Date,
		StartTime:     b.StartTime,
		EndTime:       b.EndTime,
		Price:         b.Price,
		PriceType:     string(b.PriceType),
		Status:        string(b.Status),
		PaymentStatus: string(b.PaymentStatus),
		PaymentMethod: string(b.PaymentMethod),
		PointsUsed:    b.PointsUsed,
		PaymentURL:    paymentURL,
	}
}

func (h *Handlers) handleCreateBooking(w http.ResponseWriter, r *http.Request) {
	var body struct {
		CourtID       string           `json:"courtId"`
		UserID        string           `json:"userId"`
		Date          string           `json:"date"`
		StartTime     string           `json:"startTime"`
		EndTime       string           `json:"endTime"`
		PaymentMethod string           `json:"paymentMethod"`
		Customer      *customerPayload `json:"customer"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, r, fault.Wrap(fault.KindValidation, "invalid request body", err))
		return
	}

	settlement, ok := booking.SettlementFor(booking.Method(body.PaymentMethod))
	if !ok {
		writeError(w, r, fault.Newf(fault.KindValidation, "unknown payment method %q", body.PaymentMethod))
		return
	}
	if !h.throttle(w, r, body.UserID) {
		return
	}

	result, err := h.Coordinator.CreateBooking(r.Context(), booking.CreateRequest{
		CourtID:    body.CourtID,
		UserID:     body.UserID,
		Date:       body.Date,
		StartTime:  body.StartTime,
		EndTime:    body.EndTime,
		Settlement: settlement,
		Customer:   body.Customer.toKhalti(),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, viewOf(result.Booking, result.PaymentURL))
}

func (h *Handlers) handleListBookings(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, r, fault.New(fault.KindValidation, "user_id is required"))
		return
	}
	list, err := h.Bookings.ListForUser(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	views := make([]bookingView, 0, len(list))
	for _, b := range list {
		views = append(views, viewOf(b, ""))
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *Handlers) handleCancelBooking(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ActorID string `json:"actorId"`
		Role    string `json:"role"`
		Reason  string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, r, fault.Wrap(fault.KindValidation, "invalid request body", err))
		return
	}
	role := booking.RoleUser
	if body.Role == string(booking.RoleAdmin) {
		role = booking.RoleAdmin
	}
	b, err := h.Coordinator.CancelBooking(r.Context(), r.PathValue("id"), body.ActorID, role, body.Reason)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(b, ""))
}

func (h *Handlers) handleHideBooking(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, r, fault.New(fault.KindValidation, "user_id is required"))
		return
	}
	if err := h.Bookings.HideFromHistory(r.Context(), r.PathValue("id"), userID, time.Now().UTC()); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

func (h *Handlers) handlePaymentCallback(w http.ResponseWriter, r *http.Request) {
	b, err := h.Coordinator.VerifyPayment(r.Context(), r.URL.Query().Get("pidx"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(b, ""))
}

func (h *Handlers) handleListCourts(w http.ResponseWriter, r *http.Request) {
	courts, err := h.Courts.ListCourts(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, courts)
}

// handleQuote prices a slot without reserving it.
func (h *Handlers) handleQuote(w http.ResponseWriter, r *http.Request) {
	startTime := r.URL.Query().Get("start_time")
	court, err := h.Courts.GetCourt(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	price, tier := booking.Quote(court, startTime)
	writeJSON(w, http.StatusOK, map[string]any{
		"courtId":   court.ID,
		"startTime": startTime,
		"price":     price,
		"priceType": tier,
	})
}

func (h *Handlers) handleLoyalty(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userID")
	balance, err := h.Loyalty.Balance(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	txns, err := h.Loyalty.Transactions(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"userId":       userID,
		"balance":      balance,
		"transactions": txns,
	})
}

func (h *Handlers) handleRegisterTeam(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserID   string           `json:"userId"`
		TeamName string           `json:"teamName"`
		Players  []string         `json:"players"`
		Customer *customerPayload `json:"customer"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, r, fault.Wrap(fault.KindValidation, "invalid request body", err))
		return
	}
	if !h.throttle(w, r, body.UserID) {
		return
	}
	result, err := h.Registrar.RegisterTeam(r.Context(), tournament.RegisterRequest{
		TournamentID: r.PathValue("id"),
		UserID:       body.UserID,
		TeamName:     body.TeamName,
		Players:      body.Players,
		Customer:     body.Customer.toKhalti(),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"registration": result.Registration,
		"paymentUrl":   result.PaymentURL,
	})
}

func (h *Handlers) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ActorID string `json:"actorId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, r, fault.Wrap(fault.KindValidation, "invalid request body", err))
		return
	}
	reg, err := h.Registrar.Withdraw(r.Context(), r.PathValue("id"), body.ActorID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reg)
}

func (h *Handlers) handleFeeCallback(w http.ResponseWriter, r *http.Request) {
	reg, err := h.Registrar.VerifyFeePayment(r.Context(), r.URL.Query().Get("pidx"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reg)
}

func (h *Handlers) handleGetTournament(w http.ResponseWriter, r *http.Request) {
	t, err := h.Tournaments.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *Handlers) handleBracket(w http.ResponseWriter, r *http.Request) {
	b, err := h.Registrar.EnsureBracket(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (h *Handlers) handleMatchResult(w http.ResponseWriter, r *http.Request) {
	number, err := strconv.Atoi(r.PathValue("number"))
	if err != nil {
		writeError(w, r, fault.New(fault.KindValidation, "match number must be an integer"))
		return
	}
	var body struct {
		ActorID  string `json:"actorId"`
		WinnerID string `json:"winnerId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, r, fault.Wrap(fault.KindValidation, "invalid request body", err))
		return
	}
	b, err := h.Registrar.RecordMatchResult(r.Context(), r.PathValue("id"), body.ActorID, number, body.WinnerID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}
