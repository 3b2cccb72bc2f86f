package api

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/futsalmandu/futsalmandu/internal/fault"
)

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// writeError maps the domain error taxonomy onto HTTP statuses. Unclassified
// errors stay opaque to the client.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind, ok := fault.KindOf(err)
	if !ok {
		log.Ctx(r.Context()).Error().Err(err).Msg("Request failed")
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error", Kind: "internal"})
		return
	}

	status := http.StatusInternalServerError
	switch kind {
	case fault.KindValidation:
		status = http.StatusBadRequest
	case fault.KindNotFound:
		status = http.StatusNotFound
	case fault.KindConflict, fault.KindAmountMismatch:
		status = http.StatusConflict
	case fault.KindInsufficientPoints:
		status = http.StatusPaymentRequired
	case fault.KindGateway:
		status = http.StatusBadGateway
	}
	writeJSON(w, status, errorBody{Error: err.Error(), Kind: kind.String()})
}
