package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/lnbits/lncalendar/internal/availability"
	"github.com/lnbits/lncalendar/internal/booking"
	"github.com/lnbits/lncalendar/internal/storage"
	"github.com/lnbits/lncalendar/internal/unavailability"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type rejectionResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

// writeError maps domain errors onto the HTTP surface. Rejections carry a
// machine-readable reason code; anything unexpected is a plain 500 so
// internals do not leak.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, availability.ErrDateUnavailable):
		writeJSON(w, http.StatusConflict, rejectionResponse{Error: err.Error(), Reason: "DateUnavailable"})
	case errors.Is(err, availability.ErrSlotTaken):
		writeJSON(w, http.StatusConflict, rejectionResponse{Error: err.Error(), Reason: "SlotTaken"})
	case errors.Is(err, availability.ErrSlotInPast):
		writeJSON(w, http.StatusConflict, rejectionResponse{Error: err.Error(), Reason: "SlotInPast"})
	case errors.Is(err, booking.ErrMissingFields), errors.Is(err, unavailability.ErrInvalidRange):
		writeJSON(w, http.StatusBadRequest, rejectionResponse{Error: err.Error()})
	case storage.IsNotFound(err):
		writeJSON(w, http.StatusNotFound, rejectionResponse{Error: "not found"})
	default:
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
