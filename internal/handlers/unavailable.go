package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/lnbits/lncalendar/internal/model"
)

// UnavailabilityStore is the slice of *unavailability.Store the handlers use.
type UnavailabilityStore interface {
	AddRange(ctx context.Context, scheduleID, name, from, to string) (model.UnavailabilityRange, error)
	ListRanges(ctx context.Context, scheduleID string) ([]model.UnavailabilityRange, error)
	DeleteRange(ctx context.Context, scheduleID, rangeID string) error
}

type UnavailableHandler struct {
	store     UnavailabilityStore
	schedules ScheduleStore
	logger    *slog.Logger
}

func NewUnavailableHandler(store UnavailabilityStore, schedules ScheduleStore, logger *slog.Logger) *UnavailableHandler {
	return &UnavailableHandler{store: store, schedules: schedules, logger: logger}
}

type createUnavailableRequest struct {
	Schedule  string `json:"schedule"`
	Name      string `json:"name"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

func (h *UnavailableHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createUnavailableRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.Schedule = strings.TrimSpace(req.Schedule)
	if req.Schedule == "" {
		http.Error(w, "schedule is required", http.StatusBadRequest)
		return
	}
	sched, err := h.schedules.Get(r.Context(), req.Schedule)
	if err != nil {
		writeError(w, err)
		return
	}
	if !walletInScope(r, sched.Wallet) {
		http.Error(w, "not your schedule", http.StatusForbidden)
		return
	}

	rng, err := h.store.AddRange(r.Context(), req.Schedule, strings.TrimSpace(req.Name), strings.TrimSpace(req.StartDate), strings.TrimSpace(req.EndDate))
	if err != nil {
		writeError(w, err)
		return
	}
	h.logger.Info("unavailable range added", "schedule_id", req.Schedule, "range_id", rng.ID)
	writeJSON(w, http.StatusCreated, rng)
}

// List is public so booking clients can grey out blocked dates.
func (h *UnavailableHandler) List(w http.ResponseWriter, r *http.Request) {
	ranges, err := h.store.ListRanges(r.Context(), r.PathValue("scheduleID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ranges)
}

func (h *UnavailableHandler) Delete(w http.ResponseWriter, r *http.Request) {
	scheduleID := r.PathValue("scheduleID")
	sched, err := h.schedules.Get(r.Context(), scheduleID)
	if err != nil {
		writeError(w, err)
		return
	}
	if !walletInScope(r, sched.Wallet) {
		http.Error(w, "not your schedule", http.StatusForbidden)
		return
	}
	if err := h.store.DeleteRange(r.Context(), scheduleID, r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	h.logger.Info("unavailable range deleted", "schedule_id", scheduleID, "range_id", r.PathValue("id"))
	w.WriteHeader(http.StatusNoContent)
}
