package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/lnbits/lncalendar/internal/booking"
	"github.com/lnbits/lncalendar/internal/model"
	"github.com/lnbits/lncalendar/internal/timegrid"
	"github.com/lnbits/lncalendar/libs/auth"
)

// ScheduleStore is the persistence surface the schedule handlers need;
// *storage.ScheduleRepository satisfies it.
type ScheduleStore interface {
	Create(ctx context.Context, s *model.Schedule) error
	Get(ctx context.Context, id string) (model.Schedule, error)
	ListByWallets(ctx context.Context, walletIDs []string) ([]model.Schedule, error)
	Update(ctx context.Context, s model.Schedule) error
	Delete(ctx context.Context, id string) error
}

// AvailabilityResolver is the slice of the booking service the schedule
// handlers use for the public availability view.
type AvailabilityResolver interface {
	DaySlots(ctx context.Context, scheduleID, date string) ([]booking.SlotStatus, error)
	BookableDates(ctx context.Context, scheduleID, from, to string) ([]string, error)
}

type ScheduleHandler struct {
	store  ScheduleStore
	avail  AvailabilityResolver
	logger *slog.Logger
}

func NewScheduleHandler(store ScheduleStore, avail AvailabilityResolver, logger *slog.Logger) *ScheduleHandler {
	return &ScheduleHandler{store: store, avail: avail, logger: logger}
}

type scheduleRequest struct {
	Wallet        string            `json:"wallet"`
	Name          string            `json:"name"`
	StartTime     string            `json:"start_time"`
	EndTime       string            `json:"end_time"`
	AvailableDays []int             `json:"available_days"`
	SlotMinutes   int               `json:"slot_minutes"`
	Amount        float64           `json:"amount"`
	Currency      string            `json:"currency"`
	Timezone      string            `json:"timezone"`
	Extra         map[string]string `json:"extra,omitempty"`
}

func (req *scheduleRequest) validate() string {
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return "name is required"
	}
	start, err := timegrid.ParseClock(req.StartTime)
	if err != nil {
		return "invalid start_time"
	}
	end, err := timegrid.ParseClock(req.EndTime)
	if err != nil {
		return "invalid end_time"
	}
	if start >= end {
		return "start_time must be before end_time"
	}
	if len(req.AvailableDays) == 0 {
		return "available_days is required"
	}
	seen := map[int]bool{}
	for _, d := range req.AvailableDays {
		if d < 0 || d > 6 {
			return "available_days entries must be in 0..6 (Monday=0)"
		}
		if seen[d] {
			return "available_days entries must be unique"
		}
		seen[d] = true
	}
	if req.SlotMinutes == 0 {
		req.SlotMinutes = 30
	}
	if req.SlotMinutes < 5 {
		return "slot_minutes must be at least 5"
	}
	if req.Amount < 0 {
		return "amount must not be negative"
	}
	if req.Currency == "" {
		req.Currency = "sat"
	}
	if req.Timezone == "" {
		req.Timezone = "UTC"
	}
	return ""
}

func (h *ScheduleHandler) List(w http.ResponseWriter, r *http.Request) {
	wallets := auth.WalletIDs(r)
	if len(wallets) == 0 {
		http.Error(w, "wallet scope required", http.StatusBadRequest)
		return
	}
	schedules, err := h.store.ListByWallets(r.Context(), wallets)
	if err != nil {
		writeError(w, err)
		return
	}
	if schedules == nil {
		schedules = []model.Schedule{}
	}
	writeJSON(w, http.StatusOK, schedules)
}

func (h *ScheduleHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.Wallet = strings.TrimSpace(req.Wallet)
	if req.Wallet == "" || !walletInScope(r, req.Wallet) {
		http.Error(w, "not your wallet", http.StatusForbidden)
		return
	}
	if msg := req.validate(); msg != "" {
		http.Error(w, msg, http.StatusBadRequest)
		return
	}

	sched := model.Schedule{
		Wallet:        req.Wallet,
		Name:          req.Name,
		StartTime:     req.StartTime,
		EndTime:       req.EndTime,
		AvailableDays: req.AvailableDays,
		SlotMinutes:   req.SlotMinutes,
		Amount:        req.Amount,
		Currency:      req.Currency,
		Timezone:      req.Timezone,
		Extra:         req.Extra,
	}
	if err := h.store.Create(r.Context(), &sched); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sched)
}

func (h *ScheduleHandler) Get(w http.ResponseWriter, r *http.Request) {
	sched, err := h.store.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sched)
}

func (h *ScheduleHandler) Update(w http.ResponseWriter, r *http.Request) {
	sched, err := h.store.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if !walletInScope(r, sched.Wallet) {
		http.Error(w, "not your schedule", http.StatusForbidden)
		return
	}

	var req scheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if msg := req.validate(); msg != "" {
		http.Error(w, msg, http.StatusBadRequest)
		return
	}

	sched.Name = req.Name
	sched.StartTime = req.StartTime
	sched.EndTime = req.EndTime
	sched.AvailableDays = req.AvailableDays
	sched.SlotMinutes = req.SlotMinutes
	sched.Amount = req.Amount
	sched.Currency = req.Currency
	sched.Timezone = req.Timezone
	sched.Extra = req.Extra

	if err := h.store.Update(r.Context(), sched); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sched)
}

// Delete removes a schedule and, with it, every appointment and
// unavailability range it owns.
func (h *ScheduleHandler) Delete(w http.ResponseWriter, r *http.Request) {
	sched, err := h.store.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if !walletInScope(r, sched.Wallet) {
		http.Error(w, "not your schedule", http.StatusForbidden)
		return
	}
	if err := h.store.Delete(r.Context(), sched.ID); err != nil {
		writeError(w, err)
		return
	}
	h.logger.Info("schedule deleted", "schedule_id", sched.ID, "wallet", sched.Wallet)
	w.WriteHeader(http.StatusNoContent)
}

// Availability serves the public calendar view: the bookable dates of a
// window, or the slot grid of a single date when ?date= is given.
func (h *ScheduleHandler) Availability(w http.ResponseWriter, r *http.Request) {
	scheduleID := r.PathValue("id")
	q := r.URL.Query()

	if date := strings.TrimSpace(q.Get("date")); date != "" {
		if _, err := timegrid.ParseDate(date); err != nil {
			http.Error(w, "invalid date", http.StatusBadRequest)
			return
		}
		slots, err := h.avail.DaySlots(r.Context(), scheduleID, date)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, slots)
		return
	}

	from := strings.TrimSpace(q.Get("from"))
	to := strings.TrimSpace(q.Get("to"))
	if from == "" {
		from = timegrid.FormatDate(time.Now().UTC())
	}
	fromDay, err := timegrid.ParseDate(from)
	if err != nil {
		http.Error(w, "invalid from date", http.StatusBadRequest)
		return
	}
	if to == "" {
		to = timegrid.FormatDate(fromDay.AddDate(0, 1, 0))
	}
	if _, err := timegrid.ParseDate(to); err != nil {
		http.Error(w, "invalid to date", http.StatusBadRequest)
		return
	}

	dates, err := h.avail.BookableDates(r.Context(), scheduleID, from, to)
	if err != nil {
		writeError(w, err)
		return
	}
	if dates == nil {
		dates = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"bookable_dates": dates})
}

func walletInScope(r *http.Request, wallet string) bool {
	for _, w := range auth.WalletIDs(r) {
		if w == wallet {
			return true
		}
	}
	return false
}
