package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/lnbits/lncalendar/internal/booking"
	"github.com/lnbits/lncalendar/internal/model"
	"github.com/lnbits/lncalendar/internal/timegrid"
	"github.com/lnbits/lncalendar/libs/auth"
)

// BookingService is the slice of *booking.Service the appointment handlers
// depend on.
type BookingService interface {
	Book(ctx context.Context, req booking.Request) (booking.Result, error)
	ConfirmPayment(ctx context.Context, appointmentID string) (model.Appointment, error)
	CheckInvoice(ctx context.Context, scheduleID, paymentHash string) (bool, error)
	PurgeExpired(ctx context.Context, scheduleID string) (int, error)
	UpdateAppointment(ctx context.Context, a model.Appointment) error
	DeleteAppointment(ctx context.Context, id string) error
}

// AppointmentStore is the persistence surface for owner-side appointment
// management; *storage.AppointmentRepository satisfies it.
type AppointmentStore interface {
	Get(ctx context.Context, id string) (model.Appointment, error)
	ListBySchedule(ctx context.Context, scheduleID string) ([]model.Appointment, error)
	ListByWallets(ctx context.Context, walletIDs []string) ([]model.Appointment, error)
}

type AppointmentHandler struct {
	svc       BookingService
	appts     AppointmentStore
	schedules ScheduleStore
	logger    *slog.Logger
}

func NewAppointmentHandler(svc BookingService, appts AppointmentStore, schedules ScheduleStore, logger *slog.Logger) *AppointmentHandler {
	return &AppointmentHandler{svc: svc, appts: appts, schedules: schedules, logger: logger}
}

type createAppointmentRequest struct {
	Schedule string `json:"schedule"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Info     string `json:"info"`
	Date     string `json:"date"`
	Slot     string `json:"start_time"`
}

type createAppointmentResponse struct {
	PaymentHash    string `json:"payment_hash"`
	PaymentRequest string `json:"payment_request"`
}

// Create is the public booking endpoint: it reserves the slot and returns
// the payment handle the client settles to confirm the appointment.
func (h *AppointmentHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createAppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.Schedule = strings.TrimSpace(req.Schedule)
	req.Date = strings.TrimSpace(req.Date)
	req.Slot = strings.TrimSpace(req.Slot)
	if req.Schedule == "" {
		http.Error(w, "schedule is required", http.StatusBadRequest)
		return
	}
	if _, err := timegrid.ParseDate(req.Date); err != nil {
		http.Error(w, "invalid date", http.StatusBadRequest)
		return
	}
	if _, err := timegrid.ParseClock(req.Slot); err != nil {
		http.Error(w, "invalid start_time", http.StatusBadRequest)
		return
	}

	res, err := h.svc.Book(r.Context(), booking.Request{
		ScheduleID: req.Schedule,
		Name:       req.Name,
		Email:      req.Email,
		Info:       req.Info,
		Date:       req.Date,
		Slot:       req.Slot,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, createAppointmentResponse{
		PaymentHash:    res.PaymentHash,
		PaymentRequest: res.PaymentRequest,
	})
}

// CheckInvoice reports whether the payment behind an appointment has
// settled, confirming the appointment as a side effect when it has.
func (h *AppointmentHandler) CheckInvoice(w http.ResponseWriter, r *http.Request) {
	paid, err := h.svc.CheckInvoice(r.Context(), r.PathValue("scheduleID"), r.PathValue("paymentHash"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"paid": paid})
}

type appointmentView struct {
	model.Appointment
	Date string `json:"date"`
	Slot string `json:"slot"`
}

func toViews(appts []model.Appointment) []appointmentView {
	views := make([]appointmentView, 0, len(appts))
	for _, a := range appts {
		// Pending payment requests are only for the booking client, not
		// owner listings.
		a.PaymentRequest = ""
		views = append(views, appointmentView{
			Appointment: a,
			Date:        timegrid.FormatDate(a.StartTime),
			Slot:        a.StartTime.UTC().Format(timegrid.ClockLayout),
		})
	}
	return views
}

func (h *AppointmentHandler) ListBySchedule(w http.ResponseWriter, r *http.Request) {
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
	appts, err := h.appts.ListBySchedule(r.Context(), scheduleID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toViews(appts))
}

// ListAll returns the owner's appointments across wallets, grouped by
// canonical date for calendar display.
func (h *AppointmentHandler) ListAll(w http.ResponseWriter, r *http.Request) {
	wallets := auth.WalletIDs(r)
	if len(wallets) == 0 {
		http.Error(w, "wallet scope required", http.StatusBadRequest)
		return
	}
	appts, err := h.appts.ListByWallets(r.Context(), wallets)
	if err != nil {
		writeError(w, err)
		return
	}

	grouped := booking.GroupByDate(appts)
	out := make(map[string][]appointmentView, len(grouped))
	for date, list := range grouped {
		out[date] = toViews(list)
	}
	writeJSON(w, http.StatusOK, out)
}

type updateAppointmentRequest struct {
	Name  *string `json:"name"`
	Email *string `json:"email"`
	Info  *string `json:"info"`
}

// Update lets the owner correct client details on an appointment. Times are
// not editable here; moving a booking is a cancel plus rebook so the
// resolver's conflict rules always apply.
func (h *AppointmentHandler) Update(w http.ResponseWriter, r *http.Request) {
	appt, sched, ok := h.ownedAppointment(w, r)
	if !ok {
		return
	}

	var req updateAppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if req.Name != nil {
		appt.Name = strings.TrimSpace(*req.Name)
	}
	if req.Email != nil {
		appt.Email = strings.TrimSpace(*req.Email)
	}
	if req.Info != nil {
		appt.Info = strings.TrimSpace(*req.Info)
	}
	if appt.Name == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}

	if err := h.svc.UpdateAppointment(r.Context(), appt); err != nil {
		writeError(w, err)
		return
	}
	h.logger.Info("appointment updated", "appointment_id", appt.ID, "schedule_id", sched.ID)
	writeJSON(w, http.StatusOK, toViews([]model.Appointment{appt})[0])
}

func (h *AppointmentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	appt, sched, ok := h.ownedAppointment(w, r)
	if !ok {
		return
	}
	if err := h.svc.DeleteAppointment(r.Context(), appt.ID); err != nil {
		writeError(w, err)
		return
	}
	h.logger.Info("appointment deleted", "appointment_id", appt.ID, "schedule_id", sched.ID)
	w.WriteHeader(http.StatusNoContent)
}

// Purge deletes a schedule's expired pending appointments so their slots can
// be presented as bookable again.
func (h *AppointmentHandler) Purge(w http.ResponseWriter, r *http.Request) {
	scheduleID := r.PathValue("scheduleID")
	if _, err := h.schedules.Get(r.Context(), scheduleID); err != nil {
		writeError(w, err)
		return
	}
	count, err := h.svc.PurgeExpired(r.Context(), scheduleID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"purged": count})
}

func (h *AppointmentHandler) ownedAppointment(w http.ResponseWriter, r *http.Request) (model.Appointment, model.Schedule, bool) {
	appt, err := h.appts.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return model.Appointment{}, model.Schedule{}, false
	}
	sched, err := h.schedules.Get(r.Context(), appt.Schedule)
	if err != nil {
		writeError(w, err)
		return model.Appointment{}, model.Schedule{}, false
	}
	if !walletInScope(r, sched.Wallet) {
		http.Error(w, "not your schedule", http.StatusForbidden)
		return model.Appointment{}, model.Schedule{}, false
	}
	return appt, sched, true
}
