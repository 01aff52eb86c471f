// Package booking drives the appointment lifecycle: a slot request is checked
// against the availability resolver, reserved as a pending appointment, and
// handed to the payment provider; settlement confirms it, the purge sweep
// reclaims it.
package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/lnbits/lncalendar/internal/availability"
	"github.com/lnbits/lncalendar/internal/model"
	"github.com/lnbits/lncalendar/internal/outbox"
	"github.com/lnbits/lncalendar/internal/payments"
	"github.com/lnbits/lncalendar/internal/storage"
	"github.com/lnbits/lncalendar/internal/timegrid"
)

var ErrMissingFields = errors.New("missing required booking fields")

// ScheduleStore is the schedule lookup the service needs;
// *storage.ScheduleRepository satisfies it.
type ScheduleStore interface {
	Get(ctx context.Context, id string) (model.Schedule, error)
}

// AppointmentStore is the persistence surface of the appointment lifecycle;
// *storage.AppointmentRepository satisfies it.
type AppointmentStore interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	LockSlot(ctx context.Context, tx pgx.Tx, scheduleID string, start time.Time) error
	ListForSlot(ctx context.Context, tx pgx.Tx, scheduleID string, start time.Time) ([]model.Appointment, error)
	Create(ctx context.Context, tx pgx.Tx, a *model.Appointment) error
	Get(ctx context.Context, id string) (model.Appointment, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (model.Appointment, error)
	MarkPaid(ctx context.Context, tx pgx.Tx, id string) (bool, error)
	ListBySchedule(ctx context.Context, scheduleID string) ([]model.Appointment, error)
	Update(ctx context.Context, tx pgx.Tx, a model.Appointment) error
	Delete(ctx context.Context, tx pgx.Tx, id string) error
	DeleteExpired(ctx context.Context, tx pgx.Tx, scheduleID string, cutoff time.Time) ([]model.Appointment, error)
	DeleteExpiredForSlot(ctx context.Context, tx pgx.Tx, scheduleID string, start time.Time, cutoff time.Time) ([]model.Appointment, error)
}

// UnavailabilityReader supplies the expanded blocked-date set;
// *unavailability.Store satisfies it.
type UnavailabilityReader interface {
	UnavailableDates(ctx context.Context, scheduleID string) (map[string]struct{}, error)
}

// EventRecorder appends lifecycle events to the transactional outbox;
// *outbox.Repository satisfies it.
type EventRecorder interface {
	Insert(ctx context.Context, tx pgx.Tx, evt outbox.Event) error
}

type Service struct {
	schedules   ScheduleStore
	appts       AppointmentStore
	unavailable UnavailabilityReader
	outbox      EventRecorder
	provider    payments.Provider
	logger      *slog.Logger
	pendingTTL  time.Duration
	now         func() time.Time
}

func NewService(
	schedules ScheduleStore,
	appts AppointmentStore,
	unavailable UnavailabilityReader,
	events EventRecorder,
	provider payments.Provider,
	logger *slog.Logger,
	pendingTTL time.Duration,
) *Service {
	if pendingTTL <= 0 {
		pendingTTL = 24 * time.Hour
	}
	return &Service{
		schedules:   schedules,
		appts:       appts,
		unavailable: unavailable,
		outbox:      events,
		provider:    provider,
		logger:      logger,
		pendingTTL:  pendingTTL,
		now:         time.Now,
	}
}

type Request struct {
	ScheduleID string
	Name       string
	Email      string
	Info       string
	Date       string // canonical date
	Slot       string // "HH:MM"
}

type Result struct {
	Appointment    model.Appointment
	PaymentHash    string
	PaymentRequest string
}

// Book validates the slot request, reserves the slot as a pending appointment
// and returns the payment handle the client settles against. The check and
// the insert run under a per-(schedule, slot) advisory lock so two concurrent
// requests cannot both pass the availability check.
func (s *Service) Book(ctx context.Context, req Request) (Result, error) {
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" || req.Date == "" || req.Slot == "" {
		return Result{}, ErrMissingFields
	}

	sched, err := s.schedules.Get(ctx, req.ScheduleID)
	if err != nil {
		return Result{}, err
	}

	start, end, err := slotInterval(sched, req.Date, req.Slot)
	if err != nil {
		return Result{}, err
	}

	unavailSet, err := s.unavailable.UnavailableDates(ctx, req.ScheduleID)
	if err != nil {
		return Result{}, err
	}

	now := s.now().UTC()

	tx, err := s.appts.Begin(ctx)
	if err != nil {
		return Result{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := s.appts.LockSlot(ctx, tx, sched.ID, start); err != nil {
		return Result{}, err
	}
	// Reclaim stale reservations for this slot under the lock. Deleting them
	// here, not just treating them as free, means a stale invoice that
	// settles later finds no row to mark paid.
	reclaimed, err := s.appts.DeleteExpiredForSlot(ctx, tx, sched.ID, start, now.Add(-s.pendingTTL))
	if err != nil {
		return Result{}, err
	}
	for _, stale := range reclaimed {
		if err := s.emit(ctx, tx, outbox.EventAppointmentPurged, stale); err != nil {
			return Result{}, err
		}
	}
	existing, err := s.appts.ListForSlot(ctx, tx, sched.ID, start)
	if err != nil {
		return Result{}, err
	}
	if err := availability.CheckSlot(sched, req.Date, req.Slot, unavailSet, existing, now, s.pendingTTL); err != nil {
		return Result{}, err
	}

	invoice, err := s.provider.CreateInvoice(ctx, sched.Amount, sched.Currency, sched.Name)
	if err != nil {
		return Result{}, fmt.Errorf("issue payment request: %w", err)
	}

	appt := model.Appointment{
		ID:             invoice.PaymentHash,
		Schedule:       sched.ID,
		Name:           req.Name,
		Email:          strings.TrimSpace(req.Email),
		Info:           strings.TrimSpace(req.Info),
		StartTime:      start,
		EndTime:        end,
		Status:         model.AppointmentPending,
		PaymentRequest: invoice.PaymentRequest,
	}
	if err := s.appts.Create(ctx, tx, &appt); err != nil {
		if storage.IsConflict(err) {
			return Result{}, availability.ErrSlotTaken
		}
		return Result{}, err
	}

	if err := s.emit(ctx, tx, outbox.EventAppointmentCreated, appt); err != nil {
		return Result{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Result{}, err
	}

	s.logger.Info("appointment reserved",
		"appointment_id", appt.ID,
		"schedule_id", sched.ID,
		"start_time", start.Format(time.RFC3339),
	)
	return Result{
		Appointment:    appt,
		PaymentHash:    invoice.PaymentHash,
		PaymentRequest: invoice.PaymentRequest,
	}, nil
}

// ConfirmPayment marks a pending appointment paid. Confirming an already-paid
// appointment is a no-op, not an error; an appointment the purge already
// reclaimed surfaces as not found.
func (s *Service) ConfirmPayment(ctx context.Context, appointmentID string) (model.Appointment, error) {
	tx, err := s.appts.Begin(ctx)
	if err != nil {
		return model.Appointment{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	appt, err := s.appts.GetForUpdate(ctx, tx, appointmentID)
	if err != nil {
		return model.Appointment{}, err
	}
	if appt.Status == model.AppointmentPaid {
		return appt, tx.Commit(ctx)
	}

	updated, err := s.appts.MarkPaid(ctx, tx, appointmentID)
	if err != nil {
		return model.Appointment{}, err
	}
	if updated {
		appt.Status = model.AppointmentPaid
		appt.PaymentRequest = ""
		if err := s.emit(ctx, tx, outbox.EventAppointmentPaid, appt); err != nil {
			return model.Appointment{}, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return model.Appointment{}, err
	}

	s.logger.Info("appointment paid", "appointment_id", appt.ID, "schedule_id", appt.Schedule)
	return appt, nil
}

// CheckInvoice polls the payment provider for the appointment's payment hash
// and confirms the appointment when the provider reports settlement. An
// unsettled payment leaves the appointment pending.
func (s *Service) CheckInvoice(ctx context.Context, scheduleID, paymentHash string) (bool, error) {
	appt, err := s.appts.Get(ctx, paymentHash)
	if err != nil {
		return false, err
	}
	if appt.Schedule != scheduleID {
		// Scoped lookup: a hash under another schedule is not found here.
		return false, pgx.ErrNoRows
	}
	if appt.Status == model.AppointmentPaid {
		return true, nil
	}

	paid, err := s.provider.IsPaid(ctx, paymentHash)
	if err != nil {
		return false, err
	}
	if !paid {
		return false, nil
	}
	if _, err := s.ConfirmPayment(ctx, paymentHash); err != nil {
		return false, err
	}
	return true, nil
}

// UpdateAppointment persists owner edits to an appointment's client details
// and emits the update event in the same transaction.
func (s *Service) UpdateAppointment(ctx context.Context, appt model.Appointment) error {
	tx, err := s.appts.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := s.appts.Update(ctx, tx, appt); err != nil {
		return err
	}
	if err := s.emit(ctx, tx, outbox.EventAppointmentUpdated, appt); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}

	s.logger.Info("appointment updated", "appointment_id", appt.ID, "schedule_id", appt.Schedule)
	return nil
}

// DeleteAppointment removes an appointment on the owner's behalf, freeing its
// slot, and emits the delete event in the same transaction.
func (s *Service) DeleteAppointment(ctx context.Context, id string) error {
	tx, err := s.appts.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	appt, err := s.appts.GetForUpdate(ctx, tx, id)
	if err != nil {
		return err
	}
	if err := s.appts.Delete(ctx, tx, id); err != nil {
		return err
	}
	if err := s.emit(ctx, tx, outbox.EventAppointmentDeleted, appt); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}

	s.logger.Info("appointment deleted", "appointment_id", appt.ID, "schedule_id", appt.Schedule)
	return nil
}

// PurgeExpired deletes pending appointments older than the expiry window,
// freeing their slots. scheduleID == "" sweeps all schedules. Paid
// appointments are never purged.
func (s *Service) PurgeExpired(ctx context.Context, scheduleID string) (int, error) {
	tx, err := s.appts.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	cutoff := s.now().UTC().Add(-s.pendingTTL)
	purged, err := s.appts.DeleteExpired(ctx, tx, scheduleID, cutoff)
	if err != nil {
		return 0, err
	}
	for _, appt := range purged {
		if err := s.emit(ctx, tx, outbox.EventAppointmentPurged, appt); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}

	if len(purged) > 0 {
		s.logger.Info("expired appointments purged", "count", len(purged), "schedule_id", scheduleID)
	}
	return len(purged), nil
}

// SlotStatus is one slot of a day with its bookable decision, shaped for the
// presentation collaborator.
type SlotStatus struct {
	Start    string `json:"start_time"`
	End      string `json:"end_time"`
	Bookable bool   `json:"bookable"`
}

// DaySlots resolves the full slot grid of a schedule for one date. Stale
// pending reservations are purged first so they cannot hold slots the
// resolver would otherwise hand out.
func (s *Service) DaySlots(ctx context.Context, scheduleID, date string) ([]SlotStatus, error) {
	if _, err := timegrid.ParseDate(date); err != nil {
		return nil, err
	}
	if _, err := s.PurgeExpired(ctx, scheduleID); err != nil {
		return nil, err
	}

	sched, err := s.schedules.Get(ctx, scheduleID)
	if err != nil {
		return nil, err
	}
	unavailSet, err := s.unavailable.UnavailableDates(ctx, scheduleID)
	if err != nil {
		return nil, err
	}
	appts, err := s.appts.ListBySchedule(ctx, scheduleID)
	if err != nil {
		return nil, err
	}

	slots, err := timegrid.Slots(sched.StartTime, sched.EndTime, sched.SlotMinutes)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	out := make([]SlotStatus, 0, len(slots))
	for _, slot := range slots {
		end, err := timegrid.AddMinutes(slot, sched.SlotMinutes)
		if err != nil {
			return nil, err
		}
		out = append(out, SlotStatus{
			Start:    slot,
			End:      end,
			Bookable: availability.SlotBookable(sched, date, slot, unavailSet, appts, now, s.pendingTTL),
		})
	}
	return out, nil
}

// BookableDates lists the bookable dates of a schedule between from and to
// inclusive, applying the weekly template and the unavailable-date set.
func (s *Service) BookableDates(ctx context.Context, scheduleID, from, to string) ([]string, error) {
	sched, err := s.schedules.Get(ctx, scheduleID)
	if err != nil {
		return nil, err
	}
	unavailSet, err := s.unavailable.UnavailableDates(ctx, scheduleID)
	if err != nil {
		return nil, err
	}
	dates, err := timegrid.DateRange(from, to)
	if err != nil {
		return nil, err
	}

	today := timegrid.FormatDate(s.now().UTC())
	out := make([]string, 0, len(dates))
	for _, d := range dates {
		if availability.DateBookable(sched, d, unavailSet, today) {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *Service) emit(ctx context.Context, tx pgx.Tx, eventType string, appt model.Appointment) error {
	payload, err := json.Marshal(map[string]any{
		"appointment_id": appt.ID,
		"schedule_id":    appt.Schedule,
		"name":           appt.Name,
		"email":          appt.Email,
		"start_time":     appt.StartTime.UTC().Format(time.RFC3339),
		"end_time":       appt.EndTime.UTC().Format(time.RFC3339),
		"status":         appt.Status,
	})
	if err != nil {
		return err
	}
	return s.outbox.Insert(ctx, tx, outbox.Event{
		AggregateType: "appointment",
		AggregateID:   appt.ID,
		EventType:     eventType,
		Payload:       payload,
	})
}

// slotInterval builds the appointment interval for a slot request, rejecting
// slots that do not sit on the schedule's grid.
func slotInterval(sched model.Schedule, date, slot string) (time.Time, time.Time, error) {
	day, err := timegrid.ParseDate(date)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	grid, err := timegrid.Slots(sched.StartTime, sched.EndTime, sched.SlotMinutes)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	onGrid := false
	for _, g := range grid {
		if g == slot {
			onGrid = true
			break
		}
	}
	if !onGrid {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: slot %q is not on the schedule grid", ErrMissingFields, slot)
	}

	minutes, err := timegrid.ParseClock(slot)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	start := day.Add(time.Duration(minutes) * time.Minute)
	end := start.Add(time.Duration(sched.SlotMinutes) * time.Minute)
	return start, end, nil
}

// GroupByDate keys appointments by their canonical date for calendar display,
// preserving the date-then-slot order of the input.
func GroupByDate(appts []model.Appointment) map[string][]model.Appointment {
	grouped := make(map[string][]model.Appointment)
	for _, a := range appts {
		d := timegrid.FormatDate(a.StartTime)
		grouped[d] = append(grouped[d], a)
	}
	return grouped
}
