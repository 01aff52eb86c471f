package booking

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/lnbits/lncalendar/internal/model"
	"github.com/lnbits/lncalendar/internal/outbox"
	"github.com/lnbits/lncalendar/internal/payments"
)

type fakeTx struct{ pgx.Tx }

func (fakeTx) Commit(context.Context) error   { return nil }
func (fakeTx) Rollback(context.Context) error { return nil }

type fakeScheduleStore struct {
	schedules map[string]model.Schedule
}

func (f *fakeScheduleStore) Get(_ context.Context, id string) (model.Schedule, error) {
	s, ok := f.schedules[id]
	if !ok {
		return model.Schedule{}, pgx.ErrNoRows
	}
	return s, nil
}

type fakeApptStore struct {
	appts map[string]model.Appointment
}

func (f *fakeApptStore) Begin(context.Context) (pgx.Tx, error) { return fakeTx{}, nil }

func (f *fakeApptStore) LockSlot(context.Context, pgx.Tx, string, time.Time) error { return nil }

func (f *fakeApptStore) ListForSlot(_ context.Context, _ pgx.Tx, scheduleID string, start time.Time) ([]model.Appointment, error) {
	var out []model.Appointment
	for _, a := range f.appts {
		if a.Schedule == scheduleID && a.StartTime.Equal(start) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeApptStore) Create(_ context.Context, _ pgx.Tx, a *model.Appointment) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	f.appts[a.ID] = *a
	return nil
}

func (f *fakeApptStore) Get(_ context.Context, id string) (model.Appointment, error) {
	a, ok := f.appts[id]
	if !ok {
		return model.Appointment{}, pgx.ErrNoRows
	}
	return a, nil
}

func (f *fakeApptStore) GetForUpdate(ctx context.Context, _ pgx.Tx, id string) (model.Appointment, error) {
	return f.Get(ctx, id)
}

func (f *fakeApptStore) MarkPaid(_ context.Context, _ pgx.Tx, id string) (bool, error) {
	a, ok := f.appts[id]
	if !ok || a.Status != model.AppointmentPending {
		return false, nil
	}
	a.Status = model.AppointmentPaid
	a.PaymentRequest = ""
	f.appts[id] = a
	return true, nil
}

func (f *fakeApptStore) ListBySchedule(_ context.Context, scheduleID string) ([]model.Appointment, error) {
	var out []model.Appointment
	for _, a := range f.appts {
		if a.Schedule == scheduleID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeApptStore) Update(_ context.Context, _ pgx.Tx, a model.Appointment) error {
	if _, ok := f.appts[a.ID]; !ok {
		return pgx.ErrNoRows
	}
	f.appts[a.ID] = a
	return nil
}

func (f *fakeApptStore) Delete(_ context.Context, _ pgx.Tx, id string) error {
	if _, ok := f.appts[id]; !ok {
		return pgx.ErrNoRows
	}
	delete(f.appts, id)
	return nil
}

func (f *fakeApptStore) DeleteExpired(_ context.Context, _ pgx.Tx, scheduleID string, cutoff time.Time) ([]model.Appointment, error) {
	var out []model.Appointment
	for id, a := range f.appts {
		if a.Status != model.AppointmentPending || !a.CreatedAt.Before(cutoff) {
			continue
		}
		if scheduleID != "" && a.Schedule != scheduleID {
			continue
		}
		out = append(out, a)
		delete(f.appts, id)
	}
	return out, nil
}

func (f *fakeApptStore) DeleteExpiredForSlot(_ context.Context, _ pgx.Tx, scheduleID string, start time.Time, cutoff time.Time) ([]model.Appointment, error) {
	var out []model.Appointment
	for id, a := range f.appts {
		if a.Schedule == scheduleID && a.StartTime.Equal(start) &&
			a.Status == model.AppointmentPending && a.CreatedAt.Before(cutoff) {
			out = append(out, a)
			delete(f.appts, id)
		}
	}
	return out, nil
}

type fakeUnavailability struct {
	dates map[string]struct{}
}

func (f *fakeUnavailability) UnavailableDates(context.Context, string) (map[string]struct{}, error) {
	return f.dates, nil
}

type fakeRecorder struct {
	events []outbox.Event
}

func (f *fakeRecorder) Insert(_ context.Context, _ pgx.Tx, evt outbox.Event) error {
	f.events = append(f.events, evt)
	return nil
}

func (f *fakeRecorder) countType(eventType string) int {
	n := 0
	for _, evt := range f.events {
		if evt.EventType == eventType {
			n++
		}
	}
	return n
}

type fakeProvider struct {
	invoice payments.Invoice
	paid    bool
}

func (f *fakeProvider) CreateInvoice(context.Context, float64, string, string) (payments.Invoice, error) {
	return f.invoice, nil
}

func (f *fakeProvider) IsPaid(context.Context, string) (bool, error) { return f.paid, nil }

func (f *fakeProvider) Currencies(context.Context) ([]string, error) {
	return []string{"sat"}, nil
}

type serviceFixture struct {
	svc    *Service
	appts  *fakeApptStore
	events *fakeRecorder
}

func newServiceFixture(now time.Time) serviceFixture {
	schedules := &fakeScheduleStore{schedules: map[string]model.Schedule{
		"sched-1": {
			ID:            "sched-1",
			Wallet:        "wallet-1",
			Name:          "Office hours",
			StartTime:     "09:00",
			EndTime:       "17:00",
			AvailableDays: []int{0, 1, 2, 3, 4},
			SlotMinutes:   30,
			Amount:        100,
			Currency:      "sat",
			Timezone:      "UTC",
		},
	}}
	appts := &fakeApptStore{appts: map[string]model.Appointment{}}
	events := &fakeRecorder{}
	svc := NewService(schedules, appts, &fakeUnavailability{}, events,
		&fakeProvider{invoice: payments.Invoice{PaymentHash: "new-hash", PaymentRequest: "lnbc1..."}},
		slog.New(slog.NewTextHandler(io.Discard, nil)), 24*time.Hour)
	svc.now = func() time.Time { return now }
	return serviceFixture{svc: svc, appts: appts, events: events}
}

func gridSchedule() model.Schedule {
	return model.Schedule{
		ID:          "sched-1",
		StartTime:   "09:00",
		EndTime:     "11:00",
		SlotMinutes: 30,
	}
}

func TestSlotInterval(t *testing.T) {
	start, end, err := slotInterval(gridSchedule(), "2030-06-03", "09:30")
	if err != nil {
		t.Fatalf("slotInterval failed: %v", err)
	}
	wantStart := time.Date(2030, 6, 3, 9, 30, 0, 0, time.UTC)
	if !start.Equal(wantStart) {
		t.Fatalf("start = %v, want %v", start, wantStart)
	}
	if !end.Equal(wantStart.Add(30 * time.Minute)) {
		t.Fatalf("end = %v, want %v", end, wantStart.Add(30*time.Minute))
	}
}

func TestSlotIntervalOffGrid(t *testing.T) {
	for _, slot := range []string{"09:17", "08:30", "11:30", "bogus"} {
		if _, _, err := slotInterval(gridSchedule(), "2030-06-03", slot); err == nil {
			t.Fatalf("expected rejection for slot %q", slot)
		}
	}
	// The grid is end-inclusive: the window end is itself a valid start.
	if _, _, err := slotInterval(gridSchedule(), "2030-06-03", "11:00"); err != nil {
		t.Fatalf("last grid slot rejected: %v", err)
	}
}

func TestSlotIntervalBadDate(t *testing.T) {
	if _, _, err := slotInterval(gridSchedule(), "03/06/2030", "09:00"); err == nil {
		t.Fatal("expected rejection for malformed date")
	}
}

func TestBookValidatesFields(t *testing.T) {
	svc := &Service{}
	_, err := svc.Book(context.Background(), Request{ScheduleID: "sched-1", Name: "  ", Date: "2030-06-03", Slot: "09:00"})
	if !errors.Is(err, ErrMissingFields) {
		t.Fatalf("expected ErrMissingFields, got %v", err)
	}
	_, err = svc.Book(context.Background(), Request{ScheduleID: "sched-1", Name: "Alice", Slot: "09:00"})
	if !errors.Is(err, ErrMissingFields) {
		t.Fatalf("expected ErrMissingFields, got %v", err)
	}
}

func TestConfirmPaymentIdempotent(t *testing.T) {
	now := time.Date(2024, 3, 4, 8, 0, 0, 0, time.UTC)
	fix := newServiceFixture(now)
	fix.appts.appts["hash-1"] = model.Appointment{
		ID:             "hash-1",
		Schedule:       "sched-1",
		Name:           "Alice",
		StartTime:      time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC),
		Status:         model.AppointmentPending,
		PaymentRequest: "lnbc1...",
		CreatedAt:      now,
	}

	appt, err := fix.svc.ConfirmPayment(context.Background(), "hash-1")
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if appt.Status != model.AppointmentPaid {
		t.Fatalf("status = %q, want paid", appt.Status)
	}
	if fix.events.countType(outbox.EventAppointmentPaid) != 1 {
		t.Fatalf("expected one paid event, got %d", fix.events.countType(outbox.EventAppointmentPaid))
	}

	appt, err = fix.svc.ConfirmPayment(context.Background(), "hash-1")
	if err != nil {
		t.Fatalf("second confirm must be a no-op, got %v", err)
	}
	if appt.Status != model.AppointmentPaid {
		t.Fatalf("status after second confirm = %q, want paid", appt.Status)
	}
	if fix.events.countType(outbox.EventAppointmentPaid) != 1 {
		t.Fatal("second confirm must not emit another paid event")
	}
}

func TestPurgeNeverDeletesPaid(t *testing.T) {
	now := time.Date(2024, 3, 4, 8, 0, 0, 0, time.UTC)
	fix := newServiceFixture(now)
	stale := now.Add(-25 * time.Hour)
	fix.appts.appts["paid-old"] = model.Appointment{
		ID: "paid-old", Schedule: "sched-1", Status: model.AppointmentPaid, CreatedAt: stale,
		StartTime: time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC),
	}
	fix.appts.appts["pending-old"] = model.Appointment{
		ID: "pending-old", Schedule: "sched-1", Status: model.AppointmentPending, CreatedAt: stale,
		StartTime: time.Date(2024, 3, 4, 9, 30, 0, 0, time.UTC),
	}
	fix.appts.appts["pending-fresh"] = model.Appointment{
		ID: "pending-fresh", Schedule: "sched-1", Status: model.AppointmentPending, CreatedAt: now.Add(-time.Hour),
		StartTime: time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC),
	}

	count, err := fix.svc.PurgeExpired(context.Background(), "sched-1")
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if count != 1 {
		t.Fatalf("purged %d, want 1", count)
	}
	if _, ok := fix.appts.appts["paid-old"]; !ok {
		t.Fatal("paid appointment must never be purged")
	}
	if _, ok := fix.appts.appts["pending-fresh"]; !ok {
		t.Fatal("live pending appointment must survive the purge")
	}
	if _, ok := fix.appts.appts["pending-old"]; ok {
		t.Fatal("expired pending appointment must be purged")
	}
}

func TestBookReclaimsExpiredPending(t *testing.T) {
	// 2024-03-04 is a Monday.
	now := time.Date(2024, 3, 4, 8, 0, 0, 0, time.UTC)
	fix := newServiceFixture(now)
	fix.appts.appts["stale-hash"] = model.Appointment{
		ID:        "stale-hash",
		Schedule:  "sched-1",
		Name:      "Ghost",
		StartTime: time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC),
		Status:    model.AppointmentPending,
		CreatedAt: now.Add(-25 * time.Hour),
	}

	res, err := fix.svc.Book(context.Background(), Request{
		ScheduleID: "sched-1",
		Name:       "Alice",
		Date:       "2024-03-04",
		Slot:       "09:00",
	})
	if err != nil {
		t.Fatalf("booking over an expired reservation must succeed: %v", err)
	}
	if res.PaymentHash != "new-hash" {
		t.Fatalf("payment hash = %q, want new-hash", res.PaymentHash)
	}
	if _, ok := fix.appts.appts["stale-hash"]; ok {
		t.Fatal("expired reservation must be deleted under the slot lock")
	}
	if _, ok := fix.appts.appts["new-hash"]; !ok {
		t.Fatal("new reservation missing")
	}
	if fix.events.countType(outbox.EventAppointmentPurged) != 1 {
		t.Fatal("reclaiming the stale reservation must emit a purged event")
	}
	if fix.events.countType(outbox.EventAppointmentCreated) != 1 {
		t.Fatal("the new reservation must emit a created event")
	}

	// The stale invoice settling later finds no row, so the slot can never
	// hold two paid appointments.
	if _, err := fix.svc.ConfirmPayment(context.Background(), "stale-hash"); !errors.Is(err, pgx.ErrNoRows) {
		t.Fatalf("confirming the reclaimed reservation should be not-found, got %v", err)
	}
}

func TestGroupByDate(t *testing.T) {
	appts := []model.Appointment{
		{ID: "a", StartTime: time.Date(2030, 6, 3, 9, 0, 0, 0, time.UTC)},
		{ID: "b", StartTime: time.Date(2030, 6, 3, 10, 0, 0, 0, time.UTC)},
		{ID: "c", StartTime: time.Date(2030, 6, 4, 9, 0, 0, 0, time.UTC)},
	}
	grouped := GroupByDate(appts)
	if len(grouped) != 2 {
		t.Fatalf("expected 2 dates, got %d", len(grouped))
	}
	day := grouped["2030-06-03"]
	if len(day) != 2 || day[0].ID != "a" || day[1].ID != "b" {
		t.Fatalf("unexpected grouping for 2030-06-03: %+v", day)
	}
	if len(grouped["2030-06-04"]) != 1 {
		t.Fatalf("unexpected grouping for 2030-06-04: %+v", grouped["2030-06-04"])
	}
}
