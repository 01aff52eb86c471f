package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/lnbits/lncalendar/internal/availability"
	"github.com/lnbits/lncalendar/internal/booking"
	"github.com/lnbits/lncalendar/internal/model"
)

var testLogger = slog.New(slog.NewTextHandler(bytes.NewBuffer(nil), nil))

type fakeScheduleStore struct {
	schedules map[string]model.Schedule
}

func (f *fakeScheduleStore) Create(_ context.Context, s *model.Schedule) error {
	s.ID = "sched-new"
	s.CreatedAt = time.Now()
	f.schedules[s.ID] = *s
	return nil
}

func (f *fakeScheduleStore) Get(_ context.Context, id string) (model.Schedule, error) {
	s, ok := f.schedules[id]
	if !ok {
		return model.Schedule{}, pgx.ErrNoRows
	}
	return s, nil
}

func (f *fakeScheduleStore) ListByWallets(_ context.Context, walletIDs []string) ([]model.Schedule, error) {
	var out []model.Schedule
	for _, s := range f.schedules {
		for _, w := range walletIDs {
			if s.Wallet == w {
				out = append(out, s)
			}
		}
	}
	return out, nil
}

func (f *fakeScheduleStore) Update(_ context.Context, s model.Schedule) error {
	if _, ok := f.schedules[s.ID]; !ok {
		return pgx.ErrNoRows
	}
	f.schedules[s.ID] = s
	return nil
}

func (f *fakeScheduleStore) Delete(_ context.Context, id string) error {
	if _, ok := f.schedules[id]; !ok {
		return pgx.ErrNoRows
	}
	delete(f.schedules, id)
	return nil
}

type fakeBookingService struct {
	bookErr     error
	lastReq     booking.Request
	purged      int
	confirmed   []string
	invoicePaid bool
	updated     []model.Appointment
	deleted     []string
}

func (f *fakeBookingService) Book(_ context.Context, req booking.Request) (booking.Result, error) {
	f.lastReq = req
	if f.bookErr != nil {
		return booking.Result{}, f.bookErr
	}
	return booking.Result{PaymentHash: "hash-1", PaymentRequest: "lnbc1..."}, nil
}

func (f *fakeBookingService) ConfirmPayment(_ context.Context, id string) (model.Appointment, error) {
	f.confirmed = append(f.confirmed, id)
	return model.Appointment{ID: id, Status: model.AppointmentPaid}, nil
}

func (f *fakeBookingService) CheckInvoice(_ context.Context, scheduleID, hash string) (bool, error) {
	return f.invoicePaid, nil
}

func (f *fakeBookingService) PurgeExpired(_ context.Context, scheduleID string) (int, error) {
	return f.purged, nil
}

func (f *fakeBookingService) UpdateAppointment(_ context.Context, a model.Appointment) error {
	f.updated = append(f.updated, a)
	return nil
}

func (f *fakeBookingService) DeleteAppointment(_ context.Context, id string) error {
	f.deleted = append(f.deleted, id)
	return nil
}

type fakeAppointmentStore struct {
	appts map[string]model.Appointment
}

func (f *fakeAppointmentStore) Get(_ context.Context, id string) (model.Appointment, error) {
	a, ok := f.appts[id]
	if !ok {
		return model.Appointment{}, pgx.ErrNoRows
	}
	return a, nil
}

func (f *fakeAppointmentStore) ListBySchedule(_ context.Context, scheduleID string) ([]model.Appointment, error) {
	var out []model.Appointment
	for _, a := range f.appts {
		if a.Schedule == scheduleID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeAppointmentStore) ListByWallets(_ context.Context, _ []string) ([]model.Appointment, error) {
	var out []model.Appointment
	for _, a := range f.appts {
		out = append(out, a)
	}
	return out, nil
}

type fakeResolver struct {
	slots []booking.SlotStatus
	dates []string
}

func (f *fakeResolver) DaySlots(context.Context, string, string) ([]booking.SlotStatus, error) {
	return f.slots, nil
}

func (f *fakeResolver) BookableDates(context.Context, string, string, string) ([]string, error) {
	return f.dates, nil
}

func testSchedules() *fakeScheduleStore {
	return &fakeScheduleStore{schedules: map[string]model.Schedule{
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
}

func apptMux(h *AppointmentHandler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/appointment", h.Create)
	mux.HandleFunc("GET /api/v1/appointment", h.ListAll)
	mux.HandleFunc("GET /api/v1/appointment/{scheduleID}", h.ListBySchedule)
	mux.HandleFunc("GET /api/v1/appointment/purge/{scheduleID}", h.Purge)
	mux.HandleFunc("GET /api/v1/appointment/{scheduleID}/{paymentHash}", h.CheckInvoice)
	mux.HandleFunc("PUT /api/v1/appointment/{id}", h.Update)
	mux.HandleFunc("DELETE /api/v1/appointment/{id}", h.Delete)
	return mux
}

func TestCreateAppointment(t *testing.T) {
	svc := &fakeBookingService{}
	h := NewAppointmentHandler(svc, &fakeAppointmentStore{appts: map[string]model.Appointment{}}, testSchedules(), testLogger)

	body := `{"schedule":"sched-1","name":"Alice","email":"a@b.c","date":"2030-06-03","start_time":"09:30"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/appointment", bytes.NewBufferString(body))
	rw := httptest.NewRecorder()
	apptMux(h).ServeHTTP(rw, req)

	if rw.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rw.Code, rw.Body.String())
	}
	var resp createAppointmentResponse
	if err := json.Unmarshal(rw.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.PaymentHash != "hash-1" || resp.PaymentRequest != "lnbc1..." {
		t.Fatalf("unexpected payment handle: %+v", resp)
	}
	if svc.lastReq.ScheduleID != "sched-1" || svc.lastReq.Slot != "09:30" {
		t.Fatalf("request not passed through: %+v", svc.lastReq)
	}
}

func TestCreateAppointmentRejections(t *testing.T) {
	cases := []struct {
		name       string
		body       string
		bookErr    error
		wantStatus int
		wantReason string
	}{
		{"slot taken", `{"schedule":"sched-1","name":"A","date":"2030-06-03","start_time":"09:30"}`, availability.ErrSlotTaken, http.StatusConflict, "SlotTaken"},
		{"date unavailable", `{"schedule":"sched-1","name":"A","date":"2030-06-03","start_time":"09:30"}`, availability.ErrDateUnavailable, http.StatusConflict, "DateUnavailable"},
		{"bad date", `{"schedule":"sched-1","name":"A","date":"03/06/2030","start_time":"09:30"}`, nil, http.StatusBadRequest, ""},
		{"bad slot", `{"schedule":"sched-1","name":"A","date":"2030-06-03","start_time":"9am"}`, nil, http.StatusBadRequest, ""},
		{"missing schedule", `{"name":"A","date":"2030-06-03","start_time":"09:30"}`, nil, http.StatusBadRequest, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &fakeBookingService{bookErr: tc.bookErr}
			h := NewAppointmentHandler(svc, &fakeAppointmentStore{appts: map[string]model.Appointment{}}, testSchedules(), testLogger)
			req := httptest.NewRequest(http.MethodPost, "/api/v1/appointment", bytes.NewBufferString(tc.body))
			rw := httptest.NewRecorder()
			apptMux(h).ServeHTTP(rw, req)
			if rw.Code != tc.wantStatus {
				t.Fatalf("expected %d, got %d: %s", tc.wantStatus, rw.Code, rw.Body.String())
			}
			if tc.wantReason != "" {
				var resp rejectionResponse
				if err := json.Unmarshal(rw.Body.Bytes(), &resp); err != nil {
					t.Fatalf("decode response: %v", err)
				}
				if resp.Reason != tc.wantReason {
					t.Fatalf("expected reason %q, got %q", tc.wantReason, resp.Reason)
				}
			}
		})
	}
}

func TestCheckInvoice(t *testing.T) {
	svc := &fakeBookingService{invoicePaid: true}
	h := NewAppointmentHandler(svc, &fakeAppointmentStore{appts: map[string]model.Appointment{}}, testSchedules(), testLogger)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/appointment/sched-1/hash-1", nil)
	rw := httptest.NewRecorder()
	apptMux(h).ServeHTTP(rw, req)

	if rw.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rw.Code)
	}
	var resp map[string]bool
	if err := json.Unmarshal(rw.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp["paid"] {
		t.Fatal("expected paid=true")
	}
}

func TestListByScheduleOwnership(t *testing.T) {
	appts := &fakeAppointmentStore{appts: map[string]model.Appointment{
		"hash-1": {
			ID:        "hash-1",
			Schedule:  "sched-1",
			Name:      "Alice",
			StartTime: time.Date(2030, 6, 3, 9, 30, 0, 0, time.UTC),
			EndTime:   time.Date(2030, 6, 3, 10, 0, 0, 0, time.UTC),
			Status:    model.AppointmentPaid,
		},
	}}
	h := NewAppointmentHandler(&fakeBookingService{}, appts, testSchedules(), testLogger)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/appointment/sched-1", nil)
	req.Header.Set("X-Wallet-Id", "wallet-2")
	rw := httptest.NewRecorder()
	apptMux(h).ServeHTTP(rw, req)
	if rw.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for foreign wallet, got %d", rw.Code)
	}

	reqOK := httptest.NewRequest(http.MethodGet, "/api/v1/appointment/sched-1", nil)
	reqOK.Header.Set("X-Wallet-Id", "wallet-1")
	rwOK := httptest.NewRecorder()
	apptMux(h).ServeHTTP(rwOK, reqOK)
	if rwOK.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rwOK.Code, rwOK.Body.String())
	}
	var views []appointmentView
	if err := json.Unmarshal(rwOK.Body.Bytes(), &views); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(views) != 1 {
		t.Fatalf("expected 1 appointment, got %d", len(views))
	}
	if views[0].Date != "2030-06-03" || views[0].Slot != "09:30" {
		t.Fatalf("unexpected date/slot: %s %s", views[0].Date, views[0].Slot)
	}
	if views[0].PaymentRequest != "" {
		t.Fatal("payment request must not appear in owner listings")
	}
}

func TestPurgeEndpoint(t *testing.T) {
	svc := &fakeBookingService{purged: 3}
	h := NewAppointmentHandler(svc, &fakeAppointmentStore{appts: map[string]model.Appointment{}}, testSchedules(), testLogger)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/appointment/purge/sched-1", nil)
	rw := httptest.NewRecorder()
	apptMux(h).ServeHTTP(rw, req)

	if rw.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rw.Code, rw.Body.String())
	}
	var resp map[string]int
	if err := json.Unmarshal(rw.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["purged"] != 3 {
		t.Fatalf("expected purged=3, got %d", resp["purged"])
	}
}

func TestUpdateAppointment(t *testing.T) {
	appts := &fakeAppointmentStore{appts: map[string]model.Appointment{
		"hash-1": {ID: "hash-1", Schedule: "sched-1", Name: "Alice", Status: model.AppointmentPaid},
	}}
	svc := &fakeBookingService{}
	h := NewAppointmentHandler(svc, appts, testSchedules(), testLogger)

	req := httptest.NewRequest(http.MethodPut, "/api/v1/appointment/hash-1", bytes.NewBufferString(`{"name":"Alice B","info":"rescheduled notes"}`))
	req.Header.Set("X-Wallet-Id", "wallet-1")
	rw := httptest.NewRecorder()
	apptMux(h).ServeHTTP(rw, req)

	if rw.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rw.Code, rw.Body.String())
	}
	if len(svc.updated) != 1 {
		t.Fatalf("expected 1 update, got %d", len(svc.updated))
	}
	if got := svc.updated[0]; got.Name != "Alice B" || got.Info != "rescheduled notes" {
		t.Fatalf("update not applied: %+v", got)
	}
}

func TestDeleteAppointmentForbidden(t *testing.T) {
	appts := &fakeAppointmentStore{appts: map[string]model.Appointment{
		"hash-1": {ID: "hash-1", Schedule: "sched-1", Name: "Alice"},
	}}
	svc := &fakeBookingService{}
	h := NewAppointmentHandler(svc, appts, testSchedules(), testLogger)

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/appointment/hash-1", nil)
	req.Header.Set("X-Wallet-Id", "wallet-2")
	rw := httptest.NewRecorder()
	apptMux(h).ServeHTTP(rw, req)

	if rw.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rw.Code)
	}
	if len(svc.deleted) != 0 {
		t.Fatal("appointment must survive a forbidden delete")
	}
}

func TestAvailabilityValidatesWindow(t *testing.T) {
	h := NewScheduleHandler(testSchedules(), &fakeResolver{dates: []string{"2030-06-03"}}, testLogger)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/schedule/{id}/availability", h.Availability)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/schedule/sched-1/availability?from=junk&to=2030-07-01", nil)
	rw := httptest.NewRecorder()
	mux.ServeHTTP(rw, req)
	if rw.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed from, got %d: %s", rw.Code, rw.Body.String())
	}

	reqOK := httptest.NewRequest(http.MethodGet, "/api/v1/schedule/sched-1/availability?from=2030-06-01&to=2030-07-01", nil)
	rwOK := httptest.NewRecorder()
	mux.ServeHTTP(rwOK, reqOK)
	if rwOK.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rwOK.Code, rwOK.Body.String())
	}
	var resp map[string][]string
	if err := json.Unmarshal(rwOK.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp["bookable_dates"]) != 1 {
		t.Fatalf("unexpected bookable dates: %v", resp)
	}
}

func TestScheduleRequestValidate(t *testing.T) {
	base := func() scheduleRequest {
		return scheduleRequest{
			Wallet:        "wallet-1",
			Name:          "Office hours",
			StartTime:     "09:00",
			EndTime:       "17:00",
			AvailableDays: []int{0, 1, 2},
		}
	}

	req := base()
	if msg := req.validate(); msg != "" {
		t.Fatalf("valid request rejected: %s", msg)
	}
	if req.SlotMinutes != 30 || req.Currency != "sat" || req.Timezone != "UTC" {
		t.Fatalf("defaults not applied: %+v", req)
	}

	cases := []struct {
		name   string
		mutate func(*scheduleRequest)
	}{
		{"empty name", func(r *scheduleRequest) { r.Name = "  " }},
		{"bad clock", func(r *scheduleRequest) { r.StartTime = "9am" }},
		{"reversed window", func(r *scheduleRequest) { r.StartTime = "18:00" }},
		{"no days", func(r *scheduleRequest) { r.AvailableDays = nil }},
		{"day out of range", func(r *scheduleRequest) { r.AvailableDays = []int{0, 7} }},
		{"duplicate day", func(r *scheduleRequest) { r.AvailableDays = []int{1, 1} }},
		{"slot too short", func(r *scheduleRequest) { r.SlotMinutes = 3 }},
		{"negative amount", func(r *scheduleRequest) { r.Amount = -1 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := base()
			tc.mutate(&r)
			if msg := r.validate(); msg == "" {
				t.Fatal("expected validation failure")
			}
		})
	}
}
