package model

import "time"

// Schedule is a recurring weekly availability template owned by a wallet.
// StartTime/EndTime are clock strings ("HH:MM"); AvailableDays uses the
// canonical Monday=0..Sunday=6 encoding. Timezone is an opaque label.
type Schedule struct {
	ID            string            `json:"id"`
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
	CreatedAt     time.Time         `json:"created_at"`
}

// UnavailabilityRange blocks every calendar date from StartDate to EndDate
// inclusive. Dates are canonical "YYYY-MM-DD" strings (timegrid.DateLayout).
type UnavailabilityRange struct {
	ID        string    `json:"id"`
	Schedule  string    `json:"schedule"`
	Name      string    `json:"name,omitempty"`
	StartDate string    `json:"start_date"`
	EndDate   string    `json:"end_date"`
	CreatedAt time.Time `json:"created_at"`
}

const (
	AppointmentPending = "pending"
	AppointmentPaid    = "paid"
)

// Appointment books one slot on one date. Its ID doubles as the payment hash
// issued by the payment provider, so settlement reports map straight back to
// the record.
type Appointment struct {
	ID             string    `json:"id"`
	Schedule       string    `json:"schedule"`
	Name           string    `json:"name"`
	Email          string    `json:"email,omitempty"`
	Info           string    `json:"info,omitempty"`
	StartTime      time.Time `json:"start_time"`
	EndTime        time.Time `json:"end_time"`
	Status         string    `json:"status"`
	PaymentRequest string    `json:"payment_request,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}
