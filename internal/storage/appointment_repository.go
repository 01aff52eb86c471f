package storage

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/lnbits/lncalendar/internal/model"
	"github.com/lnbits/lncalendar/libs/db"
)

type AppointmentRepository struct {
	pool *db.Pool
}

func NewAppointmentRepository(pool *db.Pool) *AppointmentRepository {
	return &AppointmentRepository{pool: pool}
}

func (r *AppointmentRepository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

const appointmentColumns = `id, schedule, name, COALESCE(email, ''), COALESCE(info, ''),
	start_time, end_time, status, COALESCE(payment_request, ''), created_at`

// LockSlot serializes check-and-create per (schedule, slot start) for the
// duration of the transaction. Concurrent requests for the same slot queue
// here instead of racing the availability check.
func (r *AppointmentRepository) LockSlot(ctx context.Context, tx pgx.Tx, scheduleID string, start time.Time) error {
	key := scheduleID + "|" + start.UTC().Format(time.RFC3339)
	_, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key)
	return err
}

// ListForSlot returns every appointment occupying the exact (schedule, start)
// key, paid or pending; the resolver decides which of them are still live.
func (r *AppointmentRepository) ListForSlot(ctx context.Context, tx pgx.Tx, scheduleID string, start time.Time) ([]model.Appointment, error) {
	rows, err := tx.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE schedule = $1 AND start_time = $2
	`, scheduleID, start)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAppointments(rows)
}

func (r *AppointmentRepository) Create(ctx context.Context, tx pgx.Tx, a *model.Appointment) error {
	return tx.QueryRow(ctx, `
		INSERT INTO appointments (id, schedule, name, email, info, start_time, end_time, status, payment_request)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at
	`, a.ID, a.Schedule, a.Name, a.Email, a.Info, a.StartTime, a.EndTime, a.Status, a.PaymentRequest).Scan(&a.CreatedAt)
}

func (r *AppointmentRepository) Get(ctx context.Context, id string) (model.Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *AppointmentRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (model.Appointment, error) {
	row := tx.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
		FOR UPDATE
	`, id)
	return scanAppointment(row)
}

// MarkPaid flips a pending appointment to paid. It reports whether a row
// changed, so confirming an already-paid appointment is a visible no-op.
func (r *AppointmentRepository) MarkPaid(ctx context.Context, tx pgx.Tx, id string) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE appointments
		SET status = $2,
			payment_request = NULL
		WHERE id = $1 AND status = $3
	`, id, model.AppointmentPaid, model.AppointmentPending)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *AppointmentRepository) ListBySchedule(ctx context.Context, scheduleID string) ([]model.Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE schedule = $1
		ORDER BY start_time
	`, scheduleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAppointments(rows)
}

func (r *AppointmentRepository) ListByWallets(ctx context.Context, walletIDs []string) ([]model.Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT a.id, a.schedule, a.name, COALESCE(a.email, ''), COALESCE(a.info, ''),
			a.start_time, a.end_time, a.status, COALESCE(a.payment_request, ''), a.created_at
		FROM appointments a
		JOIN schedules s ON s.id = a.schedule
		WHERE s.wallet = ANY($1)
		ORDER BY a.start_time
	`, walletIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAppointments(rows)
}

func (r *AppointmentRepository) Update(ctx context.Context, tx pgx.Tx, a model.Appointment) error {
	tag, err := tx.Exec(ctx, `
		UPDATE appointments
		SET name = $2,
			email = $3,
			info = $4,
			start_time = $5,
			end_time = $6
		WHERE id = $1
	`, a.ID, a.Name, a.Email, a.Info, a.StartTime, a.EndTime)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *AppointmentRepository) Delete(ctx context.Context, tx pgx.Tx, id string) error {
	tag, err := tx.Exec(ctx, `DELETE FROM appointments WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// DeleteExpiredForSlot removes expired pending rows for one (schedule, start)
// key. Book runs it under the slot's advisory lock before inserting, so a
// stale reservation can never be marked paid after its slot is rebooked.
func (r *AppointmentRepository) DeleteExpiredForSlot(ctx context.Context, tx pgx.Tx, scheduleID string, start time.Time, cutoff time.Time) ([]model.Appointment, error) {
	rows, err := tx.Query(ctx, `
		DELETE FROM appointments
		WHERE schedule = $1
			AND start_time = $2
			AND status = $3
			AND created_at < $4
		RETURNING `+appointmentColumns+`
	`, scheduleID, start, model.AppointmentPending, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAppointments(rows)
}

// DeleteExpired removes pending appointments created before cutoff, freeing
// their slots. Paid appointments are never touched. scheduleID == "" sweeps
// every schedule.
func (r *AppointmentRepository) DeleteExpired(ctx context.Context, tx pgx.Tx, scheduleID string, cutoff time.Time) ([]model.Appointment, error) {
	rows, err := tx.Query(ctx, `
		DELETE FROM appointments
		WHERE status = $1
			AND created_at < $2
			AND ($3 = '' OR schedule = $3)
		RETURNING `+appointmentColumns+`
	`, model.AppointmentPending, cutoff, scheduleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAppointments(rows)
}

func collectAppointments(rows pgx.Rows) ([]model.Appointment, error) {
	var out []model.Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanAppointment(row rowScanner) (model.Appointment, error) {
	var a model.Appointment
	err := row.Scan(&a.ID, &a.Schedule, &a.Name, &a.Email, &a.Info,
		&a.StartTime, &a.EndTime, &a.Status, &a.PaymentRequest, &a.CreatedAt)
	if err != nil {
		return model.Appointment{}, err
	}
	return a, nil
}
