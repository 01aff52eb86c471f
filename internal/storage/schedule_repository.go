package storage

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/lnbits/lncalendar/internal/model"
	"github.com/lnbits/lncalendar/libs/db"
)

type ScheduleRepository struct {
	pool *db.Pool
}

func NewScheduleRepository(pool *db.Pool) *ScheduleRepository {
	return &ScheduleRepository{pool: pool}
}

const scheduleColumns = `id, wallet, name, start_time, end_time, available_days, slot_minutes,
	amount, currency, timezone, COALESCE(extra::text, '{}'), created_at`

func (r *ScheduleRepository) Create(ctx context.Context, s *model.Schedule) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	extra, err := json.Marshal(s.Extra)
	if err != nil {
		return err
	}
	return r.pool.QueryRow(ctx, `
		INSERT INTO schedules (id, wallet, name, start_time, end_time, available_days, slot_minutes, amount, currency, timezone, extra)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at
	`, s.ID, s.Wallet, s.Name, s.StartTime, s.EndTime, s.AvailableDays, s.SlotMinutes,
		s.Amount, s.Currency, s.Timezone, extra).Scan(&s.CreatedAt)
}

func (r *ScheduleRepository) Get(ctx context.Context, id string) (model.Schedule, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+scheduleColumns+`
		FROM schedules
		WHERE id = $1
	`, id)
	return scanSchedule(row)
}

func (r *ScheduleRepository) ListByWallets(ctx context.Context, walletIDs []string) ([]model.Schedule, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+scheduleColumns+`
		FROM schedules
		WHERE wallet = ANY($1)
		ORDER BY created_at DESC
	`, walletIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Schedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *ScheduleRepository) Update(ctx context.Context, s model.Schedule) error {
	extra, err := json.Marshal(s.Extra)
	if err != nil {
		return err
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE schedules
		SET name = $2,
			start_time = $3,
			end_time = $4,
			available_days = $5,
			slot_minutes = $6,
			amount = $7,
			currency = $8,
			timezone = $9,
			extra = $10
		WHERE id = $1
	`, s.ID, s.Name, s.StartTime, s.EndTime, s.AvailableDays, s.SlotMinutes,
		s.Amount, s.Currency, s.Timezone, extra)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// Delete removes the schedule together with its appointments and
// unavailability ranges in one transaction.
func (r *ScheduleRepository) Delete(ctx context.Context, id string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM appointments WHERE schedule = $1`, id); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM unavailable_ranges WHERE schedule = $1`, id); err != nil {
		return err
	}
	tag, err := tx.Exec(ctx, `DELETE FROM schedules WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return tx.Commit(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSchedule(row rowScanner) (model.Schedule, error) {
	var s model.Schedule
	var extra string
	if err := row.Scan(&s.ID, &s.Wallet, &s.Name, &s.StartTime, &s.EndTime, &s.AvailableDays,
		&s.SlotMinutes, &s.Amount, &s.Currency, &s.Timezone, &extra, &s.CreatedAt); err != nil {
		return model.Schedule{}, err
	}
	if extra != "" && extra != "{}" {
		if err := json.Unmarshal([]byte(extra), &s.Extra); err != nil {
			return model.Schedule{}, err
		}
	}
	return s, nil
}
