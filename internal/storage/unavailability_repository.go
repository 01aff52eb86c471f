package storage

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/lnbits/lncalendar/internal/model"
	"github.com/lnbits/lncalendar/libs/db"
)

type UnavailabilityRepository struct {
	pool *db.Pool
}

func NewUnavailabilityRepository(pool *db.Pool) *UnavailabilityRepository {
	return &UnavailabilityRepository{pool: pool}
}

func (r *UnavailabilityRepository) Create(ctx context.Context, rng *model.UnavailabilityRange) error {
	if rng.ID == "" {
		rng.ID = uuid.NewString()
	}
	return r.pool.QueryRow(ctx, `
		INSERT INTO unavailable_ranges (id, schedule, name, start_date, end_date)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`, rng.ID, rng.Schedule, rng.Name, rng.StartDate, rng.EndDate).Scan(&rng.CreatedAt)
}

func (r *UnavailabilityRepository) ListBySchedule(ctx context.Context, scheduleID string) ([]model.UnavailabilityRange, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, schedule, COALESCE(name, ''), start_date, end_date, created_at
		FROM unavailable_ranges
		WHERE schedule = $1
		ORDER BY start_date, created_at
	`, scheduleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.UnavailabilityRange
	for rows.Next() {
		var rng model.UnavailabilityRange
		if err := rows.Scan(&rng.ID, &rng.Schedule, &rng.Name, &rng.StartDate, &rng.EndDate, &rng.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, rng)
	}
	return out, rows.Err()
}

// Delete is scoped by schedule so an owner cannot remove another schedule's range.
func (r *UnavailabilityRepository) Delete(ctx context.Context, scheduleID, rangeID string) error {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM unavailable_ranges
		WHERE id = $1 AND schedule = $2
	`, rangeID, scheduleID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}
