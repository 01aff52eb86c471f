// Package unavailability manages the ad-hoc date ranges that block otherwise
// available dates. Ranges are stored coarse (start/end pairs) and expanded to
// per-date membership on read; the expansion is cached in Redis per schedule
// because the resolver consults it on every booking decision.
package unavailability

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lnbits/lncalendar/internal/model"
	"github.com/lnbits/lncalendar/internal/timegrid"
)

var ErrInvalidRange = errors.New("range start must not be after its end")

// RangeRepository is the persistence surface the store needs.
type RangeRepository interface {
	Create(ctx context.Context, rng *model.UnavailabilityRange) error
	ListBySchedule(ctx context.Context, scheduleID string) ([]model.UnavailabilityRange, error)
	Delete(ctx context.Context, scheduleID, rangeID string) error
}

type Store struct {
	repo     RangeRepository
	rdb      *redis.Client
	cacheTTL time.Duration
	logger   *slog.Logger
}

// NewStore builds a range store. rdb may be nil; the store then recomputes
// the expanded date set on every read.
func NewStore(repo RangeRepository, rdb *redis.Client, cacheTTL time.Duration, logger *slog.Logger) *Store {
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}
	return &Store{repo: repo, rdb: rdb, cacheTTL: cacheTTL, logger: logger}
}

// AddRange records a blocked date range. A single blocked day arrives as
// from == to; from > to is rejected before anything is persisted.
func (s *Store) AddRange(ctx context.Context, scheduleID, name, from, to string) (model.UnavailabilityRange, error) {
	if to == "" {
		to = from
	}
	if _, err := timegrid.ParseDate(from); err != nil {
		return model.UnavailabilityRange{}, err
	}
	if _, err := timegrid.ParseDate(to); err != nil {
		return model.UnavailabilityRange{}, err
	}
	if from > to {
		return model.UnavailabilityRange{}, ErrInvalidRange
	}

	rng := model.UnavailabilityRange{
		Schedule:  scheduleID,
		Name:      name,
		StartDate: from,
		EndDate:   to,
	}
	if err := s.repo.Create(ctx, &rng); err != nil {
		return model.UnavailabilityRange{}, err
	}
	s.invalidate(ctx, scheduleID)
	return rng, nil
}

func (s *Store) ListRanges(ctx context.Context, scheduleID string) ([]model.UnavailabilityRange, error) {
	return s.repo.ListBySchedule(ctx, scheduleID)
}

func (s *Store) DeleteRange(ctx context.Context, scheduleID, rangeID string) error {
	if err := s.repo.Delete(ctx, scheduleID, rangeID); err != nil {
		return err
	}
	s.invalidate(ctx, scheduleID)
	return nil
}

// UnavailableDates returns the expanded set of blocked dates for a schedule,
// served from cache when possible. Cache errors degrade to a direct read.
func (s *Store) UnavailableDates(ctx context.Context, scheduleID string) (map[string]struct{}, error) {
	if s.rdb != nil {
		if raw, err := s.rdb.Get(ctx, cacheKey(scheduleID)).Bytes(); err == nil {
			var dates []string
			if err := json.Unmarshal(raw, &dates); err == nil {
				return toSet(dates), nil
			}
		} else if !errors.Is(err, redis.Nil) && s.logger != nil {
			s.logger.Warn("unavailable-dates cache read failed", "err", err)
		}
	}

	ranges, err := s.repo.ListBySchedule(ctx, scheduleID)
	if err != nil {
		return nil, err
	}
	set := ExpandToDates(ranges)

	if s.rdb != nil {
		dates := make([]string, 0, len(set))
		for d := range set {
			dates = append(dates, d)
		}
		raw, err := json.Marshal(dates)
		if err == nil {
			if err := s.rdb.Set(ctx, cacheKey(scheduleID), raw, s.cacheTTL).Err(); err != nil && s.logger != nil {
				s.logger.Warn("unavailable-dates cache write failed", "err", err)
			}
		}
	}
	return set, nil
}

// ExpandToDates expands ranges into the union of their covered dates,
// inclusive at both ends. Overlapping ranges collapse; it is a set.
func ExpandToDates(ranges []model.UnavailabilityRange) map[string]struct{} {
	set := make(map[string]struct{})
	for _, rng := range ranges {
		dates, err := timegrid.DateRange(rng.StartDate, rng.EndDate)
		if err != nil {
			continue
		}
		for _, d := range dates {
			set[d] = struct{}{}
		}
	}
	return set
}

func (s *Store) invalidate(ctx context.Context, scheduleID string) {
	if s.rdb == nil {
		return
	}
	if err := s.rdb.Del(ctx, cacheKey(scheduleID)).Err(); err != nil && s.logger != nil {
		s.logger.Warn("unavailable-dates cache invalidation failed", "err", err)
	}
}

func cacheKey(scheduleID string) string {
	return "lncalendar:unavailable:" + scheduleID
}

func toSet(dates []string) map[string]struct{} {
	set := make(map[string]struct{}, len(dates))
	for _, d := range dates {
		set[d] = struct{}{}
	}
	return set
}
