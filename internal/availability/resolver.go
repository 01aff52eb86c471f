// Package availability decides which dates and slots of a schedule are
// currently bookable. It is pure: callers supply the unavailable-date set and
// the appointments to check against, so a decision never reads stale state.
package availability

import (
	"errors"
	"time"

	"github.com/lnbits/lncalendar/internal/model"
	"github.com/lnbits/lncalendar/internal/timegrid"
)

// Rejection reasons surfaced to booking callers.
var (
	ErrDateUnavailable = errors.New("date is not available")
	ErrSlotTaken       = errors.New("slot is already taken")
	ErrSlotInPast      = errors.New("slot is in the past")
)

// CheckDate reports whether date is bookable on schedule s, given the
// expanded unavailable-date set. today and date are canonical date strings;
// lexicographic comparison is valid on the canonical form.
func CheckDate(s model.Schedule, date string, unavailable map[string]struct{}, today string) error {
	if date < today {
		return ErrDateUnavailable
	}
	day, err := timegrid.ParseDate(date)
	if err != nil {
		return ErrDateUnavailable
	}
	if !dayAvailable(s, timegrid.WeekdayIndex(day)) {
		return ErrDateUnavailable
	}
	if _, blocked := unavailable[date]; blocked {
		return ErrDateUnavailable
	}
	return nil
}

func DateBookable(s model.Schedule, date string, unavailable map[string]struct{}, today string) bool {
	return CheckDate(s, date, unavailable, today) == nil
}

// CheckSlot reports whether the slot starting at slot ("HH:MM") on date is
// bookable. appts are the schedule's existing appointments; a paid one, or a
// pending one younger than pendingTTL, occupies its slot. On today, only
// slots strictly after now's time-of-day are bookable.
func CheckSlot(s model.Schedule, date, slot string, unavailable map[string]struct{}, appts []model.Appointment, now time.Time, pendingTTL time.Duration) error {
	today := timegrid.FormatDate(now)
	if err := CheckDate(s, date, unavailable, today); err != nil {
		return err
	}

	slotMinutes, err := timegrid.ParseClock(slot)
	if err != nil {
		return ErrSlotInPast
	}
	if date == today && slotMinutes <= now.Hour()*60+now.Minute() {
		return ErrSlotInPast
	}

	for _, a := range appts {
		if a.Schedule != s.ID {
			continue
		}
		if timegrid.FormatDate(a.StartTime) != date || a.StartTime.Format(timegrid.ClockLayout) != slot {
			continue
		}
		if Occupies(a, now, pendingTTL) {
			return ErrSlotTaken
		}
	}
	return nil
}

func SlotBookable(s model.Schedule, date, slot string, unavailable map[string]struct{}, appts []model.Appointment, now time.Time, pendingTTL time.Duration) bool {
	return CheckSlot(s, date, slot, unavailable, appts, now, pendingTTL) == nil
}

// Occupies reports whether appointment a blocks its slot at instant now.
// Paid appointments always do; pending ones only until their reservation
// expires, at which point the purge may reclaim them.
func Occupies(a model.Appointment, now time.Time, pendingTTL time.Duration) bool {
	switch a.Status {
	case model.AppointmentPaid:
		return true
	case model.AppointmentPending:
		return a.CreatedAt.After(now.Add(-pendingTTL))
	default:
		return false
	}
}

func dayAvailable(s model.Schedule, weekday int) bool {
	for _, d := range s.AvailableDays {
		if d == weekday {
			return true
		}
	}
	return false
}
