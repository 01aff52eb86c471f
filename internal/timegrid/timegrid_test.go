package timegrid

import (
	"reflect"
	"testing"
	"time"
)

func TestSlots_Basic(t *testing.T) {
	slots, err := Slots("09:00", "10:30", 30)
	if err != nil {
		t.Fatalf("slots: %v", err)
	}
	want := []string{"09:00", "09:30", "10:00", "10:30"}
	if !reflect.DeepEqual(slots, want) {
		t.Fatalf("expected %v, got %v", want, slots)
	}
}

func TestSlots_EndBeforeStart(t *testing.T) {
	slots, err := Slots("17:00", "09:00", 30)
	if err != nil {
		t.Fatalf("slots: %v", err)
	}
	if len(slots) != 0 {
		t.Fatalf("expected no slots, got %v", slots)
	}
}

func TestSlots_InvalidStep(t *testing.T) {
	if _, err := Slots("09:00", "17:00", 0); err == nil {
		t.Fatal("expected error for zero step")
	}
}

func TestAddMinutes(t *testing.T) {
	cases := []struct {
		clock   string
		minutes int
		want    string
	}{
		{"09:00", 30, "09:30"},
		{"09:45", 30, "10:15"},
		{"23:45", 30, "00:15"},
		{"00:00", 1440, "00:00"},
	}
	for _, tc := range cases {
		got, err := AddMinutes(tc.clock, tc.minutes)
		if err != nil {
			t.Fatalf("AddMinutes(%s, %d): %v", tc.clock, tc.minutes, err)
		}
		if got != tc.want {
			t.Fatalf("AddMinutes(%s, %d) = %s, want %s", tc.clock, tc.minutes, got, tc.want)
		}
	}
}

func TestWeekdayIndex(t *testing.T) {
	// 2024-03-04 is a Monday.
	monday := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 7; i++ {
		got := WeekdayIndex(monday.AddDate(0, 0, i))
		if got != i {
			t.Fatalf("day %d: expected index %d, got %d", i, i, got)
		}
	}
}

func TestDateRange_Inclusive(t *testing.T) {
	dates, err := DateRange("2024-03-01", "2024-03-03")
	if err != nil {
		t.Fatalf("date range: %v", err)
	}
	want := []string{"2024-03-01", "2024-03-02", "2024-03-03"}
	if !reflect.DeepEqual(dates, want) {
		t.Fatalf("expected %v, got %v", want, dates)
	}
}

func TestDateRange_SingleDay(t *testing.T) {
	dates, err := DateRange("2024-03-01", "2024-03-01")
	if err != nil {
		t.Fatalf("date range: %v", err)
	}
	if len(dates) != 1 || dates[0] != "2024-03-01" {
		t.Fatalf("expected single day, got %v", dates)
	}
}

func TestFormatDate_ZeroPadded(t *testing.T) {
	d := time.Date(2024, 1, 2, 15, 4, 5, 0, time.UTC)
	if got := FormatDate(d); got != "2024-01-02" {
		t.Fatalf("expected 2024-01-02, got %s", got)
	}
}
