package model

import (
	"fmt"
	"time"
)

const dateLayout = "2006-01-02"

// Date is a civil calendar date. Slots never carry a time zone; the hour
// index is the only intra-day coordinate.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

func NewDate(year int, month time.Month, day int) Date {
	return Date{Year: year, Month: month, Day: day}
}

// ParseDate parses YYYY-MM-DD.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return Date{Year: t.Year(), Month: t.Month(), Day: t.Day()}, nil
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

func (d Date) Before(o Date) bool {
	if d.Year != o.Year {
		return d.Year < o.Year
	}
	if d.Month != o.Month {
		return d.Month < o.Month
	}
	return d.Day < o.Day
}

func (d Date) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Date) UnmarshalText(b []byte) error {
	parsed, err := ParseDate(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// TimeSlot is a (date, hour) demand period. Hour is 1-based: 1..24.
type TimeSlot struct {
	Date Date `json:"date"`
	Hour int  `json:"hour"`
}

func NewTimeSlot(d Date, hour int) (TimeSlot, error) {
	s := TimeSlot{Date: d, Hour: hour}
	if err := s.Validate(); err != nil {
		return TimeSlot{}, err
	}
	return s, nil
}

func (s TimeSlot) Validate() error {
	if s.Hour < 1 || s.Hour > 24 {
		return fmt.Errorf("slot %s: hour %d outside [1,24]", s.Date, s.Hour)
	}
	return nil
}

// Less orders slots by date, then hour.
func (s TimeSlot) Less(o TimeSlot) bool {
	if s.Date != o.Date {
		return s.Date.Before(o.Date)
	}
	return s.Hour < o.Hour
}

func (s TimeSlot) String() string {
	return fmt.Sprintf("%s H%02d", s.Date, s.Hour)
}

// MonthKey groups slots for monthly rollups.
type MonthKey struct {
	Year  int
	Month time.Month
}

func (s TimeSlot) Month() MonthKey {
	return MonthKey{Year: s.Date.Year, Month: s.Date.Month}
}

func (m MonthKey) Less(o MonthKey) bool {
	if m.Year != o.Year {
		return m.Year < o.Year
	}
	return m.Month < o.Month
}

func (m MonthKey) String() string {
	return fmt.Sprintf("%04d-%02d", m.Year, int(m.Month))
}
