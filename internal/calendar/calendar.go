// Package calendar converts instants to calendar-day keys in one fixed time
// zone and enumerates day ranges. Every component that compares dates goes
// through this package so that stored dates and query dates can never
// disagree about which day an instant belongs to.
package calendar

import (
	"fmt"
	"time"

	"pavilion/internal/models"
)

type Calendar struct {
	loc *time.Location
}

// New builds a calendar for the named IANA zone; empty means the process
// local zone.
func New(zone string) (*Calendar, error) {
	if zone == "" {
		return &Calendar{loc: time.Local}, nil
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return nil, fmt.Errorf("load time zone %q: %w", zone, err)
	}
	return &Calendar{loc: loc}, nil
}

func (c *Calendar) Location() *time.Location {
	return c.loc
}

// DayKey returns the calendar-day key of t in the fixed zone.
func (c *Calendar) DayKey(t time.Time) string {
	return t.In(c.loc).Format(models.DayKeyFormat)
}

// DayOf truncates t to midnight of its calendar day in the fixed zone.
func (c *Calendar) DayOf(t time.Time) time.Time {
	lt := t.In(c.loc)
	return time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, c.loc)
}

// Today returns midnight of the current day.
func (c *Calendar) Today() time.Time {
	return c.DayOf(time.Now())
}

// Days enumerates the calendar days of the half-open range [from, to). A
// one-night room stay [d, d+1) covers exactly one day. When to does not lie
// after from the result is empty.
func (c *Calendar) Days(from, to time.Time) []time.Time {
	var days []time.Time
	for d := c.DayOf(from); d.Before(c.DayOf(to)); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days
}

// DaysInclusive enumerates [from, to] at day granularity, as reservation and
// out-of-service windows are stored with inclusive ends.
func (c *Calendar) DaysInclusive(from, to time.Time) []time.Time {
	var days []time.Time
	for d := c.DayOf(from); !d.After(c.DayOf(to)); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days
}

// ParseDay parses a YYYY-MM-DD key to midnight in the fixed zone.
func (c *Calendar) ParseDay(s string) (time.Time, error) {
	t, err := time.ParseInLocation(models.DayKeyFormat, s, c.loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q; expected YYYY-MM-DD", s)
	}
	return t, nil
}

// Nights counts the nights of a room stay [checkIn, checkOut).
func (c *Calendar) Nights(checkIn, checkOut time.Time) int {
	return len(c.Days(checkIn, checkOut))
}
