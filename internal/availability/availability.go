// Package availability answers two questions: what is free on a resource in
// a day range, and does a proposed extent collide with anything already on
// the calendar. Evaluation is read-only and never mutates state; the hold
// manager owns the write path.
package availability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pavilion/internal/calendar"
	"pavilion/internal/clock"
	"pavilion/internal/database"
	"pavilion/internal/domain"
	"pavilion/internal/models"

	"github.com/rs/zerolog"
)

type Service struct {
	repo   domain.Repository
	cal    *calendar.Calendar
	clock  clock.Clock
	logger zerolog.Logger
}

func New(repo domain.Repository, cal *calendar.Calendar, clk clock.Clock, logger *zerolog.Logger) *Service {
	var log zerolog.Logger
	if logger != nil {
		log = logger.With().Str("component", "availability").Logger()
	}
	return &Service{repo: repo, cal: cal, clock: clk, logger: log}
}

// ForRange evaluates per-day availability of one resource over the inclusive
// day range [from, to]. An unknown resource id yields nothing available with
// no error: the evaluator fails closed rather than guessing about a row it
// cannot see.
func (s *Service) ForRange(ctx context.Context, resourceID int64, from, to time.Time) ([]models.DayAvailability, error) {
	resource, err := s.repo.GetResource(ctx, resourceID)
	if errors.Is(err, database.ErrNotFound) {
		return s.nothingAvailable(from, to), nil
	}
	if err != nil {
		return nil, err
	}

	fromKey := s.cal.DayKey(from)
	toKey := s.cal.DayKey(to)
	bookings, err := s.repo.GetBookingsForResource(ctx, resourceID, fromKey, toKey)
	if err != nil {
		return nil, err
	}
	reservations, err := s.repo.GetReservationsForResource(ctx, resourceID, fromKey, toKey)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	held := resource.HoldActive(now)

	var days []models.DayAvailability
	for _, day := range s.cal.DaysInclusive(from, to) {
		da := s.evaluateDay(resource, bookings, reservations, day)
		da.Held = held
		days = append(days, da)
	}
	return days, nil
}

// nothingAvailable covers the requested range with busy days. Callers asking
// about a resource the catalog does not know get this instead of an error.
func (s *Service) nothingAvailable(from, to time.Time) []models.DayAvailability {
	var days []models.DayAvailability
	for _, day := range s.cal.DaysInclusive(from, to) {
		days = append(days, models.DayAvailability{Day: s.cal.DayKey(day)})
	}
	return days
}

func (s *Service) evaluateDay(resource *models.Resource, bookings []*models.Booking, reservations []*models.Reservation, day time.Time) models.DayAvailability {
	da := models.DayAvailability{Day: s.cal.DayKey(day)}

	if s.outOfServiceOn(resource, day) {
		return da
	}

	switch resource.Type {
	case models.ResourceRoom:
		da.Free = !s.anyNightBooked(bookings, day) && !anyReservationCovers(reservations, day)

	case models.ResourceHall, models.ResourceLawn:
		for _, slot := range models.AllSlots {
			if s.slotBooked(bookings, day, slot) || s.slotReserved(reservations, day, slot) {
				continue
			}
			da.FreeSlots = append(da.FreeSlots, slot)
		}
		da.Free = len(da.FreeSlots) > 0

	case models.ResourcePhotoshoot:
		if anyReservationCovers(reservations, day) {
			return da
		}
		for _, hour := range models.PhotoshootStartHours() {
			if !s.windowBooked(bookings, day, hour) {
				da.FreeHours = append(da.FreeHours, hour)
			}
		}
		da.Free = len(da.FreeHours) > 0
	}
	return da
}

// CheckConflicts walks the extent's days in order and reports the first
// conflict found, classified with fixed precedence within a day:
// out-of-service beats booked beats reserved. A nil conflict means the extent
// is clear. An unknown resource id conflicts on every day, same fail-closed
// stance as ForRange. excludeBookingID lets a reschedule ignore its own
// booking.
func (s *Service) CheckConflicts(ctx context.Context, resourceID int64, extent models.Extent, excludeBookingID int64) (*models.Conflict, error) {
	resource, err := s.repo.GetResource(ctx, resourceID)
	if errors.Is(err, database.ErrNotFound) {
		days, derr := s.extentDays(extent)
		if derr != nil {
			return nil, derr
		}
		return &models.Conflict{
			ResourceID: resourceID,
			Kind:       models.ConflictOutOfService,
			Day:        s.cal.DayKey(days[0]),
			Detail:     "unknown resource",
		}, nil
	}
	if err != nil {
		return nil, err
	}
	if resource.Type != extent.Type {
		return nil, fmt.Errorf("resource %d is a %s, extent is for %s", resourceID, resource.Type, extent.Type)
	}

	days, err := s.extentDays(extent)
	if err != nil {
		return nil, err
	}

	fromKey := s.cal.DayKey(days[0])
	toKey := s.cal.DayKey(days[len(days)-1])
	bookings, err := s.repo.GetBookingsForResource(ctx, resourceID, fromKey, toKey)
	if err != nil {
		return nil, err
	}
	reservations, err := s.repo.GetReservationsForResource(ctx, resourceID, fromKey, toKey)
	if err != nil {
		return nil, err
	}

	for _, day := range days {
		if s.outOfServiceOn(resource, day) {
			return &models.Conflict{
				ResourceID: resourceID,
				Kind:       models.ConflictOutOfService,
				Day:        s.cal.DayKey(day),
				Detail:     resource.OutReason,
			}, nil
		}
		if booked, slot := s.extentBookedOn(bookings, extent, day, excludeBookingID); booked {
			return &models.Conflict{
				ResourceID: resourceID,
				Kind:       models.ConflictBooked,
				Day:        s.cal.DayKey(day),
				Slot:       slot,
			}, nil
		}
		if reserved, slot := s.extentReservedOn(reservations, extent, day); reserved {
			return &models.Conflict{
				ResourceID: resourceID,
				Kind:       models.ConflictReserved,
				Day:        s.cal.DayKey(day),
				Slot:       slot,
			}, nil
		}
	}
	return nil, nil
}

// ValidateExtent rejects malformed extents before any storage access.
func (s *Service) ValidateExtent(extent models.Extent) error {
	switch extent.Type {
	case models.ResourceRoom:
		if extent.CheckIn == nil || extent.CheckOut == nil {
			return fmt.Errorf("room booking requires check-in and check-out dates")
		}
		if !s.cal.DayOf(*extent.CheckOut).After(s.cal.DayOf(*extent.CheckIn)) {
			return fmt.Errorf("check-out must be after check-in")
		}
	case models.ResourceHall, models.ResourceLawn:
		if extent.Date == nil {
			return fmt.Errorf("%s booking requires a date", extent.Type)
		}
		if !extent.Slot.Valid() {
			return fmt.Errorf("invalid slot %q", extent.Slot)
		}
	case models.ResourcePhotoshoot:
		if extent.Date == nil {
			return fmt.Errorf("photoshoot booking requires a date")
		}
		if extent.StartHour%2 != 0 ||
			extent.StartHour < models.PhotoshootOpenHour ||
			extent.StartHour+2 > models.PhotoshootCloseHour {
			return fmt.Errorf("invalid photoshoot start hour %d", extent.StartHour)
		}
	default:
		return fmt.Errorf("unknown resource type %q", extent.Type)
	}
	return nil
}

func (s *Service) extentDays(extent models.Extent) ([]time.Time, error) {
	if err := s.ValidateExtent(extent); err != nil {
		return nil, err
	}
	if extent.Type == models.ResourceRoom {
		return s.cal.Days(*extent.CheckIn, *extent.CheckOut), nil
	}
	return []time.Time{s.cal.DayOf(*extent.Date)}, nil
}

// outOfServiceOn reports day-granularity coverage by the maintenance window.
// A scheduled window blocks future days even before the reconciler flips the
// current flag.
func (s *Service) outOfServiceOn(resource *models.Resource, day time.Time) bool {
	if resource.OutFrom != nil && resource.OutTo != nil {
		key := s.cal.DayKey(day)
		if key >= s.cal.DayKey(*resource.OutFrom) && key <= s.cal.DayKey(*resource.OutTo) {
			return true
		}
	}
	return resource.IsOutOfService && s.cal.DayKey(day) == s.cal.DayKey(s.clock.Now())
}

func (s *Service) anyNightBooked(bookings []*models.Booking, day time.Time) bool {
	key := s.cal.DayKey(day)
	for _, b := range bookings {
		if b.CheckIn == nil || b.CheckOut == nil {
			continue
		}
		if key >= s.cal.DayKey(*b.CheckIn) && key < s.cal.DayKey(*b.CheckOut) {
			return true
		}
	}
	return false
}

func (s *Service) slotBooked(bookings []*models.Booking, day time.Time, slot models.Slot) bool {
	key := s.cal.DayKey(day)
	for _, b := range bookings {
		if b.Date != nil && s.cal.DayKey(*b.Date) == key && b.Slot == slot {
			return true
		}
	}
	return false
}

func (s *Service) slotReserved(reservations []*models.Reservation, day time.Time, slot models.Slot) bool {
	for _, r := range reservations {
		if !r.Covers(day) {
			continue
		}
		// An unslotted reservation blocks the whole day.
		if r.Slot == "" || r.Slot == slot {
			return true
		}
	}
	return false
}

func (s *Service) windowBooked(bookings []*models.Booking, day time.Time, startHour int) bool {
	key := s.cal.DayKey(day)
	for _, b := range bookings {
		if b.Date == nil || s.cal.DayKey(*b.Date) != key {
			continue
		}
		if abs(b.StartHour-startHour) < 2 {
			return true
		}
	}
	return false
}

func anyReservationCovers(reservations []*models.Reservation, day time.Time) bool {
	for _, r := range reservations {
		if r.Covers(day) {
			return true
		}
	}
	return false
}

func (s *Service) extentBookedOn(bookings []*models.Booking, extent models.Extent, day time.Time, excludeBookingID int64) (bool, models.Slot) {
	key := s.cal.DayKey(day)
	for _, b := range bookings {
		if excludeBookingID != 0 && b.ID == excludeBookingID {
			continue
		}
		switch extent.Type {
		case models.ResourceRoom:
			if b.CheckIn != nil && b.CheckOut != nil &&
				key >= s.cal.DayKey(*b.CheckIn) && key < s.cal.DayKey(*b.CheckOut) {
				return true, ""
			}
		case models.ResourceHall, models.ResourceLawn:
			if b.Date != nil && s.cal.DayKey(*b.Date) == key && b.Slot == extent.Slot {
				return true, extent.Slot
			}
		case models.ResourcePhotoshoot:
			if b.Date != nil && s.cal.DayKey(*b.Date) == key && abs(b.StartHour-extent.StartHour) < 2 {
				return true, ""
			}
		}
	}
	return false, ""
}

func (s *Service) extentReservedOn(reservations []*models.Reservation, extent models.Extent, day time.Time) (bool, models.Slot) {
	for _, r := range reservations {
		if !r.Covers(day) {
			continue
		}
		if extent.Type == models.ResourceHall || extent.Type == models.ResourceLawn {
			if r.Slot != "" && r.Slot != extent.Slot {
				continue
			}
			return true, extent.Slot
		}
		return true, ""
	}
	return false, ""
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
