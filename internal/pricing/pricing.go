// Package pricing computes the quoted total of a proposed booking from the
// catalog's member and guest tariffs. Quotes are deterministic: the engine
// snapshots the result into the booking at finalize time, so later catalog
// edits never change what a member owes.
package pricing

import (
	"fmt"

	"pavilion/internal/calendar"
	"pavilion/internal/models"
)

// CapacityError reports a guest count that the requested lawns cannot host.
type CapacityError struct {
	Guests int64
	Min    int64
	Max    int64
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("guest count %d outside allowed range [%d, %d]", e.Guests, e.Min, e.Max)
}

type Service struct {
	cal *calendar.Calendar
}

func New(cal *calendar.Calendar) *Service {
	return &Service{cal: cal}
}

// Quote prices an extent across the given resources. Rooms charge the
// per-night tariff times the night count, halls and lawns charge per slot,
// photoshoots charge a flat window rate. Lawn quotes validate the guest
// count against the combined capacity of the selected lawns.
func (s *Service) Quote(resources []*models.Resource, extent models.Extent, isGuest bool, guests int64) (int64, error) {
	if len(resources) == 0 {
		return 0, fmt.Errorf("no resources to price")
	}

	if extent.Type == models.ResourceLawn {
		if err := checkLawnCapacity(resources, guests); err != nil {
			return 0, err
		}
	}

	var total int64
	for _, r := range resources {
		price, err := s.UnitQuote(r, extent, isGuest)
		if err != nil {
			return 0, err
		}
		total += price
	}
	return total, nil
}

// UnitQuote prices the extent on a single resource, without capacity checks.
func (s *Service) UnitQuote(r *models.Resource, extent models.Extent, isGuest bool) (int64, error) {
	rate := r.MemberPrice
	if isGuest {
		rate = r.GuestPrice
	}

	switch r.Type {
	case models.ResourceRoom:
		nights := s.cal.Nights(*extent.CheckIn, *extent.CheckOut)
		if nights < 1 {
			return 0, fmt.Errorf("stay must cover at least one night")
		}
		return rate * int64(nights), nil
	case models.ResourceHall, models.ResourceLawn, models.ResourcePhotoshoot:
		return rate, nil
	default:
		return 0, fmt.Errorf("unknown resource type %q", r.Type)
	}
}

// HalfOf splits a total for the half-payment option, rounding the first
// installment up so paid plus pending always equals the total.
func HalfOf(total int64) (paid, pending int64) {
	paid = (total + 1) / 2
	return paid, total - paid
}

func checkLawnCapacity(resources []*models.Resource, guests int64) error {
	var min, max int64
	for i, r := range resources {
		if i == 0 || r.MinGuests < min {
			min = r.MinGuests
		}
		max += r.MaxGuests
	}
	if guests < min || guests > max {
		return &CapacityError{Guests: guests, Min: min, Max: max}
	}
	return nil
}
