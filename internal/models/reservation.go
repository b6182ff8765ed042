package models

import "time"

// Reservation is a standing, admin-created block of time on a resource. It
// carries no payment state and is layered into availability independently of
// bookings: maintenance windows, VIP blocks and similar. Lifecycle is managed
// by catalog administration; this engine only reads them.
type Reservation struct {
	ID           int64        `json:"id"`
	ResourceID   int64        `json:"resource_id"`
	ResourceType ResourceType `json:"resource_type"`
	ReservedFrom time.Time    `json:"reserved_from"`
	ReservedTo   time.Time    `json:"reserved_to"`
	// Slot narrows a hall reservation to a single slot; empty blocks the
	// whole day.
	Slot      Slot      `json:"slot,omitempty"`
	Note      string    `json:"note,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Covers reports whether the reservation's date range includes the given
// calendar day (inclusive on both ends, day granularity). Comparison is on
// the formatted day key so that wall-clock components never shift a date
// across midnight.
func (r *Reservation) Covers(day time.Time) bool {
	d := day.Format("2006-01-02")
	from := r.ReservedFrom.Format("2006-01-02")
	to := r.ReservedTo.Format("2006-01-02")
	return d >= from && d <= to
}
