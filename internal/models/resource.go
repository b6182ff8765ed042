package models

import "time"

type ResourceType string

const (
	ResourceRoom       ResourceType = "room"
	ResourceHall       ResourceType = "hall"
	ResourceLawn       ResourceType = "lawn"
	ResourcePhotoshoot ResourceType = "photoshoot"
)

// Resource is a bookable unit of the club: a room, a hall, a lawn or a
// photoshoot slot. Static attributes come from the catalog YAML; dynamic
// state (hold, out-of-service window, derived flags) lives in the database
// and is mutated only through conditional single-statement updates.
type Resource struct {
	ID          int64        `yaml:"id" json:"id"`
	Type        ResourceType `yaml:"type" json:"type"`
	Name        string       `yaml:"name" json:"name"`
	Description string       `yaml:"description" json:"description,omitempty"`

	Capacity    int64 `yaml:"capacity" json:"capacity,omitempty"`
	MinGuests   int64 `yaml:"min_guests" json:"min_guests,omitempty"`
	MaxGuests   int64 `yaml:"max_guests" json:"max_guests,omitempty"`
	MemberPrice int64 `yaml:"member_price" json:"member_price"`
	GuestPrice  int64 `yaml:"guest_price" json:"guest_price"`
	SortOrder   int64 `yaml:"sort_order" json:"sort_order"`
	IsActive    bool  `yaml:"is_active" json:"is_active"`

	// Derived projections; the booking finalize step and the reconciler are
	// the only writers.
	IsBooked   bool `json:"is_booked"`
	IsReserved bool `json:"is_reserved"`

	OnHold     bool       `json:"on_hold"`
	HoldBy     string     `json:"hold_by,omitempty"`
	HoldExpiry *time.Time `json:"hold_expiry,omitempty"`

	IsOutOfService bool       `json:"is_out_of_service"`
	OutFrom        *time.Time `json:"out_from,omitempty"`
	OutTo          *time.Time `json:"out_to,omitempty"`
	OutReason      string     `json:"out_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Version   int64     `json:"version"`
}

// HoldActive reports whether the resource carries an unexpired hold at now.
// An expired hold is absent for every reader even before the reconciler
// physically clears it.
func (r *Resource) HoldActive(now time.Time) bool {
	if !r.OnHold || r.HoldExpiry == nil {
		return false
	}
	return r.HoldExpiry.After(now)
}

// HeldByOther reports whether someone other than holder owns an unexpired
// hold at now.
func (r *Resource) HeldByOther(holder string, now time.Time) bool {
	return r.HoldActive(now) && r.HoldBy != holder
}

// SlotBased reports whether the resource type books by daily time slot
// rather than by date range.
func (t ResourceType) SlotBased() bool {
	switch t {
	case ResourceHall, ResourceLawn, ResourcePhotoshoot:
		return true
	default:
		return false
	}
}
