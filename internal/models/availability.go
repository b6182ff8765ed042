package models

import "time"

// Photoshoot windows start on even hours within the club's shooting day.
const (
	PhotoshootOpenHour  = 8
	PhotoshootCloseHour = 20
)

// PhotoshootStartHours lists the valid window starts of a day.
func PhotoshootStartHours() []int {
	var hours []int
	for h := PhotoshootOpenHour; h+2 <= PhotoshootCloseHour; h += 2 {
		hours = append(hours, h)
	}
	return hours
}

// Extent is the time footprint of a proposed or existing booking. Which
// fields are set depends on the resource type: rooms use the half-open
// [CheckIn, CheckOut) night range, halls and lawns use Date plus Slot, and
// photoshoots use Date plus StartHour.
type Extent struct {
	Type      ResourceType `json:"type"`
	CheckIn   *time.Time   `json:"check_in,omitempty"`
	CheckOut  *time.Time   `json:"check_out,omitempty"`
	Date      *time.Time   `json:"date,omitempty"`
	Slot      Slot         `json:"slot,omitempty"`
	StartHour int          `json:"start_hour,omitempty"`
}

// Conflict explains why an extent cannot be granted on a resource. Kind is
// the authoritative classification; Day pins the first conflicting day.
type Conflict struct {
	ResourceID int64        `json:"resource_id"`
	Kind       ConflictKind `json:"kind"`
	Day        string       `json:"day"`
	Slot       Slot         `json:"slot,omitempty"`
	Detail     string       `json:"detail,omitempty"`
}

// DayAvailability is the availability picture of one resource on one day.
// FreeSlots is populated for halls and lawns, FreeHours for photoshoots, and
// Free summarizes whole-day occupancy for rooms.
type DayAvailability struct {
	Day       string `json:"day"`
	Free      bool   `json:"free"`
	FreeSlots []Slot `json:"free_slots,omitempty"`
	FreeHours []int  `json:"free_hours,omitempty"`
	Held      bool   `json:"held,omitempty"`
}
