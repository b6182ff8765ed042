package models

import "time"

// Slot is one of the coarse daily time windows used by slot-based resources.
type Slot string

const (
	SlotMorning Slot = "MORNING"
	SlotEvening Slot = "EVENING"
	SlotNight   Slot = "NIGHT"
)

// AllSlots lists every bookable slot of a day in display order.
var AllSlots = []Slot{SlotMorning, SlotEvening, SlotNight}

func (s Slot) Valid() bool {
	switch s {
	case SlotMorning, SlotEvening, SlotNight:
		return true
	default:
		return false
	}
}

type PaymentStatus string

const (
	PaymentUnpaid   PaymentStatus = "UNPAID"
	PaymentHalfPaid PaymentStatus = "HALF_PAID"
	PaymentPaid     PaymentStatus = "PAID"
)

// Booking is a confirmed allocation of a resource. It is created only by the
// transition engine's finalize step, never speculatively.
//
// Extent depends on the resource type:
//   - room:       [CheckIn, CheckOut) date range
//   - hall, lawn: Date + Slot
//   - photoshoot: Date + StartHour, fixed two-hour window
type Booking struct {
	ID           int64        `json:"id"`
	ResourceID   int64        `json:"resource_id"`
	ResourceType ResourceType `json:"resource_type"`
	ResourceName string       `json:"resource_name"`
	MemberID     int64        `json:"member_id"`
	MemberName   string       `json:"member_name"`
	IsGuest      bool         `json:"is_guest"`

	CheckIn   *time.Time `json:"check_in,omitempty"`
	CheckOut  *time.Time `json:"check_out,omitempty"`
	Date      *time.Time `json:"date,omitempty"`
	Slot      Slot       `json:"slot,omitempty"`
	StartHour int        `json:"start_hour,omitempty"`
	Guests    int64      `json:"guests,omitempty"`

	TotalPrice    int64         `json:"total_price"`
	PaidAmount    int64         `json:"paid_amount"`
	PendingAmount int64         `json:"pending_amount"`
	PaymentStatus PaymentStatus `json:"payment_status"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Version   int64     `json:"version"`
}

// AmountsConsistent checks the financial snapshot invariant: once the status
// leaves UNPAID, paid plus pending must equal the total, and PAID implies
// nothing pending.
func (b *Booking) AmountsConsistent() bool {
	switch b.PaymentStatus {
	case PaymentUnpaid:
		return true
	case PaymentPaid:
		return b.PendingAmount == 0 && b.PaidAmount == b.TotalPrice
	case PaymentHalfPaid:
		return b.PaidAmount+b.PendingAmount == b.TotalPrice
	default:
		return false
	}
}

type VoucherType string

const (
	VoucherFullPayment VoucherType = "FULL_PAYMENT"
	VoucherHalfPayment VoucherType = "HALF_PAYMENT"
)

// PaymentVoucher records a received payment against a booking.
type PaymentVoucher struct {
	ID        string      `json:"id"`
	BookingID int64       `json:"booking_id"`
	Type      VoucherType `json:"type"`
	Amount    int64       `json:"amount"`
	CreatedAt time.Time   `json:"created_at"`
}
