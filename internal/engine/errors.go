package engine

import (
	"errors"
	"fmt"
	"time"

	"pavilion/internal/models"
)

var (
	// ErrUnknownInvoice means the callback's invoice id matches no draft,
	// expired or otherwise.
	ErrUnknownInvoice = errors.New("unknown invoice")

	// ErrPastDate rejects bookings whose extent starts before today.
	ErrPastDate = errors.New("booking date is in the past")

	// ErrInsufficientUnits means fewer free units exist than were requested.
	ErrInsufficientUnits = errors.New("not enough free units")
)

// ConflictError wraps the first conflict found during initiation. The caller
// keys off Conflict.Kind, never the message.
type ConflictError struct {
	Conflict *models.Conflict
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("resource %d %s on %s", e.Conflict.ResourceID, e.Conflict.Kind, e.Conflict.Day)
}

// HoldExpiredError means a payment callback arrived after the hold lapsed.
// The payment must be refunded out of band; no booking is created.
type HoldExpiredError struct {
	InvoiceID string
	Expiry    time.Time
}

func (e *HoldExpiredError) Error() string {
	return fmt.Sprintf("hold for invoice %s expired at %s", e.InvoiceID, e.Expiry.Format(time.RFC3339))
}

// AmountError reports a callback amount that is neither the full total nor
// the permitted half installment.
type AmountError struct {
	Got  int64
	Full int64
	Half int64
}

func (e *AmountError) Error() string {
	return fmt.Sprintf("paid amount %d matches neither full %d nor half %d", e.Got, e.Full, e.Half)
}
