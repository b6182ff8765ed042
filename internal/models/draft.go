package models

import "time"

// BookingDraft is the in-flight state of a booking attempt between invoice
// creation and the payment callback. It lives in the draft repository under
// the invoice id with a TTL matching the hold, and is the opaque payload the
// payment gateway echoes back on confirmation.
type BookingDraft struct {
	DraftID     string       `json:"draft_id"`
	InvoiceID   string       `json:"invoice_id"`
	HolderID    string       `json:"holder_id"`
	ResourceIDs []int64      `json:"resource_ids"`
	Type        ResourceType `json:"type"`
	MemberID    int64        `json:"member_id"`
	MemberName  string       `json:"member_name"`
	IsGuest     bool         `json:"is_guest"`

	CheckIn   *time.Time `json:"check_in,omitempty"`
	CheckOut  *time.Time `json:"check_out,omitempty"`
	Date      *time.Time `json:"date,omitempty"`
	Slot      Slot       `json:"slot,omitempty"`
	StartHour int        `json:"start_hour,omitempty"`
	Guests    int64      `json:"guests,omitempty"`

	// UnitPrices snapshots the quoted price of each resource in ResourceIDs
	// order, so catalog edits mid-flight cannot change what was invoiced.
	UnitPrices []int64   `json:"unit_prices"`
	TotalPrice int64     `json:"total_price"`
	HoldExpiry time.Time `json:"hold_expiry"`
	CreatedAt  time.Time `json:"created_at"`
}

// SyncTask is a persisted unit of ledger-sync work; the worker drains these
// through redis with a database table as the durable source.
type SyncTask struct {
	ID          int64      `json:"id"`
	TaskType    string     `json:"task_type"`
	BookingID   int64      `json:"booking_id"`
	Payload     string     `json:"payload"`
	Status      string     `json:"status"`
	RetryCount  int        `json:"retry_count"`
	LastError   string     `json:"last_error"`
	CreatedAt   time.Time  `json:"created_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
	NextRetryAt *time.Time `json:"next_retry_at,omitempty"`
}
