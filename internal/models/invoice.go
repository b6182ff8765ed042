package models

import "time"

// InvoiceRequest is submitted to the payment gateway when a hold is placed.
// The reference carries the draft id so the callback can be matched back.
type InvoiceRequest struct {
	Reference   string    `json:"reference"`
	MemberID    int64     `json:"member_id"`
	MemberName  string    `json:"member_name"`
	Description string    `json:"description"`
	Amount      int64     `json:"amount"`
	AllowHalf   bool      `json:"allow_half"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Invoice is the gateway's record of a pending payment. The id is the key the
// callback echoes back, and the key the booking draft is stored under.
type Invoice struct {
	ID        string    `json:"id"`
	Reference string    `json:"reference"`
	Amount    int64     `json:"amount"`
	Channels  []string  `json:"channels,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// PaymentCallback is the gateway's confirmation of a settled invoice.
type PaymentCallback struct {
	InvoiceID  string `json:"invoice_id"`
	PaidAmount int64  `json:"paid_amount"`
	Status     string `json:"status"`
}
