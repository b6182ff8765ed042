package models

import "time"

// ConflictKind classifies why a proposed booking cannot proceed; the kind is
// the authoritative signal, message text is informational only.
type ConflictKind string

const (
	ConflictOutOfService ConflictKind = "OUT_OF_SERVICE"
	ConflictBooked       ConflictKind = "BOOKED"
	ConflictReserved     ConflictKind = "RESERVED"
	ConflictAlreadyHeld  ConflictKind = "ALREADY_HELD"
)

const (
	// DefaultHoldTTL matches the payment gateway's invoice due window.
	DefaultHoldTTL = 3 * time.Minute

	// DefaultSweepInterval is how often the reconciler runs.
	DefaultSweepInterval = 10 * time.Second

	// PhotoshootDuration is the fixed length of a photoshoot window.
	PhotoshootDuration = 2 * time.Hour

	// DefaultDraftTTL pads the hold TTL so a callback racing expiry still
	// finds the draft and can report HoldExpired instead of "unknown invoice".
	DefaultDraftTTL = 10 * time.Minute

	// WorkerQueueSize bounds the in-memory ledger task queue.
	WorkerQueueSize = 128

	// DayKeyFormat is the canonical calendar-day key layout.
	DayKeyFormat = "2006-01-02"
)

const (
	SyncUpsert       = "upsert"
	SyncDelete       = "delete"
	SyncUpdateStatus = "update_status"
)
