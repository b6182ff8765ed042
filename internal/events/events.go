package events

import (
	"encoding/json"
	"sync"
	"time"
)

const (
	EventHoldPlaced       = "hold_placed"
	EventHoldExpired      = "hold_expired"
	EventBookingConfirmed = "booking_confirmed"
	EventBookingCanceled  = "booking_canceled"
	EventBookingFailed    = "booking_failed"
	EventOutOfService     = "resource_out_of_service"
	EventBackInService    = "resource_back_in_service"
)

// BookingEventPayload describes the minimal booking snapshot for event consumers.
type BookingEventPayload struct {
	BookingID    int64  `json:"booking_id,omitempty"`
	InvoiceID    string `json:"invoice_id,omitempty"`
	ResourceID   int64  `json:"resource_id"`
	ResourceName string `json:"resource_name,omitempty"`
	MemberID     int64  `json:"member_id,omitempty"`
	MemberName   string `json:"member_name,omitempty"`
	Status       string `json:"status,omitempty"`
	Day          string `json:"day,omitempty"`
	Amount       int64  `json:"amount,omitempty"`
	Reason       string `json:"reason,omitempty"`
}

// Event represents a lightweight domain event.
type Event struct {
	ID        int64
	Type      string
	Payload   []byte
	CreatedAt time.Time
	Processed bool
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
}

// NewEventBus constructs an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler)}
}

// Subscribe registers a handler for a given event type.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Publish notifies subscribers of the event type.
func (b *EventBus) Publish(event *Event) {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	for _, handler := range handlers {
		// Handlers run synchronously; caller decides concurrency model.
		_ = handler(event)
	}
}

// PublishJSON serializes the payload and publishes an event.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	b.Publish(&Event{Type: eventType, Payload: raw, CreatedAt: time.Now()})
	return nil
}

// NewJSONEvent builds an Event with JSON payload for manual publishing.
func NewJSONEvent(eventType string, payload interface{}) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}

	return Event{Type: eventType, Payload: raw, CreatedAt: time.Now()}, nil
}
