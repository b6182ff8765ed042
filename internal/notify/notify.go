package notify

import (
	"encoding/json"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"pavilion/internal/domain"
	"pavilion/internal/events"
)

// Notifier forwards booking and resource events to the club managers'
// Telegram chats. Delivery is best effort; a failed send is logged and never
// blocks the publishing side.
type Notifier struct {
	sender  domain.TelegramSender
	chatIDs []int64
	logger  zerolog.Logger
}

func New(sender domain.TelegramSender, chatIDs []int64, logger *zerolog.Logger) *Notifier {
	return &Notifier{
		sender:  sender,
		chatIDs: chatIDs,
		logger:  logger.With().Str("component", "notify").Logger(),
	}
}

// SubscribeAll registers handlers for every event type managers care about.
func (n *Notifier) SubscribeAll(bus *events.EventBus) {
	bus.Subscribe(events.EventBookingConfirmed, n.handleBookingEvent)
	bus.Subscribe(events.EventBookingCanceled, n.handleBookingEvent)
	bus.Subscribe(events.EventHoldExpired, n.handleBookingEvent)
	bus.Subscribe(events.EventOutOfService, n.handleResourceEvent)
	bus.Subscribe(events.EventBackInService, n.handleResourceEvent)
}

func (n *Notifier) handleBookingEvent(event *events.Event) error {
	var payload events.BookingEventPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		n.logger.Error().Err(err).Str("event", event.Type).Msg("failed to decode event payload")
		return err
	}

	var text string
	switch event.Type {
	case events.EventBookingConfirmed:
		text = fmt.Sprintf("✅ Booking #%d confirmed\n%s\n%s, %d",
			payload.BookingID, payload.ResourceName, payload.MemberName, payload.Amount)
		if payload.Status != "" {
			text += fmt.Sprintf("\nStatus: %s", payload.Status)
		}
	case events.EventBookingCanceled:
		text = fmt.Sprintf("❌ Booking #%d canceled\n%s\n%s",
			payload.BookingID, payload.ResourceName, payload.MemberName)
	case events.EventHoldExpired:
		text = fmt.Sprintf("⏳ Hold expired on %s", payload.ResourceName)
		if payload.InvoiceID != "" {
			text += fmt.Sprintf(" (invoice %s)", payload.InvoiceID)
		}
	default:
		return nil
	}

	n.broadcast(text)
	return nil
}

func (n *Notifier) handleResourceEvent(event *events.Event) error {
	var payload events.BookingEventPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		n.logger.Error().Err(err).Str("event", event.Type).Msg("failed to decode event payload")
		return err
	}

	var text string
	switch event.Type {
	case events.EventOutOfService:
		text = fmt.Sprintf("🔧 %s is out of service", payload.ResourceName)
		if payload.Reason != "" {
			text += ": " + payload.Reason
		}
	case events.EventBackInService:
		text = fmt.Sprintf("🟢 %s is back in service", payload.ResourceName)
	default:
		return nil
	}

	n.broadcast(text)
	return nil
}

func (n *Notifier) broadcast(text string) {
	for _, chatID := range n.chatIDs {
		msg := tgbotapi.NewMessage(chatID, text)
		if _, err := n.sender.Send(msg); err != nil {
			n.logger.Error().Err(err).Int64("chat_id", chatID).Msg("failed to send notification")
		}
	}
}
