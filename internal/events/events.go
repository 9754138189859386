package events

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	EventTxSubmitted     = "tx_submitted"
	EventTxConfirmed     = "tx_confirmed"
	EventTxReverted      = "tx_reverted"
	EventTxDropped       = "tx_dropped"
	EventBookingStaked   = "booking_staked"
	EventTokensPurchased = "tokens_purchased"
)

// TxEventPayload describes a transaction lifecycle change.
type TxEventPayload struct {
	Hash        string `json:"hash"`
	Kind        string `json:"kind"`
	Account     string `json:"account"`
	Status      string `json:"status"`
	BlockNumber uint64 `json:"block_number,omitempty"`
}

// BookingStakedPayload is published after bookAccommodation succeeds.
type BookingStakedPayload struct {
	Account string      `json:"account"`
	TxHash  string      `json:"tx_hash"`
	Nights  [][2]uint16 `json:"nights"`
	Amount  string      `json:"amount"`
}

// TokensPurchasedPayload is published after a successful buy.
type TokensPurchasedPayload struct {
	Account string `json:"account"`
	TxHash  string `json:"tx_hash"`
	Amount  string `json:"amount"`
	Cost    string `json:"cost"`
}

// Event represents a lightweight domain event.
type Event struct {
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
	logger      zerolog.Logger
}

// NewEventBus constructs an empty bus. Handler errors are logged to logger
// when it is not nil.
func NewEventBus(logger *zerolog.Logger) *EventBus {
	b := &EventBus{subscribers: make(map[string][]EventHandler), logger: zerolog.Nop()}
	if logger != nil {
		b.logger = logger.With().Str("component", "events").Logger()
	}
	return b
}

// Subscribe registers a handler for a given event type.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Publish notifies subscribers of the event type and returns how many
// handlers failed.
func (b *EventBus) Publish(event *Event) int {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	failed := 0
	for _, handler := range handlers {
		// Handlers run synchronously; caller decides concurrency model.
		if err := handler(event); err != nil {
			failed++
			b.logger.Warn().Err(err).Str("event", event.Type).Msg("event handler failed")
		}
	}
	return failed
}

// PublishJSON serializes the payload and publishes an event.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}

	event, err := NewJSONEvent(eventType, payload)
	if err != nil {
		return err
	}
	b.Publish(&event)
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
