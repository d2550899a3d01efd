package domain

import "time"

// EventType is the top-level LINE webhook event type.
type EventType string

const (
	EventMessage EventType = "message"
)

// MessageType is the type of the message carried by a message event.
type MessageType string

const (
	MessageText MessageType = "text"
)

// InboundEvent is one event from a LINE webhook delivery. It only lives for the
// duration of the delivery that carried it.
type InboundEvent struct {
	Type           EventType
	MessageType    MessageType
	SenderID       string
	Text           string
	ReplyToken     string
	WebhookEventID string // empty for events that carry no id
	IsRedelivery   bool
	Timestamp      time.Time
}

// IsTextMessage reports whether the event should produce a case.
func (e InboundEvent) IsTextMessage() bool {
	return e.Type == EventMessage && e.MessageType == MessageText
}
