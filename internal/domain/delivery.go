package domain

import (
	"context"
	"time"
)

// Outcome of processing a single inbound event.
type Outcome string

const (
	OutcomeCreated   Outcome = "created"
	OutcomeFailed    Outcome = "failed"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeIgnored   Outcome = "ignored"
)

// DeliveryRecord is one row of the delivery log, written after an event was processed.
type DeliveryRecord struct {
	ID             int64     `json:"id"`
	WebhookEventID string    `json:"webhook_event_id,omitempty"`
	DeliveryID     string    `json:"delivery_id"`
	SenderID       string    `json:"sender_id"`
	CaseID         string    `json:"case_id,omitempty"`
	Outcome        Outcome   `json:"outcome"`
	Error          string    `json:"error,omitempty"`
	Replied        bool      `json:"replied"`
	CreatedAt      time.Time `json:"created_at"`
}

// DeliveryLog records processed events and answers whether an event was already seen.
type DeliveryLog interface {
	Seen(ctx context.Context, webhookEventID string) (bool, error)
	Record(ctx context.Context, rec DeliveryRecord) error
	Recent(ctx context.Context, limit int) ([]DeliveryRecord, error)
	Close() error
}
