package channel

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"linerelay/internal/domain"
	"linerelay/internal/metrics"
)

const maxWebhookBody = 1 << 20 // 1MB

// DeliveryHeader carries the id under which a webhook delivery is tracked.
const DeliveryHeader = "X-Delivery-ID"

// EventSink receives the events of an acknowledged webhook delivery.
// Dispatch must not block on event processing.
type EventSink interface {
	Dispatch(ctx context.Context, deliveryID string, events []domain.InboundEvent)
}

// LineConfig configures the LINE webhook handler.
type LineConfig struct {
	ChannelSecret string
	Sink          EventSink
	Logger        *slog.Logger
}

// Line handles LINE Messaging API webhooks.
type Line struct {
	secret string
	sink   EventSink
	logger *slog.Logger
}

func NewLine(cfg LineConfig) *Line {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Line{
		secret: cfg.ChannelSecret,
		sink:   cfg.Sink,
		logger: cfg.Logger,
	}
}

// ServeHTTP verifies the signature, checks the payload shape, acknowledges
// with 200 and only then hands the events to the sink.
func (l *Line) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(rw, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		metrics.WebhooksTotal.WithLabelValues("bad_request").Inc()
		writeJSON(rw, http.StatusBadRequest, map[string]string{"error": domain.ErrInvalidPayload.Error()})
		return
	}
	defer r.Body.Close()

	if err := checkSignature(body, r.Header.Get(SignatureHeader), l.secret); err != nil {
		if l.secret == "" {
			l.logger.Warn("line channel secret not configured, rejecting webhook")
		}
		l.logger.Warn("rejecting line webhook", "err", err, "remote", r.RemoteAddr)
		metrics.WebhooksTotal.WithLabelValues("unauthorized").Inc()
		http.Error(rw, "Invalid signature", http.StatusUnauthorized)
		return
	}

	events, err := parseWebhook(body, l.logger)
	if err != nil {
		l.logger.Warn("invalid line webhook payload", "err", err)
		metrics.WebhooksTotal.WithLabelValues("bad_request").Inc()
		writeJSON(rw, http.StatusBadRequest, map[string]string{"error": "Invalid webhook format"})
		return
	}

	deliveryID := uuid.NewString()
	rw.Header().Set(DeliveryHeader, deliveryID)
	writeJSON(rw, http.StatusOK, map[string]string{"status": "OK"})
	if f, ok := rw.(http.Flusher); ok {
		f.Flush()
	}
	metrics.WebhooksTotal.WithLabelValues("accepted").Inc()

	l.logger.Info("line webhook accepted", "delivery", deliveryID, "events", len(events))

	if l.sink != nil && len(events) > 0 {
		l.sink.Dispatch(context.WithoutCancel(r.Context()), deliveryID, events)
	}
}

// --- LINE webhook payload types ---

type lineWebhook struct {
	Destination string             `json:"destination"`
	Events      *[]json.RawMessage `json:"events"`
}

type lineEvent struct {
	Type            string               `json:"type"`
	Message         *lineMessage         `json:"message,omitempty"`
	Source          lineSource           `json:"source"`
	ReplyToken      string               `json:"replyToken"`
	WebhookEventID  string               `json:"webhookEventId"`
	DeliveryContext *lineDeliveryContext `json:"deliveryContext,omitempty"`
	Timestamp       json.Number          `json:"timestamp"`
}

type lineMessage struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Text string `json:"text"`
}

type lineSource struct {
	Type    string `json:"type"`
	UserID  string `json:"userId"`
	GroupID string `json:"groupId,omitempty"`
	RoomID  string `json:"roomId,omitempty"`
}

type lineDeliveryContext struct {
	IsRedelivery bool `json:"isRedelivery"`
}

// parseWebhook decodes the body and rejects payloads whose events list is
// missing or not an array. Elements that do not decode as an event are
// logged and skipped so the rest of the batch is still processed.
func parseWebhook(body []byte, logger *slog.Logger) ([]domain.InboundEvent, error) {
	var payload lineWebhook
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, err
	}
	if payload.Events == nil {
		return nil, domain.ErrInvalidPayload
	}

	events := make([]domain.InboundEvent, 0, len(*payload.Events))
	for i, raw := range *payload.Events {
		var e lineEvent
		if err := json.Unmarshal(raw, &e); err != nil {
			logger.Warn("skipping malformed line event", "index", i, "err", err)
			metrics.EventsTotal.WithLabelValues("malformed").Inc()
			continue
		}
		events = append(events, e.toDomain())
	}
	return events, nil
}

func (e lineEvent) toDomain() domain.InboundEvent {
	ev := domain.InboundEvent{
		Type:           domain.EventType(e.Type),
		SenderID:       e.Source.UserID,
		ReplyToken:     e.ReplyToken,
		WebhookEventID: e.WebhookEventID,
	}
	if e.Message != nil {
		ev.MessageType = domain.MessageType(e.Message.Type)
		ev.Text = e.Message.Text
	}
	if e.DeliveryContext != nil {
		ev.IsRedelivery = e.DeliveryContext.IsRedelivery
	}
	if ms, err := e.Timestamp.Int64(); err == nil && ms > 0 {
		ev.Timestamp = time.UnixMilli(ms)
	} else if f, err := e.Timestamp.Float64(); err == nil && f > 0 {
		ev.Timestamp = time.UnixMilli(int64(f))
	}
	return ev
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	json.NewEncoder(rw).Encode(v)
}
