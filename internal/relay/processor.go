package relay

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"linerelay/internal/domain"
	"linerelay/internal/metrics"
)

// CaseCreator is the use case the processor drives for each text message.
type CaseCreator interface {
	CreateCase(ctx context.Context, senderID, message string) (*domain.Case, error)
}

// Result tallies the outcomes of one delivery.
type Result struct {
	Created    int `json:"created"`
	Failed     int `json:"failed"`
	Duplicates int `json:"duplicates"`
	Ignored    int `json:"ignored"`
}

func (r *Result) add(o domain.Outcome) {
	switch o {
	case domain.OutcomeCreated:
		r.Created++
	case domain.OutcomeFailed:
		r.Failed++
	case domain.OutcomeDuplicate:
		r.Duplicates++
	default:
		r.Ignored++
	}
}

// ProcessorConfig configures the event processor.
type ProcessorConfig struct {
	Cases         CaseCreator
	Replier       domain.Replier     // nil disables replies
	Log           domain.DeliveryLog // nil disables idempotency and the outcome log
	ReplyTemplate string
	Logger        *slog.Logger
}

// Processor handles the events of one delivery in order. Every event runs
// inside its own error boundary.
type Processor struct {
	cases    CaseCreator
	replier  domain.Replier
	log      domain.DeliveryLog
	template string
	logger   *slog.Logger
}

func NewProcessor(cfg ProcessorConfig) *Processor {
	if cfg.ReplyTemplate == "" {
		cfg.ReplyTemplate = "Thank you! Your message has been received. Case ID: %s"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Processor{
		cases:    cfg.Cases,
		replier:  cfg.Replier,
		log:      cfg.Log,
		template: cfg.ReplyTemplate,
		logger:   cfg.Logger,
	}
}

// RenderReply substitutes the case id for the first %s in template.
func RenderReply(template, caseID string) string {
	return strings.Replace(template, "%s", caseID, 1)
}

// Process handles events sequentially. It never returns an error: failures
// are logged, counted and written to the delivery log.
func (p *Processor) Process(ctx context.Context, deliveryID string, events []domain.InboundEvent) Result {
	var res Result
	for _, ev := range events {
		rec := p.handle(ctx, deliveryID, ev)
		res.add(rec.Outcome)
	}
	return res
}

func (p *Processor) handle(ctx context.Context, deliveryID string, ev domain.InboundEvent) (rec domain.DeliveryRecord) {
	rec = domain.DeliveryRecord{
		WebhookEventID: ev.WebhookEventID,
		DeliveryID:     deliveryID,
		SenderID:       ev.SenderID,
	}
	logger := p.logger.With("delivery", deliveryID, "event_id", ev.WebhookEventID, "sender", ev.SenderID)

	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic while processing event", "panic", r)
			metrics.CaseFailures.WithLabelValues("panic").Inc()
			rec.Outcome = domain.OutcomeFailed
			rec.Error = fmt.Sprintf("panic: %v", r)
		}
		metrics.EventsTotal.WithLabelValues(string(rec.Outcome)).Inc()
		if rec.Outcome != domain.OutcomeDuplicate {
			p.record(ctx, logger, rec)
		}
	}()

	if !ev.IsTextMessage() {
		rec.Outcome = domain.OutcomeIgnored
		logger.Debug("ignoring non-text event", "type", ev.Type, "message_type", ev.MessageType)
		return rec
	}

	if p.log != nil && ev.WebhookEventID != "" {
		seen, err := p.log.Seen(ctx, ev.WebhookEventID)
		if err != nil {
			logger.Warn("delivery log lookup failed, processing anyway", "err", err)
		} else if seen {
			rec.Outcome = domain.OutcomeDuplicate
			logger.Info("skipping already processed event", "redelivery", ev.IsRedelivery)
			return rec
		}
	}

	c, err := p.cases.CreateCase(ctx, ev.SenderID, ev.Text)
	if err != nil {
		rec.Outcome = domain.OutcomeFailed
		rec.Error = err.Error()
		logger.Error("case creation failed", "err", err)
		return rec
	}
	rec.Outcome = domain.OutcomeCreated
	rec.CaseID = c.ID

	if p.replier != nil {
		if err := p.replier.Reply(ctx, ev.ReplyToken, RenderReply(p.template, c.ID)); err != nil {
			rec.Error = err.Error()
			logger.Warn("reply failed", "case_id", c.ID, "err", err)
		} else {
			rec.Replied = true
		}
	}
	return rec
}

func (p *Processor) record(ctx context.Context, logger *slog.Logger, rec domain.DeliveryRecord) {
	if p.log == nil {
		return
	}
	if err := p.log.Record(ctx, rec); err != nil {
		logger.Warn("cannot write delivery log", "err", err)
	}
}
