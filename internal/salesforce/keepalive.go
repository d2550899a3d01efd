package salesforce

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"
)

// Pinger is a cheap authenticated call.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Keepalive pings Salesforce on a cron schedule so the session is refreshed
// before a webhook needs it.
type Keepalive struct {
	expr   string
	pinger Pinger
	logger *slog.Logger
}

func NewKeepalive(expr string, pinger Pinger, logger *slog.Logger) (*Keepalive, error) {
	if !gronx.New().IsValid(expr) {
		return nil, fmt.Errorf("invalid keepalive cron expression %q", expr)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Keepalive{expr: expr, pinger: pinger, logger: logger}, nil
}

// Next returns the first scheduled tick strictly after from.
func (k *Keepalive) Next(from time.Time) (time.Time, error) {
	return gronx.NextTickAfter(k.expr, from, false)
}

// Run blocks until ctx is cancelled.
func (k *Keepalive) Run(ctx context.Context) error {
	k.logger.Info("salesforce keepalive started", "schedule", k.expr)
	for {
		next, err := k.Next(time.Now())
		if err != nil {
			return fmt.Errorf("keepalive schedule: %w", err)
		}
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
			k.Tick(ctx)
		}
	}
}

// Tick runs one keepalive ping. Failures are logged only.
func (k *Keepalive) Tick(ctx context.Context) {
	if err := k.pinger.Ping(ctx); err != nil {
		k.logger.Warn("salesforce keepalive failed", "err", err)
		return
	}
	k.logger.Debug("salesforce keepalive ok")
}
