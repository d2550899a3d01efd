package relay

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"linerelay/internal/domain"
	"linerelay/internal/metrics"
)

// DeliveryStatus is the state of one webhook delivery's background task.
type DeliveryStatus string

const (
	DeliveryPending  DeliveryStatus = "pending"
	DeliveryRunning  DeliveryStatus = "running"
	DeliveryComplete DeliveryStatus = "complete"
	DeliveryFailed   DeliveryStatus = "failed"
)

// Delivery tracks one acknowledged webhook.
type Delivery struct {
	ID         string         `json:"id"`
	Status     DeliveryStatus `json:"status"`
	Events     int            `json:"events"`
	Result     Result         `json:"result"`
	Error      string         `json:"error,omitempty"`
	ReceivedAt time.Time      `json:"received_at"`
	DoneAt     time.Time      `json:"done_at,omitzero"`
}

// EventProcessor handles the events of one delivery.
type EventProcessor interface {
	Process(ctx context.Context, deliveryID string, events []domain.InboundEvent) Result
}

// Dispatcher runs each delivery in its own goroutine and keeps its status
// for inspection. It implements channel.EventSink.
type Dispatcher struct {
	mu         sync.RWMutex
	deliveries map[string]*Delivery
	processor  EventProcessor
	logger     *slog.Logger
	wg         sync.WaitGroup
}

func NewDispatcher(processor EventProcessor, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		deliveries: make(map[string]*Delivery),
		processor:  processor,
		logger:     logger,
	}
}

// Dispatch starts processing in the background and returns immediately.
func (d *Dispatcher) Dispatch(ctx context.Context, deliveryID string, events []domain.InboundEvent) {
	d.mu.Lock()
	delivery := &Delivery{
		ID:         deliveryID,
		Status:     DeliveryPending,
		Events:     len(events),
		ReceivedAt: time.Now(),
	}
	d.deliveries[deliveryID] = delivery
	d.mu.Unlock()

	d.wg.Add(1)
	metrics.InflightDeliveries.Inc()

	go func() {
		defer d.wg.Done()
		defer metrics.InflightDeliveries.Dec()

		d.mu.Lock()
		delivery.Status = DeliveryRunning
		d.mu.Unlock()

		res, err := d.run(ctx, deliveryID, events)

		d.mu.Lock()
		delivery.DoneAt = time.Now()
		delivery.Result = res
		switch {
		case err != nil:
			delivery.Status = DeliveryFailed
			delivery.Error = err.Error()
		case res.Failed > 0:
			delivery.Status = DeliveryFailed
		default:
			delivery.Status = DeliveryComplete
		}
		d.mu.Unlock()

		d.logger.Info("delivery processed", "delivery", deliveryID,
			"created", res.Created, "failed", res.Failed,
			"duplicates", res.Duplicates, "ignored", res.Ignored)
	}()
}

func (d *Dispatcher) run(ctx context.Context, deliveryID string, events []domain.InboundEvent) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("delivery task panicked", "delivery", deliveryID, "panic", r)
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return d.processor.Process(ctx, deliveryID, events), nil
}

// Get returns a copy of the delivery's current state.
func (d *Dispatcher) Get(id string) (*Delivery, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	delivery, ok := d.deliveries[id]
	if !ok {
		return nil, false
	}
	cp := *delivery
	return &cp, true
}

// List returns all tracked deliveries, newest first.
func (d *Dispatcher) List() []Delivery {
	d.mu.RLock()
	out := make([]Delivery, 0, len(d.deliveries))
	for _, delivery := range d.deliveries {
		out = append(out, *delivery)
	}
	d.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ReceivedAt.After(out[j].ReceivedAt) })
	return out
}

// Clean forgets finished deliveries older than maxAge.
func (d *Dispatcher) Clean(maxAge time.Duration) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for id, delivery := range d.deliveries {
		if (delivery.Status == DeliveryComplete || delivery.Status == DeliveryFailed) && delivery.DoneAt.Before(cutoff) {
			delete(d.deliveries, id)
			removed++
		}
	}
	return removed
}

// Wait blocks until every dispatched delivery finished or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
