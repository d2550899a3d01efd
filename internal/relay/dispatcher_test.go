package relay

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"linerelay/internal/domain"
)

type blockingProcessor struct {
	release chan struct{}
	result  Result
	panics  bool
}

func (b *blockingProcessor) Process(context.Context, string, []domain.InboundEvent) Result {
	if b.release != nil {
		<-b.release
	}
	if b.panics {
		panic("processor exploded")
	}
	return b.result
}

func waitFor(t *testing.T, d *Dispatcher) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := d.Wait(ctx); err != nil {
		t.Fatalf("wait: %v", err)
	}
}

func TestDispatcher_TracksDelivery(t *testing.T) {
	proc := &blockingProcessor{release: make(chan struct{}), result: Result{Created: 2}}
	d := NewDispatcher(proc, testLogger())

	d.Dispatch(context.Background(), "d1", make([]domain.InboundEvent, 2))

	got, ok := d.Get("d1")
	if !ok {
		t.Fatal("delivery should be tracked right after dispatch")
	}
	if got.Status != DeliveryPending && got.Status != DeliveryRunning {
		t.Errorf("expected pending or running, got %s", got.Status)
	}
	if got.Events != 2 {
		t.Errorf("expected 2 events, got %d", got.Events)
	}

	close(proc.release)
	waitFor(t, d)

	got, _ = d.Get("d1")
	if got.Status != DeliveryComplete || got.Result.Created != 2 || got.DoneAt.IsZero() {
		t.Errorf("unexpected final state %+v", got)
	}
}

func TestDispatcher_FailedEventsMarkDelivery(t *testing.T) {
	d := NewDispatcher(&blockingProcessor{result: Result{Created: 1, Failed: 1}}, testLogger())
	d.Dispatch(context.Background(), "d1", make([]domain.InboundEvent, 2))
	waitFor(t, d)

	got, _ := d.Get("d1")
	if got.Status != DeliveryFailed {
		t.Errorf("expected failed, got %s", got.Status)
	}
}

func TestDispatcher_RecoversProcessorPanic(t *testing.T) {
	d := NewDispatcher(&blockingProcessor{panics: true}, testLogger())
	d.Dispatch(context.Background(), "d1", make([]domain.InboundEvent, 1))
	waitFor(t, d)

	got, _ := d.Get("d1")
	if got.Status != DeliveryFailed || got.Error == "" {
		t.Errorf("expected failed delivery with error, got %+v", got)
	}
}

func TestDispatcher_UnknownDelivery(t *testing.T) {
	d := NewDispatcher(&blockingProcessor{}, testLogger())
	if _, ok := d.Get("nope"); ok {
		t.Error("unknown delivery should not be found")
	}
}

func TestDispatcher_WaitHonorsContext(t *testing.T) {
	proc := &blockingProcessor{release: make(chan struct{})}
	d := NewDispatcher(proc, testLogger())
	d.Dispatch(context.Background(), "d1", nil)
	defer close(proc.release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := d.Wait(ctx); err == nil {
		t.Error("expected context error while delivery is still running")
	}
}

func TestDispatcher_ListAndClean(t *testing.T) {
	d := NewDispatcher(&blockingProcessor{}, testLogger())
	d.Dispatch(context.Background(), "d1", nil)
	d.Dispatch(context.Background(), "d2", nil)
	waitFor(t, d)

	if n := len(d.List()); n != 2 {
		t.Fatalf("expected 2 deliveries, got %d", n)
	}
	if removed := d.Clean(time.Hour); removed != 0 {
		t.Errorf("fresh deliveries should survive, removed %d", removed)
	}
	if removed := d.Clean(-time.Second); removed != 2 {
		t.Errorf("expected 2 removed, got %d", removed)
	}
	if n := len(d.List()); n != 0 {
		t.Errorf("expected empty list, got %d", n)
	}
}

func TestDispatcher_RunningDeliveryOmitsDoneAt(t *testing.T) {
	proc := &blockingProcessor{release: make(chan struct{})}
	d := NewDispatcher(proc, testLogger())
	d.Dispatch(context.Background(), "d1", nil)

	got, _ := d.Get("d1")
	data, err := json.Marshal(got)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "done_at") {
		t.Errorf("running delivery should not carry done_at: %s", data)
	}

	close(proc.release)
	waitFor(t, d)

	got, _ = d.Get("d1")
	data, _ = json.Marshal(got)
	if !strings.Contains(string(data), `"done_at":"`) {
		t.Errorf("finished delivery should carry done_at: %s", data)
	}
}
