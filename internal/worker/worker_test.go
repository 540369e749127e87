package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/spec-kit/support-dispatch/internal/clock"
	"github.com/spec-kit/support-dispatch/internal/events"
	"github.com/spec-kit/support-dispatch/internal/service"
)

type countingBatcher struct {
	calls chan struct{}
}

func (b *countingBatcher) BootstrapOpenTickets(context.Context) (service.BatchResult, error) {
	b.calls <- struct{}{}
	return service.BatchResult{}, nil
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func receive(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("expected a poll")
	}
}

func TestPollerPollsOnStartAndEveryInterval(t *testing.T) {
	clk := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	batcher := &countingBatcher{calls: make(chan struct{}, 4)}
	p := NewPoller(batcher, clk, 30*time.Second, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	receive(t, batcher.calls)
	waitFor(t, "ticker", func() bool { return clk.Tickers() == 1 })

	clk.Advance(30 * time.Second)
	receive(t, batcher.calls)

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run returned %v", err)
	}
	if n := clk.Tickers(); n != 0 {
		t.Errorf("%d tickers left running after stop", n)
	}
}

func TestSchedulePollingNeverDoubleSchedules(t *testing.T) {
	clk := clock.Fake(time.Now())
	p := NewPoller(&countingBatcher{calls: make(chan struct{}, 1)}, clk, time.Minute, zaptest.NewLogger(t))
	p.SchedulePolling()
	p.SchedulePolling()
	p.SchedulePolling()
	if n := clk.Tickers(); n != 1 {
		t.Fatalf("live tickers = %d, want 1", n)
	}
}

type sliceSource struct {
	events []events.ChangeEvent
}

func (s sliceSource) Run(ctx context.Context, handle events.ChangeHandler) error {
	for _, ev := range s.events {
		handle(ctx, ev)
	}
	<-ctx.Done()
	return nil
}

func TestRealtimeConsumerHandlesSourceAndSubmitted(t *testing.T) {
	var (
		mu   sync.Mutex
		seen []string
	)
	handle := func(_ context.Context, ev events.ChangeEvent) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, ev.RowID)
		if ev.RowID == "boom" {
			panic("handler bug")
		}
	}
	c := NewRealtimeConsumer(handle, 8, zaptest.NewLogger(t))
	if !c.Submit(events.ChangeEvent{Table: events.TableTickets, Type: events.ChangeUpdate, RowID: "boom"}) {
		t.Fatal("Submit rejected with free capacity")
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	source := sliceSource{events: []events.ChangeEvent{{Table: events.TableTickets, Type: events.ChangeInsert, RowID: "t-1"}}}
	go func() { done <- c.Run(ctx, source) }()

	waitFor(t, "both events", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 2
	})
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run returned %v", err)
	}
}

func TestRealtimeConsumerSubmitWhenFull(t *testing.T) {
	c := NewRealtimeConsumer(func(context.Context, events.ChangeEvent) {}, 1, zaptest.NewLogger(t))
	ev := events.ChangeEvent{Table: events.TableTickets, Type: events.ChangeUpdate, RowID: "t-1"}
	if !c.Submit(ev) {
		t.Fatal("first Submit should succeed")
	}
	if c.Submit(ev) {
		t.Fatal("Submit on a full queue should report false")
	}
}
