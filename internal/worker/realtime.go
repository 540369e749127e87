package worker

import (
	"context"
	"runtime/debug"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/spec-kit/support-dispatch/internal/events"
)

// ChangeSource delivers change notifications until ctx is done.
type ChangeSource interface {
	Run(ctx context.Context, handle events.ChangeHandler) error
}

// RealtimeConsumer funnels change notifications from the pub/sub source
// and the webhook into one queue handled by a single goroutine.
type RealtimeConsumer struct {
	handle events.ChangeHandler
	queue  chan events.ChangeEvent
	logger *zap.Logger
}

// NewRealtimeConsumer creates a consumer with the given queue size.
func NewRealtimeConsumer(handle events.ChangeHandler, buffer int, logger *zap.Logger) *RealtimeConsumer {
	if buffer <= 0 {
		buffer = 64
	}
	return &RealtimeConsumer{
		handle: handle,
		queue:  make(chan events.ChangeEvent, buffer),
		logger: logger.Named("realtime"),
	}
}

// Submit enqueues an event without blocking. It reports false when the
// queue is full; the poller picks the ticket up later in that case.
func (c *RealtimeConsumer) Submit(ev events.ChangeEvent) bool {
	select {
	case c.queue <- ev:
		return true
	default:
		c.logger.Warn("change queue full, event dropped",
			zap.String("table", ev.Table), zap.String("row_id", ev.RowID))
		return false
	}
}

// Run consumes source (which may be nil) and handles queued events until
// ctx is done.
func (c *RealtimeConsumer) Run(ctx context.Context, source ChangeSource) error {
	g, ctx := errgroup.WithContext(ctx)
	if source != nil {
		g.Go(func() error {
			return source.Run(ctx, func(ctx context.Context, ev events.ChangeEvent) {
				select {
				case c.queue <- ev:
				case <-ctx.Done():
				}
			})
		})
	}
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case ev := <-c.queue:
				c.dispatch(ctx, ev)
			}
		}
	})
	return g.Wait()
}

func (c *RealtimeConsumer) dispatch(ctx context.Context, ev events.ChangeEvent) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("change handler panicked", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
		}
	}()
	c.handle(ctx, ev)
}
