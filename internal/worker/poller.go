package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/support-dispatch/internal/clock"
	"github.com/spec-kit/support-dispatch/internal/service"
)

// Batcher runs one pass over the open tickets.
type Batcher interface {
	BootstrapOpenTickets(ctx context.Context) (service.BatchResult, error)
}

// Poller re-dispatches open tickets on a fixed interval.
type Poller struct {
	batcher  Batcher
	clock    clock.Clock
	interval time.Duration
	logger   *zap.Logger

	mu     sync.Mutex
	ticker clock.Ticker
	reset  chan struct{}
}

// NewPoller creates a poller.
func NewPoller(batcher Batcher, clk clock.Clock, interval time.Duration, logger *zap.Logger) *Poller {
	if clk == nil {
		clk = clock.Real()
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Poller{
		batcher:  batcher,
		clock:    clk,
		interval: interval,
		logger:   logger.Named("poller"),
		reset:    make(chan struct{}, 1),
	}
}

// SchedulePolling stops the current ticker, if any, and starts a new one.
// There is never more than one live ticker.
func (p *Poller) SchedulePolling() {
	p.mu.Lock()
	if p.ticker != nil {
		p.ticker.Stop()
	}
	p.ticker = p.clock.NewTicker(p.interval)
	p.mu.Unlock()

	select {
	case p.reset <- struct{}{}:
	default:
	}
}

func (p *Poller) current() clock.Ticker {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ticker
}

func (p *Poller) stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ticker != nil {
		p.ticker.Stop()
		p.ticker = nil
	}
}

// Run polls once immediately and then on every tick until ctx is done.
func (p *Poller) Run(ctx context.Context) error {
	p.poll(ctx)
	p.SchedulePolling()
	defer p.stop()

	p.logger.Info("poller started", zap.Duration("interval", p.interval))
	for {
		ticker := p.current()
		select {
		case <-ctx.Done():
			p.logger.Info("poller stopped")
			return nil
		case <-p.reset:
		case <-ticker.C():
			p.poll(ctx)
		}
	}
}

func (p *Poller) poll(ctx context.Context) {
	res, err := p.batcher.BootstrapOpenTickets(ctx)
	if err != nil {
		if ctx.Err() == nil {
			p.logger.Error("poll failed", zap.Error(err))
		}
		return
	}
	p.logger.Debug("poll finished",
		zap.Int("scanned", res.Scanned),
		zap.Int("dispatched", res.Dispatched),
		zap.Int("skipped", res.Skipped))
}
