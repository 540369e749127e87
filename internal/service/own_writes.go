package service

import (
	"context"
	"sync"
	"time"

	"github.com/spec-kit/support-dispatch/internal/clock"
	"github.com/spec-kit/support-dispatch/internal/domain"
	"github.com/spec-kit/support-dispatch/internal/repository"
)

// ownWrites remembers which tickets the router itself updated recently, so
// the change notifications those updates produce can be told apart from
// edits made elsewhere.
type ownWrites struct {
	repository.TicketRepository

	clock  clock.Clock
	window time.Duration

	mu      sync.Mutex
	written map[string]time.Time
}

func trackOwnWrites(repo repository.TicketRepository, clk clock.Clock, window time.Duration) *ownWrites {
	return &ownWrites{
		TicketRepository: repo,
		clock:            clk,
		window:           window,
		written:          make(map[string]time.Time),
	}
}

func (w *ownWrites) Update(ctx context.Context, id string, update domain.TicketUpdate) (*domain.Ticket, error) {
	ticket, err := w.TicketRepository.Update(ctx, id, update)
	if err != nil {
		return ticket, err
	}
	now := w.clock.Now()
	w.mu.Lock()
	defer w.mu.Unlock()
	for other, at := range w.written {
		if now.Sub(at) >= w.window {
			delete(w.written, other)
		}
	}
	w.written[id] = now
	return ticket, nil
}

// recent reports whether the router wrote the ticket within the window.
func (w *ownWrites) recent(id string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	at, ok := w.written[id]
	return ok && w.clock.Now().Sub(at) < w.window
}
