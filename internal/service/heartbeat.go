package service

import (
	"sync"
	"time"
)

// ChannelStatus reports the state of the change notification subscription.
type ChannelStatus interface {
	Status() string
	Reconnects() int64
}

// HeartbeatMeta is consumed by the health reporting endpoint.
type HeartbeatMeta struct {
	ProcessedTickets    int64      `json:"processedTickets"`
	LastDispatchAt      *time.Time `json:"lastDispatchAt,omitempty"`
	LastPollAt          *time.Time `json:"lastPollAt,omitempty"`
	LastTier2RunAt      *time.Time `json:"lastTier2RunAt,omitempty"`
	LastCustomerReplyAt *time.Time `json:"lastCustomerReplyAt,omitempty"`
	RealtimeStatus      string     `json:"realtimeStatus"`
	RealtimeReconnects  int64      `json:"realtimeReconnects"`
	CachedDetections    int        `json:"cachedDetections"`
}

type heartbeat struct {
	mu           sync.Mutex
	processed    int64
	lastDispatch time.Time
	lastPoll     time.Time
	lastTier2    time.Time
	lastReply    time.Time
	realtime     ChannelStatus
}

func newHeartbeat() *heartbeat {
	return &heartbeat{}
}

func (h *heartbeat) dispatched(at time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.processed++
	h.lastDispatch = at
}

func (h *heartbeat) polled(at time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastPoll = at
}

func (h *heartbeat) tier2Ran(at time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastTier2 = at
}

func (h *heartbeat) customerReplied(at time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastReply = at
}

func (h *heartbeat) snapshot() HeartbeatMeta {
	h.mu.Lock()
	defer h.mu.Unlock()
	meta := HeartbeatMeta{
		ProcessedTickets:    h.processed,
		LastDispatchAt:      timePtr(h.lastDispatch),
		LastPollAt:          timePtr(h.lastPoll),
		LastTier2RunAt:      timePtr(h.lastTier2),
		LastCustomerReplyAt: timePtr(h.lastReply),
		RealtimeStatus:      "disabled",
	}
	if h.realtime != nil {
		meta.RealtimeStatus = h.realtime.Status()
		meta.RealtimeReconnects = h.realtime.Reconnects()
	}
	return meta
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// AttachRealtime lets the heartbeat report the change channel state.
func (r *Router) AttachRealtime(ch ChannelStatus) {
	r.beat.mu.Lock()
	defer r.beat.mu.Unlock()
	r.beat.realtime = ch
}

// HeartbeatMeta returns counters and timestamps for health reporting.
func (r *Router) HeartbeatMeta() HeartbeatMeta {
	meta := r.beat.snapshot()
	meta.CachedDetections = r.cache.Len()
	return meta
}
