package realtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"kiosk-fleet/internal/cache"
	"kiosk-fleet/internal/metrics"
)

// Op is the kind of row change an event reports.
type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Tables that publish change events.
const (
	TableProfiles      = "profiles"
	TableTransactions  = "transactions"
	TableDevices       = "devices"
	TableTickets       = "tickets"
	TableReplies       = "ticket_replies"
	TableNotifications = "notifications"
	TableReleases      = "ota_releases"
	TableCommands      = "commands"
)

const (
	sequenceKey    = "kiosk:realtime:seq"
	defaultChannel = "kiosk:realtime:events"
	subscriberBuf  = 64
)

// Event describes one committed change. Seq increases monotonically across the deployment.
type Event struct {
	Seq     int64     `json:"seq"`
	Table   string    `json:"table"`
	Op      Op        `json:"op"`
	ID      string    `json:"id"`
	OwnerID string    `json:"owner_id,omitempty"`
	At      time.Time `json:"at"`
}

// Filter scopes a subscription. Empty Tables matches every table. A non-empty OwnerID
// matches events owned by that profile plus ownerless events (devices, broadcasts).
type Filter struct {
	Tables  []string
	OwnerID string
}

// Match reports whether e passes the filter.
func (f Filter) Match(e Event) bool {
	if len(f.Tables) > 0 {
		found := false
		for _, t := range f.Tables {
			if t == e.Table {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.OwnerID == "" {
		return true
	}
	return e.OwnerID == "" || e.OwnerID == f.OwnerID
}

// Subscription receives matching events until closed.
type Subscription struct {
	id     int
	filter Filter
	ch     chan Event
	lag    chan struct{}
	hub    *Hub
	once   sync.Once
}

// C returns the event channel. It is closed when the subscription or hub closes.
func (s *Subscription) C() <-chan Event {
	return s.ch
}

// Lagged fires after an event was dropped because the buffer was full. The consumer
// must treat its view as incomplete and resynchronise; the signal is cleared by receiving it.
func (s *Subscription) Lagged() <-chan struct{} {
	return s.lag
}

// Close detaches the subscription from the hub.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.remove(s.id)
	})
}

// Hub assigns sequence numbers to change events and fans them out to subscribers.
// With Redis configured, sequence numbers come from INCR and fan-out crosses instances via Pub/Sub.
type Hub struct {
	redis   *cache.Redis
	channel string
	logger  *slog.Logger
	metrics *metrics.Metrics

	seq atomic.Int64
	// relaying is set while Run is consuming the Pub/Sub channel.
	relaying atomic.Bool

	mu     sync.RWMutex
	subs   map[int]*Subscription
	nextID int
}

// NewHub constructs a hub. redis may be nil for a single-instance deployment.
func NewHub(redis *cache.Redis, logger *slog.Logger, metricsRegistry *metrics.Metrics) *Hub {
	return &Hub{
		redis:   redis,
		channel: defaultChannel,
		logger:  logger.With("component", "realtime"),
		metrics: metricsRegistry,
		subs:    make(map[int]*Subscription),
	}
}

// Current returns the latest sequence number assigned by this process.
func (h *Hub) Current() int64 {
	return h.seq.Load()
}

// Publish records a change and delivers it to subscribers.
func (h *Hub) Publish(ctx context.Context, table string, op Op, id, ownerID string) Event {
	evt := Event{
		Seq:     h.nextSeq(ctx),
		Table:   table,
		Op:      op,
		ID:      id,
		OwnerID: ownerID,
		At:      time.Now().UTC(),
	}
	if h.metrics != nil {
		h.metrics.RealtimeEvents.WithLabelValues(table).Inc()
	}

	if h.redis != nil {
		relayed := h.relaying.Load()
		err := h.redis.PublishJSON(ctx, h.channel, evt)
		if err == nil && relayed {
			return evt
		}
		if err != nil {
			h.logger.Warn("redis publish failed, delivering locally", "error", err, "table", table)
		}
	}
	// Without a running relay local subscribers are fed directly. A relay that starts
	// concurrently may deliver the same event again; consumers key by sequence.
	h.dispatch(evt)
	return evt
}

func (h *Hub) nextSeq(ctx context.Context) int64 {
	if h.redis != nil {
		n, err := h.redis.Incr(ctx, sequenceKey)
		if err == nil {
			h.observe(n)
			return n
		}
		h.logger.Warn("redis sequence failed, using local counter", "error", err)
	}
	return h.seq.Add(1)
}

// observe advances the local counter so Current never lags behind a sequence seen on the bus.
func (h *Hub) observe(n int64) {
	for {
		cur := h.seq.Load()
		if n <= cur || h.seq.CompareAndSwap(cur, n) {
			return
		}
	}
}

// Run relays events from Redis Pub/Sub to local subscribers until ctx is cancelled.
// Without Redis it blocks until ctx is done.
func (h *Hub) Run(ctx context.Context) error {
	if h.redis == nil {
		<-ctx.Done()
		h.closeAll()
		return nil
	}
	sub, err := h.redis.Subscribe(ctx, h.channel)
	if err != nil {
		return fmt.Errorf("realtime subscribe: %w", err)
	}
	defer sub.Close()
	defer h.closeAll()
	h.relaying.Store(true)
	defer h.relaying.Store(false)

	h.logger.Info("realtime relay started", "channel", h.channel)
	messages := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			var evt Event
			if err := cache.DecodeJSON([]byte(msg.Payload), &evt); err != nil {
				h.logger.Warn("dropping malformed realtime event", "error", err)
				continue
			}
			h.observe(evt.Seq)
			h.dispatch(evt)
		}
	}
}

// Subscribe registers a scoped subscription.
func (h *Hub) Subscribe(filter Filter) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	sub := &Subscription{
		id:     h.nextID,
		filter: filter,
		ch:     make(chan Event, subscriberBuf),
		lag:    make(chan struct{}, 1),
		hub:    h,
	}
	h.subs[sub.id] = sub
	return sub
}

func (h *Hub) remove(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if sub, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(sub.ch)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, sub := range h.subs {
		delete(h.subs, id)
		close(sub.ch)
	}
}

func (h *Hub) dispatch(evt Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.subs {
		if !sub.filter.Match(evt) {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			select {
			case sub.lag <- struct{}{}:
				h.logger.Warn("subscriber lagging, dropping events", "subscription", sub.id, "table", evt.Table, "seq", evt.Seq)
				if h.metrics != nil {
					h.metrics.Errors.WithLabelValues("realtime").Inc()
				}
			default:
			}
		}
	}
}
