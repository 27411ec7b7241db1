// Package stream provides fan-out distribution of gateway tick streams.
package stream

import (
	"context"
	"sync"
	"time"

	"multibroker/internal/broker"
	"multibroker/internal/models"
	"multibroker/internal/symbols"
)

// HubConfig holds configuration for the tick hub.
type HubConfig struct {
	// BufferSize is the size of the internal tick channel buffer.
	BufferSize int
	// SubscriberBufferSize is the size of each subscriber's channel buffer.
	SubscriberBufferSize int
}

// DefaultHubConfig returns the default hub configuration.
func DefaultHubConfig() HubConfig {
	return HubConfig{
		BufferSize:           1000,
		SubscriberBufferSize: 100,
	}
}

// Hub fans one gateway tick stream out to multiple channel subscribers.
// Sends to subscribers are non-blocking: a slow consumer drops ticks
// instead of stalling the others.
type Hub struct {
	config  HubConfig
	gateway *broker.Gateway

	mu          sync.RWMutex
	subscribers map[string][]*Subscriber
	started     bool
	done        chan struct{}

	tickChan chan models.Tick

	metricsMu      sync.RWMutex
	ticksReceived  uint64
	ticksBroadcast uint64
	ticksDropped   uint64
}

// Subscriber is one channel subscriber with its drop bookkeeping.
type Subscriber struct {
	ID           string
	Channel      chan models.Tick
	DroppedCount int
	CreatedAt    time.Time
}

// NewHub creates a hub over a gateway with default configuration.
func NewHub(gateway *broker.Gateway) *Hub {
	return NewHubWithConfig(gateway, DefaultHubConfig())
}

// NewHubWithConfig creates a hub with custom configuration. The gateway may
// be nil for hubs fed purely through Publish.
func NewHubWithConfig(gateway *broker.Gateway, config HubConfig) *Hub {
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultHubConfig().BufferSize
	}
	if config.SubscriberBufferSize <= 0 {
		config.SubscriberBufferSize = DefaultHubConfig().SubscriberBufferSize
	}
	return &Hub{
		config:      config,
		gateway:     gateway,
		subscribers: make(map[string][]*Subscriber),
		tickChan:    make(chan models.Tick, config.BufferSize),
		done:        make(chan struct{}),
	}
}

// Start connects the gateway stream and begins distribution. Idempotent;
// a second Start on a running hub is a no-op.
func (h *Hub) Start(ctx context.Context, opts broker.StreamOptions) error {
	h.mu.Lock()
	if h.started {
		h.mu.Unlock()
		return nil
	}
	h.started = true
	h.done = make(chan struct{})
	h.mu.Unlock()

	go h.broadcastLoop(ctx)

	if h.gateway != nil {
		handlers := broker.StreamHandlers{
			OnTick: h.Publish,
		}
		if err := h.gateway.ConnectWebsocket(ctx, handlers, opts); err != nil {
			h.mu.Lock()
			h.started = false
			close(h.done)
			h.mu.Unlock()
			return err
		}
	}
	return nil
}

func (h *Hub) broadcastLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case tick := <-h.tickChan:
			h.metricsMu.Lock()
			h.ticksReceived++
			h.metricsMu.Unlock()
			h.broadcast(tick)
		}
	}
}

// Stop disconnects the stream and closes all subscriber channels.
func (h *Hub) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.started {
		return
	}
	close(h.done)
	h.started = false

	for symbol, subs := range h.subscribers {
		for _, sub := range subs {
			close(sub.Channel)
		}
		delete(h.subscribers, symbol)
	}

	if h.gateway != nil {
		h.gateway.DisconnectWebsocket()
	}
}

// Subscribe adds a subscriber for a symbol and returns its tick channel.
func (h *Hub) Subscribe(symbol string) <-chan models.Tick {
	return h.SubscribeWithID(symbol, "")
}

// SubscribeWithID adds a subscriber with an explicit id for a symbol.
// Symbols are stored in canonical form so the lookup matches whatever
// decoration ticks arrive with.
func (h *Hub) SubscribeWithID(symbol, id string) <-chan models.Tick {
	symbol = symbols.Normalize(symbol)
	ch := make(chan models.Tick, h.config.SubscriberBufferSize)
	sub := &Subscriber{
		ID:        id,
		Channel:   ch,
		CreatedAt: time.Now(),
	}

	h.mu.Lock()
	h.subscribers[symbol] = append(h.subscribers[symbol], sub)
	h.mu.Unlock()

	if h.gateway != nil {
		h.gateway.Subscribe([]string{symbol})
	}
	return ch
}

// SubscribeMultiple subscribes to several symbols at once.
func (h *Hub) SubscribeMultiple(symbols []string) map[string]<-chan models.Tick {
	result := make(map[string]<-chan models.Tick, len(symbols))
	for _, symbol := range symbols {
		result[symbol] = h.Subscribe(symbol)
	}
	return result
}

// Unsubscribe removes one subscriber channel for a symbol. The last
// subscriber leaving also unsubscribes the symbol on the gateway.
func (h *Hub) Unsubscribe(symbol string, ch <-chan models.Tick) {
	symbol = symbols.Normalize(symbol)

	h.mu.Lock()
	defer h.mu.Unlock()

	subs := h.subscribers[symbol]
	for i, sub := range subs {
		if sub.Channel == ch {
			close(sub.Channel)
			h.subscribers[symbol] = append(subs[:i], subs[i+1:]...)
			break
		}
	}

	if len(h.subscribers[symbol]) == 0 {
		delete(h.subscribers, symbol)
		if h.gateway != nil {
			h.gateway.Unsubscribe([]string{symbol})
		}
	}
}

// Publish feeds a tick into the hub. Non-blocking: when the internal
// buffer is full the tick is dropped and counted.
func (h *Hub) Publish(tick models.Tick) {
	select {
	case h.tickChan <- tick:
	default:
		h.metricsMu.Lock()
		h.ticksDropped++
		h.metricsMu.Unlock()
	}
}

// broadcast delivers one tick to its subscribers. The read lock is held
// across the sends (they are non-blocking) so Stop and Unsubscribe cannot
// close a channel mid-send.
func (h *Hub) broadcast(tick models.Tick) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subscribers[symbols.Normalize(tick.Symbol)] {
		select {
		case sub.Channel <- tick:
			h.metricsMu.Lock()
			h.ticksBroadcast++
			h.metricsMu.Unlock()
		default:
			sub.DroppedCount++
			h.metricsMu.Lock()
			h.ticksDropped++
			h.metricsMu.Unlock()
		}
	}
}

// SubscriberCount returns the number of subscribers for a symbol.
func (h *Hub) SubscriberCount(symbol string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[symbols.Normalize(symbol)])
}

// SubscribedSymbols returns all symbols with active subscribers.
func (h *Hub) SubscribedSymbols() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.subscribers))
	for symbol := range h.subscribers {
		out = append(out, symbol)
	}
	return out
}

// IsStarted reports whether the hub is running.
func (h *Hub) IsStarted() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.started
}

// Metrics returns a snapshot of hub counters.
func (h *Hub) Metrics() HubMetrics {
	h.metricsMu.RLock()
	defer h.metricsMu.RUnlock()
	return HubMetrics{
		TicksReceived:  h.ticksReceived,
		TicksBroadcast: h.ticksBroadcast,
		TicksDropped:   h.ticksDropped,
	}
}

// HubMetrics contains hub throughput counters.
type HubMetrics struct {
	TicksReceived  uint64
	TicksBroadcast uint64
	TicksDropped   uint64
}
