package stream

import (
	"context"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"multibroker/internal/broker"
	"multibroker/internal/models"
)

func tick(symbol string, price float64) models.Tick {
	return models.Tick{Symbol: symbol, LTP: price, Timestamp: time.Now()}
}

func startedHub(t *testing.T) *Hub {
	t.Helper()
	h := NewHub(nil)
	if err := h.Start(context.Background(), broker.StreamOptions{}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(h.Stop)
	return h
}

func recvTick(t *testing.T, ch <-chan models.Tick) models.Tick {
	t.Helper()
	select {
	case tk := <-ch:
		return tk
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for tick")
		return models.Tick{}
	}
}

func TestHubFanOut(t *testing.T) {
	h := startedHub(t)

	a := h.Subscribe("RELIANCE")
	b := h.Subscribe("RELIANCE")
	other := h.Subscribe("INFY")

	h.Publish(tick("RELIANCE", 2500))

	if got := recvTick(t, a).LTP; got != 2500 {
		t.Errorf("subscriber a got %v, want 2500", got)
	}
	if got := recvTick(t, b).LTP; got != 2500 {
		t.Errorf("subscriber b got %v, want 2500", got)
	}

	select {
	case tk := <-other:
		t.Errorf("INFY subscriber received %v ticks for RELIANCE", tk)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubUnsubscribeStopsDelivery(t *testing.T) {
	h := startedHub(t)

	ch := h.Subscribe("SBIN")
	h.Publish(tick("SBIN", 600))
	recvTick(t, ch)

	h.Unsubscribe("SBIN", ch)
	if n := h.SubscriberCount("SBIN"); n != 0 {
		t.Errorf("SubscriberCount = %d after unsubscribe, want 0", n)
	}
	// Channel is closed after unsubscribe.
	if _, open := <-ch; open {
		t.Error("channel still open after unsubscribe")
	}
}

func TestHubSlowConsumerDoesNotBlock(t *testing.T) {
	h := NewHubWithConfig(nil, HubConfig{BufferSize: 10, SubscriberBufferSize: 1})
	if err := h.Start(context.Background(), broker.StreamOptions{}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer h.Stop()

	slow := h.Subscribe("TCS")
	fast := h.Subscribe("TCS")

	// First tick fills the slow subscriber's buffer.
	h.Publish(tick("TCS", 4000))
	recvTick(t, fast)

	// Both have buffer room again only for fast; the slow one never reads.
	for i := 0; i < 5; i++ {
		h.Publish(tick("TCS", 4000+float64(i)))
		recvTick(t, fast)
	}

	// The slow subscriber holds exactly its buffered tick and dropped the rest.
	if got := recvTick(t, slow).LTP; got != 4000 {
		t.Errorf("slow subscriber first tick = %v, want 4000", got)
	}
	deadline := time.Now().Add(time.Second)
	for h.Metrics().TicksDropped == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if h.Metrics().TicksDropped == 0 {
		t.Error("expected dropped ticks for the slow consumer")
	}
}

func TestHubStartIsIdempotent(t *testing.T) {
	h := startedHub(t)
	if err := h.Start(context.Background(), broker.StreamOptions{}); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if !h.IsStarted() {
		t.Error("hub not running after double Start")
	}
}

func TestHubStopClosesAllChannels(t *testing.T) {
	h := NewHub(nil)
	if err := h.Start(context.Background(), broker.StreamOptions{}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	channels := h.SubscribeMultiple([]string{"A", "B", "C"})
	h.Stop()

	for symbol, ch := range channels {
		if _, open := <-ch; open {
			t.Errorf("channel for %s still open after Stop", symbol)
		}
	}
	if h.IsStarted() {
		t.Error("hub still started after Stop")
	}
}

func TestHubOverSimGateway(t *testing.T) {
	driver := broker.NewSimDriver(broker.SimConfig{Speed: 500})
	gw := broker.New(driver, "sim")
	h := NewHub(gw)

	if err := h.Start(context.Background(), broker.StreamOptions{Interval: "1m", Speed: 500}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer h.Stop()

	ch := h.Subscribe("RELIANCE")
	tk := recvTick(t, ch)
	if tk.Symbol != "NSE:RELIANCE" {
		t.Errorf("tick symbol = %q, want NSE:RELIANCE", tk.Symbol)
	}
	if tk.LTP <= 0 {
		t.Errorf("tick LTP = %v, want positive", tk.LTP)
	}
}

func TestHubMatchesCanonicalTickToRawSubscription(t *testing.T) {
	h := startedHub(t)

	// Subscribing with the bare symbol must still receive ticks that
	// arrive decorated with the exchange prefix.
	ch := h.Subscribe("RELIANCE")
	h.Publish(tick("NSE:RELIANCE", 2510))

	if got := recvTick(t, ch).LTP; got != 2510 {
		t.Errorf("tick LTP = %v, want 2510", got)
	}

	if n := h.SubscriberCount("NSE:RELIANCE"); n != 1 {
		t.Errorf("SubscriberCount(NSE:RELIANCE) = %d, want 1", n)
	}
	h.Unsubscribe("NSE:RELIANCE", ch)
	if n := h.SubscriberCount("RELIANCE"); n != 0 {
		t.Errorf("SubscriberCount = %d after unsubscribe, want 0", n)
	}
}

func TestProperty_HubDeliversToEveryFastSubscriber(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	parameters.Rng.Seed(time.Now().UnixNano())
	properties := gopter.NewProperties(parameters)

	properties.Property("every published tick reaches every subscriber", prop.ForAll(
		func(nSubs int, nTicks int) bool {
			h := NewHub(nil)
			if err := h.Start(context.Background(), broker.StreamOptions{}); err != nil {
				return false
			}
			defer h.Stop()

			channels := make([]<-chan models.Tick, nSubs)
			for i := range channels {
				channels[i] = h.Subscribe("X")
			}

			for i := 0; i < nTicks; i++ {
				h.Publish(tick("X", float64(i+1)))
			}

			for _, ch := range channels {
				for i := 0; i < nTicks; i++ {
					select {
					case tk := <-ch:
						if tk.LTP != float64(i+1) {
							return false
						}
					case <-time.After(2 * time.Second):
						return false
					}
				}
			}
			return true
		},
		gen.IntRange(1, 8),
		gen.IntRange(1, 50),
	))

	properties.TestingRun(t)
}
