package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func testConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 3,
		SuccessThreshold: 2,
		Timeout:          50 * time.Millisecond,
	}
}

var errBroker = errors.New("broker down")

func failN(t *testing.T, cb *CircuitBreaker, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if err := cb.Execute(context.Background(), func() error { return errBroker }); !errors.Is(err, errBroker) {
			t.Fatalf("expected broker error, got %v", err)
		}
	}
}

func TestCircuitBreakerStartsClosed(t *testing.T) {
	cb := NewCircuitBreaker("test", testConfig())

	if got := cb.State(); got != CircuitClosed {
		t.Fatalf("State() = %v, want %v", got, CircuitClosed)
	}

	err := cb.Execute(context.Background(), func() error { return nil })
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
}

func TestCircuitBreakerOpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker("test", testConfig())

	failN(t, cb, 2)
	if got := cb.State(); got != CircuitClosed {
		t.Fatalf("State() after 2 failures = %v, want %v", got, CircuitClosed)
	}

	failN(t, cb, 1)
	if got := cb.State(); got != CircuitOpen {
		t.Fatalf("State() after 3 failures = %v, want %v", got, CircuitOpen)
	}

	err := cb.Execute(context.Background(), func() error { return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("Execute() while open = %v, want ErrCircuitOpen", err)
	}
}

func TestCircuitBreakerSuccessResetsFailureCount(t *testing.T) {
	cb := NewCircuitBreaker("test", testConfig())

	failN(t, cb, 2)
	if err := cb.Execute(context.Background(), func() error { return nil }); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	failN(t, cb, 2)

	if got := cb.State(); got != CircuitClosed {
		t.Fatalf("State() = %v, want %v", got, CircuitClosed)
	}
}

func TestCircuitBreakerHalfOpenAfterTimeout(t *testing.T) {
	cb := NewCircuitBreaker("test", testConfig())

	failN(t, cb, 3)
	time.Sleep(60 * time.Millisecond)

	// First call after the timeout is allowed through.
	if err := cb.Execute(context.Background(), func() error { return nil }); err != nil {
		t.Fatalf("Execute() trial call error = %v", err)
	}
	if got := cb.State(); got != CircuitHalfOpen {
		t.Fatalf("State() = %v, want %v", got, CircuitHalfOpen)
	}

	// Second success closes the circuit.
	if err := cb.Execute(context.Background(), func() error { return nil }); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if got := cb.State(); got != CircuitClosed {
		t.Fatalf("State() = %v, want %v", got, CircuitClosed)
	}
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker("test", testConfig())

	failN(t, cb, 3)
	time.Sleep(60 * time.Millisecond)

	failN(t, cb, 1)
	if got := cb.State(); got != CircuitOpen {
		t.Fatalf("State() = %v, want %v", got, CircuitOpen)
	}
}

func TestCircuitBreakerCancelledContext(t *testing.T) {
	cb := NewCircuitBreaker("test", testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := cb.Execute(ctx, func() error { return errBroker })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Execute() = %v, want context.Canceled", err)
	}

	// Cancellation must not count against the failure threshold.
	stats := cb.Stats()
	if stats.TotalFailures != 0 {
		t.Fatalf("TotalFailures = %d, want 0", stats.TotalFailures)
	}
}

func TestExecuteWithResult(t *testing.T) {
	cb := NewCircuitBreaker("test", testConfig())

	got, err := ExecuteWithResult(cb, context.Background(), func() (int, error) {
		return 42, nil
	})
	if err != nil {
		t.Fatalf("ExecuteWithResult() error = %v", err)
	}
	if got != 42 {
		t.Fatalf("ExecuteWithResult() = %d, want 42", got)
	}

	_, err = ExecuteWithResult(cb, context.Background(), func() (int, error) {
		return 0, errBroker
	})
	if !errors.Is(err, errBroker) {
		t.Fatalf("ExecuteWithResult() = %v, want broker error", err)
	}
}

func TestCircuitBreakerReset(t *testing.T) {
	cb := NewCircuitBreaker("test", testConfig())

	failN(t, cb, 3)
	if got := cb.State(); got != CircuitOpen {
		t.Fatalf("State() = %v, want %v", got, CircuitOpen)
	}

	cb.Reset()
	if got := cb.State(); got != CircuitClosed {
		t.Fatalf("State() after Reset = %v, want %v", got, CircuitClosed)
	}
	if err := cb.Execute(context.Background(), func() error { return nil }); err != nil {
		t.Fatalf("Execute() after Reset error = %v", err)
	}
}

func TestCircuitBreakerStats(t *testing.T) {
	cb := NewCircuitBreaker("zerodha", testConfig())

	_ = cb.Execute(context.Background(), func() error { return nil })
	failN(t, cb, 3)
	// Rejected while open.
	_ = cb.Execute(context.Background(), func() error { return nil })

	stats := cb.Stats()
	if stats.Name != "zerodha" {
		t.Errorf("Name = %q, want %q", stats.Name, "zerodha")
	}
	if stats.TotalRequests != 4 {
		t.Errorf("TotalRequests = %d, want 4", stats.TotalRequests)
	}
	if stats.TotalSuccesses != 1 {
		t.Errorf("TotalSuccesses = %d, want 1", stats.TotalSuccesses)
	}
	if stats.TotalFailures != 3 {
		t.Errorf("TotalFailures = %d, want 3", stats.TotalFailures)
	}
	if stats.TotalRejected != 1 {
		t.Errorf("TotalRejected = %d, want 1", stats.TotalRejected)
	}
	if rate := stats.FailureRate(); rate != 75 {
		t.Errorf("FailureRate() = %v, want 75", rate)
	}
}
