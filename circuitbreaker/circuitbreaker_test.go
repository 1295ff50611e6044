package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errUpstream = errors.New("upstream failed")

func failing(context.Context) error { return errUpstream }
func succeeding(context.Context) error { return nil }

func TestCircuitBreaker_OpensAfterMaxFailures(t *testing.T) {
	cb := NewCircuitBreaker("stripe", 2, time.Minute)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := cb.Execute(ctx, failing); !errors.Is(err, errUpstream) {
			t.Fatalf("Expected upstream error, got %v", err)
		}
	}

	if cb.GetState() != StateOpen {
		t.Fatalf("Expected open state, got %s", cb.GetState())
	}

	called := false
	err := cb.Execute(ctx, func(context.Context) error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Expected ErrCircuitOpen, got %v", err)
	}
	if called {
		t.Error("Expected fn not to be called while open")
	}
}

func TestCircuitBreaker_HalfOpenRecovers(t *testing.T) {
	cb := NewCircuitBreaker("braintree", 1, time.Second)
	now := time.Now()
	cb.now = func() time.Time { return now }
	ctx := context.Background()

	_ = cb.Execute(ctx, failing)
	if cb.GetState() != StateOpen {
		t.Fatalf("Expected open state, got %s", cb.GetState())
	}

	now = now.Add(2 * time.Second)
	if err := cb.Execute(ctx, succeeding); err != nil {
		t.Fatalf("Expected trial call to succeed, got %v", err)
	}
	if cb.GetState() != StateClosed {
		t.Errorf("Expected closed state after trial success, got %s", cb.GetState())
	}
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker("braintree", 3, time.Second)
	now := time.Now()
	cb.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = cb.Execute(ctx, failing)
	}
	now = now.Add(2 * time.Second)

	_ = cb.Execute(ctx, failing)
	if cb.GetState() != StateOpen {
		t.Errorf("Expected open state after failed trial, got %s", cb.GetState())
	}
}

func TestCircuitBreaker_CanceledContext(t *testing.T) {
	cb := NewCircuitBreaker("stripe", 1, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := cb.Execute(ctx, succeeding); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if cb.GetState() != StateClosed {
		t.Errorf("Expected canceled calls not to trip the breaker, got %s", cb.GetState())
	}
}

func canceled(context.Context) error { return context.Canceled }

func TestCircuitBreaker_CanceledTrialKeepsHalfOpen(t *testing.T) {
	cb := NewCircuitBreaker("braintree", 1, time.Second)
	now := time.Now()
	cb.now = func() time.Time { return now }
	ctx := context.Background()

	_ = cb.Execute(ctx, failing)
	now = now.Add(2 * time.Second)

	if err := cb.Execute(ctx, canceled); !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
	if cb.GetState() != StateHalfOpen {
		t.Fatalf("Expected half_open state after canceled trial, got %s", cb.GetState())
	}

	if err := cb.Execute(ctx, succeeding); err != nil {
		t.Fatalf("Expected a new trial to be allowed, got %v", err)
	}
	if cb.GetState() != StateClosed {
		t.Errorf("Expected closed state after trial success, got %s", cb.GetState())
	}
}

func TestCircuitBreaker_CanceledCallKeepsFailureCount(t *testing.T) {
	cb := NewCircuitBreaker("stripe", 2, time.Minute)
	ctx := context.Background()

	_ = cb.Execute(ctx, failing)
	_ = cb.Execute(ctx, canceled)
	_ = cb.Execute(ctx, failing)

	if cb.GetState() != StateOpen {
		t.Errorf("Expected canceled call not to reset failures, got %s", cb.GetState())
	}
}
