package httpx

import (
	"context"
	"testing"
	"time"
)

func TestBackoffGrowsAndCaps(t *testing.T) {
	b := NewBackoff(100*time.Millisecond, time.Second, 0)

	want := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		time.Second,
		time.Second,
	}
	for attempt, expected := range want {
		if got := b.ForAttempt(attempt); got != expected {
			t.Fatalf("attempt %d: got %v, want %v", attempt, got, expected)
		}
	}
	if got := b.ForAttempt(1000); got != time.Second {
		t.Fatalf("large attempt should cap at max, got %v", got)
	}
}

func TestBackoffJitterStaysInRange(t *testing.T) {
	b := NewBackoff(100*time.Millisecond, time.Second, 0.5)
	for i := 0; i < 100; i++ {
		d := b.ForAttempt(0)
		if d < 50*time.Millisecond || d > 150*time.Millisecond {
			t.Fatalf("jittered delay out of range: %v", d)
		}
	}
}

func TestBackoffWaitHonoursContext(t *testing.T) {
	b := NewBackoff(time.Hour, time.Hour, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := b.Wait(ctx, 0); err == nil {
		t.Fatalf("expected context error")
	}
}
