package clock

import (
	"context"
	"testing"
	"time"
)

func TestSeededRandDeterministic(t *testing.T) {
	a := NewSeededRand(42)
	b := NewSeededRand(42)
	for i := 0; i < 20; i++ {
		va := a.IntRange(0, 100)
		vb := b.IntRange(0, 100)
		if va != vb {
			t.Fatalf("expected identical draws for identical seeds, got %d vs %d at index %d", va, vb, i)
		}
	}
}

func TestSeededRandRange(t *testing.T) {
	r := NewSeededRand(7)
	for i := 0; i < 50; i++ {
		v := r.IntRange(5, 9)
		if v < 5 || v > 9 {
			t.Fatalf("draw %d outside requested range [5,9]", v)
		}
	}
}

func TestSeededRandDegenerateRange(t *testing.T) {
	r := NewSeededRand(1)
	if v := r.IntRange(3, 3); v != 3 {
		t.Fatalf("expected degenerate range to return the single value, got %d", v)
	}
	if v := r.IntRange(5, 2); v != 5 {
		t.Fatalf("expected inverted range to fall back to min, got %d", v)
	}
}

func TestRealClockSleepCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Real().Sleep(ctx, time.Second); err == nil {
		t.Fatalf("expected cancelled context to short-circuit the sleep")
	}
}

func TestRealClockSleepZero(t *testing.T) {
	ctx := context.Background()
	if err := Real().Sleep(ctx, 0); err != nil {
		t.Fatalf("expected zero duration sleep to return immediately without error, got %v", err)
	}
}
