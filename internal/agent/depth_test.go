package agent

import (
	"context"
	"testing"
	"time"

	"crypto_agents/internal/bus"
	"crypto_agents/internal/domain"
	"crypto_agents/internal/infra"
)

func newDepthUnderTest(t *testing.T, feed *scriptedFeed, b *bus.Bus) *Depth {
	t.Helper()
	return NewDepth(feed, b, &infra.Metrics{}, []string{"BTC/CAD"}, d(t, "0.60"), time.Second)
}

func TestDepth_BidHeavyBookEmitsLong(t *testing.T) {
	feed := newScriptedFeed()
	// 8 vs 2: imbalance 0.8.
	feed.push("BTC/CAD", book(t, "BTC/CAD", "100", "8", "100.1", "2"))

	b := bus.New(8)
	if err := newDepthUnderTest(t, feed, b).scan(context.Background()); err != nil {
		t.Fatalf("scan failed: %v", err)
	}

	sub := b.Subscribe()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	sig, err := sub.Next(ctx)
	if err != nil {
		t.Fatalf("no signal: %v", err)
	}
	if sig.Direction != domain.DirectionLong {
		t.Errorf("direction = %s, want LONG", sig.Direction)
	}
	if !sig.Strength.Equal(d(t, "0.8")) {
		t.Errorf("strength = %s, want 0.8", sig.Strength)
	}
}

func TestDepth_AskHeavyBookEmitsShort(t *testing.T) {
	feed := newScriptedFeed()
	// 2 vs 8: imbalance 0.2, at or below 1 - 0.60.
	feed.push("BTC/CAD", book(t, "BTC/CAD", "100", "2", "100.1", "8"))

	b := bus.New(8)
	if err := newDepthUnderTest(t, feed, b).scan(context.Background()); err != nil {
		t.Fatalf("scan failed: %v", err)
	}

	sub := b.Subscribe()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	sig, err := sub.Next(ctx)
	if err != nil {
		t.Fatalf("no signal: %v", err)
	}
	if sig.Direction != domain.DirectionShort {
		t.Errorf("direction = %s, want SHORT", sig.Direction)
	}
}

func TestDepth_BalancedBookIsQuiet(t *testing.T) {
	feed := newScriptedFeed()
	feed.push("BTC/CAD", book(t, "BTC/CAD", "100", "5", "100.1", "5"))

	b := bus.New(8)
	if err := newDepthUnderTest(t, feed, b).scan(context.Background()); err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if b.Pending() != 0 {
		t.Errorf("balanced book emitted %d signals", b.Pending())
	}
}

func TestDepth_EmptyBookIsQuiet(t *testing.T) {
	feed := newScriptedFeed()
	feed.push("BTC/CAD", book(t, "BTC/CAD", "100", "0", "100.1", "0"))

	b := bus.New(8)
	if err := newDepthUnderTest(t, feed, b).scan(context.Background()); err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if b.Pending() != 0 {
		t.Errorf("empty book emitted %d signals", b.Pending())
	}
}
