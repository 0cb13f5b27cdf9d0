// Package agent contains the trading agents: three signal producers
// (scanner, depth, indicator) feeding the bus, and the execution agent
// consuming it. Producers share one periodic lifecycle.
package agent

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// signalSeq numbers emitted signals per process. Ordering is only
// meaningful within one producer.
var signalSeq atomic.Uint64

func nextSeq() uint64 {
	return signalSeq.Add(1)
}

// tickFunc runs one producer cycle. Errors are logged and the cycle is
// skipped; a producer never stops itself over a transient failure.
type tickFunc func(ctx context.Context) error

// base implements the shared periodic lifecycle: Start launches a
// ticker goroutine driving tick, Stop cancels it and waits.
type base struct {
	name     string
	interval time.Duration
	tick     tickFunc

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running atomic.Bool
}

func newBase(name string, interval time.Duration, tick tickFunc) *base {
	return &base{name: name, interval: interval, tick: tick}
}

// Name returns the agent's registry name.
func (b *base) Name() string {
	return b.name
}

// Running reports whether the agent loop is active.
func (b *base) Running() bool {
	return b.running.Load()
}

// Start launches the agent loop. Starting a running agent is a no-op.
func (b *base) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.running.Load() {
		return nil
	}

	ctx, b.cancel = context.WithCancel(ctx)
	b.running.Store(true)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer b.running.Store(false)

		b.runTick(ctx)

		ticker := time.NewTicker(b.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				slog.Info("agent stopped", slog.String("agent", b.name))
				return
			case <-ticker.C:
				b.runTick(ctx)
			}
		}
	}()

	slog.Info("agent started",
		slog.String("agent", b.name),
		slog.Duration("interval", b.interval),
	)
	return nil
}

// Stop cancels the loop and waits for the in-flight cycle.
func (b *base) Stop() {
	b.mu.Lock()
	cancel := b.cancel
	b.mu.Unlock()

	if cancel != nil {
		cancel()
		b.wg.Wait()
	}
}

func (b *base) runTick(ctx context.Context) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("agent cycle panicked",
				slog.String("agent", b.name),
				slog.Any("panic", rec),
			)
		}
	}()

	if err := b.tick(ctx); err != nil && ctx.Err() == nil {
		slog.Warn("agent cycle failed",
			slog.String("agent", b.name),
			slog.Any("error", err),
		)
	}
}
