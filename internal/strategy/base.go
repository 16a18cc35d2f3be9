// base.go is the strategy scheduler: one goroutine per running strategy,
// ticking at a fixed interval until stopped.
//
// Lifecycle guarantees:
//   - Start and Stop are idempotent; repeated calls log a warning and return.
//   - Stop blocks until the loop goroutine has fully exited.
//   - OnStop runs exactly once per Start/Stop cycle, with a fresh context,
//     even when the loop is cancelled mid-tick or OnStart failed.
//   - A tick error pauses the loop for a grace period instead of killing it;
//     only an OnStart error is fatal.
package strategy

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const defaultTickErrorGrace = 5 * time.Second

// Base carries the lifecycle, scheduling, and performance accounting shared
// by all strategies. Concrete strategies embed *Base and implement Hooks.
type Base struct {
	desc   Descriptor
	gw     Gateway
	params Params
	logger *slog.Logger
	hooks  Hooks

	tickInterval time.Duration
	errGrace     time.Duration

	mu        sync.Mutex
	running   bool
	cancel    context.CancelFunc
	done      chan struct{}
	startedAt time.Time
	lastTick  time.Time

	perfMu sync.Mutex
	perf   Performance
}

// NewBase wires the shared machinery. tickInterval must already be
// validated by the concrete constructor.
func NewBase(desc Descriptor, gw Gateway, params Params, logger *slog.Logger, tickInterval time.Duration) *Base {
	return &Base{
		desc:         desc,
		gw:           gw,
		params:       params,
		logger:       logger.With("component", "strategy", "strategy", desc.ID),
		tickInterval: tickInterval,
		errGrace:     defaultTickErrorGrace,
	}
}

// bind attaches the concrete strategy's hooks. Called once by the concrete
// constructor; embedding means Base cannot see the outer type otherwise.
func (b *Base) bind(h Hooks) { b.hooks = h }

// Descriptor returns the strategy's self-description.
func (b *Base) Descriptor() Descriptor { return b.desc }

// Parameters returns the strategy's configuration.
func (b *Base) Parameters() Params { return b.params }

// Gateway returns the venue surface. Used by hook implementations.
func (b *Base) Gateway() Gateway { return b.gw }

// Logger returns the strategy-scoped logger.
func (b *Base) Logger() *slog.Logger { return b.logger }

// IsRunning reports whether the tick loop is active.
func (b *Base) IsRunning() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}

// LastTickTime returns when the last successful tick completed.
func (b *Base) LastTickTime() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastTick
}

// StartedAt returns when the current run began, zero when stopped.
func (b *Base) StartedAt() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.startedAt
}

// Start launches the tick loop. Calling Start on a running strategy is a
// logged no-op.
func (b *Base) Start() {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		b.logger.Warn("strategy already running")
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	b.running = true
	b.cancel = cancel
	b.done = done
	now := time.Now()
	b.startedAt = now
	b.lastTick = now
	b.mu.Unlock()

	b.logger.Info("strategy starting", "tick_interval", b.tickInterval)
	go b.run(ctx, done)
}

// Stop cancels the loop and blocks until it has exited. Calling Stop on a
// stopped strategy is a logged no-op.
func (b *Base) Stop() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		b.logger.Warn("strategy not running")
		return
	}
	b.running = false
	cancel := b.cancel
	done := b.done
	b.cancel = nil
	b.done = nil
	b.mu.Unlock()

	cancel()
	<-done
	b.logger.Info("strategy stopped")
}

func (b *Base) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer func() {
		// Fresh context: cleanup must run even after cancellation.
		stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		b.hooks.OnStop(stopCtx)
	}()

	if err := b.hooks.OnStart(ctx); err != nil {
		b.logger.Error("strategy failed to start", "error", err)
		b.markStopped()
		return
	}

	for {
		if ctx.Err() != nil {
			return
		}
		if err := b.hooks.Tick(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			b.logger.Error("tick failed", "error", err)
			if !sleepCtx(ctx, b.errGrace) {
				return
			}
		} else {
			b.mu.Lock()
			b.lastTick = time.Now()
			b.mu.Unlock()
		}
		if !sleepCtx(ctx, b.tickInterval) {
			return
		}
	}
}

// markStopped flips the running flag when the loop dies on its own
// (fatal OnStart error) rather than via Stop.
func (b *Base) markStopped() {
	b.mu.Lock()
	b.running = false
	if b.cancel != nil {
		b.cancel()
		b.cancel = nil
	}
	b.done = nil
	b.mu.Unlock()
}

// sleepCtx sleeps for d unless ctx is cancelled first. Returns false on
// cancellation.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// RecordTrade folds one completed round trip into the performance account.
func (b *Base) RecordTrade(profit float64) {
	b.perfMu.Lock()
	defer b.perfMu.Unlock()

	b.perf.Trades++
	b.perf.ProfitLoss += profit
	if profit > 0 {
		b.perf.WinCount++
	}
	b.perf.WinRatePct = float64(b.perf.WinCount) / float64(b.perf.Trades) * 100

	// Max drawdown is the most negative cumulative PnL seen so far, never
	// above zero.
	if b.perf.ProfitLoss < b.perf.MaxDrawdown {
		b.perf.MaxDrawdown = b.perf.ProfitLoss
	}
}

// Performance returns a snapshot of the running account.
func (b *Base) Performance() Performance {
	b.perfMu.Lock()
	defer b.perfMu.Unlock()
	return b.perf
}
