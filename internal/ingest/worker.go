package ingest

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/coingry/Indicator-dashboard/internal/model"
)

// State is the ingestion worker's connection state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateBackoff
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateBackoff:
		return "backoff"
	default:
		return "disconnected"
	}
}

// Source is the streaming connection the worker supervises. stream.Client
// satisfies it; tests substitute a fake.
type Source interface {
	SetHandlers(onOpen func(), onTick func(model.TickUpdate), onClose func(err error))
	Connect(ctx context.Context) error
	Ping() error
	Close()
}

// WorkerConfig tunes the reconnect and heartbeat policy.
type WorkerConfig struct {
	// RetryFloor is the first reconnect delay; it doubles on each
	// consecutive failure up to RetryCeiling and resets on connect.
	RetryFloor   time.Duration
	RetryCeiling time.Duration
	// HeartbeatInterval spaces keepalive pings on an open connection.
	HeartbeatInterval time.Duration
	// FillInterval schedules the periodic reconciliation pass that heals
	// candles dropped on store write errors.
	FillInterval time.Duration
}

func (c *WorkerConfig) defaults() {
	if c.RetryFloor == 0 {
		c.RetryFloor = 1500 * time.Millisecond
	}
	if c.RetryCeiling == 0 {
		c.RetryCeiling = 10 * time.Second
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.FillInterval == 0 {
		c.FillInterval = 10 * time.Minute
	}
}

// Worker owns one upstream stream connection and keeps the stored candle
// series complete: a gap fill before the first connect, then an upsert per
// confirmed candle, with capped exponential reconnect backoff.
type Worker struct {
	cfg    WorkerConfig
	store  SeriesStore
	filler *GapFiller
	source Source

	state atomic.Int32

	// Metrics hooks (optional, set externally)
	OnReconnect   func()
	OnFinalCandle func()
	OnWriteError  func()
}

// NewWorker creates a Worker. The source must not be connected yet.
func NewWorker(cfg WorkerConfig, store SeriesStore, filler *GapFiller, source Source) *Worker {
	cfg.defaults()
	return &Worker{
		cfg:    cfg,
		store:  store,
		filler: filler,
		source: source,
	}
}

// State returns the current connection state.
func (w *Worker) State() State {
	return State(w.state.Load())
}

func (w *Worker) setState(s State) {
	w.state.Store(int32(s))
}

// Run drives the connection state machine until ctx is cancelled. The initial
// gap fill runs before the first connect so the stored series has no hole at
// stream-open time.
func (w *Worker) Run(ctx context.Context) error {
	if n, err := w.filler.Fill(ctx, time.Now().Unix()); err != nil {
		slog.Error("initial backfill failed", "err", err, "inserted", n)
	} else if n > 0 {
		slog.Info("initial backfill complete", "inserted", n)
	}

	go w.periodicFill(ctx)

	delay := w.cfg.RetryFloor

	for {
		select {
		case <-ctx.Done():
			w.setState(StateDisconnected)
			return nil
		default:
		}

		w.setState(StateConnecting)
		closed := make(chan error, 1)
		w.source.SetHandlers(
			nil,
			w.handleTick,
			func(err error) { closed <- err },
		)

		if err := w.source.Connect(ctx); err != nil {
			slog.Warn("stream connect failed", "err", err, "retryIn", delay)
			if w.OnReconnect != nil {
				w.OnReconnect()
			}
			if !w.backoff(ctx, &delay) {
				return nil
			}
			continue
		}

		w.setState(StateConnected)
		delay = w.cfg.RetryFloor // reset on any successful connect

		hbStop := make(chan struct{})
		go w.heartbeat(hbStop)

		select {
		case <-ctx.Done():
			// Stop the heartbeat before closing so no ping races the
			// deliberate shutdown.
			close(hbStop)
			w.source.Close()
			w.setState(StateDisconnected)
			return nil

		case err := <-closed:
			close(hbStop)
			slog.Warn("stream closed", "err", err, "retryIn", delay)
			if w.OnReconnect != nil {
				w.OnReconnect()
			}
			if !w.backoff(ctx, &delay) {
				return nil
			}
			// Repair anything missed while disconnected (and any candle
			// dropped on a write error) before reopening the stream.
			if n, err := w.filler.Fill(ctx, time.Now().Unix()); err != nil {
				slog.Error("reconnect backfill failed", "err", err, "inserted", n)
			} else if n > 0 {
				slog.Info("reconnect backfill complete", "inserted", n)
			}
		}
	}
}

// periodicFill reconciles the stored series on a fixed schedule. Write
// errors drop ticks without retry, so this pass is what restores them.
func (w *Worker) periodicFill(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.FillInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := w.filler.Fill(ctx, time.Now().Unix()); err != nil {
				slog.Error("scheduled backfill failed", "err", err, "inserted", n)
			} else if n > 0 {
				slog.Info("scheduled backfill repaired series", "inserted", n)
			}
		}
	}
}

// backoff waits the current delay, then doubles it up to the ceiling.
// Returns false when ctx was cancelled during the wait.
func (w *Worker) backoff(ctx context.Context, delay *time.Duration) bool {
	w.setState(StateBackoff)
	select {
	case <-ctx.Done():
		w.setState(StateDisconnected)
		return false
	case <-time.After(*delay):
	}
	*delay *= 2
	if *delay > w.cfg.RetryCeiling {
		*delay = w.cfg.RetryCeiling
	}
	return true
}

// heartbeat pings the stream on a fixed interval. Ping failures are swallowed:
// a dead connection surfaces through the close handler.
func (w *Worker) heartbeat(stop <-chan struct{}) {
	ticker := time.NewTicker(w.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := w.source.Ping(); err != nil {
				slog.Debug("heartbeat ping failed", "err", err)
			}
		}
	}
}

// handleTick persists confirmed candles. Partial buckets are discarded; a
// write error drops the tick, relying on the next backfill pass for repair
// rather than retrying against a failing store.
func (w *Worker) handleTick(tick model.TickUpdate) {
	if !tick.Final {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := w.store.Upsert(ctx, []model.Candle{tick.Candle}); err != nil {
		slog.Error("candle upsert failed, dropping tick", "err", err, "bucket", tick.BucketStart)
		if w.OnWriteError != nil {
			w.OnWriteError()
		}
		return
	}
	if w.OnFinalCandle != nil {
		w.OnFinalCandle()
	}
}
