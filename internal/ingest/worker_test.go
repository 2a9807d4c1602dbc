package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/coingry/Indicator-dashboard/internal/model"
)

// emptyHistory reports no rows, so fills finish immediately.
type emptyHistory struct{}

func (emptyHistory) Klines(ctx context.Context, startMs int64, limit int) ([]model.Candle, error) {
	return nil, nil
}

// fakeSource scripts the stream connection for the worker state machine.
type fakeSource struct {
	mu        sync.Mutex
	onTick    func(model.TickUpdate)
	onClose   func(err error)
	failFirst int
	connects  int
	closes    int

	connected chan struct{}
}

func newFakeSource(failFirst int) *fakeSource {
	return &fakeSource{failFirst: failFirst, connected: make(chan struct{}, 16)}
}

func (f *fakeSource) SetHandlers(onOpen func(), onTick func(model.TickUpdate), onClose func(err error)) {
	f.mu.Lock()
	f.onTick = onTick
	f.onClose = onClose
	f.mu.Unlock()
}

func (f *fakeSource) Connect(ctx context.Context) error {
	f.mu.Lock()
	f.connects++
	fail := f.connects <= f.failFirst
	f.mu.Unlock()
	if fail {
		return errors.New("connect refused")
	}
	f.connected <- struct{}{}
	return nil
}

func (f *fakeSource) Ping() error { return nil }

func (f *fakeSource) Close() {
	f.mu.Lock()
	f.closes++
	f.mu.Unlock()
}

func (f *fakeSource) deliver(tick model.TickUpdate) {
	f.mu.Lock()
	h := f.onTick
	f.mu.Unlock()
	if h != nil {
		h(tick)
	}
}

func (f *fakeSource) dropConnection(err error) {
	f.mu.Lock()
	h := f.onClose
	f.mu.Unlock()
	if h != nil {
		h(err)
	}
}

func (f *fakeSource) connectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects
}

func testWorker(source *fakeSource, store *memStore) *Worker {
	filler := NewGapFiller(store, emptyHistory{}, 0)
	return NewWorker(WorkerConfig{
		RetryFloor:        time.Millisecond,
		RetryCeiling:      4 * time.Millisecond,
		HeartbeatInterval: time.Hour, // keep pings out of these tests
		FillInterval:      time.Hour,
	}, store, filler, source)
}

func TestWorkerPersistsFinalTicksOnly(t *testing.T) {
	store := newMemStore()
	source := newFakeSource(0)
	w := testWorker(source, store)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	<-source.connected

	source.deliver(model.TickUpdate{
		Candle: model.Candle{BucketStart: 60, Close: 100},
		Final:  false,
	})
	source.deliver(model.TickUpdate{
		Candle: model.Candle{BucketStart: 60, Close: 101},
		Final:  true,
	})

	if store.count() != 1 {
		t.Errorf("expected only the confirmed candle stored, got %d rows", store.count())
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if source.closes != 1 {
		t.Errorf("shutdown must close the source once, got %d", source.closes)
	}
	if w.State() != StateDisconnected {
		t.Errorf("expected disconnected after shutdown, got %s", w.State())
	}
}

func TestWorkerReconnectsAfterClose(t *testing.T) {
	store := newMemStore()
	source := newFakeSource(0)
	w := testWorker(source, store)

	var reconnects int
	w.OnReconnect = func() { reconnects++ }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	<-source.connected
	source.dropConnection(errors.New("peer reset"))
	<-source.connected // reconnected after backoff

	if got := source.connectCount(); got != 2 {
		t.Errorf("expected 2 connects, got %d", got)
	}
	if reconnects != 1 {
		t.Errorf("expected 1 reconnect callback, got %d", reconnects)
	}

	cancel()
	<-done
}

func TestWorkerRetriesFailedConnects(t *testing.T) {
	store := newMemStore()
	source := newFakeSource(3)
	w := testWorker(source, store)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	<-source.connected
	if got := source.connectCount(); got != 4 {
		t.Errorf("expected 4 attempts before success, got %d", got)
	}

	cancel()
	<-done
}

func TestBackoffDoublesUpToCeiling(t *testing.T) {
	w := testWorker(newFakeSource(0), newMemStore())
	ctx := context.Background()

	delay := w.cfg.RetryFloor
	for _, want := range []time.Duration{
		2 * time.Millisecond,
		4 * time.Millisecond,
		4 * time.Millisecond, // capped
	} {
		if !w.backoff(ctx, &delay) {
			t.Fatal("backoff aborted without cancellation")
		}
		if delay != want {
			t.Fatalf("expected delay %v, got %v", want, delay)
		}
	}

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	if w.backoff(cancelled, &delay) {
		t.Error("backoff must abort on cancelled context")
	}
}
