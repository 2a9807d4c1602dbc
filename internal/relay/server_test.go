package relay

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/coingry/Indicator-dashboard/internal/model"
)

// fakeUpstream records connection lifecycle calls from the relay.
type fakeUpstream struct {
	mu       sync.Mutex
	onTick   func(model.TickUpdate)
	onClose  func(err error)
	connects int
	closes   int
	failNext bool
}

func (f *fakeUpstream) SetHandlers(onOpen func(), onTick func(model.TickUpdate), onClose func(err error)) {
	f.mu.Lock()
	f.onTick = onTick
	f.onClose = onClose
	f.mu.Unlock()
}

func (f *fakeUpstream) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		f.failNext = false
		return errors.New("dial failed")
	}
	f.connects++
	return nil
}

func (f *fakeUpstream) Close() {
	f.mu.Lock()
	f.closes++
	f.mu.Unlock()
}

func (f *fakeUpstream) counts() (connects, closes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects, f.closes
}

func (f *fakeUpstream) emit(tick model.TickUpdate) {
	f.mu.Lock()
	h := f.onTick
	f.mu.Unlock()
	if h != nil {
		h(tick)
	}
}

func (f *fakeUpstream) drop(err error) {
	f.mu.Lock()
	h := f.onClose
	f.mu.Unlock()
	if h != nil {
		h(err)
	}
}

func newTestServer(up *fakeUpstream) *Server {
	s := NewServer(Config{RetryDelay: 5 * time.Millisecond, SendBuffer: 4}, up)
	s.Start(context.Background())
	return s
}

func TestFirstSubscriberConnectsUpstreamOnce(t *testing.T) {
	up := &fakeUpstream{}
	s := newTestServer(up)

	id1, _ := s.Subscribe()
	if c, _ := up.counts(); c != 1 {
		t.Fatalf("expected 1 upstream connect, got %d", c)
	}

	// Additional subscribers reuse the open connection.
	id2, _ := s.Subscribe()
	id3, _ := s.Subscribe()
	if c, _ := up.counts(); c != 1 {
		t.Fatalf("extra subscribers must not reconnect, got %d connects", c)
	}
	if s.SubscriberCount() != 3 {
		t.Fatalf("expected 3 subscribers, got %d", s.SubscriberCount())
	}

	s.Unsubscribe(id1)
	s.Unsubscribe(id2)
	s.Unsubscribe(id3)
}

func TestLastUnsubscribeTearsDownOnce(t *testing.T) {
	up := &fakeUpstream{}
	s := newTestServer(up)

	id1, _ := s.Subscribe()
	id2, _ := s.Subscribe()

	s.Unsubscribe(id1)
	if _, closes := up.counts(); closes != 0 {
		t.Fatal("teardown before the last unsubscribe")
	}

	s.Unsubscribe(id2)
	if _, closes := up.counts(); closes != 1 {
		t.Fatalf("expected exactly 1 teardown, got %d", closes)
	}

	// Unsubscribing an unknown id is a no-op.
	s.Unsubscribe("sub-999")
	if _, closes := up.counts(); closes != 1 {
		t.Fatal("unknown unsubscribe must not tear down again")
	}
}

func TestResubscribeReconnects(t *testing.T) {
	up := &fakeUpstream{}
	s := newTestServer(up)

	id, _ := s.Subscribe()
	s.Unsubscribe(id)

	id2, _ := s.Subscribe()
	defer s.Unsubscribe(id2)

	if c, _ := up.counts(); c != 2 {
		t.Fatalf("expected a fresh connect per empty-to-one transition, got %d", c)
	}
}

func TestBroadcastReachesAllSubscribers(t *testing.T) {
	up := &fakeUpstream{}
	s := newTestServer(up)

	id1, recv1 := s.Subscribe()
	id2, recv2 := s.Subscribe()
	defer s.Unsubscribe(id1)
	defer s.Unsubscribe(id2)

	tick := model.TickUpdate{
		Candle: model.Candle{BucketStart: 60, Open: 1, High: 2, Low: 0.5, Close: 1.5},
		Final:  true,
	}
	up.emit(tick)

	for _, recv := range []<-chan []byte{recv1, recv2} {
		select {
		case payload := <-recv:
			var got model.TickUpdate
			if err := json.Unmarshal(payload, &got); err != nil {
				t.Fatalf("bad payload: %v", err)
			}
			if got != tick {
				t.Errorf("expected %+v, got %+v", tick, got)
			}
		default:
			t.Fatal("subscriber did not receive the broadcast")
		}
	}
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	up := &fakeUpstream{}
	s := newTestServer(up)

	var drops int
	s.OnDrop = func() { drops++ }

	id, recv := s.Subscribe()
	defer s.Unsubscribe(id)

	for i := 0; i < 10; i++ { // buffer is 4
		up.emit(model.TickUpdate{Candle: model.Candle{BucketStart: int64(i) * 60}})
	}

	if len(recv) != 4 {
		t.Errorf("expected full buffer of 4, got %d", len(recv))
	}
	if drops != 6 {
		t.Errorf("expected 6 drops, got %d", drops)
	}
}

func TestUpstreamDropReconnectsWhileSubscribed(t *testing.T) {
	up := &fakeUpstream{}
	s := newTestServer(up)

	id, _ := s.Subscribe()
	defer s.Unsubscribe(id)

	up.drop(errors.New("peer reset"))

	deadline := time.After(time.Second)
	for {
		if c, _ := up.counts(); c == 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("relay never reconnected after upstream drop")
		case <-time.After(time.Millisecond):
		}
	}
}

func TestUpstreamDropWithoutSubscribersStaysDown(t *testing.T) {
	up := &fakeUpstream{}
	s := newTestServer(up)

	id, _ := s.Subscribe()
	s.Unsubscribe(id)

	up.drop(errors.New("peer reset"))
	time.Sleep(20 * time.Millisecond) // past the retry delay

	if c, _ := up.counts(); c != 1 {
		t.Fatalf("reconnect without subscribers: %d connects", c)
	}
}

func TestUpstreamDownHookFiresOnDropAndTeardown(t *testing.T) {
	up := &fakeUpstream{}
	s := newTestServer(up)

	downs := 0
	s.OnUpstreamDown = func() { downs++ }

	id, _ := s.Subscribe()
	up.drop(errors.New("peer reset"))
	if downs != 1 {
		t.Fatalf("spontaneous close must report the upstream down, got %d", downs)
	}

	// Let the timer re-establish the connection before tearing down.
	deadline := time.After(time.Second)
	for {
		if c, _ := up.counts(); c == 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("relay never reconnected after upstream drop")
		case <-time.After(time.Millisecond):
		}
	}

	s.Unsubscribe(id)
	if downs != 2 {
		t.Fatalf("teardown must report the upstream down, got %d", downs)
	}
}

func TestConnectFailureRetriesOnTimer(t *testing.T) {
	up := &fakeUpstream{failNext: true}
	s := newTestServer(up)

	id, _ := s.Subscribe()
	defer s.Unsubscribe(id)

	if c, _ := up.counts(); c != 0 {
		t.Fatalf("first dial should have failed, got %d connects", c)
	}

	deadline := time.After(time.Second)
	for {
		if c, _ := up.counts(); c == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("relay never retried the failed dial")
		case <-time.After(time.Millisecond):
		}
	}
}
