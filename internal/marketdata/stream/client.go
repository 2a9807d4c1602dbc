// Package stream provides the websocket kline stream client. One Client owns
// one upstream connection; lifecycle events are surfaced through callbacks
// which always fire from the single read loop, so no two handlers run
// concurrently for the same connection.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/coingry/Indicator-dashboard/internal/model"
)

const writeWait = 5 * time.Second

// Config holds configuration for the stream client.
type Config struct {
	// URL of the kline stream, e.g.
	// "wss://stream.binance.com:9443/ws/btcusdt@kline_1m".
	URL string
}

// Client connects to a kline websocket and delivers parsed TickUpdates.
// Register handlers with SetHandlers; registration may happen before or
// after Connect.
type Client struct {
	cfg Config

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool

	// Callbacks, guarded by mu. onTick receives every successfully parsed
	// update, partial and final alike. onClose fires once when the read loop
	// exits for any reason other than an explicit Close.
	onOpen  func()
	onTick  func(model.TickUpdate)
	onClose func(err error)
}

// SetHandlers registers the lifecycle callbacks. Any nil handler is simply
// skipped. Safe to call while the read loop is running; the loop picks up the
// new set on its next message.
func (c *Client) SetHandlers(onOpen func(), onTick func(model.TickUpdate), onClose func(err error)) {
	c.mu.Lock()
	c.onOpen = onOpen
	c.onTick = onTick
	c.onClose = onClose
	c.mu.Unlock()
}

// New creates a Client. The URL must use a ws or wss scheme.
func New(cfg Config) (*Client, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("stream: invalid url %q: %w", cfg.URL, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("stream: url %q: scheme must be ws or wss", cfg.URL)
	}
	return &Client{cfg: cfg}, nil
}

// Connect dials the stream and starts the read loop. It returns once the
// connection is established; ticks are then delivered asynchronously.
func (c *Client) Connect(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("stream dial %s: %w", c.cfg.URL, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.closed = false
	onOpen := c.onOpen
	c.mu.Unlock()

	slog.Info("stream connected", "url", c.cfg.URL)
	if onOpen != nil {
		onOpen()
	}

	go c.readLoop(conn)
	return nil
}

// Ping sends a keepalive control frame. Safe to call concurrently with the
// read loop.
func (c *Client) Ping() error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("stream ping: not connected")
	}
	return conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// Close tears the connection down. No callbacks fire after Close returns.
func (c *Client) Close() {
	c.mu.Lock()
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"),
			time.Now().Add(writeWait))
		conn.Close()
	}
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			deliberate := c.closed
			onClose := c.onClose
			c.mu.Unlock()
			if deliberate {
				return
			}
			conn.Close()
			if onClose != nil {
				onClose(err)
			}
			return
		}

		tick, ok, err := ParseKline(raw)
		if err != nil {
			slog.Warn("stream parse error", "err", err)
			continue
		}
		if !ok {
			// control or non-kline frame
			continue
		}
		c.mu.Lock()
		onTick := c.onTick
		c.mu.Unlock()
		if onTick != nil {
			onTick(tick)
		}
	}
}

// klineEvent mirrors the Binance combined kline payload.
type klineEvent struct {
	Kline *struct {
		StartMs int64  `json:"t"`
		CloseMs int64  `json:"T"` // distinct field so "T" never folds onto "t"
		Open    string `json:"o"`
		High    string `json:"h"`
		Low     string `json:"l"`
		Close   string `json:"c"`
		Final   bool   `json:"x"`
	} `json:"k"`
}

// ParseKline converts a raw stream message into a TickUpdate. ok is false for
// messages that are valid JSON but carry no kline payload (subscription acks,
// pongs); err is set for malformed frames.
func ParseKline(raw []byte) (model.TickUpdate, bool, error) {
	var ev klineEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return model.TickUpdate{}, false, fmt.Errorf("unmarshal kline: %w", err)
	}
	if ev.Kline == nil {
		return model.TickUpdate{}, false, nil
	}

	k := ev.Kline
	open, err := strconv.ParseFloat(k.Open, 64)
	if err != nil {
		return model.TickUpdate{}, false, fmt.Errorf("parsing open %q: %w", k.Open, err)
	}
	high, err := strconv.ParseFloat(k.High, 64)
	if err != nil {
		return model.TickUpdate{}, false, fmt.Errorf("parsing high %q: %w", k.High, err)
	}
	low, err := strconv.ParseFloat(k.Low, 64)
	if err != nil {
		return model.TickUpdate{}, false, fmt.Errorf("parsing low %q: %w", k.Low, err)
	}
	cls, err := strconv.ParseFloat(k.Close, 64)
	if err != nil {
		return model.TickUpdate{}, false, fmt.Errorf("parsing close %q: %w", k.Close, err)
	}

	return model.TickUpdate{
		Candle: model.Candle{
			BucketStart: k.StartMs / 1000,
			Open:        open,
			High:        high,
			Low:         low,
			Close:       cls,
		},
		Final: k.Final,
	}, true, nil
}
