// Package livefeed ingests the live aligned feature-row stream over a
// websocket (spec.md §4.3's "live feature stream" input) and provides a
// Redis-backed cross-worker cache for the latest price/book per symbol
// (SPEC_FULL.md §11 DOMAIN STACK). Backtest mode never uses this package —
// the Aligner drives the Feeder directly there.
package livefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"alpha-core/internal/featuretypes"
)

const (
	pingInterval     = 30 * time.Second
	readTimeout      = 90 * time.Second
	maxReconnectWait = 30 * time.Second
	writeTimeout     = 10 * time.Second
	rowBufferSize    = 1024
)

// Client maintains one websocket connection carrying newline-delimited
// JSON FeatureRow objects (spec.md §4.3 NEW note), auto-reconnecting with
// exponential backoff and re-subscribing to its symbol set on reconnect.
// Grounded on _examples/0xtitan6-polymarket-mm/internal/exchange/ws.go's
// WSFeed.
type Client struct {
	url    string
	symbols []string

	connMu sync.Mutex
	conn   *websocket.Conn

	rows chan featuretypes.FeatureRow

	logger *slog.Logger
}

// NewClient creates a Client that will dial url and subscribe to symbols
// once connected.
func NewClient(url string, symbols []string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		url:     url,
		symbols: append([]string(nil), symbols...),
		rows:    make(chan featuretypes.FeatureRow, rowBufferSize),
		logger:  logger.With("component", "livefeed"),
	}
}

// FeatureRows returns the channel the Feeder should drain.
func (c *Client) FeatureRows() <-chan featuretypes.FeatureRow { return c.rows }

// Run connects and maintains the websocket connection until ctx is
// cancelled, reconnecting with exponential backoff (1s -> 30s cap) on any
// read/dial failure.
func (c *Client) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		err := c.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		c.logger.Warn("livefeed disconnected, reconnecting", "error", err, "backoff", backoff)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxReconnectWait {
			backoff = maxReconnectWait
		}
	}
}

// Close closes the underlying connection, if any.
func (c *Client) Close() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func (c *Client) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("livefeed: dial: %w", err)
	}

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()
	defer func() {
		c.connMu.Lock()
		conn.Close()
		c.conn = nil
		c.connMu.Unlock()
	}()

	if err := c.subscribe(); err != nil {
		return fmt.Errorf("livefeed: subscribe: %w", err)
	}
	c.logger.Info("livefeed connected", "url", c.url, "symbols", c.symbols)

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go c.pingLoop(pingCtx)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("livefeed: read: %w", err)
		}
		c.dispatch(msg)
	}
}

// subscribeMsg is the outbound handshake: symbol list plus newline-delimited
// JSON FeatureRow framing, matching the aligner's output schema directly so
// no separate wire format needs documenting.
type subscribeMsg struct {
	Op      string   `json:"op"`
	Symbols []string `json:"symbols"`
}

func (c *Client) subscribe() error {
	return c.writeJSON(subscribeMsg{Op: "subscribe", Symbols: c.symbols})
}

func (c *Client) dispatch(msg []byte) {
	var row featuretypes.FeatureRow
	if err := json.Unmarshal(msg, &row); err != nil {
		c.logger.Debug("livefeed: ignoring undecodable message", "error", err)
		return
	}
	if row.Symbol == "" {
		return
	}
	select {
	case c.rows <- row:
	default:
		c.logger.Warn("livefeed: row channel full, dropping row", "symbol", row.Symbol)
	}
}

func (c *Client) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.writeMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Warn("livefeed: ping failed", "error", err)
				return
			}
		}
	}
}

func (c *Client) writeJSON(v any) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("livefeed: not connected")
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteJSON(v)
}

func (c *Client) writeMessage(msgType int, data []byte) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("livefeed: not connected")
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(msgType, data)
}
