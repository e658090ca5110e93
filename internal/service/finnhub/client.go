package finnhub

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"BasalGCT/internal/domain/models"
	drepo "BasalGCT/internal/domain/repository"
	"BasalGCT/pkg/logger"
)

// Config holds the stream settings.
type Config struct {
	APIKey       string
	WebSocketURL string
	Symbols      []string
	ReconnectMin time.Duration
	ReconnectMax time.Duration
	PingInterval time.Duration
}

// Client implements a MarketStream backed by the Finnhub trade WebSocket. A single
// Read loop survives reconnects: after a read error it waits for the next connection.
type Client struct {
	cfg    Config
	log    *logger.Logger
	dialer *websocket.Dialer

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	next      chan struct{} // closed on every successful connect

	writeMu sync.Mutex
}

func New(cfg Config, log *logger.Logger) *Client {
	if log == nil {
		log = logger.Nop()
	}
	if cfg.ReconnectMin <= 0 {
		cfg.ReconnectMin = time.Second
	}
	if cfg.ReconnectMax < cfg.ReconnectMin {
		cfg.ReconnectMax = 30 * cfg.ReconnectMin
	}
	return &Client{
		cfg:    cfg,
		log:    log.Component("finnhub"),
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		next:   make(chan struct{}),
	}
}

func (c *Client) endpoint() (string, error) {
	u, err := url.Parse(c.cfg.WebSocketURL)
	if err != nil {
		return "", fmt.Errorf("finnhub url: %w", err)
	}
	q := u.Query()
	if c.cfg.APIKey != "" {
		q.Set("token", c.cfg.APIKey)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Connect dials the WebSocket.
func (c *Client) Connect(ctx context.Context) error {
	u, err := c.endpoint()
	if err != nil {
		return err
	}
	conn, _, err := c.dialer.DialContext(ctx, u, nil)
	if err != nil {
		return fmt.Errorf("finnhub connect: %w", err)
	}

	c.mu.Lock()
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.conn = conn
	c.connected = true
	close(c.next)
	c.next = make(chan struct{})
	c.mu.Unlock()

	c.log.Info("connected", logger.String("url", c.cfg.WebSocketURL))
	return nil
}

// Subscribe sends one subscribe frame per configured symbol.
func (c *Client) Subscribe(ctx context.Context) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("finnhub not connected")
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	for _, s := range c.cfg.Symbols {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := conn.WriteJSON(map[string]string{"type": "subscribe", "symbol": s}); err != nil {
			return fmt.Errorf("subscribe %s: %w", s, err)
		}
	}
	c.log.Info("subscribed", logger.Strings("symbols", c.cfg.Symbols))
	return nil
}

type fhTrade struct {
	S string   `json:"s"`
	P float64  `json:"p"`
	V float64  `json:"v"`
	T int64    `json:"t"`
	C []string `json:"c"`
}

type fhMessage struct {
	Type string    `json:"type"`
	Data []fhTrade `json:"data"`
	Msg  string    `json:"msg"`
}

// parseMessage turns a frame into trades. Non-trade frames yield nothing.
func parseMessage(b []byte) ([]*models.Trade, error) {
	var m fhMessage
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	switch m.Type {
	case "trade":
	case "error":
		return nil, fmt.Errorf("finnhub error frame: %s", m.Msg)
	default:
		return nil, nil
	}
	out := make([]*models.Trade, 0, len(m.Data))
	for _, d := range m.Data {
		out = append(out, &models.Trade{
			Symbol:     d.S,
			Price:      d.P,
			Volume:     d.V,
			Timestamp:  time.UnixMilli(d.T).UTC(),
			Conditions: d.C,
		})
	}
	return out, nil
}

func (c *Client) current() (*websocket.Conn, <-chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn, c.next
}

// Read streams trades until ctx is done. Read errors are reported on the error
// channel without ending the stream.
func (c *Client) Read(ctx context.Context) (<-chan *models.Trade, <-chan error) {
	trades := make(chan *models.Trade, 1024)
	errs := make(chan error, 1)

	go c.pingLoop(ctx)
	go func() {
		<-ctx.Done()
		_ = c.Close()
	}()

	go func() {
		defer close(trades)
		defer close(errs)
		for {
			conn, next := c.current()
			if ctx.Err() != nil {
				return
			}
			if conn == nil {
				select {
				case <-ctx.Done():
					return
				case <-next:
					continue
				}
			}

			_, b, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				c.markDown(conn)
				select {
				case errs <- fmt.Errorf("finnhub read: %w", err):
				default:
				}
				select {
				case <-ctx.Done():
					return
				case <-next:
				}
				continue
			}

			batch, err := parseMessage(b)
			if err != nil {
				c.log.Warn("skipping frame", logger.Error(err))
				continue
			}
			for _, t := range batch {
				select {
				case trades <- t:
				default:
					c.log.Warn("trade dropped on backpressure", logger.String("symbol", t.Symbol))
				}
			}
		}
	}()

	return trades, errs
}

func (c *Client) markDown(conn *websocket.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == conn {
		c.connected = false
	}
}

func (c *Client) pingLoop(ctx context.Context) {
	if c.cfg.PingInterval <= 0 {
		return
	}
	t := time.NewTicker(c.cfg.PingInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			c.mu.Lock()
			conn := c.conn
			c.mu.Unlock()
			if conn != nil {
				_ = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			}
		}
	}
}

// Reconnect redials with exponential backoff and resubscribes. It gives up only
// when ctx is done.
func (c *Client) Reconnect(ctx context.Context) error {
	c.mu.Lock()
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.connected = false
	c.mu.Unlock()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.ReconnectMin
	b.MaxInterval = c.cfg.ReconnectMax
	b.MaxElapsedTime = 0

	return backoff.RetryNotify(func() error {
		if err := c.Connect(ctx); err != nil {
			return err
		}
		return c.Subscribe(ctx)
	}, backoff.WithContext(b, ctx), func(err error, wait time.Duration) {
		c.log.Warn("reconnect failed", logger.Duration("retry_in", wait), logger.Error(err))
	})
}

// Close closes the connection. A later Connect reopens the stream.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

var _ drepo.MarketStream = (*Client)(nil)
