package signal

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Frame is a raw signaling payload.
type Frame []byte

var ErrBackpressure = errors.New("backpressure")

// Conn is the agent's channel to the relay. Failed sends are reported,
// never retried.
type Conn interface {
	TrySend(Frame) error
	SendJSON(v any) error
	Close()
}

// WSConn is the websocket relay transport. The write pump owns the socket;
// TrySend drops with ErrBackpressure instead of blocking the loop.
type WSConn struct {
	conn *websocket.Conn
	send chan Frame

	mu     sync.RWMutex
	closed bool
}

// Dial connects to the relay signaling endpoint.
func Dial(ctx context.Context, url string) (*WSConn, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return &WSConn{
		conn: ws,
		send: make(chan Frame, 32),
	}, nil
}

func (c *WSConn) TrySend(f Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *WSConn) SendJSON(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.TrySend(b)
}

func (c *WSConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

// Run starts the read/write pumps. onMessage is invoked per frame in
// arrival order; onClosed fires once when the transport drops.
func (c *WSConn) Run(ctx context.Context, onMessage func([]byte), onClosed func()) {
	go c.writePump(ctx)
	go c.readPump(ctx, onMessage, onClosed)
}

func (c *WSConn) writePump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			if !ok {
				log.Warn().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		}
	}
}

func (c *WSConn) readPump(ctx context.Context, onMessage func([]byte), onClosed func()) {
	defer func() {
		log.Info().Str("module", "signal").Msg("readPump closing")
		c.Close()
		if onClosed != nil {
			onClosed()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Msg("readPump ctx done")
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("readPump read error")
				return
			}
			onMessage(data)
		}
	}
}
