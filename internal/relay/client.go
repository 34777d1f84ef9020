package relay

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"meshmeet/internal/domain"
	"meshmeet/internal/signal"
)

var ErrBackpressure = errors.New("backpressure")

// clientConn wraps one client websocket. The write pump owns the socket;
// TrySend drops instead of blocking the hub.
type clientConn struct {
	conn *websocket.Conn
	send chan signal.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *clientConn) TrySend(f signal.Frame) error {
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

func (c *clientConn) Close() {
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

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WSController upgrades signaling connections and pumps their frames
// through the hub.
type WSController struct {
	Hub       *Hub
	ReadLimit int64
}

func (ctl *WSController) HandleSignal(ctx context.Context, c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "relay").Msg("ws upgrade")
		return
	}
	if ctl.ReadLimit > 0 {
		ws.SetReadLimit(ctl.ReadLimit)
	}

	id := domain.Identity(uuid.NewString())
	conn := &clientConn{
		conn: ws,
		send: make(chan signal.Frame, 32),
	}

	ctx, cancel := context.WithCancel(ctx)
	ctl.Hub.Connect(id, conn)

	go ctl.writePump(ctx, id, conn)
	go ctl.readPump(ctx, cancel, id, conn)
}

func (ctl *WSController) writePump(ctx context.Context, id domain.Identity, c *clientConn) {
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "relay").Str("identity", string(id)).Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			if !ok {
				log.Warn().Str("module", "relay").Str("identity", string(id)).Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				log.Error().Err(err).Str("module", "relay").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "relay").Msg("writePump write error")
				return
			}
		}
	}
}

func (ctl *WSController) readPump(ctx context.Context, cancel context.CancelFunc, id domain.Identity, c *clientConn) {
	defer func() {
		log.Info().Str("module", "relay").Str("identity", string(id)).Msg("readPump closing")
		cancel()
		c.Close()
		ctl.Hub.Disconnect(id)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				log.Error().Err(err).Str("module", "relay").Str("identity", string(id)).Msg("readPump read error")
				return
			}
			ctl.Hub.Handle(id, data)
		}
	}
}
