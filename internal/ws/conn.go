package ws

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/plantlink/garden-relay-go/internal/config"
	apperrors "github.com/plantlink/garden-relay-go/internal/errors"
	"github.com/plantlink/garden-relay-go/internal/transport"
)

// Conn is a transport.Conn backed by a gorilla websocket. Outbound frames go
// through a buffered channel drained by writePump so Send never blocks.
type Conn struct {
	id          string
	ws          *websocket.Conn
	remoteAddr  string
	connectedAt time.Time

	send      chan []byte
	done      chan struct{}
	closed    atomic.Bool
	closeOnce sync.Once
}

var _ transport.Conn = (*Conn)(nil)

func newConn(ws *websocket.Conn, remoteAddr string, bufferSize int) *Conn {
	return &Conn{
		id:          uuid.NewString(),
		ws:          ws,
		remoteAddr:  remoteAddr,
		connectedAt: time.Now(),
		send:        make(chan []byte, bufferSize),
		done:        make(chan struct{}),
	}
}

func (c *Conn) ID() string { return c.id }

func (c *Conn) IsOpen() bool { return !c.closed.Load() }

// Send queues msg for delivery. A peer that cannot keep up with its buffer
// is disconnected instead of stalling the caller.
func (c *Conn) Send(msg transport.Message) error {
	if c.closed.Load() {
		return apperrors.ConnectionUnavailable("connection closed")
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return apperrors.Internal("failed to encode message").WithCause(err)
	}

	select {
	case <-c.done:
		return apperrors.ConnectionUnavailable("connection closed")
	case c.send <- data:
		return nil
	default:
		log.Warn().
			Str("connId", c.id).
			Str("type", msg.Type).
			Msg("send buffer full, closing slow connection")
		c.Close()
		return apperrors.ConnectionUnavailable("send buffer full")
	}
}

// Close marks the connection closed and stops writePump, which closes the
// socket. Safe to call from any goroutine, any number of times.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.done)
	})
}

func (c *Conn) readPump(maxMessageBytes int64, handle func([]byte)) {
	c.ws.SetReadLimit(maxMessageBytes)
	//nolint:errcheck // best-effort deadline on setup
	c.ws.SetReadDeadline(time.Now().Add(config.WSPongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(config.WSPongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("connId", c.id).Msg("websocket read error")
			} else {
				log.Debug().Err(err).Str("connId", c.id).Msg("websocket closed")
			}
			return
		}
		//nolint:errcheck // any inbound frame counts as liveness
		c.ws.SetReadDeadline(time.Now().Add(config.WSPongWait))
		handle(data)
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(config.WSPingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case data := <-c.send:
			//nolint:errcheck // write error caught below
			c.ws.SetWriteDeadline(time.Now().Add(config.WSWriteWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.Close()
				return
			}
		case <-ticker.C:
			//nolint:errcheck // ping error caught below
			c.ws.SetWriteDeadline(time.Now().Add(config.WSWriteWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		case <-c.done:
			c.flush()
			//nolint:errcheck // best-effort close frame
			c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(config.WSWriteWait))
			return
		}
	}
}

// flush writes frames that were queued before Close.
func (c *Conn) flush() {
	for {
		select {
		case data := <-c.send:
			//nolint:errcheck // best-effort drain
			c.ws.SetWriteDeadline(time.Now().Add(config.WSWriteWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		default:
			return
		}
	}
}
