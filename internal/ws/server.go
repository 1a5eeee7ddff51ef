// Package ws terminates WebSocket connections and feeds their frames to the
// message router.
package ws

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/plantlink/garden-relay-go/internal/config"
	"github.com/plantlink/garden-relay-go/internal/transport"
)

// Dispatcher is satisfied by router.Router.
type Dispatcher interface {
	Dispatch(ctx context.Context, conn transport.Conn, raw []byte)
	Disconnect(conn transport.Conn)
}

type Server struct {
	dispatcher      Dispatcher
	upgrader        websocket.Upgrader
	maxMessageBytes int64

	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.RWMutex
	conns map[string]*Conn
	wg    sync.WaitGroup
}

func NewServer(dispatcher Dispatcher, maxMessageBytes int64) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		dispatcher:      dispatcher,
		maxMessageBytes: maxMessageBytes,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Browsers and the device both connect; access is enforced per message.
			CheckOrigin: func(_ *http.Request) bool { return true },
		},
		ctx:    ctx,
		cancel: cancel,
		conns:  make(map[string]*Conn),
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	wsConn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("remoteAddr", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}

	conn := newConn(wsConn, r.RemoteAddr, config.WSSendBufferSize)
	s.track(conn)

	log.Info().
		Str("connId", conn.ID()).
		Str("remoteAddr", conn.remoteAddr).
		Int("connections", s.Count()).
		Msg("websocket connected")

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		conn.writePump()
	}()
	go func() {
		defer s.wg.Done()
		s.serve(conn)
	}()
}

// serve runs the read loop. Frames from one connection are dispatched in
// arrival order.
func (s *Server) serve(conn *Conn) {
	defer func() {
		conn.Close()
		s.untrack(conn)
		s.dispatcher.Disconnect(conn)
		log.Info().
			Str("connId", conn.ID()).
			Dur("duration", time.Since(conn.connectedAt)).
			Msg("websocket disconnected")
	}()

	conn.readPump(s.maxMessageBytes, func(data []byte) {
		s.dispatcher.Dispatch(s.ctx, conn, data)
	})
}

func (s *Server) track(conn *Conn) {
	s.mu.Lock()
	s.conns[conn.ID()] = conn
	s.mu.Unlock()
}

func (s *Server) untrack(conn *Conn) {
	s.mu.Lock()
	delete(s.conns, conn.ID())
	s.mu.Unlock()
}

// Count returns the number of open websocket connections.
func (s *Server) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}

// Shutdown cancels in-flight handlers, closes every connection and waits for
// the pumps to exit or ctx to end.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()

	s.mu.RLock()
	conns := make([]*Conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.RUnlock()

	for _, c := range conns {
		c.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
