// Package router dispatches inbound frames to handlers by message type and
// owns the connection-close lifecycle shared by the session registry, the
// hardware link and every pending tracker.
package router

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	apperrors "github.com/plantlink/garden-relay-go/internal/errors"
	"github.com/plantlink/garden-relay-go/internal/hardware"
	"github.com/plantlink/garden-relay-go/internal/pending"
	"github.com/plantlink/garden-relay-go/internal/session"
	"github.com/plantlink/garden-relay-go/internal/transport"
)

// HandlerFunc processes one inbound message. A returned error is sent back
// to the connection as an ERROR envelope tagged with the request type.
type HandlerFunc func(ctx context.Context, conn transport.Conn, msg transport.Message) error

// Limiter is satisfied by service.RateLimiter.
type Limiter interface {
	CheckLimit(ctx context.Context, key string, limit int, window time.Duration) (allowed bool, resetAt time.Time)
}

type access int

const (
	accessPublic access = iota
	accessIdentity
	accessDevice
)

type route struct {
	access  access
	handler HandlerFunc
}

type contextKey string

const identityKey contextKey = "identity"

// WithIdentity returns a context carrying the authenticated identity.
func WithIdentity(ctx context.Context, identity string) context.Context {
	return context.WithValue(ctx, identityKey, identity)
}

// IdentityFrom returns the identity bound to the connection that sent the
// message being handled, or "" on public routes before login.
func IdentityFrom(ctx context.Context) string {
	if v, ok := ctx.Value(identityKey).(string); ok {
		return v
	}
	return ""
}

type Router struct {
	registry *session.Registry
	link     *hardware.Link

	limiter Limiter
	limit   int
	window  time.Duration
	timeout time.Duration

	mu       sync.RWMutex
	routes   map[string]route
	sweepers []pending.Sweeper
}

type Option func(*Router)

// WithRateLimit limits client messages per identity (or per connection before
// login). A nil limiter or non-positive limit disables limiting.
func WithRateLimit(limiter Limiter, limit int, window time.Duration) Option {
	return func(r *Router) {
		r.limiter = limiter
		r.limit = limit
		r.window = window
	}
}

// WithHandlerTimeout bounds the context handed to each handler.
func WithHandlerTimeout(d time.Duration) Option {
	return func(r *Router) {
		r.timeout = d
	}
}

func New(registry *session.Registry, link *hardware.Link, opts ...Option) *Router {
	r := &Router{
		registry: registry,
		link:     link,
		window:   time.Minute,
		routes:   make(map[string]route),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// HandlePublic registers a handler that runs without a bound identity.
func (r *Router) HandlePublic(msgType string, h HandlerFunc) {
	r.register(msgType, accessPublic, h)
}

// Handle registers a handler that requires a logged-in connection.
func (r *Router) Handle(msgType string, h HandlerFunc) {
	r.register(msgType, accessIdentity, h)
}

// HandleDevice registers a handler that only accepts frames from the current
// hardware link. Frames from any other connection are dropped.
func (r *Router) HandleDevice(msgType string, h HandlerFunc) {
	r.register(msgType, accessDevice, h)
}

func (r *Router) register(msgType string, a access, h HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.routes[msgType]; exists {
		panic(fmt.Sprintf("router: duplicate handler for %s", msgType))
	}
	r.routes[msgType] = route{access: a, handler: h}
}

// AddSweeper registers trackers whose entries are released when their
// connection closes.
func (r *Router) AddSweeper(sweepers ...pending.Sweeper) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweepers = append(r.sweepers, sweepers...)
}

func (r *Router) Sweepers() []pending.Sweeper {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]pending.Sweeper, len(r.sweepers))
	copy(out, r.sweepers)
	return out
}

// Dispatch parses one raw frame and runs the matching handler.
func (r *Router) Dispatch(ctx context.Context, conn transport.Conn, raw []byte) {
	msg, err := transport.Parse(raw)
	if err != nil {
		log.Debug().Err(err).Str("connId", conn.ID()).Msg("rejected malformed frame")
		r.reply(conn, transport.ErrorMessage("", err))
		return
	}

	r.mu.RLock()
	rt, ok := r.routes[msg.Type]
	r.mu.RUnlock()

	fromDevice := r.link.IsCurrent(conn)

	if !ok {
		if fromDevice {
			log.Warn().Str("type", msg.Type).Msg("unknown message type from device, dropping")
			return
		}
		r.reply(conn, transport.ErrorMessage(msg.Type, apperrors.UnknownMessageType(msg.Type)))
		return
	}

	switch rt.access {
	case accessDevice:
		if !fromDevice {
			log.Warn().
				Str("connId", conn.ID()).
				Str("type", msg.Type).
				Msg("device message from non-device connection, dropping")
			return
		}
	case accessIdentity:
		identity, bound := r.registry.IdentityOf(conn)
		if !bound {
			r.reply(conn, transport.ErrorMessage(msg.Type, apperrors.Unauthorized("Login required")))
			return
		}
		ctx = WithIdentity(ctx, identity)
	case accessPublic:
		if identity, bound := r.registry.IdentityOf(conn); bound {
			ctx = WithIdentity(ctx, identity)
		}
	}

	if !fromDevice && !r.allow(ctx, conn, msg.Type) {
		return
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	if err := r.invoke(ctx, conn, msg, rt.handler); err != nil {
		r.logHandlerError(conn, msg.Type, err)
		if fromDevice {
			return
		}
		r.reply(conn, transport.ErrorMessage(msg.Type, err))
	}
}

func (r *Router) allow(ctx context.Context, conn transport.Conn, msgType string) bool {
	if r.limiter == nil || r.limit <= 0 {
		return true
	}

	key := "msg:conn:" + conn.ID()
	if identity := IdentityFrom(ctx); identity != "" {
		key = "msg:user:" + identity
	}

	allowed, resetAt := r.limiter.CheckLimit(ctx, key, r.limit, r.window)
	if allowed {
		return true
	}

	log.Warn().
		Str("connId", conn.ID()).
		Str("key", key).
		Str("type", msgType).
		Msg("message rate limit exceeded")
	r.reply(conn, transport.ErrorMessage(msgType, apperrors.RateLimitExceeded().WithDetails(map[string]any{
		"resetAt": resetAt.Unix(),
	})))
	return false
}

func (r *Router) invoke(ctx context.Context, conn transport.Conn, msg transport.Message, h HandlerFunc) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().
				Str("connId", conn.ID()).
				Str("type", msg.Type).
				Interface("panic", rec).
				Str("stack", string(debug.Stack())).
				Msg("handler panicked")
			err = apperrors.Internal("An unexpected error occurred")
		}
	}()
	return h(ctx, conn, msg)
}

func (r *Router) logHandlerError(conn transport.Conn, msgType string, err error) {
	code := apperrors.GetCode(err)
	event := log.Debug()
	if code == apperrors.ErrCodeInternal || code == apperrors.ErrCodeDatabase || !apperrors.IsAppError(err) {
		event = log.Error()
	}
	event.
		Err(err).
		Str("connId", conn.ID()).
		Str("type", msgType).
		Str("code", string(code)).
		Msg("handler returned error")
}

func (r *Router) reply(conn transport.Conn, msg transport.Message) {
	if err := conn.Send(msg); err != nil {
		log.Debug().Err(err).Str("connId", conn.ID()).Str("type", msg.Type).Msg("reply not delivered")
	}
}

// Disconnect tears down everything tied to conn: its identity binding, the
// hardware link if conn is the device, and its pending entries. Safe to call
// more than once.
func (r *Router) Disconnect(conn transport.Conn) {
	r.registry.Unbind(conn)

	if r.link.Detach(conn) {
		log.Info().Str("connId", conn.ID()).Msg("device disconnected")
	}

	released := 0
	for _, s := range r.Sweepers() {
		released += s.ReleaseConn(conn)
	}
	if released > 0 {
		log.Info().
			Str("connId", conn.ID()).
			Int("released", released).
			Msg("pending requests orphaned by closed connection")
	}
}
