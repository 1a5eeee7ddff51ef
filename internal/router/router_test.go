package router

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apperrors "github.com/plantlink/garden-relay-go/internal/errors"
	"github.com/plantlink/garden-relay-go/internal/hardware"
	"github.com/plantlink/garden-relay-go/internal/pending"
	"github.com/plantlink/garden-relay-go/internal/session"
	"github.com/plantlink/garden-relay-go/internal/transport"
	"github.com/plantlink/garden-relay-go/internal/transport/transporttest"
)

type mockLimiter struct {
	mock.Mock
}

func (m *mockLimiter) CheckLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, time.Time) {
	args := m.Called(ctx, key, limit, window)
	return args.Bool(0), args.Get(1).(time.Time)
}

func newTestRouter(opts ...Option) (*Router, *session.Registry, *hardware.Link) {
	registry := session.NewRegistry()
	link := hardware.NewLink()
	return New(registry, link, opts...), registry, link
}

func errorCode(t *testing.T, conn *transporttest.Conn) string {
	t.Helper()
	last, ok := conn.Last()
	require.True(t, ok, "expected a reply")
	require.Equal(t, transport.TypeError, last.Type)
	payload := conn.LastPayload()
	return payload["code"].(string)
}

func TestRouter_Dispatch(t *testing.T) {
	ctx := context.Background()

	t.Run("malformed frame gets INVALID_MESSAGE", func(t *testing.T) {
		r, _, _ := newTestRouter()
		conn := transporttest.NewConn("c1")

		r.Dispatch(ctx, conn, []byte("{not json"))

		assert.Equal(t, string(apperrors.ErrCodeInvalidMessage), errorCode(t, conn))
	})

	t.Run("unknown type gets UNKNOWN_MESSAGE_TYPE", func(t *testing.T) {
		r, _, _ := newTestRouter()
		conn := transporttest.NewConn("c1")

		r.Dispatch(ctx, conn, []byte(`{"type":"FLY"}`))

		assert.Equal(t, string(apperrors.ErrCodeUnknownMessageType), errorCode(t, conn))
		assert.Equal(t, "FLY", conn.LastPayload()["requestType"])
	})

	t.Run("public handler runs without identity", func(t *testing.T) {
		r, _, _ := newTestRouter()
		conn := transporttest.NewConn("c1")
		var seen string
		r.HandlePublic("PING", func(ctx context.Context, c transport.Conn, msg transport.Message) error {
			seen = IdentityFrom(ctx)
			return c.Send(transport.MustMessage("PONG", nil))
		})

		r.Dispatch(ctx, conn, []byte(`{"type":"PING"}`))

		assert.Empty(t, seen)
		assert.Len(t, conn.SentOfType("PONG"), 1)
	})

	t.Run("identity route rejects unbound connection", func(t *testing.T) {
		r, _, _ := newTestRouter()
		conn := transporttest.NewConn("c1")
		called := false
		r.Handle("LIST_GARDENS", func(ctx context.Context, c transport.Conn, msg transport.Message) error {
			called = true
			return nil
		})

		r.Dispatch(ctx, conn, []byte(`{"type":"LIST_GARDENS"}`))

		assert.False(t, called)
		assert.Equal(t, string(apperrors.ErrCodeUnauthorized), errorCode(t, conn))
	})

	t.Run("identity route receives bound identity", func(t *testing.T) {
		r, registry, _ := newTestRouter()
		conn := transporttest.NewConn("c1")
		registry.Bind(conn, "Ann@Example.com")
		var seen string
		r.Handle("LIST_GARDENS", func(ctx context.Context, c transport.Conn, msg transport.Message) error {
			seen = IdentityFrom(ctx)
			return nil
		})

		r.Dispatch(ctx, conn, []byte(`{"type":"LIST_GARDENS"}`))

		assert.Equal(t, "ann@example.com", seen)
		assert.Empty(t, conn.Sent())
	})

	t.Run("handler error is sent as ERROR envelope", func(t *testing.T) {
		r, registry, _ := newTestRouter()
		conn := transporttest.NewConn("c1")
		registry.Bind(conn, "a@x.com")
		r.Handle("ADD_PLANT", func(ctx context.Context, c transport.Conn, msg transport.Message) error {
			return apperrors.DeviceUnavailable()
		})

		r.Dispatch(ctx, conn, []byte(`{"type":"ADD_PLANT","payload":{}}`))

		assert.Equal(t, string(apperrors.ErrCodeDeviceUnavailable), errorCode(t, conn))
		assert.Equal(t, "ADD_PLANT", conn.LastPayload()["requestType"])
	})

	t.Run("plain errors do not leak to the client", func(t *testing.T) {
		r, _, _ := newTestRouter()
		conn := transporttest.NewConn("c1")
		r.HandlePublic("PING", func(ctx context.Context, c transport.Conn, msg transport.Message) error {
			return errors.New("pq: relation does not exist")
		})

		r.Dispatch(ctx, conn, []byte(`{"type":"PING"}`))

		assert.Equal(t, string(apperrors.ErrCodeInternal), errorCode(t, conn))
		assert.NotContains(t, conn.LastPayload()["message"], "pq")
	})

	t.Run("handler panic is recovered", func(t *testing.T) {
		r, _, _ := newTestRouter()
		conn := transporttest.NewConn("c1")
		r.HandlePublic("PING", func(ctx context.Context, c transport.Conn, msg transport.Message) error {
			panic("boom")
		})

		assert.NotPanics(t, func() {
			r.Dispatch(ctx, conn, []byte(`{"type":"PING"}`))
		})
		assert.Equal(t, string(apperrors.ErrCodeInternal), errorCode(t, conn))
	})

	t.Run("handler context carries a deadline", func(t *testing.T) {
		r, _, _ := newTestRouter(WithHandlerTimeout(time.Second))
		conn := transporttest.NewConn("c1")
		var hasDeadline bool
		r.HandlePublic("PING", func(ctx context.Context, c transport.Conn, msg transport.Message) error {
			_, hasDeadline = ctx.Deadline()
			return nil
		})

		r.Dispatch(ctx, conn, []byte(`{"type":"PING"}`))

		assert.True(t, hasDeadline)
	})
}

func TestRouter_DeviceRoutes(t *testing.T) {
	ctx := context.Background()

	t.Run("device route accepts the current link", func(t *testing.T) {
		r, _, link := newTestRouter()
		device := transporttest.NewConn("dev")
		link.Attach(device)
		called := false
		r.HandleDevice(hardware.TypeHardwareAssigned, func(ctx context.Context, c transport.Conn, msg transport.Message) error {
			called = true
			return nil
		})

		r.Dispatch(ctx, device, []byte(`{"type":"HARDWARE_ASSIGNED","payload":{"plantId":"1"}}`))

		assert.True(t, called)
	})

	t.Run("device route drops frames from clients", func(t *testing.T) {
		r, registry, link := newTestRouter()
		link.Attach(transporttest.NewConn("dev"))
		client := transporttest.NewConn("c1")
		registry.Bind(client, "a@x.com")
		called := false
		r.HandleDevice(hardware.TypeHardwareAssigned, func(ctx context.Context, c transport.Conn, msg transport.Message) error {
			called = true
			return nil
		})

		r.Dispatch(ctx, client, []byte(`{"type":"HARDWARE_ASSIGNED","payload":{"plantId":"1"}}`))

		assert.False(t, called)
		assert.Empty(t, client.Sent())
	})

	t.Run("stale device link is dropped after replacement", func(t *testing.T) {
		r, _, link := newTestRouter()
		stale := transporttest.NewConn("dev-1")
		link.Attach(stale)
		link.Attach(transporttest.NewConn("dev-2"))
		called := false
		r.HandleDevice(hardware.TypeMoistureReading, func(ctx context.Context, c transport.Conn, msg transport.Message) error {
			called = true
			return nil
		})

		r.Dispatch(ctx, stale, []byte(`{"type":"MOISTURE_READING","payload":{"plantId":"1"}}`))

		assert.False(t, called)
	})

	t.Run("device handler errors are not echoed to the device", func(t *testing.T) {
		r, _, link := newTestRouter()
		device := transporttest.NewConn("dev")
		link.Attach(device)
		r.HandleDevice(hardware.TypeMoistureReading, func(ctx context.Context, c transport.Conn, msg transport.Message) error {
			return apperrors.CorrelationMiss("7")
		})

		r.Dispatch(ctx, device, []byte(`{"type":"MOISTURE_READING","payload":{"plantId":"7"}}`))

		assert.Empty(t, device.Sent())
	})

	t.Run("unknown type from device is dropped", func(t *testing.T) {
		r, _, link := newTestRouter()
		device := transporttest.NewConn("dev")
		link.Attach(device)

		r.Dispatch(ctx, device, []byte(`{"type":"FIRMWARE_BANNER"}`))

		assert.Empty(t, device.Sent())
	})
}

func TestRouter_RateLimit(t *testing.T) {
	ctx := context.Background()

	t.Run("keys by identity once logged in", func(t *testing.T) {
		limiter := new(mockLimiter)
		limiter.On("CheckLimit", mock.Anything, "msg:user:a@x.com", 2, time.Minute).
			Return(false, time.Now().Add(time.Minute))

		r, registry, _ := newTestRouter(WithRateLimit(limiter, 2, time.Minute))
		conn := transporttest.NewConn("c1")
		registry.Bind(conn, "a@x.com")
		called := false
		r.Handle("LIST_GARDENS", func(ctx context.Context, c transport.Conn, msg transport.Message) error {
			called = true
			return nil
		})

		r.Dispatch(ctx, conn, []byte(`{"type":"LIST_GARDENS"}`))

		assert.False(t, called)
		assert.Equal(t, string(apperrors.ErrCodeRateLimitExceeded), errorCode(t, conn))
		limiter.AssertExpectations(t)
	})

	t.Run("keys by connection before login", func(t *testing.T) {
		limiter := new(mockLimiter)
		limiter.On("CheckLimit", mock.Anything, "msg:conn:c1", 2, time.Minute).
			Return(true, time.Now().Add(time.Minute))

		r, _, _ := newTestRouter(WithRateLimit(limiter, 2, time.Minute))
		conn := transporttest.NewConn("c1")
		called := false
		r.HandlePublic("LOGIN", func(ctx context.Context, c transport.Conn, msg transport.Message) error {
			called = true
			return nil
		})

		r.Dispatch(ctx, conn, []byte(`{"type":"LOGIN"}`))

		assert.True(t, called)
		limiter.AssertExpectations(t)
	})

	t.Run("device link is never limited", func(t *testing.T) {
		limiter := new(mockLimiter)
		r, _, link := newTestRouter(WithRateLimit(limiter, 1, time.Minute))
		device := transporttest.NewConn("dev")
		link.Attach(device)
		r.HandleDevice(hardware.TypeMoistureReading, func(ctx context.Context, c transport.Conn, msg transport.Message) error {
			return nil
		})

		r.Dispatch(ctx, device, []byte(`{"type":"MOISTURE_READING"}`))

		limiter.AssertNotCalled(t, "CheckLimit", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestRouter_Disconnect(t *testing.T) {
	t.Run("releases identity, link and pending entries", func(t *testing.T) {
		r, registry, link := newTestRouter()
		client := transporttest.NewConn("c1")
		device := transporttest.NewConn("dev")
		registry.Bind(client, "a@x.com")
		link.Attach(device)

		var outcomes []pending.Outcome
		tracker := pending.New[string, string]("assign", time.Minute,
			pending.WithAbandonHook[string, string](func(key string, reqCtx string, outcome pending.Outcome) {
				outcomes = append(outcomes, outcome)
			}))
		r.AddSweeper(tracker)
		tracker.Register("p1", client, "ctx", func(transport.Conn, string, string, error) {})

		r.Disconnect(client)
		r.Disconnect(device)

		_, bound := registry.IdentityOf(client)
		assert.False(t, bound)
		assert.False(t, link.Connected())
		assert.Equal(t, 0, tracker.Len())
		assert.Equal(t, []pending.Outcome{pending.OutcomeOrphaned}, outcomes)
	})

	t.Run("is idempotent", func(t *testing.T) {
		r, _, _ := newTestRouter()
		conn := transporttest.NewConn("c1")

		assert.NotPanics(t, func() {
			r.Disconnect(conn)
			r.Disconnect(conn)
		})
	})

	t.Run("superseded connection close keeps the newer binding", func(t *testing.T) {
		r, registry, _ := newTestRouter()
		older := transporttest.NewConn("old")
		newer := transporttest.NewConn("new")
		registry.Bind(older, "a@x.com")
		registry.Bind(newer, "a@x.com")

		r.Disconnect(older)

		conn, ok := registry.ConnectionOf("a@x.com")
		require.True(t, ok)
		assert.Equal(t, "new", conn.ID())
	})
}

func TestRouter_DuplicateRegistrationPanics(t *testing.T) {
	r, _, _ := newTestRouter()
	h := func(context.Context, transport.Conn, transport.Message) error { return nil }
	r.HandlePublic("PING", h)

	assert.Panics(t, func() { r.Handle("PING", h) })
}
