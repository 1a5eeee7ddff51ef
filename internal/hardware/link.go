// Package hardware holds the single authoritative connection to the
// remote device.
package hardware

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	apperrors "github.com/plantlink/garden-relay-go/internal/errors"
	"github.com/plantlink/garden-relay-go/internal/transport"
)

// Device protocol message types.
const (
	TypeAssignHardware   = "ASSIGN_HARDWARE"
	TypeHardwareAssigned = "HARDWARE_ASSIGNED"
	TypeReadMoisture     = "READ_MOISTURE"
	TypeMoistureReading  = "MOISTURE_READING"
	TypeReleaseHardware  = "RELEASE_HARDWARE"
	TypeDeviceHello      = "DEVICE_HELLO"
	TypeDeviceWelcome    = "DEVICE_WELCOME"
)

// Link is a single-slot registry for the device connection. Attaching a new
// connection atomically replaces the previous one.
type Link struct {
	mu         sync.RWMutex
	conn       transport.Conn
	attachedAt time.Time
}

func NewLink() *Link {
	return &Link{}
}

// Attach installs conn as the device link and returns the replaced
// connection, if any. The replaced connection is not closed.
func (l *Link) Attach(conn transport.Conn) transport.Conn {
	l.mu.Lock()
	prev := l.conn
	l.conn = conn
	l.attachedAt = time.Now()
	l.mu.Unlock()

	if prev == nil || prev.ID() == conn.ID() {
		log.Info().Str("connId", conn.ID()).Msg("device link attached")
		return nil
	}

	log.Warn().
		Str("connId", conn.ID()).
		Str("staleConnId", prev.ID()).
		Msg("device link replaced, previous link is now stale")
	return prev
}

// Detach clears the link only if conn is the attached connection.
func (l *Link) Detach(conn transport.Conn) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.conn == nil || l.conn.ID() != conn.ID() {
		return false
	}
	l.conn = nil
	l.attachedAt = time.Time{}

	log.Info().Str("connId", conn.ID()).Msg("device link detached")
	return true
}

// Send transmits msg to the device without waiting for a reply. The reply,
// if any, arrives later as an independent inbound message.
func (l *Link) Send(msg transport.Message) error {
	l.mu.RLock()
	conn := l.conn
	l.mu.RUnlock()

	if conn == nil || !conn.IsOpen() {
		return apperrors.DeviceUnavailable()
	}

	if err := conn.Send(msg); err != nil {
		log.Warn().Err(err).Str("connId", conn.ID()).Str("type", msg.Type).Msg("device send failed")
		return apperrors.DeviceUnavailable().WithCause(err)
	}

	log.Debug().Str("connId", conn.ID()).Str("type", msg.Type).Msg("sent to device")
	return nil
}

// Connected reports whether an open device link is attached.
func (l *Link) Connected() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.conn != nil && l.conn.IsOpen()
}

// IsCurrent reports whether conn is the authoritative device link.
func (l *Link) IsCurrent(conn transport.Conn) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.conn != nil && l.conn.ID() == conn.ID()
}

// AttachedAt returns when the current link was attached, or the zero time.
func (l *Link) AttachedAt() time.Time {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.attachedAt
}
