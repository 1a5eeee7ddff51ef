// Package transporttest provides an in-memory transport.Conn for tests.
package transporttest

import (
	"encoding/json"
	"sync"

	apperrors "github.com/plantlink/garden-relay-go/internal/errors"
	"github.com/plantlink/garden-relay-go/internal/transport"
)

// Conn records every message sent to it.
type Conn struct {
	id string

	mu     sync.Mutex
	sent   []transport.Message
	closed bool
}

var _ transport.Conn = (*Conn)(nil)

func NewConn(id string) *Conn {
	return &Conn{id: id}
}

func (c *Conn) ID() string { return c.id }

func (c *Conn) Send(msg transport.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return apperrors.ConnectionUnavailable("connection closed")
	}
	c.sent = append(c.sent, msg)
	return nil
}

func (c *Conn) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

// Close marks the connection as closed; later sends fail.
func (c *Conn) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

// Sent returns a copy of every message delivered so far.
func (c *Conn) Sent() []transport.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]transport.Message, len(c.sent))
	copy(out, c.sent)
	return out
}

// SentOfType returns the delivered messages with the given type.
func (c *Conn) SentOfType(msgType string) []transport.Message {
	var out []transport.Message
	for _, msg := range c.Sent() {
		if msg.Type == msgType {
			out = append(out, msg)
		}
	}
	return out
}

// Last returns the most recent message and false when nothing was sent.
func (c *Conn) Last() (transport.Message, bool) {
	sent := c.Sent()
	if len(sent) == 0 {
		return transport.Message{}, false
	}
	return sent[len(sent)-1], true
}

// LastPayload decodes the most recent payload into a generic map.
func (c *Conn) LastPayload() map[string]any {
	msg, ok := c.Last()
	if !ok || len(msg.Payload) == 0 {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(msg.Payload, &out); err != nil {
		return nil
	}
	return out
}

// Reset forgets recorded messages.
func (c *Conn) Reset() {
	c.mu.Lock()
	c.sent = nil
	c.mu.Unlock()
}
