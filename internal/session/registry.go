// Package session tracks which live connection belongs to which
// authenticated identity.
package session

import (
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/plantlink/garden-relay-go/internal/transport"
)

type binding struct {
	conn     transport.Conn
	identity string
}

// Registry is the bidirectional connection <-> identity map.
// One lock guards both directions so no caller observes a half-applied bind.
type Registry struct {
	mu         sync.RWMutex
	byConn     map[string]binding        // connID -> binding
	byIdentity map[string]transport.Conn // identity -> current conn
}

func NewRegistry() *Registry {
	return &Registry{
		byConn:     make(map[string]binding),
		byIdentity: make(map[string]transport.Conn),
	}
}

// NormalizeIdentity lower-cases and trims an identity such as an email.
func NormalizeIdentity(identity string) string {
	return strings.ToLower(strings.TrimSpace(identity))
}

// Bind maps conn to identity in both directions. A previous identity bound to
// conn and a previous connection bound to identity are overwritten; the
// superseded connection itself is left open.
func (r *Registry) Bind(conn transport.Conn, identity string) {
	identity = NormalizeIdentity(identity)

	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.byConn[conn.ID()]; ok && prev.identity != identity {
		if cur, ok := r.byIdentity[prev.identity]; ok && cur.ID() == conn.ID() {
			delete(r.byIdentity, prev.identity)
		}
	}

	// The superseded connection keeps its own identity entry until it
	// closes; it just stops being the one addressed for this identity.
	if prev, ok := r.byIdentity[identity]; ok && prev.ID() != conn.ID() {
		log.Info().
			Str("identity", identity).
			Str("previousConnId", prev.ID()).
			Str("connId", conn.ID()).
			Msg("session superseded by new login")
	}

	r.byConn[conn.ID()] = binding{conn: conn, identity: identity}
	r.byIdentity[identity] = conn
}

// Unbind removes conn's binding. The identity entry is only removed while it
// still points at conn, so closing a superseded connection never erases the
// newer session. Unknown connections are ignored.
func (r *Registry) Unbind(conn transport.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.byConn[conn.ID()]
	if !ok {
		return
	}
	delete(r.byConn, conn.ID())

	if cur, ok := r.byIdentity[b.identity]; ok && cur.ID() == conn.ID() {
		delete(r.byIdentity, b.identity)
	}
}

// IdentityOf returns the identity bound to conn.
func (r *Registry) IdentityOf(conn transport.Conn) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.byConn[conn.ID()]
	if !ok {
		return "", false
	}
	return b.identity, true
}

// ConnectionOf returns the current connection of identity.
func (r *Registry) ConnectionOf(identity string) (transport.Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.byIdentity[NormalizeIdentity(identity)]
	return conn, ok
}

// Count returns the number of bound connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byConn)
}
