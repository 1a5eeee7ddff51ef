// Package pending correlates asynchronous device replies with the client
// connection that triggered the device request.
//
// A Tracker is instantiated once per request category (hardware assignment,
// moisture read, ...). Entries are keyed by a stable domain id echoed back by
// the device, so at most one request per key is outstanding. Every entry ends
// in exactly one terminal state: resolved, expired, canceled, superseded or
// orphaned. Entries are removed from the table before any callback runs, so a
// failing callback can never re-insert or duplicate them.
package pending

import (
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	apperrors "github.com/plantlink/garden-relay-go/internal/errors"
	"github.com/plantlink/garden-relay-go/internal/transport"
)

// DefaultTTL bounds entries of trackers built without an explicit TTL.
const DefaultTTL = 15 * time.Second

// Outcome is the terminal state of a pending entry.
type Outcome string

const (
	OutcomeResolved   Outcome = "resolved"
	OutcomeExpired    Outcome = "expired"
	OutcomeCanceled   Outcome = "canceled"
	OutcomeSuperseded Outcome = "superseded"
	OutcomeOrphaned   Outcome = "orphaned"
)

// Callback composes the final reply to the waiting connection. err is nil
// for a device reply and a REQUEST_TIMEOUT AppError on expiry, in which case
// reply is the zero value. It is only invoked while conn is still open.
type Callback[C, R any] func(conn transport.Conn, reqCtx C, reply R, err error)

// AbandonFunc is notified when an entry terminates without its reply reaching
// the waiting connection (expired, superseded or orphaned). Categories use it
// to roll back state created for the request.
type AbandonFunc[C any] func(key string, reqCtx C, outcome Outcome)

// Sweeper is the category-independent view of a Tracker used by the
// connection lifecycle and the expiry job.
type Sweeper interface {
	Category() string
	ExpireStale() int
	ReleaseConn(conn transport.Conn) int
	Len() int
}

type entry[C, R any] struct {
	key       string
	conn      transport.Conn
	reqCtx    C
	done      Callback[C, R]
	createdAt time.Time
}

// Tracker is the correlation table for one request category.
type Tracker[C, R any] struct {
	category  string
	ttl       time.Duration
	now       func() time.Time
	onAbandon AbandonFunc[C]

	mu      sync.Mutex
	entries map[string]*entry[C, R]
}

var _ Sweeper = (*Tracker[struct{}, struct{}])(nil)

type Option[C, R any] func(*Tracker[C, R])

// WithClock overrides time.Now, for tests.
func WithClock[C, R any](now func() time.Time) Option[C, R] {
	return func(t *Tracker[C, R]) { t.now = now }
}

// WithAbandonHook installs the category's rollback hook.
func WithAbandonHook[C, R any](fn AbandonFunc[C]) Option[C, R] {
	return func(t *Tracker[C, R]) { t.onAbandon = fn }
}

func New[C, R any](category string, ttl time.Duration, opts ...Option[C, R]) *Tracker[C, R] {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	t := &Tracker[C, R]{
		category: category,
		ttl:      ttl,
		now:      time.Now,
		entries:  make(map[string]*entry[C, R]),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Tracker[C, R]) Category() string { return t.category }

func (t *Tracker[C, R]) TTL() time.Duration { return t.ttl }

// Register stores a pending entry for key. An entry already waiting under key
// is replaced; its requester receives no reply for the original request.
// Register reports whether an entry was superseded.
func (t *Tracker[C, R]) Register(key string, conn transport.Conn, reqCtx C, done Callback[C, R]) bool {
	e := &entry[C, R]{
		key:       key,
		conn:      conn,
		reqCtx:    reqCtx,
		done:      done,
		createdAt: t.now(),
	}

	t.mu.Lock()
	old, superseded := t.entries[key]
	t.entries[key] = e
	t.mu.Unlock()

	log.Debug().
		Str("category", t.category).
		Str("key", key).
		Str("connId", conn.ID()).
		Msg("pending request registered")

	if superseded {
		log.Warn().
			Str("category", t.category).
			Str("key", key).
			Str("abandonedConnId", old.conn.ID()).
			Str("connId", conn.ID()).
			Msg("pending request superseded, previous requester will not receive a reply")
		t.abandon(old, OutcomeSuperseded)
	}

	return superseded
}

// Resolve removes the entry for key and hands reply to its callback if the
// waiting connection is still open. Unmatched replies are logged and
// reported as CORRELATION_MISS; they are never an error for the device.
func (t *Tracker[C, R]) Resolve(key string, reply R) error {
	e, ok := t.take(key)
	if !ok {
		log.Warn().
			Str("category", t.category).
			Str("key", key).
			Msg("device reply has no pending request, discarding")
		return apperrors.CorrelationMiss(key)
	}

	if !e.conn.IsOpen() {
		log.Debug().
			Str("category", t.category).
			Str("key", key).
			Str("connId", e.conn.ID()).
			Msg("requester disconnected before device reply, discarding")
		t.abandon(e, OutcomeOrphaned)
		return nil
	}

	t.invoke(e, reply, nil)
	return nil
}

// Expire removes the entry for key and tells the requester the device did not
// answer in time. It reports whether an entry existed.
func (t *Tracker[C, R]) Expire(key string) bool {
	e, ok := t.take(key)
	if !ok {
		return false
	}
	t.expire(e)
	return true
}

// ExpireStale expires every entry older than the tracker TTL and returns how
// many were expired.
func (t *Tracker[C, R]) ExpireStale() int {
	cutoff := t.now().Add(-t.ttl)

	t.mu.Lock()
	var stale []*entry[C, R]
	for key, e := range t.entries {
		if !e.createdAt.After(cutoff) {
			stale = append(stale, e)
			delete(t.entries, key)
		}
	}
	t.mu.Unlock()

	for _, e := range stale {
		t.expire(e)
	}
	return len(stale)
}

// Cancel removes the entry for key without notifying anyone. Used when the
// surrounding operation already failed on its own.
func (t *Tracker[C, R]) Cancel(key string) bool {
	_, ok := t.take(key)
	if ok {
		log.Debug().Str("category", t.category).Str("key", key).Msg("pending request canceled")
	}
	return ok
}

// ReleaseConn drops every entry waiting on conn, so a later reply cannot be
// resolved against a different requester reusing the same key.
func (t *Tracker[C, R]) ReleaseConn(conn transport.Conn) int {
	t.mu.Lock()
	var orphaned []*entry[C, R]
	for key, e := range t.entries {
		if e.conn.ID() == conn.ID() {
			orphaned = append(orphaned, e)
			delete(t.entries, key)
		}
	}
	t.mu.Unlock()

	for _, e := range orphaned {
		t.abandon(e, OutcomeOrphaned)
	}
	if len(orphaned) > 0 {
		log.Debug().
			Str("category", t.category).
			Str("connId", conn.ID()).
			Int("count", len(orphaned)).
			Msg("released pending requests of closed connection")
	}
	return len(orphaned)
}

// Has reports whether key has an outstanding entry.
func (t *Tracker[C, R]) Has(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.entries[key]
	return ok
}

func (t *Tracker[C, R]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

func (t *Tracker[C, R]) take(key string) (*entry[C, R], bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[key]
	if ok {
		delete(t.entries, key)
	}
	return e, ok
}

func (t *Tracker[C, R]) expire(e *entry[C, R]) {
	log.Warn().
		Str("category", t.category).
		Str("key", e.key).
		Str("connId", e.conn.ID()).
		Dur("age", t.now().Sub(e.createdAt)).
		Msg("pending request expired without device reply")

	if e.conn.IsOpen() {
		var zero R
		t.invoke(e, zero, apperrors.RequestTimeout())
	}
	t.abandon(e, OutcomeExpired)
}

func (t *Tracker[C, R]) invoke(e *entry[C, R], reply R, err error) {
	if e.done == nil {
		return
	}
	defer t.recoverPanic(e.key, "callback")
	e.done(e.conn, e.reqCtx, reply, err)
}

func (t *Tracker[C, R]) abandon(e *entry[C, R], outcome Outcome) {
	if t.onAbandon == nil {
		return
	}
	defer t.recoverPanic(e.key, "abandon hook")
	t.onAbandon(e.key, e.reqCtx, outcome)
}

func (t *Tracker[C, R]) recoverPanic(key, where string) {
	if r := recover(); r != nil {
		log.Error().
			Str("category", t.category).
			Str("key", key).
			Str("panic", fmt.Sprint(r)).
			Bytes("stack", debug.Stack()).
			Msgf("pending request %s panicked", where)
	}
}
