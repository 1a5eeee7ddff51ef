package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/plantlink/garden-relay-go/internal/config"
	"github.com/plantlink/garden-relay-go/internal/httputil"
)

// Pinger is satisfied by *database.DB.
type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	db       Pinger
	device   interface{ Connected() bool }
	sessions interface{ Count() int }
	started  time.Time
}

func NewHealthHandler(db Pinger, device interface{ Connected() bool }, sessions interface{ Count() int }) *HealthHandler {
	return &HealthHandler{
		db:       db,
		device:   device,
		sessions: sessions,
		started:  time.Now(),
	}
}

// GET /health
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), config.DBPingTimeout)
	defer cancel()

	status := http.StatusOK
	dbStatus := "ok"
	if err := h.db.Ping(ctx); err != nil {
		log.Error().Err(err).Msg("health check: database ping failed")
		status = http.StatusServiceUnavailable
		dbStatus = "unreachable"
	}

	httputil.WriteJSON(w, status, map[string]any{
		"status":          http.StatusText(status),
		"database":        dbStatus,
		"deviceConnected": h.device.Connected(),
		"sessions":        h.sessions.Count(),
		"uptimeSeconds":   int64(time.Since(h.started).Seconds()),
	})
}
