package handler

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/plantlink/garden-relay-go/internal/audit"
	apperrors "github.com/plantlink/garden-relay-go/internal/errors"
	"github.com/plantlink/garden-relay-go/internal/hardware"
	"github.com/plantlink/garden-relay-go/internal/router"
	"github.com/plantlink/garden-relay-go/internal/session"
	"github.com/plantlink/garden-relay-go/internal/transport"
	"github.com/plantlink/garden-relay-go/internal/util"
)

// DeviceHandler authenticates the device and installs its connection as the
// hardware link.
type DeviceHandler struct {
	link     *hardware.Link
	registry *session.Registry
	token    string
}

func NewDeviceHandler(link *hardware.Link, registry *session.Registry, token string) *DeviceHandler {
	return &DeviceHandler{
		link:     link,
		registry: registry,
		token:    token,
	}
}

func (h *DeviceHandler) Register(r *router.Router) {
	r.HandlePublic(hardware.TypeDeviceHello, h.Hello)
}

func (h *DeviceHandler) Hello(_ context.Context, conn transport.Conn, msg transport.Message) error {
	var req struct {
		Token    string `json:"token"`
		Firmware string `json:"firmware"`
	}
	if err := msg.Decode(&req); err != nil {
		return err
	}

	if req.Token == "" || !util.ConstantTimeEqual(req.Token, h.token) {
		audit.Log(audit.Event{Type: audit.EventDeviceRejected, ConnID: conn.ID()})
		return apperrors.Unauthorized("Invalid device token")
	}
	if identity, bound := h.registry.IdentityOf(conn); bound {
		return apperrors.Conflict("Connection is logged in as " + identity)
	}

	replaced := h.link.Attach(conn)

	details := map[string]interface{}{"firmware": req.Firmware}
	if replaced != nil {
		details["replacedConnId"] = replaced.ID()
	}
	audit.Log(audit.Event{Type: audit.EventDeviceAttach, ConnID: conn.ID(), Details: details})

	if err := reply(conn, hardware.TypeDeviceWelcome, map[string]any{"serverTime": time.Now().UTC()}); err != nil {
		log.Warn().Err(err).Str("connId", conn.ID()).Msg("device welcome not delivered")
	}
	return nil
}
