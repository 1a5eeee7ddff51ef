package handler

import (
	"context"
	"time"

	"github.com/plantlink/garden-relay-go/internal/audit"
	apperrors "github.com/plantlink/garden-relay-go/internal/errors"
	"github.com/plantlink/garden-relay-go/internal/hardware"
	"github.com/plantlink/garden-relay-go/internal/router"
	"github.com/plantlink/garden-relay-go/internal/service"
	"github.com/plantlink/garden-relay-go/internal/session"
	"github.com/plantlink/garden-relay-go/internal/transport"
)

type AuthHandler struct {
	auth     *service.AuthService
	registry *session.Registry
	link     *hardware.Link
}

func NewAuthHandler(auth *service.AuthService, registry *session.Registry, link *hardware.Link) *AuthHandler {
	return &AuthHandler{
		auth:     auth,
		registry: registry,
		link:     link,
	}
}

func (h *AuthHandler) Register(r *router.Router) {
	r.HandlePublic(TypePing, h.Ping)
	r.HandlePublic(TypeSignup, h.Signup)
	r.HandlePublic(TypeLogin, h.Login)
	r.HandlePublic(TypeLoginToken, h.LoginToken)
	r.Handle(TypeLogout, h.Logout)
}

func (h *AuthHandler) Ping(_ context.Context, conn transport.Conn, _ transport.Message) error {
	return reply(conn, TypePong, map[string]any{"time": time.Now().UTC()})
}

func (h *AuthHandler) Signup(ctx context.Context, conn transport.Conn, msg transport.Message) error {
	var req struct {
		Email       string `json:"email"`
		Password    string `json:"password"`
		DisplayName string `json:"displayName"`
	}
	if err := msg.Decode(&req); err != nil {
		return err
	}

	if err := h.rejectDevice(conn); err != nil {
		return err
	}

	result, err := h.auth.Signup(ctx, req.Email, req.Password, req.DisplayName)
	if err != nil {
		return err
	}

	audit.Log(audit.Event{Type: audit.EventSignup, Identity: result.Email, ConnID: conn.ID()})
	return h.establish(conn, result)
}

func (h *AuthHandler) Login(ctx context.Context, conn transport.Conn, msg transport.Message) error {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := msg.Decode(&req); err != nil {
		return err
	}
	if req.Email == "" || req.Password == "" {
		return apperrors.MissingRequired("email and password")
	}

	if err := h.rejectDevice(conn); err != nil {
		return err
	}

	result, err := h.auth.Login(ctx, req.Email, req.Password)
	if err != nil {
		if apperrors.HasCode(err, apperrors.ErrCodeInvalidCredentials) {
			audit.Log(audit.Event{
				Type:     audit.EventLoginFailure,
				Identity: session.NormalizeIdentity(req.Email),
				ConnID:   conn.ID(),
			})
		}
		return err
	}

	audit.Log(audit.Event{Type: audit.EventLoginSuccess, Identity: result.Email, ConnID: conn.ID()})
	return h.establish(conn, result)
}

func (h *AuthHandler) LoginToken(ctx context.Context, conn transport.Conn, msg transport.Message) error {
	var req struct {
		Token string `json:"token"`
	}
	if err := msg.Decode(&req); err != nil {
		return err
	}
	if req.Token == "" {
		return apperrors.MissingRequired("token")
	}

	if err := h.rejectDevice(conn); err != nil {
		return err
	}

	result, err := h.auth.LoginWithToken(ctx, req.Token)
	if err != nil {
		audit.Log(audit.Event{
			Type:    audit.EventTokenRejected,
			ConnID:  conn.ID(),
			Details: map[string]interface{}{"code": string(apperrors.GetCode(err))},
		})
		return err
	}

	audit.Log(audit.Event{Type: audit.EventTokenLogin, Identity: result.Email, ConnID: conn.ID()})
	return h.establish(conn, result)
}

func (h *AuthHandler) Logout(ctx context.Context, conn transport.Conn, msg transport.Message) error {
	var req struct {
		Token string `json:"token"`
	}
	if err := msg.Decode(&req); err != nil {
		return err
	}

	identity := router.IdentityFrom(ctx)
	if err := h.auth.Logout(ctx, req.Token); err != nil {
		return err
	}
	h.registry.Unbind(conn)

	audit.Log(audit.Event{Type: audit.EventLogout, Identity: identity, ConnID: conn.ID()})
	return reply(conn, TypeLogoutResult, map[string]bool{"success": true})
}

// establish binds the connection to the authenticated identity and sends the
// login result. A previous live connection of the same identity stays open
// but stops receiving notifications.
func (h *AuthHandler) establish(conn transport.Conn, result *service.LoginResult) error {
	if previous, ok := h.registry.ConnectionOf(result.Email); ok && previous.ID() != conn.ID() {
		audit.Log(audit.Event{
			Type:     audit.EventSessionReplaced,
			Identity: result.Email,
			ConnID:   conn.ID(),
			Details:  map[string]interface{}{"previousConnId": previous.ID()},
		})
	}

	h.registry.Bind(conn, result.Email)
	return reply(conn, TypeLoginResult, result)
}

// rejectDevice keeps the device link from also acting as a user session.
func (h *AuthHandler) rejectDevice(conn transport.Conn) error {
	if h.link != nil && h.link.IsCurrent(conn) {
		return apperrors.Conflict("Device connection cannot log in")
	}
	return nil
}
