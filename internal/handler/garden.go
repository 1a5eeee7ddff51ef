package handler

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/plantlink/garden-relay-go/internal/audit"
	"github.com/plantlink/garden-relay-go/internal/broadcast"
	apperrors "github.com/plantlink/garden-relay-go/internal/errors"
	"github.com/plantlink/garden-relay-go/internal/model"
	"github.com/plantlink/garden-relay-go/internal/router"
	"github.com/plantlink/garden-relay-go/internal/service"
	"github.com/plantlink/garden-relay-go/internal/transport"
)

// PlantReleaser cleans up after plants removed along with their garden.
// Satisfied by PlantHandler.
type PlantReleaser interface {
	ReleasePlants(plants []model.Plant)
}

type GardenHandler struct {
	gardens     *service.GardenService
	broadcaster *broadcast.Broadcaster
	plants      PlantReleaser
}

func NewGardenHandler(gardens *service.GardenService, broadcaster *broadcast.Broadcaster, plants PlantReleaser) *GardenHandler {
	return &GardenHandler{
		gardens:     gardens,
		broadcaster: broadcaster,
		plants:      plants,
	}
}

func (h *GardenHandler) Register(r *router.Router) {
	r.Handle(TypeCreateGarden, h.Create)
	r.Handle(TypeListGardens, h.List)
	r.Handle(TypeAddMember, h.AddMember)
	r.Handle(TypeLeaveGarden, h.Leave)
	r.Handle(TypeDeleteGarden, h.Delete)
}

type gardenRequest struct {
	GardenID string `json:"gardenId"`
}

func (h *GardenHandler) Create(ctx context.Context, conn transport.Conn, msg transport.Message) error {
	var req struct {
		Name     string `json:"name"`
		Location string `json:"location"`
	}
	if err := msg.Decode(&req); err != nil {
		return err
	}

	garden, err := h.gardens.Create(ctx, router.IdentityFrom(ctx), req.Name, req.Location)
	if err != nil {
		return err
	}

	log.Info().
		Str("gardenId", garden.ID).
		Str("identity", garden.OwnerEmail).
		Msg("garden created")
	return reply(conn, TypeGardenCreated, map[string]any{"garden": garden})
}

func (h *GardenHandler) List(ctx context.Context, conn transport.Conn, _ transport.Message) error {
	gardens, err := h.gardens.ListForMember(ctx, router.IdentityFrom(ctx))
	if err != nil {
		return err
	}
	return reply(conn, TypeGardens, map[string]any{"gardens": gardens})
}

func (h *GardenHandler) AddMember(ctx context.Context, conn transport.Conn, msg transport.Message) error {
	var req struct {
		GardenID string `json:"gardenId"`
		Email    string `json:"email"`
	}
	if err := msg.Decode(&req); err != nil {
		return err
	}
	if req.GardenID == "" || req.Email == "" {
		return apperrors.MissingRequired("gardenId and email")
	}

	identity := router.IdentityFrom(ctx)
	member, err := h.gardens.AddMember(ctx, req.GardenID, identity, req.Email)
	if err != nil {
		return err
	}

	audit.Log(audit.Event{
		Type:     audit.EventMemberAdded,
		Identity: identity,
		ConnID:   conn.ID(),
		Details: map[string]interface{}{
			"gardenId": member.GardenID,
			"member":   member.Email,
		},
	})

	err = reply(conn, TypeMemberAdded, map[string]any{"member": member})
	h.broadcaster.NotifyBestEffort(ctx, member.GardenID, broadcast.EventMemberAdded, map[string]any{
		"gardenId": member.GardenID,
		"member":   member,
	}, identity)
	return err
}

func (h *GardenHandler) Leave(ctx context.Context, conn transport.Conn, msg transport.Message) error {
	var req gardenRequest
	if err := msg.Decode(&req); err != nil {
		return err
	}
	if req.GardenID == "" {
		return apperrors.MissingRequired("gardenId")
	}

	identity := router.IdentityFrom(ctx)
	if err := h.gardens.Leave(ctx, req.GardenID, identity); err != nil {
		return err
	}

	err := reply(conn, TypeGardenLeft, map[string]any{"gardenId": req.GardenID})
	// The leaver is no longer a member, so resolution excludes them already.
	h.broadcaster.NotifyBestEffort(ctx, req.GardenID, broadcast.EventMemberLeft, map[string]any{
		"gardenId": req.GardenID,
		"email":    identity,
	}, identity)
	return err
}

func (h *GardenHandler) Delete(ctx context.Context, conn transport.Conn, msg transport.Message) error {
	var req gardenRequest
	if err := msg.Decode(&req); err != nil {
		return err
	}
	if req.GardenID == "" {
		return apperrors.MissingRequired("gardenId")
	}

	identity := router.IdentityFrom(ctx)
	deletion, err := h.gardens.Delete(ctx, req.GardenID, identity)
	if err != nil {
		return err
	}
	h.plants.ReleasePlants(deletion.Plants)

	audit.Log(audit.Event{
		Type:     audit.EventGardenDeleted,
		Identity: identity,
		ConnID:   conn.ID(),
		Details: map[string]interface{}{
			"gardenId": req.GardenID,
			"members":  len(deletion.Members),
			"plants":   len(deletion.Plants),
		},
	})

	payload := map[string]any{"gardenId": req.GardenID}
	err = reply(conn, TypeGardenDeleted, payload)
	// Membership rows are gone with the garden; notify the snapshot instead.
	h.broadcaster.Deliver(deletion.Members, req.GardenID, broadcast.EventGardenDeleted, payload, identity)
	return err
}
