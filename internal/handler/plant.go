package handler

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/plantlink/garden-relay-go/internal/broadcast"
	"github.com/plantlink/garden-relay-go/internal/config"
	apperrors "github.com/plantlink/garden-relay-go/internal/errors"
	"github.com/plantlink/garden-relay-go/internal/hardware"
	"github.com/plantlink/garden-relay-go/internal/model"
	"github.com/plantlink/garden-relay-go/internal/pending"
	"github.com/plantlink/garden-relay-go/internal/router"
	"github.com/plantlink/garden-relay-go/internal/service"
	"github.com/plantlink/garden-relay-go/internal/transport"
)

const (
	categoryAssign   = "hardware-assign"
	categoryMoisture = "moisture-read"
)

// assignRequest is what an ADD_PLANT requester waits on.
type assignRequest struct {
	PlantID  string
	GardenID string
	Identity string
}

// hardwareAssigned is the device's answer to ASSIGN_HARDWARE. The callback
// sets claimed once the hardware id is stored on the plant.
type hardwareAssigned struct {
	PlantID    string `json:"plantId"`
	HardwareID string `json:"hardwareId"`
	Success    bool   `json:"success"`
	Error      string `json:"error,omitempty"`

	claimed bool
}

type moistureRequest struct {
	Plant    *model.Plant
	Identity string
}

type moistureReading struct {
	PlantID  string  `json:"plantId"`
	Moisture float64 `json:"moisture"`
	Success  bool    `json:"success"`
	Error    string  `json:"error,omitempty"`
}

// PlantHandler serves plant requests and correlates the device replies they
// trigger.
type PlantHandler struct {
	plants      *service.PlantService
	gardens     *service.GardenService
	link        *hardware.Link
	broadcaster *broadcast.Broadcaster

	assign   *pending.Tracker[assignRequest, *hardwareAssigned]
	moisture *pending.Tracker[moistureRequest, moistureReading]
}

func NewPlantHandler(
	plants *service.PlantService,
	gardens *service.GardenService,
	link *hardware.Link,
	broadcaster *broadcast.Broadcaster,
	replyTimeout time.Duration,
) *PlantHandler {
	h := &PlantHandler{
		plants:      plants,
		gardens:     gardens,
		link:        link,
		broadcaster: broadcaster,
	}
	h.assign = pending.New[assignRequest, *hardwareAssigned](categoryAssign, replyTimeout,
		pending.WithAbandonHook[assignRequest, *hardwareAssigned](h.abandonAssignment),
	)
	h.moisture = pending.New[moistureRequest, moistureReading](categoryMoisture, replyTimeout)
	return h
}

func (h *PlantHandler) Register(r *router.Router) {
	r.Handle(TypeListPlants, h.List)
	r.Handle(TypeAddPlant, h.Add)
	r.Handle(TypeDeletePlant, h.Delete)
	r.Handle(TypeReadMoisture, h.ReadMoisture)

	r.HandleDevice(hardware.TypeHardwareAssigned, h.HardwareAssigned)
	r.HandleDevice(hardware.TypeMoistureReading, h.MoistureReading)

	r.AddSweeper(h.assign, h.moisture)
}

func (h *PlantHandler) List(ctx context.Context, conn transport.Conn, msg transport.Message) error {
	var req gardenRequest
	if err := msg.Decode(&req); err != nil {
		return err
	}
	if req.GardenID == "" {
		return apperrors.MissingRequired("gardenId")
	}

	if _, err := h.gardens.Authorize(ctx, req.GardenID, router.IdentityFrom(ctx)); err != nil {
		return err
	}
	plants, err := h.plants.List(ctx, req.GardenID)
	if err != nil {
		return err
	}
	return reply(conn, TypePlants, map[string]any{"gardenId": req.GardenID, "plants": plants})
}

// Add creates the plant row and asks the device for a sensor. The requester
// gets ADD_PLANT_RESULT only once the device answers.
func (h *PlantHandler) Add(ctx context.Context, conn transport.Conn, msg transport.Message) error {
	var req struct {
		GardenID string `json:"gardenId"`
		Name     string `json:"name"`
		Species  string `json:"species"`
	}
	if err := msg.Decode(&req); err != nil {
		return err
	}
	if req.GardenID == "" {
		return apperrors.MissingRequired("gardenId")
	}

	identity := router.IdentityFrom(ctx)
	if _, err := h.gardens.Authorize(ctx, req.GardenID, identity); err != nil {
		return err
	}
	name, species, err := h.plants.ValidateNew(req.Name, req.Species)
	if err != nil {
		return err
	}
	if !h.link.Connected() {
		return apperrors.DeviceUnavailable()
	}

	plant, err := h.plants.CreatePending(ctx, req.GardenID, name, species, identity)
	if err != nil {
		return err
	}

	h.assign.Register(plant.ID, conn, assignRequest{
		PlantID:  plant.ID,
		GardenID: plant.GardenID,
		Identity: identity,
	}, h.completeAssignment)

	if err := h.link.Send(transport.MustMessage(hardware.TypeAssignHardware, map[string]string{
		"plantId": plant.ID,
	})); err != nil {
		h.assign.Cancel(plant.ID)
		h.plants.DiscardPending(ctx, plant.ID)
		return err
	}

	log.Info().
		Str("plantId", plant.ID).
		Str("gardenId", plant.GardenID).
		Str("identity", identity).
		Msg("hardware assignment requested")
	return nil
}

func (h *PlantHandler) Delete(ctx context.Context, conn transport.Conn, msg transport.Message) error {
	var req struct {
		PlantID string `json:"plantId"`
	}
	if err := msg.Decode(&req); err != nil {
		return err
	}
	if req.PlantID == "" {
		return apperrors.MissingRequired("plantId")
	}

	identity := router.IdentityFrom(ctx)
	plant, err := h.plants.Authorize(ctx, req.PlantID, identity)
	if err != nil {
		return err
	}
	if err := h.plants.Delete(ctx, plant.ID); err != nil {
		return err
	}
	h.ReleasePlants([]model.Plant{*plant})

	payload := map[string]any{"plantId": plant.ID, "gardenId": plant.GardenID}
	err = reply(conn, TypePlantDeleted, payload)
	h.broadcaster.NotifyBestEffort(ctx, plant.GardenID, broadcast.EventPlantDeleted, payload, identity)
	return err
}

// ReleasePlants forgets deleted plants: pending moisture reads are dropped
// and each sensor is handed back to the device. Waiting requesters learn
// about the deletion from the PLANT_DELETED or GARDEN_DELETED event.
func (h *PlantHandler) ReleasePlants(plants []model.Plant) {
	for _, plant := range plants {
		h.moisture.Cancel(plant.ID)
		if plant.Assigned() {
			h.releaseHardware(plant.ID, *plant.HardwareID)
		}
	}
}

// ReadMoisture asks the device for a fresh reading of an assigned plant.
func (h *PlantHandler) ReadMoisture(ctx context.Context, conn transport.Conn, msg transport.Message) error {
	var req struct {
		PlantID string `json:"plantId"`
	}
	if err := msg.Decode(&req); err != nil {
		return err
	}
	if req.PlantID == "" {
		return apperrors.MissingRequired("plantId")
	}

	identity := router.IdentityFrom(ctx)
	plant, err := h.plants.Authorize(ctx, req.PlantID, identity)
	if err != nil {
		return err
	}
	if !h.link.Connected() {
		return apperrors.DeviceUnavailable()
	}

	h.moisture.Register(plant.ID, conn, moistureRequest{Plant: plant, Identity: identity}, h.completeReading)

	if err := h.link.Send(transport.MustMessage(hardware.TypeReadMoisture, map[string]string{
		"plantId":    plant.ID,
		"hardwareId": *plant.HardwareID,
	})); err != nil {
		h.moisture.Cancel(plant.ID)
		return err
	}
	return nil
}

// HardwareAssigned resolves a pending ADD_PLANT. A successful assignment
// nobody claims is handed back to the device so the sensor is not leaked.
func (h *PlantHandler) HardwareAssigned(_ context.Context, _ transport.Conn, msg transport.Message) error {
	var resp hardwareAssigned
	if err := msg.Decode(&resp); err != nil {
		return err
	}
	if resp.PlantID == "" {
		return apperrors.InvalidMessage("plantId missing")
	}

	err := h.assign.Resolve(resp.PlantID, &resp)
	if resp.Success && resp.HardwareID != "" && !resp.claimed {
		h.releaseHardware(resp.PlantID, resp.HardwareID)
	}
	return err
}

func (h *PlantHandler) MoistureReading(_ context.Context, _ transport.Conn, msg transport.Message) error {
	var resp moistureReading
	if err := msg.Decode(&resp); err != nil {
		return err
	}
	if resp.PlantID == "" {
		return apperrors.InvalidMessage("plantId missing")
	}
	return h.moisture.Resolve(resp.PlantID, resp)
}

func (h *PlantHandler) completeAssignment(conn transport.Conn, req assignRequest, resp *hardwareAssigned, err error) {
	if err != nil {
		sendError(conn, TypeAddPlant, err)
		return
	}

	ctx, cancel := detachedContext(config.MessageHandlerTimeout)
	defer cancel()

	if !resp.Success || resp.HardwareID == "" {
		h.plants.DiscardPending(ctx, req.PlantID)
		reason := resp.Error
		if reason == "" {
			reason = "no hardware available"
		}
		log.Warn().Str("plantId", req.PlantID).Str("reason", reason).Msg("device refused hardware assignment")
		sendError(conn, TypeAddPlant, apperrors.DeviceFailure(reason))
		return
	}

	plant, err := h.plants.AssignHardware(ctx, req.PlantID, resp.HardwareID)
	if err != nil {
		h.plants.DiscardPending(ctx, req.PlantID)
		sendError(conn, TypeAddPlant, err)
		return
	}
	resp.claimed = true

	log.Info().
		Str("plantId", plant.ID).
		Str("hardwareId", resp.HardwareID).
		Msg("hardware assigned")

	if err := reply(conn, TypeAddPlantResult, map[string]any{"success": true, "plant": plant}); err != nil {
		log.Debug().Err(err).Str("connId", conn.ID()).Msg("add plant result not delivered")
	}
	h.broadcaster.NotifyBestEffort(ctx, plant.GardenID, broadcast.EventPlantAdded, map[string]any{
		"gardenId": plant.GardenID,
		"plant":    plant,
	}, req.Identity)
}

// abandonAssignment rolls back the plant row of an ADD_PLANT nobody will
// hear about.
func (h *PlantHandler) abandonAssignment(key string, req assignRequest, outcome pending.Outcome) {
	log.Info().
		Str("plantId", key).
		Str("outcome", string(outcome)).
		Msg("hardware assignment abandoned")

	ctx, cancel := detachedContext(config.MessageHandlerTimeout)
	defer cancel()
	h.plants.DiscardPending(ctx, req.PlantID)
}

func (h *PlantHandler) completeReading(conn transport.Conn, req moistureRequest, resp moistureReading, err error) {
	if err != nil {
		sendError(conn, TypeReadMoisture, err)
		return
	}
	if !resp.Success {
		reason := resp.Error
		if reason == "" {
			reason = "sensor read failed"
		}
		sendError(conn, TypeReadMoisture, apperrors.DeviceFailure(reason))
		return
	}

	ctx, cancel := detachedContext(config.MessageHandlerTimeout)
	defer cancel()

	plant := req.Plant
	reading, err := h.plants.RecordMoisture(ctx, plant.ID, resp.Moisture)
	if err != nil {
		sendError(conn, TypeReadMoisture, err)
		return
	}
	history, err := h.plants.RecentReadings(ctx, plant.ID)
	if err != nil {
		log.Warn().Err(err).Str("plantId", plant.ID).Msg("failed to load moisture history")
		history = []model.MoistureReading{*reading}
	}

	if err := reply(conn, TypeMoistureResult, map[string]any{
		"plantId": plant.ID,
		"reading": reading,
		"history": history,
	}); err != nil {
		log.Debug().Err(err).Str("connId", conn.ID()).Msg("moisture result not delivered")
	}
	h.broadcaster.NotifyBestEffort(ctx, plant.GardenID, broadcast.EventMoistureUpdated, map[string]any{
		"gardenId": plant.GardenID,
		"plantId":  plant.ID,
		"reading":  reading,
	}, req.Identity)
}

func (h *PlantHandler) releaseHardware(plantID, hardwareID string) {
	err := h.link.Send(transport.MustMessage(hardware.TypeReleaseHardware, map[string]string{
		"plantId":    plantID,
		"hardwareId": hardwareID,
	}))
	if err != nil {
		log.Warn().
			Err(err).
			Str("plantId", plantID).
			Str("hardwareId", hardwareID).
			Msg("could not release hardware")
	}
}
