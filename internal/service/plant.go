package service

import (
	"context"
	"math"
	"strings"

	"github.com/rs/zerolog/log"

	apperrors "github.com/plantlink/garden-relay-go/internal/errors"
	"github.com/plantlink/garden-relay-go/internal/model"
	"github.com/plantlink/garden-relay-go/internal/repository"
	"github.com/plantlink/garden-relay-go/internal/util"
)

const (
	maxPlantName    = 80
	maxPlantSpecies = 80
	recentReadings  = 20
)

type PlantService struct {
	plants   repository.PlantRepository
	moisture repository.MoistureRepository
	gardens  *GardenService
}

func NewPlantService(plants repository.PlantRepository, moisture repository.MoistureRepository, gardens *GardenService) *PlantService {
	return &PlantService{
		plants:   plants,
		moisture: moisture,
		gardens:  gardens,
	}
}

// ValidateNew checks the fields of a plant about to be created.
func (s *PlantService) ValidateNew(name, species string) (string, string, error) {
	name = strings.TrimSpace(name)
	species = strings.TrimSpace(species)
	if !util.IsValidName(name, maxPlantName) {
		return "", "", apperrors.InvalidInput("name", "must be 1-80 characters")
	}
	if len(species) > maxPlantSpecies {
		return "", "", apperrors.InvalidInput("species", "must be at most 80 characters")
	}
	return name, species, nil
}

// CreatePending inserts a plant with no hardware. It stays invisible to
// listings until AssignHardware succeeds.
func (s *PlantService) CreatePending(ctx context.Context, gardenID, name, species, createdBy string) (*model.Plant, error) {
	plant, err := s.plants.Create(ctx, model.CreatePlantParams{
		GardenID:  gardenID,
		Name:      name,
		Species:   species,
		CreatedBy: createdBy,
	})
	if err != nil {
		return nil, apperrors.Database(err)
	}
	return plant, nil
}

func (s *PlantService) AssignHardware(ctx context.Context, plantID, hardwareID string) (*model.Plant, error) {
	plant, err := s.plants.SetHardwareID(ctx, plantID, hardwareID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if plant == nil {
		return nil, apperrors.NotFound("plant")
	}
	return plant, nil
}

// DiscardPending removes a plant whose hardware assignment never completed.
// An already assigned plant is left alone.
func (s *PlantService) DiscardPending(ctx context.Context, plantID string) {
	removed, err := s.plants.DeleteUnassigned(ctx, plantID)
	if err != nil {
		log.Error().Err(err).Str("plantId", plantID).Msg("failed to discard pending plant")
		return
	}
	if removed {
		log.Info().Str("plantId", plantID).Msg("discarded plant without hardware")
	}
}

// Authorize loads a plant and checks identity belongs to its garden.
func (s *PlantService) Authorize(ctx context.Context, plantID, identity string) (*model.Plant, error) {
	if !util.IsValidUUID(plantID) {
		return nil, apperrors.InvalidInput("plantId", "must be a UUID")
	}
	plant, err := s.plants.FindByID(ctx, plantID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if plant == nil || !plant.Assigned() {
		return nil, apperrors.NotFound("plant")
	}
	if _, err := s.gardens.Authorize(ctx, plant.GardenID, identity); err != nil {
		if apperrors.HasCode(err, apperrors.ErrCodeNotFound) {
			return nil, apperrors.NotFound("plant")
		}
		return nil, err
	}
	return plant, nil
}

func (s *PlantService) List(ctx context.Context, gardenID string) ([]model.Plant, error) {
	plants, err := s.plants.ListByGarden(ctx, gardenID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if plants == nil {
		plants = []model.Plant{}
	}
	return plants, nil
}

func (s *PlantService) Delete(ctx context.Context, plantID string) error {
	if err := s.plants.Delete(ctx, plantID); err != nil {
		return apperrors.Database(err)
	}
	return nil
}

func (s *PlantService) RecordMoisture(ctx context.Context, plantID string, moisture float64) (*model.MoistureReading, error) {
	if math.IsNaN(moisture) || math.IsInf(moisture, 0) || moisture < 0 {
		return nil, apperrors.InvalidInput("moisture", "must be a non-negative number")
	}
	reading, err := s.moisture.Record(ctx, plantID, moisture)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	return reading, nil
}

func (s *PlantService) RecentReadings(ctx context.Context, plantID string) ([]model.MoistureReading, error) {
	readings, err := s.moisture.ListRecent(ctx, plantID, recentReadings)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if readings == nil {
		readings = []model.MoistureReading{}
	}
	return readings, nil
}
