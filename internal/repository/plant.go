package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/plantlink/garden-relay-go/internal/database"
	"github.com/plantlink/garden-relay-go/internal/model"
)

type PlantRepository interface {
	Create(ctx context.Context, params model.CreatePlantParams) (*model.Plant, error)
	FindByID(ctx context.Context, id string) (*model.Plant, error)
	ListByGarden(ctx context.Context, gardenID string) ([]model.Plant, error)
	SetHardwareID(ctx context.Context, id, hardwareID string) (*model.Plant, error)
	Delete(ctx context.Context, id string) error
	// DeleteUnassigned removes a plant only while it still has no hardware.
	DeleteUnassigned(ctx context.Context, id string) (bool, error)
	WithTx(tx *sqlx.Tx) PlantRepository
}

type plantRepo struct {
	db database.DBTX
}

func NewPlantRepository(db *sqlx.DB) PlantRepository {
	return &plantRepo{db: db}
}

func (r *plantRepo) WithTx(tx *sqlx.Tx) PlantRepository {
	return &plantRepo{db: tx}
}

func (r *plantRepo) Create(ctx context.Context, params model.CreatePlantParams) (*model.Plant, error) {
	var plant model.Plant
	err := r.db.GetContext(ctx, &plant, `
		INSERT INTO plants (garden_id, name, species, created_by)
		VALUES ($1, $2, $3, $4)
		RETURNING *
	`, params.GardenID, params.Name, params.Species, params.CreatedBy)
	if err != nil {
		return nil, err
	}
	return &plant, nil
}

func (r *plantRepo) FindByID(ctx context.Context, id string) (*model.Plant, error) {
	var plant model.Plant
	err := r.db.GetContext(ctx, &plant, `SELECT * FROM plants WHERE id = $1`, id)
	return HandleNotFound(&plant, err)
}

func (r *plantRepo) ListByGarden(ctx context.Context, gardenID string) ([]model.Plant, error) {
	var plants []model.Plant
	err := r.db.SelectContext(ctx, &plants, `
		SELECT * FROM plants
		WHERE garden_id = $1 AND hardware_id IS NOT NULL
		ORDER BY created_at ASC
	`, gardenID)
	if err != nil {
		return nil, err
	}
	return plants, nil
}

func (r *plantRepo) SetHardwareID(ctx context.Context, id, hardwareID string) (*model.Plant, error) {
	var plant model.Plant
	err := r.db.GetContext(ctx, &plant, `
		UPDATE plants SET hardware_id = $2 WHERE id = $1
		RETURNING *
	`, id, hardwareID)
	return HandleNotFound(&plant, err)
}

func (r *plantRepo) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM plants WHERE id = $1`, id)
	return err
}

func (r *plantRepo) DeleteUnassigned(ctx context.Context, id string) (bool, error) {
	return Affected(r.db.ExecContext(ctx, `
		DELETE FROM plants WHERE id = $1 AND hardware_id IS NULL
	`, id))
}
