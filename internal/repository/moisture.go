package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/plantlink/garden-relay-go/internal/database"
	"github.com/plantlink/garden-relay-go/internal/model"
)

type MoistureRepository interface {
	Record(ctx context.Context, plantID string, moisture float64) (*model.MoistureReading, error)
	Latest(ctx context.Context, plantID string) (*model.MoistureReading, error)
	ListRecent(ctx context.Context, plantID string, limit int) ([]model.MoistureReading, error)
}

type moistureRepo struct {
	db database.DBTX
}

func NewMoistureRepository(db *sqlx.DB) MoistureRepository {
	return &moistureRepo{db: db}
}

func (r *moistureRepo) Record(ctx context.Context, plantID string, moisture float64) (*model.MoistureReading, error) {
	var reading model.MoistureReading
	err := r.db.GetContext(ctx, &reading, `
		INSERT INTO moisture_readings (plant_id, moisture)
		VALUES ($1, $2)
		RETURNING *
	`, plantID, moisture)
	if err != nil {
		return nil, err
	}
	return &reading, nil
}

func (r *moistureRepo) Latest(ctx context.Context, plantID string) (*model.MoistureReading, error) {
	var reading model.MoistureReading
	err := r.db.GetContext(ctx, &reading, `
		SELECT * FROM moisture_readings
		WHERE plant_id = $1
		ORDER BY recorded_at DESC
		LIMIT 1
	`, plantID)
	return HandleNotFound(&reading, err)
}

func (r *moistureRepo) ListRecent(ctx context.Context, plantID string, limit int) ([]model.MoistureReading, error) {
	var readings []model.MoistureReading
	err := r.db.SelectContext(ctx, &readings, `
		SELECT * FROM moisture_readings
		WHERE plant_id = $1
		ORDER BY recorded_at DESC
		LIMIT $2
	`, plantID, limit)
	if err != nil {
		return nil, err
	}
	return readings, nil
}
