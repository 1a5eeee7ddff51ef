package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/plantlink/garden-relay-go/internal/database"
	"github.com/plantlink/garden-relay-go/internal/model"
)

// GardenRepository owns gardens and their membership rows.
type GardenRepository interface {
	Create(ctx context.Context, params model.CreateGardenParams) (*model.Garden, error)
	FindByID(ctx context.Context, id string) (*model.Garden, error)
	ListForMember(ctx context.Context, email string) ([]model.GardenSummary, error)
	Delete(ctx context.Context, id string) error

	AddMember(ctx context.Context, gardenID, email string, role model.MemberRole) error
	RemoveMember(ctx context.Context, gardenID, email string) (bool, error)
	FindMember(ctx context.Context, gardenID, email string) (*model.GardenMember, error)
	ListMemberEmails(ctx context.Context, gardenID string) ([]string, error)

	WithTx(tx *sqlx.Tx) GardenRepository
}

type gardenRepo struct {
	db database.DBTX
}

func NewGardenRepository(db *sqlx.DB) GardenRepository {
	return &gardenRepo{db: db}
}

func (r *gardenRepo) WithTx(tx *sqlx.Tx) GardenRepository {
	return &gardenRepo{db: tx}
}

func (r *gardenRepo) Create(ctx context.Context, params model.CreateGardenParams) (*model.Garden, error) {
	var garden model.Garden
	err := r.db.GetContext(ctx, &garden, `
		INSERT INTO gardens (name, location, owner_email)
		VALUES ($1, $2, $3)
		RETURNING *
	`, params.Name, params.Location, params.OwnerEmail)
	if err != nil {
		return nil, err
	}
	return &garden, nil
}

func (r *gardenRepo) FindByID(ctx context.Context, id string) (*model.Garden, error) {
	var garden model.Garden
	err := r.db.GetContext(ctx, &garden, `SELECT * FROM gardens WHERE id = $1`, id)
	return HandleNotFound(&garden, err)
}

func (r *gardenRepo) ListForMember(ctx context.Context, email string) ([]model.GardenSummary, error) {
	var gardens []model.GardenSummary
	err := r.db.SelectContext(ctx, &gardens, `
		SELECT g.*, m.role,
			(SELECT COUNT(*) FROM garden_members c WHERE c.garden_id = g.id) AS member_count
		FROM gardens g
		JOIN garden_members m ON m.garden_id = g.id
		WHERE m.email = $1
		ORDER BY g.created_at ASC
	`, email)
	if err != nil {
		return nil, err
	}
	return gardens, nil
}

func (r *gardenRepo) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM gardens WHERE id = $1`, id)
	return err
}

func (r *gardenRepo) AddMember(ctx context.Context, gardenID, email string, role model.MemberRole) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO garden_members (garden_id, email, role)
		VALUES ($1, $2, $3)
	`, gardenID, email, role)
	return err
}

func (r *gardenRepo) RemoveMember(ctx context.Context, gardenID, email string) (bool, error) {
	return Affected(r.db.ExecContext(ctx, `
		DELETE FROM garden_members WHERE garden_id = $1 AND email = $2
	`, gardenID, email))
}

func (r *gardenRepo) FindMember(ctx context.Context, gardenID, email string) (*model.GardenMember, error) {
	var member model.GardenMember
	err := r.db.GetContext(ctx, &member, `
		SELECT * FROM garden_members WHERE garden_id = $1 AND email = $2
	`, gardenID, email)
	return HandleNotFound(&member, err)
}

func (r *gardenRepo) ListMemberEmails(ctx context.Context, gardenID string) ([]string, error) {
	var emails []string
	err := r.db.SelectContext(ctx, &emails, `
		SELECT email FROM garden_members WHERE garden_id = $1 ORDER BY joined_at ASC
	`, gardenID)
	if err != nil {
		return nil, err
	}
	return emails, nil
}
