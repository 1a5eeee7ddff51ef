package service

import (
	"context"
	"errors"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/plantlink/garden-relay-go/internal/database"
	apperrors "github.com/plantlink/garden-relay-go/internal/errors"
	"github.com/plantlink/garden-relay-go/internal/model"
	"github.com/plantlink/garden-relay-go/internal/repository"
	"github.com/plantlink/garden-relay-go/internal/session"
	"github.com/plantlink/garden-relay-go/internal/util"
)

const (
	maxGardenName     = 80
	maxGardenLocation = 120

	pqUniqueViolation     = "23505"
	pqForeignKeyViolation = "23503"
)

// TxRunner is satisfied by *database.DB.
type TxRunner interface {
	WithTx(ctx context.Context, fn database.TxFunc) error
}

type GardenService struct {
	tx      TxRunner
	gardens repository.GardenRepository
	users   repository.UserRepository
	plants  repository.PlantRepository
}

func NewGardenService(
	tx TxRunner,
	gardens repository.GardenRepository,
	users repository.UserRepository,
	plants repository.PlantRepository,
) *GardenService {
	return &GardenService{
		tx:      tx,
		gardens: gardens,
		users:   users,
		plants:  plants,
	}
}

// GardenDeletion is what a deleted garden leaves behind: who to tell and
// which sensors the device can reclaim.
type GardenDeletion struct {
	Members []string
	Plants  []model.Plant
}

// Create inserts the garden and the owner's membership atomically.
func (s *GardenService) Create(ctx context.Context, owner, name, location string) (*model.Garden, error) {
	name = strings.TrimSpace(name)
	location = strings.TrimSpace(location)
	if !util.IsValidName(name, maxGardenName) {
		return nil, apperrors.InvalidInput("name", "must be 1-80 characters")
	}
	if len(location) > maxGardenLocation {
		return nil, apperrors.InvalidInput("location", "must be at most 120 characters")
	}

	var garden *model.Garden
	err := s.tx.WithTx(ctx, func(tx *sqlx.Tx) error {
		repo := s.gardens.WithTx(tx)
		created, err := repo.Create(ctx, model.CreateGardenParams{
			Name:       name,
			Location:   location,
			OwnerEmail: owner,
		})
		if err != nil {
			return err
		}
		if err := repo.AddMember(ctx, created.ID, owner, model.MemberRoleOwner); err != nil {
			return err
		}
		garden = created
		return nil
	})
	if err != nil {
		return nil, apperrors.Database(err)
	}
	return garden, nil
}

func (s *GardenService) ListForMember(ctx context.Context, identity string) ([]model.GardenSummary, error) {
	gardens, err := s.gardens.ListForMember(ctx, identity)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if gardens == nil {
		gardens = []model.GardenSummary{}
	}
	return gardens, nil
}

// Authorize returns the caller's membership in gardenID. Non-members get
// NOT_FOUND so garden ids cannot be probed.
func (s *GardenService) Authorize(ctx context.Context, gardenID, identity string) (*model.GardenMember, error) {
	if !util.IsValidUUID(gardenID) {
		return nil, apperrors.InvalidInput("gardenId", "must be a UUID")
	}
	member, err := s.gardens.FindMember(ctx, gardenID, identity)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if member == nil {
		return nil, apperrors.NotFound("garden")
	}
	return member, nil
}

// MemberIdentities lists every member of gardenID. It satisfies
// broadcast.MembershipResolver.
func (s *GardenService) MemberIdentities(ctx context.Context, gardenID string) ([]string, error) {
	return s.gardens.ListMemberEmails(ctx, gardenID)
}

// AddMember lets the owner invite an existing user.
func (s *GardenService) AddMember(ctx context.Context, gardenID, requester, email string) (*model.GardenMember, error) {
	if err := s.requireOwner(ctx, gardenID, requester); err != nil {
		return nil, err
	}

	email = session.NormalizeIdentity(email)
	if !util.IsValidEmail(email) {
		return nil, apperrors.InvalidInput("email", "must be a valid email address")
	}

	exists, err := s.users.Exists(ctx, email)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if !exists {
		return nil, apperrors.NotFound("user")
	}

	if err := s.gardens.AddMember(ctx, gardenID, email, model.MemberRoleMember); err != nil {
		if pqCode(err) == pqUniqueViolation {
			return nil, apperrors.AlreadyExists("member")
		}
		if pqCode(err) == pqForeignKeyViolation {
			return nil, apperrors.NotFound("garden")
		}
		return nil, apperrors.Database(err)
	}

	member, err := s.gardens.FindMember(ctx, gardenID, email)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if member == nil {
		return nil, apperrors.NotFound("member")
	}
	return member, nil
}

// Leave removes identity from gardenID. The owner cannot leave; they delete
// the garden instead.
func (s *GardenService) Leave(ctx context.Context, gardenID, identity string) error {
	member, err := s.Authorize(ctx, gardenID, identity)
	if err != nil {
		return err
	}
	if member.Role == model.MemberRoleOwner {
		return apperrors.Conflict("The owner cannot leave a garden; delete it instead")
	}

	removed, err := s.gardens.RemoveMember(ctx, gardenID, identity)
	if err != nil {
		return apperrors.Database(err)
	}
	if !removed {
		return apperrors.NotFound("garden")
	}
	return nil
}

// Delete removes the garden with its plants. Members and plants are
// captured in the same transaction, right before the cascade removes them.
func (s *GardenService) Delete(ctx context.Context, gardenID, requester string) (*GardenDeletion, error) {
	if err := s.requireOwner(ctx, gardenID, requester); err != nil {
		return nil, err
	}

	deletion := &GardenDeletion{}
	err := s.tx.WithTx(ctx, func(tx *sqlx.Tx) error {
		repo := s.gardens.WithTx(tx)
		var err error
		deletion.Members, err = repo.ListMemberEmails(ctx, gardenID)
		if err != nil {
			return err
		}
		deletion.Plants, err = s.plants.WithTx(tx).ListByGarden(ctx, gardenID)
		if err != nil {
			return err
		}
		return repo.Delete(ctx, gardenID)
	})
	if err != nil {
		return nil, apperrors.Database(err)
	}
	return deletion, nil
}

func (s *GardenService) requireOwner(ctx context.Context, gardenID, identity string) error {
	member, err := s.Authorize(ctx, gardenID, identity)
	if err != nil {
		return err
	}
	if member.Role != model.MemberRoleOwner {
		return apperrors.Forbidden("Only the garden owner can do this")
	}
	return nil
}

func pqCode(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}
