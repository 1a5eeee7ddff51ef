// Package repotest provides testify mocks of the repository interfaces.
package repotest

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/mock"

	"github.com/plantlink/garden-relay-go/internal/database"
	"github.com/plantlink/garden-relay-go/internal/model"
	"github.com/plantlink/garden-relay-go/internal/repository"
)

// TxRunner runs the callback with a nil transaction. Mocked repositories
// return themselves from WithTx, so the callback talks to the same mock.
type TxRunner struct{}

func (TxRunner) WithTx(ctx context.Context, fn database.TxFunc) error {
	return fn(nil)
}

type UserRepo struct {
	mock.Mock
}

var _ repository.UserRepository = (*UserRepo)(nil)

func (m *UserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.User), args.Error(1)
}

func (m *UserRepo) Create(ctx context.Context, params model.CreateUserParams) (*model.User, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.User), args.Error(1)
}

func (m *UserRepo) Exists(ctx context.Context, email string) (bool, error) {
	args := m.Called(ctx, email)
	return args.Bool(0), args.Error(1)
}

func (m *UserRepo) WithTx(_ *sqlx.Tx) repository.UserRepository {
	return m
}

type GardenRepo struct {
	mock.Mock
}

var _ repository.GardenRepository = (*GardenRepo)(nil)

func (m *GardenRepo) Create(ctx context.Context, params model.CreateGardenParams) (*model.Garden, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Garden), args.Error(1)
}

func (m *GardenRepo) FindByID(ctx context.Context, id string) (*model.Garden, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Garden), args.Error(1)
}

func (m *GardenRepo) ListForMember(ctx context.Context, email string) ([]model.GardenSummary, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.GardenSummary), args.Error(1)
}

func (m *GardenRepo) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *GardenRepo) AddMember(ctx context.Context, gardenID, email string, role model.MemberRole) error {
	args := m.Called(ctx, gardenID, email, role)
	return args.Error(0)
}

func (m *GardenRepo) RemoveMember(ctx context.Context, gardenID, email string) (bool, error) {
	args := m.Called(ctx, gardenID, email)
	return args.Bool(0), args.Error(1)
}

func (m *GardenRepo) FindMember(ctx context.Context, gardenID, email string) (*model.GardenMember, error) {
	args := m.Called(ctx, gardenID, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.GardenMember), args.Error(1)
}

func (m *GardenRepo) ListMemberEmails(ctx context.Context, gardenID string) ([]string, error) {
	args := m.Called(ctx, gardenID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *GardenRepo) WithTx(_ *sqlx.Tx) repository.GardenRepository {
	return m
}

type PlantRepo struct {
	mock.Mock
}

var _ repository.PlantRepository = (*PlantRepo)(nil)

func (m *PlantRepo) Create(ctx context.Context, params model.CreatePlantParams) (*model.Plant, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Plant), args.Error(1)
}

func (m *PlantRepo) FindByID(ctx context.Context, id string) (*model.Plant, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Plant), args.Error(1)
}

func (m *PlantRepo) ListByGarden(ctx context.Context, gardenID string) ([]model.Plant, error) {
	args := m.Called(ctx, gardenID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Plant), args.Error(1)
}

func (m *PlantRepo) SetHardwareID(ctx context.Context, id, hardwareID string) (*model.Plant, error) {
	args := m.Called(ctx, id, hardwareID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Plant), args.Error(1)
}

func (m *PlantRepo) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *PlantRepo) DeleteUnassigned(ctx context.Context, id string) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *PlantRepo) WithTx(_ *sqlx.Tx) repository.PlantRepository {
	return m
}

type MoistureRepo struct {
	mock.Mock
}

var _ repository.MoistureRepository = (*MoistureRepo)(nil)

func (m *MoistureRepo) Record(ctx context.Context, plantID string, moisture float64) (*model.MoistureReading, error) {
	args := m.Called(ctx, plantID, moisture)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.MoistureReading), args.Error(1)
}

func (m *MoistureRepo) Latest(ctx context.Context, plantID string) (*model.MoistureReading, error) {
	args := m.Called(ctx, plantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.MoistureReading), args.Error(1)
}

func (m *MoistureRepo) ListRecent(ctx context.Context, plantID string, limit int) ([]model.MoistureReading, error) {
	args := m.Called(ctx, plantID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.MoistureReading), args.Error(1)
}
