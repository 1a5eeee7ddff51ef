package handler

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/plantlink/garden-relay-go/internal/broadcast"
	"github.com/plantlink/garden-relay-go/internal/hardware"
	"github.com/plantlink/garden-relay-go/internal/model"
	"github.com/plantlink/garden-relay-go/internal/repository/repotest"
	"github.com/plantlink/garden-relay-go/internal/router"
	"github.com/plantlink/garden-relay-go/internal/service"
	"github.com/plantlink/garden-relay-go/internal/session"
	"github.com/plantlink/garden-relay-go/internal/transport"
	"github.com/plantlink/garden-relay-go/internal/transport/transporttest"
)

const (
	gardenID = "550e8400-e29b-41d4-a716-446655440000"
	plantID  = "6ba7b810-9dad-11d1-80b4-00c04fd430c8"
	ann      = "ann@x.com"
	bob      = "bob@x.com"
)

type fixture struct {
	users    *repotest.UserRepo
	gardens  *repotest.GardenRepo
	plants   *repotest.PlantRepo
	moisture *repotest.MoistureRepo

	registry    *session.Registry
	link        *hardware.Link
	broadcaster *broadcast.Broadcaster
	gardenSvc   *service.GardenService
	plantSvc    *service.PlantService
}

func newFixture() *fixture {
	f := &fixture{
		users:    new(repotest.UserRepo),
		gardens:  new(repotest.GardenRepo),
		plants:   new(repotest.PlantRepo),
		moisture: new(repotest.MoistureRepo),
		registry: session.NewRegistry(),
		link:     hardware.NewLink(),
	}
	f.gardenSvc = service.NewGardenService(repotest.TxRunner{}, f.gardens, f.users, f.plants)
	f.plantSvc = service.NewPlantService(f.plants, f.moisture, f.gardenSvc)
	f.broadcaster = broadcast.NewBroadcaster(f.gardenSvc, f.registry)
	return f
}

func (f *fixture) plantHandler() *PlantHandler {
	return NewPlantHandler(f.plantSvc, f.gardenSvc, f.link, f.broadcaster, time.Minute)
}

// login binds a fresh connection to identity.
func (f *fixture) login(identity string) *transporttest.Conn {
	conn := transporttest.NewConn("conn-" + identity)
	f.registry.Bind(conn, identity)
	return conn
}

// attachDevice installs a fresh device link.
func (f *fixture) attachDevice() *transporttest.Conn {
	device := transporttest.NewConn("device")
	f.link.Attach(device)
	return device
}

func (f *fixture) memberOf(identity string, role model.MemberRole) {
	f.gardens.On("FindMember", mock.Anything, gardenID, identity).
		Return(&model.GardenMember{GardenID: gardenID, Email: identity, Role: role}, nil)
}

func (f *fixture) members(identities ...string) {
	f.gardens.On("ListMemberEmails", mock.Anything, gardenID).Return(identities, nil).Maybe()
}

func as(identity string) context.Context {
	return router.WithIdentity(context.Background(), identity)
}

func msg(t *testing.T, msgType string, payload any) transport.Message {
	t.Helper()
	m, err := transport.NewMessage(msgType, payload)
	require.NoError(t, err)
	return m
}

func payloadOf(t *testing.T, m transport.Message) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(m.Payload, &out))
	return out
}

func strPtr(s string) *string { return &s }
