package handler

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/plantlink/garden-relay-go/internal/transport"
)

// Client request types.
const (
	TypePing         = "PING"
	TypeSignup       = "SIGNUP"
	TypeLogin        = "LOGIN"
	TypeLoginToken   = "LOGIN_TOKEN"
	TypeLogout       = "LOGOUT"
	TypeCreateGarden = "CREATE_GARDEN"
	TypeListGardens  = "LIST_GARDENS"
	TypeAddMember    = "ADD_MEMBER"
	TypeLeaveGarden  = "LEAVE_GARDEN"
	TypeDeleteGarden = "DELETE_GARDEN"
	TypeListPlants   = "LIST_PLANTS"
	TypeAddPlant     = "ADD_PLANT"
	TypeDeletePlant  = "DELETE_PLANT"
	TypeReadMoisture = "READ_MOISTURE"
)

// Reply types.
const (
	TypePong           = "PONG"
	TypeLoginResult    = "LOGIN_RESULT"
	TypeLogoutResult   = "LOGOUT_RESULT"
	TypeGardenCreated  = "GARDEN_CREATED"
	TypeGardens        = "GARDENS"
	TypeMemberAdded    = "MEMBER_ADDED"
	TypeGardenLeft     = "GARDEN_LEFT"
	TypeGardenDeleted  = "GARDEN_DELETED"
	TypePlants         = "PLANTS"
	TypeAddPlantResult = "ADD_PLANT_RESULT"
	TypePlantDeleted   = "PLANT_DELETED"
	TypeMoistureResult = "MOISTURE_RESULT"
)

// reply encodes payload and sends it to conn.
func reply(conn transport.Conn, msgType string, payload any) error {
	msg, err := transport.NewMessage(msgType, payload)
	if err != nil {
		return err
	}
	return conn.Send(msg)
}

// detachedContext bounds database work done from device callbacks, which
// run after the originating request's context is gone.
func detachedContext(timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), timeout)
}

// sendError delivers an ERROR reply outside the router, from device
// callbacks.
func sendError(conn transport.Conn, requestType string, err error) {
	if sendErr := conn.Send(transport.ErrorMessage(requestType, err)); sendErr != nil {
		log.Debug().Err(sendErr).Str("connId", conn.ID()).Str("type", requestType).Msg("error reply not delivered")
	}
}
