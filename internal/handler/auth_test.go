package handler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apperrors "github.com/plantlink/garden-relay-go/internal/errors"
	"github.com/plantlink/garden-relay-go/internal/model"
	"github.com/plantlink/garden-relay-go/internal/service"
	"github.com/plantlink/garden-relay-go/internal/transport/transporttest"
	"github.com/plantlink/garden-relay-go/internal/util"
)

const jwtSecret = "handler-test-secret-long-enough-for-hs256"

func newAuthHandler(t *testing.T, f *fixture) *AuthHandler {
	t.Helper()
	hash, err := util.HashPassword("correct horse")
	require.NoError(t, err)
	f.users.On("FindByEmail", mock.Anything, ann).
		Return(&model.User{Email: ann, PasswordHash: hash, DisplayName: "Ann"}, nil).Maybe()
	f.users.On("FindByEmail", mock.Anything, mock.Anything).Return(nil, nil).Maybe()

	auth := service.NewAuthService(f.users, nil, jwtSecret, time.Hour)
	return NewAuthHandler(auth, f.registry, f.link)
}

func TestAuthHandler_Login(t *testing.T) {
	t.Run("binds the connection and returns a token", func(t *testing.T) {
		f := newFixture()
		h := newAuthHandler(t, f)
		conn := transporttest.NewConn("c1")

		err := h.Login(context.Background(), conn, msg(t, TypeLogin, map[string]string{
			"email": " Ann@X.com", "password": "correct horse",
		}))

		require.NoError(t, err)
		identity, ok := f.registry.IdentityOf(conn)
		assert.True(t, ok)
		assert.Equal(t, ann, identity)

		last, _ := conn.Last()
		assert.Equal(t, TypeLoginResult, last.Type)
		assert.NotEmpty(t, payloadOf(t, last)["token"])
	})

	t.Run("wrong password leaves the connection anonymous", func(t *testing.T) {
		f := newFixture()
		h := newAuthHandler(t, f)
		conn := transporttest.NewConn("c1")

		err := h.Login(context.Background(), conn, msg(t, TypeLogin, map[string]string{
			"email": ann, "password": "wrong",
		}))

		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidCredentials))
		_, ok := f.registry.IdentityOf(conn)
		assert.False(t, ok)
	})

	t.Run("device link cannot log in", func(t *testing.T) {
		f := newFixture()
		h := newAuthHandler(t, f)
		device := f.attachDevice()

		err := h.Login(context.Background(), device, msg(t, TypeLogin, map[string]string{
			"email": ann, "password": "correct horse",
		}))

		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeConflict))
		_, ok := f.registry.IdentityOf(device)
		assert.False(t, ok)
		f.users.AssertNotCalled(t, "FindByEmail", mock.Anything, mock.Anything)
	})

	t.Run("missing fields", func(t *testing.T) {
		f := newFixture()
		h := newAuthHandler(t, f)

		err := h.Login(context.Background(), transporttest.NewConn("c1"), msg(t, TypeLogin, map[string]string{"email": ann}))

		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeMissingRequired))
	})

	t.Run("second login moves notifications to the new connection", func(t *testing.T) {
		f := newFixture()
		h := newAuthHandler(t, f)
		first := transporttest.NewConn("c1")
		second := transporttest.NewConn("c2")
		creds := msg(t, TypeLogin, map[string]string{"email": ann, "password": "correct horse"})

		require.NoError(t, h.Login(context.Background(), first, creds))
		require.NoError(t, h.Login(context.Background(), second, creds))

		current, ok := f.registry.ConnectionOf(ann)
		require.True(t, ok)
		assert.Equal(t, "c2", current.ID())
		assert.True(t, first.IsOpen())
	})
}

func TestAuthHandler_LoginTokenAndLogout(t *testing.T) {
	f := newFixture()
	h := newAuthHandler(t, f)
	first := transporttest.NewConn("c1")

	require.NoError(t, h.Login(context.Background(), first, msg(t, TypeLogin, map[string]string{
		"email": ann, "password": "correct horse",
	})))
	token, _ := first.LastPayload()["token"].(string)
	require.NotEmpty(t, token)

	t.Run("token resumes the session on a new connection", func(t *testing.T) {
		conn := transporttest.NewConn("c2")

		err := h.LoginToken(context.Background(), conn, msg(t, TypeLoginToken, map[string]string{"token": token}))

		require.NoError(t, err)
		identity, _ := f.registry.IdentityOf(conn)
		assert.Equal(t, ann, identity)
	})

	t.Run("garbage token is rejected", func(t *testing.T) {
		conn := transporttest.NewConn("c3")

		err := h.LoginToken(context.Background(), conn, msg(t, TypeLoginToken, map[string]string{"token": "abc"}))

		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidToken))
	})

	t.Run("logout unbinds", func(t *testing.T) {
		err := h.Logout(as(ann), first, msg(t, TypeLogout, map[string]string{"token": token}))

		require.NoError(t, err)
		_, ok := f.registry.IdentityOf(first)
		assert.False(t, ok)
		last, _ := first.Last()
		assert.Equal(t, TypeLogoutResult, last.Type)
	})
}

func TestAuthHandler_Ping(t *testing.T) {
	h := NewAuthHandler(nil, nil, nil)
	conn := transporttest.NewConn("c1")

	require.NoError(t, h.Ping(context.Background(), conn, msg(t, TypePing, nil)))

	last, _ := conn.Last()
	assert.Equal(t, TypePong, last.Type)
}
