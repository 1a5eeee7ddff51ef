package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError(t *testing.T) {
	t.Run("Error returns formatted string", func(t *testing.T) {
		err := New(ErrCodeNotFound, "Plant not found")
		assert.Equal(t, "NOT_FOUND: Plant not found", err.Error())
	})

	t.Run("Error with cause includes cause", func(t *testing.T) {
		cause := errors.New("database connection failed")
		err := Wrap(ErrCodeDatabase, "Database error", cause)
		assert.Contains(t, err.Error(), "DATABASE_ERROR")
		assert.Contains(t, err.Error(), "Database error")
		assert.Contains(t, err.Error(), "database connection failed")
	})

	t.Run("WithCause adds cause to error", func(t *testing.T) {
		cause := errors.New("original error")
		err := New(ErrCodeInternal, "Something went wrong").WithCause(cause)
		assert.Equal(t, cause, err.Unwrap())
	})

	t.Run("WithDetails adds details to error", func(t *testing.T) {
		details := map[string]string{"field": "email", "reason": "invalid format"}
		err := New(ErrCodeValidation, "Validation failed").WithDetails(details)
		assert.Equal(t, details, err.Details)
	})
}

func TestErrorConstructors(t *testing.T) {
	tests := []struct {
		name         string
		constructor  func() *AppError
		expectedCode ErrorCode
	}{
		{"Unauthorized", func() *AppError { return Unauthorized("test") }, ErrCodeUnauthorized},
		{"Forbidden", func() *AppError { return Forbidden("test") }, ErrCodeForbidden},
		{"InvalidToken", func() *AppError { return InvalidToken("test") }, ErrCodeInvalidToken},
		{"InvalidCredentials", func() *AppError { return InvalidCredentials() }, ErrCodeInvalidCredentials},
		{"NotFound", func() *AppError { return NotFound("Garden") }, ErrCodeNotFound},
		{"AlreadyExists", func() *AppError { return AlreadyExists("User") }, ErrCodeAlreadyExists},
		{"Conflict", func() *AppError { return Conflict("test") }, ErrCodeConflict},
		{"ValidationError", func() *AppError { return ValidationError("test") }, ErrCodeValidation},
		{"InvalidInput", func() *AppError { return InvalidInput("email", "invalid") }, ErrCodeInvalidInput},
		{"MissingRequired", func() *AppError { return MissingRequired("email") }, ErrCodeMissingRequired},
		{"InvalidMessage", func() *AppError { return InvalidMessage("bad json") }, ErrCodeInvalidMessage},
		{"UnknownMessageType", func() *AppError { return UnknownMessageType("FOO") }, ErrCodeUnknownMessageType},
		{"RateLimitExceeded", func() *AppError { return RateLimitExceeded() }, ErrCodeRateLimitExceeded},
		{"DeviceUnavailable", func() *AppError { return DeviceUnavailable() }, ErrCodeDeviceUnavailable},
		{"DeviceFailure", func() *AppError { return DeviceFailure("sensor fault") }, ErrCodeDeviceFailure},
		{"RequestTimeout", func() *AppError { return RequestTimeout() }, ErrCodeRequestTimeout},
		{"CorrelationMiss", func() *AppError { return CorrelationMiss("plant-7") }, ErrCodeCorrelationMiss},
		{"ConnectionUnavailable", func() *AppError { return ConnectionUnavailable("closed") }, ErrCodeConnectionUnavailable},
		{"Internal", func() *AppError { return Internal("test") }, ErrCodeInternal},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.constructor()
			assert.Equal(t, tc.expectedCode, err.Code)
			assert.NotEmpty(t, err.Message)
		})
	}
}

func TestDatabase(t *testing.T) {
	t.Run("wraps database error", func(t *testing.T) {
		cause := errors.New("connection refused")
		err := Database(cause)
		assert.Equal(t, ErrCodeDatabase, err.Code)
		assert.Equal(t, cause, err.Unwrap())
	})
}

func TestMembershipResolution(t *testing.T) {
	t.Run("wraps lookup error with group id", func(t *testing.T) {
		cause := errors.New("timeout")
		err := MembershipResolution("garden-42", cause)
		assert.Equal(t, ErrCodeMembershipResolution, err.Code)
		assert.Contains(t, err.Message, "garden-42")
		assert.Equal(t, cause, err.Unwrap())
	})
}

func TestDeviceFailure(t *testing.T) {
	t.Run("uses placeholder for empty reason", func(t *testing.T) {
		err := DeviceFailure("")
		assert.Contains(t, err.Message, "unspecified")
	})
}

func TestIsAppError(t *testing.T) {
	t.Run("returns true for AppError", func(t *testing.T) {
		err := New(ErrCodeNotFound, "test")
		assert.True(t, IsAppError(err))
	})

	t.Run("returns false for standard error", func(t *testing.T) {
		err := errors.New("standard error")
		assert.False(t, IsAppError(err))
	})

	t.Run("returns true for AppError wrapped with %w", func(t *testing.T) {
		appErr := New(ErrCodeNotFound, "test")
		wrapped := fmt.Errorf("lookup: %w", appErr)
		assert.True(t, IsAppError(wrapped))
	})
}

func TestAsAppError(t *testing.T) {
	t.Run("extracts AppError", func(t *testing.T) {
		original := New(ErrCodeNotFound, "Plant not found")
		extracted, ok := AsAppError(original)
		assert.True(t, ok)
		assert.Equal(t, original, extracted)
	})

	t.Run("returns false for non-AppError", func(t *testing.T) {
		err := errors.New("standard error")
		extracted, ok := AsAppError(err)
		assert.False(t, ok)
		assert.Nil(t, extracted)
	})
}

func TestGetCode(t *testing.T) {
	t.Run("returns code for AppError", func(t *testing.T) {
		err := New(ErrCodeNotFound, "test")
		assert.Equal(t, ErrCodeNotFound, GetCode(err))
	})

	t.Run("returns ErrCodeInternal for standard error", func(t *testing.T) {
		err := errors.New("standard error")
		assert.Equal(t, ErrCodeInternal, GetCode(err))
	})
}

func TestHasCode(t *testing.T) {
	assert.True(t, HasCode(DeviceUnavailable(), ErrCodeDeviceUnavailable))
	assert.False(t, HasCode(RequestTimeout(), ErrCodeDeviceUnavailable))
	assert.False(t, HasCode(errors.New("plain"), ErrCodeInternal))
}

func TestMissingRequiredMessage(t *testing.T) {
	t.Run("formats field name correctly", func(t *testing.T) {
		err := MissingRequired("email")
		assert.Equal(t, "email is required", err.Message)

		err = MissingRequired("plantId")
		assert.Equal(t, "plantId is required", err.Message)
	})
}
