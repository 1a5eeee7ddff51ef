package audit

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	original := log.Logger
	log.Logger = zerolog.New(&buf)
	t.Cleanup(func() { log.Logger = original })
	return &buf
}

func TestLog(t *testing.T) {
	buf := captureLog(t)

	Log(Event{
		Type:     EventLoginFailure,
		Identity: "ann@x.com",
		ConnID:   "c1",
		Details:  map[string]interface{}{"reason": "bad password", "attempt": 3},
	})

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "security", entry["audit"])
	assert.Equal(t, "login_failure", entry["eventType"])
	assert.Equal(t, "ann@x.com", entry["identity"])
	assert.Equal(t, "c1", entry["connId"])
	assert.Equal(t, "bad password", entry["reason"])
	assert.Equal(t, float64(3), entry["attempt"])
	assert.NotContains(t, entry, "ip")
}

func TestClientIP(t *testing.T) {
	t.Run("forwarded header wins", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/ws", nil)
		r.Header.Set("X-Forwarded-For", "203.0.113.7")
		r.Header.Set("X-Real-IP", "198.51.100.1")
		assert.Equal(t, "203.0.113.7", ClientIP(r))
	})

	t.Run("real ip header", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/ws", nil)
		r.Header.Set("X-Real-IP", "198.51.100.1")
		assert.Equal(t, "198.51.100.1", ClientIP(r))
	})

	t.Run("falls back to remote addr", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/ws", nil)
		assert.Equal(t, r.RemoteAddr, ClientIP(r))
	})
}
