package audit

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type EventType string

const (
	EventSignup          EventType = "signup"
	EventLoginSuccess    EventType = "login_success"
	EventLoginFailure    EventType = "login_failure"
	EventTokenLogin      EventType = "token_login"
	EventTokenRejected   EventType = "token_rejected"
	EventLogout          EventType = "logout"
	EventSessionReplaced EventType = "session_replaced"
	EventDeviceAttach    EventType = "device_attach"
	EventDeviceRejected  EventType = "device_rejected"
	EventMemberAdded     EventType = "member_added"
	EventGardenDeleted   EventType = "garden_deleted"
	EventRateLimitExceed EventType = "rate_limit_exceeded"
)

type Event struct {
	Type     EventType
	Identity string
	ConnID   string
	IP       string
	Details  map[string]interface{}
}

func Log(event Event) {
	logger := log.With().
		Str("audit", "security").
		Str("eventType", string(event.Type)).
		Time("timestamp", time.Now()).
		Logger()

	if event.Identity != "" {
		logger = logger.With().Str("identity", event.Identity).Logger()
	}
	if event.ConnID != "" {
		logger = logger.With().Str("connId", event.ConnID).Logger()
	}
	if event.IP != "" {
		logger = logger.With().Str("ip", event.IP).Logger()
	}

	logEvent := logger.Info()
	for k, v := range event.Details {
		logEvent = addField(logEvent, k, v)
	}
	logEvent.Msg("security audit event")
}

func addField(e *zerolog.Event, key string, value interface{}) *zerolog.Event {
	switch v := value.(type) {
	case string:
		return e.Str(key, v)
	case int:
		return e.Int(key, v)
	case int64:
		return e.Int64(key, v)
	case bool:
		return e.Bool(key, v)
	default:
		return e.Interface(key, v)
	}
}

func LogFromRequest(r *http.Request, event Event) {
	event.IP = ClientIP(r)
	if event.Details == nil {
		event.Details = map[string]interface{}{}
	}
	event.Details["userAgent"] = r.UserAgent()
	Log(event)
}

// ClientIP prefers proxy headers over the socket address.
func ClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return forwarded
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	return r.RemoteAddr
}
