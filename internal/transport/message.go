package transport

import (
	"encoding/json"
	"fmt"

	apperrors "github.com/plantlink/garden-relay-go/internal/errors"
)

// TypeError is the reply type used for every failed client request.
const TypeError = "ERROR"

// Conn is a live bidirectional channel to a client or to the device.
// Implementations must be safe for concurrent use.
type Conn interface {
	ID() string
	Send(msg Message) error
	IsOpen() bool
}

// Message is the envelope exchanged over every connection.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type errorPayload struct {
	RequestType string              `json:"requestType,omitempty"`
	Code        apperrors.ErrorCode `json:"code"`
	Message     string              `json:"message"`
	Details     any                 `json:"details,omitempty"`
}

// NewMessage builds a message, marshalling payload unless it is nil.
func NewMessage(msgType string, payload any) (Message, error) {
	msg := Message{Type: msgType}
	if payload == nil {
		return msg, nil
	}
	if raw, ok := payload.(json.RawMessage); ok {
		msg.Payload = raw
		return msg, nil
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	msg.Payload = data
	return msg, nil
}

// MustMessage is NewMessage for payloads that cannot fail to marshal.
func MustMessage(msgType string, payload any) Message {
	msg, err := NewMessage(msgType, payload)
	if err != nil {
		panic(err)
	}
	return msg
}

// Decode unmarshals the payload into v. An empty payload decodes as {}.
func (m Message) Decode(v any) error {
	if len(m.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return apperrors.InvalidMessage(fmt.Sprintf("%s payload: %v", m.Type, err))
	}
	return nil
}

// ErrorMessage converts err into the ERROR envelope sent back to clients.
// Errors that are not AppErrors are reported as internal errors so that
// nothing from the underlying cause leaks to the client.
func ErrorMessage(requestType string, err error) Message {
	appErr, ok := apperrors.AsAppError(err)
	if !ok {
		appErr = apperrors.Internal("An unexpected error occurred")
	}

	return MustMessage(TypeError, errorPayload{
		RequestType: requestType,
		Code:        appErr.Code,
		Message:     appErr.Message,
		Details:     appErr.Details,
	})
}

// Parse decodes a raw frame into a Message.
func Parse(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, apperrors.InvalidMessage("malformed JSON")
	}
	if msg.Type == "" {
		return Message{}, apperrors.InvalidMessage("missing type")
	}
	return msg, nil
}
