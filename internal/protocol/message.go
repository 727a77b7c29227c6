package protocol

import (
	"errors"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"

	"surfacehost/internal/surface"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Message is the envelope for all WebSocket messages.
type Message struct {
	Type      string              `json:"type"`
	Payload   jsoniter.RawMessage `json:"payload"`
	Timestamp time.Time           `json:"timestamp"`
}

// NewMessage creates a server-originated message with the current timestamp.
func NewMessage(msgType string, payload interface{}) (*Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return &Message{
		Type:      msgType,
		Payload:   data,
		Timestamp: time.Now().UTC(),
	}, nil
}

// Encode marshals msg for the wire.
func Encode(msg *Message) ([]byte, error) {
	return json.Marshal(msg)
}

// DecodePayload unmarshals msg's payload into v.
func DecodePayload(msg *Message, v interface{}) error {
	return json.Unmarshal(msg.Payload, v)
}

// Server → Client message types. Everything a remote view renders arrives as one of these.
const (
	TypeSurfaceAttached = "surface.attached"
	TypeSurfaceWrite    = "surface.write"
	TypeSurfaceClear    = "surface.clear"
	TypeSurfaceResize   = "surface.resize"
	TypeSurfaceClose    = "surface.close"
	TypeError           = "error"
)

// Client → Server message types.
const (
	TypeViewAttach  = "view.attach"
	TypeViewReady   = "view.ready"
	TypeViewInput   = "view.input"
	TypeViewResized = "view.resized"
	TypeViewDetach  = "view.detach"
)

// Error codes.
const (
	ErrSurfaceNotFound    = "SURFACE_NOT_FOUND"
	ErrSurfaceUnavailable = "SURFACE_UNAVAILABLE"
	ErrAlreadyAttached    = "ALREADY_ATTACHED"
	ErrKindMismatch       = "KIND_MISMATCH"
	ErrChannelClosed      = "CHANNEL_CLOSED"
	ErrInvalidState       = "INVALID_STATE"
	ErrInvalidMessage     = "INVALID_MESSAGE"
	ErrServiceNotFound    = "SERVICE_NOT_FOUND"
	ErrMaxServices        = "MAX_SERVICES"
	ErrSpawnFailed        = "SPAWN_FAILED"
)

// CodeFor maps a surface error to its wire code.
func CodeFor(err error) string {
	switch {
	case errors.Is(err, surface.ErrKindMismatch):
		return ErrKindMismatch
	case errors.Is(err, surface.ErrAlreadyAttached):
		return ErrAlreadyAttached
	case errors.Is(err, surface.ErrChannelClosed):
		return ErrChannelClosed
	case errors.Is(err, surface.ErrInvalidStateTransition):
		return ErrInvalidState
	case errors.Is(err, surface.ErrSurfaceUnavailable):
		return ErrSurfaceUnavailable
	case errors.Is(err, surface.ErrInvalidName):
		return ErrInvalidMessage
	}
	return ErrInvalidMessage
}

// Server → Client payloads.

type SurfaceAttachedPayload struct {
	Surface string `json:"surface"`
	Kind    string `json:"kind"`
}

type SurfaceWritePayload struct {
	Surface string `json:"surface"`
	Data    string `json:"data"`
}

type SurfaceResizePayload struct {
	Surface string `json:"surface"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
}

type SurfaceClosePayload struct {
	Surface string `json:"surface"`
	Reason  string `json:"reason"`
}

type ErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Client → Server payloads.

type ViewAttachPayload struct {
	Surface string `json:"surface"`
	Kind    string `json:"kind"`
}

type ViewInputPayload struct {
	Surface string `json:"surface"`
	Text    string `json:"text"`
}

type ViewResizedPayload struct {
	Surface string `json:"surface"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
}

type ViewDetachPayload struct {
	Surface string `json:"surface"`
	Reason  string `json:"reason"`
}

// SurfacePayload carries only a surface name; surface.clear and view.ready use it.
type SurfacePayload struct {
	Surface string `json:"surface"`
}

// CommandMessage renders a surface command as the message a remote view receives.
func CommandMessage(name string, cmd surface.RenderCommand) (*Message, error) {
	switch cmd.Type {
	case surface.CommandWrite:
		return NewMessage(TypeSurfaceWrite, SurfaceWritePayload{Surface: name, Data: string(cmd.Data)})
	case surface.CommandClear:
		return NewMessage(TypeSurfaceClear, SurfacePayload{Surface: name})
	case surface.CommandResize:
		return NewMessage(TypeSurfaceResize, SurfaceResizePayload{Surface: name, Width: cmd.Width, Height: cmd.Height})
	case surface.CommandClose:
		return NewMessage(TypeSurfaceClose, SurfaceClosePayload{Surface: name, Reason: "closed by runtime"})
	}
	return nil, fmt.Errorf("unknown command type: %s", cmd.Type)
}
