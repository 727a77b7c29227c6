package protocol

import (
	"fmt"
)

// validClientTypes is the set of allowed client→server message types.
var validClientTypes = map[string]bool{
	TypeViewAttach:  true,
	TypeViewReady:   true,
	TypeViewInput:   true,
	TypeViewResized: true,
	TypeViewDetach:  true,
}

// ValidateClientMessage validates a raw JSON message from a remote view.
// Returns the parsed Message and any validation error.
func ValidateClientMessage(raw []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	if msg.Type == "" {
		return nil, fmt.Errorf("missing 'type' field")
	}

	if !validClientTypes[msg.Type] {
		return nil, fmt.Errorf("unknown message type: %s", msg.Type)
	}

	if msg.Payload == nil {
		return nil, fmt.Errorf("missing 'payload' field")
	}

	// Every client message names its surface; some carry more.
	var p struct {
		Surface string `json:"surface"`
		Width   int    `json:"width"`
		Height  int    `json:"height"`
	}
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		return nil, fmt.Errorf("invalid payload for %s: %w", msg.Type, err)
	}
	if p.Surface == "" {
		return nil, fmt.Errorf("missing required field 'surface' in %s payload", msg.Type)
	}

	if msg.Type == TypeViewResized && (p.Width <= 0 || p.Height <= 0) {
		return nil, fmt.Errorf("invalid size %dx%d in %s payload", p.Width, p.Height, msg.Type)
	}

	return &msg, nil
}

// NewErrorMessage creates an error message ready to send to the client.
func NewErrorMessage(code, message string) (*Message, error) {
	return NewMessage(TypeError, ErrorPayload{
		Code:    code,
		Message: message,
	})
}
