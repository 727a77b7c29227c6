package surface

import "errors"

var (
	ErrInvalidName            = errors.New("invalid surface name")
	ErrKindMismatch           = errors.New("surface kind mismatch")
	ErrAlreadyAttached        = errors.New("surface already attached")
	ErrInvalidStateTransition = errors.New("invalid surface state transition")
	ErrChannelClosed          = errors.New("surface channel closed")
	ErrSurfaceUnavailable     = errors.New("surface unavailable")
)
