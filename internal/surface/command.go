package surface

import "fmt"

// CommandType distinguishes render commands.
type CommandType string

const (
	CommandWrite  CommandType = "write"
	CommandClear  CommandType = "clear"
	CommandResize CommandType = "resize"
	CommandClose  CommandType = "close"
)

// RenderCommand travels from a runtime to a view.
type RenderCommand struct {
	Type   CommandType
	Data   []byte
	Width  int
	Height int
}

// Write copies data so the caller may reuse its buffer.
func Write(data []byte) RenderCommand {
	buf := make([]byte, len(data))
	copy(buf, data)
	return RenderCommand{Type: CommandWrite, Data: buf}
}

func Clear() RenderCommand { return RenderCommand{Type: CommandClear} }

func Resize(width, height int) RenderCommand {
	return RenderCommand{Type: CommandResize, Width: width, Height: height}
}

func Close() RenderCommand { return RenderCommand{Type: CommandClose} }

func (c RenderCommand) String() string {
	switch c.Type {
	case CommandWrite:
		return fmt.Sprintf("write(%q)", c.Data)
	case CommandResize:
		return fmt.Sprintf("resize(%d,%d)", c.Width, c.Height)
	default:
		return string(c.Type)
	}
}

// required returns the capability a view must offer to accept c.
func (c RenderCommand) required() (Capability, bool) {
	switch c.Type {
	case CommandWrite:
		return CapWrite, true
	case CommandResize:
		return CapResize, true
	}
	return 0, false
}

// EventType distinguishes view events.
type EventType string

const (
	EventReady     EventType = "ready"
	EventInputText EventType = "input"
	EventResized   EventType = "resized"
	EventDetached  EventType = "detached"
)

// ViewEvent travels from a view back to its runtime.
type ViewEvent struct {
	Type   EventType
	Text   string
	Width  int
	Height int
	Reason string
}

func Ready() ViewEvent { return ViewEvent{Type: EventReady} }

func InputText(text string) ViewEvent { return ViewEvent{Type: EventInputText, Text: text} }

func Resized(width, height int) ViewEvent {
	return ViewEvent{Type: EventResized, Width: width, Height: height}
}

func Detached(reason string) ViewEvent { return ViewEvent{Type: EventDetached, Reason: reason} }

func (e ViewEvent) String() string {
	switch e.Type {
	case EventInputText:
		return fmt.Sprintf("input(%q)", e.Text)
	case EventResized:
		return fmt.Sprintf("resized(%d,%d)", e.Width, e.Height)
	case EventDetached:
		return fmt.Sprintf("detached(%s)", e.Reason)
	default:
		return string(e.Type)
	}
}
