package surface

import (
	"fmt"
	"sync"
)

// Channel is the ordered command/event queue pairing one runtime context with one
// bound surface. Both directions are FIFO and neither side ever blocks the other.
type Channel struct {
	handle *Handle
	owner  string

	mu       sync.Mutex
	outbound []RenderCommand
	inbound  []ViewEvent
	closing  bool // a Close command is queued; further sends are refused
	closed   bool
	reason   string

	notify chan struct{}

	// wake is called after a command is queued, onEvent after an event is
	// queued. onClose runs once, after the channel is marked closed, outside mu.
	wake    func()
	onEvent func()
	onClose func(reason string)
}

func newChannel(h *Handle, owner string) *Channel {
	return &Channel{
		handle: h,
		owner:  owner,
		notify: make(chan struct{}, 1),
	}
}

// HandleID identifies the surface this channel is bound to.
func (c *Channel) HandleID() string { return c.handle.ID() }

// Handle returns the bound handle.
func (c *Channel) Handle() *Handle { return c.handle }

// Owner is the id of the runtime context that bound the channel.
func (c *Channel) Owner() string { return c.owner }

// Send queues cmd for the view. A Close command is delivered after every
// command queued before it; the channel then closes.
func (c *Channel) Send(cmd RenderCommand) error {
	c.mu.Lock()
	if c.closed || c.closing {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrChannelClosed, c.handle.Name())
	}
	if need, ok := cmd.required(); ok {
		if caps := c.handle.Capabilities(); !caps.Has(need) {
			c.mu.Unlock()
			return fmt.Errorf("%w: %s offers %s, %s needs more", ErrSurfaceUnavailable, c.handle.Name(), caps, cmd.Type)
		}
	}
	if cmd.Type == CommandClose {
		c.closing = true
	}
	c.outbound = append(c.outbound, cmd)
	wake := c.wake
	c.mu.Unlock()

	if wake != nil {
		wake()
	}
	return nil
}

// Poll returns the oldest pending view event without blocking.
func (c *Channel) Poll() (ViewEvent, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.inbound) == 0 {
		return ViewEvent{}, false
	}
	ev := c.inbound[0]
	c.inbound[0] = ViewEvent{}
	c.inbound = c.inbound[1:]
	return ev, true
}

// Notify is signalled whenever an event is queued for the runtime.
func (c *Channel) Notify() <-chan struct{} { return c.notify }

// Drain hands every pending command to the view side, oldest first.
func (c *Channel) Drain() []RenderCommand {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.outbound) == 0 {
		return nil
	}
	cmds := c.outbound
	c.outbound = nil
	return cmds
}

// Emit queues ev for the runtime. Ready completes the attach; Detached closes
// the channel from the view side.
func (c *Channel) Emit(ev ViewEvent) error {
	if ev.Type == EventDetached {
		if !c.Close(ev.Reason) {
			return fmt.Errorf("%w: %s", ErrChannelClosed, c.handle.Name())
		}
		return nil
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrChannelClosed, c.handle.Name())
	}
	if ev.Type == EventReady {
		if err := c.handle.transition(StateAttached); err != nil {
			c.mu.Unlock()
			return err
		}
	}
	c.inbound = append(c.inbound, ev)
	c.mu.Unlock()

	c.signal()
	return nil
}

// Close marks the channel closed, discards undelivered commands and queues
// Detached(reason) for the runtime. Only the first call has any effect; it
// reports whether this call closed the channel.
func (c *Channel) Close(reason string) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	c.closed = true
	c.reason = reason
	c.outbound = nil
	c.inbound = append(c.inbound, Detached(reason))
	onClose := c.onClose
	c.mu.Unlock()

	c.signal()
	if onClose != nil {
		onClose(reason)
	}
	return true
}

// Closed reports whether the channel is closed, and why.
func (c *Channel) Closed() (bool, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed, c.reason
}

// Pending is the number of commands not yet drained by the view.
func (c *Channel) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.outbound)
}

func (c *Channel) signal() {
	select {
	case c.notify <- struct{}{}:
	default:
	}
	if c.onEvent != nil {
		c.onEvent()
	}
}
