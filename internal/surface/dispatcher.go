package surface

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// EventHandler receives the view events of every surface a dispatcher drives.
type EventHandler interface {
	HandleSurfaceEvent(name string, ev ViewEvent)
}

// EventHandlerFunc adapts a function to EventHandler.
type EventHandlerFunc func(name string, ev ViewEvent)

func (f EventHandlerFunc) HandleSurfaceEvent(name string, ev ViewEvent) { f(name, ev) }

// Dispatcher is one runtime context's view of the registry. It binds surfaces
// lazily on first use and routes view events back to the runtime through Pump.
type Dispatcher struct {
	id      string
	reg     *Registry
	handler EventHandler

	mu       sync.Mutex
	channels map[string]*Channel
	caps     map[Kind]Capabilities

	pumpMu sync.Mutex
	notify chan struct{}
}

// NewDispatcher creates a runtime context bound to reg. handler may be nil.
func NewDispatcher(reg *Registry, handler EventHandler) *Dispatcher {
	return &Dispatcher{
		id:       uuid.New().String(),
		reg:      reg,
		handler:  handler,
		channels: make(map[string]*Channel),
		caps:     make(map[Kind]Capabilities),
		notify:   make(chan struct{}, 1),
	}
}

// ID identifies the runtime context; channels it binds carry it as owner.
func (d *Dispatcher) ID() string { return d.id }

// SetCapabilities overrides what lazy attaches of kind ask the view for.
func (d *Dispatcher) SetCapabilities(kind Kind, caps Capabilities) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.caps[kind] = caps
}

// Notify is signalled whenever one of the dispatcher's surfaces queues an event.
func (d *Dispatcher) Notify() <-chan struct{} { return d.notify }

// Resolve looks up or creates the handle for name without attaching it.
func (d *Dispatcher) Resolve(name string, kind Kind) (*Handle, error) {
	return d.reg.Resolve(name, kind)
}

// Write sends data to the named surface, attaching it first if needed.
func (d *Dispatcher) Write(name string, kind Kind, data []byte) error {
	return d.Send(name, kind, Write(data))
}

// Send delivers cmd to the named surface, attaching it first if needed.
// Sending to a closed channel fails with ErrChannelClosed and hands the
// channel's remaining events, Detached included, to the runtime, so the next
// send resolves the surface afresh.
func (d *Dispatcher) Send(name string, kind Kind, cmd RenderCommand) error {
	ch, err := d.channel(name, kind)
	if err != nil {
		return err
	}
	err = ch.Send(cmd)
	if errors.Is(err, ErrChannelClosed) {
		d.flush(name, ch)
	}
	return err
}

// flush delivers what is left on ch. A Pump already in progress delivers it
// instead; this includes a handler sending from inside Pump.
func (d *Dispatcher) flush(name string, ch *Channel) {
	if !d.pumpMu.TryLock() {
		return
	}
	defer d.pumpMu.Unlock()
	d.deliver(name, ch)
}

func (d *Dispatcher) channel(name string, kind Kind) (*Channel, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if ch, ok := d.channels[name]; ok {
		if ch.Handle().Kind() != kind {
			return nil, fmt.Errorf("%w: %s is %s, not %s", ErrKindMismatch, name, ch.Handle().Kind(), kind)
		}
		return ch, nil
	}

	caps, ok := d.caps[kind]
	if !ok {
		caps = DefaultCapabilities(kind)
	}
	ch, err := d.reg.Attach(name, kind, caps, WithOwner(d.id), WithEventHook(d.signal))
	if err != nil {
		return nil, err
	}
	d.channels[name] = ch
	return ch, nil
}

// Detach closes the named surface. Its Detached event still reaches the
// runtime through Pump.
func (d *Dispatcher) Detach(name, reason string) {
	d.mu.Lock()
	ch, ok := d.channels[name]
	d.mu.Unlock()

	if ok {
		ch.Close(reason)
		return
	}
	if h, found := d.reg.Lookup(name); found && h.State() == StateDetached {
		d.reg.Release(h)
	}
}

// Pump hands every queued view event to the handler, per surface in FIFO
// order, and returns how many it delivered. A surface whose Detached event is
// delivered is forgotten, so the next write re-resolves a fresh handle.
// The handler must not call Pump.
func (d *Dispatcher) Pump() int {
	d.pumpMu.Lock()
	defer d.pumpMu.Unlock()

	d.mu.Lock()
	names := make([]string, 0, len(d.channels))
	chans := make([]*Channel, 0, len(d.channels))
	for name, ch := range d.channels {
		names = append(names, name)
		chans = append(chans, ch)
	}
	d.mu.Unlock()

	n := 0
	for i, ch := range chans {
		n += d.deliver(names[i], ch)
	}
	return n
}

// deliver passes ch's queued events to the handler. pumpMu must be held.
func (d *Dispatcher) deliver(name string, ch *Channel) int {
	n := 0
	for {
		ev, ok := ch.Poll()
		if !ok {
			return n
		}
		if ev.Type == EventDetached {
			d.forget(name, ch)
		}
		if d.handler != nil {
			d.handler.HandleSurfaceEvent(name, ev)
		}
		n++
	}
}

// Close detaches every surface and delivers the resulting events.
func (d *Dispatcher) Close(reason string) {
	d.mu.Lock()
	chans := make([]*Channel, 0, len(d.channels))
	for _, ch := range d.channels {
		chans = append(chans, ch)
	}
	d.mu.Unlock()

	for _, ch := range chans {
		ch.Close(reason)
	}
	d.Pump()
}

// Surfaces lists the names this dispatcher currently holds channels for.
func (d *Dispatcher) Surfaces() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	names := make([]string, 0, len(d.channels))
	for name := range d.channels {
		names = append(names, name)
	}
	return names
}

func (d *Dispatcher) forget(name string, ch *Channel) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.channels[name] == ch {
		delete(d.channels, name)
	}
}

func (d *Dispatcher) signal() {
	select {
	case d.notify <- struct{}{}:
	default:
	}
}
