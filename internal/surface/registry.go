package surface

import (
	"fmt"
	"log"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Registry maps runtime-visible surface names to handles and binds views to them.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry

	factory ViewFactory
	sched   Scheduler
}

type entry struct {
	handle  *Handle
	channel *Channel
}

// NewRegistry creates a registry whose views come from factory and run on sched.
func NewRegistry(factory ViewFactory, sched Scheduler) *Registry {
	return &Registry{
		entries: make(map[string]*entry),
		factory: factory,
		sched:   sched,
	}
}

// Resolve returns the live handle for name, creating a Detached one if none exists.
func (r *Registry) Resolve(name string, kind Kind) (*Handle, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: empty name", ErrInvalidName)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[name]; ok {
		if e.handle.Kind() != kind {
			return nil, fmt.Errorf("%w: %s is %s, not %s", ErrKindMismatch, name, e.handle.Kind(), kind)
		}
		return e.handle, nil
	}

	h := newHandle(uuid.New().String(), name, kind)
	r.entries[name] = &entry{handle: h}
	return h, nil
}

// Lookup returns the live handle for name without creating one.
func (r *Registry) Lookup(name string) (*Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[name]
	if !ok {
		return nil, false
	}
	return e.handle, true
}

// Snapshot lists every live handle, ordered by name.
func (r *Registry) Snapshot() []Info {
	r.mu.Lock()
	handles := make([]*Handle, 0, len(r.entries))
	for _, e := range r.entries {
		handles = append(handles, e.handle)
	}
	r.mu.Unlock()

	result := make([]Info, 0, len(handles))
	for _, h := range handles {
		result = append(result, h.Info())
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// BindOption configures a channel created by Bind.
type BindOption func(*Channel)

// WithOwner tags the channel with the id of the runtime context driving it.
func WithOwner(id string) BindOption {
	return func(c *Channel) { c.owner = id }
}

// WithEventHook calls fn every time the view queues an event.
func WithEventHook(fn func()) BindOption {
	return func(c *Channel) { c.onEvent = fn }
}

// Bind starts attaching a view to h and returns its channel at once, in the
// Attaching state. The view is created on the scheduler; it moves the handle to
// Attached by emitting Ready. A view that cannot be created closes the channel.
func (r *Registry) Bind(h *Handle, caps Capabilities, opts ...BindOption) (*Channel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[h.Name()]
	if !ok || e.handle != h {
		return nil, fmt.Errorf("%w: %s %s -> %s", ErrInvalidStateTransition, h.ID(), h.State(), StateAttaching)
	}
	return r.bindLocked(e, caps, opts)
}

// Attach resolves name and binds it in one step. A handle created by this call
// is dropped again if the bind fails, so a rejected attach leaves the table as
// it was.
func (r *Registry) Attach(name string, kind Kind, caps Capabilities, opts ...BindOption) (*Channel, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: empty name", ErrInvalidName)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e, existed := r.entries[name]
	if existed {
		if e.handle.Kind() != kind {
			return nil, fmt.Errorf("%w: %s is %s, not %s", ErrKindMismatch, name, e.handle.Kind(), kind)
		}
	} else {
		e = &entry{handle: newHandle(uuid.New().String(), name, kind)}
		r.entries[name] = e
	}

	ch, err := r.bindLocked(e, caps, opts)
	if err != nil && !existed {
		delete(r.entries, name)
	}
	return ch, err
}

func (r *Registry) bindLocked(e *entry, caps Capabilities, opts []BindOption) (*Channel, error) {
	h := e.handle
	if e.channel != nil {
		if closed, _ := e.channel.Closed(); !closed {
			return nil, fmt.Errorf("%w: %s", ErrAlreadyAttached, h.Name())
		}
	}

	spec := ViewSpec{
		HandleID:     h.ID(),
		Name:         h.Name(),
		Kind:         h.Kind(),
		Capabilities: caps,
	}
	if !r.factory.Supports(spec) {
		return nil, fmt.Errorf("%w: no %s view offers %s for %s", ErrSurfaceUnavailable, spec.Kind, caps, spec.Name)
	}
	if err := h.beginAttach(caps); err != nil {
		return nil, err
	}

	ch := newChannel(h, "")
	for _, opt := range opts {
		opt(ch)
	}
	b := &binding{reg: r, ch: ch, spec: spec}
	ch.wake = b.wake
	ch.onClose = b.closed
	e.channel = ch

	r.sched.Post(b.create)
	return ch, nil
}

// Release closes h and any live channel, and frees its name for a fresh handle.
func (r *Registry) Release(h *Handle) {
	r.mu.Lock()
	var ch *Channel
	if e, ok := r.entries[h.Name()]; ok && e.handle == h {
		ch = e.channel
		delete(r.entries, h.Name())
	}
	h.retire()
	r.mu.Unlock()

	if ch != nil {
		ch.Close("released")
	}
}

// forget drops h from the name table once its channel has closed.
func (r *Registry) forget(h *Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[h.Name()]; ok && e.handle == h {
		delete(r.entries, h.Name())
	}
	h.retire()
}

// binding owns the view side of one channel. view and torn are only touched on
// the scheduler goroutine.
type binding struct {
	reg  *Registry
	ch   *Channel
	spec ViewSpec

	view      ViewBinding
	torn      bool
	scheduled atomic.Bool
}

func (b *binding) create() {
	if closed, _ := b.ch.Closed(); closed {
		return
	}
	view, err := b.reg.factory.CreateView(b.spec, b.ch)
	if err != nil {
		log.Printf("surface %s: create %s view: %v", b.spec.Name, b.spec.Kind, err)
		b.ch.Close(fmt.Sprintf("view unavailable: %v", err))
		return
	}
	b.view = view
}

func (b *binding) wake() {
	if b.scheduled.CompareAndSwap(false, true) {
		b.reg.sched.Post(b.deliver)
	}
}

func (b *binding) deliver() {
	b.scheduled.Store(false)
	cmds := b.ch.Drain()
	if b.view == nil || b.torn {
		return
	}
	for _, cmd := range cmds {
		b.view.OnCommand(cmd)
		if cmd.Type == CommandClose {
			b.ch.Close("closed by runtime")
			return
		}
	}
}

func (b *binding) closed(reason string) {
	b.reg.forget(b.ch.handle)
	b.reg.sched.Post(b.teardown)
}

func (b *binding) teardown() {
	if b.torn {
		return
	}
	b.torn = true
	if b.view != nil {
		b.view.Teardown()
	}
}
