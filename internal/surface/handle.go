package surface

import (
	"fmt"
	"strings"
	"sync"
)

// Kind selects which family of view binding serves a surface.
type Kind string

const (
	KindConsole Kind = "console"
	KindCanvas  Kind = "canvas"
	KindCustom  Kind = "custom"
)

// ParseKind maps a wire/config name to a Kind.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindConsole, KindCanvas, KindCustom:
		return k, nil
	}
	return "", fmt.Errorf("unknown surface kind: %q", s)
}

// Capability is a single feature a view may offer.
type Capability uint8

const (
	CapWrite Capability = 1 << iota
	CapResize
	CapInput
)

// Capabilities is a set of Capability flags.
type Capabilities uint8

// Caps builds a capability set.
func Caps(c ...Capability) Capabilities {
	var set Capabilities
	for _, v := range c {
		set |= Capabilities(v)
	}
	return set
}

// Has reports whether every capability in c is present.
func (s Capabilities) Has(c Capability) bool {
	return s&Capabilities(c) == Capabilities(c)
}

func (s Capabilities) String() string {
	var parts []string
	if s.Has(CapWrite) {
		parts = append(parts, "write")
	}
	if s.Has(CapResize) {
		parts = append(parts, "resize")
	}
	if s.Has(CapInput) {
		parts = append(parts, "input")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// DefaultCapabilities is what a runtime asks for when it lazily attaches a surface of kind k.
func DefaultCapabilities(k Kind) Capabilities {
	switch k {
	case KindConsole, KindCanvas:
		return Caps(CapWrite, CapResize, CapInput)
	default:
		return Caps(CapWrite)
	}
}

// State represents the lifecycle state of a handle.
type State string

const (
	StateDetached  State = "detached"
	StateAttaching State = "attaching"
	StateAttached  State = "attached"
	StateClosed    State = "closed"
)

var legalTransitions = map[State][]State{
	StateDetached:  {StateAttaching},
	StateAttaching: {StateAttached, StateClosed},
	StateAttached:  {StateClosed},
}

// Handle is the registry's identity record for one surface instance.
// ID, Name and Kind never change; state and capabilities are guarded by mu.
type Handle struct {
	id   string
	name string
	kind Kind

	mu    sync.Mutex
	state State
	caps  Capabilities
}

func newHandle(id, name string, kind Kind) *Handle {
	return &Handle{id: id, name: name, kind: kind, state: StateDetached}
}

func (h *Handle) ID() string   { return h.id }
func (h *Handle) Name() string { return h.name }
func (h *Handle) Kind() Kind   { return h.kind }

// State returns the current lifecycle state.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Capabilities returns what the bound view offers. Empty until a view binds.
func (h *Handle) Capabilities() Capabilities {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.caps
}

// Info is a point-in-time copy of a handle, safe to serialise.
type Info struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Kind         Kind   `json:"kind"`
	State        State  `json:"state"`
	Capabilities string `json:"capabilities"`
}

// Info snapshots the handle.
func (h *Handle) Info() Info {
	h.mu.Lock()
	defer h.mu.Unlock()
	return Info{
		ID:           h.id,
		Name:         h.name,
		Kind:         h.kind,
		State:        h.state,
		Capabilities: h.caps.String(),
	}
}

func (h *Handle) transition(to State) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.transitionLocked(to)
}

func (h *Handle) transitionLocked(to State) error {
	for _, next := range legalTransitions[h.state] {
		if next == to {
			h.state = to
			return nil
		}
	}
	return fmt.Errorf("%w: %s %s -> %s", ErrInvalidStateTransition, h.id, h.state, to)
}

// beginAttach moves Detached -> Attaching and records the view's capabilities.
func (h *Handle) beginAttach(caps Capabilities) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.transitionLocked(StateAttaching); err != nil {
		return err
	}
	h.caps = caps
	return nil
}

// retire closes the handle whatever its state. Reports whether it was live.
func (h *Handle) retire() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == StateClosed {
		return false
	}
	h.state = StateClosed
	return true
}
