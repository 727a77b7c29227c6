package surface

import (
	"fmt"
	"sync"
)

// ViewSpec describes the view a registry asks a factory to create.
type ViewSpec struct {
	HandleID     string
	Name         string
	Kind         Kind
	Capabilities Capabilities
}

// Emitter is the view-side end of a channel. Bindings push events through it.
type Emitter interface {
	Emit(ev ViewEvent) error
}

// ViewBinding is the concrete view fulfilling the surface contract for a kind.
// OnCommand and Teardown are only ever called on the scheduler's goroutine.
// A binding confirms readiness by emitting Ready.
type ViewBinding interface {
	OnCommand(cmd RenderCommand)
	Teardown()
}

// ViewFactory creates bindings. Supports is called synchronously from Bind,
// CreateView later on the scheduler's goroutine.
type ViewFactory interface {
	Supports(spec ViewSpec) bool
	CreateView(spec ViewSpec, emit Emitter) (ViewBinding, error)
}

// Scheduler posts work onto the goroutine that owns the views.
// Posted functions must run one at a time, in the order they were posted.
// Post must not run fn before returning: the registry posts while holding
// its lock.
type Scheduler interface {
	Post(fn func())
}

// FactoryMux selects a factory by surface kind.
type FactoryMux struct {
	mu        sync.RWMutex
	factories map[Kind]ViewFactory
}

// NewFactoryMux creates an empty mux.
func NewFactoryMux() *FactoryMux {
	return &FactoryMux{factories: make(map[Kind]ViewFactory)}
}

// Handle registers f for kind, replacing any previous factory.
func (m *FactoryMux) Handle(kind Kind, f ViewFactory) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.factories[kind] = f
}

func (m *FactoryMux) lookup(kind Kind) (ViewFactory, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.factories[kind]
	return f, ok
}

func (m *FactoryMux) Supports(spec ViewSpec) bool {
	f, ok := m.lookup(spec.Kind)
	return ok && f.Supports(spec)
}

func (m *FactoryMux) CreateView(spec ViewSpec, emit Emitter) (ViewBinding, error) {
	f, ok := m.lookup(spec.Kind)
	if !ok {
		return nil, fmt.Errorf("%w: no view factory for kind %s", ErrSurfaceUnavailable, spec.Kind)
	}
	return f.CreateView(spec, emit)
}
