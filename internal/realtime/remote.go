package realtime

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"surfacehost/internal/protocol"
	"surfacehost/internal/surface"
)

// viewer is a websocket client's offer to show one custom surface. It stays
// registered across bindings until the client detaches or disconnects.
type viewer struct {
	client *client
	name   string

	mu   sync.Mutex
	view *remoteView
}

func (v *viewer) emit(ev surface.ViewEvent) error {
	v.mu.Lock()
	rv := v.view
	v.mu.Unlock()

	if rv == nil {
		return fmt.Errorf("%w: %s is not bound to a runtime", surface.ErrInvalidStateTransition, v.name)
	}
	return rv.emitter.Emit(ev)
}

// detach ends the current binding from the view side.
func (v *viewer) detach(reason string) {
	v.mu.Lock()
	rv := v.view
	v.view = nil
	v.mu.Unlock()

	if rv != nil {
		rv.closed.Store(true)
		rv.emitter.Emit(surface.Detached(reason))
	}
}

// remoteView is the binding for a custom surface shown by a websocket client.
// Commands are forwarded as protocol messages in the order they arrive.
type remoteView struct {
	viewer  *viewer
	emitter surface.Emitter
	closed  atomic.Bool
}

func (rv *remoteView) OnCommand(cmd surface.RenderCommand) {
	if rv.closed.Load() {
		return
	}
	msg, err := protocol.CommandMessage(rv.viewer.name, cmd)
	if err != nil {
		log.Printf("surface %s: %v", rv.viewer.name, err)
		return
	}
	if cmd.Type == surface.CommandClose {
		rv.closed.Store(true)
	}
	if !rv.viewer.client.sendMessage(msg) {
		// A view that misses a command would show the wrong thing from then on.
		rv.closed.Store(true)
		rv.emitter.Emit(surface.Detached("remote view not keeping up"))
	}
}

func (rv *remoteView) Teardown() {
	v := rv.viewer
	v.mu.Lock()
	if v.view == rv {
		v.view = nil
	}
	v.mu.Unlock()

	if rv.closed.Swap(true) {
		return
	}
	msg, err := protocol.NewMessage(protocol.TypeSurfaceClose, protocol.SurfaceClosePayload{
		Surface: v.name,
		Reason:  "detached",
	})
	if err == nil {
		v.client.sendMessage(msg)
	}
}

// RemoteViews creates bindings for custom surfaces that a websocket client
// has offered to show with view.attach.
type RemoteViews struct {
	s *Server
}

// Views returns the factory for the registry's custom kind.
func (s *Server) Views() *RemoteViews {
	return &RemoteViews{s: s}
}

func (f *RemoteViews) Supports(spec surface.ViewSpec) bool {
	if spec.Kind != surface.KindCustom {
		return false
	}
	f.s.viewersMu.Lock()
	v, ok := f.s.viewers[spec.Name]
	f.s.viewersMu.Unlock()
	if !ok {
		return false
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.view == nil
}

func (f *RemoteViews) CreateView(spec surface.ViewSpec, emit surface.Emitter) (surface.ViewBinding, error) {
	f.s.viewersMu.Lock()
	v, ok := f.s.viewers[spec.Name]
	f.s.viewersMu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: no client is showing %s", surface.ErrSurfaceUnavailable, spec.Name)
	}

	rv := &remoteView{viewer: v, emitter: emit}
	v.mu.Lock()
	if v.view != nil {
		v.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", surface.ErrAlreadyAttached, spec.Name)
	}
	v.view = rv
	v.mu.Unlock()

	msg, err := protocol.NewMessage(protocol.TypeSurfaceAttached, protocol.SurfaceAttachedPayload{
		Surface: spec.Name,
		Kind:    string(spec.Kind),
	})
	if err == nil && v.client.sendMessage(msg) {
		return rv, nil
	}

	v.mu.Lock()
	v.view = nil
	v.mu.Unlock()
	return nil, fmt.Errorf("%w: client for %s is not reachable", surface.ErrSurfaceUnavailable, spec.Name)
}

// offerViewer registers c as the viewer of name. On failure it returns the
// wire error code to report.
func (s *Server) offerViewer(c *client, name, kind string) (string, error) {
	if kind != "" {
		k, err := surface.ParseKind(kind)
		if err != nil {
			return protocol.ErrInvalidMessage, err
		}
		if k != surface.KindCustom {
			return protocol.ErrSurfaceUnavailable, fmt.Errorf("remote views only show %s surfaces, not %s", surface.KindCustom, k)
		}
	}
	if h, ok := s.reg.Lookup(name); ok && h.Kind() != surface.KindCustom {
		err := fmt.Errorf("%w: %s is %s", surface.ErrKindMismatch, name, h.Kind())
		return protocol.CodeFor(err), err
	}

	s.viewersMu.Lock()
	defer s.viewersMu.Unlock()

	if v, ok := s.viewers[name]; ok {
		if v.client == c {
			return "", nil
		}
		err := fmt.Errorf("%w: %s already has a viewer", surface.ErrAlreadyAttached, name)
		return protocol.CodeFor(err), err
	}
	s.viewers[name] = &viewer{client: c, name: name}
	return "", nil
}

func (s *Server) dropViewer(c *client, name string) (*viewer, bool) {
	s.viewersMu.Lock()
	defer s.viewersMu.Unlock()

	v, ok := s.viewers[name]
	if !ok || v.client != c {
		return nil, false
	}
	delete(s.viewers, name)
	return v, true
}

func (s *Server) dropViewers(c *client) []*viewer {
	s.viewersMu.Lock()
	defer s.viewersMu.Unlock()

	var dropped []*viewer
	for name, v := range s.viewers {
		if v.client == c {
			dropped = append(dropped, v)
			delete(s.viewers, name)
		}
	}
	return dropped
}
