package surface

import (
	"errors"
	"sync"
	"testing"
	"time"

	"surfacehost/internal/uithread"
)

type fakeView struct {
	mu       sync.Mutex
	spec     ViewSpec
	emit     Emitter
	commands []RenderCommand
	torn     int
}

func (v *fakeView) OnCommand(cmd RenderCommand) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.commands = append(v.commands, cmd)
}

func (v *fakeView) Teardown() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.torn++
}

func (v *fakeView) received() []RenderCommand {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]RenderCommand(nil), v.commands...)
}

func (v *fakeView) teardowns() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.torn
}

type fakeFactory struct {
	mu         sync.Mutex
	reject     bool
	fail       error
	deferReady bool
	views      []*fakeView
}

func (f *fakeFactory) Supports(spec ViewSpec) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.reject
}

func (f *fakeFactory) CreateView(spec ViewSpec, emit Emitter) (ViewBinding, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return nil, f.fail
	}
	v := &fakeView{spec: spec, emit: emit}
	f.views = append(f.views, v)
	if !f.deferReady {
		emit.Emit(Ready())
	}
	return v, nil
}

func (f *fakeFactory) view(i int) *fakeView {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i >= len(f.views) {
		return nil
	}
	return f.views[i]
}

func newTestRegistry(t *testing.T, f ViewFactory) (*Registry, *uithread.Loop) {
	t.Helper()
	loop := uithread.New()
	loop.Start()
	t.Cleanup(loop.Stop)
	return NewRegistry(f, loop), loop
}

func flush(t *testing.T, loop *uithread.Loop) {
	t.Helper()
	if !loop.Flush(2 * time.Second) {
		t.Fatal("ui loop did not flush")
	}
}

func drainEvents(ch *Channel) []ViewEvent {
	var events []ViewEvent
	for {
		ev, ok := ch.Poll()
		if !ok {
			return events
		}
		events = append(events, ev)
	}
}

func TestHandle_Transitions(t *testing.T) {
	tests := []struct {
		name    string
		path    []State
		wantErr bool
	}{
		{"attach", []State{StateAttaching, StateAttached}, false},
		{"attach then close", []State{StateAttaching, StateAttached, StateClosed}, false},
		{"bind failure", []State{StateAttaching, StateClosed}, false},
		{"skip attaching", []State{StateAttached}, true},
		{"close detached", []State{StateClosed}, true},
		{"reopen closed", []State{StateAttaching, StateClosed, StateAttaching}, true},
		{"attached twice", []State{StateAttaching, StateAttached, StateAttached}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHandle("id", "console", KindConsole)
			var err error
			for _, s := range tt.path {
				if err = h.transition(s); err != nil {
					break
				}
			}
			if tt.wantErr && !errors.Is(err, ErrInvalidStateTransition) {
				t.Errorf("expected ErrInvalidStateTransition, got %v", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestCapabilities(t *testing.T) {
	caps := Caps(CapWrite, CapInput)
	if !caps.Has(CapWrite) || !caps.Has(CapInput) {
		t.Errorf("expected write and input in %s", caps)
	}
	if caps.Has(CapResize) {
		t.Errorf("did not expect resize in %s", caps)
	}
	if got := caps.String(); got != "write|input" {
		t.Errorf("expected write|input, got %s", got)
	}
	if got := Capabilities(0).String(); got != "none" {
		t.Errorf("expected none, got %s", got)
	}
}

func TestParseKind(t *testing.T) {
	for _, in := range []string{"console", "Canvas", " custom "} {
		if _, err := ParseKind(in); err != nil {
			t.Errorf("ParseKind(%q): %v", in, err)
		}
	}
	if _, err := ParseKind("window"); err == nil {
		t.Error("expected error for unknown kind")
	}
}

func TestRegistry_ResolveEmptyName(t *testing.T) {
	reg, _ := newTestRegistry(t, &fakeFactory{})
	if _, err := reg.Resolve("", KindConsole); !errors.Is(err, ErrInvalidName) {
		t.Fatalf("expected ErrInvalidName, got %v", err)
	}
}

func TestRegistry_ResolveReturnsSameHandle(t *testing.T) {
	reg, _ := newTestRegistry(t, &fakeFactory{})

	a, err := reg.Resolve("console", KindConsole)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	b, err := reg.Resolve("console", KindConsole)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if a != b {
		t.Error("expected the same handle for the same name")
	}
	if a.State() != StateDetached {
		t.Errorf("expected detached, got %s", a.State())
	}

	other, _ := reg.Resolve("Console", KindConsole)
	if other == a {
		t.Error("names must be case-sensitive")
	}
}

func TestRegistry_ConcurrentResolveCreatesOneHandle(t *testing.T) {
	reg, _ := newTestRegistry(t, &fakeFactory{})

	const callers = 64
	ids := make([]string, callers)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			h, err := reg.Resolve("console", KindConsole)
			if err != nil {
				t.Errorf("Resolve failed: %v", err)
				return
			}
			ids[i] = h.ID()
		}(i)
	}
	close(start)
	wg.Wait()

	for i, id := range ids {
		if id != ids[0] {
			t.Fatalf("caller %d saw id %s, caller 0 saw %s", i, id, ids[0])
		}
	}
	if n := len(reg.Snapshot()); n != 1 {
		t.Errorf("expected 1 live handle, got %d", n)
	}
}

func TestRegistry_ResolveKindMismatch(t *testing.T) {
	reg, _ := newTestRegistry(t, &fakeFactory{})
	reg.Resolve("out", KindConsole)

	if _, err := reg.Resolve("out", KindCanvas); !errors.Is(err, ErrKindMismatch) {
		t.Fatalf("expected ErrKindMismatch, got %v", err)
	}
}

func TestRegistry_ReleaseThenResolveGivesFreshHandle(t *testing.T) {
	f := &fakeFactory{}
	reg, loop := newTestRegistry(t, f)

	h, _ := reg.Resolve("console", KindConsole)
	if _, err := reg.Bind(h, DefaultCapabilities(KindConsole)); err != nil {
		t.Fatalf("Bind failed: %v", err)
	}
	flush(t, loop)

	reg.Release(h)
	reg.Release(h)
	if h.State() != StateClosed {
		t.Errorf("expected released handle closed, got %s", h.State())
	}

	fresh, err := reg.Resolve("console", KindConsole)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if fresh.ID() == h.ID() {
		t.Error("expected a new id after release")
	}
	if fresh.State() != StateDetached {
		t.Errorf("expected detached, got %s", fresh.State())
	}

	flush(t, loop)
	if n := f.view(0).teardowns(); n != 1 {
		t.Errorf("expected one teardown, got %d", n)
	}
}

func TestRegistry_ReleaseUnboundHandle(t *testing.T) {
	reg, _ := newTestRegistry(t, &fakeFactory{})
	h, _ := reg.Resolve("console", KindConsole)

	reg.Release(h)
	if h.State() != StateClosed {
		t.Errorf("expected closed, got %s", h.State())
	}
	if _, err := reg.Bind(h, Caps(CapWrite)); !errors.Is(err, ErrInvalidStateTransition) {
		t.Errorf("expected ErrInvalidStateTransition binding a closed handle, got %v", err)
	}
}

func TestRegistry_BindAttachesAsynchronously(t *testing.T) {
	f := &fakeFactory{deferReady: true}
	reg, loop := newTestRegistry(t, f)

	h, _ := reg.Resolve("console", KindConsole)
	ch, err := reg.Bind(h, Caps(CapWrite, CapInput))
	if err != nil {
		t.Fatalf("Bind failed: %v", err)
	}
	if h.State() != StateAttaching {
		t.Fatalf("expected attaching right after bind, got %s", h.State())
	}
	flush(t, loop)
	if h.State() != StateAttaching {
		t.Fatalf("expected attaching until the view is ready, got %s", h.State())
	}

	if err := f.view(0).emit.Emit(Ready()); err != nil {
		t.Fatalf("Emit failed: %v", err)
	}
	if h.State() != StateAttached {
		t.Errorf("expected attached, got %s", h.State())
	}
	if !h.Capabilities().Has(CapInput) {
		t.Errorf("expected handle to carry view capabilities, got %s", h.Capabilities())
	}
	events := drainEvents(ch)
	if len(events) != 1 || events[0].Type != EventReady {
		t.Errorf("expected a single ready event, got %v", events)
	}
	if ch.HandleID() != h.ID() {
		t.Errorf("expected channel for %s, got %s", h.ID(), ch.HandleID())
	}
}

func TestRegistry_BindAlreadyAttached(t *testing.T) {
	f := &fakeFactory{}
	reg, loop := newTestRegistry(t, f)

	h, _ := reg.Resolve("console", KindConsole)
	ch, err := reg.Bind(h, DefaultCapabilities(KindConsole), WithOwner("rt-1"))
	if err != nil {
		t.Fatalf("Bind failed: %v", err)
	}
	flush(t, loop)

	if _, err := reg.Bind(h, DefaultCapabilities(KindConsole)); !errors.Is(err, ErrAlreadyAttached) {
		t.Fatalf("expected ErrAlreadyAttached, got %v", err)
	}
	if h.State() != StateAttached {
		t.Errorf("expected state unchanged, got %s", h.State())
	}
	if closed, _ := ch.Closed(); closed {
		t.Fatal("existing channel must stay open")
	}
	if ch.Owner() != "rt-1" {
		t.Errorf("expected owner rt-1, got %s", ch.Owner())
	}

	if err := ch.Send(Write([]byte("still here"))); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	flush(t, loop)
	got := f.view(0).received()
	if len(got) != 1 || string(got[0].Data) != "still here" {
		t.Errorf("expected existing channel to keep delivering, got %v", got)
	}
}

func TestRegistry_BindUnsupported(t *testing.T) {
	reg, _ := newTestRegistry(t, &fakeFactory{reject: true})

	h, _ := reg.Resolve("plot", KindCanvas)
	if _, err := reg.Bind(h, Caps(CapWrite)); !errors.Is(err, ErrSurfaceUnavailable) {
		t.Fatalf("expected ErrSurfaceUnavailable, got %v", err)
	}
	if h.State() != StateDetached {
		t.Errorf("expected state unchanged, got %s", h.State())
	}
}

func TestRegistry_CreateViewFailureClosesHandle(t *testing.T) {
	f := &fakeFactory{fail: errors.New("no window")}
	reg, loop := newTestRegistry(t, f)

	h, _ := reg.Resolve("console", KindConsole)
	ch, err := reg.Bind(h, Caps(CapWrite))
	if err != nil {
		t.Fatalf("Bind failed: %v", err)
	}
	flush(t, loop)

	if h.State() != StateClosed {
		t.Errorf("expected closed after failed bind, got %s", h.State())
	}
	events := drainEvents(ch)
	if len(events) != 1 || events[0].Type != EventDetached {
		t.Fatalf("expected a detached event, got %v", events)
	}
	if _, ok := reg.Lookup("console"); ok {
		t.Error("expected name to be freed")
	}
}

func TestRegistry_Snapshot(t *testing.T) {
	reg, _ := newTestRegistry(t, &fakeFactory{})
	reg.Resolve("b", KindCanvas)
	reg.Resolve("a", KindConsole)

	snap := reg.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(snap))
	}
	if snap[0].Name != "a" || snap[1].Name != "b" {
		t.Errorf("expected sorted names, got %s, %s", snap[0].Name, snap[1].Name)
	}
	if snap[0].State != StateDetached || snap[0].Capabilities != "none" {
		t.Errorf("unexpected snapshot %+v", snap[0])
	}
}
