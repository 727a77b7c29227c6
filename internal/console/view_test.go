package console

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gdamore/tcell/v2"

	"surfacehost/internal/surface"
	"surfacehost/internal/uithread"
)

type emitted struct {
	mu     sync.Mutex
	events []surface.ViewEvent
}

func (e *emitted) Emit(ev surface.ViewEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev)
	return nil
}

func (e *emitted) all() []surface.ViewEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]surface.ViewEvent(nil), e.events...)
}

func newTestView(t *testing.T) (*View, *emitted) {
	t.Helper()
	em := &emitted{}
	spec := surface.ViewSpec{
		Name:         "console",
		Kind:         surface.KindConsole,
		Capabilities: surface.DefaultCapabilities(surface.KindConsole),
	}
	return New(spec, em, 100), em
}

func TestView_WriteTranslatesANSI(t *testing.T) {
	v, _ := newTestView(t)

	v.OnCommand(surface.Write([]byte("hello\n")))
	v.OnCommand(surface.Write([]byte("\x1b[31mboom\x1b[0m\n")))

	got := v.Text()
	if !strings.Contains(got, "hello") || !strings.Contains(got, "boom") {
		t.Errorf("expected both lines in console, got %q", got)
	}
	if strings.Contains(got, "\x1b[") {
		t.Errorf("expected escape sequences translated, got %q", got)
	}
}

func TestView_WriteKeepsBracketsLiteral(t *testing.T) {
	tests := []struct {
		name   string
		writes []string
		want   string
	}{
		{"color tag", []string{"arr=[red] and [::b]bold"}, "arr=[red] and [::b]bold"},
		{"region tag", []string{`["a"]x[""]`}, `["a"]x[""]`},
		{"split across writes", []string{"x[re", "d]y"}, "x[red]y"},
		{"already escaped", []string{"[red[]"}, "[red[]"},
		{"not a tag", []string{"[] [a b!] [ü]"}, "[] [a b!] [ü]"},
		{"next to ansi", []string{"\x1b[31m[warn]\x1b[0m ok"}, "[warn] ok"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, _ := newTestView(t)
			for _, w := range tt.writes {
				v.OnCommand(surface.Write([]byte(w)))
			}
			if got := v.Text(); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestView_Clear(t *testing.T) {
	v, _ := newTestView(t)
	v.OnCommand(surface.Write([]byte("old output\n")))
	v.OnCommand(surface.Clear())

	if got := strings.TrimSpace(v.Text()); got != "" {
		t.Errorf("expected empty console after clear, got %q", got)
	}
}

func TestView_ResizeReportsSize(t *testing.T) {
	v, em := newTestView(t)
	v.OnCommand(surface.Resize(120, 40))

	if c, r := v.Size(); c != 120 || r != 40 {
		t.Errorf("expected 120x40, got %dx%d", c, r)
	}
	events := em.all()
	if len(events) != 1 || events[0].Type != surface.EventResized || events[0].Width != 120 {
		t.Errorf("expected resized(120,40), got %v", events)
	}
}

func TestView_SubmitEmitsInputAndKeepsHistory(t *testing.T) {
	v, em := newTestView(t)

	v.submit("1+1")
	v.submit("   ")
	v.submit("process.version")

	events := em.all()
	if len(events) != 2 {
		t.Fatalf("expected 2 input events, got %v", events)
	}
	if events[0].Text != "1+1" || events[1].Text != "process.version" {
		t.Errorf("unexpected inputs %v", events)
	}

	up := tcell.NewEventKey(tcell.KeyUp, 0, tcell.ModNone)
	if v.captureKey(up) != nil {
		t.Error("expected up arrow to be consumed")
	}
	if got := v.input.GetText(); got != "process.version" {
		t.Errorf("expected last command recalled, got %q", got)
	}
	v.captureKey(up)
	v.captureKey(up)
	if got := v.input.GetText(); got != "1+1" {
		t.Errorf("expected oldest command, got %q", got)
	}

	down := tcell.NewEventKey(tcell.KeyDown, 0, tcell.ModNone)
	v.captureKey(down)
	v.captureKey(down)
	if got := v.input.GetText(); got != "" {
		t.Errorf("expected empty line past newest entry, got %q", got)
	}
}

func TestView_CloseDisablesInput(t *testing.T) {
	v, em := newTestView(t)
	v.OnCommand(surface.Close())

	v.submit("ignored")
	if len(em.all()) != 0 {
		t.Errorf("expected no input after close, got %v", em.all())
	}
	if v.input.GetLabel() != detachedLabel {
		t.Errorf("expected detached label, got %q", v.input.GetLabel())
	}
	key := tcell.NewEventKey(tcell.KeyRune, 'x', tcell.ModNone)
	if v.captureKey(key) != nil {
		t.Error("expected keys swallowed once detached")
	}
}

func TestView_WithoutInputCapability(t *testing.T) {
	spec := surface.ViewSpec{Name: "log", Kind: surface.KindConsole, Capabilities: surface.Caps(surface.CapWrite)}
	v := New(spec, &emitted{}, 0)
	if !v.detached {
		t.Error("expected command line disabled without input capability")
	}
}

type recordingMounter struct {
	mu    sync.Mutex
	views map[string]*View
}

func (m *recordingMounter) Mount(name string, v *View) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.views == nil {
		m.views = make(map[string]*View)
	}
	m.views[name] = v
}

func (m *recordingMounter) view(name string) *View {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.views[name]
}

func TestFactory_Supports(t *testing.T) {
	f := NewFactory(nil, 0)
	if !f.Supports(surface.ViewSpec{Kind: surface.KindConsole}) {
		t.Error("expected console supported")
	}
	if f.Supports(surface.ViewSpec{Kind: surface.KindCanvas}) {
		t.Error("expected canvas rejected")
	}
}

func TestFactory_ThroughRegistry(t *testing.T) {
	loop := uithread.New()
	loop.Start()
	defer loop.Stop()

	m := &recordingMounter{}
	reg := surface.NewRegistry(NewFactory(m, 50), loop)
	d := surface.NewDispatcher(reg, nil)

	if err := d.Write("console", surface.KindConsole, []byte("hi\n")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if !loop.Flush(time.Second) {
		t.Fatal("ui loop stalled")
	}

	h, _ := reg.Lookup("console")
	if h.State() != surface.StateAttached {
		t.Fatalf("expected attached, got %s", h.State())
	}

	var text string
	loop.Post(func() { text = m.view("console").Text() })
	loop.Flush(time.Second)
	if !strings.Contains(text, "hi") {
		t.Errorf("expected console to show hi, got %q", text)
	}
}
