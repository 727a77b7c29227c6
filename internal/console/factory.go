package console

import (
	"sync/atomic"

	"github.com/rivo/tview"

	"surfacehost/internal/surface"
)

// Mounter puts a freshly created view on screen.
type Mounter interface {
	Mount(name string, v *View)
}

// Factory creates console views for the registry.
type Factory struct {
	mounter    Mounter
	scrollback atomic.Int64
}

// NewFactory creates a console factory. mounter may be nil for offscreen views.
func NewFactory(mounter Mounter, scrollback int) *Factory {
	f := &Factory{mounter: mounter}
	f.SetScrollback(scrollback)
	return f
}

// SetScrollback changes the line limit for views created from now on.
func (f *Factory) SetScrollback(lines int) {
	if lines <= 0 {
		lines = DefaultScrollback
	}
	f.scrollback.Store(int64(lines))
}

func (f *Factory) Supports(spec surface.ViewSpec) bool {
	return spec.Kind == surface.KindConsole
}

func (f *Factory) CreateView(spec surface.ViewSpec, emit surface.Emitter) (surface.ViewBinding, error) {
	v := New(spec, emit, int(f.scrollback.Load()))
	if f.mounter != nil {
		f.mounter.Mount(spec.Name, v)
	}
	if err := emit.Emit(surface.Ready()); err != nil {
		return nil, err
	}
	return v, nil
}

// Pages mounts each console as a page of a tview.Pages, replacing any earlier
// page with the same surface name, and focuses its command line.
type Pages struct {
	app   *tview.Application
	pages *tview.Pages
}

func NewPages(app *tview.Application, pages *tview.Pages) *Pages {
	return &Pages{app: app, pages: pages}
}

func (p *Pages) Mount(name string, v *View) {
	p.pages.AddAndSwitchToPage(name, v.Primitive(), true)
	if p.app != nil {
		p.app.SetFocus(v.Input())
	}
}
