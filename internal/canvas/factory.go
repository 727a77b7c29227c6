package canvas

import (
	"surfacehost/internal/surface"
)

// Factory creates offscreen canvases of a fixed initial size.
type Factory struct {
	Width  int
	Height int
}

func NewFactory(width, height int) *Factory {
	if width <= 0 {
		width = DefaultWidth
	}
	if height <= 0 {
		height = DefaultHeight
	}
	return &Factory{Width: width, Height: height}
}

func (f *Factory) Supports(spec surface.ViewSpec) bool {
	return spec.Kind == surface.KindCanvas
}

func (f *Factory) CreateView(spec surface.ViewSpec, emit surface.Emitter) (surface.ViewBinding, error) {
	v, err := NewOffscreen(spec, emit, f.Width, f.Height)
	if err != nil {
		return nil, err
	}
	if err := emit.Emit(surface.Ready()); err != nil {
		v.Teardown()
		return nil, err
	}
	return v, nil
}
