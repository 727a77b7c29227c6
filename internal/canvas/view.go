// Package canvas implements the canvas surface: a cell grid on a tcell screen
// that runtimes draw text into.
package canvas

import (
	"fmt"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/mattn/go-runewidth"

	"surfacehost/internal/surface"
)

const (
	DefaultWidth  = 80
	DefaultHeight = 24
)

// View is a canvas binding. Every method runs on the UI goroutine.
type View struct {
	spec   surface.ViewSpec
	emit   surface.Emitter
	screen tcell.Screen
	style  tcell.Style

	x, y int
}

// New wraps an initialised screen.
func New(spec surface.ViewSpec, emit surface.Emitter, screen tcell.Screen) *View {
	return &View{
		spec:   spec,
		emit:   emit,
		screen: screen,
		style:  tcell.StyleDefault,
	}
}

// NewOffscreen creates a canvas on its own simulation screen of the given size.
func NewOffscreen(spec surface.ViewSpec, emit surface.Emitter, width, height int) (*View, error) {
	sim := tcell.NewSimulationScreen("UTF-8")
	if err := sim.Init(); err != nil {
		return nil, fmt.Errorf("init canvas screen: %w", err)
	}
	sim.SetSize(width, height)
	return New(spec, emit, sim), nil
}

func (v *View) OnCommand(cmd surface.RenderCommand) {
	switch cmd.Type {
	case surface.CommandWrite:
		v.draw(string(cmd.Data))
	case surface.CommandClear:
		v.screen.Clear()
		v.x, v.y = 0, 0
	case surface.CommandResize:
		if sim, ok := v.screen.(tcell.SimulationScreen); ok {
			sim.SetSize(cmd.Width, cmd.Height)
		}
		w, h := v.screen.Size()
		v.clampCursor(w, h)
		v.emit.Emit(surface.Resized(w, h))
	}
	v.screen.Show()
}

func (v *View) Teardown() {
	v.screen.Fini()
}

// HandleEvent translates screen events into view events.
func (v *View) HandleEvent(ev tcell.Event) {
	switch ev := ev.(type) {
	case *tcell.EventKey:
		switch ev.Key() {
		case tcell.KeyRune:
			v.emit.Emit(surface.InputText(string(ev.Rune())))
		case tcell.KeyEnter:
			v.emit.Emit(surface.InputText("\n"))
		}
	case *tcell.EventResize:
		w, h := ev.Size()
		v.clampCursor(w, h)
		v.emit.Emit(surface.Resized(w, h))
	}
}

// Lines returns the grid as text, one string per row, trailing blanks trimmed.
func (v *View) Lines() []string {
	w, h := v.screen.Size()
	lines := make([]string, h)
	for row := 0; row < h; row++ {
		var b strings.Builder
		for col := 0; col < w; {
			r, _, _, width := v.screen.GetContent(col, row)
			if r == 0 {
				r = ' '
			}
			b.WriteRune(r)
			if width < 1 {
				width = 1
			}
			col += width
		}
		lines[row] = strings.TrimRight(b.String(), " ")
	}
	return lines
}

// Cursor is where the next glyph will be placed.
func (v *View) Cursor() (x, y int) { return v.x, v.y }

func (v *View) draw(s string) {
	w, h := v.screen.Size()
	if w <= 0 || h <= 0 {
		return
	}
	for _, r := range s {
		switch r {
		case '\n':
			v.newline(h)
			continue
		case '\r':
			v.x = 0
			continue
		}
		rw := runewidth.RuneWidth(r)
		if rw == 0 {
			continue
		}
		if v.x+rw > w {
			v.newline(h)
		}
		v.screen.SetContent(v.x, v.y, r, nil, v.style)
		v.x += rw
	}
}

func (v *View) newline(h int) {
	v.x = 0
	v.y++
	if v.y >= h {
		v.scroll()
		v.y = h - 1
	}
}

// scroll moves every row up by one and blanks the last.
func (v *View) scroll() {
	w, h := v.screen.Size()
	for row := 1; row < h; row++ {
		for col := 0; col < w; col++ {
			r, comb, style, _ := v.screen.GetContent(col, row)
			v.screen.SetContent(col, row-1, r, comb, style)
		}
	}
	for col := 0; col < w; col++ {
		v.screen.SetContent(col, h-1, ' ', nil, v.style)
	}
}

func (v *View) clampCursor(w, h int) {
	if v.x >= w {
		v.x = 0
	}
	if v.y >= h {
		v.y = h - 1
	}
	if v.y < 0 {
		v.y = 0
	}
}
