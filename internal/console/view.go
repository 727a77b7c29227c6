// Package console implements the console surface: an ANSI text pane with a
// command line underneath, built from tview primitives.
package console

import (
	"io"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"surfacehost/internal/surface"
)

const (
	DefaultScrollback = 1000
	maxHistory        = 100
	detachedLabel     = "(detached) "
	promptLabel       = "> "
)

// View is a console binding. Every method runs on the UI goroutine.
type View struct {
	spec surface.ViewSpec
	emit surface.Emitter

	text  *tview.TextView
	input *tview.InputField
	root  *tview.Flex
	ansi  io.Writer

	history []string
	histPos int

	columns  int
	rows     int
	detached bool
}

// New builds a console view that reports to emit.
func New(spec surface.ViewSpec, emit surface.Emitter, scrollback int) *View {
	if scrollback <= 0 {
		scrollback = DefaultScrollback
	}

	text := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWrap(true).
		SetMaxLines(scrollback)
	text.SetTitle(spec.Name).SetTitleAlign(tview.AlignLeft).SetBorder(true)

	input := tview.NewInputField().SetLabel(promptLabel)

	v := &View{
		spec:  spec,
		emit:  emit,
		text:  text,
		input: input,
		ansi:  newTagEscaper(tview.ANSIWriter(text)),
	}

	input.SetDoneFunc(func(key tcell.Key) {
		if key == tcell.KeyEnter {
			v.submit(input.GetText())
		}
	})
	input.SetInputCapture(v.captureKey)
	text.SetDrawFunc(v.trackSize)

	v.root = tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(text, 0, 1, false).
		AddItem(input, 1, 0, true)
	if !spec.Capabilities.Has(surface.CapInput) {
		v.disableInput()
	}
	return v
}

// Primitive is the widget tree to mount on screen.
func (v *View) Primitive() tview.Primitive { return v.root }

// Input is the command line, the primitive that should hold focus.
func (v *View) Input() *tview.InputField { return v.input }

// Text returns the console contents without color tags.
func (v *View) Text() string { return v.text.GetText(true) }

// Size is the last size set by a resize command or observed on screen.
func (v *View) Size() (columns, rows int) { return v.columns, v.rows }

func (v *View) OnCommand(cmd surface.RenderCommand) {
	switch cmd.Type {
	case surface.CommandWrite:
		v.ansi.Write(cmd.Data)
		v.text.ScrollToEnd()
	case surface.CommandClear:
		v.text.Clear()
	case surface.CommandResize:
		v.columns, v.rows = cmd.Width, cmd.Height
		v.emit.Emit(surface.Resized(cmd.Width, cmd.Height))
	case surface.CommandClose:
		v.disableInput()
	}
}

func (v *View) Teardown() {
	v.disableInput()
}

func (v *View) submit(line string) {
	if v.detached || strings.TrimSpace(line) == "" {
		return
	}
	v.history = append(v.history, line)
	if len(v.history) > maxHistory {
		v.history = v.history[len(v.history)-maxHistory:]
	}
	v.histPos = len(v.history)
	v.input.SetText("")
	v.emit.Emit(surface.InputText(line))
}

// recall walks the command history; delta -1 is older, +1 newer.
func (v *View) recall(delta int) {
	if len(v.history) == 0 {
		return
	}
	pos := v.histPos + delta
	if pos < 0 {
		pos = 0
	}
	if pos >= len(v.history) {
		v.histPos = len(v.history)
		v.input.SetText("")
		return
	}
	v.histPos = pos
	v.input.SetText(v.history[pos])
}

func (v *View) captureKey(ev *tcell.EventKey) *tcell.EventKey {
	if v.detached {
		return nil
	}
	switch ev.Key() {
	case tcell.KeyUp:
		v.recall(-1)
		return nil
	case tcell.KeyDown:
		v.recall(1)
		return nil
	}
	return ev
}

// trackSize reports on-screen size changes of the text area as Resized events.
// The text view is bordered, so its inner area is one cell in on every side.
func (v *View) trackSize(_ tcell.Screen, x, y, width, height int) (int, int, int, int) {
	x, y, width, height = x+1, y+1, width-2, height-2
	if width > 0 && height > 0 && (width != v.columns || height != v.rows) {
		v.columns, v.rows = width, height
		v.emit.Emit(surface.Resized(width, height))
	}
	return x, y, width, height
}

func (v *View) disableInput() {
	v.detached = true
	v.input.SetLabel(detachedLabel)
	v.input.SetText("")
}
