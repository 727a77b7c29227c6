package console

import "io"

// States of tagEscaper.
const (
	escText = iota
	escOpen
	escTag
	escBrackets
	escEscape
	escCSI
)

// tagEscaper escapes runtime text that would otherwise be read as a tview
// style or region tag, the way tview.Escape does, but across writes and
// without touching ANSI escape sequences, which tview.ANSIWriter translates
// further down.
type tagEscaper struct {
	w     io.Writer
	state int
	buf   []byte
}

func newTagEscaper(w io.Writer) *tagEscaper {
	return &tagEscaper{w: w}
}

func (e *tagEscaper) Write(p []byte) (int, error) {
	e.buf = e.buf[:0]
	for _, b := range p {
		switch e.state {
		case escEscape:
			if b == '[' {
				e.state = escCSI
			} else {
				e.state = escText
			}
		case escCSI:
			// Parameter and intermediate bytes continue the sequence. A final
			// byte ends it and anything else aborts it.
			if b < 0x20 || b > 0x3f {
				e.state = escText
			}
		default:
			switch {
			case b == 0x1b:
				e.state = escEscape
			case b == '[':
				if e.state == escTag || e.state == escBrackets {
					e.state = escBrackets
				} else {
					e.state = escOpen
				}
			case b == ']':
				if e.state == escTag || e.state == escBrackets {
					e.buf = append(e.buf, '[')
				}
				e.state = escText
			case isTagByte(b):
				if e.state != escText {
					e.state = escTag
				}
			default:
				e.state = escText
			}
		}
		e.buf = append(e.buf, b)
	}

	if _, err := e.w.Write(e.buf); err != nil {
		return 0, err
	}
	return len(p), nil
}

// isTagByte reports whether b may appear between the brackets of a tag.
func isTagByte(b byte) bool {
	switch {
	case b >= 'a' && b <= 'z', b >= 'A' && b <= 'Z', b >= '0' && b <= '9':
		return true
	}
	switch b {
	case '_', ',', ';', ':', ' ', '-', '.', '"', '#':
		return true
	}
	return false
}
