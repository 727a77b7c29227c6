package service

import "sync"

// History is a fixed-capacity circular buffer of output lines, so readers that
// arrive late can catch up on recent output.
type History struct {
	mu    sync.RWMutex
	buf   []OutputLine
	pos   int
	full  bool
	bytes int64
}

// NewHistory creates a history keeping the last capacity lines.
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = 1
	}
	return &History{buf: make([]OutputLine, capacity)}
}

// Add appends a line, dropping the oldest one when full.
func (h *History) Add(line OutputLine) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.buf[h.pos] = line
	h.pos = (h.pos + 1) % len(h.buf)
	if h.pos == 0 {
		h.full = true
	}
	h.bytes += int64(len(line.Data))
}

// Lines returns the kept lines, oldest first.
func (h *History) Lines() []OutputLine {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if !h.full {
		return append([]OutputLine(nil), h.buf[:h.pos]...)
	}
	result := make([]OutputLine, 0, len(h.buf))
	result = append(result, h.buf[h.pos:]...)
	return append(result, h.buf[:h.pos]...)
}

// Tail returns at most the n newest lines, oldest first. n <= 0 means all.
func (h *History) Tail(n int) []OutputLine {
	lines := h.Lines()
	if n > 0 && n < len(lines) {
		lines = lines[len(lines)-n:]
	}
	return lines
}

// Bytes is the total size of every line ever added, including dropped ones.
func (h *History) Bytes() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.bytes
}
