package executor

import (
	"fmt"
	"strings"
	"sync"
)

const (
	historyCapBytes = 307200
	evidenceLines   = 20
)

// RingBuffer stores lines with a total byte cap. FIFO when cap exceeded.
type RingBuffer struct {
	lines      []string
	totalBytes int
	capBytes   int
}

func NewRingBuffer(capBytes int) *RingBuffer {
	return &RingBuffer{capBytes: capBytes}
}

// Add appends a line and evicts oldest lines while totalBytes > capBytes
func (r *RingBuffer) Add(line string) {
	if line == "" {
		return
	}
	r.lines = append(r.lines, line)
	r.totalBytes += len(line)
	for r.totalBytes > r.capBytes && len(r.lines) > 0 {
		removed := r.lines[0]
		r.lines = r.lines[1:]
		r.totalBytes -= len(removed)
	}
}

// LastN returns up to n last lines (copy)
func (r *RingBuffer) LastN(n int) []string {
	if n <= 0 || len(r.lines) == 0 {
		return nil
	}
	if n > len(r.lines) {
		n = len(r.lines)
	}
	out := make([]string, n)
	copy(out, r.lines[len(r.lines)-n:])
	return out
}

// All returns a copy of all stored lines in the buffer.
func (r *RingBuffer) All() []string {
	return r.LastN(len(r.lines))
}

// history records one target's interleaved output so that a failure can be
// reported with the lines that led up to it.
type history struct {
	mu  sync.Mutex
	buf *RingBuffer
}

func newHistory() *history {
	return &history{buf: NewRingBuffer(historyCapBytes)}
}

func (h *history) add(line string) {
	h.mu.Lock()
	h.buf.Add(line)
	h.mu.Unlock()
}

// evidence formats the last n lines under a header, or "" when nothing was
// captured.
func (h *history) evidence(n int) string {
	h.mu.Lock()
	lines := h.buf.LastN(n)
	h.mu.Unlock()
	if len(lines) == 0 {
		return ""
	}
	return fmt.Sprintf("=== ERROR EVIDENCE (last %d lines) ===\n%s", len(lines), strings.Join(lines, "\n"))
}
