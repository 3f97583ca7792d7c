package util

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

// Printer serializes writes to one output so that lines printed from
// concurrently running targets never interleave mid-line. While suspended
// (for example during an interactive prompt) output is discarded.
type Printer struct {
	mu        sync.Mutex
	w         io.Writer
	suspended bool
}

var Default = NewPrinter(os.Stdout)

func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w}
}

func (p *Printer) write(msg string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.suspended {
		return
	}
	io.WriteString(p.w, msg)
}

func (p *Printer) Printf(format string, a ...interface{}) { p.write(fmt.Sprintf(format, a...)) }

func (p *Printer) Println(a ...interface{}) { p.write(fmt.Sprintln(a...)) }

// PrintBlock writes a possibly multi-line block in one piece, terminated by a
// newline.
func (p *Printer) PrintBlock(block string) {
	if !strings.HasSuffix(block, "\n") {
		block += "\n"
	}
	p.write(block)
}

func (p *Printer) Suspend() {
	p.mu.Lock()
	p.suspended = true
	p.mu.Unlock()
}

func (p *Printer) Resume() {
	p.mu.Lock()
	p.suspended = false
	p.mu.Unlock()
}
