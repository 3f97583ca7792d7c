package util

import "strings"

// Escape parser states. OSC, DCS, APC and PM strings share one state since
// all of them run until BEL or ST (ESC \).
const (
	termText = iota
	termEscape
	termCSI
	termString
	termStringEscape
)

// TerminalLines turns raw pseudo-terminal output into plain text lines.
// Control sequences are removed and the text is split on '\n' with trailing
// carriage returns dropped. State carries across writes, so sequences and
// lines may be split between chunks.
type TerminalLines struct {
	state  int
	line   []byte
	onLine func(string)
}

func NewTerminalLines(onLine func(string)) *TerminalLines {
	return &TerminalLines{onLine: onLine}
}

func (t *TerminalLines) Write(b []byte) (int, error) {
	for _, c := range b {
		switch t.state {
		case termText:
			switch {
			case c == 0x1b:
				t.state = termEscape
			case c == '\n':
				t.emit()
			case c == '\t' || c == '\r' || c >= 0x20:
				t.line = append(t.line, c)
			}
		case termEscape:
			switch c {
			case '[':
				t.state = termCSI
			case ']', 'P', '_', '^':
				t.state = termString
			default:
				// two-byte sequences such as ESC = or ESC 7
				t.state = termText
			}
		case termCSI:
			if c >= 0x40 && c <= 0x7e {
				t.state = termText
			}
		case termString:
			switch c {
			case 0x07:
				t.state = termText
			case 0x1b:
				t.state = termStringEscape
			}
		case termStringEscape:
			if c == '\\' {
				t.state = termText
			} else {
				t.state = termString
			}
		}
	}
	return len(b), nil
}

// Flush emits a trailing line that had no newline.
func (t *TerminalLines) Flush() {
	if len(t.line) > 0 {
		t.emit()
	}
}

func (t *TerminalLines) emit() {
	line := strings.TrimRight(string(t.line), "\r")
	t.line = t.line[:0]
	t.onLine(line)
}
