package template

import (
	"regexp"
	"strconv"
	"strings"
)

const (
	tagOpen  = "{%"
	tagClose = "%}"
)

var (
	pathRe = regexp.MustCompile(`^[A-Za-z0-9_-]+(\.[A-Za-z0-9_-]+)*$`)
	forRe  = regexp.MustCompile(`^for\s+([A-Za-z_][A-Za-z0-9_]*)\s+in\s+(\S+?)(?:\s+split\s+("(?:[^"\\]|\\.)*"))?$`)
)

type node interface{}

type textNode struct {
	text string
}

type varNode struct {
	path string
	pos  Pos
}

type loopNode struct {
	ident    string
	path     string
	split    string
	hasSplit bool
	body     []node
	pos      Pos
}

// Template is a parsed template. It holds no variable state and may be
// executed any number of times, including concurrently.
type Template struct {
	nodes []node
	trim  bool
}

type parser struct {
	src   string
	open  string
	close string
	off   int
}

func (p *parser) pos(off int) Pos {
	line, col := 1, 1
	for _, r := range p.src[:off] {
		if r == '\n' {
			line++
			col = 1
			continue
		}
		col++
	}
	return Pos{Line: line, Col: col}
}

func (p *parser) syntaxErr(off int, msg string) error {
	return &Error{Kind: ErrSyntax, Pos: p.pos(off), Msg: msg}
}

// parseNodes consumes nodes until end of input or a closing endfor tag.
// closed reports whether an endfor terminated the list.
func (p *parser) parseNodes(inLoop bool) (nodes []node, closed bool, err error) {
	var text strings.Builder
	flush := func() {
		if text.Len() > 0 {
			nodes = append(nodes, textNode{text: text.String()})
			text.Reset()
		}
	}

	for p.off < len(p.src) {
		rest := p.src[p.off:]
		iv := strings.Index(rest, p.open)
		it := strings.Index(rest, tagOpen)
		if iv < 0 && it < 0 {
			text.WriteString(rest)
			p.off = len(p.src)
			break
		}

		if it < 0 || (iv >= 0 && iv < it) {
			start := p.off + iv
			text.WriteString(rest[:iv])
			bodyStart := start + len(p.open)
			end := strings.Index(p.src[bodyStart:], p.close)
			if end < 0 {
				return nil, false, p.syntaxErr(start, "unclosed "+p.open)
			}
			path := strings.TrimSpace(p.src[bodyStart : bodyStart+end])
			if !pathRe.MatchString(path) {
				return nil, false, p.syntaxErr(start, "invalid variable path "+strconv.Quote(path))
			}
			flush()
			nodes = append(nodes, varNode{path: path, pos: p.pos(start)})
			p.off = bodyStart + end + len(p.close)
			continue
		}

		start := p.off + it
		text.WriteString(rest[:it])
		bodyStart := start + len(tagOpen)
		end := strings.Index(p.src[bodyStart:], tagClose)
		if end < 0 {
			return nil, false, p.syntaxErr(start, "unclosed "+tagOpen)
		}
		tag := strings.TrimSpace(p.src[bodyStart : bodyStart+end])
		p.off = bodyStart + end + len(tagClose)
		flush()

		switch {
		case tag == "endfor":
			if !inLoop {
				return nil, false, p.syntaxErr(start, "endfor without matching for")
			}
			return nodes, true, nil

		case strings.HasPrefix(tag, "for ") || tag == "for":
			loop, err := p.parseLoop(tag, start)
			if err != nil {
				return nil, false, err
			}
			nodes = append(nodes, loop)

		default:
			return nil, false, p.syntaxErr(start, "unknown tag "+strconv.Quote(tag))
		}
	}
	flush()
	return nodes, false, nil
}

func (p *parser) parseLoop(tag string, start int) (node, error) {
	m := forRe.FindStringSubmatch(tag)
	if m == nil {
		return nil, p.syntaxErr(start, "malformed for tag "+strconv.Quote(tag)+`, want "for <name> in <path>"`)
	}
	if !pathRe.MatchString(m[2]) {
		return nil, p.syntaxErr(start, "invalid loop source "+strconv.Quote(m[2]))
	}
	loop := &loopNode{ident: m[1], path: m[2], pos: p.pos(start)}
	if m[3] != "" {
		sep, err := strconv.Unquote(m[3])
		if err != nil || sep == "" {
			return nil, p.syntaxErr(start, "invalid split separator "+m[3])
		}
		loop.split = sep
		loop.hasSplit = true
	}
	body, closed, err := p.parseNodes(true)
	if err != nil {
		return nil, err
	}
	if !closed {
		return nil, p.syntaxErr(start, "for loop is never closed with endfor")
	}
	loop.body = body
	return loop, nil
}
