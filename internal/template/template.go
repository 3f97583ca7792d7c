// Package template renders step scripts against a variable snapshot.
//
// The language has two constructs: interpolation of a dotted variable path
// ({{ user.name }}, {{ hosts.0 }}) and single-variable iteration
// ({% for h in hosts %}...{% endfor %}, optionally "split" over a string).
// Interpolation delimiters are configurable; loop tags always use {% %}.
package template

import (
	"errors"
	"fmt"
	"strings"

	"netshell/internal/vars"
)

const (
	DefaultOpen  = "{{"
	DefaultClose = "}}"
)

// Options configures an Engine. Zero values select the defaults.
type Options struct {
	Open  string
	Close string
	// TrimLoopBlankLines drops whitespace-only lines produced by loop bodies
	// and joins iterations with a single newline.
	TrimLoopBlankLines bool
}

// Engine parses and renders templates with fixed options.
type Engine struct {
	opts Options
}

// NewEngine validates opts and returns an Engine.
func NewEngine(opts Options) (*Engine, error) {
	if opts.Open == "" {
		opts.Open = DefaultOpen
	}
	if opts.Close == "" {
		opts.Close = DefaultClose
	}
	if opts.Open == tagOpen || opts.Close == tagClose {
		return nil, fmt.Errorf("interpolation delimiters %q %q collide with loop tags", opts.Open, opts.Close)
	}
	return &Engine{opts: opts}, nil
}

// Default returns an engine with {{ }} delimiters.
func Default() *Engine {
	return &Engine{opts: Options{Open: DefaultOpen, Close: DefaultClose}}
}

// Parse checks the syntax of text and returns a reusable Template.
func (e *Engine) Parse(text string) (*Template, error) {
	p := &parser{src: text, open: e.opts.Open, close: e.opts.Close}
	nodes, _, err := p.parseNodes(false)
	if err != nil {
		return nil, err
	}
	return &Template{nodes: nodes, trim: e.opts.TrimLoopBlankLines}, nil
}

// Render parses and executes text in one call.
func (e *Engine) Render(text string, snap vars.Snapshot) (string, error) {
	t, err := e.Parse(text)
	if err != nil {
		return "", err
	}
	return t.Execute(snap)
}

// scope is one loop binding; lookups walk from the innermost binding out.
type scope struct {
	name   string
	value  vars.Value
	parent *scope
}

func (s *scope) find(name string) (vars.Value, bool) {
	for cur := s; cur != nil; cur = cur.parent {
		if cur.name == name {
			return cur.value, true
		}
	}
	return vars.Value{}, false
}

// Execute renders the template against snap.
func (t *Template) Execute(snap vars.Snapshot) (string, error) {
	var b strings.Builder
	if err := t.exec(&b, t.nodes, snap, nil); err != nil {
		return "", err
	}
	return b.String(), nil
}

func (t *Template) exec(b *strings.Builder, nodes []node, snap vars.Snapshot, sc *scope) error {
	for _, n := range nodes {
		switch n := n.(type) {
		case textNode:
			b.WriteString(n.text)

		case varNode:
			v, err := resolve(n.path, snap, sc)
			if err != nil {
				return &Error{Kind: ErrUndefined, Pos: n.pos, Msg: err.Error(), Err: err}
			}
			text, err := v.Text()
			if err != nil {
				return &Error{Kind: ErrType, Pos: n.pos, Msg: fmt.Sprintf("%s: %v", n.path, err)}
			}
			b.WriteString(text)

		case *loopNode:
			if err := t.execLoop(b, n, snap, sc); err != nil {
				return err
			}
		}
	}
	return nil
}

func (t *Template) execLoop(b *strings.Builder, n *loopNode, snap vars.Snapshot, sc *scope) error {
	src, err := resolve(n.path, snap, sc)
	if err != nil {
		return &Error{Kind: ErrUndefined, Pos: n.pos, Msg: err.Error(), Err: err}
	}

	var items []vars.Value
	if n.hasSplit {
		s, ok := src.AsString()
		if !ok {
			return &Error{Kind: ErrType, Pos: n.pos, Msg: fmt.Sprintf("cannot split %s value %q", src.Kind(), n.path)}
		}
		for _, part := range strings.Split(s, n.split) {
			items = append(items, vars.String(part))
		}
	} else {
		if src.Kind() != vars.KindArray {
			return &Error{Kind: ErrType, Pos: n.pos, Msg: fmt.Sprintf("cannot iterate %s value %q", src.Kind(), n.path)}
		}
		items = src.Items()
	}

	var out strings.Builder
	for _, item := range items {
		var iter strings.Builder
		if err := t.exec(&iter, n.body, snap, &scope{name: n.ident, value: item, parent: sc}); err != nil {
			return err
		}
		if !t.trim {
			out.WriteString(iter.String())
			continue
		}
		rendered := dropBlankLines(iter.String())
		if rendered == "" {
			continue
		}
		if out.Len() > 0 {
			out.WriteByte('\n')
		}
		out.WriteString(rendered)
	}
	b.WriteString(out.String())
	return nil
}

func dropBlankLines(s string) string {
	lines := strings.Split(s, "\n")
	kept := lines[:0]
	for _, l := range lines {
		if strings.TrimSpace(l) != "" {
			kept = append(kept, strings.TrimRight(l, "\r"))
		}
	}
	return strings.Join(kept, "\n")
}

func resolve(path string, snap vars.Snapshot, sc *scope) (vars.Value, error) {
	head, rest, _ := strings.Cut(path, ".")
	if v, ok := sc.find(head); ok {
		if rest == "" {
			return v, nil
		}
		out, err := v.Lookup(rest)
		if err != nil {
			var pe *vars.PathError
			if errors.As(err, &pe) {
				pe.Path = path
			}
			return vars.Value{}, err
		}
		return out, nil
	}
	return snap.Lookup(path)
}
