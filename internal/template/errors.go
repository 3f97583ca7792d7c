package template

import "fmt"

// ErrorKind classifies template failures.
type ErrorKind int

const (
	// ErrSyntax is malformed template text.
	ErrSyntax ErrorKind = iota
	// ErrUndefined is a path that does not resolve.
	ErrUndefined
	// ErrType is a value of the wrong shape, such as interpolating an array.
	ErrType
)

func (k ErrorKind) String() string {
	switch k {
	case ErrSyntax:
		return "syntax error"
	case ErrUndefined:
		return "undefined"
	case ErrType:
		return "type error"
	}
	return "error"
}

// Pos is a 1-based position in template source.
type Pos struct {
	Line int
	Col  int
}

// Error is returned by Parse, Render and Execute.
type Error struct {
	Kind ErrorKind
	Pos  Pos
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("template %s at %d:%d: %s", e.Kind, e.Pos.Line, e.Pos.Col, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }
