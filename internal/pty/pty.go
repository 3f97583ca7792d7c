package pty

import "io"

const (
	DefaultRows = 40
	DefaultCols = 200
)

// PTY is a small, cross-platform abstraction over a pseudo-terminal with a
// child process attached. Reads return the child's combined stdout/stderr.
type PTY interface {
	io.ReadWriteCloser
	// Wait blocks until the child exits.
	Wait() error
	// Pid returns the child process id.
	Pid() int
	SetSize(rows, cols int) error
}
