//go:build windows
// +build windows

package pty

import (
	"fmt"
	"os/exec"

	widepty "github.com/aymanbagabas/go-pty"
)

// winConPTY wraps a ConPTY from aymanbagabas/go-pty.
type winConPTY struct {
	c     widepty.Pty
	child *widepty.Cmd
}

func Start(cmd *exec.Cmd) (PTY, error) {
	p, err := widepty.New()
	if err != nil {
		return nil, fmt.Errorf("pty: failed to create PTY: %w", err)
	}
	if err := p.Resize(DefaultCols, DefaultRows); err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("pty: resize: %w", err)
	}

	var name string
	var args []string
	if len(cmd.Args) > 0 {
		name = cmd.Args[0]
		if len(cmd.Args) > 1 {
			args = cmd.Args[1:]
		}
	} else {
		name = cmd.Path
	}

	c := p.Command(name, args...)
	c.Env = cmd.Env
	c.Dir = cmd.Dir

	if err := c.Start(); err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("pty: failed to start command in PTY: %w", err)
	}
	return &winConPTY{c: p, child: c}, nil
}

func (w *winConPTY) Wait() error {
	if w.child != nil {
		return w.child.Wait()
	}
	return fmt.Errorf("no child process")
}

func (w *winConPTY) Pid() int {
	if w.child != nil && w.child.Process != nil {
		return w.child.Process.Pid
	}
	return 0
}

func (w *winConPTY) Read(b []byte) (int, error)  { return w.c.Read(b) }
func (w *winConPTY) Write(b []byte) (int, error) { return w.c.Write(b) }
func (w *winConPTY) Close() error                { return w.c.Close() }

func (w *winConPTY) SetSize(rows, cols int) error { return w.c.Resize(cols, rows) }
