//go:build !windows
// +build !windows

package pty

import (
	"os"
	"os/exec"

	creackpty "github.com/creack/pty"
)

// unixPTY wraps *os.File returned by creack/pty
type unixPTY struct {
	f   *os.File
	cmd *exec.Cmd
}

// Start runs cmd with its stdio attached to a new pseudo-terminal. creack/pty
// makes the child a session leader, so its pid is also its process group.
func Start(cmd *exec.Cmd) (PTY, error) {
	f, err := creackpty.StartWithSize(cmd, &creackpty.Winsize{Rows: DefaultRows, Cols: DefaultCols})
	if err != nil {
		return nil, err
	}
	return &unixPTY{f: f, cmd: cmd}, nil
}

func (p *unixPTY) Wait() error {
	if p.cmd != nil && p.cmd.Process != nil {
		return p.cmd.Wait()
	}
	return nil
}

func (p *unixPTY) Pid() int {
	if p.cmd != nil && p.cmd.Process != nil {
		return p.cmd.Process.Pid
	}
	return 0
}

func (p *unixPTY) Read(b []byte) (int, error)  { return p.f.Read(b) }
func (p *unixPTY) Write(b []byte) (int, error) { return p.f.Write(b) }
func (p *unixPTY) Close() error                { return p.f.Close() }

func (p *unixPTY) SetSize(rows, cols int) error {
	return creackpty.Setsize(p.f, &creackpty.Winsize{Rows: uint16(rows), Cols: uint16(cols)})
}
