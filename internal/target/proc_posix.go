//go:build !windows
// +build !windows

package target

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

func defaultShell() string { return "/bin/sh" }

func shellFlag(string) string { return "-c" }

// setProcessGroup starts the command in its own process group so the whole
// tree can be signalled on timeout.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// killProcessGroup sends SIGTERM then SIGKILL to the process group led by p.
func killProcessGroup(p *os.Process) error {
	if p == nil || p.Pid <= 0 {
		return nil
	}
	pgid := -p.Pid
	if err := unix.Kill(pgid, unix.SIGTERM); err != nil {
		if errors.Is(err, unix.ESRCH) {
			return nil
		}
		return err
	}
	time.Sleep(250 * time.Millisecond)
	if err := unix.Kill(pgid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
		return err
	}
	return nil
}
