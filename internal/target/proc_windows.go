//go:build windows
// +build windows

package target

import (
	"os"
	"os/exec"
	"strings"
)

func defaultShell() string { return "cmd.exe" }

func shellFlag(shell string) string {
	if strings.HasSuffix(strings.ToLower(shell), "cmd.exe") || strings.EqualFold(shell, "cmd") {
		return "/C"
	}
	return "-c"
}

func setProcessGroup(*exec.Cmd) {}

func killProcessGroup(p *os.Process) error {
	if p == nil {
		return nil
	}
	return p.Kill()
}
