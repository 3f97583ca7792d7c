package target

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"netshell/internal/logging"
	"netshell/internal/pipeline/types"
	"netshell/internal/pty"
	"netshell/internal/util"
)

const maxLineBytes = 1024 * 1024

// Local runs scripts with a shell on this machine.
type Local struct {
	name  string
	shell string
	pty   bool
	log   *logging.Logger
}

func NewLocal(name string, cfg *types.LocalConfig, log *logging.Logger) *Local {
	l := &Local{name: name, shell: defaultShell(), log: log}
	if cfg != nil {
		if cfg.Shell != "" {
			l.shell = cfg.Shell
		}
		l.pty = cfg.PTY
	}
	if l.log == nil {
		l.log = logging.WithFields(nil)
	}
	return l
}

func (l *Local) Name() string { return l.name }

func (l *Local) command(req Request) *exec.Cmd {
	cmd := exec.Command(l.shell, shellFlag(l.shell), req.Script)
	cmd.Env = append(os.Environ(), envList(req.Variables, req.Env)...)
	return cmd
}

func (l *Local) Run(ctx context.Context, req Request, sink LineSink) types.ExecutionResult {
	start := time.Now()
	wd := newWatchdog(ctx, req)
	defer wd.stop()
	capt := newCapture(sink, wd)

	if l.pty {
		return l.runPTY(wd, req, capt, start)
	}

	cmd := l.command(req)
	setProcessGroup(cmd)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return capt.failed(req.Script, start, types.ErrExecution, fmt.Sprintf("failed to get stdout pipe: %v", err))
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return capt.failed(req.Script, start, types.ErrExecution, fmt.Sprintf("failed to get stderr pipe: %v", err))
	}
	if err := cmd.Start(); err != nil {
		return capt.failed(req.Script, start, types.ErrExecution, fmt.Sprintf("failed to start local command: %v", err))
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		scan(stdout, Stdout, capt.line)
	}()
	go func() {
		defer wg.Done()
		scan(stderr, Stderr, capt.line)
	}()

	done := make(chan error, 1)
	go func() {
		wg.Wait()
		done <- cmd.Wait()
	}()

	select {
	case err := <-done:
		return l.finish(capt, req, start, err)
	case <-wd.ctx.Done():
		if err := killProcessGroup(cmd.Process); err != nil {
			l.log.Warn("failed to kill local process group", map[string]interface{}{"target": l.name, "error": err.Error()})
		}
		// Children that left the group (setsid, daemons) can keep the write
		// ends open; closing our read ends unblocks the scanners.
		stdout.Close()
		stderr.Close()
		<-done
		kind, msg, _ := wd.fired()
		return capt.failed(req.Script, start, kind, msg)
	}
}

func (l *Local) finish(capt *capture, req Request, start time.Time, err error) types.ExecutionResult {
	if err == nil {
		return capt.result(req.Script, start, 0)
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		if code := ee.ExitCode(); code >= 0 {
			return capt.result(req.Script, start, code)
		}
		return capt.failed(req.Script, start, types.ErrExecution, fmt.Sprintf("script terminated: %v", ee))
	}
	return capt.failed(req.Script, start, types.ErrExecution, fmt.Sprintf("wait failed: %v", err))
}

// runPTY executes under a pseudo-terminal. Output is one combined stream,
// stripped of terminal control sequences and reported as stdout.
func (l *Local) runPTY(wd *watchdog, req Request, capt *capture, start time.Time) types.ExecutionResult {
	cmd := l.command(req)
	p, err := pty.Start(cmd)
	if err != nil {
		return capt.failed(req.Script, start, types.ErrExecution, fmt.Sprintf("failed to start command in pty: %v", err))
	}
	defer p.Close()

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		lines := util.NewTerminalLines(func(line string) { capt.line(Stdout, line) })
		// EIO on the master side means the child closed the terminal.
		_, _ = io.Copy(lines, p)
		lines.Flush()
	}()

	done := make(chan error, 1)
	go func() {
		<-readDone
		done <- p.Wait()
	}()

	select {
	case err := <-done:
		return l.finish(capt, req, start, err)
	case <-wd.ctx.Done():
		l.killPTY(p)
		p.Close()
		<-done
		kind, msg, _ := wd.fired()
		return capt.failed(req.Script, start, kind, msg)
	}
}

func scan(r io.Reader, stream Stream, onLine LineSink) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	for scanner.Scan() {
		onLine(stream, scanner.Text())
	}
	_, _ = io.Copy(io.Discard, r)
}

// killPTY signals the pty child through its pid. The windows backend starts
// its own process, so cmd.Process is not populated there.
func (l *Local) killPTY(p pty.PTY) {
	pid := p.Pid()
	if pid <= 0 {
		return
	}
	proc, err := os.FindProcess(pid)
	if err == nil {
		err = killProcessGroup(proc)
	}
	if err != nil {
		l.log.Warn("failed to kill pty process", map[string]interface{}{"target": l.name, "pid": pid, "error": err.Error()})
	}
}
