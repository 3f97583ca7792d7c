package target

import (
	"context"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"netshell/internal/logging"
	"netshell/internal/pipeline/types"
	"netshell/internal/sshclient"
	"netshell/internal/sshclient/sshtest"
)

type recorder struct {
	mu    sync.Mutex
	lines []string
	kinds []Stream
}

func (r *recorder) sink(stream Stream, line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, line)
	r.kinds = append(r.kinds, stream)
}

func skipOnWindows(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
}

func TestLocalRunCapturesOutput(t *testing.T) {
	skipOnWindows(t)
	l := NewLocal("local", nil, logging.Nop())
	var rec recorder

	res := l.Run(context.Background(), Request{Script: "echo out1\necho err1 >&2\necho out2"}, rec.sink)
	require.True(t, res.Success, res.ErrorMessage)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "out1\nout2\n", res.Stdout)
	assert.Equal(t, "err1\n", res.Stderr)
	assert.Equal(t, "echo out1\necho err1 >&2\necho out2", res.Script)
	assert.ElementsMatch(t, []string{"out1", "out2", "err1"}, rec.lines)
}

func TestLocalNonZeroExit(t *testing.T) {
	skipOnWindows(t)
	res := NewLocal("local", nil, logging.Nop()).Run(context.Background(), Request{Script: "echo partial; exit 3"}, nil)
	assert.False(t, res.Success)
	assert.Equal(t, 3, res.ExitCode)
	assert.Equal(t, "partial\n", res.Stdout)
	assert.Equal(t, types.ErrExecution, res.ErrorKind)
	assert.Equal(t, "Script exited with code 3", res.ErrorMessage)
}

func TestLocalTimeoutKillsProcessTree(t *testing.T) {
	skipOnWindows(t)
	start := time.Now()
	res := NewLocal("local", nil, logging.Nop()).Run(context.Background(), Request{
		Script:  "echo begin\nsleep 30 &\nwait",
		Timeout: 300 * time.Millisecond,
	}, nil)

	assert.Less(t, time.Since(start), 5*time.Second)
	assert.False(t, res.Success)
	assert.Equal(t, -1, res.ExitCode)
	assert.Equal(t, types.ErrTimeout, res.ErrorKind)
	assert.Contains(t, res.ErrorMessage, "timed out")
	assert.Equal(t, "begin\n", res.Stdout)
}

func TestLocalIdleTimeout(t *testing.T) {
	skipOnWindows(t)
	res := NewLocal("local", nil, logging.Nop()).Run(context.Background(), Request{
		Script:      "echo tick; sleep 0.1; echo tick; sleep 30",
		IdleTimeout: 400 * time.Millisecond,
	}, nil)
	assert.False(t, res.Success)
	assert.Equal(t, types.ErrTimeout, res.ErrorKind)
	assert.Contains(t, res.ErrorMessage, "no output")
	assert.Equal(t, "tick\ntick\n", res.Stdout)
}

func TestLocalParentCancel(t *testing.T) {
	skipOnWindows(t)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(200 * time.Millisecond)
		cancel()
	}()
	res := NewLocal("local", nil, logging.Nop()).Run(ctx, Request{Script: "sleep 30"}, nil)
	assert.False(t, res.Success)
	assert.Equal(t, types.ErrCancelled, res.ErrorKind)
}

func TestLocalEnvironment(t *testing.T) {
	skipOnWindows(t)
	res := NewLocal("local", nil, logging.Nop()).Run(context.Background(), Request{
		Script:    `echo "$APP_NAME/$STAGE"`,
		Variables: map[string]string{"APP_NAME": "api", "STAGE": "var"},
		Env:       map[string]string{"STAGE": "prod"},
	}, nil)
	require.True(t, res.Success)
	assert.Equal(t, "api/prod\n", res.Stdout)
}

func TestLocalCustomShellMissing(t *testing.T) {
	res := NewLocal("local", &types.LocalConfig{Shell: "/nonexistent/shell"}, logging.Nop()).
		Run(context.Background(), Request{Script: "true"}, nil)
	assert.False(t, res.Success)
	assert.Equal(t, -1, res.ExitCode)
	assert.Equal(t, types.ErrExecution, res.ErrorKind)
}

func TestLocalPTY(t *testing.T) {
	skipOnWindows(t)
	var rec recorder
	res := NewLocal("tty", &types.LocalConfig{PTY: true}, logging.Nop()).Run(context.Background(), Request{
		Script: `if [ -t 1 ]; then printf '\033[1mterminal\033[0m\n'; else echo pipe; fi; exit 2`,
	}, rec.sink)
	assert.Equal(t, 2, res.ExitCode)
	assert.Equal(t, "terminal\n", res.Stdout)
	assert.Equal(t, []Stream{Stdout}, rec.kinds)
}

func TestSSHTarget(t *testing.T) {
	skipOnWindows(t)
	srv := sshtest.NewServer(t, "deploy", "secret")
	pool := sshclient.NewPool(logging.Nop())
	defer pool.Close()

	f := NewFactory(map[string]types.ClientConfig{
		"web": {ExecutionMethod: "ssh", SSHConfig: &types.SSHConfig{
			Host: srv.Host(), Port: srv.Port(), Username: "deploy", Password: "secret", TimeoutSeconds: 5,
		}},
	}, pool, logging.Nop())

	tgt, err := f.Resolve("web")
	require.NoError(t, err)
	var rec recorder
	res := tgt.Run(context.Background(), Request{
		Script: "echo \"hello $WHO\"\necho oops >&2\nexit 1",
		Env:    map[string]string{"WHO": "it's me"},
	}, rec.sink)

	assert.False(t, res.Success)
	assert.Equal(t, 1, res.ExitCode)
	assert.Equal(t, "hello it's me\n", res.Stdout)
	assert.Equal(t, "oops\n", res.Stderr)

	res = tgt.Run(context.Background(), Request{Script: "echo again"}, nil)
	assert.True(t, res.Success)
	assert.Equal(t, 2, srv.Execs())
}

func TestSSHTargetConnectionFailure(t *testing.T) {
	pool := sshclient.NewPool(logging.Nop())
	defer pool.Close()
	tgt := NewSSH("down", types.SSHConfig{Host: "127.0.0.1", Port: 1, Username: "u", Password: "p", TimeoutSeconds: 1}, pool, logging.Nop())

	res := tgt.Run(context.Background(), Request{Script: "true", Timeout: 3 * time.Second}, nil)
	assert.False(t, res.Success)
	assert.Equal(t, -1, res.ExitCode)
	assert.Contains(t, []types.ErrorKind{types.ErrConnection, types.ErrTimeout}, res.ErrorKind)
}

func TestFactoryResolve(t *testing.T) {
	f := NewFactory(map[string]types.ClientConfig{
		"box":   {ExecutionMethod: "local", LocalConfig: &types.LocalConfig{Shell: "/bin/bash"}},
		"bad":   {ExecutionMethod: "ssh"},
		"weird": {ExecutionMethod: "telnet"},
	}, nil, logging.Nop())

	l, err := f.Resolve("local")
	require.NoError(t, err)
	assert.Equal(t, "local", l.Name())

	box, err := f.Resolve("box")
	require.NoError(t, err)
	assert.Equal(t, "/bin/bash", box.(*Local).shell)
	again, _ := f.Resolve("box")
	assert.Same(t, box, again)

	_, err = f.Resolve("bad")
	assert.Error(t, err)
	_, err = f.Resolve("weird")
	assert.Error(t, err)
	_, err = f.Resolve("ghost")
	assert.Error(t, err)
}

func TestWithExports(t *testing.T) {
	got := withExports(map[string]string{"B": "x'y", "A": "1", "bad-name": "z"}, "run")
	assert.Equal(t, "export A='1'\nexport B='x'\\''y'\nrun", got)
}
