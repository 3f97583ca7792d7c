// Package target runs a rendered script on one execution target and reports
// its output line by line while it runs.
package target

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"netshell/internal/logging"
	"netshell/internal/pipeline/types"
	"netshell/internal/sshclient"
)

// Stream identifies the output stream a line came from.
type Stream int

const (
	Stdout Stream = iota
	Stderr
)

func (s Stream) String() string {
	if s == Stderr {
		return "stderr"
	}
	return "stdout"
}

// LineSink receives output lines as they are produced. It is called from
// reader goroutines and must be safe for concurrent use.
type LineSink func(stream Stream, line string)

// Request is one script execution.
type Request struct {
	Script string
	// Timeout bounds the whole execution. Zero means no limit.
	Timeout time.Duration
	// IdleTimeout fails the execution after this long without output. Zero
	// disables it.
	IdleTimeout time.Duration
	// Env is exported to the script on every kind of target.
	Env map[string]string
	// Variables are scalar pipeline variables, exported only to local
	// processes.
	Variables map[string]string
}

// Target executes scripts. Run never returns an error: failures of any kind
// are reported in the result.
type Target interface {
	Name() string
	Run(ctx context.Context, req Request, sink LineSink) types.ExecutionResult
}

// Factory resolves target names against the configured clients.
type Factory struct {
	clients map[string]types.ClientConfig
	pool    *sshclient.Pool
	log     *logging.Logger

	mu    sync.Mutex
	cache map[string]Target
}

func NewFactory(clients map[string]types.ClientConfig, pool *sshclient.Pool, log *logging.Logger) *Factory {
	if log == nil {
		log = logging.WithFields(nil)
	}
	if pool == nil {
		pool = sshclient.NewPool(log)
	}
	return &Factory{clients: clients, pool: pool, log: log, cache: make(map[string]Target)}
}

// Resolve returns the target for name. The reserved name "local" resolves to
// a default local target unless a client of that name is configured.
func (f *Factory) Resolve(name string) (Target, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.cache[name]; ok {
		return t, nil
	}

	var t Target
	cfg, ok := f.clients[name]
	switch {
	case !ok && name == types.LocalTargetName:
		t = NewLocal(name, nil, f.log)
	case !ok:
		return nil, fmt.Errorf("unknown client %q", name)
	case cfg.ExecutionMethod == types.ExecutionMethodLocal:
		t = NewLocal(name, cfg.LocalConfig, f.log)
	case cfg.ExecutionMethod == types.ExecutionMethodSSH:
		if cfg.SSHConfig == nil {
			return nil, fmt.Errorf("client %q: missing ssh_config", name)
		}
		t = NewSSH(name, *cfg.SSHConfig, f.pool, f.log)
	default:
		return nil, fmt.Errorf("client %q: unsupported execution_method %q", name, cfg.ExecutionMethod)
	}
	f.cache[name] = t
	return t, nil
}

// capture accumulates output while forwarding each line to the sink.
type capture struct {
	mu     sync.Mutex
	stdout strings.Builder
	stderr strings.Builder
	sink   LineSink
	wd     *watchdog
}

func newCapture(sink LineSink, wd *watchdog) *capture {
	return &capture{sink: sink, wd: wd}
}

func (c *capture) line(stream Stream, line string) {
	c.wd.touch()
	c.mu.Lock()
	if stream == Stderr {
		c.stderr.WriteString(line)
		c.stderr.WriteByte('\n')
	} else {
		c.stdout.WriteString(line)
		c.stdout.WriteByte('\n')
	}
	c.mu.Unlock()
	if c.sink != nil {
		c.sink(stream, line)
	}
}

func (c *capture) result(script string, start time.Time, exitCode int) types.ExecutionResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	res := types.ExecutionResult{
		Success:   exitCode == 0,
		Script:    script,
		Stdout:    c.stdout.String(),
		Stderr:    c.stderr.String(),
		ExitCode:  exitCode,
		ElapsedMs: time.Since(start).Milliseconds(),
	}
	if exitCode != 0 {
		res.ErrorKind = types.ErrExecution
		res.ErrorMessage = fmt.Sprintf("Script exited with code %d", exitCode)
	}
	return res
}

func (c *capture) failed(script string, start time.Time, kind types.ErrorKind, msg string) types.ExecutionResult {
	res := c.result(script, start, -1)
	res.Success = false
	res.ErrorKind = kind
	res.ErrorMessage = msg
	return res
}

func envList(maps ...map[string]string) []string {
	var out []string
	for _, m := range maps {
		for k, v := range m {
			if k == "" || strings.ContainsRune(k, '=') {
				continue
			}
			out = append(out, k+"="+v)
		}
	}
	return out
}
