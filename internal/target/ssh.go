package target

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"netshell/internal/logging"
	"netshell/internal/pipeline/types"
	"netshell/internal/sshclient"
)

var envNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// SSH runs scripts on a remote host through a pooled connection.
type SSH struct {
	name string
	cfg  types.SSHConfig
	pool *sshclient.Pool
	log  *logging.Logger
}

func NewSSH(name string, cfg types.SSHConfig, pool *sshclient.Pool, log *logging.Logger) *SSH {
	if log == nil {
		log = logging.WithFields(nil)
	}
	return &SSH{name: name, cfg: cfg, pool: pool, log: log.WithFields(map[string]interface{}{"target": name})}
}

func (s *SSH) Name() string { return s.name }

func (s *SSH) options() sshclient.Options {
	return sshclient.Options{
		Host:           s.cfg.Host,
		Port:           s.cfg.Port,
		Username:       s.cfg.Username,
		Password:       s.cfg.Password,
		PrivateKeyPath: s.cfg.PrivateKeyPath,
		ConnectTimeout: time.Duration(s.cfg.TimeoutSeconds) * time.Second,
		KnownHostsPath: s.cfg.KnownHostsPath,
		JumpHost:       s.cfg.JumpHost,
	}
}

func (s *SSH) Run(ctx context.Context, req Request, sink LineSink) types.ExecutionResult {
	start := time.Now()
	wd := newWatchdog(ctx, req)
	defer wd.stop()
	capt := newCapture(sink, wd)
	script := withExports(req.Env, req.Script)

	onLine := func(stderr bool, line string) {
		if stderr {
			capt.line(Stderr, line)
			return
		}
		capt.line(Stdout, line)
	}

	var (
		code int
		err  error
	)
	for attempt := 0; attempt < 2; attempt++ {
		var client *sshclient.SSHClient
		client, err = s.pool.Get(wd.ctx, s.name, s.options())
		if err != nil {
			if kind, msg, ok := wd.fired(); ok {
				return capt.failed(req.Script, start, kind, msg)
			}
			return capt.failed(req.Script, start, types.ErrConnection,
				fmt.Sprintf("failed to connect to %s@%s:%d: %v", s.cfg.Username, s.cfg.Host, s.port(), err))
		}
		code, err = client.RunScript(wd.ctx, script, onLine)
		if !errors.Is(err, sshclient.ErrSession) {
			break
		}
		s.log.Warn("ssh session failed on pooled connection, reconnecting", map[string]interface{}{"error": err.Error()})
		s.pool.Invalidate(s.name)
	}

	if err != nil {
		if kind, msg, ok := wd.fired(); ok {
			return capt.failed(req.Script, start, kind, msg)
		}
		if errors.Is(err, sshclient.ErrSession) {
			return capt.failed(req.Script, start, types.ErrConnection, err.Error())
		}
		return capt.failed(req.Script, start, types.ErrExecution, err.Error())
	}
	return capt.result(req.Script, start, code)
}

func (s *SSH) port() int {
	if s.cfg.Port == 0 {
		return sshclient.DefaultPort
	}
	return s.cfg.Port
}

// withExports prefixes script with export statements for env. Names that are
// not valid shell identifiers are skipped.
func withExports(env map[string]string, script string) string {
	if len(env) == 0 {
		return script
	}
	names := make([]string, 0, len(env))
	for k := range env {
		if envNameRe.MatchString(k) {
			names = append(names, k)
		}
	}
	sort.Strings(names)
	var b strings.Builder
	for _, k := range names {
		fmt.Fprintf(&b, "export %s=%s\n", k, shellQuote(env[k]))
	}
	b.WriteString(script)
	return b.String()
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
