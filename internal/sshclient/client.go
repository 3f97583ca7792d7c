package sshclient

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

const (
	DefaultPort           = 22
	DefaultConnectTimeout = 30 * time.Second

	maxLineBytes = 1024 * 1024
)

// ErrSession is returned by RunScript when no session could be opened on an
// established connection. The connection is most likely dead.
var ErrSession = errors.New("ssh: failed to open session")

// OutputFunc receives every output line. stderr is false for stdout lines.
type OutputFunc func(stderr bool, line string)

// Options describes how to reach one host.
type Options struct {
	Host           string
	Port           int
	Username       string
	Password       string
	PrivateKeyPath string
	ConnectTimeout time.Duration
	KnownHostsPath string
	// JumpHost is "[user@]host[:port]", reached with the same credentials.
	JumpHost string
}

// SSHClient represents an SSH client connection
type SSHClient struct {
	mu       sync.Mutex
	client   *ssh.Client
	jump     *ssh.Client
	config   *ssh.ClientConfig
	host     string
	port     string
	jumpUser string
	jumpAddr string
}

// New validates opts and prepares a client. It does not connect.
func New(opts Options) (*SSHClient, error) {
	var authMethods []ssh.AuthMethod

	if opts.Password != "" {
		authMethods = append(authMethods, ssh.Password(opts.Password))
	}

	if opts.PrivateKeyPath != "" {
		key, err := os.ReadFile(opts.PrivateKeyPath)
		if err != nil {
			if len(authMethods) == 0 {
				return nil, fmt.Errorf("unable to read private key: %w", err)
			}
		} else {
			signer, err := ssh.ParsePrivateKey(key)
			if err != nil {
				if len(authMethods) == 0 {
					return nil, fmt.Errorf("unable to parse private key: %w", err)
				}
			} else {
				authMethods = append(authMethods, ssh.PublicKeys(signer))
			}
		}
	}

	if len(authMethods) == 0 {
		return nil, fmt.Errorf("no authentication method configured (provide password or private_key_path)")
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey()
	if opts.KnownHostsPath != "" {
		cb, err := knownhosts.New(opts.KnownHostsPath)
		if err != nil {
			return nil, fmt.Errorf("unable to load known_hosts: %w", err)
		}
		hostKeyCallback = cb
	}

	timeout := opts.ConnectTimeout
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}
	port := opts.Port
	if port == 0 {
		port = DefaultPort
	}

	c := &SSHClient{
		config: &ssh.ClientConfig{
			User:            opts.Username,
			Auth:            authMethods,
			HostKeyCallback: hostKeyCallback,
			Timeout:         timeout,
			BannerCallback:  func(string) error { return nil },
		},
		host: opts.Host,
		port: strconv.Itoa(port),
	}
	if opts.JumpHost != "" {
		user, jh := opts.Username, opts.JumpHost
		if at := strings.LastIndex(jh, "@"); at >= 0 {
			user = jh[:at]
		}
		h, p := c.parseJumpHost(jh)
		c.jumpUser = user
		c.jumpAddr = net.JoinHostPort(h, p)
	}
	return c, nil
}

// parseJumpHost splits "[user@]host[:port]" into host and port (default 22).
func (c *SSHClient) parseJumpHost(s string) (string, string) {
	if at := strings.LastIndex(s, "@"); at >= 0 {
		s = s[at+1:]
	}
	if h, p, err := net.SplitHostPort(s); err == nil {
		return h, p
	}
	return s, strconv.Itoa(DefaultPort)
}

// Addr returns host:port of the target.
func (c *SSHClient) Addr() string { return net.JoinHostPort(c.host, c.port) }

// Connect establishes the SSH connection, through the jump host if one is
// configured. ctx bounds the TCP dial.
func (c *SSHClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		return nil
	}

	addr := c.Addr()
	if c.jumpAddr == "" {
		conn, err := c.dialTCP(ctx, addr)
		if err != nil {
			return fmt.Errorf("failed to dial %s: %w", addr, err)
		}
		client, err := c.handshake(conn, addr, c.config)
		if err != nil {
			return err
		}
		c.client = client
		return nil
	}

	jconn, err := c.dialTCP(ctx, c.jumpAddr)
	if err != nil {
		return fmt.Errorf("failed to dial jump host %s: %w", c.jumpAddr, err)
	}
	jcfg := *c.config
	jcfg.User = c.jumpUser
	jump, err := c.handshake(jconn, c.jumpAddr, &jcfg)
	if err != nil {
		return fmt.Errorf("jump host: %w", err)
	}
	conn, err := jump.Dial("tcp", addr)
	if err != nil {
		jump.Close()
		return fmt.Errorf("failed to dial %s via %s: %w", addr, c.jumpAddr, err)
	}
	client, err := c.handshake(conn, addr, c.config)
	if err != nil {
		jump.Close()
		return err
	}
	c.jump = jump
	c.client = client
	return nil
}

func (c *SSHClient) dialTCP(ctx context.Context, addr string) (net.Conn, error) {
	d := net.Dialer{Timeout: c.config.Timeout}
	return d.DialContext(ctx, "tcp", addr)
}

func (c *SSHClient) handshake(conn net.Conn, addr string, cfg *ssh.ClientConfig) (*ssh.Client, error) {
	if cfg.Timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(cfg.Timeout))
	}
	sc, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh handshake with %s: %w", addr, err)
	}
	_ = conn.SetDeadline(time.Time{})
	return ssh.NewClient(sc, chans, reqs), nil
}

// Alive sends a keepalive request on an established connection.
func (c *SSHClient) Alive() bool {
	c.mu.Lock()
	client := c.client
	c.mu.Unlock()
	if client == nil {
		return false
	}
	_, _, err := client.SendRequest("keepalive@openssh.com", true, nil)
	return err == nil
}

// Close closes the SSH connection
func (c *SSHClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var err error
	if c.client != nil {
		err = c.client.Close()
		c.client = nil
	}
	if c.jump != nil {
		c.jump.Close()
		c.jump = nil
	}
	return err
}

// CreateSession creates a new SSH session for command execution
func (c *SSHClient) CreateSession() (*ssh.Session, error) {
	c.mu.Lock()
	client := c.client
	c.mu.Unlock()
	if client == nil {
		return nil, fmt.Errorf("SSH client not connected")
	}
	return client.NewSession()
}

// RunScript feeds script to a remote "sh -s" over stdin and streams its
// output line by line. It returns the remote exit status. Cancelling ctx
// signals KILL and closes the session; the returned error is then ctx.Err().
func (c *SSHClient) RunScript(ctx context.Context, script string, onLine OutputFunc) (int, error) {
	session, err := c.CreateSession()
	if err != nil {
		return -1, fmt.Errorf("%w: %v", ErrSession, err)
	}
	defer session.Close()

	stdin, err := session.StdinPipe()
	if err != nil {
		return -1, fmt.Errorf("failed to get stdin pipe: %v", err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		return -1, fmt.Errorf("failed to get stdout pipe: %v", err)
	}
	stderr, err := session.StderrPipe()
	if err != nil {
		return -1, fmt.Errorf("failed to get stderr pipe: %v", err)
	}

	if err := session.Start("sh -s"); err != nil {
		return -1, fmt.Errorf("failed to start command: %v", err)
	}

	go func() {
		defer stdin.Close()
		if !strings.HasSuffix(script, "\n") {
			script += "\n"
		}
		_, _ = io.WriteString(stdin, script)
	}()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		scanLines(stdout, false, onLine)
	}()
	go func() {
		defer wg.Done()
		scanLines(stderr, true, onLine)
	}()

	done := make(chan error, 1)
	go func() {
		wg.Wait()
		done <- session.Wait()
	}()

	select {
	case err := <-done:
		return exitStatus(err)
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		session.Close()
		<-done
		return -1, ctx.Err()
	}
}

func exitStatus(err error) (int, error) {
	if err == nil {
		return 0, nil
	}
	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitStatus(), nil
	}
	return -1, fmt.Errorf("command failed: %v", err)
}

func scanLines(r io.Reader, stderr bool, onLine OutputFunc) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	for scanner.Scan() {
		if onLine != nil {
			onLine(stderr, scanner.Text())
		}
	}
	// drain whatever is left so the remote side never blocks on a full window
	_, _ = io.Copy(io.Discard, r)
}
