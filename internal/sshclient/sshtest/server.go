// Package sshtest runs an in-process SSH server for tests. Exec requests
// are executed with the local /bin/sh.
package sshtest

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"
)

type Server struct {
	User     string
	Password string

	ln        net.Listener
	cfg       *ssh.ServerConfig
	wg        sync.WaitGroup
	authFails atomic.Int32
	execs     atomic.Int32
}

// NewServer starts a server on 127.0.0.1 and stops it when t finishes.
func NewServer(t testing.TB, user, password string) *Server {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate host key: %v", err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatalf("host key signer: %v", err)
	}

	s := &Server{User: user, Password: password}
	s.cfg = &ssh.ServerConfig{
		PasswordCallback: func(c ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if c.User() == s.User && string(pass) == s.Password {
				return nil, nil
			}
			s.authFails.Add(1)
			return nil, fmt.Errorf("password rejected for %q", c.User())
		},
	}
	s.cfg.AddHostKey(signer)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s.ln = ln
	s.wg.Add(1)
	go s.serve()
	t.Cleanup(s.Close)
	return s
}

func (s *Server) Host() string {
	h, _, _ := net.SplitHostPort(s.ln.Addr().String())
	return h
}

func (s *Server) Port() int {
	_, p, _ := net.SplitHostPort(s.ln.Addr().String())
	n, _ := strconv.Atoi(p)
	return n
}

// AuthFailures counts rejected password attempts.
func (s *Server) AuthFailures() int { return int(s.authFails.Load()) }

// Execs counts exec requests served.
func (s *Server) Execs() int { return int(s.execs.Load()) }

func (s *Server) Close() {
	s.ln.Close()
	s.wg.Wait()
}

func (s *Server) serve() {
	defer s.wg.Done()
	for {
		nc, err := s.ln.Accept()
		if err != nil {
			return
		}
		go s.handleConn(nc)
	}
}

func (s *Server) handleConn(nc net.Conn) {
	_, chans, reqs, err := ssh.NewServerConn(nc, s.cfg)
	if err != nil {
		nc.Close()
		return
	}
	go ssh.DiscardRequests(reqs)
	for nch := range chans {
		if nch.ChannelType() != "session" {
			nch.Reject(ssh.UnknownChannelType, "unsupported channel type")
			continue
		}
		ch, chReqs, err := nch.Accept()
		if err != nil {
			continue
		}
		go s.handleSession(ch, chReqs)
	}
}

func (s *Server) handleSession(ch ssh.Channel, reqs <-chan *ssh.Request) {
	defer ch.Close()
	for req := range reqs {
		if req.Type != "exec" {
			if req.WantReply {
				req.Reply(false, nil)
			}
			continue
		}
		var payload struct{ Command string }
		if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
			req.Reply(false, nil)
			continue
		}
		req.Reply(true, nil)
		s.execs.Add(1)

		cmd := exec.Command("/bin/sh", "-c", payload.Command)
		cmd.Stdin = ch
		cmd.Stdout = ch
		cmd.Stderr = ch.Stderr()
		cmd.WaitDelay = 500 * time.Millisecond

		status := 0
		if err := cmd.Start(); err != nil {
			status = 127
		} else {
			go func() {
				for r := range reqs {
					if r.Type == "signal" && cmd.Process != nil {
						cmd.Process.Kill()
					}
					if r.WantReply {
						r.Reply(false, nil)
					}
				}
			}()
			status = exitCode(cmd.Wait())
		}
		ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{uint32(status)}))
		return
	}
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		if code := ee.ExitCode(); code >= 0 {
			return code
		}
		return 137
	}
	return 255
}
