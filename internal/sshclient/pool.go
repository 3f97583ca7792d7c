package sshclient

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"netshell/internal/logging"
)

// Pool keeps one connection per named client for the lifetime of a run.
// Dials are retried with exponential backoff and guarded by a per-client
// circuit breaker so an unreachable host fails fast after repeated errors.
type Pool struct {
	mu      sync.Mutex
	entries map[string]*poolEntry
	log     *logging.Logger

	// newBackOff is replaced in tests.
	newBackOff func(limit time.Duration) backoff.BackOff
}

type poolEntry struct {
	mu      sync.Mutex
	client  *SSHClient
	breaker *gobreaker.CircuitBreaker
}

func NewPool(log *logging.Logger) *Pool {
	if log == nil {
		log = logging.WithFields(nil)
	}
	return &Pool{
		entries:    make(map[string]*poolEntry),
		log:        log,
		newBackOff: defaultBackOff,
	}
}

func defaultBackOff(limit time.Duration) backoff.BackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     500 * time.Millisecond,
		MaxInterval:         5 * time.Second,
		Multiplier:          1.5,
		RandomizationFactor: 0.5,
		MaxElapsedTime:      limit,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()
	return b
}

func breakerSettings(name string) gobreaker.Settings {
	return gobreaker.Settings{
		Name:        "ssh-" + name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	}
}

func (p *Pool) entry(name string) *poolEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[name]
	if !ok {
		e = &poolEntry{breaker: gobreaker.NewCircuitBreaker(breakerSettings(name))}
		p.entries[name] = e
	}
	return e
}

// Get returns a connected client for name, dialing with opts when no live
// connection is cached.
func (p *Pool) Get(ctx context.Context, name string, opts Options) (*SSHClient, error) {
	e := p.entry(name)
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.client != nil {
		if e.client.Alive() {
			return e.client, nil
		}
		p.log.Warn("cached ssh connection is dead, redialing", map[string]interface{}{"client": name})
		e.client.Close()
		e.client = nil
	}

	client, err := New(opts)
	if err != nil {
		return nil, err
	}

	limit := opts.ConnectTimeout
	if limit <= 0 {
		limit = DefaultConnectTimeout
	}
	attempt := 0
	op := func() error {
		attempt++
		_, err := e.breaker.Execute(func() (interface{}, error) {
			return nil, client.Connect(ctx)
		})
		if err == nil {
			return nil
		}
		if permanent(err) {
			return backoff.Permanent(err)
		}
		p.log.Debug("ssh dial failed, retrying", map[string]interface{}{
			"client":  name,
			"addr":    client.Addr(),
			"attempt": attempt,
			"error":   err.Error(),
		})
		return err
	}
	if err := backoff.Retry(op, backoff.WithContext(p.newBackOff(limit), ctx)); err != nil {
		return nil, err
	}
	e.client = client
	return client, nil
}

// Invalidate drops the cached connection for name.
func (p *Pool) Invalidate(name string) {
	e := p.entry(name)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.client != nil {
		e.client.Close()
		e.client = nil
	}
}

// Close closes every pooled connection.
func (p *Pool) Close() error {
	p.mu.Lock()
	entries := p.entries
	p.entries = make(map[string]*poolEntry)
	p.mu.Unlock()

	var errs []error
	for _, e := range entries {
		e.mu.Lock()
		if e.client != nil {
			if err := e.client.Close(); err != nil {
				errs = append(errs, err)
			}
			e.client = nil
		}
		e.mu.Unlock()
	}
	return errors.Join(errs...)
}

// permanent reports errors that retrying cannot fix.
func permanent(err error) bool {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return true
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "unable to authenticate") ||
		strings.Contains(msg, "knownhosts:") ||
		strings.Contains(msg, "host key mismatch")
}
