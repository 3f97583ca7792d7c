package target

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"netshell/internal/pipeline/types"
)

var (
	errTimedOut = errors.New("execution timed out")
	errIdle     = errors.New("execution idle")
)

// watchdog derives a context that is cancelled when the total timeout
// expires or when no output arrives for the idle timeout.
type watchdog struct {
	ctx    context.Context
	cancel context.CancelCauseFunc
	req    Request

	mu    sync.Mutex
	total *time.Timer
	idle  *time.Timer
}

func newWatchdog(parent context.Context, req Request) *watchdog {
	ctx, cancel := context.WithCancelCause(parent)
	w := &watchdog{ctx: ctx, cancel: cancel, req: req}
	if req.Timeout > 0 {
		w.total = time.AfterFunc(req.Timeout, func() { cancel(errTimedOut) })
	}
	if req.IdleTimeout > 0 {
		w.idle = time.AfterFunc(req.IdleTimeout, func() { cancel(errIdle) })
	}
	return w
}

// touch records output activity.
func (w *watchdog) touch() {
	if w.idle == nil {
		return
	}
	w.mu.Lock()
	w.idle.Reset(w.req.IdleTimeout)
	w.mu.Unlock()
}

func (w *watchdog) stop() {
	w.mu.Lock()
	if w.total != nil {
		w.total.Stop()
	}
	if w.idle != nil {
		w.idle.Stop()
	}
	w.mu.Unlock()
	w.cancel(nil)
}

// fired reports why the context ended, if it has.
func (w *watchdog) fired() (types.ErrorKind, string, bool) {
	if w.ctx.Err() == nil {
		return types.ErrNone, "", false
	}
	switch cause := context.Cause(w.ctx); {
	case errors.Is(cause, errTimedOut):
		return types.ErrTimeout, fmt.Sprintf("timed out after %s", w.req.Timeout), true
	case errors.Is(cause, errIdle):
		return types.ErrTimeout, fmt.Sprintf("no output for %s", w.req.IdleTimeout), true
	case errors.Is(cause, context.DeadlineExceeded):
		return types.ErrTimeout, "deadline exceeded", true
	default:
		return types.ErrCancelled, "cancelled: " + cause.Error(), true
	}
}
