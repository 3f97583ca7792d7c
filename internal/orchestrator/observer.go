package orchestrator

import "netshell/internal/pipeline/types"

// Observer receives output events as they are produced. OnEvent is called
// synchronously on the goroutine running the target, so it may be invoked
// concurrently and should return quickly. A panic in OnEvent is recovered
// and logged.
type Observer interface {
	OnEvent(ev types.OutputEvent)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ev types.OutputEvent)

func (f ObserverFunc) OnEvent(ev types.OutputEvent) { f(ev) }

// filter passes either lifecycle events or everything else.
type filter struct {
	obs       Observer
	lifecycle bool
}

func (f filter) OnEvent(ev types.OutputEvent) {
	if ev.Kind.IsLifecycle() == f.lifecycle {
		f.obs.OnEvent(ev)
	}
}
