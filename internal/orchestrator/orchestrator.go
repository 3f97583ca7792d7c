// Package orchestrator runs the configured pipelines and fans their output
// events out to observers.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"netshell/internal/logging"
	"netshell/internal/pipeline/executor"
	"netshell/internal/pipeline/types"
	"netshell/internal/sshclient"
	"netshell/internal/target"
	"netshell/internal/template"
	"netshell/internal/vars"
)

// ErrUnknownPipeline is returned by ExecutePipeline for a name that is not
// configured.
var ErrUnknownPipeline = errors.New("unknown pipeline")

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger used for orchestration and target logs.
func WithLogger(l *logging.Logger) Option {
	return func(o *Orchestrator) { o.log = l }
}

// WithObserver subscribes obs before any pipeline runs.
func WithObserver(obs Observer) Option {
	return func(o *Orchestrator) { o.observers = append(o.observers, obs) }
}

// WithResolver replaces the configured targets, typically with fakes.
func WithResolver(r executor.Resolver) Option {
	return func(o *Orchestrator) { o.targets = r }
}

// Orchestrator owns one configuration and everything derived from it: the
// template engine, the SSH connection pool and the observers.
type Orchestrator struct {
	cfg       types.Config
	overrides map[string]vars.Value
	engine    *template.Engine
	pool      *sshclient.Pool
	targets   executor.Resolver
	log       *logging.Logger

	mu        sync.RWMutex
	observers []Observer
}

// New builds an orchestrator. overrides take precedence over the global
// variables of cfg in every pipeline run.
func New(cfg types.Config, overrides map[string]vars.Value, opts ...Option) (*Orchestrator, error) {
	engine, err := template.NewEngine(template.Options{
		Open:               cfg.Interpolation.Open,
		Close:              cfg.Interpolation.Close,
		TrimLoopBlankLines: cfg.TrimLoopBlankLines,
	})
	if err != nil {
		return nil, fmt.Errorf("template engine: %w", err)
	}

	o := &Orchestrator{
		cfg:       cfg,
		overrides: copyValues(overrides),
		engine:    engine,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.log == nil {
		o.log = logging.WithFields(nil)
	}
	if o.targets == nil {
		o.pool = sshclient.NewPool(o.log)
		o.targets = target.NewFactory(cfg.Clients, o.pool, o.log)
	}
	return o, nil
}

// Subscribe registers an observer for all subsequent runs.
func (o *Orchestrator) Subscribe(obs Observer) {
	if obs == nil {
		return
	}
	o.mu.Lock()
	o.observers = append(o.observers, obs)
	o.mu.Unlock()
}

// ExecuteAllPipelines runs every configured pipeline in order, each with a
// freshly seeded variable store.
func (o *Orchestrator) ExecuteAllPipelines(ctx context.Context) []types.PipelineResult {
	return o.executeAll(ctx, nil)
}

// ExecuteAllPipelinesWithCallbacks is ExecuteAllPipelines with two extra
// observers for this call only: output receives stdout, stderr and log
// events; lifecycle receives step started and completed events. Either may be
// nil.
func (o *Orchestrator) ExecuteAllPipelinesWithCallbacks(ctx context.Context, output, lifecycle Observer) []types.PipelineResult {
	var extra []Observer
	if output != nil {
		extra = append(extra, filter{obs: output, lifecycle: false})
	}
	if lifecycle != nil {
		extra = append(extra, filter{obs: lifecycle, lifecycle: true})
	}
	return o.executeAll(ctx, extra)
}

// ExecuteAllPipelinesWithCallback is ExecuteAllPipelines with one extra
// observer receiving every event.
func (o *Orchestrator) ExecuteAllPipelinesWithCallback(ctx context.Context, sink Observer) []types.PipelineResult {
	if sink == nil {
		return o.executeAll(ctx, nil)
	}
	return o.executeAll(ctx, []Observer{sink})
}

func (o *Orchestrator) executeAll(ctx context.Context, extra []Observer) []types.PipelineResult {
	pipelines := o.cfg.Pipelines
	results := make([]types.PipelineResult, 0, len(pipelines))
	o.log.Info("executing pipelines", map[string]interface{}{"count": len(pipelines)})
	for _, p := range pipelines {
		if err := ctx.Err(); err != nil {
			o.log.Warn("run aborted", map[string]interface{}{"pipeline": p.Name, "error": err.Error()})
			break
		}
		res := o.run(ctx, p, extra)
		results = append(results, res)
		if !res.OverallSuccess && o.cfg.StopOnPipelineFailure {
			o.log.Warn("pipeline failed, stopping", map[string]interface{}{"pipeline": p.Name})
			break
		}
	}
	return results
}

// ExecutePipeline runs the named pipeline. The error is non-nil only when no
// pipeline has that name; a failed run is reported in the result.
func (o *Orchestrator) ExecutePipeline(ctx context.Context, name string) (types.PipelineResult, error) {
	p, ok := o.pipeline(name)
	if !ok {
		return types.PipelineResult{}, fmt.Errorf("%w %q", ErrUnknownPipeline, name)
	}
	return o.run(ctx, p, nil), nil
}

func (o *Orchestrator) run(ctx context.Context, p types.Pipeline, extra []Observer) types.PipelineResult {
	store := vars.NewStore(o.cfg.Variables, o.overrides)
	exec := executor.NewExecutor(executor.Options{
		Targets:            o.targets,
		Engine:             o.engine,
		DefaultTimeout:     time.Duration(o.cfg.DefaultTimeout) * time.Second,
		MaxParallelTargets: o.cfg.MaxParallelTargets,
		Emit:               o.emitter(extra),
		Log:                o.log,
	})
	return exec.RunPipeline(ctx, p, store)
}

// emitter delivers each event to the subscribed observers followed by the
// per-call ones.
func (o *Orchestrator) emitter(extra []Observer) func(types.OutputEvent) {
	o.mu.RLock()
	observers := make([]Observer, 0, len(o.observers)+len(extra))
	observers = append(observers, o.observers...)
	o.mu.RUnlock()
	observers = append(observers, extra...)

	return func(ev types.OutputEvent) {
		for _, obs := range observers {
			o.notify(obs, ev)
		}
	}
}

func (o *Orchestrator) notify(obs Observer, ev types.OutputEvent) {
	defer func() {
		if r := recover(); r != nil {
			o.log.Error("observer panicked", map[string]interface{}{
				"panic":    fmt.Sprint(r),
				"pipeline": ev.PipelineName,
				"step":     ev.Step.Name,
				"target":   ev.Target,
			})
		}
	}()
	obs.OnEvent(ev)
}

func (o *Orchestrator) pipeline(name string) (types.Pipeline, bool) {
	for _, p := range o.cfg.Pipelines {
		if p.Name == name {
			return p, true
		}
	}
	return types.Pipeline{}, false
}

// AvailableClients returns the configured client names, sorted.
func (o *Orchestrator) AvailableClients() []string {
	names := make([]string, 0, len(o.cfg.Clients))
	for name := range o.cfg.Clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (o *Orchestrator) ClientExists(name string) bool {
	_, ok := o.cfg.Clients[name]
	return ok
}

// AvailablePipelines returns pipeline names in configuration order.
func (o *Orchestrator) AvailablePipelines() []string {
	names := make([]string, 0, len(o.cfg.Pipelines))
	for _, p := range o.cfg.Pipelines {
		names = append(names, p.Name)
	}
	return names
}

func (o *Orchestrator) PipelineExists(name string) bool {
	_, ok := o.pipeline(name)
	return ok
}

// Config returns the configuration the orchestrator was built from.
func (o *Orchestrator) Config() types.Config { return o.cfg }

// Close releases pooled SSH connections and closes observers that hold
// resources.
func (o *Orchestrator) Close() error {
	var errs []error
	if o.pool != nil {
		if err := o.pool.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	o.mu.Lock()
	observers := o.observers
	o.observers = nil
	o.mu.Unlock()
	for _, obs := range observers {
		if c, ok := obs.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func copyValues(m map[string]vars.Value) map[string]vars.Value {
	out := make(map[string]vars.Value, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
