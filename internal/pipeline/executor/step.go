package executor

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"netshell/internal/extract"
	"netshell/internal/pipeline/types"
	"netshell/internal/target"
	"netshell/internal/vars"
)

// prepared is a step rendered against the store, ready to dispatch.
type prepared struct {
	req target.Request
	err error
}

// prepare applies the step's static variables and renders its script and
// environment. Override values that are strings are templates themselves,
// rendered against the store as it was before any override was written.
func (e *Executor) prepare(step types.Step, store *vars.Store) prepared {
	if len(step.Variables) > 0 {
		before := store.Snapshot()
		overrides := make(map[string]vars.Value, len(step.Variables))
		for name, v := range step.Variables {
			if s, ok := v.AsString(); ok {
				out, err := e.engine.Render(s, before)
				if err != nil {
					return prepared{err: fmt.Errorf("variable %q: %w", name, err)}
				}
				v = vars.String(out)
			}
			overrides[name] = v
		}
		store.Merge(overrides)
	}

	snap := store.Snapshot()
	script, err := e.engine.Render(step.Script, snap)
	if err != nil {
		return prepared{err: fmt.Errorf("script: %w", err)}
	}

	var env map[string]string
	if len(step.Env) > 0 {
		env = make(map[string]string, len(step.Env))
		for k, tmpl := range step.Env {
			out, err := e.engine.Render(tmpl, snap)
			if err != nil {
				return prepared{err: fmt.Errorf("env %q: %w", k, err)}
			}
			env[k] = out
		}
	}

	timeout := e.defaultTimeout
	if step.TimeoutSeconds > 0 {
		timeout = time.Duration(step.TimeoutSeconds) * time.Second
	}
	return prepared{req: target.Request{
		Script:      script,
		Timeout:     timeout,
		IdleTimeout: time.Duration(step.IdleTimeoutSeconds) * time.Second,
		Env:         env,
		Variables:   snap.Env(),
	}}
}

// runStep executes step on all of its targets and returns one result per
// target in list order. Extraction runs only after every target finished,
// again in list order, so a later target wins when two extract the same
// name.
func (e *Executor) runStep(ctx context.Context, r *run, step types.Step) []types.StepResult {
	names := step.Targets()
	log := r.log.WithFields(map[string]interface{}{"step": step.Name})
	p := e.prepare(step, r.store)

	for _, name := range names {
		e.event(r, step, name, types.EventStepStarted, fmt.Sprintf("Step %s started on %s", step.Name, name))
	}

	results := make([]types.ExecutionResult, len(names))
	histories := make([]*history, len(names))
	if p.err != nil {
		log.Error("failed to render step", map[string]interface{}{"error": p.err.Error()})
		for i := range names {
			res := types.Failed(types.ErrTemplate, p.err.Error(), 0)
			res.Script = step.Script
			results[i] = res
		}
	} else {
		var g errgroup.Group
		if e.maxParallel > 0 {
			g.SetLimit(e.maxParallel)
		}
		for i, name := range names {
			histories[i] = newHistory()
			g.Go(func() error {
				results[i] = e.runTarget(ctx, r, step, name, p.req, histories[i])
				return nil
			})
		}
		_ = g.Wait()
	}

	out := make([]types.StepResult, len(names))
	for i, name := range names {
		res := results[i]
		if executed(res) {
			e.extract(r, step, name, res)
		}
		if !res.Success {
			e.event(r, step, name, types.EventLog, fmt.Sprintf("Step %s failed on %s: %s", step.Name, name, res.ErrorMessage))
			if h := histories[i]; h != nil {
				if ev := h.evidence(evidenceLines); ev != "" {
					e.event(r, step, name, types.EventLog, ev)
				}
			}
		}
		e.event(r, step, name, types.EventStepCompleted, completion(step.Name, name, res))
		out[i] = types.StepResult{StepName: step.Name, Target: name, ExecutionResult: res}
	}
	return out
}

func (e *Executor) runTarget(ctx context.Context, r *run, step types.Step, name string, req target.Request, h *history) types.ExecutionResult {
	log := r.log.WithFields(map[string]interface{}{"step": step.Name, "target": name})
	t, err := e.targets.Resolve(name)
	if err != nil {
		log.Error("unknown target", map[string]interface{}{"error": err.Error()})
		res := types.Failed(types.ErrConfig, err.Error(), 0)
		res.Script = req.Script
		return res
	}

	log.Debug("dispatching script", map[string]interface{}{"timeout": req.Timeout.String()})
	res := t.Run(ctx, req, func(stream target.Stream, line string) {
		h.add(line)
		kind := types.EventStdout
		if stream == target.Stderr {
			kind = types.EventStderr
		}
		e.event(r, step, name, kind, line)
	})

	fields := map[string]interface{}{"exit_code": res.ExitCode, "elapsed_ms": res.ElapsedMs}
	if res.Success {
		log.Info("target completed", fields)
	} else {
		fields["error_kind"] = string(res.ErrorKind)
		fields["error"] = res.ErrorMessage
		log.Warn("target failed", fields)
	}
	return res
}

// extract applies the step's rules to one target's result and reports every
// warning and failure as a log event. Extraction failures never fail the
// step.
func (e *Executor) extract(r *run, step types.Step, name string, res types.ExecutionResult) {
	if len(step.Extract) == 0 {
		return
	}
	log := r.log.WithFields(map[string]interface{}{"step": step.Name, "target": name})
	for _, o := range extract.Apply(r.store, step.Extract, res) {
		for _, w := range o.Warnings {
			log.Warn("extraction warning", map[string]interface{}{"variable": o.Rule, "warning": w})
			e.event(r, step, name, types.EventLog, fmt.Sprintf("extract %s: %s", o.Rule, w))
		}
		if !o.OK() {
			log.Warn("extraction failed", map[string]interface{}{"variable": o.Rule, "error": o.Err.Error()})
			e.event(r, step, name, types.EventLog, o.Err.Error())
			continue
		}
		log.Debug("variable extracted", map[string]interface{}{"variable": o.Rule, "value": o.Value})
		e.event(r, step, name, types.EventLog, fmt.Sprintf("Extracted variable %s = %s", o.Rule, o.Value))
	}
}

// executed reports whether a script actually ran for res, as opposed to a
// result synthesized before dispatch.
func executed(res types.ExecutionResult) bool {
	return res.ErrorKind != types.ErrTemplate && res.ErrorKind != types.ErrConfig
}

func completion(step, targetName string, res types.ExecutionResult) string {
	status := "success"
	if !res.Success {
		status = "failed"
		if res.ErrorKind != types.ErrNone {
			status = "failed: " + string(res.ErrorKind)
		}
	}
	return fmt.Sprintf("Step %s completed on %s (%s, exit code %d, %dms)", step, targetName, status, res.ExitCode, res.ElapsedMs)
}
