// Package executor runs pipelines: steps in order, each step's targets
// concurrently, with variables extracted from one step feeding the templates
// of the next.
package executor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"netshell/internal/logging"
	"netshell/internal/pipeline/types"
	"netshell/internal/target"
	"netshell/internal/template"
	"netshell/internal/vars"
)

// DefaultTimeout applies to steps without timeout_seconds when the
// configuration sets no default.
const DefaultTimeout = 60 * time.Second

// Resolver maps a target name to something that can run a script.
type Resolver interface {
	Resolve(name string) (target.Target, error)
}

// Options configures an Executor.
type Options struct {
	Targets            Resolver
	Engine             *template.Engine
	DefaultTimeout     time.Duration
	MaxParallelTargets int
	// Emit receives every event synchronously on the goroutine that produced
	// it. It may be called concurrently for different targets.
	Emit func(types.OutputEvent)
	Log  *logging.Logger
}

// Executor handles pipeline execution
type Executor struct {
	targets        Resolver
	engine         *template.Engine
	defaultTimeout time.Duration
	maxParallel    int
	emit           func(types.OutputEvent)
	log            *logging.Logger
}

// NewExecutor creates a new executor
func NewExecutor(opts Options) *Executor {
	e := &Executor{
		targets:        opts.Targets,
		engine:         opts.Engine,
		defaultTimeout: opts.DefaultTimeout,
		maxParallel:    opts.MaxParallelTargets,
		emit:           opts.Emit,
		log:            opts.Log,
	}
	if e.engine == nil {
		e.engine = template.Default()
	}
	if e.defaultTimeout <= 0 {
		e.defaultTimeout = DefaultTimeout
	}
	if e.emit == nil {
		e.emit = func(types.OutputEvent) {}
	}
	if e.log == nil {
		e.log = logging.WithFields(nil)
	}
	return e
}

// run carries the state of one pipeline execution.
type run struct {
	pipeline string
	id       uuid.UUID
	store    *vars.Store
	log      *logging.Logger
}

func (e *Executor) event(r *run, step types.Step, targetName string, kind types.EventKind, content string) {
	e.emit(types.OutputEvent{
		PipelineName: r.pipeline,
		RunID:        r.id,
		Step:         step,
		Target:       targetName,
		Kind:         kind,
		Content:      content,
		Timestamp:    time.Now(),
		Variables:    r.store.Snapshot(),
	})
}

func (e *Executor) systemLog(r *run, step types.Step, content string) {
	e.event(r, step, types.SystemTargetName, types.EventLog, content)
}

// RunPipeline executes the steps of p in order against store. It stops after
// the first step in which any target failed, and before the next step once
// ctx is done. The store is mutated by step overrides and extraction.
func (e *Executor) RunPipeline(ctx context.Context, p types.Pipeline, store *vars.Store) types.PipelineResult {
	r := &run{pipeline: p.Name, id: uuid.New(), store: store}
	r.log = e.log.WithFields(map[string]interface{}{"pipeline": p.Name, "run_id": r.id.String()})

	result := types.PipelineResult{
		PipelineName: p.Name,
		RunID:        r.id,
		StartedAt:    time.Now(),
		StepResults:  []types.StepResult{},
	}
	marker := types.Step{Name: "pipeline_start"}
	e.systemLog(r, marker, fmt.Sprintf("Starting pipeline: %s", p.Name))
	r.log.Info("pipeline started", map[string]interface{}{"steps": len(p.Steps)})

	success := true
	for _, step := range p.Steps {
		if err := ctx.Err(); err != nil {
			success = false
			result.ErrorMessage = fmt.Sprintf("pipeline aborted before step %q: %v", step.Name, err)
			r.log.Warn("pipeline aborted", map[string]interface{}{"step": step.Name, "error": err.Error()})
			break
		}

		e.systemLog(r, step, fmt.Sprintf("Starting step: %s (%d targets)", step.Name, len(step.Targets())))
		stepResults := e.runStep(ctx, r, step)
		result.StepResults = append(result.StepResults, stepResults...)
		result.TotalMs += slowest(stepResults)

		failed := failedTargets(stepResults)
		if len(failed) == 0 {
			e.systemLog(r, step, fmt.Sprintf("Step completed: %s (success)", step.Name))
			continue
		}
		success = false
		result.ErrorMessage = fmt.Sprintf("step %q failed on %s", step.Name, strings.Join(failed, ", "))
		e.systemLog(r, step, fmt.Sprintf("Step completed: %s (failed on %d of %d targets), stopping pipeline",
			step.Name, len(failed), len(stepResults)))
		r.log.Warn("step failed, stopping pipeline", map[string]interface{}{"step": step.Name, "targets": failed})
		break
	}

	result.OverallSuccess = success
	status := "success"
	if !success {
		status = "failed"
	}
	e.systemLog(r, types.Step{Name: "pipeline_complete"},
		fmt.Sprintf("Pipeline completed: %s (%s) - total time: %dms", p.Name, status, result.TotalMs))
	r.log.Info("pipeline finished", map[string]interface{}{"success": success, "total_ms": result.TotalMs})
	return result
}

// slowest is a step's contribution to the pipeline time: its targets run
// concurrently, so the step takes as long as its slowest target.
func slowest(results []types.StepResult) int64 {
	var longest int64
	for _, r := range results {
		if r.ExecutionResult.ElapsedMs > longest {
			longest = r.ExecutionResult.ElapsedMs
		}
	}
	return longest
}

func failedTargets(results []types.StepResult) []string {
	var out []string
	for _, r := range results {
		if !r.Success() {
			out = append(out, r.Target)
		}
	}
	return out
}
