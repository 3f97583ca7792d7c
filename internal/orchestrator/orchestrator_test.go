package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"netshell/internal/logging"
	"netshell/internal/pipeline/types"
	"netshell/internal/target"
	"netshell/internal/vars"
)

// scriptedTarget echoes the rendered script, failing scripts that contain
// "fail".
type scriptedTarget struct{ name string }

func (s scriptedTarget) Name() string { return s.name }

func (s scriptedTarget) Run(_ context.Context, req target.Request, sink target.LineSink) types.ExecutionResult {
	if sink != nil {
		sink(target.Stdout, req.Script)
	}
	res := types.ExecutionResult{Success: true, Script: req.Script, Stdout: req.Script + "\n", ElapsedMs: 1}
	if strings.Contains(req.Script, "fail") {
		res.Success = false
		res.ExitCode = 1
		res.ErrorKind = types.ErrExecution
		res.ErrorMessage = "Script exited with code 1"
	}
	return res
}

type resolver struct{}

func (resolver) Resolve(name string) (target.Target, error) {
	if name == "ghost" {
		return nil, fmt.Errorf("unknown client %q", name)
	}
	return scriptedTarget{name: name}, nil
}

type recorder struct {
	mu     sync.Mutex
	events []types.OutputEvent
}

func (r *recorder) OnEvent(ev types.OutputEvent) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) kinds() map[types.EventKind]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := map[types.EventKind]int{}
	for _, ev := range r.events {
		out[ev.Kind]++
	}
	return out
}

type closingObserver struct {
	recorder
	closed bool
}

func (c *closingObserver) Close() error {
	c.closed = true
	return nil
}

func testConfig() types.Config {
	return types.Config{
		Variables: map[string]vars.Value{"greeting": vars.String("hello"), "who": vars.String("config")},
		Clients: map[string]types.ClientConfig{
			"web": {ExecutionMethod: types.ExecutionMethodSSH},
			"db":  {ExecutionMethod: types.ExecutionMethodLocal},
		},
		Pipelines: []types.Pipeline{
			{Name: "first", Steps: []types.Step{
				{Name: "say", Script: "echo {{ greeting }} {{ who }}", Extract: []types.ExtractRule{
					{Name: "leaked", Patterns: []string{`echo (\w+)`}, Source: types.SourceStdout},
				}},
			}},
			{Name: "second", Steps: []types.Step{
				{Name: "check", Script: "echo {{ leaked }}"},
			}},
			{Name: "third", Steps: []types.Step{
				{Name: "plain", Script: "echo done", Servers: []string{"web", "db"}},
			}},
		},
	}
}

func newTestOrchestrator(t *testing.T, cfg types.Config, overrides map[string]vars.Value, opts ...Option) *Orchestrator {
	t.Helper()
	opts = append([]Option{WithResolver(resolver{}), WithLogger(logging.Nop())}, opts...)
	o, err := New(cfg, overrides, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { o.Close() })
	return o
}

func TestExecuteAllPipelinesUsesFreshStores(t *testing.T) {
	o := newTestOrchestrator(t, testConfig(), map[string]vars.Value{"who": vars.String("cli")})

	results := o.ExecuteAllPipelines(context.Background())
	require.Len(t, results, 3)

	assert.True(t, results[0].OverallSuccess)
	assert.Equal(t, "echo hello cli", results[0].StepResults[0].ExecutionResult.Script)

	// variables extracted in one pipeline are not visible in the next
	assert.False(t, results[1].OverallSuccess)
	assert.Equal(t, types.ErrTemplate, results[1].StepResults[0].ExecutionResult.ErrorKind)

	assert.True(t, results[2].OverallSuccess)
	assert.Len(t, results[2].StepResults, 2)
	assert.NotEqual(t, results[0].RunID, results[2].RunID)
}

func TestStopOnPipelineFailure(t *testing.T) {
	cfg := testConfig()
	cfg.StopOnPipelineFailure = true
	o := newTestOrchestrator(t, cfg, nil)

	results := o.ExecuteAllPipelines(context.Background())
	require.Len(t, results, 2)
	assert.False(t, results[1].OverallSuccess)
}

func TestCallbacksReceiveTheirKinds(t *testing.T) {
	o := newTestOrchestrator(t, testConfig(), nil)
	var output, lifecycle recorder

	o.ExecuteAllPipelinesWithCallbacks(context.Background(), &output, &lifecycle)

	out := output.kinds()
	life := lifecycle.kinds()
	assert.Zero(t, out[types.EventStepStarted])
	assert.Zero(t, out[types.EventStepCompleted])
	assert.Positive(t, out[types.EventStdout])
	assert.Positive(t, out[types.EventLog])
	assert.Equal(t, 4, life[types.EventStepStarted])
	assert.Equal(t, 4, life[types.EventStepCompleted])
	assert.Zero(t, life[types.EventStdout])
}

func TestCallbacksMayBeNil(t *testing.T) {
	o := newTestOrchestrator(t, testConfig(), nil)
	var lifecycle recorder
	results := o.ExecuteAllPipelinesWithCallbacks(context.Background(), nil, &lifecycle)
	assert.Len(t, results, 3)
	assert.Equal(t, 4, lifecycle.kinds()[types.EventStepCompleted])
}

func TestSingleCallbackAndSubscribers(t *testing.T) {
	sub := &recorder{}
	o := newTestOrchestrator(t, testConfig(), nil, WithObserver(sub))
	late := &recorder{}
	o.Subscribe(late)

	var combined recorder
	o.ExecuteAllPipelinesWithCallback(context.Background(), &combined)

	assert.Equal(t, len(combined.events), len(sub.events))
	assert.Equal(t, len(combined.events), len(late.events))
	k := combined.kinds()
	assert.Positive(t, k[types.EventStepStarted])
	assert.Positive(t, k[types.EventStdout])
}

func TestObserverPanicDoesNotAbortRun(t *testing.T) {
	o := newTestOrchestrator(t, testConfig(), nil)
	var after recorder
	o.Subscribe(ObserverFunc(func(types.OutputEvent) { panic("observer bug") }))
	o.Subscribe(&after)

	results := o.ExecuteAllPipelines(context.Background())
	require.Len(t, results, 3)
	assert.True(t, results[0].OverallSuccess)
	assert.NotEmpty(t, after.events)
}

func TestExecutePipeline(t *testing.T) {
	o := newTestOrchestrator(t, testConfig(), nil)

	res, err := o.ExecutePipeline(context.Background(), "third")
	require.NoError(t, err)
	assert.Equal(t, "third", res.PipelineName)
	assert.True(t, res.OverallSuccess)

	_, err = o.ExecutePipeline(context.Background(), "missing")
	assert.True(t, errors.Is(err, ErrUnknownPipeline))
}

func TestQueries(t *testing.T) {
	o := newTestOrchestrator(t, testConfig(), nil)
	assert.Equal(t, []string{"db", "web"}, o.AvailableClients())
	assert.True(t, o.ClientExists("web"))
	assert.False(t, o.ClientExists("local"))
	assert.Equal(t, []string{"first", "second", "third"}, o.AvailablePipelines())
	assert.True(t, o.PipelineExists("second"))
	assert.False(t, o.PipelineExists("fourth"))
}

func TestCloseClosesObservers(t *testing.T) {
	obs := &closingObserver{}
	o, err := New(testConfig(), nil, WithResolver(resolver{}), WithLogger(logging.Nop()), WithObserver(obs))
	require.NoError(t, err)
	require.NoError(t, o.Close())
	assert.True(t, obs.closed)
}

func TestNewRejectsCollidingDelimiters(t *testing.T) {
	cfg := testConfig()
	cfg.Interpolation = types.Delimiters{Open: "{%", Close: "%}"}
	_, err := New(cfg, nil)
	assert.Error(t, err)
}

func TestCancelledContextRunsNothing(t *testing.T) {
	o := newTestOrchestrator(t, testConfig(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Empty(t, o.ExecuteAllPipelines(ctx))
}
