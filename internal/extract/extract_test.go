package extract

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"netshell/internal/pipeline/types"
	"netshell/internal/vars"
)

func boolPtr(b bool) *bool { return &b }

func TestCascade(t *testing.T) {
	res := types.ExecutionResult{Stdout: "status: version=1.4.2 build=77\n"}

	o := Extract(types.ExtractRule{
		Name:     "ver",
		Source:   types.SourceStdout,
		Patterns: []string{`version=(\S+)`, `^(\d+)\.`},
	}, res)
	require.NoError(t, o.Err)
	assert.Equal(t, "1", o.Value)
	assert.Empty(t, o.Warnings)
}

func TestCascadeFailsOnAnyMiss(t *testing.T) {
	res := types.ExecutionResult{Stdout: "version=1.4.2"}
	o := Extract(types.ExtractRule{
		Name:     "ver",
		Source:   types.SourceStdout,
		Patterns: []string{`version=(\S+)`, `beta-(\d+)`},
	}, res)
	var eerr *Error
	require.True(t, errors.As(o.Err, &eerr))
	assert.Equal(t, `beta-(\d+)`, eerr.Pattern)
	assert.Empty(t, o.Value)
}

func TestFallbackFirstMatchWins(t *testing.T) {
	res := types.ExecutionResult{Stdout: "port=8080 alt=9090"}
	o := Extract(types.ExtractRule{
		Name:     "port",
		Source:   types.SourceStdout,
		Cascade:  boolPtr(false),
		Patterns: []string{`listen=(\d+)`, `port=(\d+)`, `alt=(\d+)`},
	}, res)
	require.NoError(t, o.Err)
	assert.Equal(t, "8080", o.Value)

	o = Extract(types.ExtractRule{
		Name:     "port",
		Source:   types.SourceStdout,
		Cascade:  boolPtr(false),
		Patterns: []string{`listen=(\d+)`, `bind=(\d+)`},
	}, res)
	assert.Error(t, o.Err)
}

func TestFullMatchWithoutGroupWarns(t *testing.T) {
	res := types.ExecutionResult{Stdout: "id 42 ok"}
	o := Extract(types.ExtractRule{Name: "id", Source: types.SourceStdout, Patterns: []string{`\d+`}}, res)
	require.NoError(t, o.Err)
	assert.Equal(t, "42", o.Value)
	require.Len(t, o.Warnings, 1)
	assert.Contains(t, o.Warnings[0], "full match")
}

func TestSources(t *testing.T) {
	res := types.ExecutionResult{Stdout: "out", Stderr: "warn: disk 91%", ExitCode: 3}

	o := Extract(types.ExtractRule{Name: "disk", Source: types.SourceStderr, Patterns: []string{`disk (\d+)%`}}, res)
	require.NoError(t, o.Err)
	assert.Equal(t, "91", o.Value)

	o = Extract(types.ExtractRule{Name: "rc", Source: types.SourceExitCode, Patterns: []string{`(\d+)`}}, res)
	require.NoError(t, o.Err)
	assert.Equal(t, "3", o.Value)

	o = Extract(types.ExtractRule{Name: "x", Source: "journal", Patterns: []string{`.`}}, res)
	assert.Error(t, o.Err)
}

func TestInvalidInputsAreErrors(t *testing.T) {
	res := types.ExecutionResult{Stdout: "abc"}

	o := Extract(types.ExtractRule{Name: "bad", Source: types.SourceStdout, Patterns: []string{`(`}}, res)
	assert.Error(t, o.Err)

	o = Extract(types.ExtractRule{Name: "none", Source: types.SourceStdout}, res)
	assert.Error(t, o.Err)
}

func TestApplyCommitsOnlySuccesses(t *testing.T) {
	store := vars.NewStore(map[string]vars.Value{"keep": vars.String("old")})
	res := types.ExecutionResult{Stdout: "user=ann"}

	outcomes := Apply(store, []types.ExtractRule{
		{Name: "user", Source: types.SourceStdout, Patterns: []string{`user=(\w+)`}},
		{Name: "keep", Source: types.SourceStdout, Patterns: []string{`missing=(\w+)`}},
	}, res)

	require.Len(t, outcomes, 2)
	assert.True(t, outcomes[0].OK())
	assert.False(t, outcomes[1].OK())

	v, ok := store.Get("user")
	require.True(t, ok)
	assert.Equal(t, "ann", v.String())
	v, _ = store.Get("keep")
	assert.Equal(t, "old", v.String())
}
