package parser

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"netshell/internal/pipeline/types"
	"netshell/internal/vars"
)

func TestParsePipelineWrapped(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deploy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
pipeline:
  name: deploy
  steps:
    - name: build
      script: make {{ target }}
      servers: [web1, web2]
      timeout_seconds: 30
      variables:
        target: release
        replicas: 3
      extract:
        - name: artifact
          patterns: ["built (\\S+)"]
          source: stdout
          cascade: false
`), 0o644))

	p, err := ParsePipeline(path)
	require.NoError(t, err)
	assert.Equal(t, "deploy", p.Name)
	require.Len(t, p.Steps, 1)

	step := p.Steps[0]
	assert.Equal(t, []string{"web1", "web2"}, step.Servers)
	assert.Equal(t, 30, step.TimeoutSeconds)
	assert.Equal(t, vars.String("release"), step.Variables["target"])
	assert.Equal(t, vars.Int(3), step.Variables["replicas"])
	require.Len(t, step.Extract, 1)
	assert.Equal(t, types.SourceStdout, step.Extract[0].Source)
	assert.False(t, step.Extract[0].IsCascade())
}

func TestParseBarePipeline(t *testing.T) {
	p, err := Parse([]byte("name: check\nsteps:\n  - name: uptime\n    script: uptime\n"))
	require.NoError(t, err)
	assert.Equal(t, "check", p.Name)
	assert.Equal(t, []string{types.LocalTargetName}, p.Steps[0].Targets())
}

func TestParseErrors(t *testing.T) {
	_, err := ParsePipeline(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Parse([]byte(""))
	assert.Error(t, err)

	_, err = Parse([]byte("steps: []\n"))
	assert.ErrorContains(t, err, "no name")

	_, err = Parse([]byte("name: [unclosed\n"))
	assert.Error(t, err)
}
