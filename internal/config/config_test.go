package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"netshell/internal/pipeline/types"
	"netshell/internal/vars"
)

const sampleYAML = `
variables:
  app: api
  regions: [eu, us]
  limits:
    cpu: 2
default_timeout: 120
clients:
  web:
    execution_method: ssh
    ssh_config:
      host: ${WEB_HOST}
      username: deploy
      password: ${WEB_PASSWORD}
  box:
    execution_method: local
    local_config:
      shell: /bin/bash
pipelines:
  - name: deploy
    steps:
      - name: uname
        script: uname -a; echo "$HOME ${UNSET_IN_TEST}"
        servers: [web, box]
        extract:
          - name: kernel
            patterns: ["Linux (\\S+)"]
            source: stdout
`

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, ConfigFileName)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadInterpolatesEnvAndAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("WEB_HOST=from-dotenv\nWEB_PASSWORD=s3cret\n"), 0o644))
	t.Setenv("WEB_HOST", "10.0.0.5")

	cfg, err := Load(writeConfig(t, dir, sampleYAML))
	require.NoError(t, err)

	web := cfg.Clients["web"].SSHConfig
	require.NotNil(t, web)
	assert.Equal(t, "10.0.0.5", web.Host, "process environment wins over .env")
	assert.Equal(t, "s3cret", web.Password)
	assert.Equal(t, DefaultSSHPort, web.Port)
	assert.Equal(t, DefaultSSHTimeoutSeconds, web.TimeoutSeconds)
	assert.Equal(t, 120, cfg.DefaultTimeout)

	script := cfg.Pipelines[0].Steps[0].Script
	assert.Contains(t, script, "$HOME ${UNSET_IN_TEST}")

	assert.Equal(t, vars.String("api"), cfg.Variables["app"])
	assert.Equal(t, vars.Strings("eu", "us"), cfg.Variables["regions"])
	cpu, err := cfg.Variables["limits"].Lookup("cpu")
	require.NoError(t, err)
	assert.Equal(t, vars.Int(2), cpu)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorContains(t, err, "not found")
}

func TestParseRejectsUnknownFields(t *testing.T) {
	_, err := Parse([]byte("pipelines: []\nunknown_key: 1\n"), ".")
	assert.Error(t, err)
}

func TestParseLoadsPipelineFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "pipelines"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pipelines", "extra.yaml"),
		[]byte("pipeline:\n  name: extra\n  steps:\n    - name: s\n      script: echo hi\n"), 0o644))

	cfg, err := Parse([]byte(`
pipeline_files: [pipelines/extra.yaml]
pipelines:
  - name: inline
    steps:
      - name: s
        script: echo inline
`), dir)
	require.NoError(t, err)
	require.Len(t, cfg.Pipelines, 2)
	assert.Equal(t, "inline", cfg.Pipelines[0].Name)
	assert.Equal(t, "extra", cfg.Pipelines[1].Name)
	assert.Equal(t, DefaultTimeoutSeconds, cfg.DefaultTimeout)
}

func TestValidateAggregatesProblems(t *testing.T) {
	cfg := types.Config{
		Clients: map[string]types.ClientConfig{
			"both": {ExecutionMethod: "ssh", SSHConfig: &types.SSHConfig{
				Host: "h", Username: "u", Password: "p", PrivateKeyPath: "/tmp/key",
			}},
			"none":   {ExecutionMethod: "ssh", SSHConfig: &types.SSHConfig{Host: "h", Username: "u"}},
			"bare":   {ExecutionMethod: "ssh"},
			"telnet": {ExecutionMethod: "telnet"},
		},
		Pipelines: []types.Pipeline{
			{Name: "p", Steps: []types.Step{{Name: "s", Script: "x", Servers: []string{"ghost"}}}},
			{Name: "p", Steps: []types.Step{{Name: "s", Script: "x", Extract: []types.ExtractRule{
				{Name: "bad name", Patterns: []string{"x"}, Source: "stdin"},
			}}}},
		},
	}

	err := Validate(&cfg)
	var verr *ValidationError
	require.True(t, errors.As(err, &verr), "got %v", err)

	joined := verr.Error()
	assert.Contains(t, joined, "configuration validation failed:")
	for _, want := range []string{
		`client "both": set either password or private_key_path`,
		`client "none": one of password or private_key_path is required`,
		`client "bare": execution_method ssh requires ssh_config`,
		`Clients[telnet].ExecutionMethod`,
		`server "ghost" is not a configured client`,
		`pipeline "p": duplicate name`,
		`Extract[0].Name`,
		`Extract[0].Source`,
	} {
		assert.Contains(t, joined, want)
	}
}

func TestValidateRequiresPipelines(t *testing.T) {
	err := Validate(&types.Config{})
	assert.ErrorContains(t, err, "no pipelines defined")
}

func TestValidateAcceptsLocalAndKeyAuth(t *testing.T) {
	key := filepath.Join(t.TempDir(), "id_ed25519")
	require.NoError(t, os.WriteFile(key, []byte("key"), 0o600))

	cfg := types.Config{
		Clients: map[string]types.ClientConfig{
			"web": {ExecutionMethod: "ssh", SSHConfig: &types.SSHConfig{Host: "h", Username: "u", PrivateKeyPath: key}},
		},
		Pipelines: []types.Pipeline{
			{Name: "p", Steps: []types.Step{{Name: "s", Script: "x", Servers: []string{"web", "local"}}}},
		},
	}
	assert.NoError(t, Validate(&cfg))
}

func TestValidateRejectsCollidingDelimiters(t *testing.T) {
	cfg := types.Config{
		Interpolation: types.Delimiters{Open: "{%"},
		Pipelines:     []types.Pipeline{{Name: "p", Steps: []types.Step{{Name: "s", Script: "x"}}}},
	}
	assert.ErrorContains(t, Validate(&cfg), "interpolation")
}

func TestInterpolateEnv(t *testing.T) {
	t.Setenv("NETSHELL_TEST_A", "os")
	got := interpolateEnv("${NETSHELL_TEST_A} ${FROM_FILE} ${MISSING_X} $NETSHELL_TEST_A", map[string]string{
		"NETSHELL_TEST_A": "file",
		"FROM_FILE":       "file",
	})
	assert.Equal(t, "os file ${MISSING_X} $NETSHELL_TEST_A", got)
}

func TestSampleConfigIsValid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ConfigFileName)
	require.NoError(t, WriteSample(path))
	assert.Error(t, WriteSample(path), "existing file must not be overwritten")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.NotEmpty(t, cfg.Pipelines)
}

func TestLoadLeavesScriptsUninterpolated(t *testing.T) {
	t.Setenv("NETSHELL_TEST_HOST", "10.1.1.1")
	t.Setenv("NETSHELL_TEST_PORT", "2222")
	dir := t.TempDir()

	cfg, err := Load(writeConfig(t, dir, `
variables:
  target_host: ${NETSHELL_TEST_HOST}
clients:
  web:
    execution_method: ssh
    ssh_config:
      host: ${NETSHELL_TEST_HOST}
      port: ${NETSHELL_TEST_PORT}
      username: deploy
      password: "${NETSHELL_TEST_HOST}"
pipelines:
  - name: p
    steps:
      - name: s
        script: echo "${HOME} ${NETSHELL_TEST_HOST}"
        servers: [web]
`))
	require.NoError(t, err)

	web := cfg.Clients["web"].SSHConfig
	assert.Equal(t, "10.1.1.1", web.Host)
	assert.Equal(t, 2222, web.Port)
	assert.Equal(t, "10.1.1.1", web.Password)
	assert.Equal(t, vars.String("10.1.1.1"), cfg.Variables["target_host"])
	assert.Equal(t, `echo "${HOME} ${NETSHELL_TEST_HOST}"`, cfg.Pipelines[0].Steps[0].Script)
}
