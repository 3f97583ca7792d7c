package types

import (
	"netshell/internal/vars"
)

const (
	ExecutionMethodSSH   = "ssh"
	ExecutionMethodLocal = "local"

	// LocalTargetName names the synthetic target used by steps without servers.
	LocalTargetName = "local"
	// SystemTargetName tags pipeline-level log events.
	SystemTargetName = "system"
)

// Config is the complete, immutable run configuration.
type Config struct {
	Variables             map[string]vars.Value   `yaml:"variables,omitempty"`
	DefaultTimeout        int                     `yaml:"default_timeout,omitempty" validate:"gte=0"`
	MaxParallelTargets    int                     `yaml:"max_parallel_targets,omitempty" validate:"gte=0"`
	StopOnPipelineFailure bool                    `yaml:"stop_on_pipeline_failure,omitempty"`
	Interpolation         Delimiters              `yaml:"interpolation,omitempty"`
	TrimLoopBlankLines    bool                    `yaml:"trim_loop_blank_lines,omitempty"`
	Log                   LogConfig               `yaml:"log,omitempty"`
	EventSinks            EventSinks              `yaml:"event_sinks,omitempty"`
	PipelineFiles         []string                `yaml:"pipeline_files,omitempty"`
	Clients               map[string]ClientConfig `yaml:"clients" validate:"dive"`
	Pipelines             []Pipeline              `yaml:"pipelines" validate:"dive"`
}

// Delimiters overrides the interpolation delimiters. Empty means default.
type Delimiters struct {
	Open  string `yaml:"open,omitempty"`
	Close string `yaml:"close,omitempty"`
}

type LogConfig struct {
	Level  string `yaml:"level,omitempty" validate:"omitempty,oneof=debug info warn error"`
	Format string `yaml:"format,omitempty" validate:"omitempty,oneof=json console"`
}

type EventSinks struct {
	Kafka *KafkaSink `yaml:"kafka,omitempty"`
}

// KafkaSink publishes every output event as a JSON message.
type KafkaSink struct {
	Brokers []string `yaml:"brokers" validate:"required,min=1,dive,hostname_port"`
	Topic   string   `yaml:"topic" validate:"required"`
}

// ClientConfig describes one execution target.
type ClientConfig struct {
	ExecutionMethod string       `yaml:"execution_method" validate:"required,oneof=ssh local"`
	SSHConfig       *SSHConfig   `yaml:"ssh_config,omitempty"`
	LocalConfig     *LocalConfig `yaml:"local_config,omitempty"`
}

type SSHConfig struct {
	Host           string `yaml:"host" validate:"required"`
	Port           int    `yaml:"port,omitempty" validate:"gte=0,lte=65535"`
	Username       string `yaml:"username" validate:"required"`
	Password       string `yaml:"password,omitempty"`
	PrivateKeyPath string `yaml:"private_key_path,omitempty"`
	TimeoutSeconds int    `yaml:"timeout_seconds,omitempty" validate:"gte=0"`
	KnownHostsPath string `yaml:"known_hosts_path,omitempty"`
	JumpHost       string `yaml:"jump_host,omitempty"`
}

type LocalConfig struct {
	Shell string `yaml:"shell,omitempty"`
	PTY   bool   `yaml:"pty,omitempty"`
}

// Pipeline is a named, ordered list of steps.
type Pipeline struct {
	Name  string `yaml:"name" validate:"required"`
	Steps []Step `yaml:"steps" validate:"required,min=1,dive"`
}

// Step is one script executed on one or more targets.
type Step struct {
	Name               string                `yaml:"name" json:"name" validate:"required"`
	Script             string                `yaml:"script" json:"script" validate:"required"`
	TimeoutSeconds     int                   `yaml:"timeout_seconds,omitempty" json:"timeout_seconds,omitempty" validate:"gte=0"`
	IdleTimeoutSeconds int                   `yaml:"idle_timeout_seconds,omitempty" json:"idle_timeout_seconds,omitempty" validate:"gte=0"`
	Servers            []string              `yaml:"servers,omitempty" json:"servers,omitempty" validate:"dive,required"`
	Variables          map[string]vars.Value `yaml:"variables,omitempty" json:"variables,omitempty"`
	Env                map[string]string     `yaml:"env,omitempty" json:"env,omitempty"`
	Extract            []ExtractRule         `yaml:"extract,omitempty" json:"extract,omitempty" validate:"dive"`
}

// Targets returns the step's server list, or the synthetic local target.
func (s Step) Targets() []string {
	if len(s.Servers) == 0 {
		return []string{LocalTargetName}
	}
	out := make([]string, len(s.Servers))
	copy(out, s.Servers)
	return out
}

// ExtractSource selects which part of an execution result a rule reads.
type ExtractSource string

const (
	SourceStdout   ExtractSource = "stdout"
	SourceStderr   ExtractSource = "stderr"
	SourceExitCode ExtractSource = "exit_code"
)

// ExtractRule pulls one variable out of a target's output.
type ExtractRule struct {
	Name     string        `yaml:"name" json:"name" validate:"required,varname"`
	Patterns []string      `yaml:"patterns" json:"patterns" validate:"required,min=1"`
	Source   ExtractSource `yaml:"source" json:"source" validate:"required,oneof=stdout stderr exit_code"`
	Cascade  *bool         `yaml:"cascade,omitempty" json:"cascade,omitempty"`
}

// IsCascade reports the effective cascade flag, true unless set false.
func (r ExtractRule) IsCascade() bool {
	return r.Cascade == nil || *r.Cascade
}
