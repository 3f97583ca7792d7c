// Package config loads netshell.yaml: environment interpolation from the
// process and a sibling .env file, YAML decoding, defaults and validation.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"netshell/internal/logging"
	"netshell/internal/pipeline/parser"
	"netshell/internal/pipeline/types"
)

// ConfigFileName is the configuration looked up in the working directory
// when no path is given.
const ConfigFileName = "netshell.yaml"

const (
	DefaultTimeoutSeconds    = 60
	DefaultSSHPort           = 22
	DefaultSSHTimeoutSeconds = 30
)

var envRefRe = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

func ConfigExists(path string) bool {
	_, err := os.Stat(path)
	return !os.IsNotExist(err)
}

// Load reads, interpolates, decodes, defaults and validates the configuration
// at path. Pipelines listed in pipeline_files are resolved relative to the
// configuration's directory and appended after the inline ones.
func Load(path string) (types.Config, error) {
	if !ConfigExists(path) {
		return types.Config{}, fmt.Errorf("%s not found. Please run 'netshell init' first", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return types.Config{}, fmt.Errorf("error reading config file: %w", err)
	}

	dir := filepath.Dir(path)
	envMap, err := loadDotEnvIfExists(dir)
	if err != nil {
		logging.Warn("failed to parse .env", map[string]interface{}{"dir": dir, "error": err})
	}
	data, err = interpolateDocument(data, envMap)
	if err != nil {
		return types.Config{}, fmt.Errorf("error parsing config file: %w", err)
	}
	return Parse(data, dir)
}

// Parse decodes already interpolated YAML. baseDir anchors relative
// pipeline_files entries.
func Parse(data []byte, baseDir string) (types.Config, error) {
	var cfg types.Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return types.Config{}, fmt.Errorf("error parsing config file: %w", err)
	}

	for _, file := range cfg.PipelineFiles {
		if !filepath.IsAbs(file) {
			file = filepath.Join(baseDir, file)
		}
		p, err := parser.ParsePipeline(file)
		if err != nil {
			return types.Config{}, fmt.Errorf("pipeline file %s: %w", file, err)
		}
		cfg.Pipelines = append(cfg.Pipelines, *p)
	}

	applyDefaults(&cfg)
	if err := Validate(&cfg); err != nil {
		return types.Config{}, err
	}
	return cfg, nil
}

func applyDefaults(cfg *types.Config) {
	if cfg.DefaultTimeout == 0 {
		cfg.DefaultTimeout = DefaultTimeoutSeconds
	}
	for name, c := range cfg.Clients {
		if c.SSHConfig != nil {
			ssh := *c.SSHConfig
			if ssh.Port == 0 {
				ssh.Port = DefaultSSHPort
			}
			if ssh.TimeoutSeconds == 0 {
				ssh.TimeoutSeconds = DefaultSSHTimeoutSeconds
			}
			ssh.PrivateKeyPath = expandHome(ssh.PrivateKeyPath)
			ssh.KnownHostsPath = expandHome(ssh.KnownHostsPath)
			c.SSHConfig = &ssh
		}
		cfg.Clients[name] = c
	}
}

// expandHome expands a leading ~ to the user's home directory.
func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}

// loadDotEnvIfExists attempts to load a .env file from the directory of config
// and returns a map of key->value. If no .env exists an empty map is returned.
func loadDotEnvIfExists(dir string) (map[string]string, error) {
	envPath := filepath.Join(dir, ".env")
	if _, err := os.Stat(envPath); os.IsNotExist(err) {
		return map[string]string{}, nil
	}
	m, err := godotenv.Read(envPath)
	if err != nil {
		return map[string]string{}, err
	}
	return m, nil
}

// interpolateDocument expands ${VAR} references in every scalar except script
// bodies, which run on their targets and keep their own ${VAR} meaning.
func interpolateDocument(data []byte, envMap map[string]string) ([]byte, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, err
	}
	if len(root.Content) == 0 {
		return data, nil
	}
	interpolateNode(&root, envMap)
	return yaml.Marshal(&root)
}

func interpolateNode(n *yaml.Node, envMap map[string]string) {
	switch n.Kind {
	case yaml.ScalarNode:
		if v := interpolateEnv(n.Value, envMap); v != n.Value {
			n.Value = v
			if n.Style == 0 {
				// let the expanded text resolve its own type, e.g. a port number
				n.Tag = ""
			}
		}
	case yaml.MappingNode:
		for i := 0; i+1 < len(n.Content); i += 2 {
			if n.Content[i].Value == "script" {
				continue
			}
			interpolateNode(n.Content[i+1], envMap)
		}
	default:
		for _, c := range n.Content {
			interpolateNode(c, envMap)
		}
	}
}

// interpolateEnv replaces ${VAR} occurrences in the input text. Precedence:
// OS env > envMap. Unknown names and the bare $VAR form are left for the
// shell.
func interpolateEnv(input string, envMap map[string]string) string {
	return envRefRe.ReplaceAllStringFunc(input, func(ref string) string {
		name := ref[2 : len(ref)-1]
		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		if v, ok := envMap[name]; ok {
			return v
		}
		return ref
	})
}
