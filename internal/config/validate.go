package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"netshell/internal/pipeline/types"
	"netshell/internal/template"
)

var (
	validate  = validator.New()
	varNameRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
)

func init() {
	// extracted names must be addressable as a template path segment
	_ = validate.RegisterValidation("varname", func(fl validator.FieldLevel) bool {
		return varNameRe.MatchString(fl.Field().String())
	})
}

// ValidationError aggregates every problem found in a configuration.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("configuration validation failed:\n%s", strings.Join(e.Problems, "\n"))
}

// Validate checks struct constraints and the references between clients and
// pipelines. All problems are reported together.
func Validate(cfg *types.Config) error {
	var problems []string

	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		for _, fe := range verrs {
			problems = append(problems, describe(fe))
		}
	}

	if _, err := template.NewEngine(template.Options{Open: cfg.Interpolation.Open, Close: cfg.Interpolation.Close}); err != nil {
		problems = append(problems, fmt.Sprintf("interpolation: %v", err))
	}

	for name, c := range cfg.Clients {
		if name == types.SystemTargetName {
			problems = append(problems, fmt.Sprintf("client %q: name is reserved", name))
		}
		if c.ExecutionMethod != types.ExecutionMethodSSH {
			continue
		}
		if c.SSHConfig == nil {
			problems = append(problems, fmt.Sprintf("client %q: execution_method ssh requires ssh_config", name))
			continue
		}
		hasPassword := c.SSHConfig.Password != ""
		hasKey := c.SSHConfig.PrivateKeyPath != ""
		switch {
		case hasPassword && hasKey:
			problems = append(problems, fmt.Sprintf("client %q: set either password or private_key_path, not both", name))
		case !hasPassword && !hasKey:
			problems = append(problems, fmt.Sprintf("client %q: one of password or private_key_path is required", name))
		case hasKey:
			if _, err := os.Stat(c.SSHConfig.PrivateKeyPath); err != nil {
				problems = append(problems, fmt.Sprintf("client %q: private key file does not exist: %s", name, c.SSHConfig.PrivateKeyPath))
			}
		}
	}

	if len(cfg.Pipelines) == 0 {
		problems = append(problems, "no pipelines defined")
	}
	seen := make(map[string]bool, len(cfg.Pipelines))
	for _, p := range cfg.Pipelines {
		if p.Name != "" && seen[p.Name] {
			problems = append(problems, fmt.Sprintf("pipeline %q: duplicate name", p.Name))
		}
		seen[p.Name] = true
		for _, step := range p.Steps {
			for _, server := range step.Servers {
				if _, ok := cfg.Clients[server]; ok || server == types.LocalTargetName {
					continue
				}
				problems = append(problems, fmt.Sprintf("pipeline %q step %q: server %q is not a configured client", p.Name, step.Name, server))
			}
		}
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

func describe(fe validator.FieldError) string {
	field := strings.TrimPrefix(fe.Namespace(), "Config.")
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s: is required", field)
	case "min":
		return fmt.Sprintf("%s: must have at least %s entries", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s: %v is not one of [%s]", field, fe.Value(), fe.Param())
	case "varname":
		return fmt.Sprintf("%s: %q may only contain letters, digits, '_' and '-'", field, fe.Value())
	default:
		return fmt.Sprintf("%s: failed %s=%s (value %v)", field, fe.Tag(), fe.Param(), fe.Value())
	}
}
