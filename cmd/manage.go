package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"netshell/internal/config"
	"netshell/internal/pipeline/parser"
	"netshell/internal/pipeline/types"
)

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured pipelines",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Available Pipelines:")
			for _, p := range cfg.Pipelines {
				fmt.Fprintf(out, "- %s (%d steps)\n", p.Name, len(p.Steps))
				for _, s := range p.Steps {
					fmt.Fprintf(out, "    %s → %s\n", s.Name, strings.Join(s.Targets(), ", "))
				}
			}
			return nil
		},
	}
}

func newClientsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clients",
		Short: "List configured execution targets",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			names := make([]string, 0, len(cfg.Clients))
			for name := range cfg.Clients {
				names = append(names, name)
			}
			sort.Strings(names)

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Available Clients:")
			for _, name := range names {
				fmt.Fprintf(out, "- %s\n", describeClient(name, cfg.Clients[name]))
			}
			if _, ok := cfg.Clients[types.LocalTargetName]; !ok {
				fmt.Fprintf(out, "- %s (implicit)\n", types.LocalTargetName)
			}
			return nil
		},
	}
}

func describeClient(name string, c types.ClientConfig) string {
	switch {
	case c.ExecutionMethod == types.ExecutionMethodSSH && c.SSHConfig != nil:
		return fmt.Sprintf("%s (ssh %s@%s:%d)", name, c.SSHConfig.Username, c.SSHConfig.Host, c.SSHConfig.Port)
	case c.LocalConfig != nil && c.LocalConfig.Shell != "":
		return fmt.Sprintf("%s (local %s)", name, c.LocalConfig.Shell)
	}
	return fmt.Sprintf("%s (%s)", name, c.ExecutionMethod)
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load and validate the configuration without running anything",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✅ %s is valid: %d pipelines, %d clients\n", configFile, len(cfg.Pipelines), len(cfg.Clients))
			return nil
		},
	}
}

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize a default configuration",
		Long: `Generate a starter netshell.yaml (or the --config path) and a pipelines
directory for pipeline files referenced from pipeline_files.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if err := config.WriteSample(configFile); err != nil {
				return usageErr("%w", err)
			}
			fmt.Fprintf(out, "✅ Created %s\n", configFile)

			pipelinesDir := filepath.Join(filepath.Dir(configFile), "pipelines")
			if err := os.MkdirAll(pipelinesDir, 0o755); err != nil {
				fmt.Fprintf(out, "⚠️  Warning: Failed to create pipelines directory: %v\n", err)
			} else {
				fmt.Fprintf(out, "✅ Created pipelines directory: %s\n", pipelinesDir)
			}

			fmt.Fprintf(out, "\n💡 Initialized! You can now:\n")
			fmt.Fprintf(out, "   - Use 'netshell create <name>' to add a pipeline file\n")
			fmt.Fprintf(out, "   - Use 'netshell validate' to check the configuration\n")
			fmt.Fprintf(out, "   - Use 'netshell run' to execute all pipelines\n")
			return nil
		},
	}
}

const pipelineTemplate = `pipeline:
  name: %s
  steps:
    - name: hello
      script: |
        echo "hello from {{ app_name }}"
      servers: [%s]
`

func newCreateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create [name]",
		Short: "Create a pipeline file under ./pipelines",
		Long: `Create pipelines/<name>.yaml. Add the file to pipeline_files in the
configuration to load it.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			dir := filepath.Join(filepath.Dir(configFile), "pipelines")
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return usageErr("failed to create pipelines directory: %w", err)
			}
			path := filepath.Join(dir, name+".yaml")
			if _, err := os.Stat(path); err == nil {
				return usageErr("pipeline file %s already exists", path)
			}

			body := fmt.Sprintf(pipelineTemplate, name, types.LocalTargetName)
			if _, err := parser.Parse([]byte(body)); err != nil {
				return usageErr("invalid pipeline name %q: %w", name, err)
			}
			if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
				return usageErr("failed to write %s: %w", path, err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "✅ Created %s\n", path)
			fmt.Fprintf(out, "💡 Add it to %s:\n\npipeline_files:\n  - %s\n", configFile, filepath.ToSlash(filepath.Join("pipelines", name+".yaml")))
			return nil
		},
	}
}

func newInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show a summary of the loaded configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			abs, _ := filepath.Abs(configFile)
			fmt.Fprintf(out, "Config:                   %s\n", abs)
			fmt.Fprintf(out, "Pipelines:                %d\n", len(cfg.Pipelines))
			fmt.Fprintf(out, "Clients:                  %d\n", len(cfg.Clients))
			fmt.Fprintf(out, "Global variables:         %d\n", len(cfg.Variables))
			fmt.Fprintf(out, "Default timeout:          %ds\n", cfg.DefaultTimeout)
			parallel := "unlimited"
			if cfg.MaxParallelTargets > 0 {
				parallel = fmt.Sprint(cfg.MaxParallelTargets)
			}
			fmt.Fprintf(out, "Max parallel targets:     %s\n", parallel)
			fmt.Fprintf(out, "Stop on pipeline failure: %t\n", cfg.StopOnPipelineFailure)
			if k := cfg.EventSinks.Kafka; k != nil {
				fmt.Fprintf(out, "Kafka sink:               %s → %s\n", strings.Join(k.Brokers, ","), k.Topic)
			}
			return nil
		},
	}
}
