package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"netshell/internal/logging"
	"netshell/internal/orchestrator"
	"netshell/internal/pipeline/types"
	"netshell/internal/util"
	"netshell/internal/vars"
)

var errPipelinesFailed = errors.New("one or more pipelines failed")

func newRunCmd() *cobra.Command {
	var (
		overrides map[string]string
		output    string
	)

	cmd := &cobra.Command{
		Use:   "run [pipeline...]",
		Short: "Run all pipelines, or only the named ones in the given order",
		Example: `  netshell run
  netshell run deploy --var version=1.4.2
  netshell run inspect --output json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			switch output {
			case "text", "json", "yaml":
			default:
				return usageErr("unknown output format %q (want text, json or yaml)", output)
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := setupLogging(cfg); err != nil {
				return err
			}
			defer logging.Sync()
			logging.Debug("configuration loaded", map[string]interface{}{
				"config":    configFile,
				"pipelines": len(cfg.Pipelines),
				"clients":   len(cfg.Clients),
			})

			orch, err := newOrchestrator(cfg, overrideValues(overrides))
			if err != nil {
				return err
			}
			defer func() {
				if err := orch.Close(); err != nil {
					logging.Warn("shutdown incomplete", map[string]interface{}{"error": err.Error()})
				}
			}()

			for _, name := range args {
				if !orch.PipelineExists(name) {
					return usageErr("%w %q", orchestrator.ErrUnknownPipeline, name)
				}
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if output == "text" {
				printer := newEventPrinter(util.Default, isTerminal(os.Stdout))
				printer.alignTargets(targetNames(cfg))
				orch.Subscribe(printer)
			}

			results := runPipelines(ctx, orch, args)
			if err := writeResults(cmd.OutOrStdout(), results, output, isTerminal(os.Stdout)); err != nil {
				return err
			}
			for _, r := range results {
				if !r.OverallSuccess {
					return &exitError{code: exitFailed, err: errPipelinesFailed}
				}
			}
			return nil
		},
	}

	cmd.Flags().StringToStringVar(&overrides, "var", nil, "Override a global variable (name=value, repeatable)")
	cmd.Flags().StringVarP(&output, "output", "o", "text", "Result format: text, json or yaml")
	return cmd
}

// runPipelines runs every configured pipeline when names is empty, otherwise
// the named ones in order. stop_on_pipeline_failure applies to both.
func runPipelines(ctx context.Context, orch *orchestrator.Orchestrator, names []string) []types.PipelineResult {
	if len(names) == 0 {
		return orch.ExecuteAllPipelines(ctx)
	}
	stopOnFailure := orch.Config().StopOnPipelineFailure
	results := make([]types.PipelineResult, 0, len(names))
	for _, name := range names {
		if ctx.Err() != nil {
			break
		}
		res, err := orch.ExecutePipeline(ctx, name)
		if err != nil {
			continue
		}
		results = append(results, res)
		if !res.OverallSuccess && stopOnFailure {
			break
		}
	}
	return results
}

func writeResults(w io.Writer, results []types.PipelineResult, format string, color bool) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(results); err != nil {
			return err
		}
		return enc.Close()
	}
	printSummary(w, results, newPalette(color))
	return nil
}

func overrideValues(in map[string]string) map[string]vars.Value {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]vars.Value, len(in))
	for k, v := range in {
		out[k] = vars.String(v)
	}
	return out
}

func targetNames(cfg types.Config) []string {
	seen := map[string]bool{}
	for _, p := range cfg.Pipelines {
		for _, s := range p.Steps {
			for _, t := range s.Targets() {
				seen[t] = true
			}
		}
	}
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
