package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"netshell/internal/config"
	"netshell/internal/logging"
	"netshell/internal/orchestrator"
	"netshell/internal/pipeline/types"
	"netshell/internal/sink"
	"netshell/internal/vars"
)

const (
	exitFailed = 1
	exitUsage  = 2
)

var (
	configFile string
	logLevel   string
	logFormat  string
	rootCmd    = &cobra.Command{
		Use:   "netshell",
		Short: "Multi-step, multi-target script orchestrator",
		Long: `Run templated shell scripts step by step on local and SSH targets,
extract values from their output and feed them to the following steps.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !isTerminal(os.Stdin) || !isTerminal(os.Stdout) {
				return cmd.Help()
			}
			return showPipelineMenu(cmd)
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", config.ConfigFileName, "Config file path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (default from config, else warn)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format: console or json (default from config, else console)")
	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newListCmd())
	rootCmd.AddCommand(newClientsCmd())
	rootCmd.AddCommand(newValidateCmd())
	rootCmd.AddCommand(newInitCmd())
	rootCmd.AddCommand(newCreateCmd())
	rootCmd.AddCommand(newInfoCmd())
	rootCmd.AddCommand(newMenuCmd())
}

// exitError carries the process exit status for a failed command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }

func (e *exitError) Unwrap() error { return e.err }

func usageErr(format string, a ...interface{}) error {
	return &exitError{code: exitUsage, err: fmt.Errorf(format, a...)}
}

// Execute runs the root command.
func Execute() error {
	err := rootCmd.Execute()
	var ee *exitError
	if err != nil && (!errors.As(err, &ee) || ee.err != errPipelinesFailed) {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
	}
	return err
}

// ExitCode maps an error returned by Execute to a process exit status.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return exitUsage
}

func loadConfig() (types.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return types.Config{}, usageErr("failed to load config: %w", err)
	}
	return cfg, nil
}

// setupLogging installs the process logger. Flags win over the config file.
func setupLogging(cfg types.Config) error {
	level := firstNonEmpty(logLevel, cfg.Log.Level, "warn")
	format := firstNonEmpty(logFormat, cfg.Log.Format, "console")
	lvl, err := logging.ParseLevel(level)
	if err != nil {
		return usageErr("%w", err)
	}
	if format != "console" && format != "json" {
		return usageErr("unknown log format %q", format)
	}
	logging.InitWithFormat(os.Stderr, lvl, format, map[string]interface{}{"app": "netshell"})
	return nil
}

// newOrchestrator builds an orchestrator with the configured event sinks
// subscribed.
func newOrchestrator(cfg types.Config, overrides map[string]vars.Value) (*orchestrator.Orchestrator, error) {
	log := logging.WithFields(map[string]interface{}{"component": "cli"})
	opts := []orchestrator.Option{orchestrator.WithLogger(logging.WithFields(nil))}
	if k := cfg.EventSinks.Kafka; k != nil {
		log.Info("publishing events to kafka", map[string]interface{}{"topic": k.Topic, "brokers": k.Brokers})
		opts = append(opts, orchestrator.WithObserver(sink.NewKafka(*k, logging.WithFields(map[string]interface{}{"component": "kafka"}))))
	}
	orch, err := orchestrator.New(cfg, overrides, opts...)
	if err != nil {
		return nil, usageErr("%w", err)
	}
	return orch, nil
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
