package cmd

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"

	"netshell/internal/util"
)

const (
	menuRunAll   = "🚀 Run all pipelines"
	menuList     = "📋 List Pipelines"
	menuClients  = "🖥️  List Clients"
	menuValidate = "🔍 Validate Config"
	menuExit     = "🚪 Exit"
)

func newMenuCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "menu",
		Short: "Show interactive pipeline menu",
		RunE: func(cmd *cobra.Command, args []string) error {
			return showPipelineMenu(cmd)
		},
	}
}

func pipelineItem(name string) string { return "▶️  " + name }

// showPipelineMenu loops over an interactive picker until the user exits.
// The configuration is reloaded on every iteration so edits are picked up.
func showPipelineMenu(cmd *cobra.Command) error {
	for {
		cfg, err := loadConfig()
		if err != nil {
			util.Default.Printf("💡 Run 'netshell init' to create a default configuration\n")
			return err
		}
		if err := setupLogging(cfg); err != nil {
			return err
		}

		var items []string
		for _, p := range cfg.Pipelines {
			items = append(items, pipelineItem(p.Name))
		}
		items = append(items, menuRunAll, menuList, menuClients, menuValidate, menuExit)

		prompt := promptui.Select{
			Label: "Select a pipeline option",
			Items: items,
			Size:  10,
		}
		util.Default.Suspend()
		_, result, err := prompt.Run()
		util.Default.Resume()
		if err != nil {
			if errors.Is(err, promptui.ErrInterrupt) || errors.Is(err, promptui.ErrEOF) {
				return nil
			}
			return fmt.Errorf("menu cancelled: %w", err)
		}

		var names []string
		switch result {
		case menuExit:
			return nil
		case menuList, menuClients, menuValidate:
			sub := map[string]func() *cobra.Command{
				menuList:     newListCmd,
				menuClients:  newClientsCmd,
				menuValidate: newValidateCmd,
			}[result]()
			sub.SetOut(cmd.OutOrStdout())
			if err := sub.RunE(sub, nil); err != nil {
				util.Default.Printf("❌ %v\n", err)
			}
			pause()
			continue
		case menuRunAll:
		default:
			for _, p := range cfg.Pipelines {
				if pipelineItem(p.Name) == result {
					names = []string{p.Name}
					break
				}
			}
		}

		orch, err := newOrchestrator(cfg, nil)
		if err != nil {
			util.Default.Printf("❌ %v\n", err)
			pause()
			continue
		}
		printer := newEventPrinter(util.Default, true)
		printer.alignTargets(targetNames(cfg))
		orch.Subscribe(printer)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		results := runPipelines(ctx, orch, names)
		stop()
		if err := orch.Close(); err != nil {
			util.Default.Printf("⚠️  %v\n", err)
		}
		printSummary(cmd.OutOrStdout(), results, newPalette(true))
		pause()
	}
}

func pause() {
	util.Default.Println("\nPress Enter to continue...")
	fmt.Scanln()
}
