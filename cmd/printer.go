package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"netshell/internal/pipeline/types"
	"netshell/internal/util"
)

type palette struct {
	enabled bool
	header  lipgloss.Style
	target  lipgloss.Style
	stderr  lipgloss.Style
	muted   lipgloss.Style
	ok      lipgloss.Style
	fail    lipgloss.Style
}

func newPalette(color bool) palette {
	return palette{
		enabled: color,
		header:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
		target:  lipgloss.NewStyle().Foreground(lipgloss.Color("14")),
		stderr:  lipgloss.NewStyle().Foreground(lipgloss.Color("9")),
		muted:   lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
		ok:      lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10")),
		fail:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9")),
	}
}

func (p palette) paint(s lipgloss.Style, text string) string {
	if !p.enabled {
		return text
	}
	return s.Render(text)
}

// eventPrinter renders output events live. Targets of one step run
// concurrently, so every event is written as one block through a shared
// util.Printer.
type eventPrinter struct {
	out   *util.Printer
	pal   palette
	width int
}

func newEventPrinter(out *util.Printer, color bool) *eventPrinter {
	return &eventPrinter{out: out, pal: newPalette(color)}
}

// alignTargets pads target labels so output columns line up.
func (p *eventPrinter) alignTargets(targets []string) {
	for _, t := range targets {
		if w := lipgloss.Width(t); w > p.width {
			p.width = w
		}
	}
}

func (p *eventPrinter) label(target string) string {
	pad := p.width - lipgloss.Width(target)
	if pad < 0 {
		pad = 0
	}
	return p.pal.paint(p.pal.target, target) + strings.Repeat(" ", pad)
}

func (p *eventPrinter) OnEvent(ev types.OutputEvent) {
	content := strings.TrimRight(ev.Content, "\r")

	switch ev.Kind {
	case types.EventStepStarted:
		p.out.Println(fmt.Sprintf("%s %s %s", p.pal.paint(p.pal.header, "▶"), p.pal.paint(p.pal.header, ev.Step.Name), p.pal.paint(p.pal.muted, "on "+ev.Target)))
	case types.EventStepCompleted:
		icon, style := "✔", p.pal.ok
		if !completedOK(content) {
			icon, style = "✖", p.pal.fail
		}
		p.out.Println(p.pal.paint(style, icon) + " " + content)
	case types.EventStdout:
		p.out.Println(p.label(ev.Target) + " │ " + content)
	case types.EventStderr:
		p.out.Println(p.label(ev.Target) + " │ " + p.pal.paint(p.pal.stderr, content))
	case types.EventLog:
		if ev.Target == types.SystemTargetName {
			if ev.Step.Name == "pipeline_start" || strings.HasPrefix(content, "Pipeline completed") {
				p.out.Println(p.pal.paint(p.pal.header, "== "+content))
				return
			}
			p.out.PrintBlock(p.pal.paint(p.pal.muted, "• "+content))
			return
		}
		p.out.PrintBlock(p.label(ev.Target)+" · "+p.pal.paint(p.pal.muted, content))
	}
}

func completedOK(content string) bool {
	return strings.Contains(content, "(success,")
}

// printSummary writes a per-pipeline, per-target table of results.
func printSummary(w io.Writer, results []types.PipelineResult, pal palette) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, pal.paint(pal.header, "Summary"))
	for _, r := range results {
		icon := pal.paint(pal.ok, "✅")
		if !r.OverallSuccess {
			icon = pal.paint(pal.fail, "❌")
		}
		fmt.Fprintf(w, "%s %s  %s  %dms\n", icon, r.PipelineName, pal.paint(pal.muted, shortID(r)), r.TotalMs)
		for _, sr := range r.StepResults {
			res := sr.ExecutionResult
			status := pal.paint(pal.ok, "ok")
			if !res.Success {
				status = pal.paint(pal.fail, "failed")
			}
			fmt.Fprintf(w, "   %-20s %-16s %s  exit=%d  %dms\n", sr.StepName, sr.Target, status, res.ExitCode, res.ElapsedMs)
			if res.ErrorMessage != "" {
				fmt.Fprintf(w, "   %s\n", pal.paint(pal.muted, "↳ "+res.ErrorMessage))
			}
		}
		if r.ErrorMessage != "" {
			fmt.Fprintf(w, "   %s\n", pal.paint(pal.fail, r.ErrorMessage))
		}
	}
}

func shortID(r types.PipelineResult) string {
	id := r.RunID.String()
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
