package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mpataki/automenu/internal/config"
	"github.com/mpataki/automenu/internal/discovery"
	"github.com/mpataki/automenu/internal/models"
	"github.com/mpataki/automenu/internal/orchestrator"
	"github.com/mpataki/automenu/internal/sequences"
	"github.com/mpataki/automenu/internal/storage"
	"github.com/mpataki/automenu/internal/tui"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "automenu",
		Short:        "Script launcher and sequence runner",
		Long:         "automenu runs scripts one at a time, streams their output and chains them into sequences.",
		SilenceUsage: true,
		RunE:         runTUI,
	}

	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newScriptsCommand())
	rootCmd.AddCommand(newSequenceCommand())
	rootCmd.AddCommand(newHistoryCommand())
	rootCmd.AddCommand(newConfigCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runTUI(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	bridge := tui.NewBridge()
	model := tui.NewApp(a.orch, bridge, a.catalog.Scripts(), sequences.Sorted(a.sequences), a.cfg.Settings.HistoryLimit)
	d := a.dispatcher(model, model.Handlers(a.cfg.Settings), bridge.Marshal)

	p := tea.NewProgram(model, tea.WithAltScreen())
	bridge.Attach(p)
	d.Start()
	defer d.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if w, err := discovery.NewWatcher(append([]string{a.cfg.ScriptDir}, a.cfg.SequenceDirs()...), 0, a.logger); err != nil {
		a.logger.Warn("directory watch disabled", "error", err)
	} else {
		defer w.Close()
		go w.Run(ctx, func() {
			scripts, seqs := a.rescan()
			bridge.Marshal(func() { model.SetLists(scripts, seqs) })
		})
	}

	_, err = p.Run()
	return err
}

// runConsole runs fn with a console presenter attached and applies every
// queued event before returning.
func runConsole(a *app, w io.Writer, fn func(ctx context.Context) error) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	console := tui.NewConsole(w)
	var watch sync.Once
	console.OnBreakpoint = func() {
		watch.Do(func() { go watchContinue(ctx, os.Stdin, a.orch) })
	}

	d := a.dispatcher(console, console.Handlers(a.cfg.Settings), console.Marshal)
	d.Start()

	err := fn(ctx)

	d.Stop()
	d.Drain()
	return err
}

// watchContinue resumes a halted script whenever the user enters "c".
func watchContinue(ctx context.Context, r io.Reader, orch *orchestrator.Orchestrator) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		switch strings.TrimSpace(scanner.Text()) {
		case "c", "continue":
			if err := orch.ContinueCurrent(); err != nil {
				fmt.Fprintf(os.Stderr, "continue: %v\n", err)
			}
		}
	}
}

func newRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <script>",
		Short: "Run a single script",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pairs, _ := cmd.Flags().GetStringArray("arg")

			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			script, err := a.catalog.Resolve(args[0])
			if err != nil {
				return err
			}

			argv := script.DefaultArgs()
			if len(pairs) > 0 {
				presets, err := parseArguments(pairs)
				if err != nil {
					return err
				}
				argv = models.BuildArgs(presets)
			}

			var rec *models.ExecutionRecord
			err = runConsole(a, cmd.OutOrStdout(), func(ctx context.Context) error {
				var err error
				rec, err = a.orch.RunScript(ctx, script, argv)
				return err
			})
			if err != nil {
				return err
			}

			if rec.Terminated() {
				return fmt.Errorf("script terminated")
			}
			if code, ok := rec.ExitCode(); ok && code != 0 {
				return fmt.Errorf("script failed with exit code %d", code)
			}
			return nil
		},
	}

	cmd.Flags().StringArrayP("arg", "a", nil, "Script argument as name=value (repeatable; replaces declared defaults)")
	return cmd
}

func parseArguments(pairs []string) ([]models.Argument, error) {
	out := make([]models.Argument, 0, len(pairs))
	for _, p := range pairs {
		name, value, ok := strings.Cut(p, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid argument %q, expected name=value", p)
		}
		out = append(out, models.Argument{Name: name, Value: value})
	}
	return out, nil
}

func newScriptsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "scripts",
		Short: "List available scripts",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			w := cmd.OutOrStdout()
			scripts := a.catalog.Scripts()
			if len(scripts) == 0 {
				fmt.Fprintf(w, "No scripts found in %s.\n", a.cfg.ScriptDir)
				return nil
			}

			for _, s := range scripts {
				state := string(s.Meta.State)
				if state == "" {
					state = "-"
				}
				fmt.Fprintf(w, "%-24s %-5s %s\n", s.Name, state, truncate(s.Meta.Synopsis, 50))
				for _, p := range s.Meta.Parameters {
					fmt.Fprintf(w, "    --%s %s\n", p.Name, describeParameter(p))
				}
				for _, warning := range s.Warnings {
					fmt.Fprintf(w, "    warning: %s\n", warning)
				}
			}
			return nil
		},
	}
}

func describeParameter(p models.InputParameter) string {
	var parts []string
	if p.Description != "" {
		parts = append(parts, p.Description)
	}
	if p.Default != "" {
		parts = append(parts, fmt.Sprintf("(default: %s)", p.Default))
	}
	if p.Required {
		parts = append(parts, "(required)")
	}
	if len(p.Alternatives) > 0 {
		parts = append(parts, "["+strings.Join(p.Alternatives, ", ")+"]")
	}
	return strings.Join(parts, " ")
}

func newSequenceCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sequence",
		Short: "Manage and run sequences",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List sequences",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			w := cmd.OutOrStdout()
			if len(a.sequences) == 0 {
				fmt.Fprintln(w, "No sequences found.")
				return nil
			}
			for _, seq := range sequences.Sorted(a.sequences) {
				fmt.Fprintf(w, "%-24s %2d steps  %s\n", seq.Name, len(seq.Steps), truncate(seq.Description, 50))
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show <name>",
		Short: "Show the steps of a sequence",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			seq, ok := a.sequences[args[0]]
			if !ok {
				return fmt.Errorf("sequence %q not found", args[0])
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Sequence: %s\n", seq.Name)
			if seq.Description != "" {
				fmt.Fprintf(w, "Description: %s\n", seq.Description)
			}
			fmt.Fprintf(w, "Source: %s\n", seq.Source)
			fmt.Fprintf(w, "Stop on error: %t\n", seq.StopOnError)
			fmt.Fprintln(w, "\nSteps:")
			for _, st := range seq.Steps {
				line := fmt.Sprintf("  %d. %s", st.Index, st.Script)
				if argv := st.Args(); len(argv) > 0 {
					line += " " + strings.Join(argv, " ")
				}
				if st.StopOnError {
					line += " [stop on error]"
				}
				fmt.Fprintln(w, line)
			}

			if err := sequences.Validate(seq, a.catalog); err != nil {
				fmt.Fprintf(w, "\nwarning: %v\n", err)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "run <name>",
		Short: "Run a sequence",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			seq, ok := a.sequences[args[0]]
			if !ok {
				return fmt.Errorf("sequence %q not found", args[0])
			}
			if err := sequences.Validate(seq, a.catalog); err != nil {
				return err
			}

			var res *orchestrator.SequenceResult
			err = runConsole(a, cmd.OutOrStdout(), func(ctx context.Context) error {
				var err error
				res, err = a.orch.RunSequence(ctx, seq)
				return err
			})
			if err != nil {
				return err
			}

			if res.Aborted() {
				return fmt.Errorf("sequence %q aborted at step %d (%s)", seq.Name, res.AbortedAt, res.Reason)
			}
			return nil
		},
	})

	return cmd
}

func newHistoryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect past runs",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List recent runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")

			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			if limit <= 0 {
				limit = a.cfg.Settings.HistoryLimit
			}

			sums, err := a.orch.ListHistory(limit)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if len(sums) == 0 {
				fmt.Fprintln(w, "No runs found.")
				return nil
			}
			for _, sum := range sums {
				fmt.Fprintf(w, "%s  %-10s %-24s %s\n",
					sum.ID, storage.FormatTimeAgo(sum.StartedAt), sum.Script.Name, formatOutcome(sum))
			}
			return nil
		},
	}
	list.Flags().IntP("limit", "n", 0, "Maximum number of runs to show (default from settings)")
	cmd.AddCommand(list)

	cmd.AddCommand(&cobra.Command{
		Use:   "show <id>",
		Short: "Show a run and its output",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			sum, err := a.orch.GetExecution(args[0])
			if err != nil {
				return fmt.Errorf("failed to get run: %w", err)
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Run %s: %s\n", sum.ID, sum.Script.Name)
			fmt.Fprintf(w, "Path: %s\n", sum.Script.Path)
			fmt.Fprintf(w, "Started: %s\n", sum.StartedAt.Format(time.DateTime))
			if sum.EndedAt != nil {
				fmt.Fprintf(w, "Duration: %s\n", sum.EndedAt.Sub(sum.StartedAt).Round(time.Millisecond))
			}
			fmt.Fprintf(w, "Result: %s\n", formatOutcome(sum))

			if len(sum.Output) > 0 {
				fmt.Fprintln(w, "\nOutput:")
				for _, entry := range sum.Output {
					fmt.Fprintf(w, "  %s  %s\n", entry.At.Format(time.TimeOnly), entry.Text)
				}
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a run from history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.orch.DeleteExecution(args[0]); err != nil {
				return fmt.Errorf("failed to delete run: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Deleted run %s\n", args[0])
			return nil
		},
	})

	return cmd
}

func newConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and change settings",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the settings file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.New()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			data, err := yaml.Marshal(cfg.Settings)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "# %s\n", cfg.SettingsPath)
			w.Write(data)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set <key> <value>",
		Short: "Change a setting; unknown keys become values scripts can query",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return editSettings(func(s *config.Settings) error {
				return s.Set(args[0], args[1])
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "unset <key>",
		Short: "Remove a value scripts can query",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return editSettings(func(s *config.Settings) error {
				if !s.Unset(args[0]) {
					return fmt.Errorf("no value named %q", args[0])
				}
				return nil
			})
		},
	})

	return cmd
}

// editSettings applies fn to the stored settings and saves them.
func editSettings(fn func(*config.Settings) error) error {
	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := fn(cfg.Settings); err != nil {
		return err
	}
	if err := cfg.Save(); err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}

func formatOutcome(sum *models.ExecutionSummary) string {
	switch {
	case sum.Terminated:
		return "terminated"
	case sum.ExitCode == nil:
		return "unfinished"
	case *sum.ExitCode == 0:
		return "ok"
	default:
		return fmt.Sprintf("exit %d", *sum.ExitCode)
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
