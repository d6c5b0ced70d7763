package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mpataki/automenu/internal/dispatch"
	"github.com/mpataki/automenu/internal/events"
	"github.com/mpataki/automenu/internal/models"
	"github.com/mpataki/automenu/internal/orchestrator"
	"github.com/mpataki/automenu/internal/storage"
)

type Pane int

const (
	PaneScripts Pane = iota
	PaneSequences
	PaneHistory
)

var paneNames = []string{"Scripts", "Sequences", "History"}

const (
	maxTranscriptLines = 5000
	listWidth          = 34
)

type App struct {
	orchestrator *orchestrator.Orchestrator
	bridge       *Bridge
	scripts      []*models.Script
	sequences    []*models.Sequence
	historyLimit int

	pane        Pane
	selectedIdx [3]int
	history     []*models.ExecutionSummary

	transcript      []string
	viewport        viewport.Model
	progress        progress.Model
	spinner         spinner.Model
	spinning        bool
	indicators      Indicators
	continueEnabled bool
	running         bool
	paused          bool

	ctx    context.Context
	cancel context.CancelFunc

	width  int
	height int
	err    error
}

func NewApp(orch *orchestrator.Orchestrator, bridge *Bridge, scripts []*models.Script, sequences []*models.Sequence, historyLimit int) *App {
	ctx, cancel := context.WithCancel(context.Background())
	return &App{
		orchestrator: orch,
		bridge:       bridge,
		scripts:      scripts,
		sequences:    sequences,
		historyLimit: historyLimit,
		viewport:     viewport.New(80, 20),
		progress:     progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
		spinner:      spinner.New(spinner.WithSpinner(spinner.Dot)),
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Handlers returns the protocol handler table bound to this app's progress
// and status indicators.
func (a *App) Handlers(settings SettingLookup) dispatch.Handlers {
	return a.indicators.Handlers(settings)
}

// SetLists replaces the script and sequence lists after a rescan. Call it
// through the bridge.
func (a *App) SetLists(scripts []*models.Script, seqs []*models.Sequence) {
	a.scripts = scripts
	a.sequences = seqs
	a.selectedIdx[PaneScripts] = clamp(a.selectedIdx[PaneScripts], len(scripts))
	a.selectedIdx[PaneSequences] = clamp(a.selectedIdx[PaneSequences], len(seqs))
}

func clamp(idx, n int) int {
	if idx >= n {
		return max(n-1, 0)
	}
	return idx
}

func (a *App) Init() tea.Cmd {
	return a.tickCmd()
}

func (a *App) tickCmd() tea.Cmd {
	return tea.Tick(500*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

type tickMsg time.Time

// ClearTranscript, AppendLine and EnableContinue make App a
// dispatch.Presenter. They run inside Update through the bridge.

func (a *App) ClearTranscript() {
	a.transcript = nil
	a.continueEnabled = false
	a.indicators.Reset()
	a.refreshTranscript()
}

func (a *App) AppendLine(text string, sev events.Severity) {
	a.transcript = append(a.transcript, renderLine(text, sev))
	if over := len(a.transcript) - maxTranscriptLines; over > 0 {
		a.transcript = a.transcript[over:]
	}
	a.refreshTranscript()
}

func (a *App) EnableContinue() {
	a.continueEnabled = true
}

func (a *App) refreshTranscript() {
	follow := a.viewport.AtBottom()
	a.viewport.SetContent(strings.Join(a.transcript, "\n"))
	if follow {
		a.viewport.GotoBottom()
	}
}

func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return a.handleKey(msg)

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.viewport.Width = max(msg.Width-listWidth-4, 20)
		a.viewport.Height = max(msg.Height-10, 5)
		a.progress.Width = max(a.viewport.Width-10, 10)
		a.refreshTranscript()
		return a, nil

	case callMsg:
		msg.fn()
		return a, a.spinnerCmd()

	case spinner.TickMsg:
		if !a.indicators.Visible || !a.indicators.Indeterminate {
			a.spinning = false
			return a, nil
		}
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		return a, cmd

	case tickMsg:
		a.running = a.orchestrator.IsRunning()
		a.paused = a.orchestrator.IsPaused()
		if !a.running {
			a.continueEnabled = false
		}
		return a, a.tickCmd()

	case runDoneMsg:
		if msg.err != nil && !errors.Is(msg.err, context.Canceled) {
			a.err = msg.err
		}
		a.continueEnabled = false
		return a, a.loadHistory

	case sequenceDoneMsg:
		a.err = msg.err
		return a, a.loadHistory

	case historyLoadedMsg:
		a.history = msg.items
		a.err = msg.err
		a.selectedIdx[PaneHistory] = clamp(a.selectedIdx[PaneHistory], len(a.history))
		return a, nil

	case executionLoadedMsg:
		if msg.err != nil {
			a.err = msg.err
			return a, nil
		}
		a.showExecution(msg.summary)
		return a, nil

	case executionDeletedMsg:
		a.err = msg.err
		return a, a.loadHistory
	}

	return a, nil
}

// spinnerCmd starts the spinner when a handler switched to indeterminate
// progress.
func (a *App) spinnerCmd() tea.Cmd {
	if a.spinning || !a.indicators.Visible || !a.indicators.Indeterminate {
		return nil
	}
	a.spinning = true
	return a.spinner.Tick
}

func (a *App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		if a.orchestrator.Busy() {
			a.orchestrator.StopCurrent()
		}
		a.cancel()
		return a, tea.Quit

	case "tab":
		a.pane = (a.pane + 1) % Pane(len(paneNames))
		if a.pane == PaneHistory {
			return a, a.loadHistory
		}

	case "shift+tab":
		a.pane = (a.pane + Pane(len(paneNames)) - 1) % Pane(len(paneNames))
		if a.pane == PaneHistory {
			return a, a.loadHistory
		}

	case "up", "k":
		if a.selectedIdx[a.pane] > 0 {
			a.selectedIdx[a.pane]--
		}

	case "down", "j":
		if a.selectedIdx[a.pane] < a.paneLen()-1 {
			a.selectedIdx[a.pane]++
		}

	case "enter":
		return a, a.activate()

	case "p":
		a.err = nil
		if a.orchestrator.IsPaused() {
			a.orchestrator.ResumeCurrent()
		} else {
			a.orchestrator.PauseCurrent()
		}

	case "s":
		a.orchestrator.StopCurrent()

	case "c":
		if !a.continueEnabled {
			return a, nil
		}
		a.continueEnabled = false
		if err := a.orchestrator.ContinueCurrent(); err != nil {
			a.err = err
		}

	case "r":
		if a.pane == PaneHistory {
			return a, a.loadHistory
		}

	case "d":
		if a.pane == PaneHistory {
			if sum := a.selectedExecution(); sum != nil {
				return a, a.deleteExecution(sum.ID)
			}
		}

	case "pgup", "pgdown", "home", "end":
		var cmd tea.Cmd
		a.viewport, cmd = a.viewport.Update(msg)
		return a, cmd
	}

	return a, nil
}

func (a *App) paneLen() int {
	switch a.pane {
	case PaneScripts:
		return len(a.scripts)
	case PaneSequences:
		return len(a.sequences)
	case PaneHistory:
		return len(a.history)
	}
	return 0
}

func (a *App) activate() tea.Cmd {
	idx := a.selectedIdx[a.pane]
	if idx >= a.paneLen() {
		return nil
	}
	a.err = nil

	switch a.pane {
	case PaneScripts:
		a.startScript(a.scripts[idx])
	case PaneSequences:
		a.startSequence(a.sequences[idx])
	case PaneHistory:
		return a.loadExecution(a.history[idx])
	}
	return nil
}

func (a *App) startScript(script *models.Script) {
	err := a.orchestrator.RunScriptAsync(a.ctx, script, script.DefaultArgs(), func(_ *models.ExecutionRecord, err error) {
		a.bridge.Send(runDoneMsg{err: err})
	})
	if err != nil {
		a.err = err
		return
	}
	// queued output is only applied after this Update returns
	a.ClearTranscript()
}

func (a *App) startSequence(seq *models.Sequence) {
	err := a.orchestrator.RunSequenceAsync(a.ctx, seq, func(res *orchestrator.SequenceResult, err error) {
		a.bridge.Send(sequenceDoneMsg{result: res, err: err})
	})
	if err != nil {
		a.err = err
	}
}

func (a *App) selectedExecution() *models.ExecutionSummary {
	idx := a.selectedIdx[PaneHistory]
	if idx >= len(a.history) {
		return nil
	}
	return a.history[idx]
}

func (a *App) showExecution(sum *models.ExecutionSummary) {
	a.ClearTranscript()
	a.AppendLine(fmt.Sprintf("%s  started %s", sum.Script.Name, sum.StartedAt.Format(time.DateTime)), events.SeveritySysInfo)
	for _, entry := range sum.Output {
		a.AppendLine(entry.Text, events.SeverityInfo)
	}
	text, sev := summaryResult(sum)
	a.AppendLine(text, sev)
}

func summaryResult(sum *models.ExecutionSummary) (string, events.Severity) {
	switch {
	case sum.Terminated:
		return "Script terminated", events.SeveritySysInfo
	case sum.ExitCode == nil:
		return "Script did not finish", events.SeveritySysWarning
	case *sum.ExitCode == 0:
		return "Script completed successfully", events.SeveritySuccess
	default:
		return fmt.Sprintf("Script failed with exit code %d", *sum.ExitCode), events.SeveritySysError
	}
}

func (a *App) View() string {
	s := titleStyle.Render("automenu") + "  " + a.formatState() + "\n\n"
	s += a.viewTabs() + "\n\n"

	left := lipgloss.NewStyle().Width(listWidth).Render(a.viewList())
	right := transcriptBorder.Render(a.viewport.View())
	s += lipgloss.JoinHorizontal(lipgloss.Top, left, right) + "\n"

	s += a.viewIndicators()

	if a.err != nil {
		s += statusFailed.Render(fmt.Sprintf("Error: %v", a.err)) + "\n"
	}

	help := "[tab] pane  [enter] run  [p] pause/resume  [s] stop  [pgup/pgdn] scroll  [q] quit"
	if a.continueEnabled {
		help = "[c] continue  " + help
	}
	if a.pane == PaneHistory {
		help = "[enter] show  [d] delete  [r] refresh  " + help
	}
	s += "\n" + helpStyle.Render(help)

	return s
}

func (a *App) formatState() string {
	switch {
	case a.continueEnabled:
		return statusPaused.Render("◆ breakpoint")
	case a.paused:
		return statusPaused.Render("❚❚ paused")
	case a.running:
		return statusRunning.Render("● running")
	default:
		return dimStyle.Render("○ idle")
	}
}

func (a *App) viewTabs() string {
	tabs := make([]string, len(paneNames))
	for i, name := range paneNames {
		if Pane(i) == a.pane {
			tabs[i] = activeTabStyle.Render(name)
		} else {
			tabs[i] = tabStyle.Render(name)
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, tabs...)
}

func (a *App) viewList() string {
	var lines []string
	switch a.pane {
	case PaneScripts:
		if len(a.scripts) == 0 {
			return dimStyle.Render("No scripts found.")
		}
		for _, sc := range a.scripts {
			lines = append(lines, formatScriptLine(sc))
		}
	case PaneSequences:
		if len(a.sequences) == 0 {
			return dimStyle.Render("No sequences found.")
		}
		for _, seq := range a.sequences {
			lines = append(lines, fmt.Sprintf("%s (%d)", seq.Name, len(seq.Steps)))
		}
	case PaneHistory:
		if len(a.history) == 0 {
			return dimStyle.Render("No history yet.")
		}
		for _, sum := range a.history {
			lines = append(lines, formatHistoryLine(sum))
		}
	}

	var s string
	for i, line := range lines {
		line = truncate(line, listWidth-2)
		if i == a.selectedIdx[a.pane] {
			s += selectedStyle.Render("▶ "+line) + "\n"
		} else {
			s += "  " + line + "\n"
		}
	}
	return s
}

func formatScriptLine(sc *models.Script) string {
	line := sc.DisplayName()
	if sc.Meta.State != "" && sc.Meta.State != models.ScriptStateProd {
		line += " [" + string(sc.Meta.State) + "]"
	}
	if len(sc.Warnings) > 0 {
		line += " ⚠"
	}
	return line
}

func formatHistoryLine(sum *models.ExecutionSummary) string {
	mark := "○"
	switch {
	case sum.Terminated:
		mark = "■"
	case sum.ExitCode != nil && *sum.ExitCode == 0:
		mark = "✓"
	case sum.ExitCode != nil:
		mark = "✗"
	}
	return fmt.Sprintf("%s %-6s %s", mark, storage.FormatTimeAgo(sum.StartedAt), sum.Script.Name)
}

func (a *App) viewIndicators() string {
	var s string
	if a.indicators.Visible {
		if a.indicators.Indeterminate {
			s += a.spinner.View() + " working\n"
		} else {
			s += a.progress.ViewAs(a.indicators.Percent/100) + "\n"
		}
	}
	if a.indicators.Status != "" {
		s += labelStyle.Render("Status: ") + a.indicators.Status + "\n"
	}
	return s
}

// Messages

type runDoneMsg struct {
	err error
}

type sequenceDoneMsg struct {
	result *orchestrator.SequenceResult
	err    error
}

type historyLoadedMsg struct {
	items []*models.ExecutionSummary
	err   error
}

type executionLoadedMsg struct {
	summary *models.ExecutionSummary
	err     error
}

type executionDeletedMsg struct {
	id  string
	err error
}

// Commands

// loadHistory lists this session's runs, newest first, followed by stored
// runs not already shown.
func (a *App) loadHistory() tea.Msg {
	var items []*models.ExecutionSummary
	seen := make(map[string]bool)

	if h := a.orchestrator.History(); h != nil {
		sums := h.Summaries()
		for i := len(sums) - 1; i >= 0; i-- {
			items = append(items, &sums[i])
			seen[sums[i].ID] = true
		}
	}

	stored, err := a.orchestrator.ListHistory(a.historyLimit)
	for _, sum := range stored {
		if !seen[sum.ID] {
			items = append(items, sum)
		}
	}
	return historyLoadedMsg{items: items, err: err}
}

func (a *App) loadExecution(sum *models.ExecutionSummary) tea.Cmd {
	return func() tea.Msg {
		if len(sum.Output) > 0 {
			return executionLoadedMsg{summary: sum}
		}
		full, err := a.orchestrator.GetExecution(sum.ID)
		if errors.Is(err, storage.ErrNotFound) {
			return executionLoadedMsg{summary: sum}
		}
		return executionLoadedMsg{summary: full, err: err}
	}
}

func (a *App) deleteExecution(id string) tea.Cmd {
	return func() tea.Msg {
		return executionDeletedMsg{id: id, err: a.orchestrator.DeleteExecution(id)}
	}
}

func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen-3]) + "..."
}
