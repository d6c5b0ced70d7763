package tui

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/mpataki/automenu/internal/dispatch"
	"github.com/mpataki/automenu/internal/events"
)

// Console is a line-oriented presenter for non-interactive commands.
type Console struct {
	mu         sync.Mutex
	w          io.Writer
	indicators Indicators
	lastStatus string
	lastDecile int

	// OnBreakpoint runs when the script halts in its debugger.
	OnBreakpoint func()
}

func NewConsole(w io.Writer) *Console {
	c := &Console{w: w, lastDecile: -1}
	c.indicators.OnChange = c.indicatorsChanged
	return c
}

func (c *Console) Handlers(settings SettingLookup) dispatch.Handlers {
	return c.indicators.Handlers(settings)
}

// Marshal serializes presenter calls. The dispatcher is the only caller, so
// running them inline under a lock is enough.
func (c *Console) Marshal(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn()
}

func (c *Console) ClearTranscript() {
	c.indicators.Reset()
	c.lastStatus = ""
	c.lastDecile = -1
	fmt.Fprintln(c.w, dimStyle.Render(strings.Repeat("─", 40)))
}

func (c *Console) AppendLine(text string, sev events.Severity) {
	fmt.Fprintln(c.w, renderLine(text, sev))
}

func (c *Console) EnableContinue() {
	fmt.Fprintln(c.w, helpStyle.Render("Type 'c' and press enter to continue."))
	if c.OnBreakpoint != nil {
		c.OnBreakpoint()
	}
}

// indicatorsChanged prints status changes and progress in steps of ten
// percent.
func (c *Console) indicatorsChanged(ind *Indicators) {
	if ind.Status != c.lastStatus {
		c.lastStatus = ind.Status
		if ind.Status != "" {
			fmt.Fprintln(c.w, labelStyle.Render("Status: ")+ind.Status)
		}
	}
	if !ind.Visible || ind.Indeterminate {
		return
	}
	if decile := int(ind.Percent) / 10; decile != c.lastDecile {
		c.lastDecile = decile
		fmt.Fprintln(c.w, labelStyle.Render(fmt.Sprintf("Progress: %d%%", int(ind.Percent))))
	}
}
