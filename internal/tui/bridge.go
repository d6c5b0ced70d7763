package tui

import (
	"sync"

	tea "github.com/charmbracelet/bubbletea"
)

// callMsg carries a closure onto the bubbletea event loop.
type callMsg struct {
	fn func()
}

// Bridge hands work from background goroutines to the program's Update
// loop. Messages sent before Attach are dropped.
type Bridge struct {
	mu      sync.RWMutex
	program *tea.Program
}

func NewBridge() *Bridge {
	return &Bridge{}
}

func (b *Bridge) Attach(p *tea.Program) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.program = p
}

func (b *Bridge) Send(msg tea.Msg) {
	b.mu.RLock()
	p := b.program
	b.mu.RUnlock()
	if p != nil {
		p.Send(msg)
	}
}

// Marshal runs fn inside Update. It is the dispatcher's UI-thread hook.
func (b *Bridge) Marshal(fn func()) {
	b.Send(callMsg{fn: fn})
}
