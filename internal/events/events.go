// Package events defines the messages produced by script runs and the queue
// that carries them from producer goroutines to the single dispatcher.
package events

import (
	"github.com/mpataki/automenu/internal/models"
	"github.com/mpataki/automenu/internal/protocol"
)

type Severity string

const (
	SeverityInfo       Severity = "info"
	SeverityError      Severity = "error"
	SeveritySuccess    Severity = "success"
	SeverityWarning    Severity = "warning"
	SeveritySysInfo    Severity = "sys_info"
	SeveritySysWarning Severity = "sys_warning"
	SeveritySysError   Severity = "sys_error"
)

// IsSystem reports whether the severity marks a host-generated notice. System
// lines are shown in the transcript but never stored in a record's output.
func (s Severity) IsSystem() bool {
	switch s {
	case SeveritySysInfo, SeveritySysWarning, SeveritySysError:
		return true
	}
	return false
}

type Kind int

const (
	KindLine Kind = iota
	KindProtocol
	KindControl
)

type ControlKind int

const (
	ControlClear ControlKind = iota + 1
	ControlProcessTerminated
)

func (c ControlKind) String() string {
	switch c {
	case ControlClear:
		return "clear"
	case ControlProcessTerminated:
		return "process_terminated"
	}
	return "unknown"
}

// Event is one queued item. Line and Protocol events always carry the record
// of the run that produced them; Control events carry none.
type Event struct {
	Kind Kind

	Text       string
	Severity   Severity
	Breakpoint bool
	Finished   bool

	Message protocol.Message
	Control ControlKind

	Record *models.ExecutionRecord
}

// Sink accepts events from producers.
type Sink interface {
	Push(Event)
}

func Line(rec *models.ExecutionRecord, sev Severity, text string) Event {
	return Event{Kind: KindLine, Text: text, Severity: sev, Record: rec}
}

// Breakpoint is the notice emitted when a script halts in its debugger.
func Breakpoint(rec *models.ExecutionRecord, text string) Event {
	ev := Line(rec, SeveritySysInfo, text)
	ev.Breakpoint = true
	return ev
}

// Finished is the terminal line of a run.
func Finished(rec *models.ExecutionRecord, sev Severity, text string) Event {
	ev := Line(rec, sev, text)
	ev.Finished = true
	return ev
}

func Protocol(rec *models.ExecutionRecord, msg protocol.Message) Event {
	return Event{Kind: KindProtocol, Message: msg, Record: rec}
}

func Control(kind ControlKind) Event {
	return Event{Kind: KindControl, Control: kind}
}
