package models

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// ScriptRef identifies the script that owns an execution.
type ScriptRef struct {
	Path string `json:"path"`
	Name string `json:"name"`
}

// SequenceRef is the owner used for sequence-level notices that don't
// belong to any single step.
func SequenceRef(name string) ScriptRef {
	return ScriptRef{Path: "sequence:" + name, Name: name}
}

type OutputEntry struct {
	At   time.Time `json:"time"`
	Text string    `json:"message"`
}

// ExecutionRecord captures one run of a script. It is shared between the
// runner goroutines and the dispatcher, so every field sits behind mu.
type ExecutionRecord struct {
	ID        string
	Script    ScriptRef
	StartedAt time.Time

	mu         sync.Mutex
	endedAt    *time.Time
	exitCode   *int
	completed  bool
	terminated bool
	output     []OutputEntry
}

func NewExecutionRecord(script ScriptRef) *ExecutionRecord {
	return &ExecutionRecord{
		ID:        uuid.NewString(),
		Script:    script,
		StartedAt: time.Now(),
	}
}

func (r *ExecutionRecord) AppendOutput(at time.Time, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.output = append(r.output, OutputEntry{At: at, Text: text})
}

// Complete stores the exit code and end time together. Only the first call
// has any effect; it reports whether this call was the one that completed.
func (r *ExecutionRecord) Complete(exitCode int, at time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.completed {
		return false
	}
	r.completed = true
	code := exitCode
	r.exitCode = &code
	if r.endedAt == nil {
		end := at
		r.endedAt = &end
	}
	return true
}

// MarkEnded stamps the end time for runs that finish without an exit code
// (spawn failures, coordinator errors). It never overwrites an existing end.
func (r *ExecutionRecord) MarkEnded(at time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.endedAt != nil {
		return false
	}
	end := at
	r.endedAt = &end
	return true
}

// SetTerminated flags the run as stopped by the user. The flag is sticky.
func (r *ExecutionRecord) SetTerminated() {
	r.mu.Lock()
	r.terminated = true
	r.mu.Unlock()
}

func (r *ExecutionRecord) Terminated() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.terminated
}

func (r *ExecutionRecord) ExitCode() (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.exitCode == nil {
		return 0, false
	}
	return *r.exitCode, true
}

func (r *ExecutionRecord) EndedAt() (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.endedAt == nil {
		return time.Time{}, false
	}
	return *r.endedAt, true
}

// Finished reports whether an exit code has been recorded.
func (r *ExecutionRecord) Finished() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.completed
}

// Output returns a copy of the recorded output lines.
func (r *ExecutionRecord) Output() []OutputEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]OutputEntry, len(r.output))
	copy(out, r.output)
	return out
}

// ExecutionSummary is the detached, serializable form of a record handed to
// history persistence.
type ExecutionSummary struct {
	ID         string        `json:"id"`
	Script     ScriptRef     `json:"script"`
	StartedAt  time.Time     `json:"started_at"`
	EndedAt    *time.Time    `json:"ended_at,omitempty"`
	ExitCode   *int          `json:"exit_code,omitempty"`
	Terminated bool          `json:"terminated"`
	Output     []OutputEntry `json:"output"`
}

func (r *ExecutionRecord) Summary() ExecutionSummary {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := ExecutionSummary{
		ID:         r.ID,
		Script:     r.Script,
		StartedAt:  r.StartedAt,
		Terminated: r.terminated,
		Output:     make([]OutputEntry, len(r.output)),
	}
	copy(s.Output, r.output)
	if r.endedAt != nil {
		end := *r.endedAt
		s.EndedAt = &end
	}
	if r.exitCode != nil {
		code := *r.exitCode
		s.ExitCode = &code
	}
	return s
}
