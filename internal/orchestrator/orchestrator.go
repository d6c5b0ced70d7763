// Package orchestrator runs scripts and sequences one at a time and files
// their records into history.
package orchestrator

import (
	"context"
	"fmt"

	"github.com/mpataki/automenu/internal/events"
	"github.com/mpataki/automenu/internal/history"
	"github.com/mpataki/automenu/internal/models"
	"github.com/mpataki/automenu/internal/runner"
	"github.com/mpataki/automenu/internal/storage"
)

type Orchestrator struct {
	*Coordinator

	sequences *SequenceRunner
	storage   *storage.Storage
	history   *history.History
}

// New wires a coordinator and a sequence runner around one event sink.
// store may be nil when history is not persisted.
func New(sink events.Sink, store *storage.Storage, hist *history.History, scripts ScriptResolver, opts runner.Options) *Orchestrator {
	coord := NewCoordinator(sink, opts)
	return &Orchestrator{
		Coordinator: coord,
		sequences:   NewSequenceRunner(coord, sink, scripts, opts.Logger),
		storage:     store,
		history:     hist,
	}
}

func (o *Orchestrator) RunSequence(ctx context.Context, seq *models.Sequence) (*SequenceResult, error) {
	return o.sequences.Run(ctx, seq)
}

// RunSequenceAsync refuses to start while the slot is taken. The sequence
// keeps it reserved until its last step is done.
func (o *Orchestrator) RunSequenceAsync(ctx context.Context, seq *models.Sequence, onDone func(*SequenceResult, error)) error {
	return o.sequences.RunAsync(ctx, seq, onDone)
}

func (o *Orchestrator) History() *history.History {
	return o.history
}

// FlushHistory persists session records that have not been saved yet.
func (o *Orchestrator) FlushHistory() (int, error) {
	if o.storage == nil || o.history == nil {
		return 0, nil
	}
	pending := o.history.Pending()
	if err := o.storage.SaveHistory(pending); err != nil {
		return 0, fmt.Errorf("failed to save history: %w", err)
	}
	ids := make([]string, len(pending))
	for i, sum := range pending {
		ids[i] = sum.ID
	}
	o.history.MarkFlushed(ids...)
	return len(pending), nil
}

func (o *Orchestrator) ListHistory(limit int) ([]*models.ExecutionSummary, error) {
	if o.storage == nil {
		return nil, nil
	}
	return o.storage.ListExecutions(limit)
}

func (o *Orchestrator) GetExecution(id string) (*models.ExecutionSummary, error) {
	if o.storage == nil {
		return nil, storage.ErrNotFound
	}
	return o.storage.GetExecution(id)
}

func (o *Orchestrator) DeleteExecution(id string) error {
	if o.storage == nil {
		return storage.ErrNotFound
	}
	return o.storage.DeleteExecution(id)
}
