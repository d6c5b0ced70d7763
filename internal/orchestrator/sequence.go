package orchestrator

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mpataki/automenu/internal/events"
	alog "github.com/mpataki/automenu/internal/log"
	"github.com/mpataki/automenu/internal/models"
)

// ScriptResolver maps a step's script reference to a runnable script.
type ScriptResolver interface {
	Resolve(name string) (*models.Script, error)
}

type AbortReason string

const (
	AbortNone      AbortReason = ""
	AbortUser      AbortReason = "user"
	AbortStepError AbortReason = "step_error"
	AbortException AbortReason = "exception"
)

type SequenceResult struct {
	Sequence  string
	Records   []*models.ExecutionRecord
	Reason    AbortReason
	AbortedAt int
}

func (r *SequenceResult) Aborted() bool {
	return r.Reason != AbortNone
}

// SequenceRunner runs the steps of a sequence one after another through the
// coordinator.
type SequenceRunner struct {
	coord   *Coordinator
	sink    events.Sink
	scripts ScriptResolver
	logger  *slog.Logger
}

func NewSequenceRunner(coord *Coordinator, sink events.Sink, scripts ScriptResolver, logger *slog.Logger) *SequenceRunner {
	return &SequenceRunner{
		coord:   coord,
		sink:    sink,
		scripts: scripts,
		logger:  alog.WithComponent(alog.OrDiscard(logger), "sequence"),
	}
}

// RunAsync reserves the slot synchronously, so a busy coordinator is
// reported to the caller, then runs the sequence on a new goroutine and
// hands the outcome to onDone.
func (s *SequenceRunner) RunAsync(ctx context.Context, seq *models.Sequence, onDone func(*SequenceResult, error)) error {
	hold, err := s.coord.Reserve(seq.Name)
	if err != nil {
		return err
	}
	go func() {
		var (
			res *SequenceResult
			err error
		)
		func() {
			defer hold.Release()
			res, err = s.run(ctx, hold, seq)
		}()
		if onDone != nil {
			onDone(res, err)
		}
	}()
	return nil
}

// Run executes every step in order. The slot stays reserved for the whole
// sequence. Step failures are handled by policy and are not returned as
// errors; only reservation, resolution or coordinator failures are.
func (s *SequenceRunner) Run(ctx context.Context, seq *models.Sequence) (*SequenceResult, error) {
	hold, err := s.coord.Reserve(seq.Name)
	if err != nil {
		return nil, err
	}
	defer hold.Release()
	return s.run(ctx, hold, seq)
}

func (s *SequenceRunner) run(ctx context.Context, hold *Hold, seq *models.Sequence) (*SequenceResult, error) {
	seq.Reindex()
	notices := models.NewExecutionRecord(models.SequenceRef(seq.Name))
	res := &SequenceResult{Sequence: seq.Name}
	logger := s.logger.With(alog.SequenceKey, seq.Name)

	s.sink.Push(events.Control(events.ControlClear))
	s.sink.Push(events.Line(notices, events.SeveritySysInfo,
		fmt.Sprintf("Starting sequence '%s', with %d steps", seq.Name, len(seq.Steps))))
	logger.Info("sequence started", "steps", len(seq.Steps))

	for _, step := range seq.Steps {
		if ctx.Err() != nil {
			s.sink.Push(events.Line(notices, events.SeveritySysInfo, fmt.Sprintf("Aborted by user at step %d", step.Index)))
			return s.abort(res, notices, AbortUser, step.Index), nil
		}

		script, err := s.scripts.Resolve(step.Script)
		if err != nil {
			s.sink.Push(events.Line(notices, events.SeveritySysError, fmt.Sprintf("Step %d: %v", step.Index, err)))
			return s.abort(res, notices, AbortException, step.Index), err
		}

		logger.Info("step started", alog.StepKey, step.Index, alog.ScriptKey, script.Path)
		rec, err := s.coord.runHeld(ctx, hold, script, step.Args())
		if rec != nil {
			res.Records = append(res.Records, rec)
		} else {
			rec = notices
		}
		if err != nil {
			s.sink.Push(events.Line(rec, events.SeveritySysError, fmt.Sprintf("Sequence aborted at step %d: %v", step.Index, err)))
			return s.abort(res, notices, AbortException, step.Index), err
		}

		exitCode, _ := rec.ExitCode()
		stop := step.StopOnError || seq.StopOnError

		switch {
		case rec.Terminated():
			s.sink.Push(events.Line(rec, events.SeveritySysInfo, fmt.Sprintf("Aborted by user at step %d", step.Index)))
			return s.abort(res, notices, AbortUser, step.Index), nil
		case exitCode != 0 && stop:
			s.sink.Push(events.Line(rec, events.SeveritySysError,
				fmt.Sprintf("Stopped on error at step %d (exit code: %d)", step.Index, exitCode)))
			return s.abort(res, notices, AbortStepError, step.Index), nil
		case exitCode != 0:
			s.sink.Push(events.Line(rec, events.SeveritySysWarning,
				fmt.Sprintf("Step %d failed (exit code %d)", step.Index, exitCode)))
			logger.Warn("step failed, continuing", alog.StepKey, step.Index, "exit_code", exitCode)
		}
	}

	logger.Info("sequence finished", "steps", len(seq.Steps))
	return res, nil
}

func (s *SequenceRunner) abort(res *SequenceResult, notices *models.ExecutionRecord, reason AbortReason, step int) *SequenceResult {
	res.Reason = reason
	res.AbortedAt = step
	s.sink.Push(events.Line(notices, events.SeveritySysWarning, "Sequence stopped due to individual step error"))
	s.logger.Warn("sequence aborted", alog.SequenceKey, res.Sequence, alog.StepKey, step, "reason", string(reason))
	return res
}
