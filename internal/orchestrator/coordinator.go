package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mpataki/automenu/internal/events"
	alog "github.com/mpataki/automenu/internal/log"
	"github.com/mpataki/automenu/internal/models"
	"github.com/mpataki/automenu/internal/runner"
)

var (
	ErrAlreadyRunning = errors.New("only one script may run at a time")
	ErrNoActiveRunner = errors.New("no script is running")
	ErrStaleRequest   = errors.New("request came from a run that is no longer active")
)

// AlreadyRunningError names the run that holds the slot.
type AlreadyRunningError struct {
	Current models.ScriptRef
}

func (e *AlreadyRunningError) Error() string {
	if e.Current.Name == "" {
		return ErrAlreadyRunning.Error()
	}
	return fmt.Sprintf("%s (running: %s)", ErrAlreadyRunning, e.Current.Name)
}

func (e *AlreadyRunningError) Unwrap() error {
	return ErrAlreadyRunning
}

// Coordinator enforces that at most one runner exists at a time.
type Coordinator struct {
	sink      events.Sink
	newRunner func() *runner.Runner
	logger    *slog.Logger

	mu      sync.Mutex
	current *runner.Runner
	hold    *Hold
	paused  bool
}

func NewCoordinator(sink events.Sink, opts runner.Options) *Coordinator {
	logger := alog.OrDiscard(opts.Logger)
	return &Coordinator{
		sink:      sink,
		newRunner: func() *runner.Runner { return runner.New(sink, opts) },
		logger:    alog.WithComponent(logger, "coordinator"),
	}
}

// Lease is the scoped ownership of the single runner slot.
type Lease struct {
	c      *Coordinator
	runner *runner.Runner
	once   sync.Once
}

func (l *Lease) Runner() *runner.Runner {
	return l.runner
}

// Release frees the slot. Calls after the first are no-ops.
func (l *Lease) Release() {
	l.once.Do(func() {
		l.c.mu.Lock()
		if l.c.current == l.runner {
			l.c.current = nil
			l.c.paused = false
		}
		l.c.mu.Unlock()
	})
}

// Hold keeps the slot reserved for a sequence between its steps. Only
// leases taken under the hold may run while it is outstanding.
type Hold struct {
	c    *Coordinator
	name string
	once sync.Once
}

// Reserve takes a hold for the sequence called name.
func (c *Coordinator) Reserve(name string) (*Hold, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.busyErrLocked(nil); err != nil {
		return nil, err
	}
	c.hold = &Hold{c: c, name: name}
	return c.hold, nil
}

// Release gives the slot back. Calls after the first are no-ops.
func (h *Hold) Release() {
	h.once.Do(func() {
		h.c.mu.Lock()
		if h.c.hold == h {
			h.c.hold = nil
		}
		h.c.mu.Unlock()
	})
}

// Acquire claims the slot and creates a fresh runner. It fails with an
// *AlreadyRunningError while another lease or a sequence hold is
// outstanding.
func (c *Coordinator) Acquire() (*Lease, error) {
	return c.acquire(nil)
}

func (c *Coordinator) acquire(h *Hold) (*Lease, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.busyErrLocked(h); err != nil {
		return nil, err
	}

	r := c.newRunner()
	c.current = r
	c.paused = false
	return &Lease{c: c, runner: r}, nil
}

// WithRunner runs fn with a freshly acquired runner and releases the slot on
// every exit path. Errors and panics from fn are reported as a fatal event on
// the run; panics are re-raised once the slot is free.
func (c *Coordinator) WithRunner(fn func(*runner.Runner) error) error {
	lease, err := c.Acquire()
	if err != nil {
		return err
	}
	return c.withLease(lease, fn)
}

// busyErrLocked reports why the slot cannot be taken by a caller holding h.
func (c *Coordinator) busyErrLocked(h *Hold) error {
	if c.current != nil {
		ref := models.ScriptRef{}
		if rec := c.current.Record(); rec != nil {
			ref = rec.Script
		}
		return &AlreadyRunningError{Current: ref}
	}
	if c.hold != nil && c.hold != h {
		return &AlreadyRunningError{Current: models.SequenceRef(c.hold.name)}
	}
	return nil
}

func (c *Coordinator) withLease(lease *Lease, fn func(*runner.Runner) error) (err error) {
	defer lease.Release()
	defer func() {
		if p := recover(); p != nil {
			c.reportFatal(lease.Runner(), fmt.Errorf("panic: %v", p))
			panic(p)
		}
	}()

	if err := fn(lease.Runner()); err != nil {
		var spawnErr *runner.SpawnError
		if !errors.As(err, &spawnErr) {
			// spawn failures are already reported by the runner
			c.reportFatal(lease.Runner(), err)
		}
		return err
	}
	return nil
}

func (c *Coordinator) reportFatal(r *runner.Runner, err error) {
	rec := r.Record()
	if rec == nil {
		rec = models.NewExecutionRecord(models.ScriptRef{Name: "unknown"})
	}
	c.logger.Error("run failed", alog.ExecutionIDKey, rec.ID, alog.ScriptKey, rec.Script.Path, "error", err)
	c.sink.Push(events.Finished(rec, events.SeveritySysError, fmt.Sprintf("Exception: %v", err)))
}

// RunScript runs script to completion on the calling goroutine. Cancelling
// ctx terminates the script.
func (c *Coordinator) RunScript(ctx context.Context, script *models.Script, args []string) (*models.ExecutionRecord, error) {
	return c.runHeld(ctx, nil, script, args)
}

// runHeld is RunScript for a caller that owns the sequence hold h.
func (c *Coordinator) runHeld(ctx context.Context, h *Hold, script *models.Script, args []string) (*models.ExecutionRecord, error) {
	lease, err := c.acquire(h)
	if err != nil {
		return nil, err
	}
	return c.run(ctx, lease, script, args)
}

// RunScriptAsync claims the slot synchronously, so a busy coordinator is
// reported to the caller, then runs the script on a new goroutine. onDone,
// if set, receives the outcome.
func (c *Coordinator) RunScriptAsync(ctx context.Context, script *models.Script, args []string, onDone func(*models.ExecutionRecord, error)) error {
	lease, err := c.Acquire()
	if err != nil {
		return err
	}
	go func() {
		rec, err := c.run(ctx, lease, script, args)
		if onDone != nil {
			onDone(rec, err)
		}
	}()
	return nil
}

func (c *Coordinator) run(ctx context.Context, lease *Lease, script *models.Script, args []string) (*models.ExecutionRecord, error) {
	var rec *models.ExecutionRecord
	err := c.withLease(lease, func(r *runner.Runner) error {
		var err error
		rec, err = r.Spawn(script, args)
		if err != nil {
			return err
		}
		if err := r.Wait(ctx); err != nil {
			r.Terminate()
			<-r.Done()
		}
		return nil
	})
	return rec, err
}

// IsRunning reports whether a run holds the slot and is not paused.
func (c *Coordinator) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current != nil && !c.paused
}

func (c *Coordinator) IsPaused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current != nil && c.paused
}

// Busy reports whether the slot is taken, paused or not, or reserved by a
// running sequence.
func (c *Coordinator) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current != nil || c.hold != nil
}

func (c *Coordinator) Current() *runner.Runner {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *Coordinator) PauseCurrent() bool {
	r := c.Current()
	if r == nil || !r.Pause() {
		return false
	}
	c.setPaused(r, true)
	c.sink.Push(events.Line(r.Record(), events.SeveritySysInfo, "Process was paused"))
	return true
}

func (c *Coordinator) ResumeCurrent() bool {
	r := c.Current()
	if r == nil || !r.Resume() {
		return false
	}
	c.setPaused(r, false)
	c.sink.Push(events.Line(r.Record(), events.SeveritySysInfo, "Process was resumed"))
	return true
}

func (c *Coordinator) setPaused(r *runner.Runner, paused bool) {
	c.mu.Lock()
	if c.current == r {
		c.paused = paused
	}
	c.mu.Unlock()
}

// StopCurrent terminates the active run, if any.
func (c *Coordinator) StopCurrent() {
	if r := c.Current(); r != nil {
		r.Terminate()
	}
}

func (c *Coordinator) ContinueCurrent() error {
	r := c.Current()
	if r == nil {
		return ErrNoActiveRunner
	}
	return r.Continue()
}

// Respond writes a framed reply to the active run's stdin. A reply for a
// run other than the active one is dropped with ErrStaleRequest. A nil rec
// skips the check.
func (c *Coordinator) Respond(rec *models.ExecutionRecord, payload string) error {
	r := c.Current()
	if r == nil {
		return ErrNoActiveRunner
	}
	if rec != nil && r.Record() != rec {
		return ErrStaleRequest
	}
	return r.SendResponse(payload)
}
