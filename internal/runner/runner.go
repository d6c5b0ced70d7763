// Package runner owns a single child process: it spawns the script, streams
// its stdout and stderr into the event queue, watches for debugger halts and
// handles pause, resume and termination of the whole process tree.
package runner

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mpataki/automenu/internal/events"
	alog "github.com/mpataki/automenu/internal/log"
	"github.com/mpataki/automenu/internal/models"
	"github.com/mpataki/automenu/internal/notify"
	"github.com/mpataki/automenu/internal/protocol"
)

// ContinueToken resumes a script halted in its debugger.
const ContinueToken = "c"

// maxLineSize bounds a single output event. Longer lines arrive in pieces.
const maxLineSize = 1024 * 1024

// DefaultOutputGrace is how long output may keep flowing after the script
// exits before the pipes are closed.
const DefaultOutputGrace = 500 * time.Millisecond

type Options struct {
	// Interpreters maps extensions to command prefixes. Nil means defaults.
	Interpreters map[string][]string
	// Env is the full child environment. Nil inherits the host environment.
	Env []string
	Dir string

	Notifier      notify.Notifier
	NotifyOnError bool

	// OnFinish runs after the terminal event has been queued.
	OnFinish func(*models.ExecutionRecord)

	// OutputGrace overrides DefaultOutputGrace.
	OutputGrace time.Duration

	Logger *slog.Logger
}

type Runner struct {
	sink   events.Sink
	opts   Options
	tree   processTree
	logger *slog.Logger
	now    func() time.Time

	mu     sync.Mutex
	state  State
	cmd    *exec.Cmd
	record *models.ExecutionRecord

	stdinMu sync.Mutex
	stdin   io.WriteCloser
	stdinW  *bufio.Writer

	terminated atomic.Bool
	readers    errgroup.Group
	done       chan struct{}
}

func New(sink events.Sink, opts Options) *Runner {
	if opts.Interpreters == nil {
		opts.Interpreters = DefaultInterpreters()
	}
	if opts.OutputGrace <= 0 {
		opts.OutputGrace = DefaultOutputGrace
	}
	return &Runner{
		sink:   sink,
		opts:   opts,
		tree:   osTree{},
		logger: alog.WithComponent(alog.OrDiscard(opts.Logger), "runner"),
		now:    time.Now,
		done:   make(chan struct{}),
	}
}

func (r *Runner) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Record is the execution record of the current run, nil before Spawn.
func (r *Runner) Record() *models.ExecutionRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.record
}

func (r *Runner) PID() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cmd == nil || r.cmd.Process == nil {
		return 0
	}
	return r.cmd.Process.Pid
}

func (r *Runner) Terminated() bool {
	return r.terminated.Load()
}

// Done is closed once the run has reached StateFinished.
func (r *Runner) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the run finishes or ctx is cancelled.
func (r *Runner) Wait(ctx context.Context) error {
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runner) transition(to State) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.transitionLocked(to)
}

func (r *Runner) transitionLocked(to State) bool {
	if !canTransition(r.state, to) {
		return false
	}
	r.logger.Debug("state change", alog.StateKey, to.String(), "from", r.state.String())
	r.state = to
	return true
}

// Spawn starts the script. The returned record is valid even when err is a
// *SpawnError; in that case the terminal event has already been queued.
func (r *Runner) Spawn(script *models.Script, args []string) (*models.ExecutionRecord, error) {
	r.mu.Lock()
	if !r.transitionLocked(StateSpawning) {
		r.mu.Unlock()
		return nil, ErrAlreadyStarted
	}
	rec := models.NewExecutionRecord(script.Ref())
	r.record = rec
	r.mu.Unlock()

	r.sink.Push(events.Line(rec, events.SeveritySysInfo, fmt.Sprintf("Starting '%s'", script.DisplayName())))

	argv, err := commandLine(r.opts.Interpreters, script, args)
	if err != nil {
		r.spawnFailed(script, err)
		return rec, err
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Env = r.opts.Env
	if cmd.Env == nil {
		cmd.Env = os.Environ()
	}
	cmd.Dir = r.opts.Dir
	setProcessGroup(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return rec, r.spawnFailed(script, &SpawnError{Script: script.Path, Interpreter: argv[0], Cause: err})
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return rec, r.spawnFailed(script, &SpawnError{Script: script.Path, Interpreter: argv[0], Cause: err})
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return rec, r.spawnFailed(script, &SpawnError{Script: script.Path, Interpreter: argv[0], Cause: err})
	}

	if err := cmd.Start(); err != nil {
		return rec, r.spawnFailed(script, &SpawnError{Script: script.Path, Interpreter: argv[0], Cause: err})
	}

	r.mu.Lock()
	r.cmd = cmd
	r.transitionLocked(StateRunning)
	r.mu.Unlock()

	r.stdinMu.Lock()
	r.stdin = stdin
	r.stdinW = bufio.NewWriter(stdin)
	r.stdinMu.Unlock()

	r.logger.Info("script started",
		alog.ScriptKey, script.Path,
		alog.PIDKey, cmd.Process.Pid,
		alog.ExecutionIDKey, rec.ID,
	)

	r.readers.Go(func() error { return r.readStdout(stdout) })
	r.readers.Go(func() error { return r.readStderr(stderr) })
	go r.waitForExit(stdout, stderr)

	return rec, nil
}

func (r *Runner) spawnFailed(script *models.Script, err error) error {
	rec := r.Record()
	r.logger.Error("spawn failed", alog.ScriptKey, script.Path, "error", err)

	rec.MarkEnded(r.now())
	r.sink.Push(events.Finished(rec, events.SeveritySysError, fmt.Sprintf("Subprocess error: %v", err)))
	r.report(rec, err.Error())

	r.transition(StateFinished)
	r.finish(rec)
	return err
}

// report hands a fatal error to the notifier and queues the outcome.
func (r *Runner) report(rec *models.ExecutionRecord, message string) {
	if !r.opts.NotifyOnError || r.opts.Notifier == nil {
		return
	}
	err := r.opts.Notifier.Notify(context.Background(), notify.Report{
		Message: message,
		Script:  rec.Script,
		At:      r.now(),
	})
	if err != nil {
		r.sink.Push(events.Line(rec, events.SeveritySysError, fmt.Sprintf("Could not send error report: %v", err)))
		return
	}
	r.sink.Push(events.Line(rec, events.SeveritySysInfo, "Error report sent"))
}

func (r *Runner) finish(rec *models.ExecutionRecord) {
	if r.opts.OnFinish != nil {
		r.opts.OnFinish(rec)
	}
	close(r.done)
}

func (r *Runner) readStdout(rd io.Reader) error {
	return readLines(rd, r.handleStdoutLine)
}

func (r *Runner) readStderr(rd io.Reader) error {
	rec := r.Record()
	return readLines(rd, func(line string) {
		r.sink.Push(events.Line(rec, events.SeverityError, line))
	})
}

// readLines calls emit for every line of rd until EOF. A line longer than
// maxLineSize is emitted in pieces so the pipe never stops draining.
func readLines(rd io.Reader, emit func(string)) error {
	br := bufio.NewReaderSize(rd, 64*1024)
	var (
		buf   []byte
		split bool
	)
	for {
		chunk, more, err := br.ReadLine()
		if err != nil {
			if len(buf) > 0 {
				emit(strings.TrimRight(string(buf), "\r"))
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		buf = append(buf, chunk...)
		if more && len(buf) < maxLineSize {
			continue
		}
		// an empty tail right after a split is the end of that line, not a new one
		if len(buf) > 0 || !split {
			emit(strings.TrimRight(string(buf), "\r"))
		}
		buf = buf[:0]
		split = more
	}
}

func (r *Runner) handleStdoutLine(line string) {
	rec := r.Record()

	r.mu.Lock()
	halted := r.state == StateBreakpointHalted
	r.mu.Unlock()

	// while the debugger owns the terminal its output is passed through as is
	if halted {
		r.sink.Push(events.Line(rec, events.SeverityInfo, line))
		return
	}

	line = stripPrompt(line)
	if lineNo, ok := DetectBreakpoint(line); ok {
		if r.transition(StateBreakpointHalted) {
			r.logger.Info("breakpoint hit", alog.ExecutionIDKey, rec.ID, "line", lineNo)
			r.sink.Push(events.Breakpoint(rec, breakpointNotice(lineNo)))
			return
		}
	}
	r.sink.Push(events.Line(rec, events.SeverityInfo, line))
}

// waitForExit ends the run when the script process exits. Descendants left
// running in the background may still hold the pipes open, so output is
// only collected for a grace period after that.
func (r *Runner) waitForExit(stdout, stderr io.Closer) {
	r.mu.Lock()
	cmd := r.cmd
	rec := r.record
	r.mu.Unlock()

	state, waitErr := cmd.Process.Wait()
	endedAt := r.now()
	exitCode := -1
	if state != nil {
		exitCode = state.ExitCode()
	}
	if waitErr != nil {
		r.logger.Warn("wait failed", alog.ExecutionIDKey, rec.ID, "error", waitErr)
	}

	r.collectOutput(rec, stdout, stderr)

	rec.Complete(exitCode, endedAt)
	r.logger.Info("script exited",
		alog.ExecutionIDKey, rec.ID,
		"exit_code", exitCode,
		"terminated", r.terminated.Load(),
	)

	switch {
	case r.terminated.Load():
		rec.SetTerminated()
		r.sink.Push(events.Finished(rec, events.SeveritySysInfo, "Script terminated"))
	case exitCode == 0:
		r.sink.Push(events.Finished(rec, events.SeveritySuccess, "Script completed successfully"))
	default:
		r.sink.Push(events.Finished(rec, events.SeveritySysError, fmt.Sprintf("Script failed with exit code %d", exitCode)))
	}

	r.stdinMu.Lock()
	if r.stdin != nil {
		r.stdin.Close()
	}
	r.stdinMu.Unlock()

	r.transition(StateTerminating)
	r.transition(StateFinished)
	r.finish(rec)
}

// collectOutput waits for both readers to hit EOF, closing the pipes once
// the grace period runs out.
func (r *Runner) collectOutput(rec *models.ExecutionRecord, pipes ...io.Closer) {
	done := make(chan error, 1)
	go func() { done <- r.readers.Wait() }()

	var err error
	select {
	case err = <-done:
	case <-time.After(r.opts.OutputGrace):
		r.logger.Warn("output still open after exit, closing pipes", alog.ExecutionIDKey, rec.ID)
		for _, p := range pipes {
			p.Close()
		}
		err = <-done
	}
	if err != nil && !errors.Is(err, os.ErrClosed) {
		r.logger.Warn("output reader stopped", alog.ExecutionIDKey, rec.ID, "error", err)
	}
	for _, p := range pipes {
		p.Close()
	}
}

// Continue resumes a script halted at a breakpoint.
func (r *Runner) Continue() error {
	r.mu.Lock()
	if r.state != StateBreakpointHalted {
		r.mu.Unlock()
		return ErrNotHalted
	}
	r.mu.Unlock()

	if err := r.writeLine(ContinueToken); err != nil {
		return err
	}
	r.transition(StateRunning)
	return nil
}

// SendResponse answers a get-style protocol request on the child's stdin.
func (r *Runner) SendResponse(payload string) error {
	return r.writeLine(protocol.Frame(payload))
}

func (r *Runner) writeLine(line string) error {
	if r.State().Terminal() {
		return ErrFinished
	}

	r.stdinMu.Lock()
	defer r.stdinMu.Unlock()
	if r.stdinW == nil {
		return ErrNoProcess
	}
	if _, err := r.stdinW.WriteString(line + "\n"); err != nil {
		return fmt.Errorf("write to stdin: %w", err)
	}
	if err := r.stdinW.Flush(); err != nil {
		return fmt.Errorf("flush stdin: %w", err)
	}
	return nil
}

// Pause suspends the script and all of its descendants. It reports whether
// the run is now paused.
func (r *Runner) Pause() bool {
	r.mu.Lock()
	if r.state != StateRunning || r.cmd == nil {
		r.mu.Unlock()
		return false
	}
	pid := r.cmd.Process.Pid
	r.mu.Unlock()

	if !r.tree.Exists(pid) {
		return false
	}
	children, err := r.tree.Descendants(pid)
	if err != nil {
		r.logger.Warn("enumerate children for pause", alog.PIDKey, pid, "error", err)
	}
	for _, c := range children {
		if err := r.tree.Suspend(c); err != nil {
			r.logger.Warn("suspend child", alog.PIDKey, c, "error", err)
		}
	}
	if err := r.tree.Suspend(pid); err != nil {
		r.logger.Warn("suspend", alog.PIDKey, pid, "error", err)
		for _, c := range children {
			r.tree.Resume(c)
		}
		return false
	}

	return r.transition(StatePaused)
}

// Resume undoes Pause. It reports whether the run is running again.
func (r *Runner) Resume() bool {
	r.mu.Lock()
	if r.state != StatePaused || r.cmd == nil {
		r.mu.Unlock()
		return false
	}
	pid := r.cmd.Process.Pid
	r.mu.Unlock()

	if !r.tree.Exists(pid) {
		return false
	}
	children, err := r.tree.Descendants(pid)
	if err != nil {
		r.logger.Warn("enumerate children for resume", alog.PIDKey, pid, "error", err)
	}
	for _, c := range children {
		if err := r.tree.Resume(c); err != nil {
			r.logger.Warn("resume child", alog.PIDKey, c, "error", err)
		}
	}
	if err := r.tree.Resume(pid); err != nil {
		r.logger.Warn("resume", alog.PIDKey, pid, "error", err)
		return false
	}

	return r.transition(StateRunning)
}

// Terminate kills the script and every descendant. The process-terminated
// control is queued before any signal is sent.
func (r *Runner) Terminate() {
	r.mu.Lock()
	cmd := r.cmd
	rec := r.record
	state := r.state
	r.mu.Unlock()

	if cmd == nil || cmd.Process == nil || state == StateFinished || state == StateTerminating {
		return
	}

	r.terminated.Store(true)
	rec.SetTerminated()
	r.sink.Push(events.Control(events.ControlProcessTerminated))
	r.transition(StateTerminating)

	pid := cmd.Process.Pid
	r.logger.Info("terminating", alog.PIDKey, pid, alog.ExecutionIDKey, rec.ID)

	if err := r.killTree(cmd.Process); err != nil {
		r.logger.Error("terminate", alog.PIDKey, pid, "error", err)
		r.sink.Push(events.Line(rec, events.SeveritySysError, fmt.Sprintf("Error while terminating script: %v", err)))
	}
	// catches anything started in the group that the walk missed
	if err := killProcessGroup(pid); err != nil {
		r.logger.Warn("kill process group", alog.PIDKey, pid, "error", err)
	}
}

func (r *Runner) killTree(root *os.Process) error {
	// descendants are collected first: once the root dies they are reparented
	children, enumErr := r.tree.Descendants(root.Pid)

	var errs []error
	if enumErr != nil {
		errs = append(errs, enumErr)
	}
	for i := len(children) - 1; i >= 0; i-- {
		if err := r.tree.Kill(children[i]); err != nil {
			errs = append(errs, err)
		}
	}
	if err := root.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		errs = append(errs, fmt.Errorf("kill %d: %w", root.Pid, err))
	}
	return errors.Join(errs...)
}
