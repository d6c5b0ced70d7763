package runner

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"slices"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shirou/gopsutil/v4/process"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpataki/automenu/internal/events"
	"github.com/mpataki/automenu/internal/models"
	"github.com/mpataki/automenu/internal/notify"
)

type recordingSink struct {
	mu     sync.Mutex
	events []events.Event
}

func (s *recordingSink) Push(ev events.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *recordingSink) Events() []events.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]events.Event, len(s.events))
	copy(out, s.events)
	return out
}

func (s *recordingSink) Last() events.Event {
	evs := s.Events()
	if len(evs) == 0 {
		return events.Event{}
	}
	return evs[len(evs)-1]
}

type fakeTree struct {
	mu       sync.Mutex
	children []int
	calls    []string
}

func (f *fakeTree) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeTree) Exists(pid int) bool               { return true }
func (f *fakeTree) Descendants(pid int) ([]int, error) { return f.children, nil }
func (f *fakeTree) Suspend(pid int) error {
	f.record(fmt.Sprintf("suspend:%d", pid))
	return nil
}
func (f *fakeTree) Resume(pid int) error {
	f.record(fmt.Sprintf("resume:%d", pid))
	return nil
}
func (f *fakeTree) Kill(pid int) error {
	f.record(fmt.Sprintf("kill:%d", pid))
	return nil
}

type fakeNotifier struct {
	reports []notify.Report
	err     error
}

func (n *fakeNotifier) Notify(ctx context.Context, r notify.Report) error {
	n.reports = append(n.reports, r)
	return n.err
}

func requireShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("process tests need a POSIX shell")
	}
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func writeScript(t *testing.T, name, body string) *models.Script {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o755))
	return models.NewScript(path)
}

func waitDone(t *testing.T, r *Runner) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, r.Wait(ctx))
}

func TestDetectBreakpoint(t *testing.T) {
	tests := []struct {
		line   string
		lineNo string
		ok     bool
	}{
		{"> /home/ops/deploy.py(42)<module>()", "42", true},
		{"> c:\\scripts\\x.py(7)<module>()  ", "7", true},
		{"> /home/ops/deploy.py(42)main()", "", false},
		{"Entering debug mode. Use h or ? for help.", "", true},
		{"  entering DEBUG mode", "", true},
		{"plain output", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			lineNo, ok := DetectBreakpoint(tt.line)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.lineNo, lineNo)
		})
	}
}

func TestCanTransition(t *testing.T) {
	assert.True(t, canTransition(StateIdle, StateSpawning))
	assert.True(t, canTransition(StateSpawning, StateFinished))
	assert.True(t, canTransition(StateRunning, StateBreakpointHalted))
	assert.True(t, canTransition(StateBreakpointHalted, StateRunning))
	assert.True(t, canTransition(StatePaused, StateTerminating))
	assert.False(t, canTransition(StateIdle, StateRunning))
	assert.False(t, canTransition(StateBreakpointHalted, StatePaused))

	for _, to := range []State{StateIdle, StateSpawning, StateRunning, StatePaused, StateBreakpointHalted, StateTerminating} {
		assert.False(t, canTransition(StateFinished, to), "finished -> %s", to)
	}
}

func TestBreakpointRoundTrip(t *testing.T) {
	sink := &recordingSink{}
	r := New(sink, Options{})
	rec := models.NewExecutionRecord(models.ScriptRef{Name: "x.py"})

	var stdin bytes.Buffer
	r.record = rec
	r.state = StateRunning
	r.stdinW = bufio.NewWriter(&stdin)

	r.handleStdoutLine("> /tmp/x.py(42)<module>()")
	assert.Equal(t, StateBreakpointHalted, r.State())

	ev := sink.Last()
	assert.True(t, ev.Breakpoint)
	assert.Equal(t, events.SeveritySysInfo, ev.Severity)
	assert.Contains(t, ev.Text, "42")
	assert.Same(t, rec, ev.Record)

	// halted output is not classified again
	r.handleStdoutLine("> /tmp/x.py(43)<module>()")
	ev = sink.Last()
	assert.False(t, ev.Breakpoint)
	assert.Equal(t, events.SeverityInfo, ev.Severity)

	require.NoError(t, r.Continue())
	assert.Equal(t, "c\n", stdin.String())
	assert.Equal(t, StateRunning, r.State())

	r.handleStdoutLine("(Pdb) after the breakpoint")
	assert.Equal(t, "after the breakpoint", sink.Last().Text)
}

func TestContinue_NotHalted(t *testing.T) {
	r := New(&recordingSink{}, Options{})
	r.state = StateRunning
	assert.ErrorIs(t, r.Continue(), ErrNotHalted)
}

func TestSendResponse_NoProcess(t *testing.T) {
	r := New(&recordingSink{}, Options{})
	assert.ErrorIs(t, r.SendResponse("x"), ErrNoProcess)
}

func TestSpawn_StreamsOutputAndExitCode(t *testing.T) {
	requireShell(t)
	script := writeScript(t, "fail.sh", "echo hello\necho oops 1>&2\necho \"args: $1 $2\"\nexit 3\n")

	sink := &recordingSink{}
	var finished *models.ExecutionRecord
	r := New(sink, Options{OnFinish: func(rec *models.ExecutionRecord) { finished = rec }})

	rec, err := r.Spawn(script, []string{"--env", "prod"})
	require.NoError(t, err)
	waitDone(t, r)

	assert.Equal(t, StateFinished, r.State())
	assert.Same(t, rec, finished)
	code, ok := rec.ExitCode()
	require.True(t, ok)
	assert.Equal(t, 3, code)
	assert.False(t, rec.Terminated())

	var infos, errs []string
	for _, ev := range sink.Events() {
		assert.Same(t, rec, ev.Record)
		switch ev.Severity {
		case events.SeverityInfo:
			infos = append(infos, ev.Text)
		case events.SeverityError:
			errs = append(errs, ev.Text)
		}
	}
	assert.Equal(t, []string{"hello", "args: --env prod"}, infos)
	assert.Equal(t, []string{"oops"}, errs)

	evs := sink.Events()
	assert.Equal(t, "Starting 'fail.sh'", evs[0].Text)
	last := evs[len(evs)-1]
	assert.True(t, last.Finished)
	assert.Equal(t, events.SeveritySysError, last.Severity)
	assert.Contains(t, last.Text, "exit code 3")
}

func TestSpawn_Success(t *testing.T) {
	requireShell(t)
	script := writeScript(t, "ok.sh", "echo done\n")

	sink := &recordingSink{}
	r := New(sink, Options{})
	rec, err := r.Spawn(script, nil)
	require.NoError(t, err)
	waitDone(t, r)

	last := sink.Last()
	assert.True(t, last.Finished)
	assert.Equal(t, events.SeveritySuccess, last.Severity)
	code, _ := rec.ExitCode()
	assert.Equal(t, 0, code)

	_, err = r.Spawn(script, nil)
	assert.ErrorIs(t, err, ErrAlreadyStarted)
}

func TestSpawn_UnsupportedExtension(t *testing.T) {
	script := models.NewScript("/scripts/report.xlsx")
	sink := &recordingSink{}
	r := New(sink, Options{})

	rec, err := r.Spawn(script, nil)
	var spawnErr *SpawnError
	require.True(t, errors.As(err, &spawnErr))
	assert.ErrorIs(t, err, ErrUnsupported)
	require.NotNil(t, rec)

	select {
	case <-r.Done():
	default:
		t.Fatal("runner should be finished after a spawn failure")
	}
	assert.Equal(t, StateFinished, r.State())

	_, ended := rec.EndedAt()
	assert.True(t, ended)
	_, hasCode := rec.ExitCode()
	assert.False(t, hasCode)

	last := sink.Last()
	assert.True(t, last.Finished)
	assert.Equal(t, events.SeveritySysError, last.Severity)
}

func TestSpawn_MissingInterpreterReportsError(t *testing.T) {
	script := models.NewScript("/scripts/tool.py")
	sink := &recordingSink{}
	notifier := &fakeNotifier{}
	r := New(sink, Options{
		Interpreters:  map[string][]string{".py": {"automenu-no-such-python"}},
		Notifier:      notifier,
		NotifyOnError: true,
	})

	_, err := r.Spawn(script, nil)
	var spawnErr *SpawnError
	require.True(t, errors.As(err, &spawnErr))
	assert.Equal(t, "automenu-no-such-python", spawnErr.Interpreter)

	require.Len(t, notifier.reports, 1)
	assert.Equal(t, "/scripts/tool.py", notifier.reports[0].Script.Path)
	assert.Equal(t, "Error report sent", sink.Last().Text)
}

func readPID(t *testing.T, path string) int32 {
	t.Helper()
	var pid int32
	require.Eventually(t, func() bool {
		data, err := os.ReadFile(path)
		if err != nil {
			return false
		}
		n, err := strconv.Atoi(strings.TrimSpace(string(data)))
		pid = int32(n)
		return err == nil && n > 0
	}, 5*time.Second, 10*time.Millisecond)
	return pid
}

// gone reports whether pid has exited. A killed orphan may linger as a
// zombie until it is reaped, which counts as gone.
func gone(pid int32) bool {
	ok, err := process.PidExists(pid)
	if err != nil || !ok {
		return true
	}
	p, err := process.NewProcess(pid)
	if err != nil {
		return true
	}
	status, err := p.Status()
	return err == nil && slices.Contains(status, process.Zombie)
}

func TestTerminate_KillsTree(t *testing.T) {
	requireShell(t)
	pidFile := filepath.Join(t.TempDir(), "child.pid")
	script := writeScript(t, "hang.sh", "sleep 30 &\necho $! > \"$1\"\necho ready\nwait\n")

	sink := &recordingSink{}
	r := New(sink, Options{})
	rec, err := r.Spawn(script, []string{pidFile})
	require.NoError(t, err)
	child := readPID(t, pidFile)

	require.Eventually(t, func() bool {
		for _, ev := range sink.Events() {
			if ev.Text == "ready" {
				return true
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)

	r.Terminate()
	waitDone(t, r)

	assert.True(t, rec.Terminated())
	assert.True(t, r.Terminated())
	assert.Eventually(t, func() bool { return gone(child) }, 5*time.Second, 20*time.Millisecond,
		"background child %d survived terminate", child)

	evs := sink.Events()
	var sawControl bool
	for _, ev := range evs {
		if ev.Kind == events.KindControl && ev.Control == events.ControlProcessTerminated {
			sawControl = true
		}
	}
	assert.True(t, sawControl)

	last := evs[len(evs)-1]
	assert.True(t, last.Finished)
	assert.Equal(t, "Script terminated", last.Text)

	// terminating a finished run is a no-op
	r.Terminate()
}

func TestPauseResume_OrdersChildrenBeforeRoot(t *testing.T) {
	requireShell(t)
	script := writeScript(t, "sleep.sh", "sleep 30\n")

	tree := &fakeTree{children: []int{1, 2}}
	r := New(&recordingSink{}, Options{})
	r.tree = tree

	_, err := r.Spawn(script, nil)
	require.NoError(t, err)
	defer func() {
		r.Terminate()
		waitDone(t, r)
	}()

	require.True(t, r.Pause())
	assert.Equal(t, StatePaused, r.State())
	assert.False(t, r.Pause())

	require.True(t, r.Resume())
	assert.Equal(t, StateRunning, r.State())
	assert.False(t, r.Resume())

	pid := r.PID()
	tree.mu.Lock()
	calls := append([]string(nil), tree.calls...)
	tree.mu.Unlock()
	assert.Equal(t, []string{
		"suspend:1", "suspend:2", fmt.Sprintf("suspend:%d", pid),
		"resume:1", "resume:2", fmt.Sprintf("resume:%d", pid),
	}, calls)
}

func TestInterpreters_Overrides(t *testing.T) {
	table := Interpreters(map[string][]string{"RB": {"ruby"}, ".sh": nil}, "/opt/py/bin/python")
	assert.Equal(t, []string{"ruby"}, table[".rb"])
	assert.Equal(t, []string{"/opt/py/bin/python"}, table[".py"])
	_, ok := table[".sh"]
	assert.False(t, ok)

	argv, err := commandLine(table, models.NewScript("/s/a.rb"), []string{"--x", "1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"ruby", "/s/a.rb", "--x", "1"}, argv)
}

func TestSpawn_FinishesWhenBackgroundChildKeepsPipes(t *testing.T) {
	requireShell(t)
	pidFile := filepath.Join(t.TempDir(), "child.pid")
	script := writeScript(t, "bg.sh", "sleep 30 &\necho $! > \"$1\"\necho started\nexit 0\n")

	sink := &recordingSink{}
	r := New(sink, Options{OutputGrace: 100 * time.Millisecond})
	start := time.Now()
	rec, err := r.Spawn(script, []string{pidFile})
	require.NoError(t, err)
	child := readPID(t, pidFile)
	t.Cleanup(func() {
		if p, err := process.NewProcess(child); err == nil {
			p.Kill()
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, r.Wait(ctx))
	assert.Less(t, time.Since(start), 5*time.Second)

	assert.False(t, gone(child), "background child should be left alone")
	code, ok := rec.ExitCode()
	require.True(t, ok)
	assert.Equal(t, 0, code)
	assert.False(t, rec.Terminated())

	evs := sink.Events()
	var texts []string
	for _, ev := range evs {
		texts = append(texts, ev.Text)
	}
	assert.Contains(t, texts, "started")
	last := evs[len(evs)-1]
	assert.True(t, last.Finished)
	assert.Equal(t, events.SeveritySuccess, last.Severity)
}

func TestSpawn_OverlongLineKeepsDraining(t *testing.T) {
	requireShell(t)
	const size = 2*maxLineSize + 10
	script := writeScript(t, "long.sh", fmt.Sprintf("head -c %d /dev/zero | tr '\\0' x\necho\necho after\nexit 0\n", size))

	sink := &recordingSink{}
	r := New(sink, Options{})
	rec, err := r.Spawn(script, nil)
	require.NoError(t, err)
	waitDone(t, r)

	code, _ := rec.ExitCode()
	assert.Equal(t, 0, code)

	var long int
	var rest []string
	for _, ev := range sink.Events() {
		if ev.Severity != events.SeverityInfo {
			continue
		}
		if strings.HasPrefix(ev.Text, "x") {
			assert.LessOrEqual(t, len(ev.Text), maxLineSize)
			long += len(ev.Text)
			continue
		}
		rest = append(rest, ev.Text)
	}
	assert.Equal(t, size, long)
	assert.Equal(t, []string{"after"}, rest)
}

func TestReadLines(t *testing.T) {
	input := strings.Repeat("a", maxLineSize) + "\n" +
		strings.Repeat("b", maxLineSize+10) + "\r\n" +
		"\n" +
		"next\r\n" +
		"tail"

	var got []string
	require.NoError(t, readLines(strings.NewReader(input), func(line string) {
		got = append(got, line)
	}))

	require.Len(t, got, 6)
	assert.Equal(t, strings.Repeat("a", maxLineSize), got[0])
	assert.Equal(t, strings.Repeat("b", maxLineSize), got[1])
	assert.Equal(t, strings.Repeat("b", 10), got[2])
	assert.Equal(t, []string{"", "next", "tail"}, got[3:])
}
