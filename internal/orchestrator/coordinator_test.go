package orchestrator

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpataki/automenu/internal/events"
	"github.com/mpataki/automenu/internal/models"
	"github.com/mpataki/automenu/internal/runner"
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

func (s *recordingSink) Texts(sev events.Severity) []string {
	var out []string
	for _, ev := range s.Events() {
		if ev.Kind == events.KindLine && ev.Severity == sev {
			out = append(out, ev.Text)
		}
	}
	return out
}

func TestCoordinator_SingleFlight(t *testing.T) {
	c := NewCoordinator(&recordingSink{}, runner.Options{})

	lease, err := c.Acquire()
	require.NoError(t, err)
	assert.True(t, c.IsRunning())

	_, err = c.Acquire()
	assert.ErrorIs(t, err, ErrAlreadyRunning)
	var busy *AlreadyRunningError
	assert.True(t, errors.As(err, &busy))
	assert.Equal(t, "only one script may run at a time", err.Error())

	lease.Release()
	assert.False(t, c.IsRunning())

	second, err := c.Acquire()
	require.NoError(t, err)

	// a stale release must not free someone else's slot
	lease.Release()
	assert.True(t, c.Busy())
	second.Release()
	assert.False(t, c.Busy())
}

func TestCoordinator_ConcurrentAcquire(t *testing.T) {
	c := NewCoordinator(&recordingSink{}, runner.Options{})

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Acquire(); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}

func TestCoordinator_WithRunnerReleasesOnError(t *testing.T) {
	sink := &recordingSink{}
	c := NewCoordinator(sink, runner.Options{})
	boom := errors.New("boom")

	err := c.WithRunner(func(r *runner.Runner) error {
		assert.True(t, c.IsRunning())
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.False(t, c.IsRunning())

	evs := sink.Events()
	require.Len(t, evs, 1)
	assert.True(t, evs[0].Finished)
	assert.Equal(t, events.SeveritySysError, evs[0].Severity)
	assert.Equal(t, "Exception: boom", evs[0].Text)
	assert.NotNil(t, evs[0].Record)

	require.NoError(t, c.WithRunner(func(r *runner.Runner) error { return nil }))
}

func TestCoordinator_WithRunnerReleasesOnPanic(t *testing.T) {
	sink := &recordingSink{}
	c := NewCoordinator(sink, runner.Options{})

	assert.PanicsWithValue(t, "kaboom", func() {
		_ = c.WithRunner(func(r *runner.Runner) error {
			panic("kaboom")
		})
	})
	assert.False(t, c.Busy())
	assert.Equal(t, []string{"Exception: panic: kaboom"}, sink.Texts(events.SeveritySysError))

	lease, err := c.Acquire()
	require.NoError(t, err)
	lease.Release()
}

func TestCoordinator_NoActiveRunner(t *testing.T) {
	c := NewCoordinator(&recordingSink{}, runner.Options{})

	assert.ErrorIs(t, c.ContinueCurrent(), ErrNoActiveRunner)
	assert.ErrorIs(t, c.Respond(nil, "x"), ErrNoActiveRunner)
	assert.False(t, c.PauseCurrent())
	assert.False(t, c.ResumeCurrent())
	assert.False(t, c.IsPaused())
	c.StopCurrent()
}

func TestCoordinator_RespondOnlyToOwningRun(t *testing.T) {
	c := NewCoordinator(&recordingSink{}, runner.Options{})
	lease, err := c.Acquire()
	require.NoError(t, err)
	defer lease.Release()

	other := models.NewExecutionRecord(models.ScriptRef{Name: "previous.sh"})
	assert.ErrorIs(t, c.Respond(other, "late"), ErrStaleRequest)
	// no record means no ownership check; the runner has not spawned yet
	assert.ErrorIs(t, c.Respond(nil, "x"), runner.ErrNoProcess)
}

func TestCoordinator_HoldReservesSlotBetweenSteps(t *testing.T) {
	c := NewCoordinator(&recordingSink{}, runner.Options{})

	hold, err := c.Reserve("deploy")
	require.NoError(t, err)
	assert.True(t, c.Busy())
	assert.False(t, c.IsRunning())

	_, err = c.Acquire()
	var busy *AlreadyRunningError
	require.True(t, errors.As(err, &busy))
	assert.Equal(t, "deploy", busy.Current.Name)

	_, err = c.Reserve("other")
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	lease, err := c.acquire(hold)
	require.NoError(t, err)
	_, err = c.Reserve("other")
	assert.ErrorIs(t, err, ErrAlreadyRunning)
	lease.Release()

	// still reserved after the step ends
	_, err = c.Acquire()
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	hold.Release()
	hold.Release()
	assert.False(t, c.Busy())
	lease, err = c.Acquire()
	require.NoError(t, err)
	lease.Release()
}
