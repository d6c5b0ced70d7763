package events

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpataki/automenu/internal/models"
)

func TestQueue_FIFO(t *testing.T) {
	q := NewQueue()
	rec := models.NewExecutionRecord(models.ScriptRef{Name: "a.py"})

	q.Push(Line(rec, SeverityInfo, "one"))
	q.Push(Line(rec, SeverityError, "two"))
	q.Push(Control(ControlClear))

	ev, ok := q.Pop(time.Second)
	require.True(t, ok)
	assert.Equal(t, "one", ev.Text)

	ev, ok = q.Pop(time.Second)
	require.True(t, ok)
	assert.Equal(t, SeverityError, ev.Severity)

	ev, ok = q.Pop(time.Second)
	require.True(t, ok)
	assert.Equal(t, KindControl, ev.Kind)
	assert.Nil(t, ev.Record)
}

func TestQueue_PopTimesOut(t *testing.T) {
	q := NewQueue()

	start := time.Now()
	_, ok := q.Pop(20 * time.Millisecond)
	assert.False(t, ok)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestQueue_PopWakesOnPush(t *testing.T) {
	q := NewQueue()

	go func() {
		time.Sleep(10 * time.Millisecond)
		q.Push(Control(ControlProcessTerminated))
	}()

	ev, ok := q.Pop(5 * time.Second)
	require.True(t, ok)
	assert.Equal(t, ControlProcessTerminated, ev.Control)
}

func TestQueue_ConcurrentProducersKeepPerProducerOrder(t *testing.T) {
	q := NewQueue()
	rec := models.NewExecutionRecord(models.ScriptRef{Name: "a.py"})

	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < 250; i++ {
				q.Push(Line(rec, SeverityInfo, fmt.Sprintf("%d:%d", p, i)))
			}
		}(p)
	}
	wg.Wait()

	last := map[int]int{0: -1, 1: -1, 2: -1, 3: -1}
	for n := 0; n < 1000; n++ {
		ev, ok := q.Pop(time.Second)
		require.True(t, ok)
		var p, i int
		_, err := fmt.Sscanf(ev.Text, "%d:%d", &p, &i)
		require.NoError(t, err)
		assert.Greater(t, i, last[p])
		last[p] = i
	}
	assert.Equal(t, 0, q.Len())
}

func TestQueue_CloseDrains(t *testing.T) {
	q := NewQueue()
	q.Push(Control(ControlClear))
	q.Close()
	q.Push(Control(ControlClear))

	_, ok := q.Pop(time.Second)
	assert.True(t, ok)
	_, ok = q.Pop(time.Second)
	assert.False(t, ok)
	assert.True(t, q.Closed())
}

func TestSeverityIsSystem(t *testing.T) {
	assert.True(t, SeveritySysInfo.IsSystem())
	assert.True(t, SeveritySysWarning.IsSystem())
	assert.True(t, SeveritySysError.IsSystem())
	assert.False(t, SeverityInfo.IsSystem())
	assert.False(t, SeverityError.IsSystem())
	assert.False(t, SeveritySuccess.IsSystem())
}

func TestBreakpointAndFinishedConstructors(t *testing.T) {
	rec := models.NewExecutionRecord(models.ScriptRef{Name: "a.py"})

	bp := Breakpoint(rec, "halted")
	assert.True(t, bp.Breakpoint)
	assert.Equal(t, SeveritySysInfo, bp.Severity)
	assert.Same(t, rec, bp.Record)

	fin := Finished(rec, SeveritySuccess, "done")
	assert.True(t, fin.Finished)
	assert.False(t, fin.Breakpoint)
}
