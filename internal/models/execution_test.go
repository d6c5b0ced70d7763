package models

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecutionRecord_CompleteOnlyOnce(t *testing.T) {
	rec := NewExecutionRecord(ScriptRef{Path: "/scripts/a.py", Name: "a.py"})
	first := time.Now()

	assert.True(t, rec.Complete(3, first))
	assert.False(t, rec.Complete(0, first.Add(time.Minute)))

	code, ok := rec.ExitCode()
	require.True(t, ok)
	assert.Equal(t, 3, code)

	end, ok := rec.EndedAt()
	require.True(t, ok)
	assert.True(t, end.Equal(first))
	assert.True(t, rec.Finished())
}

func TestExecutionRecord_MarkEndedKeepsFirstStamp(t *testing.T) {
	rec := NewExecutionRecord(ScriptRef{Name: "a.py"})
	first := time.Now()

	assert.True(t, rec.MarkEnded(first))
	assert.False(t, rec.MarkEnded(first.Add(time.Hour)))

	_, ok := rec.ExitCode()
	assert.False(t, ok)
	assert.False(t, rec.Finished())

	// completion after an early end keeps the earlier stamp
	rec.Complete(1, first.Add(time.Hour))
	end, _ := rec.EndedAt()
	assert.True(t, end.Equal(first))
}

func TestExecutionRecord_TerminatedIsSticky(t *testing.T) {
	rec := NewExecutionRecord(ScriptRef{Name: "a.py"})
	assert.False(t, rec.Terminated())

	rec.SetTerminated()
	rec.Complete(-1, time.Now())
	assert.True(t, rec.Terminated())
	assert.True(t, rec.Summary().Terminated)
}

func TestExecutionRecord_ConcurrentAppend(t *testing.T) {
	rec := NewExecutionRecord(ScriptRef{Name: "a.py"})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				rec.AppendOutput(time.Now(), "line")
			}
		}()
	}
	wg.Wait()

	assert.Len(t, rec.Output(), 800)
}

func TestExecutionRecord_SummaryIsDetached(t *testing.T) {
	rec := NewExecutionRecord(ScriptRef{Path: "/s/b.sh", Name: "b.sh"})
	rec.AppendOutput(time.Now(), "hello")
	rec.Complete(0, time.Now())

	s := rec.Summary()
	rec.AppendOutput(time.Now(), "later")

	require.Len(t, s.Output, 1)
	assert.Equal(t, "hello", s.Output[0].Text)
	require.NotNil(t, s.ExitCode)
	assert.Equal(t, 0, *s.ExitCode)
	assert.Equal(t, rec.ID, s.ID)
}

func TestBuildArgs(t *testing.T) {
	args := BuildArgs([]Argument{
		{Name: "target", Value: "  prod  "},
		{Name: "count", Value: "3"},
	})
	assert.Equal(t, []string{"--target", "prod", "--count", "3"}, args)
	assert.Empty(t, BuildArgs(nil))
}

func TestScript_DefaultArgsAndDisplayName(t *testing.T) {
	s := NewScript("/scripts/deploy.py")
	assert.Equal(t, "deploy.py", s.DisplayName())
	assert.Equal(t, ".py", s.Ext())

	s.Meta.Synopsis = "Deploy things"
	s.Meta.Parameters = []InputParameter{
		{Name: "env", Default: "staging"},
		{Name: "force"},
	}
	assert.Equal(t, "Deploy things", s.DisplayName())
	assert.Equal(t, []string{"--env", "staging"}, s.DefaultArgs())
}
