package process

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(r *Runner) []Event {
	var events []Event
	for ev := range r.Events() {
		events = append(events, ev)
	}
	return events
}

func TestRunner_LinesAndExit(t *testing.T) {
	r := New("printf", []string{"line one\nline two\n"})
	require.NoError(t, r.Start(context.Background()))

	events := drain(r)
	r.Wait()

	var lines []string
	for _, ev := range events {
		if ev.Kind == EventLine {
			lines = append(lines, ev.Line)
		}
	}
	assert.Equal(t, []string{"line one", "line two"}, lines)

	last := events[len(events)-1]
	assert.Equal(t, EventExit, last.Kind)
	assert.Equal(t, 0, last.Code)
}

func TestRunner_NonZeroExit(t *testing.T) {
	r := New("sh", []string{"-c", "exit 3"})
	require.NoError(t, r.Start(context.Background()))

	events := drain(r)
	r.Wait()

	last := events[len(events)-1]
	assert.Equal(t, EventExit, last.Kind)
	assert.Equal(t, 3, last.Code)
}

func TestRunner_PartialFinalChunk(t *testing.T) {
	r := New("printf", []string{"no newline"})
	require.NoError(t, r.Start(context.Background()))

	events := drain(r)
	r.Wait()

	require.NotEmpty(t, events)
	assert.Equal(t, EventPartial, events[0].Kind)
	assert.Equal(t, "no newline", events[0].Line)
}

func TestRunner_RecentLinesRingBuffer(t *testing.T) {
	r := New("sh", []string{"-c", "for i in 1 2 3 4 5; do echo line$i; done"}, WithRingBuffer(3))
	require.NoError(t, r.Start(context.Background()))
	drain(r)
	r.Wait()

	assert.Equal(t, []string{"line3", "line4", "line5"}, r.RecentLines())
}

func TestRunner_ExecutableNotFound(t *testing.T) {
	r := New("definitely-not-a-real-binary-xyz", nil)
	err := r.Start(context.Background())
	assert.Error(t, err)
}

func TestRunner_StopKillsLongRunningProcess(t *testing.T) {
	r := New("sleep", []string{"30"})
	require.NoError(t, r.Start(context.Background()))

	go drain(r)

	start := time.Now()
	require.NoError(t, r.Stop(2*time.Second))
	r.Wait()
	assert.Less(t, time.Since(start), 2*time.Second)
}
