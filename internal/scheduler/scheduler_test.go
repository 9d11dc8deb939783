package scheduler

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func TestScheduleEveryRunsImmediatelyWhenRequested(t *testing.T) {
	s := New(testLogger())
	defer s.StopAll()

	var calls int32
	s.ScheduleEvery("job1", time.Hour, func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}, true)

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&calls) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestScheduleEveryFiresOnTicks(t *testing.T) {
	s := New(testLogger())
	defer s.StopAll()

	var calls int32
	s.ScheduleEvery("job2", 20*time.Millisecond, func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}, false)

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&calls) >= 2
	}, time.Second, 5*time.Millisecond)
}

func TestRescheduleCancelsPriorTask(t *testing.T) {
	s := New(testLogger())
	defer s.StopAll()

	var firstCalls, secondCalls int32
	s.ScheduleEvery("job3", time.Hour, func(ctx context.Context) error {
		atomic.AddInt32(&firstCalls, 1)
		return nil
	}, true)

	require.Eventually(t, func() bool { return atomic.LoadInt32(&firstCalls) == 1 }, time.Second, 5*time.Millisecond)

	s.ScheduleEvery("job3", 20*time.Millisecond, func(ctx context.Context) error {
		atomic.AddInt32(&secondCalls, 1)
		return nil
	}, true)

	require.Eventually(t, func() bool { return atomic.LoadInt32(&secondCalls) >= 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&firstCalls))
}

func TestJobStatusReportsLastRunAndUnknownJob(t *testing.T) {
	s := New(testLogger())
	defer s.StopAll()

	_, ok := s.JobStatus("nonexistent")
	assert.False(t, ok)

	s.ScheduleEvery("job4", time.Hour, func(ctx context.Context) error { return nil }, true)
	require.Eventually(t, func() bool {
		st, ok := s.JobStatus("job4")
		return ok && st.LastRun != nil
	}, time.Second, 5*time.Millisecond)
}

func TestFailingJobDoesNotStopSchedule(t *testing.T) {
	s := New(testLogger())
	defer s.StopAll()

	var calls int32
	s.ScheduleEvery("job5", 20*time.Millisecond, func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return errors.New("transient failure")
	}, true)

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&calls) >= 2
	}, time.Second, 5*time.Millisecond)
}

func TestPanickingJobIsRecovered(t *testing.T) {
	s := New(testLogger())
	defer s.StopAll()

	var calls int32
	s.ScheduleEvery("job6", 20*time.Millisecond, func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		panic("boom")
	}, true)

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&calls) >= 2
	}, time.Second, 5*time.Millisecond)
}

func TestCancelStopsJob(t *testing.T) {
	s := New(testLogger())
	defer s.StopAll()

	var calls int32
	s.ScheduleEvery("job7", 15*time.Millisecond, func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}, false)

	time.Sleep(40 * time.Millisecond)
	s.Cancel("job7")
	afterCancel := atomic.LoadInt32(&calls)
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, afterCancel, atomic.LoadInt32(&calls))

	_, ok := s.JobStatus("job7")
	assert.False(t, ok)
}
