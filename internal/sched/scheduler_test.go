package sched

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestScheduler_PollRemovesReadyTasks(t *testing.T) {
	s := New()
	polls := 0
	h := s.Insert(FuncTask(func() State {
		polls++
		if polls >= 2 {
			return Ready
		}
		return Pending
	}))
	s.Poll()
	require.Equal(t, 1, s.Len())
	require.NotNil(t, s.FromTaskID(h))
	s.Poll()
	require.Equal(t, 0, s.Len())
	require.Nil(t, s.FromTaskID(h))
}

func TestScheduler_RemoveCancelsTask(t *testing.T) {
	s := New()
	h := s.Insert(FuncTask(func() State { return Pending }))
	s.Remove(h)
	require.Nil(t, s.FromTaskID(h))
	s.Poll() // must not panic on an empty set
}

func TestScheduler_PollDoesBoundedWorkPerTask(t *testing.T) {
	s := New()
	calls := map[Handle]int{}
	for i := 0; i < 5; i++ {
		var h Handle
		h = s.Insert(FuncTask(func() State {
			calls[h]++
			return Pending
		}))
		calls[h] = 0
	}
	s.Poll()
	require.Equal(t, 5, s.Len())
	for h, n := range calls {
		require.Equal(t, 1, n, "task %d polled %d times in one round", h, n)
	}
}
