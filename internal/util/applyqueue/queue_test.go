package applyqueue

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmitPreservesOrder(t *testing.T) {
	q := New("test", 64, nil)
	defer q.Stop(time.Second)

	var mu sync.Mutex
	var got []int
	done := make(chan struct{})

	for i := 0; i < 20; i++ {
		i := i
		err := q.Submit(Task{ID: "t", Fn: func() error {
			mu.Lock()
			got = append(got, i)
			if len(got) == 20 {
				close(done)
			}
			mu.Unlock()
			return nil
		}})
		require.NoError(t, err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("tasks did not complete")
	}

	mu.Lock()
	defer mu.Unlock()
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestSubmitFullQueue(t *testing.T) {
	q := New("test", 1, nil)
	defer q.Stop(time.Second)

	block := make(chan struct{})
	release := make(chan struct{})
	require.NoError(t, q.Submit(Task{ID: "blocker", Fn: func() error {
		close(block)
		<-release
		return nil
	}}))
	<-block

	// Lane is busy; fill the single queue slot, then overflow
	require.NoError(t, q.Submit(Task{ID: "queued", Fn: func() error { return nil }}))

	var rejected bool
	for i := 0; i < 3; i++ {
		if err := q.Submit(Task{ID: "overflow", Fn: func() error { return nil }}); err != nil {
			rejected = true
			break
		}
	}
	close(release)
	assert.True(t, rejected)
	assert.GreaterOrEqual(t, q.Stats().Rejected, uint64(1))
}

func TestSubmitAfterStop(t *testing.T) {
	q := New("test", 8, nil)
	require.NoError(t, q.Stop(time.Second))

	err := q.Submit(Task{ID: "late", Fn: func() error { return nil }})
	assert.Error(t, err)
}

func TestFailedAndPanickingTasksAreCounted(t *testing.T) {
	q := New("test", 8, nil)
	defer q.Stop(time.Second)

	require.NoError(t, q.Submit(Task{ID: "fails", Fn: func() error {
		return errors.New("boom")
	}}))
	require.NoError(t, q.Submit(Task{ID: "panics", Fn: func() error {
		panic("boom")
	}}))

	require.Eventually(t, func() bool {
		return q.Stats().Failed == 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, uint64(0), q.Stats().Completed)
}

func TestStopIsIdempotent(t *testing.T) {
	q := New("test", 8, nil)
	require.NoError(t, q.Stop(time.Second))
	require.NoError(t, q.Stop(time.Second))
}
