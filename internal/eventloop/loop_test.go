package eventloop

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/divert/internal/logging"
)

func testLogger() *logging.Logger {
	return logging.New(logging.Config{Level: logging.LevelError, Output: &bytes.Buffer{}})
}

// fakePollAPI scripts Poll one call at a time; each step may fill in
// revents or drive the loop from outside. The wake write can arrive
// from the context watcher goroutine, hence the mutex.
type fakePollAPI struct {
	mu         sync.Mutex
	steps      []func(fds []pollFd) (int, error)
	wakeWrites int
	wakeReads  int
	closed     []int
}

func (f *fakePollAPI) Poll(fds []pollFd, timeoutMs int) (int, error) {
	f.mu.Lock()
	if len(f.steps) == 0 {
		f.mu.Unlock()
		return 0, errors.New("poll steps exhausted")
	}
	step := f.steps[0]
	f.steps = f.steps[1:]
	f.mu.Unlock()
	return step(fds)
}

func (f *fakePollAPI) Pipe() (int, int, error) {
	return 100, 101, nil
}

func (f *fakePollAPI) Read(fd int, buf []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.wakeReads++
	return 1, nil
}

func (f *fakePollAPI) Write(fd int, buf []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.wakeWrites++
	return 1, nil
}

func (f *fakePollAPI) Close(fd int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, fd)
	return nil
}

func (f *fakePollAPI) writes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.wakeWrites
}

func (f *fakePollAPI) reads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.wakeReads
}

type selectRecorder struct {
	fds        []int
	onSelected func(fd int)
}

func (r *selectRecorder) Selected(fd int) {
	r.fds = append(r.fds, fd)
	if r.onSelected != nil {
		r.onSelected(fd)
	}
}

// markReadable sets revents for one descriptor in a poll set.
func markReadable(fds []pollFd, fd int) {
	for i := range fds {
		if fds[i].Fd == fd {
			fds[i].Revents = pollIn
		}
	}
}

func TestAddRemoveSelect(t *testing.T) {
	api := &fakePollAPI{}
	l, err := newLoop(api, testLogger())
	require.NoError(t, err)

	h := &selectRecorder{}
	require.NoError(t, l.AddSelect(5, h))
	assert.Error(t, l.AddSelect(5, h), "duplicate registration")
	assert.Equal(t, 1, api.writes())

	require.NoError(t, l.RemoveSelect(5))
	assert.Error(t, l.RemoveSelect(5), "not registered")
	assert.Equal(t, 2, api.writes())
}

func TestRunDispatchesReadable(t *testing.T) {
	api := &fakePollAPI{}
	l, err := newLoop(api, testLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	h := &selectRecorder{onSelected: func(int) { cancel() }}
	require.NoError(t, l.AddSelect(5, h))

	api.steps = []func([]pollFd) (int, error){
		func(fds []pollFd) (int, error) {
			markReadable(fds, 5)
			return 1, nil
		},
		func(fds []pollFd) (int, error) {
			markReadable(fds, l.wakeR)
			return 1, nil
		},
	}

	err = l.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []int{5}, h.fds)
	assert.Equal(t, 1, api.reads(), "wake pipe drained")
}

func TestRunSkipsRemovedHandler(t *testing.T) {
	api := &fakePollAPI{}
	l, err := newLoop(api, testLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	h := &selectRecorder{}
	require.NoError(t, l.AddSelect(6, h))

	api.steps = []func([]pollFd) (int, error){
		func(fds []pollFd) (int, error) {
			// Deregistered after the poll snapshot but before dispatch.
			require.NoError(t, l.RemoveSelect(6))
			markReadable(fds, 6)
			return 1, nil
		},
		func(fds []pollFd) (int, error) {
			cancel()
			markReadable(fds, l.wakeR)
			return 1, nil
		},
	}

	err = l.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, h.fds, "no callback after removal")
}

func TestRunPollError(t *testing.T) {
	api := &fakePollAPI{}
	l, err := newLoop(api, testLogger())
	require.NoError(t, err)

	api.steps = []func([]pollFd) (int, error){
		func(fds []pollFd) (int, error) {
			return 0, errors.New("EBADF")
		},
	}

	err = l.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "poll")
}

func TestCloseIdempotent(t *testing.T) {
	api := &fakePollAPI{}
	l, err := newLoop(api, testLogger())
	require.NoError(t, err)

	require.NoError(t, l.Close())
	require.NoError(t, l.Close())
	assert.Equal(t, []int{100, 101}, api.closed)

	assert.Error(t, l.AddSelect(5, &selectRecorder{}))
}
