// Package eventloop runs a poll(2) based readiness loop. Elements
// register descriptors with AddSelect and get their Selected callback
// on the loop goroutine whenever the descriptor turns readable.
package eventloop

import (
	"context"
	"fmt"
	"sync"

	"grimm.is/divert/internal/host"
	"grimm.is/divert/internal/logging"
)

// Poll event bits, identical on the platforms we poll on.
const (
	pollIn  = 0x0001
	pollErr = 0x0008
	pollHup = 0x0010
)

// pollFd mirrors struct pollfd for the pollAPI seam.
type pollFd struct {
	Fd      int
	Events  int16
	Revents int16
}

// pollAPI is the syscall surface the loop runs against. Production uses
// the real poll/pipe syscalls; tests script it.
type pollAPI interface {
	Poll(fds []pollFd, timeoutMs int) (int, error)
	Pipe() (r, w int, err error)
	Read(fd int, buf []byte) (int, error)
	Write(fd int, buf []byte) (int, error)
	Close(fd int) error
}

// Loop multiplexes read-readiness over registered descriptors. It
// implements host.Registrar. A self-pipe wakes the poller whenever the
// registration set changes or the run context ends.
type Loop struct {
	api pollAPI
	log *logging.Logger

	mu       sync.Mutex
	handlers map[int]host.SelectHandler
	closed   bool

	wakeR int
	wakeW int
}

// New creates a loop ready for Run.
func New(log *logging.Logger) (*Loop, error) {
	api, err := newPollAPI()
	if err != nil {
		return nil, err
	}
	return newLoop(api, log)
}

func newLoop(api pollAPI, log *logging.Logger) (*Loop, error) {
	r, w, err := api.Pipe()
	if err != nil {
		return nil, fmt.Errorf("wake pipe: %w", err)
	}
	return &Loop{
		api:      api,
		log:      log.WithComponent("eventloop"),
		handlers: make(map[int]host.SelectHandler),
		wakeR:    r,
		wakeW:    w,
	}, nil
}

// AddSelect registers a descriptor for read-readiness callbacks.
func (l *Loop) AddSelect(fd int, h host.SelectHandler) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return fmt.Errorf("event loop closed")
	}
	if _, ok := l.handlers[fd]; ok {
		return fmt.Errorf("fd %d already registered", fd)
	}
	l.handlers[fd] = h
	l.wakeLocked()
	return nil
}

// RemoveSelect drops a descriptor. After it returns no further Selected
// callbacks are delivered for fd.
func (l *Loop) RemoveSelect(fd int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.handlers[fd]; !ok {
		return fmt.Errorf("fd %d not registered", fd)
	}
	delete(l.handlers, fd)
	l.wakeLocked()
	return nil
}

func (l *Loop) wakeLocked() {
	if l.closed {
		return
	}
	l.api.Write(l.wakeW, []byte{0})
}

func (l *Loop) wake() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.wakeLocked()
}

// pollSet snapshots the wake pipe plus every registered descriptor.
func (l *Loop) pollSet() []pollFd {
	l.mu.Lock()
	defer l.mu.Unlock()
	fds := make([]pollFd, 0, len(l.handlers)+1)
	fds = append(fds, pollFd{Fd: l.wakeR, Events: pollIn})
	for fd := range l.handlers {
		fds = append(fds, pollFd{Fd: fd, Events: pollIn})
	}
	return fds
}

// handlerFor looks a handler up at dispatch time, so a descriptor
// removed between poll and dispatch is never called.
func (l *Loop) handlerFor(fd int) host.SelectHandler {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.handlers[fd]
}

// Run polls until ctx ends. Callbacks run on the calling goroutine.
func (l *Loop) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		l.wake()
	}()

	for {
		fds := l.pollSet()
		if _, err := l.api.Poll(fds, -1); err != nil {
			if transientPollErr(err) {
				continue
			}
			return fmt.Errorf("poll: %w", err)
		}

		if fds[0].Revents&(pollIn|pollErr|pollHup) != 0 {
			l.drainWake()
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		for _, p := range fds[1:] {
			if p.Revents&(pollIn|pollErr|pollHup) == 0 {
				continue
			}
			if h := l.handlerFor(p.Fd); h != nil {
				h.Selected(p.Fd)
			}
		}
	}
}

func (l *Loop) drainWake() {
	var buf [64]byte
	l.api.Read(l.wakeR, buf[:])
}

// Close releases the wake pipe. Registered descriptors stay open; their
// owners close them.
func (l *Loop) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	l.api.Close(l.wakeR)
	l.api.Close(l.wakeW)
	return nil
}
