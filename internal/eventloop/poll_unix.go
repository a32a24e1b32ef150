//go:build linux || freebsd

package eventloop

import (
	"golang.org/x/sys/unix"
)

type rawPollAPI struct{}

func newPollAPI() (pollAPI, error) {
	return rawPollAPI{}, nil
}

func (rawPollAPI) Poll(fds []pollFd, timeoutMs int) (int, error) {
	pfds := make([]unix.PollFd, len(fds))
	for i, f := range fds {
		pfds[i] = unix.PollFd{Fd: int32(f.Fd), Events: f.Events}
	}
	n, err := unix.Poll(pfds, timeoutMs)
	for i := range fds {
		fds[i].Revents = pfds[i].Revents
	}
	return n, err
}

func (rawPollAPI) Pipe() (int, int, error) {
	var p [2]int
	if err := unix.Pipe2(p[:], unix.O_CLOEXEC|unix.O_NONBLOCK); err != nil {
		return -1, -1, err
	}
	return p[0], p[1], nil
}

func (rawPollAPI) Read(fd int, buf []byte) (int, error) {
	return unix.Read(fd, buf)
}

func (rawPollAPI) Write(fd int, buf []byte) (int, error) {
	return unix.Write(fd, buf)
}

func (rawPollAPI) Close(fd int) error {
	return unix.Close(fd)
}

func transientPollErr(err error) bool {
	return err == unix.EINTR || err == unix.EAGAIN
}
