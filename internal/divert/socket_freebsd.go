//go:build freebsd

package divert

import (
	"golang.org/x/sys/unix"
)

type rawSockAPI struct{}

func newSockAPI() (sockAPI, error) {
	return rawSockAPI{}, nil
}

func (rawSockAPI) Socket() (int, error) {
	return unix.Socket(unix.AF_INET, unix.SOCK_RAW, unix.IPPROTO_DIVERT)
}

func (rawSockAPI) Bind(fd int, port uint16) error {
	sa := &unix.SockaddrInet4{Port: int(port)}
	return unix.Bind(fd, sa)
}

func (rawSockAPI) SetNonblock(fd int) error {
	return unix.SetNonblock(fd, true)
}

func (rawSockAPI) Recvfrom(fd int, buf []byte) (int, error) {
	n, _, err := unix.Recvfrom(fd, buf, 0)
	return n, err
}

func (rawSockAPI) Close(fd int) error {
	return unix.Close(fd)
}

// transientRecvErr reports errors that mean "nothing to read right now".
func transientRecvErr(err error) bool {
	return err == unix.EAGAIN || err == unix.EWOULDBLOCK || err == unix.EINTR
}
