// Package divert implements the packet-source element: a non-blocking
// divert socket, the firewall rule that feeds it, and the lifecycle that
// keeps the two consistent.
package divert

import (
	"fmt"

	"grimm.is/divert/internal/clock"
	"grimm.is/divert/internal/host"
	"grimm.is/divert/internal/packet"
)

// Receive geometry: one packet per readiness callback, read into a fresh
// buffer with two bytes of headroom for downstream encapsulation.
const (
	recvBufferCap = 2046
	recvHeadroom  = 2
)

// sockAPI is the thin syscall surface the socket runs on. The real
// implementation is per-platform; tests substitute a fake.
type sockAPI interface {
	Socket() (int, error)
	Bind(fd int, port uint16) error
	SetNonblock(fd int) error
	Recvfrom(fd int, buf []byte) (int, error)
	Close(fd int) error
}

// Socket owns the non-blocking raw divert socket.
type Socket struct {
	api sockAPI
	fd  int
}

// Open creates the divert socket, binds it to port on the wildcard
// address and puts it in non-blocking mode. Any failure closes the
// descriptor before returning.
func Open(port uint16) (*Socket, error) {
	api, err := newSockAPI()
	if err != nil {
		return nil, err
	}
	return openWith(api, port)
}

func openWith(api sockAPI, port uint16) (*Socket, error) {
	fd, err := api.Socket()
	if err != nil {
		return nil, fmt.Errorf("divert socket: %w", err)
	}
	if err := api.Bind(fd, port); err != nil {
		api.Close(fd)
		return nil, fmt.Errorf("bind divert port %d: %w", port, err)
	}
	if err := api.SetNonblock(fd); err != nil {
		api.Close(fd)
		return nil, fmt.Errorf("set nonblocking: %w", err)
	}
	return &Socket{api: api, fd: fd}, nil
}

// Fd returns the owned descriptor.
func (s *Socket) Fd() int {
	return s.fd
}

// RecvOne performs a single non-blocking receive. It returns a timestamped
// packet, or (nil, nil) when nothing is waiting, or (nil, err) on a
// persistent receive error. The socket stays usable in every case.
func (s *Socket) RecvOne(alloc host.Allocator, clk clock.Clock) (*packet.Packet, error) {
	p := alloc.Make(recvHeadroom, 0, recvBufferCap, 0)
	n, err := s.api.Recvfrom(s.fd, p.Buffer())
	if err != nil {
		if transientRecvErr(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("recvfrom: %w", err)
	}
	if n <= 0 {
		return nil, nil
	}
	p.Timestamp = clk.Now()
	p.SetLen(n)
	return p, nil
}

// Close releases the descriptor. Safe to call more than once.
func (s *Socket) Close() error {
	if s.fd < 0 {
		return nil
	}
	err := s.api.Close(s.fd)
	s.fd = -1
	return err
}
