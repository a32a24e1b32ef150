//go:build linux

package firewall

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// rawControlSocket writes ip_fw records with setsockopt on a raw socket.
type rawControlSocket struct {
	fd int
}

// OpenControlSocket opens the auxiliary raw socket used for rule setup.
func OpenControlSocket() (ControlSocket, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_RAW, unix.IPPROTO_RAW)
	if err != nil {
		return nil, fmt.Errorf("could not create raw socket for firewall setup: %w", err)
	}
	return &rawControlSocket{fd: fd}, nil
}

func (s *rawControlSocket) SetOption(code int, value []byte) error {
	return unix.SetsockoptString(s.fd, unix.IPPROTO_IP, code, string(value))
}

func (s *rawControlSocket) Close() error {
	return unix.Close(s.fd)
}
