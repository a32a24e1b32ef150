//go:build !linux && !freebsd

package firewall

import (
	"grimm.is/divert/internal/logging"
)

// New returns the driver for this platform.
func New(log *logging.Logger) (Driver, error) {
	return nil, ErrUnsupportedPlatform
}
