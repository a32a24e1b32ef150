//go:build linux

package firewall

import (
	"fmt"

	"github.com/vishvananda/netlink"

	"grimm.is/divert/internal/logging"
)

// New returns the driver for this platform.
func New(log *logging.Logger) (Driver, error) {
	return NewLinuxDriver(OpenControlSocket, checkDeviceExists, log), nil
}

// checkDeviceExists verifies the interface name before touching the rule
// table, so a typo fails install instead of silently matching nothing.
func checkDeviceExists(name string) error {
	if _, err := netlink.LinkByName(name); err != nil {
		return fmt.Errorf("no such interface: %w", err)
	}
	return nil
}
