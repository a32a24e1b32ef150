// Package firewall installs and removes the kernel divert rule that
// rendezvouses traffic with a divert socket. Two backends exist: a BSD
// driver that shells out to ipfw, and a Linux driver that writes ip_fw
// control records on a raw socket.
package firewall

import (
	"errors"

	"grimm.is/divert/internal/config"
)

var (
	// ErrInstallFailed means the kernel refused to insert the rule.
	ErrInstallFailed = errors.New("firewall: install failed")

	// ErrUnsupportedPlatform means no backend is compiled in for this OS.
	ErrUnsupportedPlatform = errors.New("firewall: no backend for this platform")
)

// Driver is the backend capability: install a rule, later uninstall it.
// Uninstall is best-effort; failures are logged, never raised.
type Driver interface {
	Install(spec *config.RuleSpec) (InstalledRule, error)
	Uninstall(r InstalledRule)
}

// InstalledRule is the teardown token returned by Install. Each backend
// returns its own variant; the interface is sealed to this package.
type InstalledRule interface {
	installedRule()
}
