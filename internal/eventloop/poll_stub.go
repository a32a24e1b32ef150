//go:build !linux && !freebsd

package eventloop

import (
	"grimm.is/divert/internal/firewall"
)

func newPollAPI() (pollAPI, error) {
	return nil, firewall.ErrUnsupportedPlatform
}

func transientPollErr(err error) bool {
	return false
}
