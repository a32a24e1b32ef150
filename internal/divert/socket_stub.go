//go:build !linux && !freebsd

package divert

import (
	"grimm.is/divert/internal/firewall"
)

func newSockAPI() (sockAPI, error) {
	return nil, firewall.ErrUnsupportedPlatform
}

func transientRecvErr(err error) bool {
	return false
}
