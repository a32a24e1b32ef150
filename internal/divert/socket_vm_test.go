//go:build linux || freebsd

package divert

import (
	"testing"

	"github.com/stretchr/testify/require"

	"grimm.is/divert/internal/testutil"
)

// Needs a kernel with divert socket support; gated behind DIVERT_VM_TEST.
func TestOpenRealSocket(t *testing.T) {
	testutil.RequireVM(t)

	s, err := Open(9999)
	require.NoError(t, err)
	defer s.Close()

	require.Greater(t, s.Fd(), 0)
	require.NoError(t, s.Close())
}
