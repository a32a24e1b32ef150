package testutil

import (
	"os"
	"testing"
)

// RequireVM skips the test if the DIVERT_VM_TEST environment variable is
// not set. Tests needing real kernel capabilities (divert sockets, the
// ip_fw rule table) only run in the proper environment.
func RequireVM(t *testing.T) {
	t.Helper()
	if os.Getenv("DIVERT_VM_TEST") == "" {
		t.Skip("Skipping test: requires DIVERT_VM_TEST environment")
	}
}
