package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const checkSample = `
divert "web" {
  device      = "eth0"
  divert_port = 9999
  rule_number = 100
  protocol    = tcp
  src         = "10.0.0.0/8"
  src_ports   = "80"
  dst         = "0.0.0.0/0"
  direction   = "in"
}
`

func writeConfig(t *testing.T, src string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "divert.hcl")
	require.NoError(t, os.WriteFile(path, []byte(src), 0o644))
	return path
}

func TestRunCheckValid(t *testing.T) {
	path := writeConfig(t, checkSample)
	assert.NoError(t, RunCheck(path, false))
	assert.NoError(t, RunCheck(path, true))
}

func TestRunCheckInvalid(t *testing.T) {
	path := writeConfig(t, `divert "x" { device = "eth0" }`)
	err := RunCheck(path, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "configuration invalid")
}

func TestRunCheckMissingFile(t *testing.T) {
	err := RunCheck(filepath.Join(t.TempDir(), "nope.hcl"), false)
	assert.Error(t, err)
}

func TestRunCheckNoPath(t *testing.T) {
	err := RunCheck("", false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "usage")
}
