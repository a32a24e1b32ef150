package firewall

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeControlSocket records setsockopt calls and injects failures.
type fakeControlSocket struct {
	calls  []controlCall
	failOn map[string]error // keyed by chain label of the record
	closed int
}

type controlCall struct {
	code  int
	value []byte
}

func (s *fakeControlSocket) SetOption(code int, value []byte) error {
	s.calls = append(s.calls, controlCall{code: code, value: append([]byte(nil), value...)})
	chain := recordChain(code, value)
	if err, ok := s.failOn[chain]; ok && code == IPFwInsert {
		return err
	}
	return nil
}

func (s *fakeControlSocket) Close() error {
	s.closed++
	return nil
}

// recordChain extracts the chain label from an encoded record.
func recordChain(code int, value []byte) string {
	off := offNewLabel
	if code == IPFwDeleteNum {
		off = offDelLabel
	}
	label := value[off:]
	for i, b := range label {
		if b == 0 {
			return string(label[:i])
		}
	}
	return string(label)
}

func newFakeDriver(t *testing.T, ctl *fakeControlSocket) *LinuxDriver {
	t.Helper()
	return NewLinuxDriver(
		func() (ControlSocket, error) { return ctl, nil },
		nil,
		testLogger(),
	)
}

func TestLinuxInstallDirectionIn(t *testing.T) {
	ctl := &fakeControlSocket{}
	d := newFakeDriver(t, ctl)

	spec := mustSpec(t, "eth0", "9999", "100", "6", "10.0.0.0/8", "80-80", "0.0.0.0/0", "", "in")
	installed, err := d.Install(spec)
	require.NoError(t, err)

	require.Len(t, ctl.calls, 1)
	call := ctl.calls[0]
	assert.Equal(t, IPFwInsert, call.code)
	assert.Equal(t, ChainInput, recordChain(call.code, call.value))

	rule := installed.(*linuxRule)
	require.Len(t, rule.slots, 1)
	assert.Equal(t, linuxSlot{chain: ChainInput, ruleNumber: 100}, rule.slots[0])
}

func TestLinuxInstallDirectionBothInsertsTwoSlots(t *testing.T) {
	ctl := &fakeControlSocket{}
	d := newFakeDriver(t, ctl)

	spec := mustSpec(t, "eth0", "9999", "100", "1", "10.0.0.0/8", "0.0.0.0/0")
	installed, err := d.Install(spec)
	require.NoError(t, err)

	require.Len(t, ctl.calls, 2)
	assert.Equal(t, ChainOutput, recordChain(ctl.calls[0].code, ctl.calls[0].value))
	assert.Equal(t, ChainInput, recordChain(ctl.calls[1].code, ctl.calls[1].value))

	rule := installed.(*linuxRule)
	assert.Len(t, rule.slots, 2)
}

func TestLinuxInstallPartialFailureRollsBack(t *testing.T) {
	// Output chain inserts fine, input chain is refused: the output slot
	// must be deleted and the control socket closed before returning.
	ctl := &fakeControlSocket{failOn: map[string]error{ChainInput: errors.New("EPERM")}}
	d := newFakeDriver(t, ctl)

	spec := mustSpec(t, "eth0", "9999", "100", "1", "10.0.0.0/8", "0.0.0.0/0")
	installed, err := d.Install(spec)

	assert.Nil(t, installed)
	require.ErrorIs(t, err, ErrInstallFailed)

	require.Len(t, ctl.calls, 3)
	assert.Equal(t, IPFwInsert, ctl.calls[0].code)
	assert.Equal(t, IPFwInsert, ctl.calls[1].code)
	assert.Equal(t, IPFwDeleteNum, ctl.calls[2].code)
	assert.Equal(t, ChainOutput, recordChain(ctl.calls[2].code, ctl.calls[2].value))
	assert.Equal(t, 1, ctl.closed)
}

func TestLinuxInstallControlSocketFailure(t *testing.T) {
	d := NewLinuxDriver(
		func() (ControlSocket, error) { return nil, errors.New("EPERM") },
		nil,
		testLogger(),
	)

	installed, err := d.Install(mustSpec(t, "eth0", "9999", "100", "1", "10.0.0.0/8", "0.0.0.0/0"))
	assert.Nil(t, installed)
	assert.ErrorIs(t, err, ErrInstallFailed)
}

func TestLinuxInstallDeviceCheckFailure(t *testing.T) {
	opened := false
	d := NewLinuxDriver(
		func() (ControlSocket, error) { opened = true; return &fakeControlSocket{}, nil },
		func(name string) error { return errors.New("no such interface") },
		testLogger(),
	)

	installed, err := d.Install(mustSpec(t, "eth99", "9999", "100", "1", "10.0.0.0/8", "0.0.0.0/0"))
	assert.Nil(t, installed)
	assert.ErrorIs(t, err, ErrInstallFailed)
	assert.False(t, opened, "control socket must not be opened when device check fails")
}

func TestLinuxInstallRejectsWideRuleNumber(t *testing.T) {
	ctl := &fakeControlSocket{}
	d := newFakeDriver(t, ctl)

	installed, err := d.Install(mustSpec(t, "eth0", "9999", "70000", "1", "10.0.0.0/8", "0.0.0.0/0"))
	assert.Nil(t, installed)
	assert.ErrorIs(t, err, ErrInstallFailed)
	assert.Empty(t, ctl.calls)
}

func TestLinuxUninstallDeletesAllSlotsAndCloses(t *testing.T) {
	ctl := &fakeControlSocket{}
	d := newFakeDriver(t, ctl)

	spec := mustSpec(t, "eth0", "9999", "100", "1", "10.0.0.0/8", "0.0.0.0/0")
	installed, err := d.Install(spec)
	require.NoError(t, err)
	ctl.calls = nil

	d.Uninstall(installed)

	require.Len(t, ctl.calls, 2)
	for _, call := range ctl.calls {
		assert.Equal(t, IPFwDeleteNum, call.code)
		assert.Equal(t, uint32(100), uint32(binary.NativeEndian.Uint16(call.value[offDelRuleNum:])))
	}
	assert.Equal(t, ChainOutput, recordChain(ctl.calls[0].code, ctl.calls[0].value))
	assert.Equal(t, ChainInput, recordChain(ctl.calls[1].code, ctl.calls[1].value))
	assert.Equal(t, 1, ctl.closed)
}

func TestEncodeInsertLayout(t *testing.T) {
	spec := mustSpec(t, "eth0", "9999", "100", "6", "10.0.0.0/8", "80-90", "192.168.1.0/24", "1024-2048", "in")
	rec := EncodeInsert(spec, ChainInput)

	require.Len(t, rec, sizeofIPFwNew)

	assert.Equal(t, uint16(100), binary.NativeEndian.Uint16(rec[offNewRuleNum:]))

	fw := rec[offNewRule:]
	assert.Equal(t, []byte{10, 0, 0, 0}, fw[offSrc:offSrc+4])
	assert.Equal(t, []byte{192, 168, 1, 0}, fw[offDst:offDst+4])
	assert.Equal(t, []byte{255, 0, 0, 0}, fw[offSrcMask:offSrcMask+4])
	assert.Equal(t, []byte{255, 255, 255, 0}, fw[offDstMask:offDstMask+4])
	assert.Equal(t, uint16(6), binary.NativeEndian.Uint16(fw[offProto:]))
	assert.Equal(t, uint16(80), binary.NativeEndian.Uint16(fw[offSrcPorts:]))
	assert.Equal(t, uint16(90), binary.NativeEndian.Uint16(fw[offSrcPorts+2:]))
	assert.Equal(t, uint16(1024), binary.NativeEndian.Uint16(fw[offDstPorts:]))
	assert.Equal(t, uint16(2048), binary.NativeEndian.Uint16(fw[offDstPorts+2:]))

	// The redirect port alone is in network byte order.
	assert.Equal(t, uint16(9999), binary.BigEndian.Uint16(fw[offRedirPort:]))

	assert.Equal(t, "eth0", cString(fw[offViaName:offViaName+ifNameSize]))
	assert.Equal(t, PolicyDivert, cString(rec[offNewRule+offUserLabel:offNewRule+offUserLabel+labelSize]))
	assert.Equal(t, ChainInput, cString(rec[offNewLabel:offNewLabel+labelSize]))
}

func TestEncodeDeleteLayout(t *testing.T) {
	rec := EncodeDelete(ChainOutput, 42)
	require.Len(t, rec, sizeofIPFwDel)
	assert.Equal(t, uint16(42), binary.NativeEndian.Uint16(rec[offDelRuleNum:]))
	assert.Equal(t, ChainOutput, cString(rec[offDelLabel:offDelLabel+labelSize]))
}

func TestCopyCStringTruncates(t *testing.T) {
	var buf [4]byte
	copyCString(buf[:], "abcdef")
	assert.Equal(t, []byte{'a', 'b', 'c', 0}, buf[:])
}

func cString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
