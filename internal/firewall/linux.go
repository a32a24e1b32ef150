package firewall

import (
	"encoding/binary"
	"fmt"

	"grimm.is/divert/internal/config"
	"grimm.is/divert/internal/logging"
)

// Control codes and record layouts from linux/ip_fw.h. Rules are written
// with setsockopt(IPPROTO_IP, <code>, <record>) on a raw control socket.
const (
	ipFwBaseCtl   = 64
	IPFwDeleteNum = ipFwBaseCtl + 2 // delete rule by (chain, number)
	IPFwInsert    = ipFwBaseCtl + 4 // insert rule at number

	// PolicyDivert is the policy label that makes matching packets land
	// on the divert socket bound to fw_redirpt.
	PolicyDivert = "DIVERT"

	ChainInput  = "input"
	ChainOutput = "output"

	ifNameSize = 16 // IFNAMSIZ
	labelSize  = 9  // IP_FW_MAX_LABEL_LENGTH + NUL

	// struct ip_fw field offsets
	offSrc        = 0
	offDst        = 4
	offSrcMask    = 8
	offDstMask    = 12
	offMark       = 16
	offProto      = 20
	offFlags      = 22
	offInvFlags   = 24
	offSrcPorts   = 26
	offDstPorts   = 30
	offRedirPort  = 34
	offOutputSize = 36
	offViaName    = 38
	offTosAnd     = 54
	offTosXor     = 55
	sizeofIPFw    = 56

	// struct ip_fwuser: ip_fw followed by the policy label, padded to
	// 4-byte alignment.
	offUserLabel   = sizeofIPFw
	sizeofIPFwUser = 68

	// struct ip_fwnew: u16 rule number, 2 bytes padding, ip_fwuser,
	// chain label, padded to 4-byte alignment.
	offNewRuleNum = 0
	offNewRule    = 4
	offNewLabel   = offNewRule + sizeofIPFwUser
	sizeofIPFwNew = 84

	// struct ip_fwdelnum: u16 rule number, chain label.
	offDelRuleNum = 0
	offDelLabel   = 2
	sizeofIPFwDel = 12
)

// ControlSocket is the raw socket the Linux backend writes rule records
// through. The real implementation opens AF_INET/SOCK_RAW/IPPROTO_RAW.
type ControlSocket interface {
	SetOption(code int, value []byte) error
	Close() error
}

// LinuxDriver inserts divert rules via the ip_fw control interface.
// Direction "both" claims one slot in each of the input and output
// chains; a partial insert is rolled back before Install returns.
type LinuxDriver struct {
	openControl func() (ControlSocket, error)
	checkDevice func(name string) error
	log         *logging.Logger
}

// NewLinuxDriver creates an ip_fw-backed driver. checkDevice may be nil.
func NewLinuxDriver(openControl func() (ControlSocket, error), checkDevice func(string) error, log *logging.Logger) *LinuxDriver {
	return &LinuxDriver{
		openControl: openControl,
		checkDevice: checkDevice,
		log:         log.WithComponent("ip_fw"),
	}
}

// linuxSlot identifies one inserted chain entry.
type linuxSlot struct {
	chain      string
	ruleNumber uint32
}

// linuxRule is the teardown token: the inserted slots plus the control
// socket they were written through.
type linuxRule struct {
	slots []linuxSlot
	ctl   ControlSocket
}

func (*linuxRule) installedRule() {}

// chainsFor maps a rule direction onto the chains to populate.
func chainsFor(dir config.Direction) []string {
	switch dir {
	case config.DirectionIn:
		return []string{ChainInput}
	case config.DirectionOut:
		return []string{ChainOutput}
	default:
		return []string{ChainOutput, ChainInput}
	}
}

// Install validates the device, opens the control socket and inserts one
// record per chain. Any insertion failure deletes the slots inserted so
// far, closes the socket and reports ErrInstallFailed.
func (d *LinuxDriver) Install(spec *config.RuleSpec) (InstalledRule, error) {
	if spec.RuleNumber > 0xFFFF {
		return nil, fmt.Errorf("%w: rule number %d exceeds ip_fw limit", ErrInstallFailed, spec.RuleNumber)
	}
	if d.checkDevice != nil {
		if err := d.checkDevice(spec.Device); err != nil {
			return nil, fmt.Errorf("%w: device %s: %v", ErrInstallFailed, spec.Device, err)
		}
	}

	ctl, err := d.openControl()
	if err != nil {
		return nil, fmt.Errorf("%w: control socket: %v", ErrInstallFailed, err)
	}

	var slots []linuxSlot
	for _, chain := range chainsFor(spec.Direction) {
		rec := EncodeInsert(spec, chain)
		if err := ctl.SetOption(IPFwInsert, rec); err != nil {
			d.rollback(ctl, slots)
			ctl.Close()
			return nil, fmt.Errorf("%w: could not set %s firewall rule: %v", ErrInstallFailed, chain, err)
		}
		d.log.Debug("inserted divert rule", "chain", chain, "rule", spec.RuleNumber)
		slots = append(slots, linuxSlot{chain: chain, ruleNumber: spec.RuleNumber})
	}

	return &linuxRule{slots: slots, ctl: ctl}, nil
}

// rollback deletes already-inserted slots after a partial install.
// Best effort: failures are logged and ignored.
func (d *LinuxDriver) rollback(ctl ControlSocket, slots []linuxSlot) {
	for _, s := range slots {
		if err := ctl.SetOption(IPFwDeleteNum, EncodeDelete(s.chain, s.ruleNumber)); err != nil {
			d.log.Warn("rollback: could not remove firewall rule", "chain", s.chain, "rule", s.ruleNumber, "err", err.Error())
		}
	}
}

// Uninstall deletes each stored slot by number and closes the control
// socket. Delete failures are logged only.
func (d *LinuxDriver) Uninstall(r InstalledRule) {
	rule, ok := r.(*linuxRule)
	if !ok {
		d.log.Error("uninstall called with foreign rule token", "type", fmt.Sprintf("%T", r))
		return
	}
	for _, s := range rule.slots {
		if err := rule.ctl.SetOption(IPFwDeleteNum, EncodeDelete(s.chain, s.ruleNumber)); err != nil {
			d.log.Warn("could not remove firewall rule", "chain", s.chain, "rule", s.ruleNumber, "err", err.Error())
		}
	}
	if err := rule.ctl.Close(); err != nil {
		d.log.Warn("could not close control socket", "err", err.Error())
	}
}

// EncodeInsert builds the ip_fwnew record for one chain. Multi-byte
// fields are native-endian as the kernel reads them in place; the
// redirect port alone is kept in network byte order.
func EncodeInsert(spec *config.RuleSpec, chain string) []byte {
	buf := make([]byte, sizeofIPFwNew)
	binary.NativeEndian.PutUint16(buf[offNewRuleNum:], uint16(spec.RuleNumber))

	fw := buf[offNewRule : offNewRule+sizeofIPFw]
	copy(fw[offSrc:], spec.Src.Addr.To4())
	copy(fw[offDst:], spec.Dst.Addr.To4())
	copy(fw[offSrcMask:], spec.Src.Mask)
	copy(fw[offDstMask:], spec.Dst.Mask)
	binary.NativeEndian.PutUint16(fw[offProto:], uint16(spec.Protocol))
	if spec.SrcPorts != nil {
		binary.NativeEndian.PutUint16(fw[offSrcPorts:], spec.SrcPorts.Lo)
		binary.NativeEndian.PutUint16(fw[offSrcPorts+2:], spec.SrcPorts.Hi)
	}
	if spec.DstPorts != nil {
		binary.NativeEndian.PutUint16(fw[offDstPorts:], spec.DstPorts.Lo)
		binary.NativeEndian.PutUint16(fw[offDstPorts+2:], spec.DstPorts.Hi)
	}
	binary.BigEndian.PutUint16(fw[offRedirPort:], spec.DivertPort)
	copyCString(fw[offViaName:offViaName+ifNameSize], spec.Device)

	copyCString(buf[offNewRule+offUserLabel:offNewRule+offUserLabel+labelSize], PolicyDivert)
	copyCString(buf[offNewLabel:offNewLabel+labelSize], chain)
	return buf
}

// EncodeDelete builds the ip_fwdelnum record for delete-by-number.
func EncodeDelete(chain string, ruleNumber uint32) []byte {
	buf := make([]byte, sizeofIPFwDel)
	binary.NativeEndian.PutUint16(buf[offDelRuleNum:], uint16(ruleNumber))
	copyCString(buf[offDelLabel:offDelLabel+labelSize], chain)
	return buf
}

// copyCString copies s into dst, truncating to leave a trailing NUL.
func copyCString(dst []byte, s string) {
	n := copy(dst[:len(dst)-1], s)
	for i := n; i < len(dst); i++ {
		dst[i] = 0
	}
}
