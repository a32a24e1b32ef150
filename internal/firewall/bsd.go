package firewall

import (
	"fmt"
	"strconv"

	"grimm.is/divert/internal/config"
	"grimm.is/divert/internal/logging"
)

// ipfwPath is where the BSD firewall control binary lives.
const ipfwPath = "/sbin/ipfw"

// BSDDriver installs divert rules by invoking ipfw. The command-line
// contract is the whole interface; a non-zero exit status is the only
// failure signal the kernel gives us here.
type BSDDriver struct {
	runner CommandRunner
	log    *logging.Logger
}

// NewBSDDriver creates an ipfw-backed driver.
func NewBSDDriver(runner CommandRunner, log *logging.Logger) *BSDDriver {
	if runner == nil {
		runner = DefaultCommandRunner
	}
	return &BSDDriver{
		runner: runner,
		log:    log.WithComponent("ipfw"),
	}
}

// bsdRule is the teardown token: ipfw deletes by rule number.
type bsdRule struct {
	ruleNumber uint32
}

func (*bsdRule) installedRule() {}

// Install adds a single divert rule:
//
//	ipfw add <n> divert <port> <proto> from <src>:<mask> [sports] to <dst>:<mask> [dports] [dir] via <dev>
func (d *BSDDriver) Install(spec *config.RuleSpec) (InstalledRule, error) {
	args := IpfwAddArgs(spec)
	d.log.Debug("installing divert rule", "args", fmt.Sprint(args))

	if err := d.runner.Run(ipfwPath, args...); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInstallFailed, err)
	}
	return &bsdRule{ruleNumber: spec.RuleNumber}, nil
}

// Uninstall removes the rule by number. Failures are logged only;
// teardown always proceeds.
func (d *BSDDriver) Uninstall(r InstalledRule) {
	rule, ok := r.(*bsdRule)
	if !ok {
		d.log.Error("uninstall called with foreign rule token", "type", fmt.Sprintf("%T", r))
		return
	}
	args := []string{"delete", strconv.FormatUint(uint64(rule.ruleNumber), 10)}
	if err := d.runner.Run(ipfwPath, args...); err != nil {
		d.log.Warn("could not remove firewall rule", "rule", rule.ruleNumber, "err", err.Error())
	}
}

// IpfwAddArgs renders the ipfw argument vector for a rule spec.
// Exported so `divertd check` can preview the exact command.
func IpfwAddArgs(spec *config.RuleSpec) []string {
	proto := "ip"
	if spec.Protocol != 0 {
		proto = strconv.Itoa(int(spec.Protocol))
	}

	args := []string{
		"add", strconv.FormatUint(uint64(spec.RuleNumber), 10),
		"divert", strconv.FormatUint(uint64(spec.DivertPort), 10),
		proto,
		"from", spec.Src.Addr.String() + ":" + spec.Src.MaskString(),
	}
	if spec.SrcPorts != nil {
		args = append(args, spec.SrcPorts.String())
	}
	args = append(args, "to", spec.Dst.Addr.String()+":"+spec.Dst.MaskString())
	if spec.DstPorts != nil {
		args = append(args, spec.DstPorts.String())
	}
	if spec.Direction != config.DirectionBoth {
		args = append(args, string(spec.Direction))
	}
	return append(args, "via", spec.Device)
}
