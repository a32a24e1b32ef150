package divert

import (
	"fmt"

	"grimm.is/divert/internal/clock"
	"grimm.is/divert/internal/config"
	"grimm.is/divert/internal/firewall"
	"grimm.is/divert/internal/host"
	"grimm.is/divert/internal/logging"
)

// State is the element lifecycle state. Dead is absorbing.
type State int

const (
	StateUnconfigured State = iota
	StateConfigured
	StateLive
	StateDead
)

func (s State) String() string {
	switch s {
	case StateUnconfigured:
		return "unconfigured"
	case StateConfigured:
		return "configured"
	case StateLive:
		return "live"
	case StateDead:
		return "dead"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Deps are the collaborators an element runs against. Zero fields get
// production defaults; tests inject fakes.
type Deps struct {
	Driver     firewall.Driver
	Allocator  host.Allocator
	Output     host.OutputPort
	Registrar  host.Registrar
	Reporter   host.ErrorReporter
	Clock      clock.Clock
	Log        *logging.Logger
	OpenSocket func(port uint16) (*Socket, error)
}

// Element is the divert packet source. It holds the invariant that the
// firewall rule exists if and only if the socket is open and registered
// for readiness.
type Element struct {
	name string
	log  *logging.Logger

	driver     firewall.Driver
	alloc      host.Allocator
	output     host.OutputPort
	registrar  host.Registrar
	reporter   host.ErrorReporter
	clk        clock.Clock
	openSocket func(port uint16) (*Socket, error)

	state     State
	spec      *config.RuleSpec
	installed firewall.InstalledRule
	sock      *Socket
}

// NewElement creates an element in the Unconfigured state.
func NewElement(name string, deps Deps) *Element {
	if deps.Log == nil {
		deps.Log = logging.Default()
	}
	log := deps.Log.WithComponent("divert." + name)
	if deps.Allocator == nil {
		deps.Allocator = host.HeapAllocator{}
	}
	if deps.Clock == nil {
		deps.Clock = &clock.RealClock{}
	}
	if deps.Reporter == nil {
		deps.Reporter = &host.LogReporter{Log: log}
	}
	if deps.OpenSocket == nil {
		deps.OpenSocket = Open
	}
	return &Element{
		name:       name,
		log:        log,
		driver:     deps.Driver,
		alloc:      deps.Allocator,
		output:     deps.Output,
		registrar:  deps.Registrar,
		reporter:   deps.Reporter,
		clk:        deps.Clock,
		openSocket: deps.OpenSocket,
	}
}

// Name returns the element name.
func (e *Element) Name() string {
	return e.name
}

// State returns the current lifecycle state.
func (e *Element) State() State {
	return e.state
}

// Spec returns the configured rule spec, or nil before Configure.
func (e *Element) Spec() *config.RuleSpec {
	return e.spec
}

// Configure parses the positional token sequence. On failure the element
// stays Unconfigured and no resources are touched.
func (e *Element) Configure(tokens []string) error {
	if e.state != StateUnconfigured {
		err := fmt.Errorf("%s: configure in state %s", e.name, e.state)
		e.reporter.Report(err)
		return err
	}
	spec, err := config.ParseRuleTokens(tokens)
	if err != nil {
		err = fmt.Errorf("%s: %w", e.name, err)
		e.reporter.Report(err)
		return err
	}
	e.spec = spec
	e.state = StateConfigured
	e.log.Debug("configured", "rule", spec.String())
	return nil
}

// Initialize acquires, in order: the divert socket, the firewall rule,
// the readiness registration. If any step fails the earlier acquisitions
// are released in reverse before the error is reported, so a firewall
// rule never outlives a failed start.
func (e *Element) Initialize() error {
	if e.state != StateConfigured {
		err := fmt.Errorf("%s: initialize in state %s", e.name, e.state)
		e.reporter.Report(err)
		return err
	}

	sock, err := e.openSocket(e.spec.DivertPort)
	if err != nil {
		err = fmt.Errorf("%s: %w", e.name, err)
		e.reporter.Report(err)
		return err
	}

	installed, err := e.driver.Install(e.spec)
	if err != nil {
		sock.Close()
		err = fmt.Errorf("%s: %w", e.name, err)
		e.reporter.Report(err)
		return err
	}

	if err := e.registrar.AddSelect(sock.Fd(), e); err != nil {
		e.driver.Uninstall(installed)
		sock.Close()
		err = fmt.Errorf("%s: register for read: %w", e.name, err)
		e.reporter.Report(err)
		return err
	}

	e.sock = sock
	e.installed = installed
	e.state = StateLive
	e.log.Info("divert source live", "rule", e.spec.String(), "fd", sock.Fd())
	return nil
}

// Selected is the readiness callback: one receive, at most one push.
// Callbacks for descriptors we do not own are ignored, as are receive
// errors other than "would block" (logged, element stays live).
func (e *Element) Selected(fd int) {
	if e.state != StateLive || fd != e.sock.Fd() {
		return
	}
	p, err := e.sock.RecvOne(e.alloc, e.clk)
	if err != nil {
		e.log.Error("receive failed", "err", err.Error())
		return
	}
	if p != nil {
		e.output.Push(p)
	}
}

// Uninitialize releases everything in LIFO order: deregister readiness,
// uninstall the firewall rule, close the socket. Idempotent; always
// lands in Dead.
func (e *Element) Uninitialize() {
	if e.state == StateDead {
		return
	}
	if e.state == StateLive {
		if err := e.registrar.RemoveSelect(e.sock.Fd()); err != nil {
			e.log.Warn("deregister failed", "err", err.Error())
		}
		e.driver.Uninstall(e.installed)
		if err := e.sock.Close(); err != nil {
			e.log.Warn("close failed", "err", err.Error())
		}
		e.sock = nil
		e.installed = nil
	}
	e.state = StateDead
	e.log.Debug("dead")
}
