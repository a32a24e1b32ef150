package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// IP protocol numbers that unlock port filtering.
const (
	ProtoTCP = 6
	ProtoUDP = 17
)

// Direction selects which traffic the divert rule matches.
type Direction string

const (
	DirectionBoth Direction = ""
	DirectionIn   Direction = "in"
	DirectionOut  Direction = "out"
)

// PortRange is an inclusive port interval.
type PortRange struct {
	Lo, Hi uint16
}

// String renders the range the way ipfw expects: "80" or "80-90".
func (r PortRange) String() string {
	if r.Lo == r.Hi {
		return strconv.Itoa(int(r.Lo))
	}
	return fmt.Sprintf("%d-%d", r.Lo, r.Hi)
}

// Prefix is an IPv4 address/mask pair.
type Prefix struct {
	Addr net.IP
	Mask net.IPMask
}

// String renders the prefix in CIDR form.
func (p Prefix) String() string {
	ones, _ := p.Mask.Size()
	return fmt.Sprintf("%s/%d", p.Addr, ones)
}

// MaskString renders the mask as a dotted quad, as ipfw wants it.
func (p Prefix) MaskString() string {
	return net.IP(p.Mask).String()
}

// IsZero reports whether the address part is all-zero.
func (p Prefix) IsZero() bool {
	return p.Addr.Equal(net.IPv4zero)
}

// IsAny reports whether the prefix matches everything (0.0.0.0/0).
func (p Prefix) IsAny() bool {
	ones, _ := p.Mask.Size()
	return p.IsZero() && ones == 0
}

// RuleSpec is the validated, backend-neutral description of a divert rule.
// It is immutable after Configure.
type RuleSpec struct {
	Device     string
	DivertPort uint16
	RuleNumber uint32
	Protocol   uint8
	Src        Prefix
	Dst        Prefix
	SrcPorts   *PortRange
	DstPorts   *PortRange
	Direction  Direction
}

// HasPortProtocol reports whether the protocol admits port filtering.
func (s *RuleSpec) HasPortProtocol() bool {
	return s.Protocol == ProtoTCP || s.Protocol == ProtoUDP
}

// String renders the spec for diagnostics.
func (s *RuleSpec) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "rule %d divert %d proto %d from %s", s.RuleNumber, s.DivertPort, s.Protocol, s.Src)
	if s.SrcPorts != nil {
		fmt.Fprintf(&b, " ports %s", s.SrcPorts)
	}
	fmt.Fprintf(&b, " to %s", s.Dst)
	if s.DstPorts != nil {
		fmt.Fprintf(&b, " ports %s", s.DstPorts)
	}
	if s.Direction != DirectionBoth {
		fmt.Fprintf(&b, " %s", s.Direction)
	}
	fmt.Fprintf(&b, " via %s", s.Device)
	return b.String()
}

// ConfigError describes a rejected configuration token sequence.
// Pos is the offending token index, or -1 for arity errors.
type ConfigError struct {
	Pos int
	Msg string
}

func (e *ConfigError) Error() string {
	if e.Pos < 0 {
		return e.Msg
	}
	return fmt.Sprintf("token %d: %s", e.Pos, e.Msg)
}

func configErrorf(pos int, format string, args ...any) *ConfigError {
	return &ConfigError{Pos: pos, Msg: fmt.Sprintf(format, args...)}
}

// ParseRuleTokens parses the positional configuration surface:
//
//	device divert_port rule_number protocol src_prefix [src_ports] dst_prefix [dst_ports] [direction]
//
// Tokens 0..4 are fixed. A later token is a port range only when the
// protocol is TCP or UDP and the token has port-range shape; otherwise the
// remaining positions slide left. For other protocols a token with valid
// port-range shape is an error.
func ParseRuleTokens(tokens []string) (*RuleSpec, error) {
	if len(tokens) < 6 {
		return nil, configErrorf(-1, "not enough parameters: got %d, want at least 6", len(tokens))
	}
	if len(tokens) > 9 {
		return nil, configErrorf(-1, "too many parameters: got %d, want at most 9", len(tokens))
	}

	spec := &RuleSpec{}

	if tokens[0] == "" {
		return nil, configErrorf(0, "empty device name")
	}
	spec.Device = tokens[0]

	port, err := strconv.ParseUint(tokens[1], 10, 16)
	if err != nil || port == 0 {
		return nil, configErrorf(1, "bad divert port %q", tokens[1])
	}
	spec.DivertPort = uint16(port)

	ruleNum, err := strconv.ParseUint(tokens[2], 10, 32)
	if err != nil || ruleNum == 0 {
		return nil, configErrorf(2, "bad rule number %q", tokens[2])
	}
	spec.RuleNumber = uint32(ruleNum)

	proto, err := strconv.ParseUint(tokens[3], 10, 8)
	if err != nil {
		return nil, configErrorf(3, "bad protocol %q", tokens[3])
	}
	spec.Protocol = uint8(proto)

	spec.Src, err = parsePrefix(tokens[4])
	if err != nil {
		return nil, configErrorf(4, "bad src prefix %q: %v", tokens[4], err)
	}
	if spec.Src.IsZero() {
		return nil, configErrorf(4, "invalid src addr")
	}

	if !spec.HasPortProtocol() && len(tokens) > 7 {
		return nil, configErrorf(-1, "too many parameters for non TCP/UDP rule")
	}

	// Token 5: src ports only for TCP/UDP and only when port-shaped.
	idx := 5
	pr, shaped, prErr := parsePortRange(tokens[5])
	if spec.HasPortProtocol() {
		if shaped {
			if prErr != nil {
				return nil, configErrorf(5, "%v", prErr)
			}
			spec.SrcPorts = pr
			idx = 6
		}
	} else if shaped && prErr == nil {
		return nil, configErrorf(5, "ports not required for non TCP/UDP rules")
	}

	if idx >= len(tokens) {
		return nil, configErrorf(-1, "missing dst prefix")
	}
	spec.Dst, err = parsePrefix(tokens[idx])
	if err != nil {
		return nil, configErrorf(idx, "bad dst prefix %q: %v", tokens[idx], err)
	}
	// An all-zero dst is only legal as the catch-all 0.0.0.0/0.
	if spec.Dst.IsZero() && !spec.Dst.IsAny() {
		return nil, configErrorf(idx, "invalid dst addr")
	}
	idx++

	// Dst ports. When a direction token still follows, this slot is the
	// dst-ports position; an empty token marks it explicitly absent.
	if len(tokens)-idx >= 2 {
		tok := tokens[idx]
		if tok != "" {
			pr, shaped, prErr := parsePortRange(tok)
			if !shaped || prErr != nil {
				return nil, configErrorf(idx, "bad dst ports %q", tok)
			}
			if !spec.HasPortProtocol() {
				return nil, configErrorf(idx, "ports not required for non TCP/UDP rules")
			}
			spec.DstPorts = pr
		}
		idx++
	} else if idx < len(tokens) {
		pr, shaped, prErr := parsePortRange(tokens[idx])
		if shaped {
			if spec.HasPortProtocol() {
				if prErr != nil {
					return nil, configErrorf(idx, "%v", prErr)
				}
				spec.DstPorts = pr
				idx++
			} else if prErr == nil {
				return nil, configErrorf(idx, "ports not required for non TCP/UDP rules")
			}
		}
	}

	// Direction.
	if idx < len(tokens) {
		switch Direction(tokens[idx]) {
		case DirectionBoth, DirectionIn, DirectionOut:
			spec.Direction = Direction(tokens[idx])
		default:
			return nil, configErrorf(idx, "illegal direction specifier: %q", tokens[idx])
		}
		idx++
	}

	if idx != len(tokens) {
		return nil, configErrorf(idx, "unexpected trailing parameter %q", tokens[idx])
	}

	return spec, nil
}

// parsePortRange parses "N" or "N-M". shaped reports whether the token has
// port-range shape at all; err is set when the shape is right but the
// values are out of range or reversed.
func parsePortRange(s string) (pr *PortRange, shaped bool, err error) {
	if s == "" {
		return nil, false, nil
	}
	loStr, hiStr, dash := strings.Cut(s, "-")
	if !isDigits(loStr) || (dash && !isDigits(hiStr)) {
		return nil, false, nil
	}
	lo, err := strconv.ParseUint(loStr, 10, 64)
	if err != nil {
		return nil, true, fmt.Errorf("bad port %q", loStr)
	}
	hi := lo
	if dash {
		hi, err = strconv.ParseUint(hiStr, 10, 64)
		if err != nil {
			return nil, true, fmt.Errorf("bad port %q", hiStr)
		}
	}
	if lo > 0xFFFF || hi > 0xFFFF {
		return nil, true, fmt.Errorf("port(s) %d-%d out of range", lo, hi)
	}
	if lo > hi {
		return nil, true, fmt.Errorf("reversed port range %d-%d", lo, hi)
	}
	return &PortRange{Lo: uint16(lo), Hi: uint16(hi)}, true, nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// parsePrefix parses "a.b.c.d/len" or a bare "a.b.c.d" (treated as /32).
// Only IPv4 is supported; divert sockets are an IPv4 facility.
func parsePrefix(s string) (Prefix, error) {
	addrStr, lenStr, hasLen := strings.Cut(s, "/")

	ip := net.ParseIP(addrStr)
	if ip == nil || ip.To4() == nil {
		return Prefix{}, fmt.Errorf("not an IPv4 address")
	}
	ip = ip.To4()

	bits := 32
	if hasLen {
		n, err := strconv.Atoi(lenStr)
		if err != nil || n < 0 || n > 32 {
			return Prefix{}, fmt.Errorf("bad prefix length %q", lenStr)
		}
		bits = n
	}

	return Prefix{Addr: ip, Mask: net.CIDRMask(bits, 32)}, nil
}
