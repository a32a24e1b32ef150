// Package config holds the daemon configuration: the positional rule
// token surface consumed by divert elements, and the HCL file format the
// daemon is started from.
package config

import "strconv"

// Config is the top-level structure for the daemon configuration.
type Config struct {
	Log     *LogConfig     `hcl:"log,block"`
	Metrics *MetricsConfig `hcl:"metrics,block"`
	Diverts []DivertBlock  `hcl:"divert,block"`
}

// LogConfig controls daemon logging.
type LogConfig struct {
	Level string `hcl:"level,optional"` // debug, info, warn, error
	JSON  bool   `hcl:"json,optional"`
}

// MetricsConfig controls the Prometheus exposition endpoint.
type MetricsConfig struct {
	Listen string `hcl:"listen,optional"` // e.g. "127.0.0.1:9477"; empty disables
}

// DivertBlock describes one divert element. The fields mirror the
// positional token sequence; optional fields left empty are simply
// omitted from it.
type DivertBlock struct {
	Name       string `hcl:"name,label"`
	Device     string `hcl:"device"`
	DivertPort uint16 `hcl:"divert_port"`
	RuleNumber uint32 `hcl:"rule_number"`
	Protocol   uint16 `hcl:"protocol"`
	Src        string `hcl:"src"`
	SrcPorts   string `hcl:"src_ports,optional"`
	Dst        string `hcl:"dst"`
	DstPorts   string `hcl:"dst_ports,optional"`
	Direction  string `hcl:"direction,optional"`
}

// Tokens renders the block as the positional token sequence the rule
// parser consumes. When dst_ports is absent but a direction is given, an
// empty placeholder keeps the direction in its slot.
func (d *DivertBlock) Tokens() []string {
	tokens := []string{
		d.Device,
		strconv.FormatUint(uint64(d.DivertPort), 10),
		strconv.FormatUint(uint64(d.RuleNumber), 10),
		strconv.FormatUint(uint64(d.Protocol), 10),
		d.Src,
	}
	if d.SrcPorts != "" {
		tokens = append(tokens, d.SrcPorts)
	}
	tokens = append(tokens, d.Dst)
	if d.DstPorts != "" {
		tokens = append(tokens, d.DstPorts)
	} else if d.Direction != "" && d.SrcPorts != "" {
		tokens = append(tokens, "")
	}
	if d.Direction != "" {
		tokens = append(tokens, d.Direction)
	}
	return tokens
}

// Spec parses the block into a validated RuleSpec.
func (d *DivertBlock) Spec() (*RuleSpec, error) {
	return ParseRuleTokens(d.Tokens())
}
