package config

import (
	"fmt"
	"os"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
)

// evalContext provides symbolic names usable in config expressions, so a
// block can say `protocol = tcp` instead of `protocol = 6`.
func evalContext() *hcl.EvalContext {
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"ip":   cty.NumberIntVal(0),
			"icmp": cty.NumberIntVal(1),
			"tcp":  cty.NumberIntVal(ProtoTCP),
			"udp":  cty.NumberIntVal(ProtoUDP),
		},
	}
}

// Load reads and validates a daemon configuration file.
func Load(path string) (*Config, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(src, path)
}

// Parse decodes HCL source and validates the result.
func Parse(src []byte, filename string) (*Config, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("parse %s: %s", filename, diags.Error())
	}

	var cfg Config
	diags = gohcl.DecodeBody(file.Body, evalContext(), &cfg)
	if diags.HasErrors() {
		return nil, fmt.Errorf("decode %s: %s", filename, diags.Error())
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-block constraints and that every divert block
// yields a parseable rule spec.
func (c *Config) Validate() error {
	names := make(map[string]bool)
	ruleNums := make(map[uint32]string)

	for i := range c.Diverts {
		d := &c.Diverts[i]
		if d.Name == "" {
			return fmt.Errorf("divert block %d: empty name", i)
		}
		if names[d.Name] {
			return fmt.Errorf("divert %q: duplicate name", d.Name)
		}
		names[d.Name] = true

		spec, err := d.Spec()
		if err != nil {
			return fmt.Errorf("divert %q: %w", d.Name, err)
		}

		// The kernel rule table is shared; each element must claim a
		// distinct rule number.
		if other, ok := ruleNums[spec.RuleNumber]; ok {
			return fmt.Errorf("divert %q: rule number %d already used by %q", d.Name, spec.RuleNumber, other)
		}
		ruleNums[spec.RuleNumber] = d.Name
	}

	if c.Log != nil {
		switch c.Log.Level {
		case "", "debug", "info", "warn", "error":
		default:
			return fmt.Errorf("log: unknown level %q", c.Log.Level)
		}
	}

	return nil
}
