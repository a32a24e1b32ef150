package cmd

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"grimm.is/divert/internal/brand"
	"grimm.is/divert/internal/config"
	"grimm.is/divert/internal/firewall"
)

// RunCheck validates the configuration file syntax and semantics.
func RunCheck(configFile string, verbose bool) error {
	if len(configFile) == 0 {
		return fmt.Errorf("usage: %s check [-v] <config-file>", brand.BinaryName)
	}

	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("configuration invalid: %w", err)
	}

	fmt.Printf("Configuration valid!\n")
	fmt.Printf("Divert elements: %d\n", len(cfg.Diverts))

	if verbose {
		fmt.Println()
		printSummary(cfg)
	}
	return nil
}

func printSummary(cfg *config.Config) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)

	fmt.Fprintln(w, "NAME\tDEVICE\tPORT\tRULE\tPROTO\tDIRECTION")
	for i := range cfg.Diverts {
		d := &cfg.Diverts[i]
		spec, err := d.Spec()
		if err != nil {
			// Load already validated; only reachable if the file changed
			// between parse and print.
			fmt.Fprintf(w, "%s\t%v\n", d.Name, err)
			continue
		}
		dir := string(spec.Direction)
		if dir == "" {
			dir = "both"
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%s\n",
			d.Name, spec.Device, spec.DivertPort, spec.RuleNumber, spec.Protocol, dir)
	}
	fmt.Fprintln(w)
	w.Flush()

	fmt.Println("Equivalent ipfw rules:")
	for i := range cfg.Diverts {
		d := &cfg.Diverts[i]
		spec, err := d.Spec()
		if err != nil {
			continue
		}
		fmt.Printf("  ipfw %s\n", strings.Join(firewall.IpfwAddArgs(spec), " "))
	}
}
