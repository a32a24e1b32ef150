package main

import (
	"flag"
	"fmt"
	"os"

	"grimm.is/divert/cmd"
	"grimm.is/divert/internal/brand"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "run":
		runFlags := flag.NewFlagSet("run", flag.ExitOnError)
		configFile := runFlags.String("config", brand.DefaultConfigFile(), "Configuration file")
		runFlags.StringVar(configFile, "c", brand.DefaultConfigFile(), "Configuration file (short)")
		runFlags.Parse(os.Args[2:])

		if err := cmd.Run(*configFile); err != nil {
			fmt.Fprintf(os.Stderr, "Run failed: %v\n", err)
			os.Exit(1)
		}

	case "check":
		checkFlags := flag.NewFlagSet("check", flag.ExitOnError)
		verbose := checkFlags.Bool("verbose", false, "Verbose output")
		checkFlags.BoolVar(verbose, "v", false, "Verbose output (short)")
		checkFlags.Parse(os.Args[2:])

		configFile := brand.DefaultConfigFile()
		if len(checkFlags.Args()) > 0 {
			configFile = checkFlags.Arg(0)
		}

		if err := cmd.RunCheck(configFile, *verbose); err != nil {
			fmt.Fprintf(os.Stderr, "Check failed: %v\n", err)
			os.Exit(1)
		}

	case "version":
		fmt.Printf("%s version %s\n", brand.Name, brand.Version)
		fmt.Printf("Build: %s\n", brand.BuildTime)

	case "help", "-h", "--help":
		printUsage()

	default:
		fmt.Printf("Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Printf(`%s - %s

Usage:
  %s <command> [options]

Commands:
  run       Run the divert daemon in the foreground
            Options: --config (-c) <file>
  check     Validate configuration file
            Options: --verbose (-v)
  version   Print version information

Examples:
  %s run --config /etc/divert/divert.hcl
  %s check -v /etc/divert/divert.hcl
`,
		brand.Name, brand.Description,
		brand.LowerName,
		brand.LowerName, brand.LowerName)
}
