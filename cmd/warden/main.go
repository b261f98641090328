package main

import (
	"fmt"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	if os.Args[1] == "-h" || os.Args[1] == "--help" || os.Args[1] == "help" {
		printUsage()
		os.Exit(0)
	}
	if os.Args[1] == "--version" {
		fmt.Println(versionLine())
		os.Exit(0)
	}

	switch os.Args[1] {
	case "watch":
		os.Exit(watchCmd(os.Args[2:]))
	case "arbitrate":
		os.Exit(arbitrateCmd(os.Args[2:]))
	case "version":
		fmt.Println(versionLine())
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`warden

Keeps a training run honest and the GPU busy.

Usage:
  warden <command> [flags]

Commands:
  watch        Monitor training health and alert on crash, stall, or completion
  arbitrate    Launch eval runs whenever training leaves the GPU idle
  version      Show version
  help         Show this message

Flags (both commands):
  --config     Path to the YAML config file (default warden.yaml)
  --once       Run a single cycle and exit

Examples:
  warden watch --config /etc/warden/warden.yaml
  warden arbitrate --config /etc/warden/warden.yaml
  warden watch --once    # one health check, useful from cron or a shell

Notes:
  - watch and arbitrate are independent processes; run one of each per host.
  - Config changes are picked up live; an invalid edit keeps the last good config.

Run 'warden <command> -h' for flag details.`)
}
