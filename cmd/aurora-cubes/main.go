// Command aurora-cubes drives CASA to build a spectral-line cube and its
// moment maps from a calibrated measurement set.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/banshee-data/aurora.cubes/internal/version"
)

const program = "aurora-cubes"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run dispatches a subcommand and returns the process exit code.
func run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		printUsage(stderr)
		return 2
	}

	command, rest := args[0], args[1:]
	var err error
	switch command {
	case "run":
		err = handleRun(rest, stdout, stderr)
	case "plan":
		err = handlePlan(rest, stdout, stderr)
	case "script":
		err = handleScript(rest, stdout, stderr)
	case "verify":
		err = handleVerify(rest, stdout, stderr)
	case "quicklook":
		err = handleQuicklook(rest, stdout, stderr)
	case "history":
		err = handleHistory(rest, stdout, stderr)
	case "serve":
		err = handleServe(rest, stdout, stderr)
	case "migrate":
		err = handleMigrate(rest, stdout, stderr)
	case "version":
		fmt.Fprintln(stdout, version.String(program))
	case "help", "-h", "--help":
		printUsage(stdout)
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n\n", command)
		printUsage(stderr)
		return 2
	}

	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, `aurora-cubes - build CO spectral-line cubes and moment maps with CASA

Usage: aurora-cubes <command> [options]

Commands:
  run        Clean the cube, make moment maps and export them to FITS
  plan       Print the derived threshold, channel count and file names
  script     Write the equivalent CASA script
  verify     Check exported FITS products against the configuration
  quicklook  Render the spectrum and moment-0 histogram of exported products
  history    List recorded runs
  serve      Serve the run ledger debug pages
  migrate    Manage the run ledger schema (up, down, status)
  version    Show aurora-cubes version
  help       Show this help message

Common Flags:
  --config <file>      JSON cube configuration (default: built-in defaults)
  --workdir <dir>      Directory CASA runs in and writes products to (default: .)
  --db <file>          Run ledger (default: aurora.db)

Run Flags:
  --casa <path>        CASA executable (default: casa)
  --target <host>      Host to run CASA on (default: localhost)
                       Can be a hostname, IP, user@host or SSH config alias
  --ssh-user <user>    SSH user for a remote target
  --ssh-key <path>     SSH private key for a remote target
  --dry-run            Log the CASA calls without executing them
  --no-verify          Skip FITS product verification
  --quicklook          Render quicklook plots after the run
  --debug              Enable debug logging

Examples:
  # Derived parameters for a configuration
  aurora-cubes plan --config cube.json

  # Full run in the imaging directory
  aurora-cubes run --config cube.json --workdir ./imaging --quicklook

  # Run on a remote CASA host defined in ~/.ssh/config
  aurora-cubes run --config cube.json --target casa --workdir /data/aurora/imaging`)
}
