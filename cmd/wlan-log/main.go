// Command wlan-log is a tool for viewing and analyzing firmware protocol
// trace files.
//
// Trace files are written by wlanctl when started with the -trace flag, or
// by any program that sets device.Config.ProtocolLogger to a
// log.FileLogger.
//
// Usage:
//
//	wlan-log <command> [flags] <file.cbor>
//
// Commands:
//
//	view     View trace file in human-readable format
//	filter   Filter trace file and write to new file
//	stats    Show statistics about the trace file
//
// Examples:
//
//	# View all events
//	wlan-log view wlan.cbor
//
//	# View only command traffic on interface 1
//	wlan-log view -layer command -iface 1 wlan.cbor
//
//	# Follow connection attempts
//	wlan-log view -op connect,reconnect wlan.cbor
//
//	# Keep one session's errors
//	wlan-log filter -session 5f1c0a9e -category error -o errors.cbor wlan.cbor
//
//	# Show statistics
//	wlan-log stats wlan.cbor
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/wlanfw/wlanfw-go/cmd/wlan-log/commands"
)

const usage = `wlan-log - Firmware Trace Analyzer

Usage:
  wlan-log <command> [flags] <file.cbor>

Commands:
  view     View trace file in human-readable format
  filter   Filter trace file and write to new file
  stats    Show statistics about the trace file

Use "wlan-log <command> -help" for more information about a command.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "view":
		runView(args)
	case "filter":
		runFilter(args)
	case "stats":
		runStats(args)
	case "-h", "-help", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}
}

// filterFlags registers the shared filter flags on fs.
func filterFlags(fs *flag.FlagSet) *commands.FilterFlags {
	var f commands.FilterFlags
	fs.StringVar(&f.Layer, "layer", "", "Filter by layer (transport, command, event, driver)")
	fs.StringVar(&f.Direction, "direction", "", "Filter by direction (in, out)")
	fs.StringVar(&f.Category, "category", "", "Filter by category (message, state, error)")
	fs.StringVar(&f.Session, "session", "", "Filter by session ID")
	fs.StringVar(&f.Interface, "iface", "", "Filter by interface index")
	fs.StringVar(&f.Opcode, "op", "", "Filter commands by opcode name (comma-separated)")
	fs.StringVar(&f.Event, "event", "", "Filter firmware events by name (comma-separated)")
	fs.StringVar(&f.TimeStart, "time-start", "", "Filter by start time (RFC3339)")
	fs.StringVar(&f.TimeEnd, "time-end", "", "Filter by end time (RFC3339)")
	return &f
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

func requirePath(fs *flag.FlagSet) string {
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Error: trace file path required")
		fs.Usage()
		os.Exit(1)
	}
	return fs.Arg(0)
}

func runView(args []string) {
	fs := flag.NewFlagSet("view", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `wlan-log view - View trace file in human-readable format

Usage:
  wlan-log view [flags] <file.cbor>

Flags:
`)
		fs.PrintDefaults()
	}
	filter := filterFlags(fs)

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	path := requirePath(fs)

	if err := commands.RunView(path, *filter, os.Stdout); err != nil {
		fail(err)
	}
}

func runFilter(args []string) {
	fs := flag.NewFlagSet("filter", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `wlan-log filter - Filter trace file and write to new file

Usage:
  wlan-log filter [flags] <file.cbor>

Flags:
`)
		fs.PrintDefaults()
	}
	output := fs.String("o", "", "Output file (required)")
	filter := filterFlags(fs)

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	path := requirePath(fs)
	if *output == "" {
		fmt.Fprintln(os.Stderr, "Error: output file (-o) required")
		fs.Usage()
		os.Exit(1)
	}

	n, err := commands.RunFilter(path, *output, *filter)
	if err != nil {
		fail(err)
	}
	fmt.Printf("Filtered %d events to %s\n", n, *output)
}

func runStats(args []string) {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `wlan-log stats - Show statistics about the trace file

Usage:
  wlan-log stats <file.cbor>

`)
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	path := requirePath(fs)

	if err := commands.RunStats(path, os.Stdout); err != nil {
		fail(err)
	}
}
