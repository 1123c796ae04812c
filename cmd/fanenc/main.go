// Command fanenc post-processes a G-code file, replacing M106/M107 fan
// commands with M300-encoded acoustic beep sequences back-dated by a
// configurable lead time (spec §4.2).
package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/pflag"

	"github.com/DrLex0/MightyVariableFan/internal/encoder"
	"github.com/DrLex0/MightyVariableFan/internal/fanconfig"
)

func main() {
	var configFile = pflag.StringP("config-file", "c", "", "Optional YAML configuration file (defaults as per spec §4.4).")
	var output = pflag.StringP("output", "o", "", "Output file. Defaults to stdout.")
	var leadTime = pflag.Float64P("lead-time", "t", 0, "Lead time in seconds. 0 uses the configured default.")
	var allowSplit = pflag.BoolP("split-moves", "s", false, "Allow splitting a move to fit a beep sequence's lead time. Risks a visible seam in the print; off by default.")
	var emitTimes = pflag.BoolP("emit-times", "T", false, "Append cumulative elapsed-time comments to each line, strftime-formatted.")
	var debug = pflag.BoolP("debug", "d", false, "Enable debug logging.")
	var help = pflag.BoolP("help", "h", false, "Display help text.")

	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "%s - encode fan-speed changes as acoustic beep sequences in a G-code file.\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nUsage: fanenc [options] [input-file]\n\n")
		pflag.PrintDefaults()
	}
	pflag.Parse()

	if *help {
		pflag.Usage()
		os.Exit(0)
	}
	if *debug {
		log.SetLevel(log.DebugLevel)
	}

	cfg, err := fanconfig.Load(*configFile)
	if err != nil {
		log.Fatal("loading configuration", "err", err)
	}

	in := os.Stdin
	if len(pflag.Args()) > 0 {
		f, err := os.Open(pflag.Arg(0)) //nolint:gosec
		if err != nil {
			log.Fatal("opening input file", "err", err)
		}
		defer f.Close()
		in = f
	}

	out := os.Stdout
	if *output != "" {
		f, err := os.Create(*output) //nolint:gosec
		if err != nil {
			log.Fatal("creating output file", "err", err)
		}
		defer f.Close()
		out = f
	}

	opts := encoder.DefaultOptions()
	opts.LeadTime = *leadTime
	opts.AllowSplit = *allowSplit
	opts.EmitTimes = *emitTimes

	result, err := encoder.Run(cfg, opts, in, out)
	if err != nil {
		log.Fatal("encoding G-code", "err", err)
	}

	log.Info("encoding complete",
		"events_encoded", result.EventsEncoded,
		"events_suppressed", result.EventsSuppressed,
		"events_postponed", result.EventsPostponed,
		"lines_replaced", result.LinesReplaced)
	if result.LegacyFanWarning {
		log.Warn("legacy M126/M127 fan commands were found and passed through unmodified")
	}
}
