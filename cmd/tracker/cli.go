// cmd/tracker/cli.go
package main

import "flag"

// Build-time metadata, settable via ldflags.
var (
	Version   = "0.0.1"
	BuildDate = "unknown"
)

type cliOptions struct {
	configDir  string
	listenAddr string
	version    bool
}

func parseFlags(args []string) (cliOptions, error) {
	var opts cliOptions
	fs := flag.NewFlagSet("tracker", flag.ContinueOnError)
	fs.StringVar(&opts.configDir, "config", ".", "directory containing tracker.cfg.json")
	fs.StringVar(&opts.listenAddr, "listen", ":5050", "address for the viewer/command endpoints")
	fs.BoolVar(&opts.version, "version", false, "print version and exit")
	if err := fs.Parse(args); err != nil {
		return cliOptions{}, err
	}
	return opts, nil
}
