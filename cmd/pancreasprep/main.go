package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"

	"pancreasprep/internal/logging"
	"pancreasprep/pkg/config"
)

// command is one subcommand of the tool.
type command struct {
	name    string
	summary string
	run     func(ctx context.Context, e *env, args []string) error
}

// env carries what every subcommand needs.
type env struct {
	cfg    *config.Config
	logger *logging.Logger
}

var commands = []command{
	{"convert", "convert a DICOM series directory into one NIfTI volume", runConvert},
	{"resample", "resample a volume onto an isotropic grid", runResample},
	{"edt", "compute the Euclidean distance fields of a case", runEDT},
	{"gdt", "compute the geodesic distance field of a case", runGDT},
	{"manifest", "collect the dataset into manifest files", runManifest},
	{"sample", "draw samples from the manifests", runSample},
	{"preview", "save slice images of a volume", runPreview},
	{"init-config", "write a default configuration file", runInitConfig},
}

func usage() {
	out := flag.CommandLine.Output()
	fmt.Fprintf(out, "Usage: %s [-config FILE] [-v] <command> [flags]\n\nCommands:\n", os.Args[0])
	for _, c := range commands {
		fmt.Fprintf(out, "  %-12s %s\n", c.name, c.summary)
	}
	fmt.Fprintln(out, "\nGlobal flags:")
	flag.PrintDefaults()
}

func main() {
	// Parse command line arguments
	configPath := flag.String("config", "config.yaml", "Configuration file (defaults are used when it does not exist)")
	verbose := flag.Bool("v", false, "Verbose logging")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *verbose {
		cfg.Output.Verbose = true
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	e := &env{
		cfg:    cfg,
		logger: logging.New(cfg.Output.LogFormat, cfg.Output.Verbose),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	name, args := flag.Arg(0), flag.Args()[1:]
	for _, c := range commands {
		if c.name != name {
			continue
		}
		if err := c.run(ctx, e, args); err != nil {
			log.Fatalf("%s failed: %v", name, err)
		}
		return
	}

	fmt.Fprintf(os.Stderr, "unknown command %q\n\n", name)
	flag.Usage()
	os.Exit(1)
}
