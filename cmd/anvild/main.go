package main

import (
	"os"

	fmt "github.com/jhunt/go-ansi"
	"github.com/jhunt/go-cli"
	env "github.com/jhunt/go-envirotron"
	"github.com/jhunt/go-log"

	// sql drivers
	_ "github.com/mattn/go-sqlite3"

	"github.com/anvilproject/anvil/core"
)

var Version = "(development)"

var opts struct {
	Help    bool `cli:"-h, --help"`
	Version bool `cli:"-v, --version"`

	ConfigFile string `cli:"-c, --config" env:"ANVILD_CONFIG"`
	Log        string `cli:"-l, --log-level" env:"ANVILD_LOG_LEVEL"`
}

func main() {
	opts.Log = "info"
	env.Override(&opts)
	_, args, err := cli.Parse(&opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "@R{!!! %s}\n", err)
		os.Exit(1)
	}
	if len(args) != 0 {
		fmt.Fprintf(os.Stderr, "@R{!!! extra arguments found}\n")
		os.Exit(1)
	}

	if opts.Help {
		fmt.Printf("anvild - The ANVIL fleet control daemon\n\n")
		fmt.Printf("Options\n")
		fmt.Printf("  -h, --help       Show this help screen.\n")
		fmt.Printf("  -v, --version    Display the ANVIL version.\n")
		fmt.Printf("\n")
		fmt.Printf("  -c, --config     Path to the anvild configuration file.\n")
		fmt.Printf("  -l, --log-level  What messages to log (error, warning, info, or debug).\n")
		fmt.Printf("\n")
		os.Exit(0)
	}

	if opts.Version {
		if Version == "" || Version == "dev" {
			fmt.Printf("anvild (development)\n")
		} else {
			fmt.Printf("anvild v%s\n", Version)
		}
		os.Exit(0)
	}

	if opts.ConfigFile == "" {
		fmt.Fprintf(os.Stderr, "@R{!!! no configuration file supplied; please try again with -c/--config}\n")
		os.Exit(1)
	}

	log.SetupLogging(log.LogConfig{Type: "console", Level: opts.Log})
	log.Infof("starting anvil core daemon")

	core.Version = Version
	c, err := core.NewCore(opts.ConfigFile)
	if err != nil {
		log.Alertf("unable to configure anvil core: %s", err)
		os.Exit(1)
	}

	c.Main()
}
