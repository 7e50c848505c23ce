package main

import (
	"os"

	fmt "github.com/jhunt/go-ansi"
	"github.com/jhunt/go-cli"
	env "github.com/jhunt/go-envirotron"
	"github.com/jhunt/go-log"

	"github.com/anvilproject/anvil/agent"
)

var Version = "(development)"

var opts struct {
	Help    bool `cli:"-h, --help"`
	Version bool `cli:"-v, --version"`

	ConfigFile string `cli:"-c, --config" env:"ANVIL_AGENT_CONFIG"`
	Log        string `cli:"-l, --log-level" env:"ANVIL_AGENT_LOG_LEVEL"`
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
		fmt.Printf("anvil-agent - The ANVIL rack agent\n\n")
		fmt.Printf("Options\n")
		fmt.Printf("  -h, --help       Show this help screen.\n")
		fmt.Printf("  -v, --version    Display the ANVIL version.\n")
		fmt.Printf("\n")
		fmt.Printf("  -c, --config     Path to the anvil-agent configuration file.\n")
		fmt.Printf("  -l, --log-level  What messages to log (error, warning, info, or debug).\n")
		fmt.Printf("\n")
		os.Exit(0)
	}

	if opts.Version {
		if Version == "" || Version == "dev" {
			fmt.Printf("anvil-agent (development)\n")
		} else {
			fmt.Printf("anvil-agent v%s\n", Version)
		}
		os.Exit(0)
	}

	log.SetupLogging(log.LogConfig{Type: "console", Level: opts.Log})
	log.Infof("starting anvil rack agent")

	ag := agent.NewAgent()
	ag.Version = Version
	if err := ag.ReadConfig(opts.ConfigFile); err != nil {
		log.Alertf("unable to configure anvil-agent: %s", err)
		os.Exit(1)
	}

	go ag.Ping()
	ag.Run()
}
