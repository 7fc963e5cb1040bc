// Command supervisor is the CLI entrypoint for the process supervisor: it
// loads a configuration file, prints the resolved program set, and runs
// the supervision engine until an operator signal arrives.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kornnellio/gosv/internal/cgroup"
	"github.com/kornnellio/gosv/internal/config"
	"github.com/kornnellio/gosv/internal/logging"
	"github.com/kornnellio/gosv/internal/supervisor"
)

const defaultConfigPath = "supervisor.conf"

func main() {
	root := &cobra.Command{
		Use:           "supervisor [config-file]",
		Short:         "gosv is a single-host process supervisor",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run,
	}

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	configPath := defaultConfigPath
	if len(args) == 1 {
		configPath = args[0]
	}

	programs, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration file %s: %w", configPath, err)
	}

	sink := logging.Open()
	defer sink.Close()

	fmt.Printf("Loaded %d programs from %s\n\n", len(programs), configPath)
	for _, p := range programs {
		fmt.Println(p.Describe())
		fmt.Println()
		sink.Printf("%s", p.Describe())
	}

	sup := supervisor.New(programs, cgroup.New(), sink.Printf, nil)
	return sup.Run()
}
