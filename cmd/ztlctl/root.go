// Command ztlctl is a thin operator CLI over the ztl façade: each
// subcommand opens an Engine against a TOML-configured device, issues one
// call, and closes it again — it exists for scripting and manual
// diagnostics, not as a long-running service.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ehrlich-b/ztl/internal/config"
	"github.com/ehrlich-b/ztl/internal/logging"
)

var (
	configPath string
	verbose    bool
)

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "ztlctl",
		Short:         "Operate a zone translation layer device",
		Long:          "ztlctl — init, write, read, trim, finish, stat, and replay against a ztl device.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level := logrus.InfoLevel
			if verbose {
				level = logrus.DebugLevel
			}
			logging.SetDefault(logging.New(&logging.Config{Level: level, Output: os.Stderr}))
			return nil
		},
	}

	pflags := rootCmd.PersistentFlags()
	pflags.StringVarP(&configPath, "config", "c", "", "path to a ztl TOML config file (required)")
	pflags.BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(newInitCmd())
	rootCmd.AddCommand(newWriteCmd())
	rootCmd.AddCommand(newReadCmd())
	rootCmd.AddCommand(newTrimCmd())
	rootCmd.AddCommand(newFinishCmd())
	rootCmd.AddCommand(newStatCmd())
	rootCmd.AddCommand(newReplayCmd())

	return rootCmd
}

// loadConfig reads the --config file, required by every subcommand,
// stat included (stat reads the config but never opens a device).
func loadConfig() (config.Config, error) {
	if configPath == "" {
		return config.Config{}, fmt.Errorf("--config is required")
	}
	return config.Load(configPath)
}

func Execute() error {
	return newRootCmd().Execute()
}

func main() {
	if err := Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "ztlctl:", err)
		os.Exit(1)
	}
}
