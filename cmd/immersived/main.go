package main

import (
	"fmt"
	"os"

	"github.com/bhandras/immersive/internal/config"
	"github.com/bhandras/immersive/pkg/logger"
	"github.com/spf13/cobra"
)

// Version is stamped at build time with -ldflags "-X main.Version=...".
var Version = "dev"

type rootCommand struct {
	configPath string
	logLevel   string
	debug      bool

	cfg *config.Config
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &rootCommand{}
	cmd := &cobra.Command{
		Use:           "immersived",
		Short:         "Immersive session controller",
		Long:          "immersived decides when the browser may leave flat mode, enter the spatial runtime and hand the rendering surface to a page.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return root.load(cmd)
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&root.configPath, "config", "c", "", "YAML config file (default $IMMERSIVE_CONFIG)")
	flags.StringVar(&root.logLevel, "log-level", "", "log level: trace, debug, info, warn, error")
	flags.BoolVar(&root.debug, "debug", false, "enable debug logging and gin debug mode")

	cmd.AddCommand(
		newServeCommand(root),
		newProbeCommand(root),
		newFeedbackCommand(root),
		newVersionCommand(),
	)
	return cmd
}

// load resolves configuration once flags are parsed and applies the logging
// settings.
func (r *rootCommand) load(cmd *cobra.Command) error {
	var overrides config.Overrides
	if r.configPath != "" {
		overrides.ConfigPath = &r.configPath
	}
	if cmd.Flags().Changed("log-level") {
		overrides.LogLevel = &r.logLevel
	}
	if cmd.Flags().Changed("debug") {
		overrides.Debug = &r.debug
	}

	cfg, err := config.Load(overrides)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger.SetLevel(cfg.Level())
	logger.SetJSON(cfg.LogJSON)
	r.cfg = cfg
	return nil
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		// No config needed.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "immersived %s\n", Version)
		},
	}
}
