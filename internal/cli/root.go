// Package cli implements the genecall command-line interface.
//
// # Commands
//
//   - run: calibrate and call genes on every configured tile
//   - config init: write a default configuration file
//   - config validate: check a configuration file
//   - cache clear: drop cached calibration artefacts
//
// All commands accept --config (default genecall.yaml) and --verbose. The
// logger is attached to the command context and read with loggerFromContext.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X genecall/internal/cli.version=..."
var version = "dev"

// Execute runs the genecall CLI.
func Execute(ctx context.Context) error {
	return newRootCmd().ExecuteContext(ctx)
}

// rootFlags are shared by every subcommand.
type rootFlags struct {
	configPath string
	verbose    bool
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:          "genecall",
		Short:        "genecall decodes multiplexed fluorescence images into gene spots",
		Long:         `genecall calibrates a bleed matrix and spot shape from reference spots, decomposes every pixel into gene signatures by orthogonal matching pursuit and writes quality-gated gene spots per tile.`,
		Version:      version,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := log.InfoLevel
			if flags.verbose {
				level = log.DebugLevel
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			cmd.SetContext(withLogger(ctx, newLogger(os.Stderr, level)))
		},
	}

	root.SetVersionTemplate(fmt.Sprintf("genecall %s\n", version))
	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "genecall.yaml", "configuration file")
	root.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "enable verbose logging")

	root.AddCommand(newRunCmd(flags))
	root.AddCommand(newConfigCmd(flags))
	root.AddCommand(newCacheCmd(flags))

	return root
}
