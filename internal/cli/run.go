package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"genecall/pkg/cache"
	"genecall/pkg/config"
	"genecall/pkg/pipeline"
	"genecall/pkg/sink"
	"genecall/pkg/tileio"
)

func newRunCmd(flags *rootFlags) *cobra.Command {
	var (
		force bool
		tiles []int
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Calibrate and call genes on every configured tile",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := loggerFromContext(ctx)

			cfg, err := config.LoadConfig(flags.configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("force") {
				cfg.Processing.Force = force
			}
			if len(tiles) > 0 {
				cfg.Input.Tiles = tiles
			}
			if cfg.Output.Verbose {
				logger.SetLevel(log.DebugLevel)
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			c, err := cache.Open(ctx, cache.Options{
				Disabled:  cfg.Cache.Disabled,
				Dir:       cfg.Cache.Dir,
				RedisAddr: cfg.Cache.RedisAddr,
			})
			if err != nil {
				return fmt.Errorf("opening cache: %w", err)
			}
			defer c.Close()

			out, err := openSink(ctx, cfg)
			if err != nil {
				return err
			}
			defer out.Close(context.WithoutCancel(ctx))

			runner, err := pipeline.NewRunner(cfg, pipeline.Options{
				Loader: tileio.Loader{
					Dir:        cfg.Input.TileDir,
					Rounds:     cfg.Input.Rounds,
					Channels:   cfg.Input.Channels,
					PixelShift: cfg.Input.PixelShift,
					NumWorkers: cfg.Processing.NumWorkers,
				},
				Cache:  c,
				Sink:   out,
				Logger: logger,
				Progress: func(completed, total int, message string) {
					logger.Debug(message, "done", completed, "of", total)
				},
			})
			if err != nil {
				return err
			}

			summary, err := runner.Run(ctx)
			if err != nil {
				return err
			}

			spots := 0
			for _, t := range summary.Tiles {
				spots += t.Records
			}
			logger.Infof("Gene calling completed in %s", summary.Duration.Round(time.Millisecond))
			logger.Info("Summary", "tiles", len(summary.Tiles), "skipped", len(summary.Skipped), "spots", spots)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "reprocess tiles that already have output")
	cmd.Flags().IntSliceVar(&tiles, "tiles", nil, "tiles to process (overrides input.tiles)")
	return cmd
}

// openSink selects MongoDB when a URI is configured, otherwise per-tile files.
func openSink(ctx context.Context, cfg *config.Config) (sink.TileSink, error) {
	if cfg.Output.MongoURI != "" {
		s, err := sink.NewMongoSink(ctx, cfg.Output.MongoURI, cfg.Output.MongoDB)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	s, err := sink.NewFileSink(cfg.Output.Dir)
	if err != nil {
		return nil, err
	}
	return s, nil
}
