package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"genecall/pkg/cache"
	"genecall/pkg/config"
)

func newCacheCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage cached calibration artefacts",
	}
	cmd.AddCommand(newCacheClearCmd(flags))
	return cmd
}

func newCacheClearCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove every cached calibration artefact",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := config.LoadConfig(flags.configPath)
			if err != nil {
				return err
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

			clearer, ok := c.(cache.Clearer)
			if !ok {
				loggerFromContext(ctx).Info("Cache is disabled, nothing to clear")
				return nil
			}
			if err := clearer.Clear(ctx); err != nil {
				return fmt.Errorf("clearing cache: %w", err)
			}
			loggerFromContext(ctx).Info("Cache cleared")
			return nil
		},
	}
}
