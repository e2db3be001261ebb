package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/realSUDO/Auralia/internal/player"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the preload cache",
}

var cacheCleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove leftover preloaded files",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := player.NewPreloader(cfg.CacheDir, nil, nil).Prepare()
		if err != nil {
			return fmt.Errorf("failed to clean %s: %w", cfg.CacheDir, err)
		}
		if n == 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "Nothing to clean in %s\n", cfg.CacheDir)
		}
		return nil
	},
}

func init() {
	cacheCmd.AddCommand(cacheCleanCmd)
}
