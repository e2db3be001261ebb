package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/realSUDO/Auralia/internal/sys"
)

var (
	silent   bool
	skipReg  bool
	clearAll bool
	logFile  bool
	proxy    string

	cfg *sys.Config
)

var rootCmd = &cobra.Command{
	Use:   "auralia",
	Short: "Discord music bot",
	Long:  `Auralia plays music from YouTube, YouTube Music, Spotify links and uploaded files in Discord voice channels.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initConfig()
	},
	RunE:         runBot,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&silent, "silent", false, "disable all log output")
	rootCmd.PersistentFlags().BoolVar(&logFile, "log-file", true, "also write logs next to the executable")
	rootCmd.Flags().BoolVar(&skipReg, "skip-reg", false, "skip command registration")
	rootCmd.Flags().BoolVar(&clearAll, "clear-all", false, "force clear guild commands (scan all guilds)")
	rootCmd.Flags().StringVar(&proxy, "proxy", "", "proxy URL handed to yt-dlp")

	rootCmd.AddCommand(cacheCmd)
}

func initConfig() error {
	var err error
	cfg, err = sys.LoadConfig()
	if err != nil {
		return fmt.Errorf(sys.MsgConfigFailedToLoad, err)
	}
	sys.InitLogger(silent || cfg.Silent, logFile)
	return nil
}
