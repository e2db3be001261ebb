package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/realSUDO/Auralia/internal/audio"
	"github.com/realSUDO/Auralia/internal/bot"
	"github.com/realSUDO/Auralia/internal/discovery"
	"github.com/realSUDO/Auralia/internal/player"
	"github.com/realSUDO/Auralia/internal/sys"
	"github.com/realSUDO/Auralia/internal/voice"
	"github.com/realSUDO/Auralia/internal/ytdlp"
)

const shutdownTimeout = 15 * time.Second

func runBot(cmd *cobra.Command, _ []string) error {
	release, err := acquireLock(pidFile)
	if err != nil {
		return err
	}
	defer release()

	// 1. Global context that responds to shutdown signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	defer stop()
	sys.SetAppContext(ctx)

	// 2. Database
	if err := sys.InitDatabase(ctx, cfg.DatabasePath); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer sys.CloseDatabase()

	botName := sys.GetProjectName()
	if name, _, err := sys.GetBotUsername(ctx, cfg.Token); err == nil {
		botName = name
	} else {
		sys.LogError(sys.MsgBotUsernameFail, err)
	}
	sys.LogInfo(sys.MsgBotStarting, botName)

	// 3. Discord client
	client, err := sys.CreateClient(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to create Discord client: %w", err)
	}
	defer client.Close(context.Background())

	// 4. Playback stack
	yt := ytdlp.New(proxy)
	pipeline := audio.NewPipeline(yt)
	preloader := player.NewPreloader(cfg.CacheDir, yt, nil)
	if _, err := preloader.Prepare(); err != nil {
		return fmt.Errorf("failed to prepare cache %s: %w", cfg.CacheDir, err)
	}

	connector := voice.NewConnector(client)
	presence := voice.NewPresence(client)
	notifier := voice.NewNotifier(voice.RestSender(client))
	notifier.Status = connector.SetStatus

	manager := player.NewManager(player.Deps{
		Connector: connector,
		Presence:  presence,
		Decoder:   pipeline,
		Resolver:  pipeline,
		Preloader: preloader,
		Notifier:  notifier,
	}, player.Options{
		AloneTimeout: cfg.Player.AloneTimeout.Duration,
		JoinTimeout:  cfg.Player.JoinTimeout.Duration,
		SeekSettle:   cfg.Player.SeekSettle.Duration,
	})

	cards := bot.NewCards(manager, bot.RestMessenger(client.Rest))
	notifier.NowPlaying = cards.Show

	var spotify *discovery.Spotify
	if cfg.SpotifyEnabled() {
		spotify = discovery.NewSpotify(ctx, cfg.SpotifyID, cfg.SpotifySecret)
	}
	resolver := discovery.New(yt, discovery.Options{Spotify: spotify, Probe: pipeline.Duration})

	// 5. Commands
	bot.New(manager, resolver, presence, cards, bot.Options{
		Prefix:   cfg.Prefix,
		CacheDir: cfg.CacheDir,
		Voice:    connector,
		Latency: func() time.Duration {
			if client.Gateway == nil {
				return 0
			}
			return client.Gateway.Latency()
		},
	}).Register()

	if !skipReg {
		if err := sys.RegisterCommands(ctx, client, cfg.GuildID, clearAll); err != nil {
			sys.LogError(sys.MsgBotRegisterFail, err)
		}
	} else {
		sys.LogInfo("Skipping command registration as requested.")
	}

	sys.RegisterDaemon("cache watcher", sys.LogPreload, func(ctx context.Context) (bool, func(), func()) {
		return true, func() {
			if err := preloader.Watch(ctx); err != nil {
				sys.LogComponentWarn("preload", sys.MsgPreloadWatchFailed, err)
			}
		}, nil
	})

	// 6. Gateway
	if err := client.OpenGateway(ctx); err != nil {
		return fmt.Errorf("failed to open gateway: %w", err)
	}

	<-ctx.Done()
	if !silent {
		fmt.Println()
	}
	sys.LogInfo(sys.MsgBotShutdown, botName)

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	manager.Shutdown(sctx)
	cards.Close(sctx)
	notifier.Close(sctx)
	preloader.Wait()
	sys.ShutdownDaemons()
	return nil
}
